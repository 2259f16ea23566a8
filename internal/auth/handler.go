package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"strings"

	"github.com/gmela/gmela-api/internal/httputil"
	"github.com/gmela/gmela-api/internal/logging"
)

// Handler contains HTTP handlers for the authentication flows.
// Malformed input is rejected here, before the orchestrator runs.
type Handler struct {
	service      *Service
	rateLimiter  RateLimiter
	isProduction bool
}

func NewHandler(service *Service, rateLimiter RateLimiter, isProduction bool) *Handler {
	return &Handler{
		service:      service,
		rateLimiter:  rateLimiter,
		isProduction: isProduction,
	}
}

// RegisterRequest represents the registration request body
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func (r *RegisterRequest) Validate() error {
	if !validEmail(r.Email) {
		return errors.New("Email is required")
	}
	if len(r.Password) < 6 {
		return errors.New("Minimum 6 characters required")
	}
	if r.Name == "" {
		return errors.New("Name is required")
	}
	return nil
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Code        string `json:"code,omitempty"`
	CallbackURL string `json:"callbackUrl,omitempty"`
}

func (r *LoginRequest) Validate() error {
	if !validEmail(r.Email) {
		return errors.New("Email is required")
	}
	if r.Password == "" {
		return errors.New("Password is required")
	}
	return nil
}

// ResetRequest represents the password reset request body
type ResetRequest struct {
	Email string `json:"email"`
}

func (r *ResetRequest) Validate() error {
	if !validEmail(r.Email) {
		return errors.New("Email is required")
	}
	return nil
}

// NewPasswordRequest represents the new password commit body
type NewPasswordRequest struct {
	Password string `json:"password"`
	Token    string `json:"token,omitempty"`
}

func (r *NewPasswordRequest) Validate() error {
	if len(r.Password) < 6 {
		return errors.New("Minimum of 6 characters required")
	}
	return nil
}

// LoginResponse is the login success payload
type LoginResponse struct {
	Success   string `json:"success,omitempty"`
	TwoFactor bool   `json:"twoFactor,omitempty"`
	Redirect  string `json:"redirect,omitempty"`
}

// Register handles user registration
// @Summary      Register a new user
// @Description  Create an unverified account and send a verification email
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body RegisterRequest true "Registration input"
// @Success      200 {object} httputil.SuccessResponse
// @Failure      400 {object} httputil.ErrorResponse
// @Router       /auth/register [post]
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	// Rate limit by IP
	ip := getClientIP(r)
	exceeded, err := h.rateLimiter.CheckIPRateLimitWithPurpose(r.Context(), ip, "register")
	if err != nil {
		logger.Error("failed to check IP rate limit", "error", err.Error())
	} else if exceeded {
		logger.Warn("IP rate limit exceeded for register", "ip", ip)
		httputil.RespondError(w, "too many requests, please try again later", http.StatusTooManyRequests)
		return
	}

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid registration request body", "error", err.Error())
		httputil.RespondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := req.Validate(); err != nil {
		logger.Warn("registration failed: validation error", "error", err.Error())
		httputil.RespondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	logger = logger.WithFields(map[string]any{"email": req.Email})

	if err := h.rateLimiter.RecordIPRequestWithPurpose(r.Context(), ip, "register"); err != nil {
		logger.Error("failed to record IP request", "error", err.Error())
	}

	success, err := h.service.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			logger.Warn("registration failed: email already in use")
			httputil.RespondError(w, err.Error(), http.StatusConflict)
			return
		}
		logger.Error("registration failed: internal error", "error", err.Error())
		httputil.RespondError(w, ErrSomethingWrong.Error(), http.StatusInternalServerError)
		return
	}

	logger.Info("user registered successfully")

	httputil.RespondSuccess(w, success, http.StatusOK)
}

// VerifyEmail handles email verification
// @Summary      Verify email address
// @Description  Consume a verification token and mark the user verified
// @Tags         auth
// @Produce      json
// @Param        token query string true "Verification token"
// @Success      200 {object} httputil.SuccessResponse
// @Failure      400 {object} httputil.ErrorResponse
// @Router       /auth/new-verification [get]
func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		logger.Warn("email verification failed: token missing")
		httputil.RespondError(w, ErrTokenMissing.Error(), http.StatusBadRequest)
		return
	}

	success, err := h.service.NewVerification(r.Context(), tokenStr)
	if err != nil {
		switch {
		case errors.Is(err, ErrTokenUnknown),
			errors.Is(err, ErrTokenHasExpired),
			errors.Is(err, ErrEmailUnknown):
			logger.Warn("email verification failed", "error", err.Error())
			httputil.RespondError(w, err.Error(), http.StatusBadRequest)
		default:
			logger.Error("email verification failed: internal error", "error", err.Error())
			httputil.RespondError(w, ErrSomethingWrong.Error(), http.StatusInternalServerError)
		}
		return
	}

	logger.Info("email verified successfully")

	httputil.RespondSuccess(w, success, http.StatusOK)
}

// Login handles user login, including the two-factor resumption step
// @Summary      User login
// @Description  Authenticate with email/password and an optional two-factor code
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body LoginRequest true "Login credentials"
// @Success      200 {object} LoginResponse
// @Failure      400 {object} httputil.ErrorResponse
// @Failure      401 {object} httputil.ErrorResponse
// @Router       /auth/login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	ip := getClientIP(r)
	exceeded, err := h.rateLimiter.CheckIPRateLimitWithPurpose(r.Context(), ip, "login")
	if err != nil {
		logger.Error("failed to check IP rate limit", "error", err.Error())
	} else if exceeded {
		logger.Warn("IP rate limit exceeded for login", "ip", ip)
		httputil.RespondError(w, "too many requests, please try again later", http.StatusTooManyRequests)
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid login request body", "error", err.Error())
		httputil.RespondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := req.Validate(); err != nil {
		logger.Warn("login failed: validation error", "error", err.Error())
		httputil.RespondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	logger = logger.WithFields(map[string]any{"email": req.Email})

	if err := h.rateLimiter.RecordIPRequestWithPurpose(r.Context(), ip, "login"); err != nil {
		logger.Error("failed to record IP request", "error", err.Error())
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password, req.Code, req.CallbackURL)
	if err != nil {
		switch {
		case errors.Is(err, ErrEmailUnknown),
			errors.Is(err, ErrInvalidCode),
			errors.Is(err, ErrCodeExpired):
			logger.Warn("login failed", "error", err.Error())
			httputil.RespondError(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, ErrWrongCredentials):
			logger.Warn("login failed: invalid credentials")
			httputil.RespondError(w, err.Error(), http.StatusUnauthorized)
		case errors.Is(err, ErrSomethingWrong):
			logger.Error("login failed: provider error")
			httputil.RespondError(w, err.Error(), http.StatusInternalServerError)
		default:
			logger.Error("login failed: internal error", "error", err.Error())
			httputil.RespondError(w, ErrSomethingWrong.Error(), http.StatusInternalServerError)
		}
		return
	}

	switch {
	case result.TwoFactor:
		logger.Info("two-factor code sent")
		httputil.RespondJSON(w, LoginResponse{TwoFactor: true}, http.StatusOK)
	case result.Success != "":
		// Unverified user: a fresh confirmation email, no session.
		logger.Info("verification email re-sent for unverified login")
		httputil.RespondJSON(w, LoginResponse{Success: result.Success}, http.StatusOK)
	default:
		logger.Info("user logged in successfully")
		SetSessionCookie(w, result.Session.Token, result.Session.ExpiresAt, h.isProduction)
		httputil.RespondJSON(w, LoginResponse{
			Success:  "Logged in!",
			Redirect: result.Session.RedirectTo,
		}, http.StatusOK)
	}
}

// ForgotPassword handles password reset requests
// @Summary      Request password reset
// @Description  Send a password reset link to the user's email
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body ResetRequest true "Email address"
// @Success      200 {object} httputil.SuccessResponse
// @Failure      400 {object} httputil.ErrorResponse
// @Failure      429 {object} httputil.ErrorResponse
// @Router       /auth/forgot-password [post]
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	var req ResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid forgot password request body", "error", err.Error())
		httputil.RespondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := req.Validate(); err != nil {
		logger.Warn("password reset failed: validation error", "error", err.Error())
		httputil.RespondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ip := getClientIP(r)

	exceeded, err := h.rateLimiter.CheckIPRateLimit(r.Context(), ip)
	if err != nil {
		logger.Error("failed to check IP rate limit", "error", err.Error())
		// Continue despite error to avoid blocking legitimate requests
	} else if exceeded {
		logger.Warn("IP rate limit exceeded", "ip", ip)
		httputil.RespondError(w, "too many requests, please try again later", http.StatusTooManyRequests)
		return
	}

	onCooldown, err := h.rateLimiter.CheckEmailCooldown(r.Context(), req.Email)
	if err != nil {
		logger.Error("failed to check email cooldown", "error", err.Error())
		// Continue despite error
	} else if onCooldown {
		logger.Warn("email on cooldown", "email", req.Email)
		httputil.RespondError(w, "please wait before requesting another reset", http.StatusTooManyRequests)
		return
	}

	if err := h.rateLimiter.RecordIPRequest(r.Context(), ip); err != nil {
		logger.Error("failed to record IP request", "error", err.Error())
	}

	if err := h.rateLimiter.SetEmailCooldown(r.Context(), req.Email); err != nil {
		logger.Error("failed to set email cooldown", "error", err.Error())
	}

	success, err := h.service.Reset(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, ErrEmailNotFound) {
			logger.Warn("password reset failed: email not found")
			httputil.RespondError(w, err.Error(), http.StatusBadRequest)
			return
		}
		logger.Error("password reset failed: internal error", "error", err.Error())
		httputil.RespondError(w, ErrSomethingWrong.Error(), http.StatusInternalServerError)
		return
	}

	httputil.RespondSuccess(w, success, http.StatusOK)
}

// ResetPassword commits a password reset with token
// @Summary      Set new password
// @Description  Set a new password using a valid reset token
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body NewPasswordRequest true "Reset token and new password"
// @Success      200 {object} httputil.SuccessResponse
// @Failure      400 {object} httputil.ErrorResponse
// @Router       /auth/reset-password [post]
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	var req NewPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid reset password request body", "error", err.Error())
		httputil.RespondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := req.Validate(); err != nil {
		logger.Warn("password reset failed: validation error", "error", err.Error())
		httputil.RespondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	success, err := h.service.NewPassword(r.Context(), req.Password, req.Token)
	if err != nil {
		switch {
		case errors.Is(err, ErrTokenMissing),
			errors.Is(err, ErrResetTokenInvalid),
			errors.Is(err, ErrTokenHasExpired),
			errors.Is(err, ErrEmailUnknown):
			logger.Warn("password reset failed", "error", err.Error())
			httputil.RespondError(w, err.Error(), http.StatusBadRequest)
		default:
			logger.Error("password reset failed: internal error", "error", err.Error())
			httputil.RespondError(w, ErrSomethingWrong.Error(), http.StatusInternalServerError)
		}
		return
	}

	logger.Info("password reset successfully")

	httputil.RespondSuccess(w, success, http.StatusOK)
}

// Logout handles user logout
// @Summary      User logout
// @Description  Terminate the session and clear the cookie
// @Tags         auth
// @Produce      json
// @Success      200 {object} httputil.SuccessResponse
// @Router       /auth/logout [post]
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	if cookieToken, err := GetSessionTokenFromCookie(r); err == nil {
		if err := h.service.Logout(r.Context(), cookieToken); err != nil {
			logger.Warn("failed to terminate session", "error", err.Error())
			// Continue - still clear the cookie
		}
	}

	ClearSessionCookie(w)

	logger.Info("user logged out successfully")

	httputil.RespondSuccess(w, "Logged out!", http.StatusOK)
}

// validEmail reports whether the address parses as RFC 5322
func validEmail(email string) bool {
	if email == "" || len(email) > 254 {
		return false
	}
	_, err := mail.ParseAddress(email)
	return err == nil
}

// getClientIP extracts the client IP address from the request
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header first (behind proxy/load balancer)
	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		// X-Forwarded-For can contain multiple IPs, take the first one
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	// Check X-Real-IP header
	xri := r.Header.Get("X-Real-IP")
	if xri != "" {
		return strings.TrimSpace(xri)
	}

	// Fallback to RemoteAddr
	ip := r.RemoteAddr
	// RemoteAddr format is "IP:port", extract just the IP
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}
