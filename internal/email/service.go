package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"

	"github.com/gmela/gmela-api/internal/logging"
)

// Service dispatches transactional mail over SMTP. A failed dispatch is
// fatal to the calling flow; there is no retry here.
type Service struct {
	smtpHost     string
	smtpPort     string
	smtpUser     string
	smtpPassword string
	fromEmail    string
	appName      string
	frontendURL  string
}

func NewService(smtpHost, smtpPort, smtpUser, smtpPassword, appName, frontendURL string) *Service {
	return &Service{
		smtpHost:     smtpHost,
		smtpPort:     smtpPort,
		smtpUser:     smtpUser,
		smtpPassword: smtpPassword,
		fromEmail:    smtpUser,
		appName:      appName,
		frontendURL:  frontendURL,
	}
}

// SendVerificationEmail sends an email verification link to the user
func (s *Service) SendVerificationEmail(ctx context.Context, toEmail, token string) error {
	logger := logging.GetLoggerFromContext(ctx)

	verificationLink := fmt.Sprintf("%s/auth/new-verification?token=%s", s.frontendURL, token)

	subject := fmt.Sprintf("Verify your email for %s", s.appName)
	body, err := renderTemplate(verificationTemplate, map[string]string{
		"AppName": s.appName,
		"Link":    verificationLink,
	})
	if err != nil {
		logger.Error("failed to render verification email template", "error", err)
		return fmt.Errorf("render template: %w", err)
	}

	if err := s.sendEmail(toEmail, subject, body); err != nil {
		logger.Error("failed to send verification email", "email", toEmail, "error", err)
		return fmt.Errorf("send email: %w", err)
	}

	logger.Info("verification email sent", "email", toEmail)
	return nil
}

// SendPasswordResetEmail sends a password reset link to the user
func (s *Service) SendPasswordResetEmail(ctx context.Context, toEmail, token string) error {
	logger := logging.GetLoggerFromContext(ctx)

	resetLink := fmt.Sprintf("%s/auth/new-password?token=%s", s.frontendURL, token)

	subject := fmt.Sprintf("Reset your password for %s", s.appName)
	body, err := renderTemplate(resetTemplate, map[string]string{
		"AppName": s.appName,
		"Link":    resetLink,
	})
	if err != nil {
		logger.Error("failed to render password reset email template", "error", err)
		return fmt.Errorf("render template: %w", err)
	}

	if err := s.sendEmail(toEmail, subject, body); err != nil {
		logger.Error("failed to send password reset email", "email", toEmail, "error", err)
		return fmt.Errorf("send email: %w", err)
	}

	logger.Info("password reset email sent", "email", toEmail)
	return nil
}

// SendTwoFactorEmail sends the six-digit sign-in code to the user
func (s *Service) SendTwoFactorEmail(ctx context.Context, toEmail, code string) error {
	logger := logging.GetLoggerFromContext(ctx)

	subject := fmt.Sprintf("Your %s sign-in code", s.appName)
	body, err := renderTemplate(twoFactorTemplate, map[string]string{
		"AppName": s.appName,
		"Code":    code,
	})
	if err != nil {
		logger.Error("failed to render two-factor email template", "error", err)
		return fmt.Errorf("render template: %w", err)
	}

	if err := s.sendEmail(toEmail, subject, body); err != nil {
		logger.Error("failed to send two-factor email", "email", toEmail, "error", err)
		return fmt.Errorf("send email: %w", err)
	}

	logger.Info("two-factor email sent", "email", toEmail)
	return nil
}

func (s *Service) sendEmail(to, subject, body string) error {
	auth := smtp.PlainAuth("", s.smtpUser, s.smtpPassword, s.smtpHost)

	// Build message
	msg := []byte(fmt.Sprintf(
		"From: %s\r\n"+
			"To: %s\r\n"+
			"Subject: %s\r\n"+
			"MIME-Version: 1.0\r\n"+
			"Content-Type: text/html; charset=UTF-8\r\n"+
			"\r\n"+
			"%s\r\n",
		s.fromEmail, to, subject, body,
	))

	addr := fmt.Sprintf("%s:%s", s.smtpHost, s.smtpPort)
	return smtp.SendMail(addr, auth, s.fromEmail, []string{to}, msg)
}

func renderTemplate(tmpl string, data map[string]string) (string, error) {
	t, err := template.New("email").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}

	return buf.String(), nil
}

const verificationTemplate = `
<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
    <h2>Verify your email address</h2>
    <p>Thank you for signing up for {{.AppName}}! Please click the link below to verify your email address and activate your account.</p>
    <p><a href="{{.Link}}" style="display: inline-block; background-color: #4F46E5; color: white; padding: 12px 30px; text-decoration: none; border-radius: 5px;">Verify Email Address</a></p>
    <p>Or copy and paste this link into your browser:</p>
    <p style="word-break: break-all; color: #4F46E5;">{{.Link}}</p>
    <p>If you didn't create an account, you can safely ignore this email.</p>
    <p style="font-size: 12px; color: #666;">This link will expire in 1 hour.</p>
</body>
</html>
`

const resetTemplate = `
<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
    <h2>Reset your password</h2>
    <p>You requested to reset your {{.AppName}} password. Click the link below to create a new password.</p>
    <p><a href="{{.Link}}" style="display: inline-block; background-color: #4F46E5; color: white; padding: 12px 30px; text-decoration: none; border-radius: 5px;">Reset Password</a></p>
    <p>Or copy and paste this link into your browser:</p>
    <p style="word-break: break-all; color: #4F46E5;">{{.Link}}</p>
    <p>If you didn't request a password reset, you can safely ignore this email. Your password will remain unchanged.</p>
    <p style="font-size: 12px; color: #666;">This link will expire in 1 hour.</p>
</body>
</html>
`

const twoFactorTemplate = `
<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
    <h2>Your sign-in code</h2>
    <p>Enter this code to finish signing in to {{.AppName}}:</p>
    <p style="font-size: 32px; font-weight: bold; letter-spacing: 6px;">{{.Code}}</p>
    <p>If you didn't try to sign in, you can safely ignore this email.</p>
    <p style="font-size: 12px; color: #666;">This code will expire in 5 minutes.</p>
</body>
</html>
`
