package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmela/gmela-api/internal/logging"
	"github.com/gmela/gmela-api/internal/token"
	"github.com/gmela/gmela-api/internal/user"
)

// --- fakes ---

type fakeUserStore struct {
	byEmail map[string]*user.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{byEmail: make(map[string]*user.User)}
}

func (s *fakeUserStore) Create(_ context.Context, name, email string, passwordHash *string) (*user.User, error) {
	if _, ok := s.byEmail[email]; ok {
		return nil, user.ErrDuplicateEmail
	}
	u := &user.User{
		ID:           uuid.New(),
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
	}
	s.byEmail[email] = u
	return u, nil
}

func (s *fakeUserStore) GetByEmail(_ context.Context, email string) (*user.User, error) {
	u, ok := s.byEmail[email]
	if !ok {
		return nil, user.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (s *fakeUserStore) MarkVerified(_ context.Context, userID uuid.UUID, email string) error {
	for _, u := range s.byEmail {
		if u.ID == userID {
			now := time.Now()
			u.EmailVerified = &now
			u.Email = email
			return nil
		}
	}
	return user.ErrNotFound
}

func (s *fakeUserStore) UpdatePassword(_ context.Context, userID uuid.UUID, passwordHash string) error {
	for _, u := range s.byEmail {
		if u.ID == userID {
			u.PasswordHash = &passwordHash
			return nil
		}
	}
	return user.ErrNotFound
}

// fakeTokenService mirrors the real token service's replace and
// strict-expiry semantics with a swappable clock.
type fakeTokenService struct {
	tokens map[token.Kind]map[string]*token.Token // kind -> email -> token
	ttl    map[token.Kind]time.Duration
	now    func() time.Time
}

func newFakeTokenService() *fakeTokenService {
	return &fakeTokenService{
		tokens: map[token.Kind]map[string]*token.Token{
			token.KindVerification:  {},
			token.KindPasswordReset: {},
			token.KindTwoFactor:     {},
		},
		ttl: map[token.Kind]time.Duration{
			token.KindVerification:  time.Hour,
			token.KindPasswordReset: time.Hour,
			token.KindTwoFactor:     5 * time.Minute,
		},
		now: time.Now,
	}
}

func (s *fakeTokenService) issue(kind token.Kind, email, tokenStr string) *token.Token {
	t := &token.Token{
		ID:      uuid.New(),
		Email:   email,
		Token:   tokenStr,
		Expires: s.now().Add(s.ttl[kind]),
	}
	s.tokens[kind][email] = t
	return t
}

func (s *fakeTokenService) IssueVerification(_ context.Context, email string) (*token.Token, error) {
	return s.issue(token.KindVerification, email, uuid.NewString()), nil
}

func (s *fakeTokenService) IssuePasswordReset(_ context.Context, email string) (*token.Token, error) {
	return s.issue(token.KindPasswordReset, email, uuid.NewString()), nil
}

func (s *fakeTokenService) IssueTwoFactor(_ context.Context, email string) (*token.Token, error) {
	return s.issue(token.KindTwoFactor, email, "123456"), nil
}

func (s *fakeTokenService) validate(kind token.Kind, tokenStr string) (*token.Token, error) {
	for _, t := range s.tokens[kind] {
		if t.Token == tokenStr {
			if t.Expired(s.now()) {
				return nil, token.ErrTokenExpired
			}
			return t, nil
		}
	}
	return nil, token.ErrTokenNotFound
}

func (s *fakeTokenService) ValidateVerification(_ context.Context, tokenStr string) (*token.Token, error) {
	return s.validate(token.KindVerification, tokenStr)
}

func (s *fakeTokenService) ValidatePasswordReset(_ context.Context, tokenStr string) (*token.Token, error) {
	return s.validate(token.KindPasswordReset, tokenStr)
}

func (s *fakeTokenService) OutstandingTwoFactor(_ context.Context, email string) (*token.Token, error) {
	t, ok := s.tokens[token.KindTwoFactor][email]
	if !ok {
		return nil, token.ErrTokenNotFound
	}
	return t, nil
}

func (s *fakeTokenService) Consume(_ context.Context, kind token.Kind, t *token.Token) error {
	delete(s.tokens[kind], t.Email)
	return nil
}

type fakeConfirmationStore struct {
	byUser    map[uuid.UUID]*TwoFactorConfirmation
	replaced  int
	deleteErr error
}

func newFakeConfirmationStore() *fakeConfirmationStore {
	return &fakeConfirmationStore{byUser: make(map[uuid.UUID]*TwoFactorConfirmation)}
}

func (s *fakeConfirmationStore) GetByUserID(_ context.Context, userID uuid.UUID) (*TwoFactorConfirmation, error) {
	c, ok := s.byUser[userID]
	if !ok {
		return nil, ErrConfirmationNotFound
	}
	return c, nil
}

func (s *fakeConfirmationStore) Replace(_ context.Context, userID uuid.UUID) error {
	s.replaced++
	s.byUser[userID] = &TwoFactorConfirmation{ID: uuid.New(), UserID: userID}
	return nil
}

func (s *fakeConfirmationStore) Delete(_ context.Context, id uuid.UUID) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	for userID, c := range s.byUser {
		if c.ID == id {
			delete(s.byUser, userID)
			return nil
		}
	}
	return nil
}

type sentMail struct {
	kind  string
	to    string
	token string
}

type fakeEmailService struct {
	sent    []sentMail
	failAll bool
}

var errSMTPDown = errors.New("smtp: connection refused")

func (s *fakeEmailService) send(kind, to, tok string) error {
	if s.failAll {
		return errSMTPDown
	}
	s.sent = append(s.sent, sentMail{kind: kind, to: to, token: tok})
	return nil
}

func (s *fakeEmailService) SendVerificationEmail(_ context.Context, to, tok string) error {
	return s.send("verification", to, tok)
}

func (s *fakeEmailService) SendPasswordResetEmail(_ context.Context, to, tok string) error {
	return s.send("reset", to, tok)
}

func (s *fakeEmailService) SendTwoFactorEmail(_ context.Context, to, code string) error {
	return s.send("two_factor", to, code)
}

type establishCall struct {
	email, password, redirectTo string
}

type fakeSessionProvider struct {
	calls      []establishCall
	err        error
	terminated []string
}

func (p *fakeSessionProvider) Establish(_ context.Context, email, password, redirectTo string) (*EstablishedSession, error) {
	p.calls = append(p.calls, establishCall{email, password, redirectTo})
	if p.err != nil {
		return nil, p.err
	}
	return &EstablishedSession{
		Token:      "session-token",
		ExpiresAt:  time.Now().Add(time.Hour),
		RedirectTo: redirectTo,
	}, nil
}

func (p *fakeSessionProvider) Terminate(_ context.Context, cookieToken string) error {
	p.terminated = append(p.terminated, cookieToken)
	return nil
}

// fakeHasher keeps tests fast; real bcrypt behavior is covered in hash_test.go.
type fakeHasher struct{}

func (fakeHasher) Hash(password string) (string, error) { return "hashed:" + password, nil }
func (fakeHasher) Compare(hash, password string) bool   { return hash == "hashed:"+password }

type fixture struct {
	svc           *Service
	users         *fakeUserStore
	tokens        *fakeTokenService
	confirmations *fakeConfirmationStore
	email         *fakeEmailService
	sessions      *fakeSessionProvider
}

func newFixture() *fixture {
	users := newFakeUserStore()
	tokens := newFakeTokenService()
	confirmations := newFakeConfirmationStore()
	emailSvc := &fakeEmailService{}
	sessions := &fakeSessionProvider{}

	svc := NewService(
		users, tokens, confirmations, emailSvc, sessions,
		fakeHasher{}, logging.NewLogger(true), "/dashboard",
	)

	return &fixture{svc: svc, users: users, tokens: tokens, confirmations: confirmations, email: emailSvc, sessions: sessions}
}

// addUser seeds a verified user with the fake hasher's encoding of "secret1".
func (f *fixture) addUser(t *testing.T, email string, verified, twoFactor bool) *user.User {
	t.Helper()
	hash := "hashed:secret1"
	u, err := f.users.Create(context.Background(), "Ann", email, &hash)
	require.NoError(t, err)
	u = f.users.byEmail[email]
	if verified {
		now := time.Now()
		u.EmailVerified = &now
	}
	u.IsTwoFactorEnabled = twoFactor
	return u
}

// --- register ---

func TestRegisterCreatesUserAndSendsConfirmation(t *testing.T) {
	f := newFixture()

	success, err := f.svc.Register(context.Background(), "Ann", "a@x.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, MsgConfirmationSent, success)

	created, ok := f.users.byEmail["a@x.com"]
	require.True(t, ok)
	assert.Nil(t, created.EmailVerified, "new users start unverified")
	require.NotNil(t, created.PasswordHash)
	assert.Equal(t, "hashed:secret1", *created.PasswordHash)

	require.Len(t, f.email.sent, 1)
	assert.Equal(t, "verification", f.email.sent[0].kind)
	assert.Equal(t, "a@x.com", f.email.sent[0].to)
	assert.Equal(t, f.tokens.tokens[token.KindVerification]["a@x.com"].Token, f.email.sent[0].token)
}

func TestRegisterRejectsTakenEmail(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Register(context.Background(), "Ann", "a@x.com", "secret1")
	require.NoError(t, err)

	_, err = f.svc.Register(context.Background(), "Bob", "a@x.com", "another")
	assert.ErrorIs(t, err, ErrEmailTaken)
	assert.Equal(t, "Email already in use!", err.Error())
	assert.Len(t, f.email.sent, 1, "no second email for the rejected attempt")
}

func TestRegisterEmailFailureAbortsAfterWrites(t *testing.T) {
	// The store writes commit before the dispatch fails: the user and
	// token exist, but the flow reports an internal failure.
	f := newFixture()
	f.email.failAll = true

	_, err := f.svc.Register(context.Background(), "Ann", "a@x.com", "secret1")
	require.Error(t, err)
	assert.ErrorIs(t, err, errSMTPDown)

	assert.Contains(t, f.users.byEmail, "a@x.com")
	assert.Contains(t, f.tokens.tokens[token.KindVerification], "a@x.com")
}

// --- verification ---

func TestNewVerificationHappyPath(t *testing.T) {
	f := newFixture()
	u := f.addUser(t, "a@x.com", false, false)

	issued, err := f.tokens.IssueVerification(context.Background(), "a@x.com")
	require.NoError(t, err)

	success, err := f.svc.NewVerification(context.Background(), issued.Token)
	require.NoError(t, err)
	assert.Equal(t, MsgEmailVerified, success)

	assert.NotNil(t, f.users.byEmail["a@x.com"].EmailVerified)
	assert.Equal(t, u.ID, f.users.byEmail["a@x.com"].ID)
	assert.NotContains(t, f.tokens.tokens[token.KindVerification], "a@x.com", "token consumed")
}

func TestNewVerificationUnknownToken(t *testing.T) {
	f := newFixture()

	_, err := f.svc.NewVerification(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrTokenUnknown)
	assert.Equal(t, "Token does not exist!", err.Error())
}

func TestNewVerificationExpiredToken(t *testing.T) {
	f := newFixture()
	f.addUser(t, "a@x.com", false, false)

	issued, err := f.tokens.IssueVerification(context.Background(), "a@x.com")
	require.NoError(t, err)

	f.tokens.now = func() time.Time { return issued.Expires.Add(time.Second) }

	_, err = f.svc.NewVerification(context.Background(), issued.Token)
	assert.ErrorIs(t, err, ErrTokenHasExpired)
}

func TestNewVerificationOwnerVanished(t *testing.T) {
	f := newFixture()

	issued, err := f.tokens.IssueVerification(context.Background(), "ghost@x.com")
	require.NoError(t, err)

	_, err = f.svc.NewVerification(context.Background(), issued.Token)
	assert.ErrorIs(t, err, ErrEmailUnknown)
}

// --- login ---

func TestLoginUnknownEmail(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Login(context.Background(), "a@x.com", "secret1", "", "")
	assert.ErrorIs(t, err, ErrEmailUnknown)
	assert.Empty(t, f.sessions.calls)
}

func TestLoginOAuthOnlyAccountRejected(t *testing.T) {
	f := newFixture()
	u := f.addUser(t, "a@x.com", true, false)
	f.users.byEmail[u.Email].PasswordHash = nil

	_, err := f.svc.Login(context.Background(), "a@x.com", "secret1", "", "")
	assert.ErrorIs(t, err, ErrEmailUnknown)
}

func TestLoginUnverifiedResendsConfirmation(t *testing.T) {
	f := newFixture()
	f.addUser(t, "a@x.com", false, false)

	result, err := f.svc.Login(context.Background(), "a@x.com", "wrong-password", "", "")
	require.NoError(t, err)
	assert.Equal(t, MsgConfirmationSent, result.Success)
	assert.Nil(t, result.Session)

	// No credential check happened: no session establishment attempted
	assert.Empty(t, f.sessions.calls)
	require.Len(t, f.email.sent, 1)
	assert.Equal(t, "verification", f.email.sent[0].kind)
}

func TestLoginUnverifiedReplacesVerificationToken(t *testing.T) {
	f := newFixture()
	f.addUser(t, "a@x.com", false, false)

	first, err := f.tokens.IssueVerification(context.Background(), "a@x.com")
	require.NoError(t, err)

	_, err = f.svc.Login(context.Background(), "a@x.com", "secret1", "", "")
	require.NoError(t, err)

	assert.NotEqual(t, first.Token, f.tokens.tokens[token.KindVerification]["a@x.com"].Token)
}

func TestLoginTwoFactorRequired(t *testing.T) {
	f := newFixture()
	f.addUser(t, "a@x.com", true, true)

	result, err := f.svc.Login(context.Background(), "a@x.com", "secret1", "", "")
	require.NoError(t, err)
	assert.True(t, result.TwoFactor)
	assert.Nil(t, result.Session)

	require.Len(t, f.email.sent, 1)
	assert.Equal(t, "two_factor", f.email.sent[0].kind)
	assert.Empty(t, f.sessions.calls)
}

func TestLoginTwoFactorCorrectCode(t *testing.T) {
	f := newFixture()
	u := f.addUser(t, "a@x.com", true, true)

	// First step issues the code
	_, err := f.svc.Login(context.Background(), "a@x.com", "secret1", "", "")
	require.NoError(t, err)

	// Resume with the code
	result, err := f.svc.Login(context.Background(), "a@x.com", "secret1", "123456", "")
	require.NoError(t, err)
	require.NotNil(t, result.Session)

	assert.NotContains(t, f.tokens.tokens[token.KindTwoFactor], "a@x.com", "code consumed")
	assert.Equal(t, 1, f.confirmations.replaced)
	assert.Contains(t, f.confirmations.byUser, u.ID)
	require.Len(t, f.sessions.calls, 1)
	assert.Equal(t, "/dashboard", f.sessions.calls[0].redirectTo)
}

func TestLoginTwoFactorReplacesPriorConfirmation(t *testing.T) {
	f := newFixture()
	u := f.addUser(t, "a@x.com", true, true)

	// A stale confirmation from an earlier sign-in attempt
	require.NoError(t, f.confirmations.Replace(context.Background(), u.ID))
	stale := f.confirmations.byUser[u.ID].ID

	_, err := f.svc.Login(context.Background(), "a@x.com", "secret1", "", "")
	require.NoError(t, err)
	result, err := f.svc.Login(context.Background(), "a@x.com", "secret1", "123456", "")
	require.NoError(t, err)
	require.NotNil(t, result.Session)

	require.Contains(t, f.confirmations.byUser, u.ID)
	assert.NotEqual(t, stale, f.confirmations.byUser[u.ID].ID, "prior confirmation replaced")
	assert.Equal(t, 2, f.confirmations.replaced)
}

func TestLoginTwoFactorWrongCode(t *testing.T) {
	f := newFixture()
	f.addUser(t, "a@x.com", true, true)

	_, err := f.svc.Login(context.Background(), "a@x.com", "secret1", "", "")
	require.NoError(t, err)

	_, err = f.svc.Login(context.Background(), "a@x.com", "secret1", "654321", "")
	assert.ErrorIs(t, err, ErrInvalidCode)
	assert.Contains(t, f.tokens.tokens[token.KindTwoFactor], "a@x.com", "code not consumed on mismatch")
}

func TestLoginTwoFactorNoOutstandingCode(t *testing.T) {
	f := newFixture()
	f.addUser(t, "a@x.com", true, true)

	_, err := f.svc.Login(context.Background(), "a@x.com", "secret1", "123456", "")
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestLoginTwoFactorExpiredCode(t *testing.T) {
	f := newFixture()
	f.addUser(t, "a@x.com", true, true)

	_, err := f.svc.Login(context.Background(), "a@x.com", "secret1", "", "")
	require.NoError(t, err)

	issued := f.tokens.tokens[token.KindTwoFactor]["a@x.com"]
	issued.Expires = time.Now().Add(-time.Second)

	// The matching code still fails once expired
	_, err = f.svc.Login(context.Background(), "a@x.com", "secret1", "123456", "")
	assert.ErrorIs(t, err, ErrCodeExpired)
	assert.Equal(t, "Code expired!", err.Error())
	assert.Equal(t, 0, f.confirmations.replaced)
}

func TestLoginCallbackURLOverridesDefaultRedirect(t *testing.T) {
	f := newFixture()
	f.addUser(t, "a@x.com", true, false)

	result, err := f.svc.Login(context.Background(), "a@x.com", "secret1", "", "/settings")
	require.NoError(t, err)
	assert.Equal(t, "/settings", result.Session.RedirectTo)
}

func TestLoginMapsProviderErrors(t *testing.T) {
	f := newFixture()
	f.addUser(t, "a@x.com", true, false)

	f.sessions.err = ErrInvalidCredentials
	_, err := f.svc.Login(context.Background(), "a@x.com", "bad", "", "")
	assert.ErrorIs(t, err, ErrWrongCredentials)
	assert.Equal(t, "Invalid credentials!", err.Error())

	f.sessions.err = &ProviderError{Op: "store session", Err: errors.New("redis down")}
	_, err = f.svc.Login(context.Background(), "a@x.com", "secret1", "", "")
	assert.ErrorIs(t, err, ErrSomethingWrong)

	// Outside the provider taxonomy: propagates untouched
	raw := errors.New("context canceled")
	f.sessions.err = raw
	_, err = f.svc.Login(context.Background(), "a@x.com", "secret1", "", "")
	assert.Equal(t, raw, err)
}

// --- reset / new password ---

func TestResetUnknownEmail(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Reset(context.Background(), "a@x.com")
	assert.ErrorIs(t, err, ErrEmailNotFound)
	assert.Equal(t, "Email not found!", err.Error())
}

func TestResetSendsResetEmail(t *testing.T) {
	f := newFixture()
	f.addUser(t, "a@x.com", true, false)

	success, err := f.svc.Reset(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, MsgResetSent, success)

	require.Len(t, f.email.sent, 1)
	assert.Equal(t, "reset", f.email.sent[0].kind)
	assert.Equal(t, f.tokens.tokens[token.KindPasswordReset]["a@x.com"].Token, f.email.sent[0].token)
}

func TestNewPasswordMissingToken(t *testing.T) {
	f := newFixture()

	_, err := f.svc.NewPassword(context.Background(), "newsecret", "")
	assert.ErrorIs(t, err, ErrTokenMissing)
	assert.Equal(t, "Missing token!", err.Error())
}

func TestNewPasswordIsSingleUse(t *testing.T) {
	f := newFixture()
	u := f.addUser(t, "a@x.com", true, false)
	oldHash := *f.users.byEmail[u.Email].PasswordHash

	issued, err := f.tokens.IssuePasswordReset(context.Background(), "a@x.com")
	require.NoError(t, err)

	success, err := f.svc.NewPassword(context.Background(), "newsecret", issued.Token)
	require.NoError(t, err)
	assert.Equal(t, MsgPasswordUpdated, success)
	assert.NotEqual(t, oldHash, *f.users.byEmail[u.Email].PasswordHash)

	// Second invocation with the same token fails the unknown-token guard
	_, err = f.svc.NewPassword(context.Background(), "another", issued.Token)
	assert.ErrorIs(t, err, ErrResetTokenInvalid)
	assert.Equal(t, "Invalid token!", err.Error())
}

func TestNewPasswordExpiredToken(t *testing.T) {
	f := newFixture()
	f.addUser(t, "a@x.com", true, false)

	issued, err := f.tokens.IssuePasswordReset(context.Background(), "a@x.com")
	require.NoError(t, err)

	f.tokens.now = func() time.Time { return issued.Expires.Add(time.Minute) }

	_, err = f.svc.NewPassword(context.Background(), "newsecret", issued.Token)
	assert.ErrorIs(t, err, ErrTokenHasExpired)
}

// --- logout ---

func TestLogoutTerminatesSession(t *testing.T) {
	f := newFixture()

	require.NoError(t, f.svc.Logout(context.Background(), "cookie-token"))
	assert.Equal(t, []string{"cookie-token"}, f.sessions.terminated)
}
