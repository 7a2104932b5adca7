package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pos/internal/common"
	"github.com/noah-isme/toko-pos/internal/employee"
	"github.com/noah-isme/toko-pos/internal/events"
	"github.com/noah-isme/toko-pos/internal/obs"
	"github.com/noah-isme/toko-pos/internal/session"
)

const (
	defaultAccessTTL = 12 * time.Hour

	claimSession = "sid"
	claimRole    = "role"
)

var (
	// ErrInvalidCredentials is returned for an unknown user, a wrong password
	// or a deactivated account.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrRoleMismatch is returned when the credentials are right but the
	// employee does not hold the requested role.
	ErrRoleMismatch = errors.New("role does not match")
	// ErrTransient wraps store failures during authentication.
	ErrTransient = errors.New("authentication temporarily unavailable")
)

// Roster is the employee lookup used for logins.
type Roster interface {
	Get(ctx context.Context, username string) (employee.Employee, error)
	Create(ctx context.Context, in employee.NewEmployee) (employee.Employee, error)
	TouchLastLogin(ctx context.Context, username string, at time.Time) error
}

// Sessions tracks logged-in employees.
type Sessions interface {
	Create(userName, role string) *session.Session
	Get(id string) (*session.Session, error)
	Delete(id string) bool
}

// Emitter publishes domain events.
type Emitter interface {
	Emit(ctx context.Context, topic, aggregateID string, payload any) (events.Event, error)
}

// Config configures the auth service.
type Config struct {
	Roster         Roster
	Sessions       Sessions
	Events         Emitter
	Secret         string
	AccessTokenTTL time.Duration
	Issuer         string
	Audience       string
	ClockSkew      time.Duration
	Logger         zerolog.Logger
}

// Service authenticates employees and issues session tokens.
type Service struct {
	roster    Roster
	sessions  Sessions
	events    Emitter
	secret    []byte
	accessTTL time.Duration
	now       func() time.Time
	signer    jwa.SignatureAlgorithm
	validator TokenValidator
	issuer    string
	audience  string
	clockSkew time.Duration
	logger    zerolog.Logger
}

// LoginResult is returned after a successful login.
type LoginResult struct {
	UserName     string    `json:"username"`
	Role         string    `json:"role"`
	SessionID    string    `json:"session_id"`
	AccessToken  string    `json:"access_token"`
	AccessExpiry time.Time `json:"access_token_expires_at"`
}

// NewService constructs a Service instance with sane defaults.
func NewService(cfg Config) (*Service, error) {
	if cfg.Roster == nil {
		return nil, errors.New("auth: roster is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("auth: sessions is required")
	}
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("auth: secret is required")
	}
	accessTTL := cfg.AccessTokenTTL
	if accessTTL <= 0 {
		accessTTL = defaultAccessTTL
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = "toko-pos"
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		audience = "toko-pos-clients"
	}
	clockSkew := cfg.ClockSkew
	if clockSkew < 0 {
		clockSkew = 0
	}

	return &Service{
		roster:    cfg.Roster,
		sessions:  cfg.Sessions,
		events:    cfg.Events,
		secret:    []byte(secret),
		accessTTL: accessTTL,
		now:       time.Now,
		signer:    jwa.HS256,
		validator: TokenValidator{
			Issuer:    issuer,
			Audience:  audience,
			ClockSkew: clockSkew,
			Algorithm: jwa.HS256,
		},
		issuer:    issuer,
		audience:  audience,
		clockSkew: clockSkew,
		logger:    cfg.Logger,
	}, nil
}

// WithNow allows tests to override the time provider.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Authenticate checks the credentials and requested role and returns the
// role as stored. Usernames and roles compare case-insensitively; passwords
// compare exactly.
func (s *Service) Authenticate(ctx context.Context, username, password, role string) (string, error) {
	e, err := s.authenticate(ctx, username, password, role)
	if err != nil {
		return "", err
	}
	return e.Role, nil
}

func (s *Service) authenticate(ctx context.Context, username, password, role string) (employee.Employee, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return employee.Employee{}, ErrInvalidCredentials
	}
	e, err := s.roster.Get(ctx, username)
	if errors.Is(err, employee.ErrNotFound) {
		return employee.Employee{}, ErrInvalidCredentials
	}
	if err != nil {
		return employee.Employee{}, fmt.Errorf("%w: %w", ErrTransient, err)
	}
	if !e.Active() || !employee.VerifyPassword(e.Password, password) {
		return employee.Employee{}, ErrInvalidCredentials
	}
	if role = strings.TrimSpace(role); role != "" && !strings.EqualFold(role, e.Role) {
		return employee.Employee{}, ErrRoleMismatch
	}

	if err := s.roster.TouchLastLogin(ctx, e.UserName, s.now()); err != nil {
		s.log(ctx).Warn().Err(err).Str("user", e.UserName).Msg("update last login failed")
	}
	return e, nil
}

// Login authenticates the employee, opens a session and signs its token.
func (s *Service) Login(ctx context.Context, username, password, role string) (LoginResult, error) {
	e, err := s.authenticate(ctx, username, password, role)
	if err != nil {
		obs.IncLoginAttempt(loginOutcome(err))
		return LoginResult{}, err
	}
	sess := s.sessions.Create(e.UserName, e.Role)
	token, expiresAt, err := s.signAccessToken(sess)
	if err != nil {
		s.sessions.Delete(sess.ID)
		obs.IncLoginAttempt("error")
		return LoginResult{}, fmt.Errorf("sign token: %w", err)
	}
	obs.IncLoginAttempt("success")
	if s.events != nil {
		payload := map[string]string{"username": e.UserName, "role": e.Role}
		if _, err := s.events.Emit(ctx, events.TopicEmployeeLoggedIn, e.UserName, payload); err != nil {
			s.log(ctx).Warn().Err(err).Msg("emit login event failed")
		}
	}
	return LoginResult{
		UserName:     e.UserName,
		Role:         e.Role,
		SessionID:    sess.ID,
		AccessToken:  token,
		AccessExpiry: expiresAt,
	}, nil
}

func loginOutcome(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrRoleMismatch):
		return "role_mismatch"
	default:
		return "error"
	}
}

// Register creates a User-role employee.
func (s *Service) Register(ctx context.Context, username, password, email string) (employee.Employee, error) {
	return s.roster.Create(ctx, employee.NewEmployee{
		UserName: username,
		Password: password,
		Email:    email,
		Role:     common.RoleUser,
	})
}

// Logout ends the session, discarding its cart.
func (s *Service) Logout(_ context.Context, sessionID string) bool {
	return s.sessions.Delete(sessionID)
}

// Principal validates an access token and checks its session is still live.
func (s *Service) Principal(token string) (common.Principal, error) {
	p, err := s.ParseAccessToken(token)
	if err != nil {
		return common.Principal{}, err
	}
	if _, err := s.sessions.Get(p.SessionID); err != nil {
		return common.Principal{}, common.NewAppError(common.CodeUnauthorized, "session expired", http.StatusUnauthorized, err)
	}
	return p, nil
}

// ParseAccessToken validates an access token and returns its principal.
func (s *Service) ParseAccessToken(token string) (common.Principal, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return common.Principal{}, common.NewAppError(common.CodeUnauthorized, "missing token", http.StatusUnauthorized, nil)
	}
	algorithm, err := extractTokenAlgorithm(trimmed)
	if err != nil {
		return common.Principal{}, common.NewAppError(common.CodeUnauthorized, "invalid token", http.StatusUnauthorized, err)
	}
	if s.validator.Algorithm != "" && algorithm != s.validator.Algorithm {
		return common.Principal{}, common.NewAppError(common.CodeUnauthorized, "invalid token", http.StatusUnauthorized, fmt.Errorf("unexpected token algorithm %s", algorithm))
	}
	parsed, err := jwt.ParseString(trimmed, jwt.WithKey(algorithm, s.secret), jwt.WithValidate(false))
	if err != nil {
		return common.Principal{}, common.NewAppError(common.CodeUnauthorized, "invalid token", http.StatusUnauthorized, err)
	}
	p, err := s.validator.Principal(parsed, algorithm, s.now())
	if err != nil {
		return common.Principal{}, common.NewAppError(common.CodeUnauthorized, "invalid token", http.StatusUnauthorized, err)
	}
	return p, nil
}

func extractTokenAlgorithm(token string) (jwa.SignatureAlgorithm, error) {
	message, err := jws.ParseString(token)
	if err != nil {
		return "", err
	}
	signatures := message.Signatures()
	if len(signatures) == 0 {
		return "", errors.New("auth: token contains no signatures")
	}
	var algorithm jwa.SignatureAlgorithm
	for _, sig := range signatures {
		headers := sig.ProtectedHeaders()
		if headers == nil {
			return "", errors.New("auth: token missing protected headers")
		}
		alg := headers.Algorithm()
		if alg == "" {
			return "", errors.New("auth: token missing algorithm")
		}
		if alg == jwa.NoSignature {
			return "", errors.New("auth: token uses none algorithm")
		}
		if algorithm == "" {
			algorithm = alg
		} else if algorithm != alg {
			return "", fmt.Errorf("auth: mixed token algorithms detected")
		}
	}
	return algorithm, nil
}

func (s *Service) signAccessToken(sess *session.Session) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.accessTTL)
	token, err := jwt.NewBuilder().
		Subject(sess.UserName).
		Issuer(s.issuer).
		Audience([]string{s.audience}).
		IssuedAt(now).
		NotBefore(now.Add(-s.clockSkew)).
		Expiration(expiresAt).
		Claim(claimSession, sess.ID).
		Claim(claimRole, sess.Role).
		Build()
	if err != nil {
		return "", time.Time{}, err
	}
	signed, err := jwt.Sign(token, jwt.WithKey(s.signer, s.secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return string(signed), expiresAt, nil
}

func (s *Service) log(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.logger
}
