package auth_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pos/internal/auth"
	"github.com/noah-isme/toko-pos/internal/billing"
	"github.com/noah-isme/toko-pos/internal/common"
	"github.com/noah-isme/toko-pos/internal/docstore"
	"github.com/noah-isme/toko-pos/internal/employee"
	"github.com/noah-isme/toko-pos/internal/session"
)

type rawJSON string

func (r rawJSON) MarshalJSON() ([]byte, error) { return []byte(r), nil }

const roster = `{"Employees":[
	{"UserName":"Alice","UserPassword":"secret","UserEmail":"alice@toko.id","UserType":"admin","UserStatus":"Active","LastLogin":"Never"},
	{"UserName":"Bob","UserPassword":"hunter2","UserEmail":"bob@toko.id","UserType":"User","UserStatus":"Inactive"}
]}`

type fixture struct {
	store    docstore.Store
	roster   *employee.Service
	sessions *session.Manager
	service  *auth.Service
}

func newFixture(t *testing.T, store docstore.Store) fixture {
	t.Helper()
	require.NoError(t, store.Set(context.Background(), employee.RosterKey, rawJSON(roster)))
	roster, err := employee.NewService(employee.Config{Store: store})
	require.NoError(t, err)
	billingSvc, err := billing.NewService(billing.Config{Store: store})
	require.NoError(t, err)
	sessions, err := session.NewManager(session.Config{
		IdleTTL:   time.Hour,
		NewEngine: func() *billing.Engine { return billingSvc.NewEngine(nil) },
	})
	require.NoError(t, err)
	svc, err := auth.NewService(auth.Config{Roster: roster, Sessions: sessions, Secret: "test-secret"})
	require.NoError(t, err)
	return fixture{store: store, roster: roster, sessions: sessions, service: svc}
}

func TestAuthenticateIgnoresCaseOfUserAndRole(t *testing.T) {
	f := newFixture(t, docstore.NewMemory())
	ctx := context.Background()

	role, err := f.service.Authenticate(ctx, "Alice", "secret", "Admin")
	require.NoError(t, err)
	require.Equal(t, "admin", role)

	role, err = f.service.Authenticate(ctx, "ALICE", "secret", "admin")
	require.NoError(t, err)
	require.Equal(t, "admin", role)

	e, err := f.roster.Get(ctx, "alice")
	require.NoError(t, err)
	require.NotEqual(t, employee.NeverLoggedIn, e.LastLogin)
}

func TestAuthenticateFailures(t *testing.T) {
	f := newFixture(t, docstore.NewMemory())
	ctx := context.Background()

	_, err := f.service.Authenticate(ctx, "Alice", "SECRET", "Admin")
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, err = f.service.Authenticate(ctx, "Nobody", "secret", "Admin")
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, err = f.service.Authenticate(ctx, "Alice", "secret", "User")
	require.ErrorIs(t, err, auth.ErrRoleMismatch)

	_, err = f.service.Authenticate(ctx, "Bob", "hunter2", "User")
	require.ErrorIs(t, err, auth.ErrInvalidCredentials, "inactive accounts cannot log in")
}

type downStore struct{ docstore.Store }

func (downStore) Get(context.Context, string, any) (bool, error) {
	return false, errors.Join(docstore.ErrUnavailable, errors.New("dial tcp: refused"))
}

func TestAuthenticateReportsTransientFailure(t *testing.T) {
	mem := docstore.NewMemory()
	f := newFixture(t, mem)
	roster, err := employee.NewService(employee.Config{Store: downStore{mem}})
	require.NoError(t, err)
	svc, err := auth.NewService(auth.Config{Roster: roster, Sessions: f.sessions, Secret: "s"})
	require.NoError(t, err)

	_, err = svc.Authenticate(context.Background(), "Alice", "secret", "Admin")
	require.ErrorIs(t, err, auth.ErrTransient)
	require.ErrorIs(t, err, docstore.ErrUnavailable)
}

func TestHashedPasswordsVerify(t *testing.T) {
	f := newFixture(t, docstore.NewMemory())
	hashing, err := employee.NewService(employee.Config{Store: f.store, HashPasswords: true})
	require.NoError(t, err)
	_, err = hashing.Create(context.Background(), employee.NewEmployee{UserName: "Cara", Password: "pa55", Email: "cara@toko.id", Role: "User"})
	require.NoError(t, err)

	role, err := f.service.Authenticate(context.Background(), "cara", "pa55", "user")
	require.NoError(t, err)
	require.Equal(t, common.RoleUser, role)
}

func TestLoginTokenRoundTrip(t *testing.T) {
	f := newFixture(t, docstore.NewMemory())
	ctx := context.Background()

	result, err := f.service.Login(ctx, "alice", "secret", "admin")
	require.NoError(t, err)
	require.Equal(t, "Alice", result.UserName)
	require.NotEmpty(t, result.AccessToken)
	require.Equal(t, 1, f.sessions.Len())

	p, err := f.service.Principal(result.AccessToken)
	require.NoError(t, err)
	require.Equal(t, common.Principal{UserName: "Alice", Role: "admin", SessionID: result.SessionID}, p)
	require.True(t, p.IsAdmin())

	require.True(t, f.service.Logout(ctx, result.SessionID))
	_, err = f.service.Principal(result.AccessToken)
	require.Error(t, err, "token of a closed session is rejected")

	_, err = f.service.ParseAccessToken(result.AccessToken + "x")
	require.Error(t, err)
}

func TestLoginTokenExpires(t *testing.T) {
	f := newFixture(t, docstore.NewMemory())
	now := time.Now()
	f.service.WithNow(func() time.Time { return now })
	result, err := f.service.Login(context.Background(), "Alice", "secret", "Admin")
	require.NoError(t, err)

	f.service.WithNow(func() time.Time { return now.Add(13 * time.Hour) })
	_, err = f.service.ParseAccessToken(result.AccessToken)
	require.Error(t, err)
}

func TestRegisterCreatesUserRole(t *testing.T) {
	f := newFixture(t, docstore.NewMemory())
	e, err := f.service.Register(context.Background(), "Dan", "pw", "dan@toko.id")
	require.NoError(t, err)
	require.Equal(t, common.RoleUser, e.Role)

	_, err = f.service.Register(context.Background(), "alice", "pw", "a2@toko.id")
	require.ErrorIs(t, err, employee.ErrDuplicate)
}

func TestHandlersAndMiddleware(t *testing.T) {
	f := newFixture(t, docstore.NewMemory())
	h := &auth.Handler{Service: f.service}
	mw := auth.Middleware{Service: f.service}

	rec := httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"username":"Alice","password":"bad","role":"Admin"}`)))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), common.CodeInvalidCredentials)

	rec = httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"username":"Alice","password":"secret","role":"User"}`)))
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Contains(t, rec.Body.String(), common.CodeRoleMismatch)

	result, err := f.service.Login(context.Background(), "Alice", "secret", "Admin")
	require.NoError(t, err)

	protected := mw.RequireAuth(auth.RequireRole(common.RoleAdmin)(http.HandlerFunc(h.Me)))

	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, `Bearer realm="toko-pos"`, rec.Header().Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: result.AccessToken})
	rec = httptest.NewRecorder()
	auth.Middleware{Service: f.service, AccessCookie: "access_token"}.RequireAuth(http.HandlerFunc(h.Me)).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+result.AccessToken)
	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"username":"Alice"`)

	_, err = f.roster.Create(context.Background(), employee.NewEmployee{UserName: "Till", Password: "pw", Email: "till@toko.id", Role: "User"})
	require.NoError(t, err)
	tillResult, err := f.service.Login(context.Background(), "Till", "pw", "User")
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+tillResult.AccessToken)
	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	mw.RequireAuth(auth.RequireRole(common.RoleAdmin, common.RoleUser)(http.HandlerFunc(h.Me))).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+result.AccessToken)
	rec = httptest.NewRecorder()
	mw.RequireAuth(http.HandlerFunc(h.Logout)).ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, 1, f.sessions.Len())
}
