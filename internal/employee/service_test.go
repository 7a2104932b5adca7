package employee_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pos/internal/common"
	"github.com/noah-isme/toko-pos/internal/docstore"
	"github.com/noah-isme/toko-pos/internal/employee"
)

var testParams = &argon2id.Params{Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

func newService(t *testing.T, store docstore.Store, hash bool) *employee.Service {
	t.Helper()
	svc, err := employee.NewService(employee.Config{
		Store:         store,
		HashPasswords: hash,
		Params:        testParams,
		Now:           func() time.Time { return time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC) },
	})
	require.NoError(t, err)
	return svc
}

type rawJSON string

func (r rawJSON) MarshalJSON() ([]byte, error) { return []byte(r), nil }

func TestLegacyRosterDecodes(t *testing.T) {
	store := docstore.NewMemory()
	require.NoError(t, store.Set(context.Background(), employee.RosterKey, rawJSON(
		`{"Employees":[{"UserName":"Alice","UserPassword":"secret","UserEmail":"a@x.io","UserType":"admin"}]}`)))
	svc := newService(t, store, true)

	e, err := svc.Get(context.Background(), "ALICE")
	require.NoError(t, err)
	require.Equal(t, "admin", e.Role)
	require.Equal(t, employee.StatusActive, e.Status)
	require.Equal(t, employee.NeverLoggedIn, e.LastLogin)
	require.True(t, employee.VerifyPassword(e.Password, "secret"))
	require.False(t, employee.VerifyPassword(e.Password, "Secret"))
}

func TestCreateHashesAndRejectsDuplicates(t *testing.T) {
	svc := newService(t, docstore.NewMemory(), true)
	ctx := context.Background()

	e, err := svc.Create(ctx, employee.NewEmployee{UserName: "Bob", Password: "pw", Email: "bob@toko.id", Role: "user"})
	require.NoError(t, err)
	require.Equal(t, common.RoleUser, e.Role)
	require.Equal(t, "2024-01-02 15:04:05", e.CreatedAt)
	require.True(t, employee.IsHashed(e.Password))
	require.True(t, employee.VerifyPassword(e.Password, "pw"))

	_, err = svc.Create(ctx, employee.NewEmployee{UserName: "bob", Password: "pw", Email: "b2@toko.id", Role: "User"})
	require.ErrorIs(t, err, employee.ErrDuplicate)

	for _, in := range []employee.NewEmployee{
		{UserName: "", Password: "pw", Email: "c@toko.id", Role: "User"},
		{UserName: "Carl", Password: "", Email: "c@toko.id", Role: "User"},
		{UserName: "Carl", Password: "pw", Email: "not-an-email", Role: "User"},
		{UserName: "Carl", Password: "pw", Email: "c@toko.id", Role: "Manager"},
	} {
		_, err := svc.Create(ctx, in)
		require.ErrorIs(t, err, employee.ErrInvalidInput)
	}
}

func TestCreateKeepsPlaintextWhenHashingDisabled(t *testing.T) {
	svc := newService(t, docstore.NewMemory(), false)
	e, err := svc.Create(context.Background(), employee.NewEmployee{UserName: "Dee", Password: "pw", Email: "d@toko.id", Role: "Admin"})
	require.NoError(t, err)
	require.Equal(t, "pw", e.Password)
}

func TestUpdateDeleteAndLastAdmin(t *testing.T) {
	svc := newService(t, docstore.NewMemory(), false)
	ctx := context.Background()
	_, err := svc.Create(ctx, employee.NewEmployee{UserName: "Root", Password: "pw", Email: "r@toko.id", Role: "Admin"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, employee.NewEmployee{UserName: "Till", Password: "pw", Email: "t@toko.id", Role: "User"})
	require.NoError(t, err)

	email := "till@toko.id"
	updated, err := svc.Update(ctx, "till", employee.Patch{Email: &email})
	require.NoError(t, err)
	require.Equal(t, email, updated.Email)
	require.Equal(t, "pw", updated.Password, "password untouched when not provided")

	user := "User"
	_, err = svc.Update(ctx, "Root", employee.Patch{Role: &user})
	require.ErrorIs(t, err, employee.ErrLastAdmin)
	require.ErrorIs(t, svc.Delete(ctx, "Root"), employee.ErrLastAdmin)

	require.NoError(t, svc.Delete(ctx, "Till"))
	_, err = svc.Get(ctx, "Till")
	require.ErrorIs(t, err, employee.ErrNotFound)
	require.ErrorIs(t, svc.Delete(ctx, "Till"), employee.ErrNotFound)
}

func TestSearchByField(t *testing.T) {
	svc := newService(t, docstore.NewMemory(), false)
	ctx := context.Background()
	for _, in := range []employee.NewEmployee{
		{UserName: "alice", Password: "pw", Email: "alice@toko.id", Role: "Admin"},
		{UserName: "albert", Password: "pw", Email: "bert@toko.id", Role: "User"},
		{UserName: "carol", Password: "pw", Email: "carol@toko.id", Role: "User"},
	} {
		_, err := svc.Create(ctx, in)
		require.NoError(t, err)
	}

	names := func(es []employee.Employee) []string {
		out := make([]string, 0, len(es))
		for _, e := range es {
			out = append(out, e.UserName)
		}
		return out
	}

	got, err := svc.Search(ctx, "AL", employee.FieldUserName)
	require.NoError(t, err)
	require.Equal(t, []string{"albert", "alice"}, names(got))

	got, err = svc.Search(ctx, "bert@", employee.FieldEmail)
	require.NoError(t, err)
	require.Equal(t, []string{"albert"}, names(got))

	got, err = svc.Search(ctx, "user", employee.FieldRole)
	require.NoError(t, err)
	require.Equal(t, []string{"albert", "carol"}, names(got))
}

func TestTouchLastLogin(t *testing.T) {
	svc := newService(t, docstore.NewMemory(), false)
	ctx := context.Background()
	_, err := svc.Create(ctx, employee.NewEmployee{UserName: "Root", Password: "pw", Email: "r@toko.id", Role: "Admin"})
	require.NoError(t, err)

	require.NoError(t, svc.TouchLastLogin(ctx, "root", time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)))
	e, err := svc.Get(ctx, "Root")
	require.NoError(t, err)
	require.Equal(t, "2024-03-04 05:06:07", e.LastLogin)
}

func TestHandlers(t *testing.T) {
	svc := newService(t, docstore.NewMemory(), false)
	h := employee.NewHandler(svc)

	rec := httptest.NewRecorder()
	h.Create(rec, httptest.NewRequest(http.MethodPost, "/api/v1/admin/employees",
		strings.NewReader(`{"username":"Root","password":"pw","email":"r@toko.id","role":"admin"}`)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NotContains(t, rec.Body.String(), "pw")
	require.Contains(t, rec.Body.String(), `"role":"Admin"`)

	rec = httptest.NewRecorder()
	h.Create(rec, httptest.NewRequest(http.MethodPost, "/api/v1/admin/employees",
		strings.NewReader(`{"username":"root","password":"pw","email":"r@toko.id","role":"User"}`)))
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/v1/admin/employees?q=ro&field=username", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"username":"Root"`)

	req := httptest.NewRequest(http.MethodDelete, "/", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("username", "root")
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	ctx = common.WithPrincipal(ctx, common.Principal{UserName: "Root", Role: common.RoleAdmin})
	rec = httptest.NewRecorder()
	h.Delete(rec, req.WithContext(ctx))
	require.Equal(t, http.StatusConflict, rec.Code)
}
