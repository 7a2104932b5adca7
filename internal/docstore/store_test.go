package docstore_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pos/internal/docstore"
	"github.com/noah-isme/toko-pos/internal/resilience"
)

type counter struct {
	N int `json:"n"`
}

func newRedisStore(t *testing.T) (*docstore.Redis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return docstore.NewRedis(client), client
}

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, store docstore.Store) {
	t.Helper()
	ctx := context.Background()

	var c counter
	found, err := store.Get(ctx, "counter", &c)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, store.Set(ctx, "counter", counter{N: 1}))
	found, err = store.Get(ctx, "counter", &c)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 1, c.N)

	err = store.Update(ctx, []string{"counter", "other"}, func(tx docstore.Tx) error {
		var cur counter
		ok, err := tx.Get("counter", &cur)
		if err != nil || !ok {
			return errors.New("missing counter")
		}
		cur.N++
		if err := tx.Set("counter", cur); err != nil {
			return err
		}
		return tx.Set("other", counter{N: 42})
	})
	require.NoError(t, err)

	require.NoError(t, mustGet(t, store, "counter", &c))
	require.Equal(t, 2, c.N)
	require.NoError(t, mustGet(t, store, "other", &c))
	require.Equal(t, 42, c.N)

	abort := errors.New("abort")
	err = store.Update(ctx, []string{"counter"}, func(tx docstore.Tx) error {
		if err := tx.Set("counter", counter{N: 99}); err != nil {
			return err
		}
		return abort
	})
	require.ErrorIs(t, err, abort)
	require.NoError(t, mustGet(t, store, "counter", &c))
	require.Equal(t, 2, c.N, "aborted update must not apply")

	err = store.Update(ctx, []string{"counter"}, func(tx docstore.Tx) error {
		return tx.Set("undeclared", counter{})
	})
	require.ErrorIs(t, err, docstore.ErrUndeclaredKey)

	require.NoError(t, store.Ping(ctx))
}

func mustGet(t *testing.T, store docstore.Store, key string, dst any) error {
	t.Helper()
	found, err := store.Get(context.Background(), key, dst)
	if err != nil {
		return err
	}
	if !found {
		return errors.New("not found: " + key)
	}
	return nil
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, docstore.NewMemory())
}

func TestRedisStore(t *testing.T) {
	store, _ := newRedisStore(t)
	exerciseStore(t, store)
}

func TestRedisUpdateConflict(t *testing.T) {
	store, client := newRedisStore(t)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "counter", counter{N: 1}))

	err := store.Update(ctx, []string{"counter"}, func(tx docstore.Tx) error {
		// a second writer lands between the read and EXEC
		require.NoError(t, client.Set(ctx, "doc:counter", `{"n":7}`, 0).Err())
		return tx.Set("counter", counter{N: 2})
	})
	require.ErrorIs(t, err, docstore.ErrConflict)

	var c counter
	require.NoError(t, mustGet(t, store, "counter", &c))
	require.Equal(t, 7, c.N)
}

func TestRedisUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1, DialTimeout: 50 * time.Millisecond})
	t.Cleanup(func() { _ = client.Close() })
	store := docstore.NewRedis(client)
	mr.Close()

	_, err = store.Get(context.Background(), "counter", &counter{})
	require.ErrorIs(t, err, docstore.ErrUnavailable)
}

type failingStore struct {
	docstore.Store
	calls int
}

func (f *failingStore) Get(context.Context, string, any) (bool, error) {
	f.calls++
	return false, docstore.ErrUnavailable
}

func TestGuardedOpensBreaker(t *testing.T) {
	inner := &failingStore{Store: docstore.NewMemory()}
	guarded := docstore.WithBreaker(inner, resilience.NewBreaker(2, 0.5, time.Minute).WithTarget("docstore_test"))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := guarded.Get(ctx, "k", &counter{})
		require.ErrorIs(t, err, docstore.ErrUnavailable)
	}
	_, err := guarded.Get(ctx, "k", &counter{})
	require.ErrorIs(t, err, docstore.ErrUnavailable)
	require.ErrorIs(t, err, resilience.ErrOpenCircuit)
	require.Equal(t, 2, inner.calls, "open breaker must not reach the store")
}

func TestGuardedIgnoresCallerErrors(t *testing.T) {
	breaker := resilience.NewBreaker(1, 0.5, time.Minute).WithTarget("docstore_caller")
	guarded := docstore.WithBreaker(docstore.NewMemory(), breaker)
	boom := errors.New("insufficient stock")
	err := guarded.Update(context.Background(), []string{"k"}, func(docstore.Tx) error { return boom })
	require.ErrorIs(t, err, boom)
	require.Equal(t, resilience.Closed, breaker.State())
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	require.NoError(t, docstore.Migrate(dsn))
	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	_, err = pool.Exec(context.Background(), `DELETE FROM documents WHERE key IN ('counter','other')`)
	require.NoError(t, err)

	exerciseStore(t, docstore.NewPostgres(pool))
}
