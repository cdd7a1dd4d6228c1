package cli

import (
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/fjod/storefront/internal/devserver"
)

// fakeAPI is the development backend plus a log of search queries.
type fakeAPI struct {
	handler http.Handler

	mu       sync.Mutex
	searches []string
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	repo, err := devserver.NewRepository(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	require.NoError(t, repo.RunMigrations())

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	h := devserver.NewHandler(repo, devserver.NewRedisState(rdb), slog.New(slog.NewTextHandler(io.Discard, nil)))
	return &fakeAPI{handler: devserver.NewRouter(devserver.Config{}, h, nil, nil)}
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/api/v1/products/search" {
		f.mu.Lock()
		f.searches = append(f.searches, r.URL.Query().Get("value"))
		f.mu.Unlock()
	}
	f.handler.ServeHTTP(w, r)
}

func (f *fakeAPI) searchQueries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.searches...)
}
