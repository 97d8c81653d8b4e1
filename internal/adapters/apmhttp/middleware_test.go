package apmhttp

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3" // Import for side effects
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fllarpy/callprobe/domain/calls"
	"github.com/fllarpy/callprobe/internal/adapters/apmsql"
	"github.com/fllarpy/callprobe/profiling"
)

// recordingSink keeps every submitted record.
type recordingSink struct {
	mu      sync.Mutex
	records []calls.Record
}

func (s *recordingSink) Submit(r calls.Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	return true
}

func (s *recordingSink) all() []calls.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]calls.Record(nil), s.records...)
}

// setupTestDB sets up an in-memory SQLite database for testing.
func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	realDriver := db.Driver()
	require.NoError(t, db.Close())

	// We use a unique name for each test to avoid panics from re-registering.
	driverName := fmt.Sprintf("sqlite3-apmhttp-%s", t.Name())
	apmsql.Register(driverName, realDriver)

	db, err = sql.Open(driverName, ":memory:")
	require.NoError(t, err, "Failed to open in-memory DB")
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT);
		INSERT INTO users (id, name) VALUES (1, 'Alice'), (2, 'Bob'), (3, 'Charlie');
	`)
	require.NoError(t, err, "Failed to create schema and seed data")

	return db
}

func newProfiler(t *testing.T, cfg profiling.Config) *profiling.Profiler {
	t.Helper()
	p, err := profiling.NewProfiler(cfg, profiling.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	return p
}

func TestMiddleware_RecordsCallTree(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	sink := &recordingSink{}
	p := newProfiler(t, profiling.DefaultConfig())

	// This handler fetches users one by one in a loop.
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		defer profiling.Enter(ctx, "").Exit("public void com.example.UserController.list()")
		for i := 1; i <= 3; i++ {
			loadUser(ctx, t, db, i)
		}
		w.WriteHeader(http.StatusOK)
	})

	server := httptest.NewServer(Middleware(p, sink, handler))
	defer server.Close()

	resp, err := http.Get(server.URL + "/users")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	records := sink.all()
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "GET /users", rec.Label)
	assert.Equal(t, http.StatusOK, rec.Status)
	assert.False(t, rec.Timestamp.IsZero())
	assert.False(t, rec.Corrupted)

	root := rec.Root
	require.NotNil(t, root)
	assert.Equal(t, "GET /users", root.Signature)
	assert.False(t, root.Incomplete)
	require.Len(t, root.Children, 1)

	list := root.Children[0]
	assert.Equal(t, "UserController#list", list.ShortSignature)
	require.Len(t, list.Children, 3)
	for _, c := range list.Children {
		assert.Equal(t, "loadUser()", c.Signature)
		require.Len(t, c.IOCalls, 1)
		assert.Equal(t, "SELECT name FROM users WHERE id = ?", c.IOCalls[0].Description)
	}
	assert.Equal(t, 3, root.IOCallCount)
	assert.Equal(t, uint64(1), p.Stats().Activated)
}

func loadUser(ctx context.Context, t *testing.T, db *sql.DB, id int) {
	defer profiling.Enter(ctx, "loadUser()").Exit("")
	var name string
	assert.NoError(t, db.QueryRowContext(ctx, "SELECT name FROM users WHERE id = ?", id).Scan(&name))
}

func TestMiddleware_RecoversFromPanics(t *testing.T) {
	sink := &recordingSink{}
	p := newProfiler(t, profiling.DefaultConfig())

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		profiling.Start(r.Context(), "leaks()")
		panic(http.ErrAbortHandler)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/orders", nil)
	assert.Panics(t, func() {
		Middleware(p, sink, handler).ServeHTTP(rec, req)
	})

	records := sink.all()
	require.Len(t, records, 1)
	assert.Equal(t, "POST /orders", records[0].Label)
	assert.Equal(t, http.StatusInternalServerError, records[0].Status)
	require.Len(t, records[0].Root.Children, 1)
	assert.True(t, records[0].Root.Children[0].Incomplete)
	assert.Equal(t, uint64(1), p.Stats().Recovered)
	assert.False(t, profiling.IsActive(req.Context()))
}

func TestMiddleware_StatusOnPanic(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    int
	}{
		{"before header", func(http.ResponseWriter, *http.Request) {
			panic("boom")
		}, http.StatusInternalServerError},
		{"after header", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusAccepted)
			panic("boom")
		}, http.StatusAccepted},
		{"after body", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("partial"))
			panic("boom")
		}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			p := newProfiler(t, profiling.DefaultConfig())

			req := httptest.NewRequest(http.MethodGet, "/fail", nil)
			assert.PanicsWithValue(t, "boom", func() {
				Middleware(p, sink, tt.handler).ServeHTTP(httptest.NewRecorder(), req)
			})

			records := sink.all()
			require.Len(t, records, 1)
			assert.Equal(t, tt.want, records[0].Status)
		})
	}
}

func TestMiddleware_Nested(t *testing.T) {
	sink := &recordingSink{}
	p := newProfiler(t, profiling.DefaultConfig())

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, profiling.IsActive(r.Context()))
	})
	handler := Middleware(p, sink, Middleware(p, sink, inner))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, sink.all(), 1)
}

func TestMiddleware_Disabled(t *testing.T) {
	sink := &recordingSink{}
	p := newProfiler(t, profiling.Config{Enabled: false})
	require.Nil(t, p)

	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.False(t, profiling.IsActive(r.Context()))
	})

	Middleware(p, sink, handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
	assert.Empty(t, sink.all())
}

func TestMiddleware_ConcurrentRequestsAreIsolated(t *testing.T) {
	sink := &recordingSink{}
	p := newProfiler(t, profiling.Config{Enabled: true, ShortSignatures: true, PoolCapacity: 16, CheckOwner: true})

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		n := len(r.URL.Path)
		for i := 0; i < n; i++ {
			profiling.Enter(ctx, "step()").Exit("")
		}
	})
	server := httptest.NewServer(Middleware(p, sink, handler))
	defer server.Close()

	paths := []string{"/a", "/bb", "/ccc", "/dddd", "/eeeee"}
	var wg sync.WaitGroup
	for _, path := range paths {
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			resp, err := http.Get(server.URL + path)
			if assert.NoError(t, err) {
				resp.Body.Close()
			}
		}(path)
	}
	wg.Wait()

	records := sink.all()
	require.Len(t, records, len(paths))
	for _, rec := range records {
		path := rec.Label[len("GET "):]
		assert.Len(t, rec.Root.Children, len(path), rec.Label)
		assert.False(t, rec.Corrupted)
	}
	assert.Zero(t, p.Stats().OwnerViolations)
}
