package refresh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/star/tletrack/internal/store"
	"github.com/star/tletrack/internal/tle"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func feed(n int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "SAT-%02d\n1 %05dU 24001A   24100.50000000  .00000000  00000-0  00000-0 0  9990\n2 %05d  53.0000 200.0000 0001500  90.0000 270.0000 15.06000000    05\n", i, i, i)
	}
	return b.String()
}

// feedServer serves whatever body currently holds.
func feedServer(t *testing.T, body *atomic.Value) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v, _ := body.Load().(string)
		if v == "FAIL" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		io.WriteString(w, v)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func storedNames(t *testing.T, s *store.Store) []string {
	t.Helper()
	recs, err := s.List(context.Background(), 0, 1000)
	require.NoError(t, err)
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Name
	}
	return out
}

func TestRunOnceStoresParsedFeed(t *testing.T) {
	var body atomic.Value
	body.Store(feed(4))
	srv := feedServer(t, &body)

	st := store.OpenMemory(t)
	r := New(tle.NewFetcher(srv.URL, testLogger()), st, nil, Config{}, testLogger())

	res, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, res.Count)
	assert.Equal(t, int64(0), res.Cleared)
	assert.NotEmpty(t, res.CycleID)

	assert.Equal(t, []string{"SAT-01", "SAT-02", "SAT-03", "SAT-04"}, storedNames(t, st))

	recs, err := st.FindByNames(context.Background(), []string{"SAT-03"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, strings.HasPrefix(recs[0].Line1, "1 00003U"))
	assert.True(t, strings.HasPrefix(recs[0].Line2, "2 00003"))

	meta, err := st.Meta(context.Background())
	require.NoError(t, err)
	assert.Equal(t, res.CycleID, meta.CycleID)
	assert.Equal(t, []string{srv.URL}, meta.Sources)
	assert.Equal(t, 4, meta.Count)
}

func TestRunOnceKeepsStoreOnBadFeed(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{"too few lines", "SAT-01\n1 00001U\n\n", tle.ErrInsufficientData},
		{"empty body", "", tle.ErrInsufficientData},
		{"upstream error", "FAIL", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body atomic.Value
			body.Store(feed(3))
			srv := feedServer(t, &body)

			st := store.OpenMemory(t)
			r := New(tle.NewFetcher(srv.URL, testLogger()), st, nil, Config{}, testLogger())

			first, err := r.RunOnce(context.Background())
			require.NoError(t, err)

			body.Store(tt.body)
			_, err = r.RunOnce(context.Background())
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}

			assert.Equal(t, []string{"SAT-01", "SAT-02", "SAT-03"}, storedNames(t, st))
			meta, err := st.Meta(context.Background())
			require.NoError(t, err)
			assert.Equal(t, first.CycleID, meta.CycleID)
		})
	}
}

func TestRunOnceIsIdempotentForSameFeed(t *testing.T) {
	var body atomic.Value
	body.Store(feed(5))
	srv := feedServer(t, &body)

	st := store.OpenMemory(t)
	r := New(tle.NewFetcher(srv.URL, testLogger()), st, nil, Config{}, testLogger())

	_, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	first, err := st.List(context.Background(), 0, 100)
	require.NoError(t, err)

	res, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Cleared)

	second, err := st.List(context.Background(), 0, 100)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

type blockingSource struct {
	entered chan struct{}
	release chan struct{}
	body    []byte
}

func (b *blockingSource) Fetch(ctx context.Context) ([]byte, error) {
	close(b.entered)
	select {
	case <-b.release:
		return b.body, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *blockingSource) Sources() []string { return []string{"blocking"} }

func TestRunOnceRejectsOverlappingCycle(t *testing.T) {
	src := &blockingSource{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		body:    []byte(feed(2)),
	}
	st := store.OpenMemory(t)
	r := New(src, st, nil, Config{}, testLogger())

	done := make(chan error, 1)
	go func() {
		_, err := r.RunOnce(context.Background())
		done <- err
	}()

	<-src.entered
	_, err := r.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrCycleInFlight)

	close(src.release)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"SAT-01", "SAT-02"}, storedNames(t, st))

	// The guard is released once the cycle finishes.
	src2 := &blockingSource{entered: make(chan struct{}), release: make(chan struct{}), body: []byte(feed(1))}
	close(src2.release)
	r.source = src2
	_, err = r.RunOnce(context.Background())
	assert.NoError(t, err)
}

type failingReplacer struct{ calls int }

func (f *failingReplacer) ReplaceAll(context.Context, []tle.Record, store.FeedMeta) (int64, error) {
	f.calls++
	return 0, errors.New("disk full")
}

func TestRunOnceReportsStoreError(t *testing.T) {
	var body atomic.Value
	body.Store(feed(3))
	srv := feedServer(t, &body)

	rep := &failingReplacer{}
	r := New(tle.NewFetcher(srv.URL, testLogger()), rep, nil, Config{}, testLogger())

	_, err := r.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 1, rep.calls)
}

func TestCachedFeedRestoresDataset(t *testing.T) {
	var body atomic.Value
	body.Store(feed(3))
	srv := feedServer(t, &body)

	cache := tle.NewCache(t.TempDir(), 2)
	r := New(tle.NewFetcher(srv.URL, testLogger()), store.OpenMemory(t), cache, Config{}, testLogger())
	_, err := r.RunOnce(context.Background())
	require.NoError(t, err)

	// A fresh process with an empty store warms up from the cache.
	fresh := store.OpenMemory(t)
	r2 := New(tle.NewFetcher(srv.URL, testLogger()), fresh, cache, Config{}, testLogger())
	res, err := r2.LoadCached(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Count)
	assert.Equal(t, []string{"SAT-01", "SAT-02", "SAT-03"}, storedNames(t, fresh))

	meta, err := fresh.Meta(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"cache:" + cache.Dir()}, meta.Sources)
}

func TestLoadCachedWithoutCache(t *testing.T) {
	r := New(&blockingSource{}, store.OpenMemory(t), nil, Config{}, testLogger())
	_, err := r.LoadCached(context.Background())
	assert.ErrorIs(t, err, tle.ErrNoCachedFeed)
}

func TestRunRefreshesOnStartAndStops(t *testing.T) {
	var body atomic.Value
	body.Store(feed(2))
	srv := feedServer(t, &body)

	st := store.OpenMemory(t)
	r := New(tle.NewFetcher(srv.URL, testLogger()), st, nil,
		Config{Interval: time.Hour, RunOnStart: true}, testLogger())
	assert.Equal(t, time.Hour, r.Interval())

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(stopped)
	}()

	require.Eventually(t, func() bool {
		n, err := st.Count(context.Background())
		return err == nil && n == 2
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestConfigDefaults(t *testing.T) {
	r := New(&blockingSource{}, &failingReplacer{}, nil, Config{}, nil)
	assert.Equal(t, DefaultInterval, r.Interval())
}
