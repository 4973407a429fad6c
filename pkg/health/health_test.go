package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passingCheck() CheckFunc {
	return func(context.Context) error { return nil }
}

func failingCheck(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

func TestLiveEndpoint_AllPassing(t *testing.T) {
	h := New()
	h.AddLivenessCheck("goroutines", time.Second, passingCheck())
	h.liveness[0].run(context.Background())

	w := httptest.NewRecorder()
	h.LiveEndpoint(w, httptest.NewRequest(http.MethodGet, "/livez", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{"status": "ok"}, decode(t, w))
}

func TestLiveEndpoint_FailureThreshold(t *testing.T) {
	h := New()
	h.AddLivenessCheck("goroutines", time.Second, failingCheck("too many"))
	c := h.liveness[0]
	ctx := context.Background()

	c.run(ctx)
	c.run(ctx)
	w := httptest.NewRecorder()
	h.LiveEndpoint(w, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, http.StatusOK, w.Code, "two failures stay below the threshold")

	c.run(ctx)
	w = httptest.NewRecorder()
	h.LiveEndpoint(w, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decode(t, w)
	assert.Equal(t, "unhealthy", body["status"])
	assert.Equal(t, map[string]any{"goroutines": "too many"}, body["checks"])
}

func TestReadyEndpoint(t *testing.T) {
	tests := []struct {
		name   string
		ready  bool
		checks map[string]CheckFunc
		want   int
		failed []string
	}{
		{name: "ready and passing", ready: true, checks: map[string]CheckFunc{"postgres": passingCheck(), "redis": passingCheck()}, want: http.StatusOK},
		{name: "not marked ready", ready: false, checks: map[string]CheckFunc{"postgres": passingCheck()}, want: http.StatusServiceUnavailable, failed: []string{"_readiness"}},
		{name: "one failing", ready: true, checks: map[string]CheckFunc{"postgres": passingCheck(), "redis": failingCheck("refused")}, want: http.StatusServiceUnavailable, failed: []string{"redis"}},
		{name: "no checks", ready: true, want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New()
			for name, fn := range tt.checks {
				h.AddReadinessCheck(name, time.Second, fn)
			}
			for _, c := range h.readiness {
				for range failureThreshold {
					c.run(context.Background())
				}
			}
			h.SetReady(tt.ready)

			w := httptest.NewRecorder()
			h.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			assert.Equal(t, tt.want, w.Code)
			assert.Equal(t, tt.want == http.StatusOK, h.IsReady())

			body := decode(t, w)
			if len(tt.failed) == 0 {
				assert.NotContains(t, body, "checks")
				return
			}
			checks := body["checks"].(map[string]any)
			for _, name := range tt.failed {
				assert.Contains(t, checks, name)
			}
		})
	}
}

func TestCheckRecovery(t *testing.T) {
	failing := true
	h := New()
	h.AddReadinessCheck("postgres", time.Second, func(context.Context) error {
		if failing {
			return errors.New("down")
		}
		return nil
	})
	c := h.readiness[0]
	ctx := context.Background()

	for range failureThreshold {
		c.run(ctx)
	}
	msg, failed := c.failure()
	assert.True(t, failed)
	assert.Equal(t, "down", msg)

	failing = false
	c.run(ctx)
	_, failed = c.failure()
	assert.False(t, failed)
}

func TestCheckTimeout(t *testing.T) {
	h := New()
	h.AddReadinessCheck("slow", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	c := h.readiness[0]
	for range failureThreshold {
		c.run(context.Background())
	}
	msg, failed := c.failure()
	assert.True(t, failed)
	assert.Contains(t, msg, "deadline exceeded")
}

func TestStartStop(t *testing.T) {
	h := New()
	h.AddLivenessCheck("live", time.Second, failingCheck("err"))
	h.AddReadinessCheck("ready", time.Second, passingCheck())
	h.SetReady(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		w := httptest.NewRecorder()
		h.LiveEndpoint(w, httptest.NewRequest(http.MethodGet, "/livez", nil))
		return w.Code == http.StatusServiceUnavailable
	}, time.Second, 5*time.Millisecond)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				h.IsReady()
				h.ReadyEndpoint(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/readyz", nil))
			}
		}()
	}
	wg.Wait()
	h.Stop()
	h.Stop()
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestCheckers(t *testing.T) {
	ctx := context.Background()

	assert.NoError(t, GoroutineCountCheck(100000)(ctx))
	err := GoroutineCountCheck(0)(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds threshold")

	assert.NoError(t, PingCheck(fakePinger{})(ctx))
	err = PingCheck(fakePinger{err: errors.New("conn refused")})(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conn refused")
}
