package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestCheck_NoChecksIsHealthy(t *testing.T) {
	status := NewChecker("test", 0).Check(context.Background())
	assert.True(t, status.Healthy)
	assert.Equal(t, "no checks registered", status.Message)
}

func TestCheck_OptionalFailureDegrades(t *testing.T) {
	c := NewChecker("test", time.Second)
	c.AddCheck("postgres", PingCheck(pinger{}))
	c.AddOptional("standings", func(context.Context) error { return errors.New("circuit breaker is open") })

	status := c.Check(context.Background())
	assert.True(t, status.Healthy)
	assert.Equal(t, []string{"standings"}, status.Degraded)
	assert.Equal(t, "degraded: standings", status.Message)
	assert.True(t, status.Checks["postgres"].Healthy)
	assert.False(t, status.Checks["standings"].Critical)
}

func TestCheck_TimeoutFailsCheck(t *testing.T) {
	c := NewChecker("test", 20*time.Millisecond)
	c.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	status := c.Check(context.Background())
	assert.False(t, status.Healthy)
	assert.Equal(t, "failed: slow", status.Message)
}

func TestReadyHandler(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"database up", nil, http.StatusOK},
		{"database down", errors.New("connection refused"), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker("v1", time.Second)
			c.AddCheck("postgres", PingCheck(pinger{err: tt.err}))

			rec := httptest.NewRecorder()
			c.ReadyHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			var body Status
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.err == nil, body.Healthy)
			assert.Equal(t, "v1", body.Version)
		})
	}
}

func TestLiveHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	LiveHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
