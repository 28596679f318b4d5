package shutdown

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthHandler_OKBeforeShutdown(t *testing.T) {
	m := New(Config{HealthProbeDelay: time.Hour, CancellationDelay: time.Hour})

	rec := httptest.NewRecorder()
	m.HealthHandler(rec, httptest.NewRequest("GET", "/debug/health", nil))

	assert.Equal(t, 200, rec.Code)
	assert.False(t, m.ShuttingDown())
}

func TestHealthHandler_UnavailableOnceShuttingDown(t *testing.T) {
	m := New(Config{HealthProbeDelay: time.Hour, CancellationDelay: time.Hour})
	m.shuttingDown.Store(true)

	rec := httptest.NewRecorder()
	m.HealthHandler(rec, httptest.NewRequest("GET", "/debug/health", nil))

	assert.Equal(t, 503, rec.Code)
}

func TestTrack_ReturnsDoneFunc(t *testing.T) {
	m := New(Config{HealthProbeDelay: time.Hour, CancellationDelay: time.Hour})

	done := m.Track()
	require.NotNil(t, done)
	done()

	waited := make(chan struct{})
	go func() {
		m.inFlight.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("inFlight wait group did not drain after Done()")
	}
}

func TestDebugMux_ServesHealth(t *testing.T) {
	m := New(Config{HealthProbeDelay: time.Hour, CancellationDelay: time.Hour})

	rec := httptest.NewRecorder()
	m.DebugMux().ServeHTTP(rec, httptest.NewRequest("GET", "/debug/health", nil))

	assert.Equal(t, 200, rec.Code)
}

func TestManager_ContextNotCancelledBeforeSignal(t *testing.T) {
	m := New(Config{HealthProbeDelay: time.Hour, CancellationDelay: time.Hour})

	select {
	case <-m.Done():
		t.Fatal("context should not be cancelled without a signal")
	default:
	}
}
