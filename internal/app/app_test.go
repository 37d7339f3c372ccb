package app

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockApp(t *testing.T, env map[string]string) *App {
	t.Setenv("USE_MOCK_DB", "true")
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("PORT", "0")
	for k, v := range env {
		t.Setenv(k, v)
	}

	a, err := New()
	require.NoError(t, err)
	return a
}

func TestNew_MockDB(t *testing.T) {
	a := newMockApp(t, nil)

	w := httptest.NewRecorder()
	a.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	a.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")

	assert.NoError(t, a.Shutdown())
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Setenv("USE_MOCK_DB", "true")
	t.Setenv("ACCEPT_POLICY", "lottery")

	_, err := New()
	assert.Error(t, err)
}

func TestSweeperStopsOnShutdown(t *testing.T) {
	a := newMockApp(t, map[string]string{"STALE_SWEEP_INTERVAL": "5ms"})

	a.startSweeper()
	require.NotNil(t, a.stopSweeper)

	assert.NoError(t, a.Shutdown())
}
