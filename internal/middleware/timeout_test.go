package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeoutPassesThroughFastHandler(t *testing.T) {
	h := Timeout(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("fast"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "fast", rec.Body.String())
}

func TestTimeoutDropsLateHandlerWrites(t *testing.T) {
	wrote := make(chan struct{})
	h := Timeout(20*time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		w.Header().Set("X-Late", "1")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("late"))
		close(wrote)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	// wait for the handler's post-deadline writes before inspecting
	select {
	case <-wrote:
	case <-time.After(time.Second):
		t.Fatal("handler never finished")
	}

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.JSONEq(t, `{"ok":false,"error":"gateway_timeout"}`, rec.Body.String())
	assert.Empty(t, rec.Header().Get("X-Late"))
}
