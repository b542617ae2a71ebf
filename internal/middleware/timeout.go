package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"fleetboard-backend/pkg/logging/logging"

	"go.uber.org/zap"
)

// Timeout cancels the request context after d and returns 504 if still running.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()

			tw := &timeoutWriter{w: w}
			r = r.WithContext(ctx)

			done := make(chan struct{})
			go func() {
				next.ServeHTTP(tw, r)
				close(done)
			}()

			select {
			case <-done:
				return
			case <-ctx.Done():
				logger := logging.L(ctx)
				logger.Warn("request timeout", zap.Duration("timeout", d))
				tw.writeTimeout()
			}
		})
	}
}

// timeoutWriter serializes access between the handler goroutine and the
// timeout path. Once the timeout response is sent, handler writes are
// silently dropped; without this both goroutines would race on the
// underlying ResponseWriter.
type timeoutWriter struct {
	mu       sync.Mutex
	w        http.ResponseWriter
	timedOut bool
}

func (tw *timeoutWriter) Header() http.Header {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut {
		return make(http.Header)
	}
	return tw.w.Header()
}

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut {
		return
	}
	tw.w.WriteHeader(code)
}

func (tw *timeoutWriter) Write(b []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut {
		return len(b), nil
	}
	return tw.w.Write(b)
}

func (tw *timeoutWriter) writeTimeout() {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	tw.timedOut = true
	tw.w.Header().Set("Content-Type", "application/json")
	tw.w.WriteHeader(http.StatusGatewayTimeout)
	_, _ = tw.w.Write([]byte(`{"ok":false,"error":"gateway_timeout"}`))
}

// MaxBodySize rejects request bodies larger than n bytes.
func MaxBodySize(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}
