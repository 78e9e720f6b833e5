package server

import (
	"context"
	"net/http"
	"time"
)

// TimeoutMiddleware caps how long a webhook request may run. A caller on
// the phone is waiting for the next prompt, so the cap sits above the
// worst-case turn latency budget but well below the telephony layer's
// own timeout. Cancellation is cooperative: the dialog machine and the
// routing engine observe ctx.Done() at their suspension points.
func TimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
