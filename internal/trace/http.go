package trace

import "net/http"

// Middleware continues the caller's trace when it sends x-trace-id, starts a
// new one otherwise, and echoes the trace id on the response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := Context{TraceID: r.Header.Get(TraceIDKey), SpanID: r.Header.Get(SpanIDKey)}
		tc := caller.Child()
		w.Header().Set(TraceIDKey, tc.TraceID)
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), tc)))
	})
}
