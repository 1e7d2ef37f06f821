// Package trace tags monitor work with trace, span, session and cycle ids so
// that the log lines of one cycle, and the inference calls it makes, can be
// joined back together.
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"time"
)

// Propagation keys, used as gRPC metadata and HTTP header names.
const (
	TraceIDKey      = "x-trace-id"
	SpanIDKey       = "x-span-id"
	ParentSpanIDKey = "x-parent-span-id"
	SessionKey      = "x-livetag-session"
	CycleKey        = "x-livetag-cycle"
)

type ctxKey int

const (
	spanKey ctxKey = iota
	sessionKey
	cycleKey
)

// Context identifies one span of a trace.
type Context struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
}

// New starts a trace: 128-bit trace id, 64-bit span id.
func New() Context {
	return Context{TraceID: randomHex(16), SpanID: randomHex(8)}
}

// Child returns a new span in the same trace, parented to c.
func (c Context) Child() Context {
	if c.TraceID == "" {
		return New()
	}
	return Context{TraceID: c.TraceID, SpanID: randomHex(8), ParentSpanID: c.SpanID}
}

// FromContext returns the span stored in ctx.
func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(spanKey).(Context)
	return tc, ok
}

// WithContext stores tc in ctx.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, spanKey, tc)
}

// WithSession tags ctx with a monitor session id.
func WithSession(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey, id)
}

// SessionFrom returns the session id stored by WithSession.
func SessionFrom(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey).(string)
	return id
}

// WithCycle tags ctx with the 1-based cycle number of the running session.
func WithCycle(ctx context.Context, n int) context.Context {
	return context.WithValue(ctx, cycleKey, n)
}

// CycleFrom returns the cycle number stored by WithCycle, or 0.
func CycleFrom(ctx context.Context) int {
	n, _ := ctx.Value(cycleKey).(int)
	return n
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Span times one stage of work.
type Span struct {
	Name      string
	Ctx       Context
	StartTime time.Time
	EndTime   time.Time
	Attrs     map[string]any
	Err       error
}

// StartSpan opens a span under the one in ctx, or a new trace if there is none.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	parent, _ := FromContext(ctx)
	s := &Span{
		Name:      name,
		Ctx:       parent.Child(),
		StartTime: time.Now(),
		Attrs:     make(map[string]any),
	}
	return WithContext(ctx, s.Ctx), s
}

// SetAttr records an attribute logged with the span.
func (s *Span) SetAttr(key string, val any) {
	s.Attrs[key] = val
}

// Fail marks the span as failed. A nil err is ignored.
func (s *Span) Fail(err error) {
	if err != nil {
		s.Err = err
	}
}

// End stops the clock. Calling it again keeps the first end time.
func (s *Span) End() {
	if s.EndTime.IsZero() {
		s.EndTime = time.Now()
	}
}

// EndAndLog ends the span and logs it: debug on success, warn on failure.
func (s *Span) EndAndLog(ctx context.Context) {
	s.End()
	log := Logger(ctx)
	if s.Err != nil {
		log.Warn("span failed", "span", s)
		return
	}
	log.Debug("span finished", "span", s)
}

// Duration is zero until End is called.
func (s *Span) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// LogValue implements slog.LogValuer.
func (s *Span) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("name", s.Name),
		slog.String("span_id", s.Ctx.SpanID),
		slog.Duration("duration", s.Duration()),
	}
	if s.Err != nil {
		attrs = append(attrs, slog.String("error", s.Err.Error()))
	}
	for k, v := range s.Attrs {
		attrs = append(attrs, slog.Any(k, v))
	}
	return slog.GroupValue(attrs...)
}

// Logger returns the default logger enriched with the session, cycle and
// span found in ctx.
func Logger(ctx context.Context) *slog.Logger {
	args := make([]any, 0, 10)
	if id := SessionFrom(ctx); id != "" {
		args = append(args, "session", id)
	}
	if n := CycleFrom(ctx); n > 0 {
		args = append(args, "cycle", n)
	}
	if tc, ok := FromContext(ctx); ok {
		args = append(args, "trace_id", tc.TraceID, "span_id", tc.SpanID)
		if tc.ParentSpanID != "" {
			args = append(args, "parent_span_id", tc.ParentSpanID)
		}
	}
	if len(args) == 0 {
		return slog.Default()
	}
	return slog.Default().With(args...)
}
