package observability

import (
	"context"
	"log/slog"
	"time"
)

// Span times one unit of work and logs its outcome when ended.
type Span struct {
	ctx   context.Context
	name  string
	start time.Time
	attrs []slog.Attr
}

// StartSpan begins a span named name. The returned context carries the operation name.
func StartSpan(ctx context.Context, name string, attrs ...slog.Attr) (context.Context, *Span) {
	ctx = WithOperation(ctx, name)
	span := &Span{ctx: ctx, name: name, start: time.Now(), attrs: attrs}
	DebugContext(ctx, "Span started", attrs...)
	return ctx, span
}

// SetAttr adds an attribute reported when the span ends.
func (s *Span) SetAttr(attr slog.Attr) {
	s.attrs = append(s.attrs, attr)
}

// Duration returns the time elapsed since the span started.
func (s *Span) Duration() time.Duration {
	return time.Since(s.start)
}

// End logs the span duration, at warn level when err is non-nil.
func (s *Span) End(err error) time.Duration {
	d := s.Duration()
	attrs := append(s.attrs, slog.Int64("duration_ms", d.Milliseconds()))
	if err != nil {
		WarnContext(s.ctx, "Span failed", append(attrs, slog.String("error", err.Error()))...)
		return d
	}
	DebugContext(s.ctx, "Span ended", attrs...)
	return d
}
