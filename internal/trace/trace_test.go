package trace

import (
	"context"
	"errors"
	"testing"
)

func TestNewContext(t *testing.T) {
	tc := New()
	if len(tc.TraceID) != 32 {
		t.Errorf("trace ID should be 32 chars, got %d", len(tc.TraceID))
	}
	if len(tc.SpanID) != 16 {
		t.Errorf("span ID should be 16 chars, got %d", len(tc.SpanID))
	}
	if tc.ParentSpanID != "" {
		t.Error("new context should not have parent span ID")
	}
}

func TestIDsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := New().TraceID
		if seen[id] {
			t.Error("generated duplicate trace ID")
		}
		seen[id] = true
	}
}

func TestChild(t *testing.T) {
	parent := New()
	child := parent.Child()

	if child.TraceID != parent.TraceID {
		t.Error("child should inherit trace ID")
	}
	if child.SpanID == parent.SpanID {
		t.Error("child should have new span ID")
	}
	if child.ParentSpanID != parent.SpanID {
		t.Error("child's parent should be parent's span ID")
	}

	orphan := Context{}.Child()
	if len(orphan.TraceID) != 32 || orphan.ParentSpanID != "" {
		t.Errorf("child of empty context = %+v, want a fresh trace", orphan)
	}
}

func TestContextPropagation(t *testing.T) {
	tc := New()
	ctx := WithContext(context.Background(), tc)

	extracted, ok := FromContext(ctx)
	if !ok {
		t.Fatal("should extract trace context")
	}
	if extracted != tc {
		t.Errorf("FromContext = %+v, want %+v", extracted, tc)
	}
	if _, ok := FromContext(context.Background()); ok {
		t.Error("should not find trace context in empty context")
	}
}

func TestSessionAndCycle(t *testing.T) {
	ctx := WithCycle(WithSession(context.Background(), "sess-1"), 7)
	if got := SessionFrom(ctx); got != "sess-1" {
		t.Errorf("SessionFrom = %q, want %q", got, "sess-1")
	}
	if got := CycleFrom(ctx); got != 7 {
		t.Errorf("CycleFrom = %d, want 7", got)
	}
	if SessionFrom(context.Background()) != "" || CycleFrom(context.Background()) != 0 {
		t.Error("empty context should have no session or cycle")
	}
	Logger(ctx).Info("test message")
}

func TestStartSpan(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "recognize")

	if span.Name != "recognize" {
		t.Error("span name mismatch")
	}
	if span.StartTime.IsZero() {
		t.Error("span should have start time")
	}
	if tc, _ := FromContext(ctx); tc != span.Ctx {
		t.Errorf("ctx span = %+v, want %+v", tc, span.Ctx)
	}

	span.SetAttr("lines", 3)
	if span.Duration() != 0 {
		t.Error("open span should have zero duration")
	}
	span.End()
	end := span.EndTime
	span.End()

	if end.IsZero() || span.EndTime != end {
		t.Error("End should set the end time once")
	}
	if span.Attrs["lines"] != 3 {
		t.Error("span attribute mismatch")
	}
}

func TestSpanNested(t *testing.T) {
	ctx, parent := StartSpan(context.Background(), "cycle")
	_, child := StartSpan(ctx, "persist")

	if child.Ctx.TraceID != parent.Ctx.TraceID {
		t.Error("child should inherit trace ID")
	}
	if child.Ctx.ParentSpanID != parent.Ctx.SpanID {
		t.Error("child's parent should be parent's span")
	}
}

func TestSpanFail(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "classify")
	span.Fail(nil)
	if span.Err != nil {
		t.Error("Fail(nil) should not mark the span")
	}

	boom := errors.New("boom")
	span.Fail(boom)
	span.EndAndLog(ctx)
	if span.Err != boom {
		t.Errorf("Err = %v, want %v", span.Err, boom)
	}
	if span.EndTime.IsZero() {
		t.Error("EndAndLog should end the span")
	}
}
