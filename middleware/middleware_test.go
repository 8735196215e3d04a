package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/arkstor/coreplane"
	"github.com/arkstor/coreplane/id"
	"github.com/arkstor/coreplane/job"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCall(j *job.Job) *Call {
	return &Call{Method: "test.method", Job: j}
}

func TestChainOrder(t *testing.T) {
	t.Parallel()

	var order []string
	mw := func(name string) Middleware {
		return func(ctx context.Context, c *Call, next Handler) (any, error) {
			order = append(order, name+":before")
			result, err := next(ctx)
			order = append(order, name+":after")
			return result, err
		}
	}

	chain := Chain(mw("outer"), mw("inner"))
	result, err := chain(context.Background(), testCall(nil), func(context.Context) (any, error) {
		order = append(order, "handler")
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if result != "ok" {
		t.Fatalf("result = %v", result)
	}

	want := []string{"outer:before", "inner:before", "handler", "inner:after", "outer:after"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestChainEmpty(t *testing.T) {
	t.Parallel()

	chain := Chain()
	result, err := chain(context.Background(), testCall(nil), func(context.Context) (any, error) {
		return 7, nil
	})
	if err != nil || result != 7 {
		t.Fatalf("empty chain = (%v, %v)", result, err)
	}
}

func TestRecoverConvertsPanic(t *testing.T) {
	t.Parallel()

	mw := Recover(testLogger())
	_, err := mw(context.Background(), testCall(nil), func(context.Context) (any, error) {
		panic("kaboom")
	})
	if err == nil {
		t.Fatal("expected error from panic")
	}
	var internal *coreplane.InternalError
	if !errors.As(err, &internal) {
		t.Fatalf("err = %T, want *InternalError", err)
	}
	if internal.Stack == "" {
		t.Fatal("stack trace missing")
	}
}

func TestRecoverPassThrough(t *testing.T) {
	t.Parallel()

	mw := Recover(testLogger())
	result, err := mw(context.Background(), testCall(nil), func(context.Context) (any, error) {
		return 42, nil
	})
	if err != nil || result != 42 {
		t.Fatalf("got (%v, %v)", result, err)
	}
}

func TestLoggingPassesResultAndError(t *testing.T) {
	t.Parallel()

	mw := Logging(testLogger())
	j := job.New(id.NewJobID(), "test.method", nil, job.Build())

	result, err := mw(context.Background(), testCall(j), func(context.Context) (any, error) {
		return "value", nil
	})
	if err != nil || result != "value" {
		t.Fatalf("got (%v, %v)", result, err)
	}

	wantErr := &coreplane.ValidationError{Field: "name", Message: "required"}
	_, err = mw(context.Background(), testCall(j), func(context.Context) (any, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
}

func TestTimeoutCancelsContext(t *testing.T) {
	t.Parallel()

	mw := Timeout(testLogger())
	c := testCall(nil)
	c.Timeout = 10 * time.Millisecond

	_, err := mw(context.Background(), c, func(ctx context.Context) (any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return "too slow", nil
		}
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
}

func TestTimeoutZeroIsNoop(t *testing.T) {
	t.Parallel()

	mw := Timeout(testLogger())
	result, err := mw(context.Background(), testCall(nil), func(ctx context.Context) (any, error) {
		if _, ok := ctx.Deadline(); ok {
			return nil, errors.New("unexpected deadline")
		}
		return "ok", nil
	})
	if err != nil || result != "ok" {
		t.Fatalf("got (%v, %v)", result, err)
	}
}
