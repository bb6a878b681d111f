package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MrWong99/callintake/pkg/provider/llm"
)

func TestCall_Success(t *testing.T) {
	t.Parallel()

	got, out := Call(context.Background(), Policy{Name: "stt", Retries: 1},
		func(context.Context) (string, error) { return "алло", nil }, "")
	if got != "алло" {
		t.Errorf("Call() = %q, want %q", got, "алло")
	}
	if out.FellBack() {
		t.Errorf("FellBack() = true, want false (err %v)", out.Err)
	}
	if out.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", out.Attempts)
	}
}

func TestCall_RetriesOnceThenSucceeds(t *testing.T) {
	t.Parallel()

	calls := 0
	got, out := Call(context.Background(), Policy{Retries: 1}, func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errTest
		}
		return 42, nil
	}, -1)
	if got != 42 {
		t.Errorf("Call() = %d, want 42", got)
	}
	if out.Attempts != 2 || out.FellBack() {
		t.Errorf("outcome = %+v, want 2 attempts without fallback", out)
	}
}

func TestCall_RetriesAreCapped(t *testing.T) {
	t.Parallel()

	calls := 0
	got, out := Call(context.Background(), Policy{Retries: 5}, func(context.Context) (int, error) {
		calls++
		return 0, errTest
	}, -1)
	if got != -1 {
		t.Errorf("Call() = %d, want fallback -1", got)
	}
	if calls != MaxRetries+1 {
		t.Errorf("calls = %d, want %d", calls, MaxRetries+1)
	}
	if !errors.Is(out.Err, errTest) {
		t.Errorf("Err = %v, want errTest", out.Err)
	}
}

func TestCall_NegativeRetriesMeansOneAttempt(t *testing.T) {
	t.Parallel()

	calls := 0
	_, out := Call(context.Background(), Policy{Retries: -3}, func(context.Context) (int, error) {
		calls++
		return 0, errTest
	}, 0)
	if calls != 1 || out.Attempts != 1 {
		t.Errorf("calls = %d, attempts = %d, want 1 and 1", calls, out.Attempts)
	}
}

func TestCall_PermanentErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	calls := 0
	_, out := Call(context.Background(), Policy{Retries: 1}, func(context.Context) (int, error) {
		calls++
		return 0, Permanent(errTest)
	}, 0)
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !errors.Is(out.Err, errTest) {
		t.Errorf("Err = %v, want it to unwrap to errTest", out.Err)
	}
}

func TestCall_SelfDeclaredPermanentIsNotRetried(t *testing.T) {
	t.Parallel()

	calls := 0
	_, out := Call(context.Background(), Policy{Retries: 2}, func(context.Context) (int, error) {
		calls++
		return 0, fmt.Errorf("analyze: %w", &llm.RequestError{StatusCode: 401, Err: errTest})
	}, 0)
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !IsPermanent(out.Err) {
		t.Errorf("IsPermanent(%v) = false, want true", out.Err)
	}
	if IsPermanent(errTest) || IsPermanent(nil) {
		t.Error("IsPermanent on a plain error or nil = true, want false")
	}
}

func TestCall_TimeoutBoundsEachAttempt(t *testing.T) {
	t.Parallel()

	start := time.Now()
	got, out := Call(context.Background(), Policy{Timeout: 20 * time.Millisecond, Retries: 1},
		func(ctx context.Context) (string, error) {
			<-ctx.Done()
			return "late", ctx.Err()
		}, "fallback")
	if got != "fallback" {
		t.Errorf("Call() = %q, want %q", got, "fallback")
	}
	if !errors.Is(out.Err, context.DeadlineExceeded) {
		t.Errorf("Err = %v, want DeadlineExceeded", out.Err)
	}
	if out.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", out.Attempts)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("elapsed = %v, want the timeout to bound the call", elapsed)
	}
}

func TestCall_CancelledContextSkipsRetry(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, out := Call(ctx, Policy{Retries: 1}, func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, errTest
	}, 0)
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !out.FellBack() {
		t.Error("FellBack() = false, want true")
	}
}

func TestCall_RecoversPanic(t *testing.T) {
	t.Parallel()

	got, out := Call(context.Background(), Policy{}, func(context.Context) ([]byte, error) {
		panic("backend exploded")
	}, nil)
	if got != nil {
		t.Errorf("Call() = %v, want nil fallback", got)
	}
	if out.Err == nil {
		t.Fatal("Err = nil, want panic converted to error")
	}
}
