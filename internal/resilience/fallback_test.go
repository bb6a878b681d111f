package resilience

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

func newStringGroup(maxFailures int) *FallbackGroup[string] {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: maxFailures, ResetTimeout: time.Hour},
	})
	fg.AddFallback("secondary", "secondary")
	return fg
}

func TestFallbackGroup_Names(t *testing.T) {
	t.Parallel()

	fg := newStringGroup(3)
	if got, want := fg.Names(), []string{"primary", "secondary"}; !slices.Equal(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
	if fg.Breaker("secondary") == nil {
		t.Error("Breaker(secondary) = nil, want breaker")
	}
	if fg.Breaker("missing") != nil {
		t.Error("Breaker(missing) != nil, want nil")
	}
}

func TestFallbackGroup_Execute(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		failing    []string
		wantCalled []string
		wantErr    bool
	}{
		{"primary succeeds", nil, []string{"primary"}, false},
		{"primary fails", []string{"primary"}, []string{"primary", "secondary"}, false},
		{"all fail", []string{"primary", "secondary"}, []string{"primary", "secondary"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fg := newStringGroup(3)
			var called []string
			err := fg.Execute(func(v string) error {
				called = append(called, v)
				if slices.Contains(tt.failing, v) {
					return errTest
				}
				return nil
			})
			if !slices.Equal(called, tt.wantCalled) {
				t.Errorf("called = %v, want %v", called, tt.wantCalled)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrAllFailed) {
					t.Errorf("err = %v, want ErrAllFailed", err)
				}
				if !errors.Is(err, errTest) {
					t.Errorf("err = %v, want it to wrap the last entry error", err)
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestFallbackGroup_SkipsOpenProvider(t *testing.T) {
	t.Parallel()

	fg := newStringGroup(2)
	for range 2 {
		_ = fg.Execute(func(v string) error {
			if v == "primary" {
				return errTest
			}
			return nil
		})
	}

	var called []string
	if err := fg.Execute(func(v string) error {
		called = append(called, v)
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(called, []string{"secondary"}) {
		t.Fatalf("called = %v, want [secondary] (primary circuit should be open)", called)
	}
}

func TestExecuteWithResult_StopsOnCancellation(t *testing.T) {
	t.Parallel()

	fg := newStringGroup(3)
	var calls int
	_, err := ExecuteWithResult(fg, func(v string) (int, error) {
		calls++
		return 0, context.Canceled
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestExecuteWithResult_Failover(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup(10, "ten", FallbackConfig{})
	fg.AddFallback("twenty", 20)

	result, err := ExecuteWithResult(fg, func(v int) (int, error) {
		if v == 10 {
			return 0, errTest
		}
		return v * 2, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 40 {
		t.Fatalf("result = %d, want 40", result)
	}
}
