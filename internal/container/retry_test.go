// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"testing"
	"time"
)

var (
	errMirror     = errors.New("E: Failed to fetch http://archive.ubuntu.com")
	errBadVersion = errors.New("E: Version '9.9' for 'gdal-bin' was not found")
)

// script returns an op that replays outcomes, one per attempt, and counts calls.
type script struct {
	outcomes []error
	calls    int
}

func (s *script) op(attempt int) (bool, error) {
	s.calls++
	err := s.outcomes[min(attempt, len(s.outcomes)-1)]
	return err != nil && !errors.Is(err, errBadVersion), err
}

func TestRetryWithBackoff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		attempts  int
		outcomes  []error
		wantErr   error
		wantCalls int
	}{
		{"first attempt succeeds", 3, []error{nil}, nil, 1},
		{"mirror recovers", 5, []error{errMirror, errMirror, nil}, nil, 3},
		{"mirror stays down", 3, []error{errMirror}, errMirror, 3},
		{"permanent failure", 5, []error{errBadVersion}, errBadVersion, 1},
		{"zero attempts runs once", 0, []error{errMirror}, errMirror, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := &script{outcomes: tt.outcomes}
			policy := RetryPolicy{MaxAttempts: tt.attempts, BaseBackoff: time.Millisecond}
			err := RetryWithBackoff(context.Background(), policy, s.op)
			if !errors.Is(err, tt.wantErr) || (tt.wantErr == nil && err != nil) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
			if s.calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", s.calls, tt.wantCalls)
			}
		})
	}
}

func TestRetryWithBackoff_CancelDuringBackoff(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := RetryWithBackoff(ctx, RetryPolicy{MaxAttempts: 5, BaseBackoff: time.Hour}, func(int) (bool, error) {
		calls++
		cancel()
		return true, errMirror
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryWithBackoff_WaitsBetweenAttempts(t *testing.T) {
	t.Parallel()

	start := time.Now()
	s := &script{outcomes: []error{errMirror}}
	_ = RetryWithBackoff(context.Background(), RetryPolicy{MaxAttempts: 3, BaseBackoff: 40 * time.Millisecond}, s.op)

	// 40ms before the second attempt, 80ms before the third.
	if elapsed := time.Since(start); elapsed < 120*time.Millisecond {
		t.Errorf("elapsed = %v, want at least 120ms", elapsed)
	}
}

func TestRetryPolicy_Backoff(t *testing.T) {
	t.Parallel()

	p := DefaultRetryPolicy()
	for attempt, want := range []time.Duration{0, 2 * time.Second, 4 * time.Second, 8 * time.Second} {
		if got := p.Backoff(attempt); got != want {
			t.Errorf("Backoff(%d) = %v, want %v", attempt, got, want)
		}
	}
}

func TestRetryTransient(t *testing.T) {
	t.Parallel()

	policy := RetryPolicy{MaxAttempts: 3, BaseBackoff: time.Millisecond}

	var retried []int
	calls := 0
	err := RetryTransient(context.Background(), policy, func(attempt int, _ error) {
		retried = append(retried, attempt)
	}, func(int) error {
		calls++
		return errors.New("Could not resolve host: pypi.org")
	})
	if err == nil || calls != 3 {
		t.Fatalf("calls = %d, err = %v; want 3 failing calls", calls, err)
	}
	if len(retried) != 2 || retried[0] != 1 || retried[1] != 2 {
		t.Errorf("onRetry attempts = %v, want [1 2]", retried)
	}

	calls = 0
	err = RetryTransient(context.Background(), policy, nil, func(int) error {
		calls++
		return errBadVersion
	})
	if err == nil || calls != 1 {
		t.Errorf("permanent error retried: calls = %d", calls)
	}
}
