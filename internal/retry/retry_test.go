package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func TestDo(t *testing.T) {
	fatal := errors.New("fatal")

	tests := []struct {
		name      string
		attempts  int
		failFirst int   // calls that fail before success
		failWith  error // error returned while failing
		wantErr   error
		wantCalls int
	}{
		{"first attempt succeeds", 3, 0, errTransient, nil, 1},
		{"succeeds on retry", 3, 2, errTransient, nil, 3},
		{"attempts exhausted", 3, 99, errTransient, errTransient, 3},
		{"permanent stops immediately", 5, 99, Permanent(fatal), fatal, 1},
		{"zero attempts rounds up", 0, 0, errTransient, nil, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Do(context.Background(), tt.attempts, time.Millisecond, func() error {
				calls++
				if calls <= tt.failFirst {
					return tt.failWith
				}
				return nil
			})
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Equal(t, tt.wantCalls, calls)
		})
	}
}

func TestDo_PermanentIsUnwrapped(t *testing.T) {
	inner := errors.New("duplicate entry")
	err := Do(context.Background(), 3, time.Millisecond, func() error { return Permanent(inner) })

	var pe *PermanentError
	assert.False(t, errors.As(err, &pe), "caller should see the inner error")
	assert.Same(t, inner, err)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32

	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, 10, 100*time.Millisecond, func() error {
		calls.Add(1)
		return errTransient
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.LessOrEqual(t, calls.Load(), int32(2))
}

func TestPermanent_Unwrap(t *testing.T) {
	inner := errors.New("inner")
	assert.ErrorIs(t, Permanent(inner), inner)
	assert.Equal(t, "inner", Permanent(inner).Error())
}

func TestPolicy_RetryableClassifier(t *testing.T) {
	other := errors.New("syntax error")
	p := Policy{
		Attempts:  5,
		BaseDelay: time.Millisecond,
		Retryable: func(err error) bool { return errors.Is(err, errTransient) },
	}

	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		if calls == 1 {
			return errTransient
		}
		return other
	})

	assert.ErrorIs(t, err, other)
	assert.Equal(t, 2, calls, "one retry, then stop on the unclassified error")
}

func TestPolicy_OnRetry(t *testing.T) {
	var seen []int
	p := Policy{
		Attempts:  3,
		BaseDelay: time.Millisecond,
		OnRetry:   func(attempt int, _ error) { seen = append(seen, attempt) },
	}

	err := p.Do(context.Background(), func() error { return errTransient })

	require.ErrorIs(t, err, errTransient)
	// No hook after the final attempt.
	assert.Equal(t, []int{1, 2}, seen)
}

func TestPolicy_BackoffGrows(t *testing.T) {
	var stamps []time.Time
	p := Policy{Attempts: 4, BaseDelay: 10 * time.Millisecond}

	_ = p.Do(context.Background(), func() error {
		stamps = append(stamps, time.Now())
		return errTransient
	})

	require.Len(t, stamps, 4)
	// 10ms, 20ms, 40ms with 25% jitter each way.
	assert.GreaterOrEqual(t, stamps[3].Sub(stamps[2]), 25*time.Millisecond)
}

func TestPolicy_MaxDelayCapsBackoff(t *testing.T) {
	p := Policy{Attempts: 5, BaseDelay: 20 * time.Millisecond, MaxDelay: 20 * time.Millisecond}

	start := time.Now()
	_ = p.Do(context.Background(), func() error { return errTransient })

	// Four capped sleeps are at most 100ms; uncapped would be at least 225ms.
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}
