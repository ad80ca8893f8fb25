package retry

import (
	"context"
	"errors"
	"iptu-backend/internal/debts"
	"iptu-backend/internal/telemetry"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type sleepLog struct {
	waits []time.Duration
}

func (s *sleepLog) sleep(ctx context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return ctx.Err()
}

func testPolicy(log *sleepLog) Policy {
	p := DefaultPolicy(telemetry.NewRecorder())
	p.Sleep = log.sleep
	return p
}

func TestDoExhausts(t *testing.T) {
	log := &sleepLog{}
	calls := 0
	_, attempts, err := Do(context.Background(), testPolicy(log), "2166", func(ctx context.Context) (debts.RecordSet, error) {
		calls++
		return debts.RecordSet{}, debts.ErrCaptchaUnsolved
	})
	require.ErrorIs(t, err, debts.ErrCaptchaUnsolved)
	require.Equal(t, 3, calls)
	require.Len(t, attempts, 3)
	for i, a := range attempts {
		require.Equal(t, i+1, a.Ordinal)
		require.False(t, a.Succeeded())
	}
	require.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, log.waits)
}

func TestDoStopsOnSuccess(t *testing.T) {
	log := &sleepLog{}
	calls := 0
	result, attempts, err := Do(context.Background(), testPolicy(log), "2166", func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", debts.HttpError{Status: 502}
		}
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", result)
	require.Equal(t, 2, calls)
	require.Len(t, attempts, 2)
	require.True(t, attempts[1].Succeeded())
	require.Len(t, log.waits, 1)
}

func TestDoNotRetryable(t *testing.T) {
	log := &sleepLog{}
	calls := 0
	_, attempts, err := Do(context.Background(), testPolicy(log), "2166", func(ctx context.Context) (int, error) {
		calls++
		return 0, debts.ErrPersistence
	})
	require.ErrorIs(t, err, debts.ErrPersistence)
	require.Equal(t, 1, calls)
	require.Len(t, attempts, 1)
	require.Empty(t, log.waits)
}

func TestDoCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := testPolicy(&sleepLog{})
	p.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}
	calls := 0
	_, attempts, err := Do(ctx, p, "2166", func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("flaky")
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
	require.Len(t, attempts, 1)
}
