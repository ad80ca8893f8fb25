package chrono

import (
	"context"
	"time"
	_ "time/tzdata"
)

var saoPaulo *time.Location

func init() {
	var err error
	saoPaulo, err = time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		panic(err)
	}
}

// SaoPaulo returns a [*time.Location] for America/Sao_Paulo, the timezone the
// municipal portal renders its dates in.
func SaoPaulo() *time.Location {
	return saoPaulo
}

// TimeAPI is the interface that anything depending on the system clock should use.
type TimeAPI interface {
	// Now returns the current time in America/Sao_Paulo.
	Now() time.Time
}

// StandardTime is the standard implementation of TimeAPI using the standard library.
type StandardTime struct{}

// NewStandardTime is the constructor of StandardTime.
func NewStandardTime() StandardTime {
	return StandardTime{}
}

func (s StandardTime) Now() time.Time {
	return time.Now().In(saoPaulo)
}

// FixedTime always returns the same instant, tests can move it with Advance.
type FixedTime struct {
	Current time.Time
}

func (f *FixedTime) Now() time.Time {
	return f.Current
}

func (f *FixedTime) Advance(d time.Duration) {
	f.Current = f.Current.Add(d)
}

// Sleep waits for d or until ctx is done, whichever comes first. It returns
// ctx.Err() when ctx ended.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
