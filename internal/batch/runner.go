// Package batch processes a list of properties one after the other. It is
// the boundary where every per-property failure is caught, recorded on the
// property and logged, so that the run moves on to the next one.
package batch

import (
	"context"
	"errors"
	"fmt"
	"iptu-backend/internal/assert"
	"iptu-backend/internal/chrono"
	"iptu-backend/internal/debts"
	"iptu-backend/internal/events"
	"iptu-backend/internal/retry"
	"iptu-backend/internal/telemetry"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

var tracer = telemetry.Tracer("internal/batch")

const (
	report_property_failed = "property-failed"
	report_status_write    = "status-write"
	report_publish         = "publish-event"
	report_processed       = "properties-processed"
)

type Extractor interface {
	Extract(ctx context.Context, code string) (debts.RecordSet, error)
}

type Store interface {
	FindOrCreate(ctx context.Context, code string) (debts.Property, error)
	SetStatus(ctx context.Context, code string, status debts.PropertyStatus) error
}

type ChangeDetector interface {
	Apply(ctx context.Context, set debts.RecordSet, force bool) (debts.PropertyStatus, error)
}

// Refresher keeps a run lock alive, see internal/runlock.
type Refresher interface {
	Refresh(ctx context.Context) error
}

type Options struct {
	RunId string
	// Force rewrites installments even when nothing changed.
	Force bool
	Retry retry.Policy
	// Lock may be nil.
	Lock Refresher
	// Publisher defaults to events.Noop.
	Publisher events.Publisher
}

// Result is the outcome of one property.
type Result struct {
	PropertyId   string
	Status       debts.PropertyStatus
	Attempts     int
	Installments int
	Documents    int
	Err          error
}

type Summary struct {
	Results []Result
}

// Counts tallies the results per final status.
func (s Summary) Counts() map[debts.PropertyStatus]int {
	counts := map[debts.PropertyStatus]int{}
	for _, r := range s.Results {
		counts[r.Status]++
	}
	return counts
}

// Failed returns how many properties ended in ExtractionError.
func (s Summary) Failed() int {
	return s.Counts()[debts.StatusExtractionError]
}

type Runner struct {
	extractor Extractor
	store     Store
	changes   ChangeDetector
	time      chrono.TimeAPI
	opts      Options
	tel       telemetry.API
}

func NewRunner(
	extractor Extractor,
	store Store,
	changes ChangeDetector,
	time chrono.TimeAPI,
	opts Options,
	tel telemetry.API,
) Runner {
	assert.NotNil(extractor)
	assert.NotNil(store)
	assert.NotNil(changes)
	assert.NotNil(time)
	assert.NotNil(tel)
	if opts.Publisher == nil {
		opts.Publisher = events.Noop{}
	}
	if opts.Retry.Tel == nil {
		opts.Retry.Tel = tel
	}
	return Runner{
		extractor: extractor,
		store:     store,
		changes:   changes,
		time:      time,
		opts:      opts,
		tel:       telemetry.NewScopedAPI("batch", tel),
	}
}

// NormalizeIds trims the ids, dropping blanks and repeats while keeping the
// order of first appearance.
func NormalizeIds(ids []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// Run processes the properties strictly one at a time. The returned error is
// only non-nil when the whole run had to stop: ctx ended or the run lock was
// lost. The summary holds every property handled until then.
func (r Runner) Run(ctx context.Context, ids []string) (Summary, error) {
	ctx, span := tracer.Start(ctx, "Run")
	defer span.End()

	ids = NormalizeIds(ids)
	span.SetAttributes(attribute.Int("properties", len(ids)))

	var summary Summary
	for i, code := range ids {
		if i > 0 && r.opts.Lock != nil {
			err := r.opts.Lock.Refresh(ctx)
			if err != nil {
				return summary, fmt.Errorf("stopping before %s: %w", code, err)
			}
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		result := r.process(ctx, code)
		summary.Results = append(summary.Results, result)
		r.publish(ctx, result)

		if result.Err != nil && ctx.Err() != nil {
			return summary, ctx.Err()
		}
	}

	r.tel.ReportCount(report_processed, int64(len(summary.Results)))
	return summary, nil
}

func (r Runner) process(ctx context.Context, code string) (result Result) {
	ctx, span := tracer.Start(ctx, "process")
	span.SetAttributes(attribute.String("property_id", code))
	defer span.End()

	result = Result{PropertyId: code, Status: debts.StatusExtractionError}
	defer func() {
		if p := recover(); p != nil {
			result.Status = debts.StatusExtractionError
			result.Err = fmt.Errorf("panic: %v", p)
			r.fail(ctx, code, result.Err)
		}
	}()

	_, err := r.store.FindOrCreate(ctx, code)
	if err != nil {
		result.Err = err
		r.tel.ReportBroken(report_property_failed, telemetry.KV{Key: "property_id", Value: code}, err)
		return result
	}
	r.setStatus(ctx, code, debts.StatusProcessing)

	set, attempts, err := retry.Do(ctx, r.opts.Retry, code, func(ctx context.Context) (debts.RecordSet, error) {
		return r.extractor.Extract(ctx, code)
	})
	result.Attempts = len(attempts)
	if err != nil {
		result.Err = err
		r.fail(ctx, code, err)
		return result
	}
	result.Installments = len(set.Installments)
	result.Documents = set.DocumentCount()

	status, err := r.changes.Apply(ctx, set, r.opts.Force)
	if err != nil {
		result.Err = err
		r.fail(ctx, code, err)
		return result
	}
	result.Status = status
	return result
}

func (r Runner) fail(ctx context.Context, code string, err error) {
	r.tel.ReportWarning(report_property_failed, telemetry.KV{Key: "property_id", Value: code}, err)
	if errors.Is(err, context.Canceled) {
		// the run is stopping but the status is still written
		ctx = context.WithoutCancel(ctx)
	}
	r.setStatus(ctx, code, debts.StatusExtractionError)
}

func (r Runner) setStatus(ctx context.Context, code string, status debts.PropertyStatus) {
	err := r.store.SetStatus(ctx, code, status)
	if err != nil {
		r.tel.ReportBroken(report_status_write, telemetry.KV{Key: "property_id", Value: code}, telemetry.KV{Key: "status", Value: status}, err)
	}
}

func (r Runner) publish(ctx context.Context, result Result) {
	evt := events.PropertyProcessed{
		RunId:        r.opts.RunId,
		PropertyId:   result.PropertyId,
		Status:       result.Status,
		Installments: result.Installments,
		Documents:    result.Documents,
		Attempts:     result.Attempts,
		At:           r.time.Now(),
	}
	if result.Err != nil {
		evt.Error = result.Err.Error()
	}
	err := r.opts.Publisher.Publish(context.WithoutCancel(ctx), evt)
	if err != nil {
		r.tel.ReportWarning(report_publish, telemetry.KV{Key: "property_id", Value: result.PropertyId}, err)
	}
}
