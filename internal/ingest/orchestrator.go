// Package ingest runs directory ingestion batches against the external
// place source.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/localpages/directory/internal/directory"
	"github.com/localpages/directory/internal/metrics"
	"github.com/localpages/directory/internal/progress"
	"github.com/localpages/directory/internal/publisher"
)

const defaultDelay = 2 * time.Second

// Config controls one orchestrator.
type Config struct {
	// Categories are processed in order, every run.
	Categories []string
	// Delay applies between consecutive category calls, never after the
	// last one.
	Delay time.Duration
	// Topic receives a publisher.BatchNotification after each run when a
	// Publisher is configured.
	Topic string
}

// Orchestrator iterates the configured categories, upserts fetched records
// and reports progress. Individual failures never abort the batch.
type Orchestrator struct {
	cfg     Config
	source  directory.PlaceSource
	store   directory.Store
	tracker *progress.Tracker
	media   directory.MediaCache
	pub     publisher.Publisher
	clock   directory.Clock
	logger  *zap.Logger
}

// CategoryFailure records one failed category with its user-facing reason.
type CategoryFailure struct {
	Category  string
	Reason    string
	Retryable bool
}

// Report summarizes one completed batch.
type Report struct {
	BatchNumber int
	Succeeded   []string
	Failed      []CategoryFailure
	Created     int
	Updated     int
	Errors      int
	LogosAdded  int
	PhotosAdded int
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Total returns the number of records written in the batch.
func (r Report) Total() int { return r.Created + r.Updated }

// New constructs an Orchestrator. media and pub are optional.
func New(
	cfg Config,
	source directory.PlaceSource,
	store directory.Store,
	tracker *progress.Tracker,
	media directory.MediaCache,
	pub publisher.Publisher,
	clock directory.Clock,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.Delay <= 0 {
		cfg.Delay = defaultDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:     cfg,
		source:  source,
		store:   store,
		tracker: tracker,
		media:   media,
		pub:     pub,
		clock:   clock,
		logger:  logger,
	}
}

// Run executes one full batch. Every category is attempted; a category
// failure is recorded and the batch moves on. The returned error is a
// *directory.PartialBatchFailure when at least one category failed, or the
// context error if the run was cancelled mid-batch.
func (o *Orchestrator) Run(ctx context.Context, batchNumber int) (Report, error) {
	report := Report{BatchNumber: batchNumber, StartedAt: o.clock.Now()}
	state := progress.State{
		BatchNumber:   batchNumber,
		CategoryCount: len(o.cfg.Categories),
		Status:        progress.StatusProcessing,
	}

	metrics.SetActiveBatch(batchNumber)
	defer metrics.SetActiveBatch(0)
	o.logger.Info("ingestion batch starting",
		zap.Int("batch", batchNumber),
		zap.Int("categories", len(o.cfg.Categories)),
	)

	for i, category := range o.cfg.Categories {
		if i > 0 {
			state.CurrentStep = "waiting"
			o.publish(&state, "Waiting before next category...")
			if err := o.pause(ctx); err != nil {
				return report, err
			}
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		state.Category = category
		state.CategoryIndex = i + 1
		state.Status = progress.StatusProcessing
		state.CurrentStep = "searching"
		o.publish(&state, fmt.Sprintf("Processing category %d/%d: %s",
			i+1, len(o.cfg.Categories), category))

		places, err := o.source.SearchCategory(ctx, category)
		if err != nil {
			failure := classifyFailure(category, err)
			report.Failed = append(report.Failed, failure)
			metrics.IngestCategory("failed")
			o.logger.Warn("category fetch failed",
				zap.String("category", category),
				zap.Bool("retryable", failure.Retryable),
				zap.Error(err),
			)
			state.Status = progress.StatusFailed
			state.AppendError(fmt.Sprintf("%s: %s", category, failure.Reason))
			o.publish(&state, fmt.Sprintf("  %s failed: %s", category, failure.Reason))
			continue
		}

		added := o.ingestCategory(ctx, places, &state, &report)
		report.Succeeded = append(report.Succeeded, category)
		metrics.IngestCategory("success")
		state.Status = progress.StatusSuccess
		o.publish(&state, fmt.Sprintf("  %s done: %d businesses", category, added))
	}

	report.FinishedAt = o.clock.Now()
	state.Status = progress.StatusCompleted
	state.Category = ""
	state.CurrentBusinessName = ""
	state.CurrentStep = ""
	o.publish(&state, fmt.Sprintf(
		"Batch %d completed: %d succeeded, %d failed, %d businesses",
		batchNumber, len(report.Succeeded), len(report.Failed), report.Total(),
	))
	o.logger.Info("ingestion batch completed",
		zap.Int("batch", batchNumber),
		zap.Int("succeeded", len(report.Succeeded)),
		zap.Int("failed", len(report.Failed)),
		zap.Int("businesses", report.Total()),
	)

	o.notify(ctx, report)

	if len(report.Failed) > 0 {
		names := make([]string, 0, len(report.Failed))
		for _, f := range report.Failed {
			names = append(names, f.Category)
		}
		return report, &directory.PartialBatchFailure{Failed: names}
	}
	return report, nil
}

func (o *Orchestrator) ingestCategory(
	ctx context.Context,
	places []directory.RawPlace,
	state *progress.State,
	report *Report,
) int {
	var added int
	for _, raw := range places {
		biz, err := raw.Normalize()
		if err != nil {
			report.Errors++
			state.AppendError(fmt.Sprintf("malformed place record in %s: %s", state.Category, err))
			o.logger.Warn("skipping malformed place record", zap.Error(err))
			continue
		}
		now := o.clock.Now()
		biz.CreatedAt = now
		biz.UpdatedAt = now

		state.CurrentBusinessIndex++
		state.CurrentBusinessName = biz.Name
		state.CurrentStep = "storing"
		o.publish(state, "")

		if o.media != nil {
			logos, photos := o.media.CacheMedia(ctx, &biz)
			state.LogosAdded += logos
			state.PhotosAdded += photos
			report.LogosAdded += logos
			report.PhotosAdded += photos
			metrics.MediaCached(logos + photos)
		}

		outcome, err := o.store.Upsert(ctx, biz)
		if err != nil {
			report.Errors++
			state.AppendError(fmt.Sprintf("upsert failed for %s: %s", biz.ID, err))
			o.logger.Warn("upsert failed",
				zap.String("id", biz.ID),
				zap.Error(err),
			)
			continue
		}
		metrics.BusinessUpserted(string(outcome))
		switch outcome {
		case directory.OutcomeCreated:
			report.Created++
		case directory.OutcomeUpdated:
			report.Updated++
		}
		added++
		state.TotalBusinesses++
	}
	return added
}

// publish stamps and delivers the state. The note is cleared afterwards so
// only transition updates carry one.
func (o *Orchestrator) publish(state *progress.State, note string) {
	state.Note = note
	state.UpdatedAt = o.clock.Now()
	o.tracker.Publish(*state)
	state.Note = ""
}

func (o *Orchestrator) pause(ctx context.Context) error {
	timer := time.NewTimer(o.cfg.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (o *Orchestrator) notify(ctx context.Context, report Report) {
	if o.pub == nil || o.cfg.Topic == "" {
		return
	}
	notification := publisher.BatchNotification{
		BatchNumber:     report.BatchNumber,
		Categories:      len(o.cfg.Categories),
		Succeeded:       len(report.Succeeded),
		Failed:          len(report.Failed),
		TotalBusinesses: report.Total(),
		CompletedAt:     report.FinishedAt,
	}
	if _, err := o.pub.Publish(ctx, o.cfg.Topic, notification); err != nil {
		// Notification delivery is best effort.
		o.logger.Warn("batch notification publish failed", zap.Error(err))
	}
}

func classifyFailure(category string, err error) CategoryFailure {
	failure := CategoryFailure{Category: category, Reason: err.Error()}
	var netErr *directory.NetworkError
	if errors.As(err, &netErr) {
		failure.Reason = netErr.UserMessage()
		failure.Retryable = netErr.ShouldRetry()
	}
	return failure
}
