package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nexio-tech/statusbridge/pkg/config"
	"github.com/nexio-tech/statusbridge/pkg/consolidate"
	"github.com/nexio-tech/statusbridge/pkg/crm"
	"github.com/nexio-tech/statusbridge/pkg/notify"
	"github.com/nexio-tech/statusbridge/pkg/store"
)

const tracerName = "statusbridge"

// ErrPassInProgress is returned by TriggerSync when a scheduled or manual
// pass is already running; passes never overlap.
var ErrPassInProgress = errors.New("scheduler: a synchronization pass is already in progress")

// CRMClient is the slice of the reconciliation client the scheduler needs.
type CRMClient interface {
	FetchPending(ctx context.Context) ([]crm.PendingRecord, error)
	UpdateRecord(ctx context.Context, externalID string, fields crm.UpdateFields) error
}

// Stats are cumulative across passes since process start; they reset on
// restart and are never persisted.
type Stats struct {
	TotalSynced     int64         `json:"total_synced"`
	TotalFailed     int64         `json:"total_failed"`
	LastRunDuration time.Duration `json:"last_sync_duration"`
}

// Snapshot is a read-only view of the scheduler state, safe to query from
// any caller without disturbing the loop.
type Snapshot struct {
	IsRunning       bool       `json:"is_running"`
	LastRunAt       *time.Time `json:"last_sync_time"`
	NextRunAt       *time.Time `json:"next_sync_time"`
	IntervalMinutes float64    `json:"sync_interval_minutes"`
	Stats           Stats      `json:"stats"`
}

// Summary reports the outcome of a single synchronization pass.
type Summary struct {
	Processed int           `json:"processed"`
	Synced    int           `json:"synced"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// Scheduler runs the periodic reconciliation between the event store and
// the external system. State is mutated only from within its own passes;
// readers get eventually-consistent snapshots.
type Scheduler struct {
	repo     store.EventRepository
	crm      CRMClient
	notifier notify.Notifier
	logger   *logrus.Logger
	cfg      config.SchedulerSettings

	// passMu serializes synchronization passes, scheduled and manual alike.
	passMu sync.Mutex

	mu      sync.RWMutex
	running bool
	lastRun time.Time
	stats   Stats
	stop    chan struct{}
	done    chan struct{}
}

func New(repo store.EventRepository, crmClient CRMClient, notifier notify.Notifier, cfg config.SchedulerSettings, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		repo:     repo,
		crm:      crmClient,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
	}
}

// Start launches the scheduling loop. A warning no-op when already running.
// The caller is never blocked; the loop runs until Stop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("sync scheduler is already running")
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stop, s.done
	s.mu.Unlock()

	go s.runLoop(stop, done)
	s.logger.Info("sync scheduler started")
}

// Stop signals the loop to exit after its current wait or pass, then waits
// up to the configured stop timeout. Shutdown is best-effort; a pass in
// flight is allowed to finish on its own.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	close(stop)
	select {
	case <-done:
	case <-time.After(s.cfg.StopTimeout):
		s.logger.Warn("sync scheduler did not stop within timeout")
	}
	s.logger.Info("sync scheduler stopped")
}

// TriggerSync runs one on-demand pass. It fails fast with ErrPassInProgress
// instead of queueing behind a scheduled pass.
func (s *Scheduler) TriggerSync(ctx context.Context) (Summary, error) {
	if !s.passMu.TryLock() {
		return Summary{}, ErrPassInProgress
	}
	defer s.passMu.Unlock()
	return s.performSync(ctx)
}

// Status returns the current scheduler snapshot.
func (s *Scheduler) Status() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := Snapshot{
		IsRunning:       s.running,
		IntervalMinutes: s.cfg.SyncInterval.Minutes(),
		Stats:           s.stats,
	}
	if !s.lastRun.IsZero() {
		lastRun := s.lastRun
		nextRun := s.lastRun.Add(s.cfg.SyncInterval)
		snapshot.LastRunAt = &lastRun
		snapshot.NextRunAt = &nextRun
	}
	return snapshot
}

// runLoop performs an immediate pass, then one per interval. A failing pass
// does not crash the loop; it is logged and followed by the shorter error
// cooldown as a backoff against cascading failures.
func (s *Scheduler) runLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		delay := s.cfg.SyncInterval

		s.passMu.Lock()
		_, err := s.performSync(context.Background())
		s.passMu.Unlock()
		if err != nil {
			s.logger.WithError(err).Error("synchronization pass failed")
			delay = s.cfg.ErrorCooldown
		}

		select {
		case <-stop:
			return
		case <-time.After(delay):
		}
	}
}

// performSync is one fetch-resolve-push cycle. Callers must hold passMu.
func (s *Scheduler) performSync(ctx context.Context) (Summary, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "SyncPass")
	defer span.End()

	startTime := time.Now()
	s.logger.Info("starting CRM synchronization pass")

	pending, err := s.crm.FetchPending(ctx)
	if err != nil {
		span.RecordError(err)
		return Summary{}, fmt.Errorf("fetch pending records: %w", err)
	}
	if len(pending) == 0 {
		s.logger.Info("no pending records found in CRM")
		summary := Summary{Duration: time.Since(startTime)}
		s.finishPass(summary, startTime)
		return summary, nil
	}
	s.logger.WithField("count", len(pending)).Info("processing pending records")

	// Bounded worker pool; a single pass processes many records in
	// parallel without unbounded resource use.
	jobs := make(chan crm.PendingRecord)
	results := make(chan recordOutcome)

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.WorkerPoolSize; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for record := range jobs {
				results <- s.processRecord(ctx, record)
			}
		}()
	}
	go func() {
		for _, record := range pending {
			jobs <- record
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	summary := Summary{Processed: len(pending)}
	for outcome := range results {
		switch {
		case outcome.err != nil:
			summary.Failed++
		case outcome.skipped:
			summary.Skipped++
		default:
			summary.Synced++
		}
	}
	summary.Duration = time.Since(startTime)

	span.SetAttributes(
		attribute.Int("sync.processed", summary.Processed),
		attribute.Int("sync.synced", summary.Synced),
		attribute.Int("sync.failed", summary.Failed),
	)

	s.finishPass(summary, startTime)
	s.logger.WithFields(logrus.Fields{
		"synced":   summary.Synced,
		"skipped":  summary.Skipped,
		"failed":   summary.Failed,
		"duration": summary.Duration,
	}).Info("CRM synchronization pass completed")

	return summary, nil
}

type recordOutcome struct {
	skipped bool
	err     error
}

// processRecord resolves the consolidated local status for one pending
// external record and pushes it back. Failures are counted, never fatal to
// the pass; an unexpected panic in the lookup is contained the same way.
func (s *Scheduler) processRecord(ctx context.Context, record crm.PendingRecord) (outcome recordOutcome) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("external_id", record.ExternalID).Errorf("panic processing record: %v", r)
			outcome = recordOutcome{err: fmt.Errorf("panic: %v", r)}
		}
	}()

	logger := s.logger.WithFields(logrus.Fields{
		"external_id": record.ExternalID,
		"queue_id":    record.QueueID,
	})

	if record.QueueID == "" || record.ExternalID == "" {
		logger.Warn("skipping pending record with missing identifiers")
		return recordOutcome{err: errors.New("missing identifiers")}
	}

	events, err := s.repo.FindByQueueID(ctx, record.QueueID)
	if err != nil {
		logger.WithError(err).Error("event store lookup failed")
		return recordOutcome{err: err}
	}

	latest, ok := consolidate.LatestForQueueID(events, record.QueueID)
	if !ok {
		logger.Warn("no local events found for pending record")
		return recordOutcome{err: errors.New("no local match")}
	}

	// Already pushed and unchanged since: skip the redundant external write.
	if latest.Synced && strings.EqualFold(string(latest.Status), record.Status) {
		return recordOutcome{skipped: true}
	}

	err = s.crm.UpdateRecord(ctx, record.ExternalID, crm.UpdateFields{
		Status:      string(latest.Status),
		QueueID:     latest.QueueID,
		MessageID:   latest.MessageID,
		Timestamp:   latest.Timestamp,
		RecipientID: latest.RecipientID,
	})
	if err != nil {
		logger.WithError(err).Error("failed to update CRM record")
		return recordOutcome{err: err}
	}

	if err := s.repo.MarkSynced(ctx, latest.StoreRecordID); err != nil {
		logger.WithError(err).Error("failed to mark record as synchronized")
	}

	// Best-effort audit notification; a publish failure never fails a sync.
	notification := &notify.StatusNotification{
		QueueID:     latest.QueueID,
		MessageID:   latest.MessageID,
		Status:      string(latest.Status),
		RecipientID: latest.RecipientID,
		Timestamp:   latest.Timestamp,
		SyncedAt:    time.Now(),
	}
	if err := s.notifier.Publish(ctx, notification); err != nil {
		logger.WithError(err).Warn("failed to publish status notification")
	}

	logger.WithField("status", latest.Status).Info("updated CRM record")
	return recordOutcome{}
}

// finishPass updates the state fields as a group at pass completion.
func (s *Scheduler) finishPass(summary Summary, startTime time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = startTime
	s.stats.TotalSynced += int64(summary.Synced)
	s.stats.TotalFailed += int64(summary.Failed)
	s.stats.LastRunDuration = summary.Duration
}
