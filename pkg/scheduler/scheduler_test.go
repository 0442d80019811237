package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/nexio-tech/statusbridge/pkg/config"
	"github.com/nexio-tech/statusbridge/pkg/crm"
	"github.com/nexio-tech/statusbridge/pkg/notify"
	"github.com/nexio-tech/statusbridge/pkg/store"
	"github.com/nexio-tech/statusbridge/pkg/webhook"
)

type fakeRepository struct {
	mu      sync.Mutex
	records []store.EventRecord
	synced  []string
}

func (f *fakeRepository) Append(ctx context.Context, event webhook.CanonicalEvent) (store.EventRecord, error) {
	return store.EventRecord{}, errors.New("not used")
}

func (f *fakeRepository) ReadAll(ctx context.Context) ([]store.EventRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records, nil
}

func (f *fakeRepository) FindByQueueID(ctx context.Context, queueID string) ([]store.EventRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matched []store.EventRecord
	for _, record := range f.records {
		if record.Event.QueueID == queueID {
			matched = append(matched, record)
		}
	}
	return matched, nil
}

func (f *fakeRepository) MarkSynced(ctx context.Context, recordID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synced = append(f.synced, recordID)
	for i := range f.records {
		if f.records[i].ID == recordID {
			f.records[i].Synced = true
		}
	}
	return nil
}

type fakeCRM struct {
	mu       sync.Mutex
	pending  []crm.PendingRecord
	fetchErr error
	fetches  int32
	updates  map[string]crm.UpdateFields
	updErr   error
}

func (f *fakeCRM) FetchPending(ctx context.Context) ([]crm.PendingRecord, error) {
	atomic.AddInt32(&f.fetches, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.pending, nil
}

func (f *fakeCRM) UpdateRecord(ctx context.Context, externalID string, fields crm.UpdateFields) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updErr != nil {
		return f.updErr
	}
	if f.updates == nil {
		f.updates = make(map[string]crm.UpdateFields)
	}
	f.updates[externalID] = fields
	return nil
}

type recordingNotifier struct {
	mu        sync.Mutex
	published []*notify.StatusNotification
}

func (r *recordingNotifier) Publish(ctx context.Context, notification *notify.StatusNotification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, notification)
	return nil
}

func (r *recordingNotifier) Close() error { return nil }

func testConfig() config.SchedulerSettings {
	return config.SchedulerSettings{
		SyncInterval:   time.Hour,
		ErrorCooldown:  time.Minute,
		WorkerPoolSize: 10,
		StopTimeout:    time.Second,
	}
}

func makeEvent(id, messageID, queueID string, status webhook.Status, occurredAt string) store.EventRecord {
	return store.EventRecord{
		ID: id,
		Event: webhook.CanonicalEvent{
			MessageID:  messageID,
			QueueID:    queueID,
			Status:     status,
			OccurredAt: occurredAt,
		},
	}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestTriggerSync_PushesConsolidatedStatus(t *testing.T) {
	repo := &fakeRepository{records: []store.EventRecord{
		makeEvent("r1", "m1", "q1", webhook.StatusSent, "100"),
		makeEvent("r2", "m1", "q1", webhook.StatusDelivered, "90"),
	}}
	crmClient := &fakeCRM{pending: []crm.PendingRecord{
		{ExternalID: "z1", QueueID: "q1", Status: "Sent"},
	}}
	notifier := &recordingNotifier{}

	s := New(repo, crmClient, notifier, testConfig(), quietLogger())

	summary, err := s.TriggerSync(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Synced)
	assert.Equal(t, 0, summary.Failed)

	assert.Equal(t, "delivered", crmClient.updates["z1"].Status)
	assert.Equal(t, "q1", crmClient.updates["z1"].QueueID)
	assert.Equal(t, "m1", crmClient.updates["z1"].MessageID)

	// Winning record marked as synchronized
	assert.Equal(t, []string{"r2"}, repo.synced)

	// Audit notification published
	assert.Len(t, notifier.published, 1)
	assert.Equal(t, "delivered", notifier.published[0].Status)
}

func TestTriggerSync_PerRecordFailuresDoNotAbortPass(t *testing.T) {
	repo := &fakeRepository{records: []store.EventRecord{
		makeEvent("r1", "m1", "q1", webhook.StatusDelivered, "100"),
	}}
	crmClient := &fakeCRM{pending: []crm.PendingRecord{
		{ExternalID: "z1", QueueID: "q1", Status: "Sent"},
		{ExternalID: "z2", QueueID: "q-unknown", Status: "Sent"},
		{ExternalID: "", QueueID: "", Status: "Sent"},
	}}

	s := New(repo, crmClient, &recordingNotifier{}, testConfig(), quietLogger())

	summary, err := s.TriggerSync(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 1, summary.Synced)
	assert.Equal(t, 2, summary.Failed)
}

func TestTriggerSync_SkipsAlreadySyncedUnchangedStatus(t *testing.T) {
	record := makeEvent("r1", "m1", "q1", webhook.StatusDelivered, "100")
	record.Synced = true
	repo := &fakeRepository{records: []store.EventRecord{record}}
	crmClient := &fakeCRM{pending: []crm.PendingRecord{
		{ExternalID: "z1", QueueID: "q1", Status: "Delivered"},
	}}

	s := New(repo, crmClient, &recordingNotifier{}, testConfig(), quietLogger())

	summary, err := s.TriggerSync(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.Synced)
	assert.Empty(t, crmClient.updates)
}

func TestTriggerSync_ResendsWhenExternalStatusStale(t *testing.T) {
	// Marked synced locally, but the external system still shows an older
	// status: push again.
	record := makeEvent("r1", "m1", "q1", webhook.StatusDelivered, "100")
	record.Synced = true
	repo := &fakeRepository{records: []store.EventRecord{record}}
	crmClient := &fakeCRM{pending: []crm.PendingRecord{
		{ExternalID: "z1", QueueID: "q1", Status: "Sent"},
	}}

	s := New(repo, crmClient, &recordingNotifier{}, testConfig(), quietLogger())

	summary, err := s.TriggerSync(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, summary.Synced)
	assert.Equal(t, "delivered", crmClient.updates["z1"].Status)
}

func TestTriggerSync_FetchFailure(t *testing.T) {
	crmClient := &fakeCRM{fetchErr: errors.New("crm down")}
	s := New(&fakeRepository{}, crmClient, &recordingNotifier{}, testConfig(), quietLogger())

	_, err := s.TriggerSync(context.Background())
	assert.Error(t, err)

	snapshot := s.Status()
	assert.False(t, snapshot.IsRunning)
	assert.Nil(t, snapshot.LastRunAt)
}

func TestTriggerSync_MutualExclusion(t *testing.T) {
	s := New(&fakeRepository{}, &fakeCRM{}, &recordingNotifier{}, testConfig(), quietLogger())

	s.passMu.Lock()
	_, err := s.TriggerSync(context.Background())
	s.passMu.Unlock()
	assert.ErrorIs(t, err, ErrPassInProgress)

	_, err = s.TriggerSync(context.Background())
	assert.NoError(t, err)
}

func TestScheduler_ErrorCooldownShorterThanInterval(t *testing.T) {
	crmClient := &fakeCRM{fetchErr: errors.New("crm down")}
	cfg := testConfig()
	cfg.SyncInterval = time.Hour
	cfg.ErrorCooldown = 20 * time.Millisecond

	s := New(&fakeRepository{}, crmClient, &recordingNotifier{}, cfg, quietLogger())
	s.Start()
	defer s.Stop()

	// With the hour-long interval, repeated fetches can only come from the
	// shorter error cooldown kicking in.
	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&crmClient.fetches) >= 3
	}, time.Second, 5*time.Millisecond)
}

func TestScheduler_StartStop(t *testing.T) {
	crmClient := &fakeCRM{}
	s := New(&fakeRepository{}, crmClient, &recordingNotifier{}, testConfig(), quietLogger())

	s.Start()
	assert.True(t, s.Status().IsRunning)

	// Second start is a warning no-op.
	s.Start()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&crmClient.fetches) >= 1
	}, time.Second, 5*time.Millisecond)

	s.Stop()
	assert.False(t, s.Status().IsRunning)

	// Stop when stopped is a no-op.
	s.Stop()
}

func TestStatus_Snapshot(t *testing.T) {
	repo := &fakeRepository{records: []store.EventRecord{
		makeEvent("r1", "m1", "q1", webhook.StatusDelivered, "100"),
	}}
	crmClient := &fakeCRM{pending: []crm.PendingRecord{
		{ExternalID: "z1", QueueID: "q1", Status: "Sent"},
	}}
	cfg := testConfig()

	s := New(repo, crmClient, &recordingNotifier{}, cfg, quietLogger())

	_, err := s.TriggerSync(context.Background())
	assert.NoError(t, err)

	snapshot := s.Status()
	assert.NotNil(t, snapshot.LastRunAt)
	assert.NotNil(t, snapshot.NextRunAt)
	assert.Equal(t, snapshot.LastRunAt.Add(cfg.SyncInterval), *snapshot.NextRunAt)
	assert.Equal(t, 60.0, snapshot.IntervalMinutes)
	assert.Equal(t, int64(1), snapshot.Stats.TotalSynced)
	assert.Equal(t, int64(0), snapshot.Stats.TotalFailed)
}

func TestStats_AccumulateAcrossPasses(t *testing.T) {
	repo := &fakeRepository{records: []store.EventRecord{
		makeEvent("r1", "m1", "q1", webhook.StatusSent, "100"),
	}}
	crmClient := &fakeCRM{pending: []crm.PendingRecord{
		{ExternalID: "z1", QueueID: "q1", Status: "Pending"},
	}}

	s := New(repo, crmClient, &recordingNotifier{}, testConfig(), quietLogger())

	_, err := s.TriggerSync(context.Background())
	assert.NoError(t, err)

	// Local status unchanged and marked synced: second pass skips, stats
	// keep the first pass's count.
	crmClient.mu.Lock()
	crmClient.pending[0].Status = "sent"
	crmClient.mu.Unlock()

	_, err = s.TriggerSync(context.Background())
	assert.NoError(t, err)

	snapshot := s.Status()
	assert.Equal(t, int64(1), snapshot.Stats.TotalSynced)
}
