// internal/engine/event-intake/intake_test.go
package eventintake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"listing-alerts/internal/catalog"
	"listing-alerts/internal/common/config"
	apperrors "listing-alerts/internal/common/errors"
	"listing-alerts/internal/common/logger"
	"listing-alerts/internal/common/metrics"
	alertdispatcher "listing-alerts/internal/engine/alert-dispatcher"
	matchengine "listing-alerts/internal/engine/match-engine"
	"listing-alerts/internal/models"
	"listing-alerts/internal/store"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

type recordingSink struct {
	mu      sync.Mutex
	jobs    []models.NotificationJob
	err     error
	block   atomic.Bool
	waiting chan struct{}
}

func (s *recordingSink) Publish(ctx context.Context, jobs []models.NotificationJob) error {
	if s.block.Load() {
		select {
		case s.waiting <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.jobs = append(s.jobs, jobs...)
	return nil
}

func (s *recordingSink) published() []models.NotificationJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.NotificationJob(nil), s.jobs...)
}

func (s *recordingSink) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

type recordingHistory struct {
	mu      sync.Mutex
	entries []models.PriceHistory
	err     error
}

func (h *recordingHistory) Record(_ context.Context, entry models.PriceHistory) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.entries = append(h.entries, entry)
	return nil
}

type failingSource struct{ err error }

func (f failingSource) ActiveSearches(context.Context) ([]matchengine.Candidate, error) {
	return nil, f.err
}

func createTestConfig() *Config {
	return &Config{Workers: 4, QueueSize: 16, LifecycleLimit: 1000}
}

var testSearches = catalog.Static{
	{ID: "s-austin", UserID: "user-1", Filters: json.RawMessage(`{"price":{"range":{"max":500000}},"bedrooms":{"equals":3},"city":{"textContains":"austin"}}`), Active: true, OwnerActive: true},
	{ID: "s-own", UserID: "owner-1", Filters: json.RawMessage(`{"city":{"equals":"Austin"}}`), Active: true, OwnerActive: true},
	{ID: "s-broken", UserID: "user-2", Filters: json.RawMessage(`{"price":{"range":{"min":"cheap"}}}`), Active: true, OwnerActive: true},
}

type harness struct {
	intake      *Intake
	sink        *recordingSink
	prefs       *store.MemoryPreferenceStore
	history     *recordingHistory
	suppression *alertdispatcher.MemorySuppressionStore
}

func newHarness(t *testing.T, cfg *Config, source SavedSearchSource) *harness {
	t.Helper()
	return startHarness(t, context.Background(), cfg, source)
}

func startHarness(t *testing.T, ctx context.Context, cfg *Config, source SavedSearchSource) *harness {
	t.Helper()
	log := logger.NewTestLogger(t)

	if source == nil {
		source = catalog.New(&catalog.Config{LoadTimeout: time.Second}, testSearches, log)
	}
	suppression := alertdispatcher.NewMemorySuppressionStore(1000)
	t.Cleanup(suppression.Stop)

	h := &harness{
		sink:        &recordingSink{waiting: make(chan struct{}, 16)},
		prefs:       store.NewMemoryPreferenceStore(),
		history:     &recordingHistory{},
		suppression: suppression,
	}
	dispatcher := alertdispatcher.NewDispatcher(
		&alertdispatcher.Config{SuppressionWindow: time.Hour, ReleaseTimeout: time.Second},
		h.prefs, suppression, log,
	)
	h.intake = NewIntake(cfg, source, matchengine.NewEngine(&matchengine.Config{Parallelism: 4}, log),
		dispatcher, h.sink, log, WithPriceHistory(h.history))

	require.NoError(t, h.intake.Start(ctx))
	t.Cleanup(h.intake.Stop)
	return h
}

func waitForPublish(t *testing.T, s *recordingSink) {
	t.Helper()
	select {
	case <-s.waiting:
	case <-time.After(2 * time.Second):
		t.Fatal("publish never started")
	}
}

func snapshot(id, price string, status models.PropertyStatus) models.PropertySnapshot {
	beds := 3
	return models.PropertySnapshot{
		ID:           id,
		OwnerID:      "owner-1",
		Price:        decimal.RequireFromString(price),
		Status:       status,
		PropertyType: "HOUSE",
		ListingType:  "SALE",
		Bedrooms:     &beds,
		City:         "Austin",
	}
}

func createEvent(id string, snap models.PropertySnapshot) *models.PropertyChangeEvent {
	return &models.PropertyChangeEvent{
		EventID:         id,
		PropertyID:      snap.ID,
		Kind:            models.EventCreate,
		CurrentSnapshot: snap,
		OccurredAt:      time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func updateEvent(id string, prev, curr models.PropertySnapshot) *models.PropertyChangeEvent {
	e := createEvent(id, curr)
	e.Kind = models.EventUpdate
	e.PreviousSnapshot = &prev
	return e
}

// ==========================
// Core Functionality Tests
// ==========================

func TestIntake_Process_NewListing(t *testing.T) {
	h := newHarness(t, createTestConfig(), nil)

	out, err := h.intake.Process(context.Background(), createEvent("evt-1", snapshot("prop-1", "450000", models.StatusActive)))
	require.NoError(t, err)

	assert.Equal(t, models.NewReasonSet(models.ReasonNewListing), out.Reasons)
	require.Len(t, out.Matches, 1)
	assert.Equal(t, "s-austin", out.Matches[0].SavedSearchID)
	require.Len(t, out.Skipped, 1)
	assert.Equal(t, "s-broken", out.Skipped[0].SavedSearchID)

	require.Len(t, out.Jobs, 2)
	assert.Equal(t, out.Jobs, h.sink.published())
	for _, j := range out.Jobs {
		assert.Equal(t, "user-1", j.UserID)
		assert.Equal(t, []string{"s-austin"}, j.SavedSearchIDs)
	}

	require.Len(t, h.history.entries, 1)
	assert.Equal(t, models.PriceChangeListed, h.history.entries[0].ChangeType)
}

func TestIntake_Process_CountsEachMatchOnce(t *testing.T) {
	h := newHarness(t, createTestConfig(), nil)
	counter := metrics.Matches.WithLabelValues(string(models.ReasonNewListing))
	before := testutil.ToFloat64(counter)

	out, err := h.intake.Process(context.Background(), createEvent("evt-1", snapshot("prop-1", "450000", models.StatusActive)))
	require.NoError(t, err)
	require.Len(t, out.Matches, 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(counter)-before)
}

func TestIntake_Process_PriceDropGatedByPreference(t *testing.T) {
	h := newHarness(t, createTestConfig(), nil)
	pref := models.DefaultNotificationPref("user-1")
	pref.PriceDropAlerts = false
	h.prefs.Put(pref)

	out, err := h.intake.Process(context.Background(), updateEvent("evt-1",
		snapshot("prop-1", "480000", models.StatusActive),
		snapshot("prop-1", "450000", models.StatusActive)))
	require.NoError(t, err)

	assert.Equal(t, models.NewReasonSet(models.ReasonPriceDrop), out.Reasons)
	assert.Len(t, out.Matches, 1)
	assert.Empty(t, out.Jobs)
	assert.Empty(t, h.sink.published())
	require.Len(t, h.history.entries, 1)
	assert.Equal(t, models.PriceChangeDrop, h.history.entries[0].ChangeType)
}

func TestIntake_Process_DraftNeverTriggers(t *testing.T) {
	h := newHarness(t, createTestConfig(), nil)

	out, err := h.intake.Process(context.Background(), createEvent("evt-1", snapshot("prop-1", "450000", models.StatusDraft)))
	require.NoError(t, err)

	assert.True(t, out.Reasons.Empty())
	assert.Empty(t, out.Matches)
	assert.Empty(t, h.history.entries)
	status, ok := h.intake.lifecycle.status("prop-1")
	assert.True(t, ok)
	assert.Equal(t, models.StatusDraft, status)
}

func TestIntake_Process_Lifecycle(t *testing.T) {
	h := newHarness(t, createTestConfig(), nil)
	ctx := context.Background()
	active := snapshot("prop-1", "450000", models.StatusActive)
	sold := snapshot("prop-1", "450000", models.StatusSold)

	_, err := h.intake.Process(ctx, createEvent("evt-1", active))
	require.NoError(t, err)

	out, err := h.intake.Process(ctx, updateEvent("evt-2", active, sold))
	require.NoError(t, err)
	assert.Equal(t, models.NewReasonSet(models.ReasonStatusChanged), out.Reasons)
	require.Len(t, out.Matches, 1)
	assert.Equal(t, models.NewReasonSet(models.ReasonStatusChanged), out.Matches[0].Reasons)

	// A stale update that still claims the listing is active is refused.
	_, err = h.intake.Process(ctx, updateEvent("evt-3", active, active))
	assert.True(t, errors.Is(err, apperrors.ErrPropertyTerminal))

	_, err = h.intake.Process(ctx, updateEvent("evt-4", sold, active))
	assert.True(t, errors.Is(err, apperrors.ErrPropertyTerminal))

	relisted := snapshot("prop-1", "430000", models.StatusActive)
	out, err = h.intake.Process(ctx, createEvent("evt-5", relisted))
	require.NoError(t, err)
	assert.Equal(t, models.NewReasonSet(models.ReasonNewListing), out.Reasons)
}

func TestIntake_Enqueue_PreservesPerPropertyOrder(t *testing.T) {
	h := newHarness(t, createTestConfig(), nil)

	var (
		mu    sync.Mutex
		order = make(map[string][]string)
		wg    sync.WaitGroup
	)
	for n := 0; n < 20; n++ {
		for _, pid := range []string{"prop-a", "prop-b", "prop-c"} {
			wg.Add(1)
			price := fmt.Sprintf("%d", 400000+n)
			event := createEvent(fmt.Sprintf("%s-%02d", pid, n), snapshot(pid, price, models.StatusDraft))
			err := h.intake.Enqueue(context.Background(), event, func(o *Outcome, err error) {
				defer wg.Done()
				assert.NoError(t, err)
				mu.Lock()
				order[o.PropertyID] = append(order[o.PropertyID], o.EventID)
				mu.Unlock()
			})
			require.NoError(t, err)
		}
	}
	wg.Wait()

	for _, pid := range []string{"prop-a", "prop-b", "prop-c"} {
		require.Len(t, order[pid], 20)
		for n, id := range order[pid] {
			assert.Equal(t, fmt.Sprintf("%s-%02d", pid, n), id)
		}
	}
}

func TestRoute_IsStable(t *testing.T) {
	for _, pid := range []string{"prop-1", "prop-2", "a-much-longer-property-identifier"} {
		first := route(pid, 8)
		assert.GreaterOrEqual(t, first, 0)
		assert.Less(t, first, 8)
		for i := 0; i < 10; i++ {
			assert.Equal(t, first, route(pid, 8))
		}
	}
}

// ==========================
// Error Handling Tests
// ==========================

func TestIntake_Submit_MalformedEvent(t *testing.T) {
	h := newHarness(t, createTestConfig(), nil)

	tests := []struct {
		name          string
		event         *models.PropertyChangeEvent
		expectedField string
	}{
		{
			name: "missing property id",
			event: func() *models.PropertyChangeEvent {
				e := createEvent("evt-1", snapshot("prop-1", "1", models.StatusActive))
				e.PropertyID = ""
				return e
			}(),
			expectedField: "propertyId",
		},
		{
			name: "unknown status",
			event: createEvent("evt-1", func() models.PropertySnapshot {
				s := snapshot("prop-1", "1", models.StatusActive)
				s.Status = "LISTED"
				return s
			}()),
			expectedField: "currentSnapshot.status",
		},
		{
			name:          "nil event",
			event:         nil,
			expectedField: "event",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.intake.Submit(context.Background(), tt.event)

			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrMalformedEvent))
			var eventErr *apperrors.MalformedEventError
			require.True(t, errors.As(err, &eventErr))
			assert.Equal(t, tt.expectedField, eventErr.Field)
			assert.Equal(t, 0, apperrors.GetRetryCount(apperrors.AsStandard(err).Code))
		})
	}
	assert.Empty(t, h.sink.published())
}

func TestIntake_Process_PublishFailureRollsBack(t *testing.T) {
	h := newHarness(t, createTestConfig(), nil)
	h.sink.fail(errors.New("broker unavailable"))
	event := createEvent("evt-1", snapshot("prop-1", "450000", models.StatusActive))

	_, err := h.intake.Process(context.Background(), event)
	var stdErr *apperrors.StandardError
	require.True(t, errors.As(err, &stdErr))
	assert.Equal(t, apperrors.ErrCodeNotificationPublishFailed, stdErr.Code)
	assert.True(t, stdErr.Retryable)

	h.sink.fail(nil)
	out, err := h.intake.Process(context.Background(), event)
	require.NoError(t, err)
	assert.Len(t, out.Jobs, 2, "redelivery must alert again after a failed publish")
}

func TestIntake_Cancel_ReleasesSuppression(t *testing.T) {
	h := newHarness(t, createTestConfig(), nil)
	h.sink.block.Store(true)
	event := createEvent("evt-1", snapshot("prop-1", "450000", models.StatusActive))

	errCh := make(chan error, 1)
	go func() {
		_, err := h.intake.Process(context.Background(), event)
		errCh <- err
	}()

	waitForPublish(t, h.sink)
	require.True(t, h.intake.Cancel("prop-1"))

	err := <-errCh
	var stdErr *apperrors.StandardError
	require.True(t, errors.As(err, &stdErr))
	assert.Equal(t, apperrors.ErrCodeEventCancelled, stdErr.Code)
	assert.False(t, stdErr.Retryable)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, h.intake.Cancel("prop-1"))

	h.sink.block.Store(false)
	out, err := h.intake.Process(context.Background(), event)
	require.NoError(t, err)
	assert.Len(t, out.Jobs, 2)
}

func TestIntake_Cancel_WithdrawsQueuedEvents(t *testing.T) {
	h := newHarness(t, createTestConfig(), nil)
	h.sink.block.Store(true)

	var mu sync.Mutex
	results := make(map[string]error)
	var wg sync.WaitGroup
	enqueue := func(id string, snap models.PropertySnapshot) {
		wg.Add(1)
		require.NoError(t, h.intake.Enqueue(context.Background(), createEvent(id, snap), func(_ *Outcome, err error) {
			mu.Lock()
			results[id] = err
			mu.Unlock()
			wg.Done()
		}))
	}

	enqueue("evt-1", snapshot("prop-1", "450000", models.StatusActive))
	waitForPublish(t, h.sink)
	enqueue("evt-2", snapshot("prop-1", "440000", models.StatusActive))
	enqueue("evt-3", snapshot("prop-1", "430000", models.StatusActive))

	require.True(t, h.intake.Cancel("prop-1"))
	h.sink.block.Store(false)
	enqueue("evt-4", snapshot("prop-1", "420000", models.StatusActive))
	wg.Wait()

	for _, id := range []string{"evt-1", "evt-2", "evt-3"} {
		stdErr := apperrors.AsStandard(results[id])
		require.NotNil(t, stdErr, id)
		assert.Equal(t, apperrors.ErrCodeEventCancelled, stdErr.Code, id)
		assert.False(t, stdErr.Retryable, id)
	}
	assert.NoError(t, results["evt-4"], "events accepted after Cancel run normally")
	assert.Len(t, h.sink.published(), 2)
	assert.False(t, h.intake.Cancel("prop-1"))
}

func TestIntake_Shutdown_InterruptsInFlightEvent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := startHarness(t, ctx, createTestConfig(), nil)
	h.sink.block.Store(true)

	errCh := make(chan error, 1)
	go func() {
		_, err := h.intake.Process(context.Background(), createEvent("evt-1", snapshot("prop-1", "450000", models.StatusActive)))
		errCh <- err
	}()

	waitForPublish(t, h.sink)
	cancel()

	err := <-errCh
	var stdErr *apperrors.StandardError
	require.True(t, errors.As(err, &stdErr))
	assert.Equal(t, apperrors.ErrCodeIntakeStopped, stdErr.Code)
	assert.True(t, stdErr.Retryable)
	assert.ErrorIs(t, err, apperrors.ErrIntakeStopped)

	reserved, err := h.suppression.Reserve(context.Background(), "user-1", "prop-1", time.Hour)
	require.NoError(t, err)
	assert.True(t, reserved, "an interrupted event leaves no suppression behind")
}

func TestIntake_Process_SourceFailure(t *testing.T) {
	h := newHarness(t, createTestConfig(), failingSource{err: apperrors.NewSavedSearchLoadFailedError(errors.New("timeout"))})

	_, err := h.intake.Process(context.Background(), createEvent("evt-1", snapshot("prop-1", "450000", models.StatusActive)))

	assert.Equal(t, apperrors.ErrCodeSavedSearchLoadFailed, apperrors.AsStandard(err).Code)
	assert.Empty(t, h.history.entries, "nothing is recorded for an event that will be redelivered")
}

func TestIntake_Process_HistoryFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, createTestConfig(), nil)
	h.history.err = errors.New("disk full")

	out, err := h.intake.Process(context.Background(), createEvent("evt-1", snapshot("prop-1", "450000", models.StatusActive)))
	require.NoError(t, err)
	assert.Len(t, out.Jobs, 2)
}

func TestIntake_Stop(t *testing.T) {
	h := newHarness(t, createTestConfig(), nil)

	var wg sync.WaitGroup
	var processed int
	var mu sync.Mutex
	for n := 0; n < 10; n++ {
		wg.Add(1)
		event := createEvent(fmt.Sprintf("evt-%d", n), snapshot(fmt.Sprintf("prop-%d", n), "1", models.StatusDraft))
		require.NoError(t, h.intake.Enqueue(context.Background(), event, func(*Outcome, error) {
			mu.Lock()
			processed++
			mu.Unlock()
			wg.Done()
		}))
	}

	h.intake.Stop()
	assert.Equal(t, 10, processed, "Stop drains queued events")
	wg.Wait()

	err := h.intake.Submit(context.Background(), createEvent("evt-late", snapshot("prop-1", "1", models.StatusActive)))
	assert.True(t, errors.Is(err, apperrors.ErrIntakeStopped))
	assert.Error(t, h.intake.Start(context.Background()))
}

func TestLoadConfig(t *testing.T) {
	cfg := LoadConfig(config.IntakeConfig{})
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 64, cfg.QueueSize)
	assert.Equal(t, int64(50000), cfg.LifecycleLimit)
	assert.Zero(t, cfg.EventTimeout)

	cfg = LoadConfig(config.IntakeConfig{Workers: 2, QueueSize: 8, EventTimeout: 1500, LifecycleLimit: 10})
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 1500*time.Millisecond, cfg.EventTimeout)
}
