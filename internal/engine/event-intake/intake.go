// internal/engine/event-intake/intake.go
package eventintake

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	apperrors "listing-alerts/internal/common/errors"
	"listing-alerts/internal/common/logger"
	"listing-alerts/internal/common/metrics"
	"listing-alerts/internal/common/observability"
	changeclassifier "listing-alerts/internal/engine/change-classifier"
	"listing-alerts/internal/models"
)

const Component = "event-intake"

// Cancellation causes, read back with context.Cause.
var (
	errCancelRequested = errors.New("property cancelled on request")
	errEventTimeout    = errors.New("event processing timeout")
	errIntakeStopping  = errors.New("event intake stopping")
)

// Intake sequences property change events through classification, matching
// and dispatch. Events are routed to a fixed worker by property id, so one
// property's events run strictly in arrival order while different
// properties run in parallel.
type Intake struct {
	config     *Config
	source     SavedSearchSource
	matcher    Matcher
	dispatcher AlertDispatcher
	sink       NotificationSink
	history    PriceHistoryRecorder
	obs        *observability.Observability
	logger     logger.Logger
	lifecycle  *lifecycle
	now        func() time.Time

	mu      sync.RWMutex
	running bool
	stopped bool
	baseCtx context.Context
	queues  []chan task
	wg      sync.WaitGroup

	propsMu sync.Mutex
	seq     uint64
	props   map[string]*propertyState
}

// propertyState tracks the queued and running events of one property.
type propertyState struct {
	pending       int
	cancelledUpTo uint64
	cancel        context.CancelCauseFunc
}

type Option func(*Intake)

// WithPriceHistory records a price history row for every accepted event
// that changes price or status.
func WithPriceHistory(r PriceHistoryRecorder) Option {
	return func(i *Intake) { i.history = r }
}

func WithObservability(o *observability.Observability) Option {
	return func(i *Intake) { i.obs = o }
}

func NewIntake(
	config *Config,
	source SavedSearchSource,
	matcher Matcher,
	dispatcher AlertDispatcher,
	sink NotificationSink,
	log logger.Logger,
	opts ...Option,
) *Intake {
	i := &Intake{
		config:     config,
		source:     source,
		matcher:    matcher,
		dispatcher: dispatcher,
		sink:       sink,
		obs:        observability.Noop(),
		logger:     log.WithFields(map[string]interface{}{"component": Component}),
		lifecycle:  newLifecycle(config.LifecycleLimit),
		now:        time.Now,
		props:      make(map[string]*propertyState),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Start launches the worker pool. Cancelling ctx aborts in-flight and
// queued events; Stop drains the queues instead.
func (i *Intake) Start(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.running {
		return fmt.Errorf("event intake already running")
	}
	if i.stopped {
		return apperrors.NewIntakeStoppedError()
	}

	i.baseCtx = ctx
	i.queues = make([]chan task, i.config.Workers)
	for n := range i.queues {
		q := make(chan task, i.config.QueueSize)
		i.queues[n] = q
		i.wg.Add(1)
		go i.run(n, q)
	}
	i.running = true

	i.logger.Info("event intake started", map[string]interface{}{
		"workers":   i.config.Workers,
		"queueSize": i.config.QueueSize,
	})
	return nil
}

// Stop stops accepting events, finishes everything already queued and
// waits for the workers to exit.
func (i *Intake) Stop() {
	i.mu.Lock()
	if !i.running {
		i.mu.Unlock()
		return
	}
	i.running = false
	i.stopped = true
	for _, q := range i.queues {
		close(q)
	}
	i.mu.Unlock()

	i.wg.Wait()
	i.lifecycle.stop()
	i.logger.Info("event intake stopped", nil)
}

// Submit validates and queues an event. Processing is bound to ctx.
func (i *Intake) Submit(ctx context.Context, event *models.PropertyChangeEvent) error {
	return i.Enqueue(ctx, event, nil)
}

// Enqueue is Submit with a completion callback, invoked on the worker once
// the event has been fully handled. Callbacks for one property run in the
// order their events were enqueued.
func (i *Intake) Enqueue(ctx context.Context, event *models.PropertyChangeEvent, done DoneFunc) error {
	if event == nil {
		return apperrors.NewMalformedEventError(&apperrors.MalformedEventError{Field: "event", Reason: "is required"})
	}
	if err := event.Validate(); err != nil {
		metrics.EventsFailed.WithLabelValues(string(apperrors.ErrCodeMalformedEvent)).Inc()
		i.logger.Warn("rejected malformed event", map[string]interface{}{
			"eventId": event.EventID,
			"error":   err.Error(),
		})
		return apperrors.NewMalformedEventError(err)
	}

	i.mu.RLock()
	defer i.mu.RUnlock()
	if !i.running {
		return apperrors.NewIntakeStoppedError()
	}

	n := route(event.PropertyID, len(i.queues))
	q := i.queues[n]
	seq := i.track(event.PropertyID)
	select {
	case q <- task{ctx: ctx, event: event, done: done, seq: seq}:
		metrics.IntakeQueueDepth.WithLabelValues(strconv.Itoa(n)).Set(float64(len(q)))
		return nil
	case <-ctx.Done():
		i.untrack(event.PropertyID)
		return apperrors.NewIntakeInterruptedError(event.PropertyID, context.Cause(ctx))
	}
}

// Process queues an event and waits for its outcome.
func (i *Intake) Process(ctx context.Context, event *models.PropertyChangeEvent) (*Outcome, error) {
	type result struct {
		outcome *Outcome
		err     error
	}
	ch := make(chan result, 1)
	err := i.Enqueue(ctx, event, func(o *Outcome, err error) {
		ch <- result{outcome: o, err: err}
	})
	if err != nil {
		return nil, err
	}
	r := <-ch
	return r.outcome, r.err
}

// Cancel withdraws every event of propertyID that is running or queued.
// The running one is aborted and the suppression entries it reserved are
// released; queued ones complete with a withdrawn error without running.
// Events enqueued after Cancel returns are processed normally. Reports
// whether anything was withdrawn.
func (i *Intake) Cancel(propertyID string) bool {
	i.propsMu.Lock()
	defer i.propsMu.Unlock()

	st, ok := i.props[propertyID]
	if !ok {
		return false
	}
	st.cancelledUpTo = i.seq
	if st.cancel != nil {
		st.cancel(errCancelRequested)
	}
	i.logger.Info("cancelled property events", map[string]interface{}{
		"propertyId": propertyID,
		"pending":    st.pending,
	})
	return true
}

func (i *Intake) track(propertyID string) uint64 {
	i.propsMu.Lock()
	defer i.propsMu.Unlock()

	i.seq++
	st, ok := i.props[propertyID]
	if !ok {
		st = &propertyState{}
		i.props[propertyID] = st
	}
	st.pending++
	return i.seq
}

func (i *Intake) untrack(propertyID string) {
	i.propsMu.Lock()
	defer i.propsMu.Unlock()

	st, ok := i.props[propertyID]
	if !ok {
		return
	}
	st.cancel = nil
	st.pending--
	if st.pending <= 0 {
		delete(i.props, propertyID)
	}
}

// begin registers t as the running event of its property. It returns false
// when the property was cancelled after t was queued.
func (i *Intake) begin(t task, cancel context.CancelCauseFunc) bool {
	i.propsMu.Lock()
	defer i.propsMu.Unlock()

	st, ok := i.props[t.event.PropertyID]
	if !ok {
		return true
	}
	if t.seq <= st.cancelledUpTo {
		return false
	}
	st.cancel = cancel
	return true
}

func (i *Intake) run(n int, q chan task) {
	defer i.wg.Done()
	label := strconv.Itoa(n)
	for t := range q {
		metrics.IntakeQueueDepth.WithLabelValues(label).Set(float64(len(q)))
		i.execute(t)
	}
}

func (i *Intake) execute(t task) {
	ctx, cancel := context.WithCancelCause(t.ctx)
	defer cancel(nil)
	if i.config.EventTimeout > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeoutCause(ctx, i.config.EventTimeout, errEventTimeout)
		defer stop()
	}
	stopAfter := context.AfterFunc(i.baseCtx, func() { cancel(errIntakeStopping) })
	defer stopAfter()

	start := i.now()
	var outcome *Outcome
	var err error
	if i.begin(t, cancel) {
		outcome, err = i.handle(ctx, t.event)
	} else {
		outcome = &Outcome{EventID: t.event.EventID, PropertyID: t.event.PropertyID}
		err = apperrors.NewEventWithdrawnError(t.event.PropertyID)
	}
	duration := i.now().Sub(start)
	i.untrack(t.event.PropertyID)

	i.record(ctx, t.event, outcome, err, duration)
	if t.done != nil {
		t.done(outcome, err)
	}
}

// handle runs one event through the pipeline.
func (i *Intake) handle(ctx context.Context, event *models.PropertyChangeEvent) (*Outcome, error) {
	out := &Outcome{EventID: event.EventID, PropertyID: event.PropertyID}

	if !i.lifecycle.accepts(event) {
		return out, apperrors.NewPropertyTerminalError(event.PropertyID)
	}

	curr := &event.CurrentSnapshot
	out.Reasons = changeclassifier.Classify(event.PreviousSnapshot, curr)
	if out.Reasons.Empty() {
		i.accept(ctx, event)
		return out, nil
	}

	if ctx.Err() != nil {
		return out, i.interrupted(ctx, event)
	}

	candidates, err := i.source.ActiveSearches(ctx)
	if err != nil {
		return out, i.contextual(ctx, event, err)
	}

	result, err := i.matcher.Match(ctx, event, out.Reasons, candidates)
	if err != nil {
		return out, i.contextual(ctx, event, err)
	}
	out.Matches, out.Skipped = result.Matches, result.Skipped

	if len(out.Matches) > 0 {
		jobs, err := i.dispatcher.Dispatch(ctx, out.Matches)
		if err != nil {
			return out, i.contextual(ctx, event, err)
		}
		if len(jobs) > 0 {
			if ctx.Err() != nil {
				i.dispatcher.Rollback(ctx, jobs)
				return out, i.interrupted(ctx, event)
			}
			if err := i.sink.Publish(ctx, jobs); err != nil {
				i.dispatcher.Rollback(ctx, jobs)
				if ctx.Err() != nil {
					return out, i.interrupted(ctx, event)
				}
				return out, publishError(err)
			}
		}
		out.Jobs = jobs
	}

	i.accept(ctx, event)
	return out, nil
}

// accept moves the property's tracked state forward and appends price
// history. A failed history write does not fail the event.
func (i *Intake) accept(ctx context.Context, event *models.PropertyChangeEvent) {
	i.lifecycle.observe(&event.CurrentSnapshot)

	if i.history == nil {
		return
	}
	at := event.OccurredAt
	if at.IsZero() {
		at = i.now()
	}
	entry := changeclassifier.PriceHistoryEntry(event.PreviousSnapshot, &event.CurrentSnapshot, at)
	if entry == nil {
		return
	}
	if err := i.history.Record(ctx, *entry); err != nil {
		i.logger.Warn("price history write failed", map[string]interface{}{
			"propertyId": event.PropertyID,
			"changeType": string(entry.ChangeType),
			"error":      err.Error(),
		})
	}
}

func (i *Intake) contextual(ctx context.Context, event *models.PropertyChangeEvent, err error) error {
	if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if ctx.Err() == nil {
		return apperrors.NewEventCancelledError(event.PropertyID, err)
	}
	return i.interrupted(ctx, event)
}

// interrupted maps the cause of a done processing context to an error. A
// withdrawn event is dropped, a timed out one is retried, and anything else
// means the engine or its caller is shutting down.
func (i *Intake) interrupted(ctx context.Context, event *models.PropertyChangeEvent) error {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, errCancelRequested):
		return apperrors.NewEventWithdrawnError(event.PropertyID)
	case errors.Is(cause, errEventTimeout):
		return apperrors.NewEventCancelledError(event.PropertyID, cause)
	}
	return apperrors.NewIntakeInterruptedError(event.PropertyID, cause)
}

func publishError(err error) error {
	if std := apperrors.AsStandard(err); std.Code == apperrors.ErrCodeNotificationPublishFailed {
		return std
	}
	return apperrors.NewNotificationPublishFailedError("", err)
}

func (i *Intake) record(ctx context.Context, event *models.PropertyChangeEvent, out *Outcome, err error, duration time.Duration) {
	status := outcomeStatus(out, err)
	metrics.EventsProcessed.WithLabelValues(status).Inc()
	metrics.EventDuration.WithLabelValues("total").Observe(duration.Seconds())
	i.obs.RecordEvent(ctx, status, duration)

	fields := map[string]interface{}{
		"eventId":    event.EventID,
		"propertyId": event.PropertyID,
		"kind":       string(event.Kind),
		"outcome":    status,
		"durationMs": duration.Milliseconds(),
	}

	if err != nil {
		code := apperrors.AsStandard(err).Code
		metrics.EventsFailed.WithLabelValues(string(code)).Inc()
		fields["errorCode"] = string(code)
		fields["error"] = err.Error()
		if code == apperrors.ErrCodePropertyTerminal {
			i.logger.Warn("event rejected", fields)
		} else {
			i.logger.Error("event processing failed", fields)
		}
		return
	}

	perChannel := make(map[models.Channel]int)
	for _, j := range out.Jobs {
		perChannel[j.Channel]++
	}
	for ch, n := range perChannel {
		i.obs.RecordJobs(ctx, string(ch), n)
	}

	fields["reasons"] = out.Reasons.String()
	fields["matches"] = len(out.Matches)
	fields["skipped"] = len(out.Skipped)
	fields["jobs"] = len(out.Jobs)
	i.logger.Info("event processed", fields)
}

func outcomeStatus(out *Outcome, err error) string {
	switch {
	case err != nil && errors.Is(err, apperrors.ErrPropertyTerminal):
		return outcomeRejected
	case err != nil:
		return outcomeFailed
	case out.Reasons.Empty():
		return outcomeIgnored
	case len(out.Matches) == 0:
		return outcomeNoMatch
	case len(out.Jobs) == 0:
		return outcomeMatched
	}
	return outcomeAlerted
}

// route picks the worker for a property with FNV-1a.
func route(propertyID string, workers int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(propertyID))
	return int(h.Sum32() % uint32(workers))
}
