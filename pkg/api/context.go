package api

import (
	"fmt"
	"log/slog"
	"time"
)

// DecisionType identifies a side effect requested by the current replay
// pass. Decisions are collected by the OrchestrationContext and committed by
// the engine after the pass returns; the context itself never touches a
// store or a clock subsystem.
type DecisionType string

const (
	DecisionScheduleActivity   DecisionType = "schedule-activity"
	DecisionCreateTimer        DecisionType = "create-timer"
	DecisionSubscribeEvent     DecisionType = "subscribe-event"
	DecisionCancelTimer        DecisionType = "cancel-timer"
	DecisionCancelSubscription DecisionType = "cancel-subscription"
)

// Decision is a single requested side effect. Exactly one of the optional
// fields is meaningful per type: Name+Input for schedule-activity,
// Deadline for create-timer, Name for subscribe-event, TaskID for the two
// cancellations.
type Decision struct {
	Type     DecisionType
	Name     string
	Input    any
	Deadline time.Time
	TaskID   int64
}

// Future is an await handle produced by CreateTimer or SubscribeEvent and
// consumed by Select.
type Future interface {
	// resolution returns the completion record and true once the awaited
	// outcome has been durably recorded.
	resolution() (HistoryEvent, bool)
}

// OrchestrationContext drives one replay pass of an orchestrator. It is a
// pure function of (instance id, input, history): running the same
// orchestrator against the same history always yields the same decisions
// and the same outcome.
type OrchestrationContext struct {
	instanceID string
	input      any
	history    []HistoryEvent
	logger     *slog.Logger

	activityPos int
	timerPos    int
	eventPos    map[string]int

	now       time.Time
	decisions []Decision
}

// NewOrchestrationContext builds a context for one replay pass over the
// given history. The history must be the complete, ordered record for the
// instance.
func NewOrchestrationContext(instanceID string, input any, history []HistoryEvent, logger *slog.Logger) *OrchestrationContext {
	if logger == nil {
		logger = slog.Default()
	}
	c := &OrchestrationContext{
		instanceID: instanceID,
		input:      input,
		history:    history,
		logger:     logger,
		eventPos:   make(map[string]int),
	}
	if len(history) > 0 {
		c.now = history[0].At
	}
	return c
}

// InstanceID returns the id of the instance being replayed.
func (c *OrchestrationContext) InstanceID() string { return c.instanceID }

// Input returns the payload the instance was started with.
func (c *OrchestrationContext) Input() any { return c.input }

// Now returns replay-stable time: the timestamp of the most recent history
// record consumed by this pass. Orchestrators must use it instead of
// time.Now so that replays observe the same clock.
func (c *OrchestrationContext) Now() time.Time { return c.now }

// Logger returns a logger that is safe to use from an orchestrator. Log
// lines repeat on every replay pass; callers who want replay-silent logging
// should gate on their own progress markers.
func (c *OrchestrationContext) Logger() *slog.Logger { return c.logger }

// Decisions returns the side effects requested by this pass, in call order.
// It is consumed by the engine after the orchestrator returns.
func (c *OrchestrationContext) Decisions() []Decision { return c.decisions }

// CallActivity is an await point. The Nth call in a pass corresponds to the
// Nth ActivityScheduled record in history:
//
//   - completion recorded: the cached result is returned, no side effect.
//   - scheduled but not completed: ErrSuspended, no new decision (the
//     request was already dispatched when the record was committed).
//   - no record yet: a schedule-activity decision is recorded and
//     ErrSuspended is returned; the engine commits and dispatches it
//     exactly once.
//
// A name mismatch against the recorded position means the orchestrator is
// not deterministic and fails the instance.
func (c *OrchestrationContext) CallActivity(name string, input any) (any, error) {
	pos := c.activityPos
	c.activityPos++

	sched, ok := c.nthOfKind(KindActivityScheduled, pos)
	if !ok {
		c.decisions = append(c.decisions, Decision{
			Type:  DecisionScheduleActivity,
			Name:  name,
			Input: input,
		})
		return nil, ErrSuspended
	}
	if sched.Name != name {
		return nil, fmt.Errorf("%w: activity call %d replayed as %q but history recorded %q",
			ErrNondeterminism, pos, name, sched.Name)
	}
	c.observe(sched)

	done, ok := c.completionOf(KindActivityCompleted, sched.Sequence)
	if !ok {
		return nil, ErrSuspended
	}
	c.observe(done)
	return done.Payload, nil
}

// TimerFuture is the handle for a durable timer. It resolves when the
// corresponding TimerFired record is committed.
type TimerFuture struct {
	ctx      *OrchestrationContext
	seq      int64
	deadline time.Time
	fired    HistoryEvent
	resolved bool
}

// Deadline returns the absolute firing time recorded for this timer.
func (f *TimerFuture) Deadline() time.Time { return f.deadline }

// Cancel revokes the timer. Cancellation is advisory: if the firing has
// already been durably recorded it has no effect; otherwise it prevents the
// future firing from being recorded.
func (f *TimerFuture) Cancel() {
	if f.resolved || f.seq == 0 {
		return
	}
	f.ctx.decisions = append(f.ctx.decisions, Decision{
		Type:   DecisionCancelTimer,
		TaskID: f.seq,
	})
}

func (f *TimerFuture) resolution() (HistoryEvent, bool) { return f.fired, f.resolved }

// CreateTimer requests a durable timer that fires d after the moment the
// timer was first recorded. It does not block: the returned future is
// awaited with Select. The Nth call matches the Nth TimerCreated record;
// new timers capture their absolute deadline into the record once, so
// replays are stable.
func (c *OrchestrationContext) CreateTimer(d time.Duration) *TimerFuture {
	pos := c.timerPos
	c.timerPos++

	rec, ok := c.nthOfKind(KindTimerCreated, pos)
	if !ok {
		deadline := time.Now().Add(d)
		c.decisions = append(c.decisions, Decision{
			Type:     DecisionCreateTimer,
			Deadline: deadline,
		})
		return &TimerFuture{ctx: c, deadline: deadline}
	}
	c.observe(rec)

	f := &TimerFuture{ctx: c, seq: rec.Sequence, deadline: rec.Deadline}
	if fired, ok := c.completionOf(KindTimerFired, rec.Sequence); ok {
		f.fired = fired
		f.resolved = true
	}
	return f
}

// EventFuture is the handle for an external event subscription. It resolves
// when a matching ExternalEventReceived record is committed.
type EventFuture struct {
	ctx      *OrchestrationContext
	seq      int64
	name     string
	received HistoryEvent
	resolved bool
}

// Name returns the subscribed event name.
func (f *EventFuture) Name() string { return f.name }

// Result returns the event payload once the future has resolved.
func (f *EventFuture) Result() (any, bool) {
	if !f.resolved {
		return nil, false
	}
	return f.received.Payload, true
}

// Cancel revokes the subscription. Advisory only: an event already durably
// recorded stays consumed; a later raise for the revoked subscription is
// buffered or dropped by the correlator instead of resolving it.
func (f *EventFuture) Cancel() {
	if f.resolved || f.seq == 0 {
		return
	}
	f.ctx.decisions = append(f.ctx.decisions, Decision{
		Type:   DecisionCancelSubscription,
		Name:   f.name,
		TaskID: f.seq,
	})
}

func (f *EventFuture) resolution() (HistoryEvent, bool) { return f.received, f.resolved }

// SubscribeEvent requests delivery of the named external event to this
// instance. Like CreateTimer it does not block; the future is awaited with
// Select. The Nth subscription for a name matches the Nth
// EventSubscribed(name) record and resolves against the Nth
// ExternalEventReceived(name) record.
func (c *OrchestrationContext) SubscribeEvent(name string) *EventFuture {
	pos := c.eventPos[name]
	c.eventPos[name] = pos + 1

	rec, ok := c.nthNamed(KindEventSubscribed, name, pos)
	if !ok {
		c.decisions = append(c.decisions, Decision{
			Type: DecisionSubscribeEvent,
			Name: name,
		})
		return &EventFuture{ctx: c, name: name}
	}
	c.observe(rec)

	f := &EventFuture{ctx: c, seq: rec.Sequence, name: name}
	if received, ok := c.nthNamed(KindExternalEventReceived, name, pos); ok {
		f.received = received
		f.resolved = true
	}
	return f
}

// Select is the await point for races. It returns the index of the future
// whose completion record carries the lowest sequence number; history
// commit order is the only tiebreak, never the wall clock of the
// originating subsystem. If no future has resolved, Select returns
// ErrSuspended.
func (c *OrchestrationContext) Select(futures ...Future) (int, error) {
	winner := -1
	var winSeq int64
	for i, f := range futures {
		ev, ok := f.resolution()
		if !ok {
			continue
		}
		if winner == -1 || ev.Sequence < winSeq {
			winner = i
			winSeq = ev.Sequence
		}
	}
	if winner == -1 {
		return 0, ErrSuspended
	}
	ev, _ := futures[winner].resolution()
	c.observe(ev)
	return winner, nil
}

// observe advances replay-stable time as records are consumed.
func (c *OrchestrationContext) observe(ev HistoryEvent) {
	if ev.At.After(c.now) {
		c.now = ev.At
	}
}

// nthOfKind returns the nth (0-based) record of the given kind.
func (c *OrchestrationContext) nthOfKind(kind EventKind, n int) (HistoryEvent, bool) {
	seen := 0
	for _, ev := range c.history {
		if ev.Kind != kind {
			continue
		}
		if seen == n {
			return ev, true
		}
		seen++
	}
	return HistoryEvent{}, false
}

// nthNamed returns the nth (0-based) record of the given kind and name.
func (c *OrchestrationContext) nthNamed(kind EventKind, name string, n int) (HistoryEvent, bool) {
	seen := 0
	for _, ev := range c.history {
		if ev.Kind != kind || ev.Name != name {
			continue
		}
		if seen == n {
			return ev, true
		}
		seen++
	}
	return HistoryEvent{}, false
}

// completionOf returns the completion record of the given kind whose TaskID
// links back to the request record at sequence seq.
func (c *OrchestrationContext) completionOf(kind EventKind, seq int64) (HistoryEvent, bool) {
	for _, ev := range c.history {
		if ev.Kind == kind && ev.TaskID == seq {
			return ev, true
		}
	}
	return HistoryEvent{}, false
}
