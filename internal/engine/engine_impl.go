package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ordena/ordena/internal/persistence"
	"github.com/ordena/ordena/pkg/api"
	"github.com/ordena/ordena/pkg/log"
)

// DefaultTimerPollInterval is how often the timer loop scans for due
// timers when the configuration does not say otherwise.
const DefaultTimerPollInterval = 25 * time.Millisecond

// engineImpl is the replay core. Every trigger for an instance (start,
// activity completion, timer firing, event arrival) funnels into advance,
// which holds that instance's lock, re-executes the orchestrator against
// recorded history, commits the pass's decisions and dispatches new work.
type engineImpl struct {
	workflows  *workflowRegistry
	activities *activityRegistry

	instances persistence.InstanceStore
	histories persistence.HistoryStore
	timers    persistence.TimerStore
	buffer    persistence.EventBufferStore

	observer api.Observer
	logger   *slog.Logger

	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	inflight map[string]struct{}
	revoked  map[string]map[int64]bool

	pollInterval time.Duration
	loopCancel   context.CancelFunc
	wg           sync.WaitGroup
	closeOnce    sync.Once
}

// Config describes how to construct an engine. The helper constructors cover
// the common cases; NewEngineWithConfig gives full control.
type Config struct {
	Persistence       persistence.Persistence
	Observer          api.Observer
	Logger            *slog.Logger
	TimerPollInterval time.Duration
}

// NewInMemoryEngine returns an Engine backed entirely by in-memory stores.
func NewInMemoryEngine() api.Engine {
	return NewInMemoryEngineWithObserver(nil)
}

// NewInMemoryEngineWithObserver returns an in-memory Engine with the given
// Observer.
func NewInMemoryEngineWithObserver(obs api.Observer) api.Engine {
	mem := persistence.NewInMemoryStore()
	return NewEngineWithConfig(Config{
		Persistence: persistence.Persistence{
			Instances: mem,
			Histories: mem,
			Timers:    mem,
			Buffer:    mem,
		},
		Observer: obs,
	})
}

// NewSQLiteEngine returns an Engine that persists instances, histories,
// timers and buffered events in a SQLite database.
func NewSQLiteEngine(db *sql.DB) (api.Engine, error) {
	return NewSQLiteEngineWithObserver(db, nil)
}

// NewSQLiteEngineWithObserver returns a SQLite-backed Engine with the given
// Observer.
func NewSQLiteEngineWithObserver(db *sql.DB, obs api.Observer) (api.Engine, error) {
	p, err := NewSQLitePersistence(db)
	if err != nil {
		return nil, err
	}
	return NewEngineWithConfig(Config{
		Persistence: p,
		Observer:    obs,
	}), nil
}

// NewSQLitePersistence initializes the SQLite-backed stores an engine needs,
// creating their schemas on first use. Callers that want to tune the engine
// beyond the defaults pass the result to NewEngineWithConfig.
func NewSQLitePersistence(db *sql.DB) (persistence.Persistence, error) {
	inst, err := persistence.NewSQLiteInstanceStore(db)
	if err != nil {
		return persistence.Persistence{}, err
	}
	hist, err := persistence.NewSQLiteHistoryStore(db)
	if err != nil {
		return persistence.Persistence{}, err
	}
	timers, err := persistence.NewSQLiteTimerStore(db)
	if err != nil {
		return persistence.Persistence{}, err
	}
	buffer, err := persistence.NewSQLiteEventBufferStore(db)
	if err != nil {
		return persistence.Persistence{}, err
	}
	return persistence.Persistence{
		Instances: inst,
		Histories: hist,
		Timers:    timers,
		Buffer:    buffer,
	}, nil
}

// NewEngineWithConfig creates a new Engine using the given configuration
// and starts its timer loop.
func NewEngineWithConfig(cfg Config) api.Engine {
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	poll := cfg.TimerPollInterval
	if poll <= 0 {
		poll = DefaultTimerPollInterval
	}

	e := &engineImpl{
		workflows:    newWorkflowRegistry(),
		activities:   newActivityRegistry(),
		instances:    cfg.Persistence.Instances,
		histories:    cfg.Persistence.Histories,
		timers:       cfg.Persistence.Timers,
		buffer:       cfg.Persistence.Buffer,
		observer:     obs,
		logger:       logger,
		locks:        make(map[string]*sync.Mutex),
		inflight:     make(map[string]struct{}),
		revoked:      make(map[string]map[int64]bool),
		pollInterval: poll,
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	e.loopCancel = cancel
	e.wg.Add(1)
	go e.runTimerLoop(loopCtx)

	return e
}

// Ensure engineImpl implements the Engine interface.
var _ api.Engine = (*engineImpl)(nil)

func (e *engineImpl) RegisterWorkflow(def api.WorkflowDefinition) error {
	return e.workflows.Register(def)
}

func (e *engineImpl) RegisterActivity(def api.ActivityDefinition) error {
	return e.activities.Register(def)
}

func (e *engineImpl) Start(ctx context.Context, workflow string, input any) (*api.OrchestrationInstance, error) {
	def, err := e.workflows.Get(workflow)
	if err != nil {
		return nil, err
	}

	inst := &api.OrchestrationInstance{
		ID:        uuid.NewString(),
		Workflow:  def.Name,
		Status:    api.StatusRunning,
		Input:     input,
		StartedAt: time.Now(),
	}

	if err := e.instances.SaveInstance(inst); err != nil {
		return nil, fmt.Errorf("persist new instance: %w", err)
	}
	e.observer.OnOrchestrationStarted(ctx, inst)

	lock := e.lockFor(inst.ID)
	lock.Lock()
	err = e.advanceLocked(ctx, inst.ID)
	lock.Unlock()
	if err != nil {
		return nil, err
	}

	return e.instances.GetInstance(inst.ID)
}

func (e *engineImpl) GetInstance(ctx context.Context, id string) (*api.OrchestrationInstance, error) {
	inst, err := e.instances.GetInstance(id)
	if err != nil {
		if errors.Is(err, persistence.ErrInstanceNotFound) {
			return nil, fmt.Errorf("%w: %s", api.ErrInstanceNotFound, id)
		}
		return nil, err
	}
	return inst, nil
}

func (e *engineImpl) ListInstances(ctx context.Context, opts api.InstanceListOptions) ([]*api.OrchestrationInstance, error) {
	filter := persistence.InstanceFilter{
		Workflow: opts.Workflow,
		Status:   opts.Status,
	}
	return e.instances.ListInstances(filter)
}

func (e *engineImpl) History(ctx context.Context, id string) ([]api.HistoryEvent, error) {
	if _, err := e.GetInstance(ctx, id); err != nil {
		return nil, err
	}
	return e.histories.ListEvents(ctx, id)
}

// RaiseEvent is the external event correlator's entry point. The decision
// is made under the instance lock, against durable history only:
//
//   - unknown instance: ErrInstanceNotFound, no mutation.
//   - terminal instance: accepted and dropped (late or duplicate delivery).
//   - open subscription in history: the event is committed and the
//     instance advances.
//   - otherwise: the event arrived early (or is a duplicate of a consumed
//     one) and is buffered until a subscription appears or the instance
//     completes.
func (e *engineImpl) RaiseEvent(ctx context.Context, id string, name string, payload any) error {
	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	inst, err := e.instances.GetInstance(id)
	if err != nil {
		if errors.Is(err, persistence.ErrInstanceNotFound) {
			return fmt.Errorf("%w: %s", api.ErrInstanceNotFound, id)
		}
		return err
	}

	if inst.Status.Terminal() {
		e.logger.Debug("dropping event for terminal instance",
			log.InstanceID(id), log.Event(name))
		return nil
	}

	hist, err := e.histories.ListEvents(ctx, id)
	if err != nil {
		return err
	}

	if !e.hasOpenSubscription(id, hist, name) {
		if err := e.buffer.Push(ctx, id, name, payload); err != nil {
			return err
		}
		e.logger.Debug("buffered early or duplicate event",
			log.InstanceID(id), log.Event(name))
		return nil
	}

	if _, err := e.histories.AppendEvent(ctx, id, api.HistoryEvent{
		Kind:    api.KindExternalEventReceived,
		Name:    name,
		Payload: payload,
	}); err != nil {
		return err
	}
	e.observer.OnEventReceived(ctx, id, name)

	return e.advanceLocked(ctx, id)
}

// Recover re-drives in-flight work for every RUNNING instance: unresolved
// activity requests are re-dispatched, claimed-but-unrecorded timer firings
// are recorded, and buffered events are re-delivered against open
// subscriptions. Pending timers need no recovery; the timer loop reads them
// straight from the store.
func (e *engineImpl) Recover(ctx context.Context) (int, error) {
	running, err := e.instances.ListInstances(persistence.InstanceFilter{Status: api.StatusRunning})
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, inst := range running {
		lock := e.lockFor(inst.ID)
		lock.Lock()
		err := e.recoverInstance(ctx, inst.ID)
		lock.Unlock()
		if err != nil {
			return recovered, fmt.Errorf("recover instance %s: %w", inst.ID, err)
		}
		recovered++
	}
	return recovered, nil
}

func (e *engineImpl) recoverInstance(ctx context.Context, id string) error {
	hist, err := e.histories.ListEvents(ctx, id)
	if err != nil {
		return err
	}

	// Re-dispatch activities that were scheduled but never completed.
	// Execution is at-least-once; recording stays exactly-once because
	// completions for an already-resolved task id are dropped.
	for _, ev := range hist {
		if ev.Kind != api.KindActivityScheduled {
			continue
		}
		if hasCompletion(hist, api.KindActivityCompleted, ev.Sequence) {
			continue
		}
		e.dispatchActivity(id, ev.Sequence, ev.Name, ev.Payload)
	}

	// Re-record timer firings lost between the durable claim and the
	// history append. A claimed timer whose TimerCreated record has no
	// TimerFired completion was handed out by a process that stopped
	// before recording it.
	for _, ev := range hist {
		if ev.Kind != api.KindTimerCreated {
			continue
		}
		if hasCompletion(hist, api.KindTimerFired, ev.Sequence) {
			continue
		}
		fired, err := e.timers.Fired(ctx, id, ev.Sequence)
		if err != nil {
			return err
		}
		if !fired {
			continue
		}
		if _, err := e.histories.AppendEvent(ctx, id, api.HistoryEvent{
			Kind:   api.KindTimerFired,
			TaskID: ev.Sequence,
		}); err != nil {
			return err
		}
		e.observer.OnTimerFired(ctx, id, ev.Sequence)
	}

	// Deliver any buffered event a committed subscription is waiting for.
	for _, name := range openSubscriptionNames(hist) {
		payload, ok, err := e.buffer.Pop(ctx, id, name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if _, err := e.histories.AppendEvent(ctx, id, api.HistoryEvent{
			Kind:    api.KindExternalEventReceived,
			Name:    name,
			Payload: payload,
		}); err != nil {
			return err
		}
		e.observer.OnEventReceived(ctx, id, name)
	}

	return e.advanceLocked(ctx, id)
}

func (e *engineImpl) Close() error {
	e.closeOnce.Do(func() {
		e.loopCancel()
		e.wg.Wait()
	})
	return nil
}

// lockFor returns the mutex serializing all history mutations for one
// instance. Across instances the engine stays fully parallel.
func (e *engineImpl) lockFor(id string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	lock, ok := e.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[id] = lock
	}
	return lock
}

// advanceLocked runs one replay pass for the instance. The caller must hold
// the instance lock. An error from a pass leaves history untouched; the
// next trigger replays from the same point.
func (e *engineImpl) advanceLocked(ctx context.Context, id string) error {
	inst, err := e.instances.GetInstance(id)
	if err != nil {
		return err
	}
	if inst.Status.Terminal() {
		// Absorbing state: late triggers never mutate the instance.
		return nil
	}

	def, err := e.workflows.Get(inst.Workflow)
	if err != nil {
		return err
	}

	hist, err := e.histories.ListEvents(ctx, id)
	if err != nil {
		return err
	}

	octx := api.NewOrchestrationContext(id, inst.Input, hist, e.logger)
	output, runErr := runOrchestrator(def, octx)

	if errors.Is(runErr, api.ErrSuspended) {
		redelivered, err := e.commitDecisions(ctx, id, octx.Decisions(), true)
		if err != nil {
			return err
		}
		if redelivered {
			// A buffered event resolved a subscription committed by this
			// pass; replay again so the instance keeps moving.
			return e.advanceLocked(ctx, id)
		}
		e.observer.OnOrchestrationSuspended(ctx, inst)
		return nil
	}

	// Terminal pass: honor cancellations requested by the orchestrator
	// (the losing side of a race), then record the terminal event. Newly
	// requested side effects are moot once the instance completes, so they
	// are not committed.
	if _, err := e.commitDecisions(ctx, id, octx.Decisions(), false); err != nil {
		return err
	}

	if runErr != nil {
		return e.failLocked(ctx, inst, runErr)
	}

	if _, err := e.histories.AppendEvent(ctx, id, api.HistoryEvent{
		Kind:    api.KindOrchestrationCompleted,
		Payload: output,
	}); err != nil {
		return err
	}

	inst.Status = api.StatusCompleted
	inst.Output = output
	inst.CompletedAt = time.Now()
	if err := e.instances.UpdateInstance(inst); err != nil {
		return err
	}

	e.finalize(ctx, id)
	e.observer.OnOrchestrationCompleted(ctx, inst)
	return nil
}

// failLocked transitions an instance to FAILED, recording the error in
// history. The caller must hold the instance lock.
func (e *engineImpl) failLocked(ctx context.Context, inst *api.OrchestrationInstance, cause error) error {
	if _, err := e.histories.AppendEvent(ctx, inst.ID, api.HistoryEvent{
		Kind:    api.KindOrchestrationFailed,
		Payload: cause.Error(),
	}); err != nil {
		return err
	}

	inst.Status = api.StatusFailed
	inst.Err = cause
	inst.CompletedAt = time.Now()
	if err := e.instances.UpdateInstance(inst); err != nil {
		return err
	}

	e.finalize(ctx, inst.ID)
	e.observer.OnOrchestrationFailed(ctx, inst, cause)
	return nil
}

// finalize releases everything a terminal instance no longer needs:
// pending timers, buffered events and advisory revocation state.
func (e *engineImpl) finalize(ctx context.Context, id string) {
	if err := e.timers.CancelAll(ctx, id); err != nil {
		e.logger.Warn("cancelling timers for terminal instance failed",
			log.InstanceID(id), log.Error(err))
	}
	if err := e.buffer.Clear(ctx, id); err != nil {
		e.logger.Warn("clearing event buffer for terminal instance failed",
			log.InstanceID(id), log.Error(err))
	}

	e.mu.Lock()
	delete(e.revoked, id)
	e.mu.Unlock()
}

// commitDecisions turns a pass's decisions into history records and side
// effects, in call order. With dispatch=false only cancellations are
// honored (used for terminal passes). It reports whether a buffered event
// was delivered against a newly committed subscription.
func (e *engineImpl) commitDecisions(ctx context.Context, id string, decisions []api.Decision, dispatch bool) (bool, error) {
	redelivered := false

	for _, d := range decisions {
		switch d.Type {
		case api.DecisionScheduleActivity:
			if !dispatch {
				continue
			}
			ev, err := e.histories.AppendEvent(ctx, id, api.HistoryEvent{
				Kind:    api.KindActivityScheduled,
				Name:    d.Name,
				Payload: d.Input,
			})
			if err != nil {
				return redelivered, err
			}
			e.observer.OnActivityScheduled(ctx, id, d.Name, ev.Sequence)
			e.dispatchActivity(id, ev.Sequence, d.Name, d.Input)

		case api.DecisionCreateTimer:
			if !dispatch {
				continue
			}
			ev, err := e.histories.AppendEvent(ctx, id, api.HistoryEvent{
				Kind:     api.KindTimerCreated,
				Deadline: d.Deadline,
			})
			if err != nil {
				return redelivered, err
			}
			if err := e.timers.SaveTimer(ctx, persistence.Timer{
				InstanceID: id,
				Seq:        ev.Sequence,
				Deadline:   d.Deadline,
			}); err != nil {
				return redelivered, err
			}

		case api.DecisionSubscribeEvent:
			if !dispatch {
				continue
			}
			if _, err := e.histories.AppendEvent(ctx, id, api.HistoryEvent{
				Kind: api.KindEventSubscribed,
				Name: d.Name,
			}); err != nil {
				return redelivered, err
			}
			payload, ok, err := e.buffer.Pop(ctx, id, d.Name)
			if err != nil {
				return redelivered, err
			}
			if ok {
				if _, err := e.histories.AppendEvent(ctx, id, api.HistoryEvent{
					Kind:    api.KindExternalEventReceived,
					Name:    d.Name,
					Payload: payload,
				}); err != nil {
					return redelivered, err
				}
				e.observer.OnEventReceived(ctx, id, d.Name)
				redelivered = true
			}

		case api.DecisionCancelTimer:
			if err := e.timers.CancelTimer(ctx, id, d.TaskID); err != nil {
				return redelivered, err
			}

		case api.DecisionCancelSubscription:
			e.revokeSubscription(id, d.TaskID)
		}
	}

	return redelivered, nil
}

// runOrchestrator executes one replay pass, converting panics into
// failures so a broken workflow cannot take the engine down.
func runOrchestrator(def api.WorkflowDefinition, octx *api.OrchestrationContext) (output any, err error) {
	defer func() {
		if r := recover(); r != nil {
			output = nil
			err = fmt.Errorf("orchestrator %q panicked: %v", def.Name, r)
		}
	}()
	return def.Orchestrator(octx)
}

// revokeSubscription records an advisory revocation for a subscription's
// sequence number. Revocations are in-memory only: losing them on restart
// is safe because revocation is best-effort by contract.
func (e *engineImpl) revokeSubscription(id string, seq int64) {
	if seq == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	set, ok := e.revoked[id]
	if !ok {
		set = make(map[int64]bool)
		e.revoked[id] = set
	}
	set[seq] = true
}

// hasOpenSubscription reports whether the next unconsumed subscription for
// the named event exists and has not been revoked. Subscriptions and
// received events match ordinally: the Nth received event resolves the Nth
// subscription.
func (e *engineImpl) hasOpenSubscription(id string, hist []api.HistoryEvent, name string) bool {
	var subs []int64
	received := 0
	for _, ev := range hist {
		switch {
		case ev.Kind == api.KindEventSubscribed && ev.Name == name:
			subs = append(subs, ev.Sequence)
		case ev.Kind == api.KindExternalEventReceived && ev.Name == name:
			received++
		}
	}
	if received >= len(subs) {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.revoked[id][subs[received]]
}

func hasCompletion(hist []api.HistoryEvent, kind api.EventKind, taskID int64) bool {
	for _, ev := range hist {
		if ev.Kind == kind && ev.TaskID == taskID {
			return true
		}
	}
	return false
}

// openSubscriptionNames returns the event names with more committed
// subscriptions than received events.
func openSubscriptionNames(hist []api.HistoryEvent) []string {
	subs := make(map[string]int)
	received := make(map[string]int)
	for _, ev := range hist {
		switch ev.Kind {
		case api.KindEventSubscribed:
			subs[ev.Name]++
		case api.KindExternalEventReceived:
			received[ev.Name]++
		}
	}

	var names []string
	for name, n := range subs {
		if received[name] < n {
			names = append(names, name)
		}
	}
	return names
}
