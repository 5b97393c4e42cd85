package api

import (
	"context"
	"log/slog"
	"time"
)

// Observer receives callbacks from the orchestration engine for logging and
// metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay replay passes.
type Observer interface {
	// OnOrchestrationStarted is called once when an instance is first
	// started, before its first replay pass.
	OnOrchestrationStarted(ctx context.Context, inst *OrchestrationInstance)

	// OnOrchestrationSuspended is called after a replay pass parks the
	// instance at an unresolved await point.
	OnOrchestrationSuspended(ctx context.Context, inst *OrchestrationInstance)

	// OnOrchestrationCompleted is called when an instance reaches
	// StatusCompleted.
	OnOrchestrationCompleted(ctx context.Context, inst *OrchestrationInstance)

	// OnOrchestrationFailed is called when an instance transitions to
	// StatusFailed.
	OnOrchestrationFailed(ctx context.Context, inst *OrchestrationInstance, err error)

	// OnActivityScheduled is called when an activity request is committed to
	// history, before it is dispatched.
	OnActivityScheduled(ctx context.Context, instanceID, name string, taskID int64)

	// OnActivityCompleted is called after an activity invocation finishes,
	// for both successes and failures (err != nil).
	OnActivityCompleted(ctx context.Context, instanceID, name string, taskID int64, err error, duration time.Duration)

	// OnTimerFired is called when a durable timer firing is committed.
	OnTimerFired(ctx context.Context, instanceID string, taskID int64)

	// OnEventReceived is called when an external event is committed to an
	// instance's history.
	OnEventReceived(ctx context.Context, instanceID, name string)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnOrchestrationStarted(context.Context, *OrchestrationInstance)       {}
func (NoopObserver) OnOrchestrationSuspended(context.Context, *OrchestrationInstance)     {}
func (NoopObserver) OnOrchestrationCompleted(context.Context, *OrchestrationInstance)     {}
func (NoopObserver) OnOrchestrationFailed(context.Context, *OrchestrationInstance, error) {}
func (NoopObserver) OnActivityScheduled(context.Context, string, string, int64)           {}
func (NoopObserver) OnActivityCompleted(context.Context, string, string, int64, error, time.Duration) {
}
func (NoopObserver) OnTimerFired(context.Context, string, int64)     {}
func (NoopObserver) OnEventReceived(context.Context, string, string) {}

// LoggingObserver logs engine lifecycle callbacks through slog.
type LoggingObserver struct {
	logger *slog.Logger
}

// NewLoggingObserver creates a LoggingObserver. A nil logger uses
// slog.Default.
func NewLoggingObserver(logger *slog.Logger) *LoggingObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{logger: logger}
}

func (o *LoggingObserver) OnOrchestrationStarted(ctx context.Context, inst *OrchestrationInstance) {
	o.logger.InfoContext(ctx, "orchestration started",
		slog.String("instance_id", inst.ID),
		slog.String("workflow", inst.Workflow))
}

func (o *LoggingObserver) OnOrchestrationSuspended(ctx context.Context, inst *OrchestrationInstance) {
	o.logger.DebugContext(ctx, "orchestration suspended",
		slog.String("instance_id", inst.ID))
}

func (o *LoggingObserver) OnOrchestrationCompleted(ctx context.Context, inst *OrchestrationInstance) {
	o.logger.InfoContext(ctx, "orchestration completed",
		slog.String("instance_id", inst.ID))
}

func (o *LoggingObserver) OnOrchestrationFailed(ctx context.Context, inst *OrchestrationInstance, err error) {
	o.logger.ErrorContext(ctx, "orchestration failed",
		slog.String("instance_id", inst.ID),
		slog.String("error", err.Error()))
}

func (o *LoggingObserver) OnActivityScheduled(ctx context.Context, instanceID, name string, taskID int64) {
	o.logger.DebugContext(ctx, "activity scheduled",
		slog.String("instance_id", instanceID),
		slog.String("activity", name),
		slog.Int64("task_id", taskID))
}

func (o *LoggingObserver) OnActivityCompleted(ctx context.Context, instanceID, name string, taskID int64, err error, d time.Duration) {
	if err != nil {
		o.logger.WarnContext(ctx, "activity failed",
			slog.String("instance_id", instanceID),
			slog.String("activity", name),
			slog.Int64("task_id", taskID),
			slog.Duration("duration", d),
			slog.String("error", err.Error()))
		return
	}
	o.logger.DebugContext(ctx, "activity completed",
		slog.String("instance_id", instanceID),
		slog.String("activity", name),
		slog.Int64("task_id", taskID),
		slog.Duration("duration", d))
}

func (o *LoggingObserver) OnTimerFired(ctx context.Context, instanceID string, taskID int64) {
	o.logger.DebugContext(ctx, "timer fired",
		slog.String("instance_id", instanceID),
		slog.Int64("task_id", taskID))
}

func (o *LoggingObserver) OnEventReceived(ctx context.Context, instanceID, name string) {
	o.logger.DebugContext(ctx, "external event received",
		slog.String("instance_id", instanceID),
		slog.String("event", name))
}

// CompositeObserver fans out callbacks to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards callbacks to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnOrchestrationStarted(ctx context.Context, inst *OrchestrationInstance) {
	for _, o := range c.observers {
		o.OnOrchestrationStarted(ctx, inst)
	}
}

func (c *CompositeObserver) OnOrchestrationSuspended(ctx context.Context, inst *OrchestrationInstance) {
	for _, o := range c.observers {
		o.OnOrchestrationSuspended(ctx, inst)
	}
}

func (c *CompositeObserver) OnOrchestrationCompleted(ctx context.Context, inst *OrchestrationInstance) {
	for _, o := range c.observers {
		o.OnOrchestrationCompleted(ctx, inst)
	}
}

func (c *CompositeObserver) OnOrchestrationFailed(ctx context.Context, inst *OrchestrationInstance, err error) {
	for _, o := range c.observers {
		o.OnOrchestrationFailed(ctx, inst, err)
	}
}

func (c *CompositeObserver) OnActivityScheduled(ctx context.Context, instanceID, name string, taskID int64) {
	for _, o := range c.observers {
		o.OnActivityScheduled(ctx, instanceID, name, taskID)
	}
}

func (c *CompositeObserver) OnActivityCompleted(ctx context.Context, instanceID, name string, taskID int64, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnActivityCompleted(ctx, instanceID, name, taskID, err, d)
	}
}

func (c *CompositeObserver) OnTimerFired(ctx context.Context, instanceID string, taskID int64) {
	for _, o := range c.observers {
		o.OnTimerFired(ctx, instanceID, taskID)
	}
}

func (c *CompositeObserver) OnEventReceived(ctx context.Context, instanceID, name string) {
	for _, o := range c.observers {
		o.OnEventReceived(ctx, instanceID, name)
	}
}
