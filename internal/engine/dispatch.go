package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/ordena/ordena/pkg/api"
	"github.com/ordena/ordena/pkg/log"
)

// dispatchActivity runs one scheduled activity in its own goroutine and
// feeds the outcome back through onActivityCompleted. Dispatch is
// idempotent per (instance, task id): recovery can re-dispatch work that a
// previous process already started without running it twice in this one.
func (e *engineImpl) dispatchActivity(instanceID string, taskID int64, name string, input any) {
	key := fmt.Sprintf("%s/%d", instanceID, taskID)

	e.mu.Lock()
	if _, running := e.inflight[key]; running {
		e.mu.Unlock()
		return
	}
	e.inflight[key] = struct{}{}
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			e.mu.Lock()
			delete(e.inflight, key)
			e.mu.Unlock()
		}()

		ctx := context.Background()

		def, err := e.activities.Get(name)
		if err != nil {
			// No code registered under the recorded name. Not retryable;
			// fail the instance so the gap is visible.
			e.onActivityFailed(ctx, instanceID, taskID, name, err)
			return
		}

		start := time.Now()
		result, err := invokeWithRetry(ctx, def, input)
		e.observer.OnActivityCompleted(ctx, instanceID, name, taskID, err, time.Since(start))

		if err != nil {
			e.onActivityFailed(ctx, instanceID, taskID, name, err)
			return
		}
		e.onActivityCompleted(ctx, instanceID, taskID, name, result)
	}()
}

// invokeWithRetry calls the activity, retrying per its policy with
// exponential backoff. Panics count as failed attempts.
func invokeWithRetry(ctx context.Context, def api.ActivityDefinition, input any) (any, error) {
	attempts := 1
	var backoff time.Duration
	multiplier := 2.0
	var maxBackoff time.Duration

	if def.Retry != nil {
		if def.Retry.MaxAttempts > 0 {
			attempts = def.Retry.MaxAttempts
		}
		backoff = def.Retry.InitialBackoff
		if def.Retry.BackoffMultiplier > 0 {
			multiplier = def.Retry.BackoffMultiplier
		}
		maxBackoff = def.Retry.MaxBackoff
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := invoke(ctx, def, input)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		if backoff > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff = time.Duration(float64(backoff) * multiplier)
			if maxBackoff > 0 && backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}

	return nil, fmt.Errorf("activity %q failed after %d attempt(s): %w", def.Name, attempts, lastErr)
}

func invoke(ctx context.Context, def api.ActivityDefinition, input any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("activity %q panicked: %v", def.Name, r)
		}
	}()
	return def.Fn(ctx, input)
}

// onActivityCompleted records an activity result and advances the instance.
// Completions are recorded at most once per task id: execution is
// at-least-once, history is exactly-once.
func (e *engineImpl) onActivityCompleted(ctx context.Context, instanceID string, taskID int64, name string, result any) {
	lock := e.lockFor(instanceID)
	lock.Lock()
	defer lock.Unlock()

	inst, err := e.instances.GetInstance(instanceID)
	if err != nil {
		e.logger.Error("loading instance for activity completion failed",
			log.InstanceID(instanceID), log.Activity(name), log.Error(err))
		return
	}
	if inst.Status.Terminal() {
		return
	}

	hist, err := e.histories.ListEvents(ctx, instanceID)
	if err != nil {
		e.logger.Error("loading history for activity completion failed",
			log.InstanceID(instanceID), log.Activity(name), log.Error(err))
		return
	}
	if hasCompletion(hist, api.KindActivityCompleted, taskID) {
		return
	}

	if _, err := e.histories.AppendEvent(ctx, instanceID, api.HistoryEvent{
		Kind:    api.KindActivityCompleted,
		Name:    name,
		TaskID:  taskID,
		Payload: result,
	}); err != nil {
		e.logger.Error("recording activity completion failed",
			log.InstanceID(instanceID), log.Activity(name), log.Error(err))
		return
	}

	if err := e.advanceLocked(ctx, instanceID); err != nil {
		e.logger.Error("advancing after activity completion failed",
			log.InstanceID(instanceID), log.Error(err))
	}
}

// onActivityFailed fails the instance after the activity's retries are
// exhausted. Activity failure is orchestration failure; there is no
// partial-failure surface for the orchestrator to observe.
func (e *engineImpl) onActivityFailed(ctx context.Context, instanceID string, taskID int64, name string, cause error) {
	lock := e.lockFor(instanceID)
	lock.Lock()
	defer lock.Unlock()

	inst, err := e.instances.GetInstance(instanceID)
	if err != nil {
		e.logger.Error("loading instance for activity failure failed",
			log.InstanceID(instanceID), log.Activity(name), log.Error(err))
		return
	}
	if inst.Status.Terminal() {
		return
	}

	e.logger.Error("activity failed permanently",
		log.InstanceID(instanceID), log.Activity(name), log.Error(cause))

	if err := e.failLocked(ctx, inst, cause); err != nil {
		e.logger.Error("failing instance after activity failure failed",
			log.InstanceID(instanceID), log.Error(err))
	}
}
