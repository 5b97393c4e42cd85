package engine

import (
	"context"
	"time"

	"github.com/ordena/ordena/pkg/api"
	"github.com/ordena/ordena/pkg/log"
)

// runTimerLoop is the single firing authority for durable timers. It polls
// the store for due timers and records a TimerFired event for each claimed
// one. ClaimDue hands every timer out exactly once, so the loop never
// double-fires even when several engines share a database.
func (e *engineImpl) runTimerLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.fireDueTimers(ctx)
		}
	}
}

func (e *engineImpl) fireDueTimers(ctx context.Context) {
	due, err := e.timers.ClaimDue(ctx, time.Now())
	if err != nil {
		e.logger.Error("claiming due timers failed", log.Error(err))
		return
	}

	// The claim is already durable; recording must not fail because the
	// loop is shutting down, so the post-claim path gets its own context.
	for _, t := range due {
		e.onTimerFired(context.Background(), t.InstanceID, t.Seq)
	}
}

// onTimerFired records a TimerFired event for the TimerCreated record at
// seq and advances the instance. Firings against terminal instances are
// dropped; a timer that lost its race can legitimately outlive the
// cancellation attempt.
func (e *engineImpl) onTimerFired(ctx context.Context, instanceID string, seq int64) {
	lock := e.lockFor(instanceID)
	lock.Lock()
	defer lock.Unlock()

	inst, err := e.instances.GetInstance(instanceID)
	if err != nil {
		e.logger.Error("loading instance for timer firing failed",
			log.InstanceID(instanceID), log.Error(err))
		return
	}
	if inst.Status.Terminal() {
		return
	}

	hist, err := e.histories.ListEvents(ctx, instanceID)
	if err != nil {
		e.logger.Error("loading history for timer firing failed",
			log.InstanceID(instanceID), log.Error(err))
		return
	}
	if hasCompletion(hist, api.KindTimerFired, seq) {
		return
	}

	if _, err := e.histories.AppendEvent(ctx, instanceID, api.HistoryEvent{
		Kind:   api.KindTimerFired,
		TaskID: seq,
	}); err != nil {
		e.logger.Error("recording timer firing failed",
			log.InstanceID(instanceID), log.Error(err))
		return
	}
	e.observer.OnTimerFired(ctx, instanceID, seq)

	if err := e.advanceLocked(ctx, instanceID); err != nil {
		e.logger.Error("advancing after timer firing failed",
			log.InstanceID(instanceID), log.Error(err))
	}
}
