package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/ordena/ordena/pkg/api"
)

// InMemoryStore is a goroutine-safe implementation of every store interface,
// backed by maps. It is non-durable and intended for tests and small
// deployments.
type InMemoryStore struct {
	mu        sync.RWMutex
	instances map[string]*api.OrchestrationInstance
	histories map[string][]api.HistoryEvent
	timers    []memTimer
	buffered  map[string][]any // key: instanceID + "\x00" + event name
}

type memTimer struct {
	timer Timer
	fired bool
	gone  bool
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		instances: make(map[string]*api.OrchestrationInstance),
		histories: make(map[string][]api.HistoryEvent),
		buffered:  make(map[string][]any),
	}
}

// Ensure InMemoryStore implements the interfaces.
var (
	_ InstanceStore    = (*InMemoryStore)(nil)
	_ HistoryStore     = (*InMemoryStore)(nil)
	_ TimerStore       = (*InMemoryStore)(nil)
	_ EventBufferStore = (*InMemoryStore)(nil)
)

func (s *InMemoryStore) SaveInstance(inst *api.OrchestrationInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *inst
	s.instances[inst.ID] = &stored
	return nil
}

func (s *InMemoryStore) UpdateInstance(inst *api.OrchestrationInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instances[inst.ID]; !ok {
		return ErrInstanceNotFound
	}

	stored := *inst
	s.instances[inst.ID] = &stored
	return nil
}

// GetInstance returns a copy so callers never observe concurrent updates
// half-applied.
func (s *InMemoryStore) GetInstance(id string) (*api.OrchestrationInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instances[id]
	if !ok {
		return nil, ErrInstanceNotFound
	}

	out := *inst
	return &out, nil
}

func (s *InMemoryStore) ListInstances(filter InstanceFilter) ([]*api.OrchestrationInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.OrchestrationInstance

	for _, inst := range s.instances {
		if filter.Workflow != "" && inst.Workflow != filter.Workflow {
			continue
		}
		if filter.Status != "" && inst.Status != filter.Status {
			continue
		}
		out := *inst
		result = append(result, &out)
	}

	return result, nil
}

func (s *InMemoryStore) AppendEvent(ctx context.Context, instanceID string, ev api.HistoryEvent) (api.HistoryEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hist := s.histories[instanceID]
	ev.Sequence = int64(len(hist)) + 1
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	s.histories[instanceID] = append(hist, ev)
	return ev, nil
}

func (s *InMemoryStore) ListEvents(ctx context.Context, instanceID string) ([]api.HistoryEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hist := s.histories[instanceID]
	out := make([]api.HistoryEvent, len(hist))
	copy(out, hist)
	return out, nil
}

func (s *InMemoryStore) SaveTimer(ctx context.Context, t Timer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.timers = append(s.timers, memTimer{timer: t})
	return nil
}

func (s *InMemoryStore) ClaimDue(ctx context.Context, now time.Time) ([]Timer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []Timer
	for i := range s.timers {
		t := &s.timers[i]
		if t.fired || t.gone || t.timer.Deadline.After(now) {
			continue
		}
		t.fired = true
		due = append(due, t.timer)
	}
	return due, nil
}

func (s *InMemoryStore) Fired(ctx context.Context, instanceID string, seq int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.timers {
		t := &s.timers[i]
		if t.timer.InstanceID == instanceID && t.timer.Seq == seq {
			return t.fired, nil
		}
	}
	return false, nil
}

func (s *InMemoryStore) CancelTimer(ctx context.Context, instanceID string, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.timers {
		t := &s.timers[i]
		if t.timer.InstanceID == instanceID && t.timer.Seq == seq && !t.fired {
			t.gone = true
		}
	}
	return nil
}

func (s *InMemoryStore) CancelAll(ctx context.Context, instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.timers {
		t := &s.timers[i]
		if t.timer.InstanceID == instanceID && !t.fired {
			t.gone = true
		}
	}
	return nil
}

func bufferKey(instanceID, name string) string {
	return instanceID + "\x00" + name
}

func (s *InMemoryStore) Push(ctx context.Context, instanceID, name string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := bufferKey(instanceID, name)
	s.buffered[key] = append(s.buffered[key], payload)
	return nil
}

func (s *InMemoryStore) Pop(ctx context.Context, instanceID, name string) (any, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := bufferKey(instanceID, name)
	queue := s.buffered[key]
	if len(queue) == 0 {
		return nil, false, nil
	}
	payload := queue[0]
	s.buffered[key] = queue[1:]
	return payload, true, nil
}

func (s *InMemoryStore) Clear(ctx context.Context, instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := instanceID + "\x00"
	for key := range s.buffered {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(s.buffered, key)
		}
	}
	return nil
}
