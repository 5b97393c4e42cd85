package engine

import (
	"fmt"
	"sync"

	"github.com/ordena/ordena/pkg/api"
)

type workflowRegistry struct {
	mu     sync.RWMutex
	byName map[string]api.WorkflowDefinition
}

func newWorkflowRegistry() *workflowRegistry {
	return &workflowRegistry{
		byName: make(map[string]api.WorkflowDefinition),
	}
}

func (r *workflowRegistry) Register(def api.WorkflowDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("workflow name is required")
	}
	if def.Orchestrator == nil {
		return fmt.Errorf("workflow %q has no orchestrator", def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[def.Name]; exists {
		return fmt.Errorf("workflow %q already registered", def.Name)
	}

	r.byName[def.Name] = def
	return nil
}

func (r *workflowRegistry) Get(name string) (api.WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.byName[name]
	if !ok {
		return api.WorkflowDefinition{}, fmt.Errorf("unknown workflow: %s", name)
	}
	return def, nil
}

type activityRegistry struct {
	mu     sync.RWMutex
	byName map[string]api.ActivityDefinition
}

func newActivityRegistry() *activityRegistry {
	return &activityRegistry{
		byName: make(map[string]api.ActivityDefinition),
	}
}

func (r *activityRegistry) Register(def api.ActivityDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("activity name is required")
	}
	if def.Fn == nil {
		return fmt.Errorf("activity %q has no implementation", def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[def.Name]; exists {
		return fmt.Errorf("activity %q already registered", def.Name)
	}

	r.byName[def.Name] = def
	return nil
}

func (r *activityRegistry) Get(name string) (api.ActivityDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.byName[name]
	if !ok {
		return api.ActivityDefinition{}, fmt.Errorf("unknown activity: %s", name)
	}
	return def, nil
}
