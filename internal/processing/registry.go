package processing

import (
	"context"
	"fmt"
	"sync"

	"github.com/MRwang520a/pixelstudio-api/internal/domain"
)

// Registry routes processing requests to the Processor registered for each
// task type. It itself satisfies the Processor interface, so the dispatcher
// only ever holds a single Processor reference.
type Registry struct {
	mu         sync.RWMutex
	processors map[domain.TaskType]Processor
}

// NewRegistry creates an empty processor registry.
func NewRegistry() *Registry {
	return &Registry{
		processors: make(map[domain.TaskType]Processor),
	}
}

// Register binds a processor to a task type, replacing any prior binding.
func (r *Registry) Register(taskType domain.TaskType, p Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors[taskType] = p
}

// RegisterAll binds a processor to every supported task type.
func (r *Registry) RegisterAll(p Processor) {
	for _, tt := range []domain.TaskType{
		domain.TaskTypeMatting,
		domain.TaskTypeRetouch,
		domain.TaskTypeBackground,
		domain.TaskTypeDesigner,
		domain.TaskTypeUpscale,
		domain.TaskTypeTranslate,
	} {
		r.Register(tt, p)
	}
}

// Process implements Processor by delegating to the registered processor.
// Returns ErrUnsupportedTaskType if no processor is bound to the task type.
func (r *Registry) Process(ctx context.Context, req Request) (*Result, error) {
	r.mu.RLock()
	p, ok := r.processors[req.TaskType]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTaskType, req.TaskType)
	}

	return p.Process(ctx, req)
}
