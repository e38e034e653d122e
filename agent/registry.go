package agent

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "agent")

// Registry indexes agents by id. Registration order is observable through
// List and drives the engine's query order, so logs stay deterministic for
// a given registration sequence. Lookups are read-locked and never block
// behind each other.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]ReasoningAgent
	order  []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]ReasoningAgent)}
}

// Register inserts or replaces an agent. Re-registering an id keeps its
// original position in the order.
func (r *Registry) Register(a ReasoningAgent) error {
	if a == nil {
		return errors.New("nil agent")
	}
	id := a.ID()
	if id == "" {
		return errors.New("agent has an empty id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[id]; !exists {
		r.order = append(r.order, id)
	}
	r.agents[id] = a
	log.WithFields(logrus.Fields{
		"id":   id,
		"role": a.Role(),
	}).Info("Registered agent")
	return nil
}

// Get returns the agent registered under id, or ErrUnknownAgent.
func (r *Registry) Get(id string) (ReasoningAgent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return nil, errors.Wrap(ErrUnknownAgent, id)
	}
	return a, nil
}

// List returns all agents in registration order.
func (r *Registry) List() []ReasoningAgent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ReasoningAgent, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.agents[id])
	}
	return out
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
