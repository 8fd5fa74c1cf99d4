package statemachine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/roguebench/roguebench/internal/platform/id"
)

// Context is the data a condition can see: named flags, named numeric
// values, and time spent in the current state.
type Context struct {
	Flags       map[string]bool
	Values      map[string]float64
	TimeInState float64
}

// NewContext creates an empty context.
func NewContext() *Context {
	return &Context{
		Flags:  map[string]bool{},
		Values: map[string]float64{},
	}
}

// Flag returns a named flag; absent flags read as false.
func (c *Context) Flag(name string) bool {
	return c.Flags[name]
}

// SetFlag sets a named flag.
func (c *Context) SetFlag(name string, value bool) {
	if c.Flags == nil {
		c.Flags = map[string]bool{}
	}
	c.Flags[name] = value
}

// Value returns a named numeric value; absent values read as 0.
func (c *Context) Value(name string) float64 {
	return c.Values[name]
}

// SetValue sets a named numeric value.
func (c *Context) SetValue(name string, value float64) {
	if c.Values == nil {
		c.Values = map[string]float64{}
	}
	c.Values[name] = value
}

// Instance is one live occupant of a state machine definition.
type Instance struct {
	ID           string
	DefinitionID string
	CurrentState string
	Context      *Context
}

// InstanceSet tracks live instances. Iteration order is sorted by instance
// id so per-tick updates stay deterministic.
type InstanceSet struct {
	mu        sync.Mutex
	instances map[string]*Instance
}

// NewInstanceSet creates an empty instance set.
func NewInstanceSet() *InstanceSet {
	return &InstanceSet{instances: map[string]*Instance{}}
}

// Spawn creates a new instance of a definition, starting in initialState.
func (s *InstanceSet) Spawn(definitionID, initialState string) (*Instance, error) {
	if definitionID == "" {
		return nil, fmt.Errorf("definition id is required")
	}
	instanceID, err := id.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate instance id: %w", err)
	}
	inst := &Instance{
		ID:           instanceID,
		DefinitionID: definitionID,
		CurrentState: initialState,
		Context:      NewContext(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[inst.ID] = inst
	return inst, nil
}

// Despawn removes an instance. Removing an absent id is a no-op.
func (s *InstanceSet) Despawn(instanceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.instances, instanceID)
}

// Get returns the instance with the given id.
func (s *InstanceSet) Get(instanceID string) (*Instance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[instanceID]
	return inst, ok
}

// Len returns the number of live instances.
func (s *InstanceSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.instances)
}

// All returns the live instances sorted by id.
func (s *InstanceSet) All() []*Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Instance, 0, len(s.instances))
	for _, inst := range s.instances {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
