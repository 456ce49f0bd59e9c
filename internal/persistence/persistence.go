package persistence

// Persistence bundles the stores so the engine can depend on a single
// value. Events may be nil.
type Persistence struct {
	Executions ExecutionStore
	Graphs     GraphStore
	Events     EventStore
}

// NewInMemory returns a Persistence whose stores all live in one
// InMemoryStore.
func NewInMemory() Persistence {
	mem := NewInMemoryStore()
	return Persistence{Executions: mem, Graphs: mem, Events: mem}
}
