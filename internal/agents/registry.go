package agents

// Registry is the ordered set of agents the scheduler runs.
type Registry struct {
	agents []Agent
	byName map[string]Agent
}

// NewRegistry registers agents in run order. Later duplicates are ignored.
func NewRegistry(agents ...Agent) *Registry {
	r := &Registry{byName: make(map[string]Agent, len(agents))}
	for _, a := range agents {
		if _, dup := r.byName[a.Name()]; dup {
			continue
		}
		r.agents = append(r.agents, a)
		r.byName[a.Name()] = a
	}
	return r
}

// DefaultRegistry returns the four built-in agents.
func DefaultRegistry(env *Env) *Registry {
	return NewRegistry(
		NewBudgetGuard(env),
		NewChaosOrchestrator(env),
		NewIncidentResponse(env),
		NewHealing(env),
	)
}

// All returns the agents in run order.
func (r *Registry) All() []Agent {
	return append([]Agent(nil), r.agents...)
}

// Get looks an agent up by name.
func (r *Registry) Get(name string) (Agent, bool) {
	a, ok := r.byName[name]
	return a, ok
}

// IncidentResponse returns the registered incident response agent, if any.
func (r *Registry) IncidentResponse() *IncidentResponse {
	a, ok := r.byName[NameIncidentResponse]
	if !ok {
		return nil
	}
	ir, _ := a.(*IncidentResponse)
	return ir
}

// Healing returns the registered healing agent, if any.
func (r *Registry) Healing() *Healing {
	a, ok := r.byName[NameHealing]
	if !ok {
		return nil
	}
	h, _ := a.(*Healing)
	return h
}
