package search

// Listener observes a search. Methods are called synchronously from Run.
type Listener interface {
	SearchStarted(s *Search)
	// StateAdvanced follows every transition, before limits are checked.
	StateAdvanced(s *Search)
	StateBacktracked(s *Search)
	// StateProcessed is called when all choices of a state are explored.
	StateProcessed(s *Search)
	PropertyViolated(s *Search, e *Error)
	SearchConstraintHit(s *Search, constraint string)
	SearchFinished(s *Search)
}

// ListenerAdapter implements Listener with no-ops.
type ListenerAdapter struct{}

func (ListenerAdapter) SearchStarted(*Search)               {}
func (ListenerAdapter) StateAdvanced(*Search)               {}
func (ListenerAdapter) StateBacktracked(*Search)            {}
func (ListenerAdapter) StateProcessed(*Search)              {}
func (ListenerAdapter) PropertyViolated(*Search, *Error)    {}
func (ListenerAdapter) SearchConstraintHit(*Search, string) {}
func (ListenerAdapter) SearchFinished(*Search)              {}
