package resilience

import "fmt"

// TransientDetectionError is returned when a block signal persisted
// through the whole attempt budget.
type TransientDetectionError struct {
	Signal   FailureSignal
	Attempts int
}

func (e *TransientDetectionError) Error() string {
	return fmt.Sprintf("resilience: %s persisted after %d attempts (%s)", e.Signal.Kind, e.Attempts, e.Signal.Reason)
}

// NavigationError is returned when page I/O kept failing through the
// attempt budget.
type NavigationError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("resilience: navigation to %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }
