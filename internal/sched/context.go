package sched

// priorityScope restores the ambient priority it replaced when released.
type priorityScope struct {
	s        *Scheduler
	previous Priority
}

func (s *Scheduler) enterPriority(p Priority) priorityScope {
	scope := priorityScope{s: s, previous: s.currentPriority}
	s.currentPriority = p
	return scope
}

func (ps priorityScope) release() {
	ps.s.currentPriority = ps.previous
}

// RunWithPriority runs fn with p as the ambient priority and restores the
// previous priority afterwards, including when fn fails or panics. Unknown
// priorities are treated as NormalPriority.
func (s *Scheduler) RunWithPriority(p Priority, fn func() error) error {
	defer s.enterPriority(p.normalize()).release()
	return fn()
}

// RunWithPriorityValue is RunWithPriority for functions that produce a value.
func RunWithPriorityValue[T any](s *Scheduler, p Priority, fn func() (T, error)) (T, error) {
	defer s.enterPriority(p.normalize()).release()
	return fn()
}

// WrapCallback captures the current ambient priority and returns a function
// that runs fn under that priority whenever it is eventually called.
func (s *Scheduler) WrapCallback(fn func() error) func() error {
	parent := s.currentPriority
	return func() error {
		defer s.enterPriority(parent).release()
		return fn()
	}
}

// Next runs fn at NormalPriority when the ambient priority is Normal or more
// urgent. Lower priorities are left as they are.
func (s *Scheduler) Next(fn func() error) error {
	p := s.currentPriority
	switch p {
	case ImmediatePriority, UserBlockingPriority, NormalPriority:
		p = NormalPriority
	}
	defer s.enterPriority(p).release()
	return fn()
}
