package presence

import "time"

type State int

const (
	Absent State = iota
	Present
)

func (s State) String() string {
	if s == Present {
		return "present"
	}
	return "absent"
}

// Transition is a stabilized state flip reported to the caller.
type Transition int

const (
	NoTransition Transition = iota
	BecamePresent
	BecameAbsent
)

// Machine debounces raw per-tick samples into Present/Absent transitions.
// It holds a single pending-loss slot: a missed sample while Present arms it,
// any detection clears it, and Expire after the deadline flips to Absent.
type Machine struct {
	grace    time.Duration
	state    State
	pending  bool
	deadline time.Time
}

func NewMachine(grace time.Duration) *Machine {
	return &Machine{grace: grace, state: Absent}
}

func (m *Machine) State() State { return m.state }

// Deadline returns the pending loss deadline, if one is armed.
func (m *Machine) Deadline() (time.Time, bool) {
	return m.deadline, m.pending
}

// Observe applies one detection sample taken at now.
func (m *Machine) Observe(found bool, now time.Time) Transition {
	if found {
		m.pending = false
		m.deadline = time.Time{}
		if m.state == Absent {
			m.state = Present
			return BecamePresent
		}
		return NoTransition
	}

	if m.state == Present && !m.pending {
		m.pending = true
		m.deadline = now.Add(m.grace)
	}
	return NoTransition
}

// Expire resolves the pending slot if its deadline has passed.
func (m *Machine) Expire(now time.Time) Transition {
	if !m.pending || now.Before(m.deadline) {
		return NoTransition
	}
	m.pending = false
	m.deadline = time.Time{}
	m.state = Absent
	return BecameAbsent
}

// Reset drops back to Absent with no pending deadline.
func (m *Machine) Reset() {
	m.state = Absent
	m.pending = false
	m.deadline = time.Time{}
}
