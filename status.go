package swyft

// Status is the simulation lifecycle state of one entry.
//
// The numeric values are part of the store's external contract: they are
// what SimulationStatus reports and what the durable status column holds,
// so tooling built on top of a store directory can rely on them.
type Status int64

const (
	// StatusPending marks an entry that still requires simulation.
	StatusPending Status = 0
	// StatusRunning marks an entry claimed by a simulation in progress.
	StatusRunning Status = 1
	// StatusDone marks an entry with a validated observation.
	StatusDone Status = 2
	// StatusFailed marks an entry whose simulation failed. Terminal:
	// failed entries are excluded from coverage and dataset selection
	// but keep their index forever.
	StatusFailed Status = 3
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusDone:
		return "done"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no transition leaves this state.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}
