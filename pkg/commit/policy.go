package commit

// Policy holds the commit-frequency counters that the original source keeps
// as module-local statics. Re-architected here as fields of a value owned
// by each Superblock (per the "global mutable counters in policy stubs"
// design note) so independent volumes in the same test process never
// cross-contaminate each other's commit cadence.
type Policy struct {
	// DeltaInterval: need_delta fires every DeltaInterval end_changes.
	DeltaInterval uint64
	// RollupInterval: need_rollup fires every RollupInterval deltas.
	RollupInterval uint64

	endChangeCount uint64
	deltaCount     uint64

	// ForceDelta/ForceRollup let tests and the promotion protocol force a
	// decision deterministically, bypassing the interval counters.
	ForceDelta  bool
	ForceRollup bool
}

// Default stub cadence: every 10th end_change requests a delta, every 3rd
// delta requests a rollup, matching the original stub exactly.
const (
	defaultDeltaInterval  = 10
	defaultRollupInterval = 3
)

// NewPolicy returns a Policy with the default stub cadence.
func NewPolicy() Policy {
	return Policy{
		DeltaInterval:  defaultDeltaInterval,
		RollupInterval: defaultRollupInterval,
	}
}

// NeedDelta is called once per end_change under shared hold of delta_lock.
// It is a pure function of in-memory counters so tests stay reproducible;
// real deployments may replace it with a dirty-budget or timer-driven
// policy without touching the state machine around it.
func (p *Policy) NeedDelta() bool {
	p.endChangeCount++

	if p.ForceDelta {
		return true
	}

	return p.DeltaInterval > 0 && p.endChangeCount%p.DeltaInterval == 0
}

// NeedRollup is called once per delta run with AllowRollup, before that
// delta's rollup step; NoRollup and ForceRollup deltas do not call it or
// advance its counter. Like NeedDelta, it is a deterministic pure function
// of counters.
func (p *Policy) NeedRollup() bool {
	p.deltaCount++

	if p.ForceRollup {
		return true
	}

	return p.RollupInterval > 0 && p.deltaCount%p.RollupInterval == 0
}
