package toolstream

import "sync/atomic"

// Metrics aggregates decode-path counters for an external metrics/log
// sink. All methods are safe for concurrent use; components record
// through the pool, never by reaching into each other's state.
type Metrics struct {
	pathNative atomic.Int64
	pathXML    atomic.Int64
	pathJSON   atomic.Int64
	pathNone   atomic.Int64

	success       atomic.Int64
	noMatch       atomic.Int64
	schemaInvalid atomic.Int64
	repairFailed  atomic.Int64
	timeouts      atomic.Int64
	crashes       atomic.Int64
	cancelled     atomic.Int64

	repaired        atomic.Int64
	conflicts       atomic.Int64
	bidiStripped    atomic.Int64
	inlineFallbacks atomic.Int64
}

// MetricsSnapshot is an immutable copy of the counters at one instant.
type MetricsSnapshot struct {
	PathNative int64
	PathXML    int64
	PathJSON   int64
	PathNone   int64

	Success       int64
	NoMatch       int64
	SchemaInvalid int64
	RepairFailed  int64
	Timeouts      int64
	Crashes       int64
	Cancelled     int64

	Repaired        int64
	Conflicts       int64
	BidiStripped    int64
	InlineFallbacks int64
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		PathNative:      m.pathNative.Load(),
		PathXML:         m.pathXML.Load(),
		PathJSON:        m.pathJSON.Load(),
		PathNone:        m.pathNone.Load(),
		Success:         m.success.Load(),
		NoMatch:         m.noMatch.Load(),
		SchemaInvalid:   m.schemaInvalid.Load(),
		RepairFailed:    m.repairFailed.Load(),
		Timeouts:        m.timeouts.Load(),
		Crashes:         m.crashes.Load(),
		Cancelled:       m.cancelled.Load(),
		Repaired:        m.repaired.Load(),
		Conflicts:       m.conflicts.Load(),
		BidiStripped:    m.bidiStripped.Load(),
		InlineFallbacks: m.inlineFallbacks.Load(),
	}
}

// observe records one resolved ParseResult.
func (m *Metrics) observe(res ParseResult) {
	switch res.Format {
	case FormatNative:
		m.pathNative.Add(1)
	case FormatXML:
		m.pathXML.Add(1)
	case FormatJSON:
		m.pathJSON.Add(1)
	default:
		m.pathNone.Add(1)
	}
	switch res.Kind {
	case ResultSuccess:
		m.success.Add(1)
	case ResultNoMatch:
		m.noMatch.Add(1)
	case ResultSchemaInvalid:
		m.schemaInvalid.Add(1)
	case ResultRepairFailed:
		m.repairFailed.Add(1)
	case ResultTimeout:
		m.timeouts.Add(1)
	case ResultCrash:
		m.crashes.Add(1)
	case ResultCancelled:
		m.cancelled.Add(1)
	}
	if res.Conflict {
		m.conflicts.Add(1)
	}
	if res.BidiStripped > 0 {
		m.bidiStripped.Add(int64(res.BidiStripped))
	}
	for _, call := range res.Calls {
		if call.Repaired {
			m.repaired.Add(1)
			break
		}
	}
}
