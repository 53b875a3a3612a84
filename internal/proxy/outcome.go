package proxy

// Outcome is the ephemeral value computed at guard destruction that drives
// the grade update. See the grading + release protocol table.
type Outcome int

const (
	// OutcomeSucceeded: the upstream body reached a natural end-of-stream.
	OutcomeSucceeded Outcome = iota
	// OutcomeFailedBeforeFirstByte: the upstream errored (or the idle
	// clock fired) before any body byte was observed.
	OutcomeFailedBeforeFirstByte
	// OutcomeFailedMidStream: at least one byte was observed, then the
	// upstream errored or the idle clock fired.
	OutcomeFailedMidStream
	// OutcomeClientCanceledCleanly: the client went away (or the wrapper
	// was simply dropped) before the upstream reached natural end of
	// stream, with no upstream error observed.
	OutcomeClientCanceledCleanly
	// OutcomeShutdownInterrupted: the stream was torn down mid-flight by
	// a forced (second-signal) shutdown rather than a client or upstream
	// event.
	OutcomeShutdownInterrupted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "completed streaming successfully"
	case OutcomeFailedBeforeFirstByte:
		return "didn't respond"
	case OutcomeFailedMidStream:
		return "failed during streaming"
	case OutcomeClientCanceledCleanly:
		return "connection closed"
	case OutcomeShutdownInterrupted:
		return "shutdown"
	default:
		return "unknown"
	}
}
