package agent

// State is the orchestrator's position in the turn lifecycle. Every
// transition is logged, so an operator can always tell what a stuck
// session was doing.
type State int

const (
	// StateIdle means no turn is in flight.
	StateIdle State = iota
	// StateRouting means the turn input is being classified for model
	// selection.
	StateRouting
	// StateAwaitingProvider means a model call is in flight.
	StateAwaitingProvider
	// StateInterpretingResponse means a model response is being parsed
	// for content and tool calls.
	StateInterpretingResponse
	// StateExecutingTools means tool calls are running.
	StateExecutingTools
	// StateCompacting means a history compaction pass is running.
	StateCompacting
	// StateSnapshotting means end-of-turn state is being persisted.
	StateSnapshotting
	// StateTerminated means the session ended cleanly.
	StateTerminated
	// StateFatal means the session ended on an unrecoverable error.
	StateFatal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRouting:
		return "routing"
	case StateAwaitingProvider:
		return "awaiting_provider"
	case StateInterpretingResponse:
		return "interpreting_response"
	case StateExecutingTools:
		return "executing_tools"
	case StateCompacting:
		return "compacting"
	case StateSnapshotting:
		return "snapshotting"
	case StateTerminated:
		return "terminated"
	case StateFatal:
		return "fatal"
	default:
		return "unknown"
	}
}
