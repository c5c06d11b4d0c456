package conversation

// TurnState is the lifecycle position of one answer turn.
type TurnState int

const (
	TurnIdle TurnState = iota
	TurnStreaming
	TurnToolDetected
	TurnExecutingTools
	TurnContinuing
	TurnDone
	TurnError
	TurnStopped
)

var turnStateNames = map[TurnState]string{
	TurnIdle:           "IDLE",
	TurnStreaming:      "STREAMING",
	TurnToolDetected:   "TOOL_DETECTED",
	TurnExecutingTools: "EXECUTING_TOOLS",
	TurnContinuing:     "CONTINUING",
	TurnDone:           "DONE",
	TurnError:          "ERROR",
	TurnStopped:        "STOPPED",
}

func (s TurnState) String() string {
	if name, ok := turnStateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Terminal reports whether the turn has finished.
func (s TurnState) Terminal() bool {
	return s == TurnDone || s == TurnError || s == TurnStopped
}

// Busy reports whether input should be disabled.
func (s TurnState) Busy() bool {
	return s != TurnIdle && !s.Terminal()
}
