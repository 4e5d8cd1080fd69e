package messages

type Action string

const (
	ActionStart  Action = "start"
	ActionStop   Action = "stop"
	ActionResync Action = "resync"
)

func (a Action) Valid() bool {
	switch a {
	case ActionStart, ActionStop, ActionResync:
		return true
	}
	return false
}

// Command arrives on device/{device}/command. CommandID is used to drop QoS1
// redeliveries; commands without one are always executed.
type Command struct {
	CommandID string `json:"command_id"`
	Action    Action `json:"action"`
	Duration  int    `json:"duration_s,omitempty"`
}
