package tcp

// State is a server's position in its lifecycle.  States only ever
// move forward.
type State int32

const (
	NotStarted State = iota
	Starting
	Accepting
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case Starting:
		return "starting"
	case Accepting:
		return "accepting"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}
