package watch

// State is the lifecycle state of a Controller
type State int32

const (
	Idle State = iota
	Starting
	Running
	Stopping
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// StatusEvent describes one lifecycle transition.
// Port is set for Running, Err for Error.
type StatusEvent struct {
	State State
	Port  int
	Err   error
}

// StatusReporter receives lifecycle transitions. Calls are fire-and-forget
// and are made synchronously from Start and Stop.
type StatusReporter interface {
	ReportStatus(StatusEvent)
}

// StatusReporterFunc adapts a function to StatusReporter
type StatusReporterFunc func(StatusEvent)

// ReportStatus calls f(ev)
func (f StatusReporterFunc) ReportStatus(ev StatusEvent) {
	f(ev)
}

// NopReporter discards every event
type NopReporter struct{}

// ReportStatus does nothing
func (NopReporter) ReportStatus(StatusEvent) {}
