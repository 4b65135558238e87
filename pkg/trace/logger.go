package trace

// Logger is the sink side of the capture pipeline. The bus, HIF, and
// socket layers call Log inline while servicing the chip, so a sink
// must be safe for concurrent use and cheap enough not to stall the
// poll loop.
type Logger interface {
	Log(event Event)
}

// NoopLogger drops every event. The zero value is the default sink
// wherever capture is switched off.
type NoopLogger struct{}

func (NoopLogger) Log(Event) {}

// MultiLogger fans each event out to several sinks in order, so a
// single capture can feed a file and a live view at the same time.
type MultiLogger struct {
	sinks []Logger
}

// NewMultiLogger combines the given sinks into one Logger.
func NewMultiLogger(sinks ...Logger) *MultiLogger {
	return &MultiLogger{sinks: sinks}
}

func (m *MultiLogger) Log(event Event) {
	for _, s := range m.sinks {
		s.Log(event)
	}
}

var (
	_ Logger = NoopLogger{}
	_ Logger = (*MultiLogger)(nil)
)
