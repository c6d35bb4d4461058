package application

const (
	DropReasonParse        = "parse"
	DropReasonUnknownTopic = "unknown_topic"
	DropReasonStaleSession = "stale_session"

	TrendReasonZeroBaseline = "zero_baseline"
	TrendReasonOverflow     = "overflow"

	PublishResultOK        = "ok"
	PublishResultDebounced = "debounced"
	PublishResultError     = "error"
)

// Metrics observes the telemetry service. Implementations must be safe for
// concurrent use.
type Metrics interface {
	MessageReceived(topic string)
	MessageDropped(topic string, reason string)
	ReadingRecorded(topic TopicID, value float64)
	TrendUndefined(topic TopicID, reason string)
	PublishAttempted(result string)
	ConnectionChanged(state ConnectionState)
}

type noopMetrics struct{}

func (noopMetrics) MessageReceived(string) {}
func (noopMetrics) MessageDropped(string, string) {}
func (noopMetrics) ReadingRecorded(TopicID, float64) {}
func (noopMetrics) TrendUndefined(TopicID, string) {}
func (noopMetrics) PublishAttempted(string) {}
func (noopMetrics) ConnectionChanged(ConnectionState) {}

var _ Metrics = noopMetrics{}
