package broker

// MetricsRequest is the tagged union of synchronous metrics queries (spec
// §6.1 Metrics event, SPEC_FULL supplement).
type MetricsRequest struct {
	Kind           MetricsKind
	ClientID       string
	Filter         string
}

type MetricsKind int8

const (
	MetricsConfig MetricsKind = iota
	MetricsRouter
	MetricsConnection
	MetricsSubscriptions
	MetricsSubscription
	MetricsWaiters
	MetricsReadyQueue
)

// MetricsReply is the synchronous snapshot answer to a MetricsRequest.
type MetricsReply struct {
	Config          *Config
	ConnectionCount int
	FilterCount     int
	FailedPublishes uint64
	Subscriptions   []string
	FilterMeter     *FilterMeter
	Waiters         []ConnectionId
	ReadyQueueLen   int
	ConnectionMeter *ConnectionMeter
	Found           bool
}
