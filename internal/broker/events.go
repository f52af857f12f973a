package broker

// Event is the tagged union of inbound router events (spec §6.1).
type Event interface {
	isEvent()
}

// ConnectEvent admits a new connection (spec §4.5). Nonce/Proof are only
// consulted when the router was configured with a TenantAuth (Config.
// TenantAuth); a connection with no configured TenantAuth ignores them.
type ConnectEvent struct {
	ClientID       string
	Clean          bool
	TenantPrefix   string
	DynamicFilters bool
	LastWill       *Publish
	Nonce          []byte
	Proof          []byte
	Incoming       *IncomingBuffer
	Outgoing       *OutgoingBuffer
}

// DeviceDataEvent signals that ibufs[id] has new bytes to drain (spec
// §4.6). In this in-process core, "bytes" are pre-decoded Packets placed
// directly into the incoming buffer by the (out of scope) framing layer.
type DeviceDataEvent struct{}

// DisconnectEvent requests connection teardown (spec §4.7).
type DisconnectEvent struct {
	ExecuteWill bool
}

// ReadyEventMsg is the producer-side nudge after an outgoing buffer drains
// (spec §4.4).
type ReadyEventMsg struct{}

// ShadowEvent asks the router to emit a filter's last message (spec §6.1).
type ShadowEvent struct {
	Filter string
}

// MetricsEvent asks the router for a synchronous snapshot (spec §6.1).
type MetricsEvent struct {
	Request MetricsRequest
	Reply   chan MetricsReply
}

func (ConnectEvent) isEvent()    {}
func (DeviceDataEvent) isEvent() {}
func (DisconnectEvent) isEvent() {}
func (ReadyEventMsg) isEvent()   {}
func (ShadowEvent) isEvent()     {}
func (MetricsEvent) isEvent()    {}

// RoutedEvent pairs an Event with the connection id it targets (spec §6.1
// "(id, event)").
type RoutedEvent struct {
	ConnID ConnectionId
	Event  Event
}

// Notification is the tagged union of outbound messages placed into a
// connection's outgoing buffer (spec §6.1).
type Notification interface {
	isNotification()
}

// DeviceAckNotification carries one Ack to transmit.
type DeviceAckNotification struct {
	Ack Ack
}

// ForwardNotification carries one forwarded publish.
type ForwardNotification struct {
	Cursor  Offset
	Size    int
	Publish Publish
}

// ShadowNotification replies to a ShadowEvent.
type ShadowNotification struct {
	Filter  string
	Publish Publish
	Found   bool
}

// UnscheduleNotification tells the writer to stop consuming until
// re-signaled (spec §4.4 BufferFull handling).
type UnscheduleNotification struct{}

func (DeviceAckNotification) isNotification()   {}
func (ForwardNotification) isNotification()     {}
func (ShadowNotification) isNotification()      {}
func (UnscheduleNotification) isNotification()  {}
