package broker

import "fmt"

// ConnectionId is a dense, non-negative, slab-allocated identifier for a
// live connection. Ids are reused after removal by the allocating slab
// (spec §3, §5).
type ConnectionId uint32

// FilterIdx is a dense, non-negative identifier for a filter's commit log.
// Stable for the process lifetime; filters are never removed (spec §3).
type FilterIdx uint32

// QoS is the MQTT delivery guarantee of a publish or subscription.
type QoS uint8

const (
	QoS0 QoS = iota
	QoS1
	QoS2
)

// downgrade returns the lesser of the two QoS values, used when forwarding
// a stored publish to a subscriber with a lower requested QoS (spec §4.8).
func downgrade(stored, requested QoS) QoS {
	if requested < stored {
		return requested
	}
	return stored
}

// Offset is a totally ordered, lexicographically compared cursor into a
// filter's commit log: (segment_id, position_within_segment). It is
// monotonically non-decreasing within a filter's log (spec §3).
type Offset struct {
	Segment  int64
	Position int64
}

// ZeroOffset is the cursor value of a brand new, never-appended-to log.
var ZeroOffset = Offset{Segment: 0, Position: 0}

// Less reports whether o sorts strictly before other.
func (o Offset) Less(other Offset) bool {
	if o.Segment != other.Segment {
		return o.Segment < other.Segment
	}
	return o.Position < other.Position
}

// Compare returns -1, 0, or 1 as o is less than, equal to, or greater than
// other.
func (o Offset) Compare(other Offset) int {
	switch {
	case o.Less(other):
		return -1
	case other.Less(o):
		return 1
	default:
		return 0
	}
}

func (o Offset) String() string {
	return fmt.Sprintf("(%d,%d)", o.Segment, o.Position)
}

// Publish is a single MQTT application message moving through the broker.
type Publish struct {
	Topic   []byte
	Payload []byte
	QoS     QoS
	Pkid    uint16
	Retain  bool
	Dup     bool
}

func (p Publish) clone() Publish {
	np := p
	if p.Topic != nil {
		np.Topic = append([]byte(nil), p.Topic...)
	}
	if p.Payload != nil {
		np.Payload = append([]byte(nil), p.Payload...)
	}
	return np
}

// DataRequest represents one subscriber's pending pull from one filter's
// commit log. cursor only ever advances (spec §3, invariant list).
type DataRequest struct {
	Filter    string
	FilterIdx FilterIdx
	QoS       QoS
	Cursor    Offset
	ReadCount uint64
	MaxCount  uint64
}

// ConnectionMeter tracks long-lived, reconnect-surviving counters for a
// client id (spec §9's subscribe_count asymmetry lives here).
type ConnectionMeter struct {
	SubscribeCount int
	PublishedCount uint64
}

// FilterMeter tracks per-filter bookkeeping updated on every append (spec
// §4.1 append_to_filter).
type FilterMeter struct {
	Count        uint64
	AppendOffset Offset
	TotalSize    uint64
	Head         Offset
	Tail         Offset
}

// Connection is the router's view of one live client (spec §3).
type Connection struct {
	ClientID       string
	Clean          bool
	Subscriptions  map[string]struct{}
	LastWill       *Publish
	TenantPrefix   string
	DynamicFilters bool
	Meter          *ConnectionMeter
}

func newConnection(clientID string, clean bool, tenantPrefix string, dynamicFilters bool, lastWill *Publish, meter *ConnectionMeter) *Connection {
	if meter == nil {
		meter = &ConnectionMeter{}
	}
	return &Connection{
		ClientID:       clientID,
		Clean:          clean,
		Subscriptions:  make(map[string]struct{}),
		LastWill:       lastWill,
		TenantPrefix:   tenantPrefix,
		DynamicFilters: dynamicFilters,
		Meter:          meter,
	}
}
