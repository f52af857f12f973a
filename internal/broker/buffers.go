package broker

import "sync"

// IncomingBuffer holds packets a connection has sent that are awaiting
// dispatch. The network/framing layer (out of scope, spec §1) appends
// decoded Packets; the router drains the whole buffer in one pass per
// DeviceData event, matching the teacher's short-critical-section
// scratch-buffer swap (spec §5).
type IncomingBuffer struct {
	mu      sync.Mutex
	packets []Packet
}

func NewIncomingBuffer() *IncomingBuffer {
	return &IncomingBuffer{}
}

// Push appends a decoded packet (called by the network layer).
func (b *IncomingBuffer) Push(p Packet) {
	b.mu.Lock()
	b.packets = append(b.packets, p)
	b.mu.Unlock()
}

// DrainSwap atomically swaps out the buffered packets for the router to
// process, leaving the buffer empty. Single lock-acquire per batch.
func (b *IncomingBuffer) DrainSwap() []Packet {
	b.mu.Lock()
	out := b.packets
	b.packets = nil
	b.mu.Unlock()
	return out
}

// OutgoingBuffer holds notifications queued for one connection's writer,
// plus the inflight QoS 1/2 forward-acknowledgement window (spec §4.8,
// §6.1). handle is best-effort, non-blocking signaled to wake the writer
// (spec §5).
type OutgoingBuffer struct {
	mu            sync.Mutex
	notifications []Notification

	maxInflight int
	inflight    map[uint16]struct{}
	nextPkid    uint16

	handle chan struct{}
}

func NewOutgoingBuffer(maxInflight int) *OutgoingBuffer {
	return &OutgoingBuffer{
		maxInflight: maxInflight,
		inflight:    make(map[uint16]struct{}),
		nextPkid:    1,
		handle:      make(chan struct{}, 1),
	}
}

// Handle returns the notification channel the writer selects on.
func (b *OutgoingBuffer) Handle() <-chan struct{} { return b.handle }

// notify best-effort, non-blocking signals the writer.
func (b *OutgoingBuffer) notify() {
	select {
	case b.handle <- struct{}{}:
	default:
	}
}

// FreeSlots reports the number of unused QoS 1/2 inflight slots (spec
// §4.8's "outgoing free_slots()" cap for QoS 1 reads).
func (b *OutgoingBuffer) FreeSlots() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxInflight - len(b.inflight)
}

// Len reports the current outgoing notification queue length, the
// BufferFull threshold input (spec §4.8).
func (b *OutgoingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.notifications)
}

// PushForwards appends forward notifications for publishes downgraded to
// qos, allocating a broker-local pkid and tracking it inflight for
// QoS 1/2. Returns the resulting (bufferLen, inflightLen) per spec §4.8.
func (b *OutgoingBuffer) PushForwards(cursor Offset, publishes []Publish, qos QoS) (bufferLen, inflightLen int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range publishes {
		fp := p
		fp.QoS = downgrade(p.QoS, qos)
		if fp.QoS != QoS0 {
			fp.Pkid = b.nextPkid
			b.nextPkid++
			b.inflight[fp.Pkid] = struct{}{}
		}
		b.notifications = append(b.notifications, ForwardNotification{Cursor: cursor, Size: len(fp.Payload), Publish: fp})
	}
	b.notify()
	return len(b.notifications), len(b.inflight)
}

// RegisterAck removes pkid from the inflight window, reporting whether it
// was present (spec §4.6 PubAck/PubRec handling: "None ⇒ unsolicited").
func (b *OutgoingBuffer) RegisterAck(pkid uint16) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.inflight[pkid]; !ok {
		return false
	}
	delete(b.inflight, pkid)
	return true
}

// PushAck appends a DeviceAck notification. Acks are never gated by buffer
// size (spec §4.4).
func (b *OutgoingBuffer) PushAck(ack Ack) {
	b.mu.Lock()
	b.notifications = append(b.notifications, DeviceAckNotification{Ack: ack})
	b.mu.Unlock()
	b.notify()
}

// PushShadow appends a shadow reply notification.
func (b *OutgoingBuffer) PushShadow(filter string, publish Publish, found bool) {
	b.mu.Lock()
	b.notifications = append(b.notifications, ShadowNotification{Filter: filter, Publish: publish, Found: found})
	b.mu.Unlock()
	b.notify()
}

// PushUnschedule appends the Unschedule sentinel (spec §4.4 BufferFull).
func (b *OutgoingBuffer) PushUnschedule() {
	b.mu.Lock()
	b.notifications = append(b.notifications, UnscheduleNotification{})
	b.mu.Unlock()
	b.notify()
}

// DrainSwap atomically swaps out queued notifications for the writer.
func (b *OutgoingBuffer) DrainSwap() []Notification {
	b.mu.Lock()
	out := b.notifications
	b.notifications = nil
	b.mu.Unlock()
	return out
}
