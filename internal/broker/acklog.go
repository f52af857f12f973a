package broker

// Ack is the tagged union of acknowledgement packets the router may enqueue
// for a connection (spec §3, §4.2).
type Ack interface {
	ackKind() string
}

const CodeSuccess byte = 0x00

type ConnAck struct {
	SessionPresent bool
	Code           byte
}

type SubAck struct {
	Pkid        uint16
	ReturnCodes []byte
}

type PubAck struct {
	Pkid uint16
	Code byte
}

type PubRec struct {
	Pkid uint16
	Code byte
}

type PubRel struct {
	Pkid uint16
	Code byte
}

type PubComp struct {
	Pkid uint16
	Code byte
}

type UnsubAck struct {
	Pkid uint16
}

type PingResp struct{}

func (ConnAck) ackKind() string   { return "ConnAck" }
func (SubAck) ackKind() string    { return "SubAck" }
func (PubAck) ackKind() string    { return "PubAck" }
func (PubRec) ackKind() string    { return "PubRec" }
func (PubRel) ackKind() string    { return "PubRel" }
func (PubComp) ackKind() string   { return "PubComp" }
func (UnsubAck) ackKind() string  { return "UnsubAck" }
func (PingResp) ackKind() string  { return "PingResp" }

// AckLog holds a connection's two FIFOs: acks pending transmission and
// publishes recorded under QoS 2 awaiting PUBREL (spec §4.2).
type AckLog struct {
	committed []Ack
	recorded  []Publish
}

func newAckLog() *AckLog {
	return &AckLog{}
}

// ConnAck pushes a ConnAck onto committed.
func (a *AckLog) ConnAck(ack ConnAck) { a.committed = append(a.committed, ack) }

// SubAck pushes a SubAck onto committed.
func (a *AckLog) SubAck(ack SubAck) { a.committed = append(a.committed, ack) }

// PubAck pushes a PubAck onto committed.
func (a *AckLog) PubAck(ack PubAck) { a.committed = append(a.committed, ack) }

// UnsubAck pushes an UnsubAck onto committed.
func (a *AckLog) UnsubAck(ack UnsubAck) { a.committed = append(a.committed, ack) }

// PingResp pushes a PingResp onto committed.
func (a *AckLog) PingResp(ack PingResp) { a.committed = append(a.committed, ack) }

// PubRel pushes a PubRel onto committed (sent in reply to an incoming
// PUBREC, spec §4.6).
func (a *AckLog) PubRel(ack PubRel) { a.committed = append(a.committed, ack) }

// Pubrec records publish under QoS 2 and pushes the PubRec ack (spec §4.2).
func (a *AckLog) Pubrec(publish Publish, ack PubRec) {
	a.recorded = append(a.recorded, publish)
	a.committed = append(a.committed, ack)
}

// Pubcomp pushes the PubComp ack and pops the oldest recorded publish,
// returning it so the router can append it to the matching commit logs —
// the effective QoS 2 publish happens here, not on initial receipt (spec
// §4.2, §4.6, invariant list). ok is false if recorded was empty, which the
// router treats as a protocol violation.
func (a *AckLog) Pubcomp(ack PubComp) (publish Publish, ok bool) {
	a.committed = append(a.committed, ack)
	if len(a.recorded) == 0 {
		return Publish{}, false
	}
	publish = a.recorded[0]
	a.recorded = a.recorded[1:]
	return publish, true
}

// Readv returns the committed FIFO and clears it, for the router to drain
// into a connection's outgoing buffer in one pass (spec §4.2).
func (a *AckLog) Readv() []Ack {
	if len(a.committed) == 0 {
		return nil
	}
	out := a.committed
	a.committed = nil
	return out
}

// RecordedLen reports the number of QoS 2 publishes awaiting PUBREL;
// exported for metrics and invariant checks in tests.
func (a *AckLog) RecordedLen() int { return len(a.recorded) }
