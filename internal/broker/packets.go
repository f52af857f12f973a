package broker

// Packet is the tagged union of decoded inbound MQTT packets the router
// dispatches per spec §4.6. Framing/parsing is an external collaborator
// (spec §1); a Packet here is already fully decoded.
type Packet interface {
	isPacket()
}

type PublishPacket struct {
	Publish Publish
}

type SubscribePacket struct {
	Pkid    uint16
	Filters []SubscribeFilter
}

type SubscribeFilter struct {
	Filter string
	QoS    QoS
}

type UnsubscribePacket struct {
	Pkid    uint16
	Filters []string
}

type PubAckPacket struct {
	Pkid uint16
}

type PubRecPacket struct {
	Pkid uint16
}

type PubRelPacket struct {
	Pkid uint16
}

type PubCompPacket struct {
	Pkid uint16
}

type PingReqPacket struct{}

type DisconnectPacket struct{}

func (PublishPacket) isPacket()     {}
func (SubscribePacket) isPacket()   {}
func (UnsubscribePacket) isPacket() {}
func (PubAckPacket) isPacket()      {}
func (PubRecPacket) isPacket()      {}
func (PubRelPacket) isPacket()      {}
func (PubCompPacket) isPacket()     {}
func (PingReqPacket) isPacket()     {}
func (DisconnectPacket) isPacket()  {}
