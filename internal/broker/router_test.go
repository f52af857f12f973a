package broker

import "testing"

// testConn wires up one connection's slabs and drives it directly against
// a Router without going through the event channel, letting tests control
// exactly when each step of the event loop runs.
type testConn struct {
	id  ConnectionId
	in  *IncomingBuffer
	out *OutgoingBuffer
}

func connect(t *testing.T, r *Router, clientID string, clean bool) testConn {
	t.Helper()
	in := NewIncomingBuffer()
	out := NewOutgoingBuffer(100)
	r.dispatch(0, ConnectEvent{
		ClientID: clientID,
		Clean:    clean,
		Incoming: in,
		Outgoing: out,
	})
	id, ok := r.connectionMap[clientID]
	if !ok {
		t.Fatalf("connect(%q): connection not admitted", clientID)
	}
	return testConn{id: id, in: in, out: out}
}

func (c testConn) send(r *Router, p Packet) {
	c.in.Push(p)
	r.dispatch(c.id, DeviceDataEvent{})
}

// drain runs consume() until the ready queue is empty, collecting every
// Notification dispatched to c's outgoing buffer along the way.
func drain(r *Router, conns ...testConn) map[ConnectionId][]Notification {
	out := make(map[ConnectionId][]Notification)
	for i := 0; i < 10000 && r.scheduler.ReadyLen() > 0; i++ {
		r.consume()
	}
	for _, c := range conns {
		out[c.id] = append(out[c.id], c.out.DrainSwap()...)
	}
	return out
}

func TestRouterSubscribeThenPublish(t *testing.T) {
	r := NewRouter(NewConfig())

	a := connect(t, r, "A", true)
	b := connect(t, r, "B", true)

	a.send(r, SubscribePacket{Pkid: 1, Filters: []SubscribeFilter{{Filter: "hello/+/world", QoS: QoS1}}})
	b.send(r, PublishPacket{Publish: Publish{Topic: []byte("hello/1/world"), Payload: []byte("x"), QoS: QoS1, Pkid: 7}})

	notifications := drain(r, a, b)

	foundPubAck := false
	for _, n := range notifications[b.id] {
		if ack, ok := n.(DeviceAckNotification); ok {
			if pa, ok := ack.Ack.(PubAck); ok && pa.Pkid == 7 {
				foundPubAck = true
			}
		}
	}
	if !foundPubAck {
		t.Errorf("B notifications = %#v, want a PubAck(pkid=7)", notifications[b.id])
	}

	var sawSubAck, sawForward bool
	for _, n := range notifications[a.id] {
		switch v := n.(type) {
		case DeviceAckNotification:
			if _, ok := v.Ack.(SubAck); ok {
				sawSubAck = true
			}
		case ForwardNotification:
			sawForward = true
			if string(v.Publish.Topic) != "hello/1/world" || string(v.Publish.Payload) != "x" {
				t.Errorf("forwarded publish = %+v, want topic hello/1/world payload x", v.Publish)
			}
		}
	}
	if !sawSubAck {
		t.Error("A did not receive a SubAck")
	}
	if !sawForward {
		t.Error("A did not receive the forwarded publish")
	}
}

func TestRouterRetainedReplay(t *testing.T) {
	// r/t exists up front so B's publishes match a filter and B stays
	// connected for the later clearing publish.
	r := NewRouter(NewConfig(WithInitializedFilters("r/t")))

	b := connect(t, r, "B", true)
	b.send(r, PublishPacket{Publish: Publish{Topic: []byte("r/t"), Payload: []byte("keep"), Retain: true}})
	drain(r, b)

	a := connect(t, r, "A", true)
	a.send(r, SubscribePacket{Pkid: 1, Filters: []SubscribeFilter{{Filter: "r/#", QoS: QoS0}}})
	notifications := drain(r, a)

	var got string
	for _, n := range notifications[a.id] {
		if fwd, ok := n.(ForwardNotification); ok {
			got = string(fwd.Publish.Payload)
		}
	}
	if got != "keep" {
		t.Fatalf("A retained replay payload = %q, want keep", got)
	}

	b.send(r, PublishPacket{Publish: Publish{Topic: []byte("r/t"), Payload: nil, Retain: true}})
	drain(r, b)

	c := connect(t, r, "C", true)
	c.send(r, SubscribePacket{Pkid: 1, Filters: []SubscribeFilter{{Filter: "r/#", QoS: QoS0}}})
	notifications = drain(r, c)

	for _, n := range notifications[c.id] {
		if _, ok := n.(ForwardNotification); ok {
			t.Fatal("C received a retained forward after the retained slot was cleared")
		}
	}
}

func TestRouterQoS2ExactlyOnce(t *testing.T) {
	r := NewRouter(NewConfig())

	a := connect(t, r, "A", true)
	a.send(r, SubscribePacket{Pkid: 1, Filters: []SubscribeFilter{{Filter: "t", QoS: QoS1}}})
	drain(r, a)

	b := connect(t, r, "B", true)
	b.send(r, PublishPacket{Publish: Publish{Topic: []byte("t"), Payload: []byte("once"), QoS: QoS2, Pkid: 3}})
	drain(r, a, b) // publish not yet appended: still awaiting PUBREL

	b.send(r, PublishPacket{Publish: Publish{Topic: []byte("t"), Payload: []byte("once"), QoS: QoS2, Pkid: 3}}) // duplicate before PUBREL
	b.send(r, PubRelPacket{Pkid: 3})
	notifications := drain(r, a, b)

	count := 0
	for _, n := range notifications[a.id] {
		if _, ok := n.(ForwardNotification); ok {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("forwards received by A = %d, want exactly 1", count)
	}
}

func TestRouterPersistentSessionResumption(t *testing.T) {
	r := NewRouter(NewConfig())

	a := connect(t, r, "A", false)
	a.send(r, SubscribePacket{Pkid: 1, Filters: []SubscribeFilter{
		{Filter: "s/1", QoS: QoS1},
		{Filter: "s/2", QoS: QoS1},
	}})
	drain(r, a)
	r.dispatch(a.id, DisconnectEvent{ExecuteWill: false})

	b := connect(t, r, "B", true)
	for i := 0; i < 50; i++ {
		b.send(r, PublishPacket{Publish: Publish{Topic: []byte("s/1"), Payload: []byte{byte(i)}, QoS: QoS1, Pkid: uint16(i + 1)}})
	}
	drain(r, b)

	a2 := connect(t, r, "A", false)
	notifications := drain(r, a2)

	var sawSubAck int
	var forwards []ForwardNotification
	for _, n := range notifications[a2.id] {
		switch v := n.(type) {
		case DeviceAckNotification:
			if _, ok := v.Ack.(SubAck); ok {
				sawSubAck++
			}
		case ForwardNotification:
			forwards = append(forwards, v)
		}
	}
	if sawSubAck != 0 {
		t.Errorf("reconnect produced %d SubAcks, want 0 (no resubscribe)", sawSubAck)
	}
	if len(forwards) != 50 {
		t.Fatalf("reconnect forwards = %d, want 50", len(forwards))
	}
	for i, f := range forwards {
		if f.Publish.Payload[0] != byte(i) {
			t.Errorf("forwards[%d].Payload = %v, want [%d] (in order)", i, f.Publish.Payload, i)
		}
	}
}

func TestRouterInvalidSubscriptionDisconnects(t *testing.T) {
	cases := []SubscribeFilter{
		{Filter: "test/x", QoS: QoS0},
		{Filter: "$sys/x", QoS: QoS0},
		{Filter: "q/2", QoS: QoS2},
	}
	for _, f := range cases {
		r := NewRouter(NewConfig())
		a := connect(t, r, "A", true)
		a.send(r, SubscribePacket{Pkid: 1, Filters: []SubscribeFilter{f}})

		if r.connections.Has(a.id) {
			t.Errorf("filter %q: connection still live after invalid subscription", f.Filter)
		}
		if set := r.subscriptionMap[f.Filter]; len(set) != 0 {
			t.Errorf("filter %q: subscriptionMap has entries after rejected subscribe", f.Filter)
		}
	}
}

func TestRouterWildcardFanOut(t *testing.T) {
	r := NewRouter(NewConfig())

	a := connect(t, r, "A", true)
	a.send(r, SubscribePacket{Pkid: 1, Filters: []SubscribeFilter{{Filter: "#", QoS: QoS0}}})
	b := connect(t, r, "B", true)
	b.send(r, SubscribePacket{Pkid: 1, Filters: []SubscribeFilter{{Filter: "hello/+/world", QoS: QoS0}}})
	drain(r, a, b)

	c := connect(t, r, "C", true)
	for i := 0; i < 10; i++ {
		topic := []byte("hello/" + string(rune('0'+i)) + "/world")
		c.send(r, PublishPacket{Publish: Publish{Topic: topic, Payload: []byte("x"), QoS: QoS0}})
	}
	for i := 0; i < 10; i++ {
		c.send(r, PublishPacket{Publish: Publish{Topic: []byte("hello/world"), Payload: []byte("x"), QoS: QoS0}})
	}
	notifications := drain(r, a, b, c)

	countA, countB := 0, 0
	for _, n := range notifications[a.id] {
		if _, ok := n.(ForwardNotification); ok {
			countA++
		}
	}
	for _, n := range notifications[b.id] {
		if _, ok := n.(ForwardNotification); ok {
			countB++
		}
	}
	if countA != 20 {
		t.Errorf("A forwards = %d, want 20 (# matches every publish)", countA)
	}
	if countB != 10 {
		t.Errorf("B forwards = %d, want 10 (hello/+/world matches only hello/N/world)", countB)
	}
}

func TestRouterMaxConnections(t *testing.T) {
	r := NewRouter(NewConfig(WithMaxConnections(1)))
	connect(t, r, "A", true)

	in := NewIncomingBuffer()
	out := NewOutgoingBuffer(10)
	r.dispatch(0, ConnectEvent{ClientID: "B", Clean: true, Incoming: in, Outgoing: out})

	if _, ok := r.connectionMap["B"]; ok {
		t.Error("second connection admitted past MaxConnections=1")
	}
}

func TestRouterIdempotentDisconnect(t *testing.T) {
	r := NewRouter(NewConfig())
	a := connect(t, r, "A", true)

	r.dispatch(a.id, DisconnectEvent{ExecuteWill: false})
	r.dispatch(a.id, DisconnectEvent{ExecuteWill: false}) // must not panic or double-remove
}

// TestRouterQoS0InstantAckIsUnobserved pins the spec §9 open question: QoS 0
// publishes never force an ack or a scheduler wake of the publisher's own
// connection, and Config.InstantAck does not change that — the flag is
// carried for forward compatibility but deliberately not consulted (spec
// §9 "shared mutable configuration" design note).
func TestRouterQoS0InstantAckIsUnobserved(t *testing.T) {
	for _, instantAck := range []bool{false, true} {
		r := NewRouter(NewConfig(WithInstantAck(instantAck), WithInitializedFilters("t")))
		a := connect(t, r, "A", true)
		drain(r, a) // flush the ConnAck so only acks caused by the publish remain
		a.send(r, PublishPacket{Publish: Publish{Topic: []byte("t"), Payload: []byte("x"), QoS: QoS0}})
		notifications := drain(r, a)

		for _, n := range notifications[a.id] {
			if ack, ok := n.(DeviceAckNotification); ok {
				t.Errorf("InstantAck=%v: QoS 0 publish produced an ack %#v, want none", instantAck, ack.Ack)
			}
		}
	}
}

func TestRouterTenantAuthGatesAdmission(t *testing.T) {
	auth := NewTenantAuth(map[string][]byte{"acme/": []byte("acme-secret")})
	r := NewRouter(NewConfig(WithTenantAuth(auth)))

	nonce := []byte("nonce-1")
	proof, ok := auth.Derive("acme/", nonce)
	if !ok {
		t.Fatal("Derive() ok = false for known tenant")
	}

	in := NewIncomingBuffer()
	out := NewOutgoingBuffer(10)
	r.dispatch(0, ConnectEvent{
		ClientID:     "bad",
		Clean:        true,
		TenantPrefix: "acme/",
		Nonce:        nonce,
		Proof:        []byte("wrong-proof"),
		Incoming:     in,
		Outgoing:     out,
	})
	if _, admitted := r.connectionMap["bad"]; admitted {
		t.Error("connection admitted with an incorrect tenant proof")
	}

	in2 := NewIncomingBuffer()
	out2 := NewOutgoingBuffer(10)
	r.dispatch(0, ConnectEvent{
		ClientID:     "good",
		Clean:        true,
		TenantPrefix: "acme/",
		Nonce:        nonce,
		Proof:        proof,
		Incoming:     in2,
		Outgoing:     out2,
	})
	if _, admitted := r.connectionMap["good"]; !admitted {
		t.Error("connection rejected despite a correct tenant proof")
	}
}
