package broker

import (
	"strings"
	"unicode/utf8"
)

// consumeStatus is forward_device_data's outcome for one DataRequest (spec
// §4.8).
type consumeStatus int8

const (
	consumeBufferFull consumeStatus = iota
	consumeInflightFull
	consumeFilterCaughtup
	consumePartialRead
)

// Router is the single-threaded event loop owning every per-connection
// slab, the shared DataLog, Scheduler and Graveyard (spec §2, §3, §4).
// Exactly one goroutine may call Run; all other access happens by posting
// to events (spec §5).
type Router struct {
	cfg Config
	log Logger

	connections Slab[*Connection]
	ibufs       Slab[*IncomingBuffer]
	obufs       Slab[*OutgoingBuffer]
	ackslog     Slab[*AckLog]

	scheduler *Scheduler
	datalog   *DataLog
	graveyard *Graveyard

	connectionMap  map[string]ConnectionId
	subscriptionMap map[string]map[ConnectionId]struct{}

	failedPublishes uint64

	events chan RoutedEvent

	// notifications accumulates (connID, DataRequest) pairs produced by a
	// single commit-log append, for the caller to fold into the scheduler
	// once the append loop finishes (spec §2 control flow, §4.6.1).
	notifications []WaiterNotification
}

// NewRouter constructs a Router from cfg (spec §4 "Router owns..."). Run
// must be called to drive it.
func NewRouter(cfg Config) *Router {
	cfg = cfg.clone()
	return &Router{
		cfg:             cfg,
		log:             cfg.Logger,
		scheduler:       NewScheduler(),
		datalog:         NewDataLog(cfg),
		graveyard:       NewGraveyard(),
		connectionMap:   make(map[string]ConnectionId),
		subscriptionMap: make(map[string]map[ConnectionId]struct{}),
		events:          make(chan RoutedEvent, cfg.EventChannelCapacity),
	}
}

// Post enqueues an event for the router goroutine (spec §5, §6.1). It is
// the only entry point collaborators outside the router goroutine may use.
func (r *Router) Post(connID ConnectionId, event Event) {
	r.events <- RoutedEvent{ConnID: connID, Event: event}
}

// Events exposes the inbound channel so a caller driving Run manually (e.g.
// tests) can post without a helper goroutine.
func (r *Router) Events() chan<- RoutedEvent { return r.events }

// Run drives the event loop, checking stop before each runInner pass and
// returning once stop is closed (spec §4.4). A pass that is blocked waiting
// for an event only ends when an event arrives, so a closed stop is noticed
// after that.
func (r *Router) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		r.runInner()
	}
}

// runInner is one iteration of the event loop: consume, then block for one
// event if nothing was ready, then drain up to MaxEventsPerDrain more
// events non-blocking, then poll the ready queue up to MaxReadyPerIteration
// times (spec §4.4).
func (r *Router) runInner() {
	if !r.consume() {
		re, ok := <-r.events
		if !ok {
			return
		}
		r.dispatch(re.ConnID, re.Event)
	}

	for i := 0; i < r.cfg.MaxEventsPerDrain; i++ {
		select {
		case re, ok := <-r.events:
			if !ok {
				return
			}
			r.dispatch(re.ConnID, re.Event)
		default:
			i = r.cfg.MaxEventsPerDrain
		}
	}

	for i := 0; i < r.cfg.MaxReadyPerIteration; i++ {
		r.consume()
	}
}

// dispatch routes one event to its handler (spec §4.4 "events()").
func (r *Router) dispatch(connID ConnectionId, event Event) {
	switch e := event.(type) {
	case ConnectEvent:
		r.handleNewConnection(e)
	case DeviceDataEvent:
		r.handleDevicePayload(connID)
	case DisconnectEvent:
		r.handleDisconnection(connID, e.ExecuteWill)
	case ReadyEventMsg:
		r.scheduler.Reschedule(connID, EventReadyExplicit)
	case ShadowEvent:
		r.retrieveShadow(connID, e.Filter)
	case MetricsEvent:
		r.retrieveMetrics(connID, e.Request, e.Reply)
	}
}

// handleNewConnection admits a connection, restoring graveyard state for a
// persistent session or just its meter for a clean one, and inserts it into
// all five per-connection slabs under the same id (spec §4.5). When
// cfg.TenantAuth is configured, a connection is only admitted if its
// client-supplied proof verifies against the claimed tenant prefix.
func (r *Router) handleNewConnection(e ConnectEvent) {
	if r.connections.Len() >= r.cfg.MaxConnections {
		r.log.Log(LevelError, "no space for new connection", "client_id", e.ClientID)
		return
	}

	if r.cfg.TenantAuth != nil && !r.cfg.TenantAuth.Verify(e.TenantPrefix, e.Nonce, e.Proof) {
		r.log.Log(LevelError, "tenant auth failed", "client_id", e.ClientID, "tenant_prefix", e.TenantPrefix)
		return
	}

	saved, previousSession := r.graveyard.Lookup(e.ClientID)

	var tracker *Tracker
	var subscriptions map[string]struct{}
	var meter *ConnectionMeter

	if !e.Clean {
		if previousSession {
			tracker = saved.tracker
			subscriptions = saved.subscriptions
			meter = saved.meter
		} else {
			tracker = newTracker(e.ClientID)
			subscriptions = make(map[string]struct{})
			meter = &ConnectionMeter{}
		}
	} else {
		tracker = newTracker(e.ClientID)
		subscriptions = make(map[string]struct{})
		if previousSession {
			meter = saved.meter
			meter.SubscribeCount = 0
		} else {
			meter = &ConnectionMeter{}
		}
	}

	conn := newConnection(e.ClientID, e.Clean, e.TenantPrefix, e.DynamicFilters, e.LastWill, meter)
	conn.Subscriptions = subscriptions

	connID := r.connections.Insert(conn)
	if id := r.ibufs.Insert(e.Incoming); id != connID {
		panic(ErrSlabMismatch)
	}
	if id := r.obufs.Insert(e.Outgoing); id != connID {
		panic(ErrSlabMismatch)
	}
	if id := r.ackslog.Insert(newAckLog()); id != connID {
		panic(ErrSlabMismatch)
	}
	if id := r.scheduler.Add(tracker); id != connID {
		panic(ErrSlabMismatch)
	}
	r.connectionMap[e.ClientID] = connID

	for filter := range subscriptions {
		r.subscribeTo(filter, connID)
	}

	ack, _ := r.ackslog.Get(connID)
	ack.ConnAck(ConnAck{
		SessionPresent: !e.Clean && previousSession,
		Code:           CodeSuccess,
	})

	r.scheduler.Reschedule(connID, EventInit)
}

// subscribeTo records connID as subscribed to filter in subscriptionMap,
// used both for fresh Subscribe packets and for restoring a persistent
// session's prior subscriptions on reconnect.
func (r *Router) subscribeTo(filter string, connID ConnectionId) {
	set, ok := r.subscriptionMap[filter]
	if !ok {
		set = make(map[ConnectionId]struct{})
		r.subscriptionMap[filter] = set
	}
	set[connID] = struct{}{}
}

// handleDisconnection idempotently tears down connID: executes the last
// will if requested, removes it from all five slabs, cleans its data-log
// waiters and subscriptionMap entries, and saves state to the graveyard
// (spec §4.7).
func (r *Router) handleDisconnection(connID ConnectionId, executeWill bool) {
	conn, ok := r.connections.Get(connID)
	if !ok {
		r.log.Log(LevelError, "no-connection on disconnect", "id", connID)
		return
	}

	if executeWill {
		r.handleLastWill(connID)
	}

	r.connections.Remove(connID)
	r.ibufs.Remove(connID)
	r.obufs.Remove(connID)
	r.ackslog.Remove(connID)
	tracker := r.scheduler.Remove(connID)
	delete(r.connectionMap, conn.ClientID)

	inflight := r.datalog.Clean(connID)

	for filter := range conn.Subscriptions {
		if set, ok := r.subscriptionMap[filter]; ok {
			delete(set, connID)
		}
	}

	if !conn.Clean {
		for _, req := range inflight {
			tracker.PushBack(req)
		}
		r.graveyard.SavePersistent(conn.ClientID, tracker, conn.Subscriptions, conn.Meter)
	} else {
		conn.Meter.SubscribeCount = 0
		r.graveyard.SaveCleanMeterOnly(conn.ClientID, conn.Meter)
	}
}

// handleLastWill publishes connID's last will, if it has one, through the
// normal commit-log append path (spec §4.7 step 2).
func (r *Router) handleLastWill(connID ConnectionId) {
	conn, ok := r.connections.Get(connID)
	if !ok || conn.LastWill == nil {
		return
	}
	will := *conn.LastWill
	conn.LastWill = nil

	if _, err := r.appendToCommitlog(connID, will); err != nil {
		r.failedPublishes++
		r.log.Log(LevelError, "last will append failed", "client_id", conn.ClientID, "err", err)
		return
	}
	r.drainNotifications()
}

// handleDevicePayload drains connID's incoming buffer and dispatches every
// decoded Packet (spec §4.6). A mid-batch disconnect-worthy error still
// lets every packet before it keep its acks and notifications; the
// connection is only torn down once the whole batch has been processed.
func (r *Router) handleDevicePayload(connID ConnectionId) {
	ibuf, ok := r.ibufs.Get(connID)
	if !ok {
		r.log.Log(LevelError, "no-connection on device data", "id", connID)
		return
	}
	packets := ibuf.DrainSwap()

	var forceAck, newData, disconnect, executeWill bool
	executeWill = true

	for _, packet := range packets {
		switch p := packet.(type) {
		case PublishPacket:
			if !r.handlePublishPacket(connID, p, &forceAck, &newData) {
				disconnect = true
			}
		case SubscribePacket:
			if !r.handleSubscribePacket(connID, p) {
				disconnect = true
			}
			forceAck = true
		case UnsubscribePacket:
			r.handleUnsubscribePacket(connID, p)
			forceAck = true
		case PubAckPacket:
			if !r.handleSimpleAck(connID, p.Pkid) {
				disconnect = true
			}
		case PubRecPacket:
			if !r.handlePubRec(connID, p.Pkid) {
				disconnect = true
			}
		case PubRelPacket:
			if !r.handlePubRel(connID, p.Pkid, &newData) {
				disconnect = true
			}
		case PubCompPacket:
			// no-op: inbound PUBCOMP only ever completes a forwarded QoS 2
			// delivery, whose inflight slot was already released via
			// RegisterAck when its PUBREC arrived (handlePubRec).
		case PingReqPacket:
			ack, _ := r.ackslog.Get(connID)
			ack.PingResp(PingResp{})
			forceAck = true
		case DisconnectPacket:
			disconnect = true
			executeWill = false
		}
		if disconnect {
			break
		}
	}

	if forceAck {
		r.scheduler.Reschedule(connID, EventFreshData)
	}

	if newData {
		r.drainNotifications()
	}

	if disconnect {
		r.handleDisconnection(connID, executeWill)
	}
}

func (r *Router) handlePublishPacket(connID ConnectionId, p PublishPacket, forceAck, newData *bool) bool {
	publish := p.Publish

	switch publish.QoS {
	case QoS1:
		ack, _ := r.ackslog.Get(connID)
		ack.PubAck(PubAck{Pkid: publish.Pkid, Code: CodeSuccess})
		*forceAck = true
	case QoS2:
		ack, _ := r.ackslog.Get(connID)
		ack.Pubrec(publish, PubRec{Pkid: publish.Pkid, Code: CodeSuccess})
		*forceAck = true
		return true // QoS 2 is not appended until PUBREL/PUBCOMP (spec §4.2)
	}

	if _, err := r.appendToCommitlog(connID, publish); err != nil {
		r.failedPublishes++
		r.log.Log(LevelError, "publish append failed", "id", connID, "err", err)
		return false
	}
	*newData = true

	if conn, ok := r.connections.Get(connID); ok {
		conn.Meter.PublishedCount++
	}
	return true
}

func (r *Router) handlePubRel(connID ConnectionId, pkid uint16, newData *bool) bool {
	ack, _ := r.ackslog.Get(connID)
	publish, ok := ack.Pubcomp(PubComp{Pkid: pkid, Code: CodeSuccess})
	if !ok {
		return false
	}

	if _, err := r.appendToCommitlog(connID, publish); err != nil {
		r.failedPublishes++
		r.log.Log(LevelError, "pubrel append failed", "id", connID, "err", err)
		return false
	}
	*newData = true
	return true
}

func (r *Router) handleSimpleAck(connID ConnectionId, pkid uint16) bool {
	out, ok := r.obufs.Get(connID)
	if !ok {
		return false
	}
	if !out.RegisterAck(pkid) {
		r.log.Log(LevelError, "unsolicited or out-of-order ack", "id", connID, "pkid", pkid)
		return false
	}
	r.scheduler.Reschedule(connID, EventIncomingAck)
	return true
}

func (r *Router) handlePubRec(connID ConnectionId, pkid uint16) bool {
	out, ok := r.obufs.Get(connID)
	if !ok {
		return false
	}
	if !out.RegisterAck(pkid) {
		r.log.Log(LevelError, "unsolicited or out-of-order ack", "id", connID, "pkid", pkid)
		return false
	}
	ack, _ := r.ackslog.Get(connID)
	ack.PubRel(PubRel{Pkid: pkid, Code: CodeSuccess})
	r.scheduler.Reschedule(connID, EventIncomingAck)
	return true
}

func (r *Router) handleSubscribePacket(connID ConnectionId, p SubscribePacket) bool {
	conn, ok := r.connections.Get(connID)
	if !ok {
		return false
	}

	returnCodes := make([]byte, 0, len(p.Filters))
	for _, f := range p.Filters {
		if err := validateSubscription(conn, f); err != nil {
			r.log.Log(LevelError, "bad subscription", "id", connID, "filter", f.Filter, "err", err)
			return false
		}

		conn.Meter.SubscribeCount++

		idx, cursor := r.datalog.NextNativeOffset(f.Filter)
		r.prepareFilter(connID, cursor, idx, f.Filter, f.QoS)
		r.datalog.HandleRetainedMessages(f.Filter, idx, &r.notifications)

		returnCodes = append(returnCodes, byte(f.QoS))
	}

	ack, _ := r.ackslog.Get(connID)
	ack.SubAck(SubAck{Pkid: p.Pkid, ReturnCodes: returnCodes})
	return true
}

// prepareFilter registers connID in subscriptionMap and, on a genuinely new
// subscription, tracks a fresh DataRequest for it (spec §4.6 subscribe
// path).
func (r *Router) prepareFilter(connID ConnectionId, cursor Offset, filterIdx FilterIdx, filter string, qos QoS) {
	r.subscribeTo(filter, connID)

	conn, ok := r.connections.Get(connID)
	if !ok {
		return
	}
	if _, already := conn.Subscriptions[filter]; already {
		return
	}
	conn.Subscriptions[filter] = struct{}{}

	r.scheduler.Track(connID, DataRequest{
		Filter:    filter,
		FilterIdx: filterIdx,
		QoS:       qos,
		Cursor:    cursor,
		MaxCount:  100,
	})
	r.scheduler.Reschedule(connID, EventNewFilter)
}

func (r *Router) handleUnsubscribePacket(connID ConnectionId, p UnsubscribePacket) {
	conn, ok := r.connections.Get(connID)
	if !ok {
		return
	}
	for _, filter := range p.Filters {
		set, ok := r.subscriptionMap[filter]
		if !ok {
			continue
		}
		if _, present := set[connID]; !present {
			continue
		}
		delete(set, connID)

		if _, subscribed := conn.Subscriptions[filter]; !subscribed {
			continue
		}
		delete(conn.Subscriptions, filter)
		conn.Meter.SubscribeCount--

		ack, _ := r.ackslog.Get(connID)
		ack.UnsubAck(UnsubAck{Pkid: p.Pkid})

		if idx, ok := r.datalog.filterIndexes[filter]; ok {
			r.scheduler.Untrack(connID, idx)
			r.datalog.RemoveWaiter(connID, idx)
		}
	}
}

// appendToCommitlog validates topic encoding and tenant prefix, maintains
// retained messages, and appends publish to every matching filter (or a
// fresh dynamic one), returning the last filter's append offset (spec
// §4.6.1). Matches the original's single-offset simplification: when a
// publish fans out to multiple filters, only the final append's offset is
// reported, since there is no replication to coordinate across.
func (r *Router) appendToCommitlog(connID ConnectionId, publish Publish) (Offset, error) {
	topic := string(publish.Topic)
	if !isValidUTF8Topic(publish.Topic) {
		return Offset{}, &BadTopicError{Topic: topic, Err: ErrNonUTF8Topic}
	}

	conn, ok := r.connections.Get(connID)
	if !ok {
		return Offset{}, ErrConnectionNotFound
	}
	if conn.TenantPrefix != "" && !strings.HasPrefix(topic, conn.TenantPrefix) {
		return Offset{}, &BadTopicError{Topic: topic, Err: ErrBadTenant}
	}

	if len(publish.Payload) == 0 {
		r.datalog.RemoveFromRetained(topic)
	} else if publish.Retain {
		r.datalog.InsertToRetained(topic, publish)
	}
	publish.Retain = false

	filterIdxs := r.datalog.Matches(topic)
	if len(filterIdxs) == 0 {
		if !conn.DynamicFilters {
			return Offset{}, &BadTopicError{Topic: topic, Err: ErrNoMatchingFilters}
		}
		idx, _ := r.datalog.NextNativeOffset(topic)
		filterIdxs = []FilterIdx{idx}
	}

	var offset Offset
	for _, idx := range filterIdxs {
		offset = r.datalog.AppendToFilter(idx, publish, &r.notifications)
	}
	return offset, nil
}

// drainNotifications folds every pending waiter notification produced by
// the last append into the scheduler, waking each one's tracker (spec
// §4.6.1 final step).
func (r *Router) drainNotifications() {
	for _, n := range r.notifications {
		r.scheduler.Track(n.ConnID, n.Request)
		r.scheduler.Reschedule(n.ConnID, EventFreshData)
	}
	r.notifications = r.notifications[:0]
}

// consume pulls the next ready connection from the scheduler, drains its
// pending acks, and walks up to MaxScheduleIterations of its data requests
// through forwardDeviceData. It returns false when the scheduler has
// nothing ready to offer, telling runInner to block on new events instead
// (spec §4.3 consume()).
func (r *Router) consume() bool {
	connID, requests, ok := r.scheduler.Poll()
	if !ok {
		return false
	}

	out, ok := r.obufs.Get(connID)
	if !ok {
		r.log.Log(LevelError, "no-connection on consume", "id", connID)
		return true
	}
	ack, _ := r.ackslog.Get(connID)
	r.ackDeviceData(ack, out)

	queue := requests
	for i := 0; i < r.cfg.MaxScheduleIterations; i++ {
		if len(queue) == 0 {
			r.scheduler.Pause(connID, ReasonCaughtup)
			return true
		}

		request := queue[0]
		queue = queue[1:]

		switch r.forwardDeviceData(&request, out) {
		case consumeBufferFull:
			queue = append(queue, request)
			r.scheduler.Pause(connID, ReasonBusy)
			r.scheduler.Trackv(connID, queue)
			return true
		case consumeInflightFull:
			queue = append(queue, request)
			r.scheduler.Pause(connID, ReasonInflightFull)
			r.scheduler.Trackv(connID, queue)
			return true
		case consumeFilterCaughtup:
			r.datalog.Park(connID, request)
		case consumePartialRead:
			queue = append(queue, request)
		}
	}

	r.scheduler.Trackv(connID, queue)
	return true
}

// ackDeviceData drains ack for connID's committed acks into out's
// notification queue, unconditionally — acks are never gated by buffer
// size (spec §4.4).
func (r *Router) ackDeviceData(ack *AckLog, out *OutgoingBuffer) {
	acks := ack.Readv()
	for _, a := range acks {
		out.PushAck(a)
	}
}

// forwardDeviceData vectored-reads request's filter starting at its
// cursor, forwards whatever it got into out, advances request.Cursor, and
// reports the resulting status (spec §4.8).
func (r *Router) forwardDeviceData(request *DataRequest, out *OutgoingBuffer) consumeStatus {
	var maxLen int
	if request.QoS == QoS1 {
		free := out.FreeSlots()
		if free == 0 {
			return consumeInflightFull
		}
		maxLen = free
	} else {
		maxLen = int(r.cfg.MaxReadLen)
	}

	pos, publishes := r.datalog.NativeReadv(request.FilterIdx, request.Cursor, maxLen)

	request.ReadCount += uint64(len(publishes))
	request.Cursor = pos.End

	if len(publishes) == 0 {
		return consumeFilterCaughtup
	}

	bufLen, _ := out.PushForwards(pos.End, publishes, request.QoS)

	if bufLen >= r.cfg.MaxChannelCapacity-1 {
		out.PushUnschedule()
		return consumeBufferFull
	}

	if pos.Done {
		return consumeFilterCaughtup
	}
	return consumePartialRead
}

// retrieveShadow answers a ShadowEvent by pushing the filter's last
// message, if any, onto connID's outgoing buffer (spec §6.1 Shadow).
func (r *Router) retrieveShadow(connID ConnectionId, filter string) {
	out, ok := r.obufs.Get(connID)
	if !ok {
		return
	}
	publish, found := r.datalog.Shadow(filter)
	out.PushShadow(filter, publish, found)
}

// retrieveMetrics answers a MetricsEvent synchronously on reply, matching
// the teacher's synchronous metrics-channel pattern (SPEC_FULL supplement,
// spec §6.1 Metrics).
func (r *Router) retrieveMetrics(connID ConnectionId, req MetricsRequest, reply chan MetricsReply) {
	var out MetricsReply

	switch req.Kind {
	case MetricsConfig:
		cfg := r.cfg
		out.Config = &cfg
	case MetricsRouter:
		out.FailedPublishes = r.failedPublishes
		out.ConnectionCount = r.connections.Len()
		out.FilterCount = r.datalog.FilterCount()
	case MetricsConnection:
		id, ok := r.connectionMap[req.ClientID]
		if ok {
			conn, _ := r.connections.Get(id)
			out.ConnectionMeter = conn.Meter
			out.Found = true
		} else if saved, ok := r.graveyard.Lookup(req.ClientID); ok {
			out.ConnectionMeter = saved.meter
			out.Found = true
		}
	case MetricsSubscriptions:
		subs := make([]string, 0, len(r.subscriptionMap))
		for filter := range r.subscriptionMap {
			subs = append(subs, filter)
		}
		out.Subscriptions = subs
	case MetricsSubscription:
		if idx, ok := r.datalog.filterIndexes[req.Filter]; ok {
			m := r.datalog.Meter(idx)
			out.FilterMeter = &m
			out.Found = true
		}
	case MetricsWaiters:
		out.Waiters = r.datalog.WaitersFor(req.Filter)
		out.Found = true
	case MetricsReadyQueue:
		out.Waiters = r.scheduler.ReadyQueueSnapshot()
		out.ReadyQueueLen = r.scheduler.ReadyLen()
	}

	select {
	case reply <- out:
	default:
	}
}

// validateSubscription enforces tenant prefix, QoS 2 rejection, and
// reserved-prefix restrictions on a subscribe filter (spec §4.6.2).
func validateSubscription(conn *Connection, f SubscribeFilter) error {
	if conn.TenantPrefix != "" && !strings.HasPrefix(f.Filter, conn.TenantPrefix) {
		return ErrInvalidFilterPrefix
	}
	if f.QoS == QoS2 {
		return ErrUnsupportedQoS
	}
	if strings.HasPrefix(f.Filter, "test") || strings.HasPrefix(f.Filter, "$") {
		return ErrInvalidFilterPrefix
	}
	if !validFilterSyntax(f.Filter) {
		return ErrInvalidFilterPrefix
	}
	return nil
}

// isValidUTF8Topic reports whether topic is valid, non-empty UTF-8 (spec
// §4.6.1, §7).
func isValidUTF8Topic(topic []byte) bool {
	return len(topic) > 0 && utf8.Valid(topic)
}
