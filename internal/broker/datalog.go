package broker

// waiterEntry is a parked DataRequest awaiting new appends to its filter
// (spec §3 Waiters, §4.1 park()).
type waiterEntry struct {
	connID  ConnectionId
	request DataRequest
}

// WaiterNotification is handed back to the router by AppendToFilter and
// HandleRetainedMessages so it can wake the corresponding connections via
// the scheduler (spec §4.1 append_to_filter, §2 control flow).
type WaiterNotification struct {
	ConnID  ConnectionId
	Request DataRequest
}

// DataLog owns one commit log per subscription filter, the derived
// topic-matching caches, and retained messages (spec §2.3, §4.1).
type DataLog struct {
	cfg Config
	log Logger

	// native is the dense slab of per-filter commit logs; filterIndexes
	// maps a filter string to its slot. Filters are never removed (spec
	// §3 invariant list).
	native        []*filterLog
	filterIndexes map[string]FilterIdx

	// publishFilters memoizes topic -> matched filter indices. The slice
	// behind each entry is live: NextNativeOffset appends newly created
	// filters into every matching cached entry in place rather than
	// invalidating the cache (spec §4.1).
	publishFilters map[string][]FilterIdx

	// retained maps topic -> most recently retained publish with a
	// non-empty payload (spec §3 Retained publish lifecycle).
	retained map[string]Publish
}

// filterLog is one slab entry: the filter's own commit log, its waiters,
// and its meter.
type filterLog struct {
	filter  string
	log     CommitLog
	waiters []waiterEntry
	meter   FilterMeter
}

// NewDataLog constructs an empty DataLog, pre-creating cfg.InitializedFilters
// (spec §6.2 initialized_filters).
func NewDataLog(cfg Config) *DataLog {
	d := &DataLog{
		cfg:            cfg,
		log:            cfg.Logger,
		filterIndexes:  make(map[string]FilterIdx),
		publishFilters: make(map[string][]FilterIdx),
		retained:       make(map[string]Publish),
	}
	for _, f := range cfg.InitializedFilters {
		d.NextNativeOffset(f)
	}
	return d
}

// NextNativeOffset is an idempotent lookup-or-create: it returns the
// filter's index and current cursor, creating a new commit log (and
// updating every live publishFilters cache entry whose topic matches it)
// on first call for a given filter (spec §4.1).
func (d *DataLog) NextNativeOffset(filter string) (FilterIdx, Offset) {
	if idx, ok := d.filterIndexes[filter]; ok {
		return idx, d.native[idx].log.NextOffset()
	}

	idx := FilterIdx(len(d.native))
	fl := &filterLog{
		filter: filter,
		log:    newInMemorySegmentedLog(d.cfg.MaxSegmentSize, d.cfg.MaxSegmentCount, d.cfg.Codec),
	}
	d.native = append(d.native, fl)
	d.filterIndexes[filter] = idx

	for topic, matched := range d.publishFilters {
		if matchesFilter(topic, filter) {
			d.publishFilters[topic] = append(matched, idx)
		}
	}

	return idx, fl.log.NextOffset()
}

// Matches returns every filter index whose filter matches topic,
// memoizing the result in publishFilters on first lookup (spec §4.1).
func (d *DataLog) Matches(topic string) []FilterIdx {
	if cached, ok := d.publishFilters[topic]; ok {
		return cached
	}

	var matched []FilterIdx
	for idx, fl := range d.native {
		if matchesFilter(topic, fl.filter) {
			matched = append(matched, FilterIdx(idx))
		}
	}
	d.publishFilters[topic] = matched
	return matched
}

// AppendToFilter appends publish to filterIdx's log, draining that
// filter's waiters into notifications and updating its meter (spec §4.1).
func (d *DataLog) AppendToFilter(filterIdx FilterIdx, publish Publish, notifications *[]WaiterNotification) Offset {
	fl := d.native[filterIdx]
	off := fl.log.Append(publish)

	fl.meter.Count++
	fl.meter.AppendOffset = off
	fl.meter.TotalSize += uint64(len(publish.Payload))
	fl.meter.Head, fl.meter.Tail = fl.log.HeadAndTail()

	if len(fl.waiters) > 0 {
		for _, w := range fl.waiters {
			*notifications = append(*notifications, WaiterNotification{ConnID: w.connID, Request: w.request})
		}
		fl.waiters = nil
	}

	return off
}

// NativeReadv vectored-reads filterIdx's log starting at cursor (spec §4.1
// native_readv). It logs (never fails) a cursor-jump diagnostic if the
// log's observed start differs from the caller's cursor, trusting the
// log's reported end per spec §4.8.
func (d *DataLog) NativeReadv(filterIdx FilterIdx, cursor Offset, maxLen int) (Position, []Publish) {
	fl := d.native[filterIdx]
	var out []Publish
	pos := fl.log.Readv(cursor, maxLen, &out)
	if pos.Start != cursor {
		d.log.Log(LevelWarn, "cursor jump on native readv", "err", &CursorJumpError{FilterIdx: filterIdx, Requested: cursor, Observed: pos.Start})
	}
	return pos, out
}

// Park registers a waiter on request.FilterIdx. Precondition: the caller
// has just observed Done for that request (spec §4.1 park()).
func (d *DataLog) Park(connID ConnectionId, request DataRequest) {
	fl := d.native[request.FilterIdx]
	fl.waiters = append(fl.waiters, waiterEntry{connID: connID, request: request})
}

// Clean sweeps every filter's waiter queue, removing and returning every
// entry belonging to connID (spec §4.1 clean(), §4.7 disconnection step 4).
func (d *DataLog) Clean(connID ConnectionId) []DataRequest {
	var removed []DataRequest
	for _, fl := range d.native {
		if len(fl.waiters) == 0 {
			continue
		}
		kept := fl.waiters[:0]
		for _, w := range fl.waiters {
			if w.connID == connID {
				removed = append(removed, w.request)
			} else {
				kept = append(kept, w)
			}
		}
		fl.waiters = kept
	}
	return removed
}

// RemoveWaiter removes connID's parked waiter on filterIdx, if any (spec
// §4.6 Unsubscribe step: "remove the connection's waiter entry on that
// filter").
func (d *DataLog) RemoveWaiter(connID ConnectionId, filterIdx FilterIdx) {
	fl := d.native[filterIdx]
	kept := fl.waiters[:0]
	for _, w := range fl.waiters {
		if w.connID != connID {
			kept = append(kept, w)
		}
	}
	fl.waiters = kept
}

// InsertToRetained stores publish as the retained message for topic,
// cloning it so later mutation of the caller's copy cannot alias the
// stored one (spec §3 Retained publish lifecycle, §4.6.1).
func (d *DataLog) InsertToRetained(topic string, publish Publish) {
	d.retained[topic] = publish.clone()
}

// RemoveFromRetained clears any retained message for topic (spec §4.6.1:
// an empty-payload publish to topic clears it).
func (d *DataLog) RemoveFromRetained(topic string) {
	delete(d.retained, topic)
}

// HandleRetainedMessages replays every retained publish whose topic
// matches filter into the filter's own log via AppendToFilter, appearing
// as a fresh publish to the new subscriber (spec §4.1, §8 property 4). When
// the filter already existed, connections parked on it are woken by these
// appends and handed back in notifications.
func (d *DataLog) HandleRetainedMessages(filter string, filterIdx FilterIdx, notifications *[]WaiterNotification) {
	for topic, publish := range d.retained {
		if !matchesFilter(topic, filter) {
			continue
		}
		replay := publish.clone()
		replay.Retain = false
		d.AppendToFilter(filterIdx, replay, notifications)
	}
}

// Shadow returns the most recently appended publish on filter, serving a
// point-in-time Shadow query (spec §6.1 Shadow event, SPEC_FULL supplement).
func (d *DataLog) Shadow(filter string) (Publish, bool) {
	idx, ok := d.filterIndexes[filter]
	if !ok {
		return Publish{}, false
	}
	return d.native[idx].log.Last()
}

// FilterCount reports how many filters are registered, for metrics.
func (d *DataLog) FilterCount() int { return len(d.native) }

// WaitersFor reports the connections currently parked on filter, for
// metrics queries (spec §6.1 Waiters(filter)).
func (d *DataLog) WaitersFor(filter string) []ConnectionId {
	idx, ok := d.filterIndexes[filter]
	if !ok {
		return nil
	}
	fl := d.native[idx]
	ids := make([]ConnectionId, 0, len(fl.waiters))
	for _, w := range fl.waiters {
		ids = append(ids, w.connID)
	}
	return ids
}

// Meter returns filterIdx's meter, for metrics.
func (d *DataLog) Meter(filterIdx FilterIdx) FilterMeter {
	return d.native[filterIdx].meter
}
