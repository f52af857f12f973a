package broker

// savedSession is a persistent client's state, kept across a disconnect
// until it reconnects (spec §3 Graveyard, §4.7).
type savedSession struct {
	tracker       *Tracker
	subscriptions map[string]struct{}
	meter         *ConnectionMeter
}

// Graveyard stores saved state for disconnected persistent-session
// clients, keyed by client id. It has no eviction; entries are overwritten
// on re-disconnect of the same client id (spec §3, §5).
type Graveyard struct {
	saved map[string]*savedSession
}

func NewGraveyard() *Graveyard {
	return &Graveyard{saved: make(map[string]*savedSession)}
}

// Lookup returns the saved session for clientID, if any.
func (g *Graveyard) Lookup(clientID string) (*savedSession, bool) {
	s, ok := g.saved[clientID]
	return s, ok
}

// SavePersistent stores the full (tracker, subscriptions, meter) triple
// for a non-clean disconnect, overwriting any prior entry (spec §3, §4.7
// step 6).
func (g *Graveyard) SavePersistent(clientID string, tracker *Tracker, subscriptions map[string]struct{}, meter *ConnectionMeter) {
	g.saved[clientID] = &savedSession{tracker: tracker, subscriptions: subscriptions, meter: meter}
}

// SaveCleanMeterOnly stores only the meter, with subscriptions cleared and
// a fresh empty tracker, so subsequent metrics queries for this client id
// still work after a clean-session disconnect (spec §4.7 step 7).
func (g *Graveyard) SaveCleanMeterOnly(clientID string, meter *ConnectionMeter) {
	g.saved[clientID] = &savedSession{
		tracker:       newTracker(clientID),
		subscriptions: make(map[string]struct{}),
		meter:         meter,
	}
}
