package batching

import "sort"

// TripSessionStatus is the multiplexer's per-session trip bookkeeping.
// All distances are meters, intervals milliseconds.
type TripSessionStatus struct {
	Key          SessionKey
	TripDistance uint32
	TripInterval uint32

	// AccumulatedDistanceThisTrip is the distance credited to the session so far
	AccumulatedDistanceThisTrip uint32
	// AccumulatedDistanceOngoingBatch is the engine's figure at the moment the
	// session joined the current engine run
	AccumulatedDistanceOngoingBatch uint32
	// AccumulatedDistanceOnTripRestart is the credited distance snapshotted at
	// the last engine restart
	AccumulatedDistanceOnTripRestart uint32
}

// progressAt is the distance credited to the session when the current engine
// run has accumulated acc meters
func (st *TripSessionStatus) progressAt(acc uint32) uint32 {
	return st.AccumulatedDistanceOnTripRestart + sub(acc, st.AccumulatedDistanceOngoingBatch)
}

func (st *TripSessionStatus) remainingAt(acc uint32) uint32 {
	return sub(st.TripDistance, st.progressAt(acc))
}

// checkpoint credits acc to the session and rebases it onto a fresh engine run
func (st *TripSessionStatus) checkpoint(acc uint32) {
	st.AccumulatedDistanceThisTrip = st.progressAt(acc)
	st.rebase()
}

func (st *TripSessionStatus) rebase() {
	st.AccumulatedDistanceOngoingBatch = 0
	st.AccumulatedDistanceOnTripRestart = st.AccumulatedDistanceThisTrip
}

// Thresholds is the distance/interval pair the engine runs a trip with
type Thresholds struct {
	Distance uint32
	Interval uint32
}

// tripTable multiplexes every trip session onto one engine trip
type tripTable struct {
	sessions map[uint32]*TripSessionStatus

	ongoing               Thresholds
	distanceHolderDropped bool
	intervalHolderDropped bool

	// lastAccumulated is the most recent engine figure seen since the last
	// engine (re)start. accSeen is false until one arrives.
	lastAccumulated uint32
	accSeen         bool

	// epoch counts engine runs restored after an engine_up
	epoch uint64
}

func newTripTable() *tripTable {
	return &tripTable{sessions: make(map[uint32]*TripSessionStatus)}
}

// ids returns the session ids in ascending order
func (t *tripTable) ids() []uint32 {
	ids := make([]uint32, 0, len(t.sessions))
	for id := range t.sessions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// only reports whether id is the single trip session
func (t *tripTable) only(id uint32) bool {
	_, ok := t.sessions[id]
	return ok && len(t.sessions) == 1
}

// drop removes a session, noting whether it held an ongoing threshold
func (t *tripTable) drop(id uint32) *TripSessionStatus {
	st, ok := t.sessions[id]
	if !ok {
		return nil
	}
	if st.TripDistance == t.ongoing.Distance {
		t.distanceHolderDropped = true
	}
	if st.TripInterval == t.ongoing.Interval {
		t.intervalHolderDropped = true
	}
	delete(t.sessions, id)
	return st
}

// commit records the thresholds the engine now runs with
func (t *tripTable) commit(th Thresholds) {
	t.ongoing = th
	t.distanceHolderDropped = false
	t.intervalHolderDropped = false
	t.lastAccumulated = 0
	t.accSeen = false
}

func (t *tripTable) reset() {
	t.commit(Thresholds{})
}

// noteAccumulated keeps the highest engine figure of the current run
func (t *tripTable) noteAccumulated(acc uint32) {
	if !t.accSeen || acc > t.lastAccumulated {
		t.lastAccumulated = acc
	}
	t.accSeen = true
}

// minima returns the smallest remaining distance and interval across sessions
func (t *tripTable) minima(acc uint32) (minRemaining, minInterval uint32) {
	first := true
	for _, st := range t.sessions {
		rem := st.remainingAt(acc)
		if first || rem < minRemaining {
			minRemaining = rem
		}
		if first || st.TripInterval < minInterval {
			minInterval = st.TripInterval
		}
		first = false
	}
	return minRemaining, minInterval
}

// decideJoin computes the engine thresholds after a session asks for req
// while the engine runs ongoing. accKnown is false when the distance query failed.
func decideJoin(ongoing, req Thresholds, acc uint32, accKnown bool) (Thresholds, bool) {
	next := ongoing
	restart := false

	if req.Interval < ongoing.Interval {
		restart = true
		next.Interval = req.Interval
	}

	remaining := ongoing.Distance
	if accKnown {
		remaining = sub(ongoing.Distance, acc)
	}
	if req.Distance < remaining {
		restart = true
		next.Distance = req.Distance
	} else if restart {
		next.Distance = remaining
	}

	if restart && next.Distance == 0 {
		next.Distance = req.Distance
	}
	return next, restart
}

// decideRestart computes the engine thresholds after the session set changed.
// minRemaining and minInterval are taken over the surviving sessions.
func decideRestart(ongoing Thresholds, distanceDropped, intervalDropped bool, minRemaining, minInterval, acc uint32) (Thresholds, bool) {
	next := ongoing
	restart := false

	if !distanceDropped && ongoing.Distance > acc {
		remaining := ongoing.Distance - acc
		next.Distance = remaining
		if minRemaining > 0 && minRemaining < remaining {
			restart = true
			next.Distance = minRemaining
		}
	} else if minRemaining > 0 {
		restart = true
		next.Distance = minRemaining
	}

	if minInterval < ongoing.Interval || (minInterval != ongoing.Interval && intervalDropped) {
		restart = true
		next.Interval = minInterval
	}
	return next, restart
}
