package batching

import (
	"sort"

	"github.com/AltairaLabs/locbatch-mcp/internal/types"
)

// EntryState is the lifecycle of one registry entry
type EntryState int

const (
	// EntryPending is an optimistically applied session awaiting the engine
	EntryPending EntryState = iota
	// EntryActive is a session the engine confirmed
	EntryActive
	// EntryRolledBack is a session whose start failed
	EntryRolledBack
	// EntryCompleted is a trip session that reached its distance
	EntryCompleted
)

// String implements fmt.Stringer
func (s EntryState) String() string {
	switch s {
	case EntryPending:
		return "pending"
	case EntryActive:
		return "active"
	case EntryRolledBack:
		return "rolled_back"
	case EntryCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Entry is the registry's record of one session
type Entry struct {
	Options types.BatchingOptions
	State   EntryState
}

// live reports whether the entry still counts as a running session
func (e *Entry) live() bool {
	return e.State == EntryPending || e.State == EntryActive
}

// Registry maps every acknowledged or pending session to its options.
// It is owned by the worker and never locked.
type Registry struct {
	entries map[SessionKey]*Entry
	// writes records the generation of the latest write per key, so that a
	// stale rollback cannot undo a newer write
	writes map[SessionKey]uint64
	gen    uint64
}

// NewRegistry creates an empty session registry
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[SessionKey]*Entry),
		writes:  make(map[SessionKey]uint64),
	}
}

// Get returns the options and state of a session
func (r *Registry) Get(key SessionKey) (types.BatchingOptions, EntryState, bool) {
	e, ok := r.entries[key]
	if !ok {
		return types.BatchingOptions{}, 0, false
	}
	return e.Options, e.State, true
}

// Len returns the number of registered sessions
func (r *Registry) Len() int {
	return len(r.entries)
}

// Keys returns every key ordered by client then id
func (r *Registry) Keys() []SessionKey {
	keys := make([]SessionKey, 0, len(r.entries))
	for key := range r.entries {
		keys = append(keys, key)
	}
	sortKeys(keys)
	return keys
}

// KeysForClient returns the keys owned by client, ordered by id
func (r *Registry) KeysForClient(client ClientID) []SessionKey {
	var keys []SessionKey
	for key := range r.entries {
		if key.Client == client {
			keys = append(keys, key)
		}
	}
	sortKeys(keys)
	return keys
}

// AutoReportCount counts live sessions that want batch-full events
func (r *Registry) AutoReportCount() int {
	n := 0
	for _, e := range r.entries {
		if e.live() && e.Options.WantsAutoReport() {
			n++
		}
	}
	return n
}

// markCompleted flags a trip session that reached its distance
func (r *Registry) markCompleted(key SessionKey) {
	if e, ok := r.entries[key]; ok {
		e.State = EntryCompleted
	}
}

func (r *Registry) write(key SessionKey, e *Entry) uint64 {
	r.gen++
	if e == nil {
		delete(r.entries, key)
	} else {
		r.entries[key] = e
	}
	r.writes[key] = r.gen
	return r.gen
}

func sortKeys(keys []SessionKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Client != keys[j].Client {
			return keys[i].Client < keys[j].Client
		}
		return keys[i].ID < keys[j].ID
	})
}

// txnOp is one optimistic write
type txnOp struct {
	key   SessionKey
	prev  *Entry
	wrote *Entry
	gen   uint64

	trip      bool
	tripID    uint32
	tripPrev  *TripSessionStatus
	tripWrote *TripSessionStatus
}

// Txn groups the optimistic writes of one command so they can be committed
// or rolled back together when the engine answers.
type Txn struct {
	reg   *Registry
	trips *tripTable
	ops   []txnOp
}

func newTxn(reg *Registry, trips *tripTable) *Txn {
	return &Txn{reg: reg, trips: trips}
}

// Put optimistically registers a pending session
func (t *Txn) Put(key SessionKey, opts types.BatchingOptions) {
	e := &Entry{Options: opts, State: EntryPending}
	prev := t.reg.entries[key]
	gen := t.reg.write(key, e)
	t.ops = append(t.ops, txnOp{key: key, prev: prev, wrote: e, gen: gen})
}

// Remove optimistically unregisters a session
func (t *Txn) Remove(key SessionKey) {
	prev := t.reg.entries[key]
	gen := t.reg.write(key, nil)
	t.ops = append(t.ops, txnOp{key: key, prev: prev, gen: gen})
}

// PutTrip optimistically adds trip bookkeeping
func (t *Txn) PutTrip(st *TripSessionStatus) {
	id := st.Key.ID
	prev := t.trips.sessions[id]
	t.trips.sessions[id] = st
	t.ops = append(t.ops, txnOp{trip: true, tripID: id, tripPrev: prev, tripWrote: st})
}

// Holds reports whether the session written by this txn is still the registered one
func (t *Txn) Holds(key SessionKey) bool {
	for i := len(t.ops) - 1; i >= 0; i-- {
		op := t.ops[i]
		if op.trip || op.key != key {
			continue
		}
		return op.wrote != nil && t.reg.entries[key] == op.wrote
	}
	return false
}

// Commit confirms every write: pending entries become active
func (t *Txn) Commit() {
	for _, op := range t.ops {
		if op.trip {
			continue
		}
		if op.wrote != nil {
			if op.wrote.State == EntryPending {
				op.wrote.State = EntryActive
			}
			continue
		}
		if t.reg.writes[op.key] == op.gen {
			delete(t.reg.writes, op.key)
		}
	}
	t.ops = nil
}

// Rollback undoes every write that has not been superseded, newest first
func (t *Txn) Rollback() {
	for i := len(t.ops) - 1; i >= 0; i-- {
		op := t.ops[i]
		if op.trip {
			if t.trips.sessions[op.tripID] == op.tripWrote {
				if op.tripPrev == nil {
					delete(t.trips.sessions, op.tripID)
				} else {
					t.trips.sessions[op.tripID] = op.tripPrev
				}
			}
			continue
		}

		if op.wrote != nil {
			op.wrote.State = EntryRolledBack
		}
		if t.reg.writes[op.key] != op.gen {
			continue
		}
		if op.prev != nil && op.prev.State != EntryRolledBack {
			t.reg.write(op.key, op.prev)
			continue
		}
		delete(t.reg.entries, op.key)
		delete(t.reg.writes, op.key)
	}
	t.ops = nil
}
