package ospf

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/nextpath/routed/internal/ospfwire"
	"github.com/nextpath/routed/internal/sched"
)

// LSDB is the single shared link-state database, spec §3/§4.10: keyed
// by (ls-type, link-state-id, advertising-router). It is written from
// every Interface's event loop and from the Speaker's 1Hz aging
// goroutine, so every access takes mu; Snapshot() copies entries out
// for other readers per spec §5's copy-out rule.
type LSDB struct {
	mu      sync.RWMutex
	entries map[ospfwire.Key]ospfwire.RawLSA
	started time.Time

	changed   chan struct{}
	debouncer *sched.Debouncer
}

func NewLSDB() *LSDB {
	db := &LSDB{entries: map[ospfwire.Key]ospfwire.RawLSA{}, started: time.Now()}
	return db
}

// Get returns the current instance for key, if any.
func (db *LSDB) Get(key ospfwire.Key) (ospfwire.RawLSA, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	l, ok := db.entries[key]
	return l, ok
}

// Install replaces (or inserts) the LSA for its key unconditionally;
// callers must have already applied RFC 2328 §13.1 newness rules.
func (db *LSDB) Install(l ospfwire.RawLSA) {
	db.mu.Lock()
	db.entries[l.Header.Key()] = l
	db.mu.Unlock()
}

// Remove deletes key's entry, used once a MaxAge LSA has been flooded.
func (db *LSDB) Remove(key ospfwire.Key) {
	db.mu.Lock()
	delete(db.entries, key)
	db.mu.Unlock()
}

// All calls fn for every stored LSA.
func (db *LSDB) All(fn func(ospfwire.RawLSA) bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	for _, l := range db.entries {
		if !fn(l) {
			return
		}
	}
}

// Snapshot copies out every stored LSA for the observable-state
// interface (spec §6).
func (db *LSDB) Snapshot() []ospfwire.RawLSA {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]ospfwire.RawLSA, 0, len(db.entries))
	for _, l := range db.entries {
		out = append(out, l)
	}
	return out
}

func (db *LSDB) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.entries)
}

// Age increments every entry's LS-Age by one second (the 1Hz aging
// task, spec §4.10), flooding and then removing any entry that reaches
// MaxAge. ageOut is called once per such entry so the caller (the
// Speaker) can schedule the required one-time MaxAge flood.
func (db *LSDB) Age(ageOut func(ospfwire.RawLSA)) {
	db.mu.Lock()
	var expired []ospfwire.RawLSA
	for k, l := range db.entries {
		if l.Header.Age < ospfwire.MaxAge {
			l.Header.Age++
			db.entries[k] = l
		}
		if l.Header.Age >= ospfwire.MaxAge {
			// Raw still carries the age the LSA was stored with; stamp
			// MaxAge into a copy so the final flood sends it.
			raw := append([]byte(nil), l.Raw...)
			binary.BigEndian.PutUint16(raw[0:2], l.Header.Age)
			l.Raw = raw
			expired = append(expired, l)
			delete(db.entries, k)
		}
	}
	db.mu.Unlock()
	for _, l := range expired {
		ageOut(l)
	}
}
