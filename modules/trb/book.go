package trb

import (
	"sort"
	"sync"
	"time"

	"github.com/dunedaq/dfcore/pkg/dfmessages"
)

// bookEntry is one outstanding TriggerRecord awaiting its Fragments.
type bookEntry struct {
	createdAt time.Time
	record    dfmessages.TriggerRecord
}

// book is the TRB's trigger_records map (spec.md §4.5), keyed by TriggerID.
// Safe for concurrent use from the decision-ingest and fragment-ingest
// goroutines.
type book struct {
	mu      sync.Mutex
	entries map[dfmessages.TriggerID]*bookEntry
}

func newBook() *book {
	return &book{entries: make(map[dfmessages.TriggerID]*bookEntry)}
}

// insert adds a freshly built TriggerRecord under id. Returns false if id is
// already on record (DuplicatedTriggerDecision).
func (b *book) insert(id dfmessages.TriggerID, record dfmessages.TriggerRecord) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.entries[id]; exists {
		return false
	}
	b.entries[id] = &bookEntry{createdAt: time.Now(), record: record}
	return true
}

// addFragment folds frag into the TriggerRecord named by id if frag's
// source is among the requested components. Returns accepted=false if id is
// unknown or frag's source was not requested (UnexpectedFragment either
// way); complete reports whether the record now has every fragment it needs.
func (b *book) addFragment(id dfmessages.TriggerID, frag dfmessages.Fragment) (accepted, complete bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.entries[id]
	if !ok {
		return false, false
	}

	requested := false
	for _, c := range entry.record.Requested {
		if c.SourceID == frag.ElementID {
			requested = true
			break
		}
	}
	if !requested {
		return false, false
	}

	entry.record.Fragments = append(entry.record.Fragments, frag)
	return true, len(entry.record.Fragments) == len(entry.record.Requested)
}

// extract removes and returns the entry for id.
func (b *book) extract(id dfmessages.TriggerID) (record dfmessages.TriggerRecord, createdAt time.Time, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, found := b.entries[id]
	if !found {
		return dfmessages.TriggerRecord{}, time.Time{}, false
	}
	delete(b.entries, id)
	return entry.record, entry.createdAt, true
}

// completeIDs returns, in a stable order, every TriggerID whose record has
// received every requested fragment.
func (b *book) completeIDs() []dfmessages.TriggerID {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []dfmessages.TriggerID
	for id, entry := range b.entries {
		if len(entry.record.Fragments) == len(entry.record.Requested) {
			out = append(out, id)
		}
	}
	sortTriggerIDs(out)
	return out
}

// staleIDs returns every TriggerID whose record has been outstanding longer
// than timeout.
func (b *book) staleIDs(timeout time.Duration) []dfmessages.TriggerID {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	var out []dfmessages.TriggerID
	for id, entry := range b.entries {
		if now.Sub(entry.createdAt) > timeout {
			out = append(out, id)
		}
	}
	sortTriggerIDs(out)
	return out
}

// allIDs returns every outstanding TriggerID, used to drain the book at stop.
func (b *book) allIDs() []dfmessages.TriggerID {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]dfmessages.TriggerID, 0, len(b.entries))
	for id := range b.entries {
		out = append(out, id)
	}
	sortTriggerIDs(out)
	return out
}

func (b *book) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

func (b *book) pendingFragments() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	pending := 0
	for _, entry := range b.entries {
		pending += len(entry.record.Requested) - len(entry.record.Fragments)
	}
	return pending
}

func sortTriggerIDs(ids []dfmessages.TriggerID) {
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].TriggerNumber != ids[j].TriggerNumber {
			return ids[i].TriggerNumber < ids[j].TriggerNumber
		}
		return ids[i].SequenceNumber < ids[j].SequenceNumber
	})
}
