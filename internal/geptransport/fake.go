package geptransport

import (
	"sort"
	"sync"
	"time"

	"github.com/kenneth/ndn-group-encrypt/internal/gepname"
)

// Outcome is a forced response for one dispatch of a named interest,
// consumed in order before falling through to the backing store.
type Outcome int

const (
	// OutcomeNone means: resolve normally against the store.
	OutcomeNone Outcome = iota
	OutcomeTimeout
	OutcomeNack
)

// EKeyRecord is one candidate E-KEY instance served by a Fake's coverage
// search, named "<authority>/<iso(begin)>/<iso(end)>".
type EKeyRecord struct {
	Begin, End time.Time
	PublicDER  []byte
}

// Fake is an in-memory Transport with fault injection, modelled on the
// teacher's fault-injecting ToxicServer test harness (test/chaos_test.go),
// adapted from HTTP round-trips to interest/data exchanges.
type Fake struct {
	mu sync.Mutex

	// store holds exact-name-match data: content objects, C-KEY fetches,
	// D-KEY fetches, consumer-key fetches.
	store map[string]Data

	// eKeys holds per-authority-name candidate E-KEY instances for
	// exclude/child-selector coverage search.
	eKeys map[string][]EKeyRecord

	// faults is a per-name queue of forced outcomes, consumed FIFO.
	faults map[string][]Outcome

	// requiredDelegation, if set for a name, means an interest for that
	// name only succeeds once SelectedDelegation equals the given index;
	// any other value (including -1, unattached) is nacked.
	requiredDelegation map[string]int

	// latency, if set, delays every dispatched callback — useful for
	// exercising timeout paths deterministically in combination with a
	// short caller-side timeout.
	latency time.Duration

	sendCount map[string]int
}

// NewFake returns an empty Fake transport.
func NewFake() *Fake {
	return &Fake{
		store:              make(map[string]Data),
		eKeys:              make(map[string][]EKeyRecord),
		faults:             make(map[string][]Outcome),
		requiredDelegation: make(map[string]int),
		sendCount:          make(map[string]int),
	}
}

// PutData registers an exact-match response for name.
func (f *Fake) PutData(name Name, content []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store[name.String()] = Data{Name: name, Content: content}
}

// PutEKeyRecord registers a candidate E-KEY instance under the given
// authority name, for coverage-search resolution.
func (f *Fake) PutEKeyRecord(authority Name, rec EKeyRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := authority.String()
	f.eKeys[key] = append(f.eKeys[key], rec)
}

// SetFaults configures a FIFO queue of forced outcomes for the given name.
func (f *Fake) SetFaults(name Name, outcomes ...Outcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults[name.String()] = append([]Outcome{}, outcomes...)
}

// RequireDelegation configures name to only succeed when the interest's
// SelectedDelegation equals index.
func (f *Fake) RequireDelegation(name Name, index int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requiredDelegation[name.String()] = index
}

// SetLatency delays every dispatched callback by d.
func (f *Fake) SetLatency(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latency = d
}

// SendCount returns how many times SendInterest has been dispatched for
// name — useful for asserting retry counts in tests.
func (f *Fake) SendCount(name Name) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sendCount[name.String()]
}

// SendInterest implements Transport. Every dispatch runs on its own
// goroutine to preserve the "response arrives as a future callback"
// suspension-point model of spec.md §5, even though this fake never
// touches a real network.
func (f *Fake) SendInterest(it Interest, onData OnData, onNack OnNack, onTimeout OnTimeout) {
	key := it.Name.String()

	f.mu.Lock()
	f.sendCount[key]++
	latency := f.latency

	var forced Outcome = OutcomeNone
	if q := f.faults[key]; len(q) > 0 {
		forced = q[0]
		f.faults[key] = q[1:]
	}

	requiredDelegation, hasDelegationRequirement := f.requiredDelegation[key]
	f.mu.Unlock()

	go func() {
		if latency > 0 {
			time.Sleep(latency)
		}

		switch forced {
		case OutcomeTimeout:
			onTimeout()
			return
		case OutcomeNack:
			onNack()
			return
		}

		if hasDelegationRequirement && it.SelectedDelegation != requiredDelegation {
			onNack()
			return
		}

		if d, ok := f.lookupExact(key); ok {
			onData(d)
			return
		}

		if d, ok := f.lookupCoverage(it); ok {
			onData(d)
			return
		}

		onNack()
	}()
}

func (f *Fake) lookupExact(key string) (Data, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.store[key]
	return d, ok
}

func (f *Fake) lookupCoverage(it Interest) (Data, bool) {
	f.mu.Lock()
	candidates := append([]EKeyRecord{}, f.eKeys[it.Name.String()]...)
	f.mu.Unlock()

	if len(candidates) == 0 {
		return Data{}, false
	}

	var filtered []EKeyRecord
	for _, c := range candidates {
		if it.Selector.ExcludeAfter != nil && c.Begin.After(*it.Selector.ExcludeAfter) {
			continue
		}
		if it.Selector.ExcludeBefore != nil && !c.Begin.After(*it.Selector.ExcludeBefore) {
			continue
		}
		filtered = append(filtered, c)
	}
	if len(filtered) == 0 {
		return Data{}, false
	}

	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Begin.Before(filtered[j].Begin) })
	// child-selector = rightmost: take the newest remaining candidate.
	chosen := filtered[len(filtered)-1]

	name := it.Name.Append(gepname.ISO(chosen.Begin)).Append(gepname.ISO(chosen.End))
	return Data{Name: name, Content: chosen.PublicDER}, true
}
