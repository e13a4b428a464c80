// Package geptransport defines the named-data request/response contract the
// producer and consumer engines depend on (the external transport
// collaborator scoped out of spec.md §1), and provides an in-memory fake
// implementation with fault injection for tests and the load-test harness.
package geptransport

import (
	"time"

	"github.com/kenneth/ndn-group-encrypt/internal/gepname"
)

// Selector carries the exclude-range and child-selector parameters of
// spec.md §6: "exclude (range-based), child-selector = rightmost."
type Selector struct {
	// ExcludeAfter, if set, excludes any candidate whose begin timestamp
	// is strictly after this instant — "exclude_after(iso(ts))".
	ExcludeAfter *time.Time
	// ExcludeBefore, if set, excludes any candidate whose begin timestamp
	// is at or before this instant — used to advance the coverage-search
	// cursor past an already-seen, non-covering E-KEY.
	ExcludeBefore *time.Time
	// ChildSelectorRightmost requests the newest matching candidate.
	ChildSelectorRightmost bool
}

// Interest is one outgoing named-data request.
type Interest struct {
	Name Name
	Selector Selector
	// Link is the forwarding-hint delegation list (spec.md §3's Link
	// type). Empty means no delegation is configured.
	Link []Name
	// SelectedDelegation is the index into Link currently attached to
	// this interest, or -1 if none has been selected yet.
	SelectedDelegation int
}

// Name is a type alias kept local to this package's public surface so
// callers don't need to import gepname just to build an Interest.
type Name = gepname.Name

// Data is one incoming named-data response.
type Data struct {
	Name    Name
	Content []byte
}

// OnData is invoked when a validated Data response arrives.
type OnData func(Data)

// OnNack is invoked when the network returns a negative acknowledgement.
type OnNack func()

// OnTimeout is invoked when no response arrives within the transport's
// timeout window.
type OnTimeout func()

// Transport is the named-data request/response contract. Implementations
// deliver exactly one of OnData, OnNack, or OnTimeout per SendInterest call,
// asynchronously, matching the suspension-point model of spec.md §5.
type Transport interface {
	SendInterest(it Interest, onData OnData, onNack OnNack, onTimeout OnTimeout)
}

// Validator is the opaque packet-validation collaborator of spec.md §1.
// Validation is modelled as asynchronous because a real validator may need
// to fetch certificates.
type Validator interface {
	Validate(d Data, onValid func(), onInvalid func(reason string))
}

// Signer is the opaque key-chain collaborator responsible for signing
// outgoing data objects; the encryptor helper of spec.md §4.4 never signs
// itself.
type Signer interface {
	Sign(content []byte) []byte
}
