// Package gepkeydb implements the key database of spec.md §4.3: two keyed
// blob stores — consumer decrypt keys by key-name, and content keys by
// hour-timeslot — over a pluggable persistence backend. The hour-rounding
// collapse is implemented once, here, ahead of any backend, so every
// backend automatically satisfies "all lookups within one UTC hour
// collapse to the same entry."
package gepkeydb

import (
	"context"
	"time"

	"github.com/kenneth/ndn-group-encrypt/internal/gepname"
)

// Backend is the minimal durable blob-store contract a persistence layer
// must satisfy. Implementations need only provide single-writer, durable
// get/put semantics within one process, per spec.md §4.3.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Close(ctx context.Context) error
}

// KeyDatabase is the interface the producer and consumer engines depend on.
type KeyDatabase interface {
	// GetConsumerKey returns the decrypt-key bytes stored under name, or
	// ok=false if absent.
	GetConsumerKey(ctx context.Context, name gepname.Name) (bits []byte, ok bool, err error)
	// PutConsumerKey stores decrypt-key bytes under name.
	PutConsumerKey(ctx context.Context, name gepname.Name, bits []byte) error

	// HasContentKey reports whether a content key already exists for ts's
	// hour timeslot.
	HasContentKey(ctx context.Context, ts time.Time) (bool, error)
	// GetContentKey returns the content-key bytes for ts's hour timeslot.
	GetContentKey(ctx context.Context, ts time.Time) (bits []byte, ok bool, err error)
	// PutContentKey stores content-key bytes for ts's hour timeslot.
	PutContentKey(ctx context.Context, ts time.Time, bits []byte) error

	Close(ctx context.Context) error
}

type keyDatabase struct {
	backend Backend
}

// New wraps backend with the hour-rounding content-key semantics and the
// consumer/content-key namespacing of spec.md §4.3.
func New(backend Backend) KeyDatabase {
	return &keyDatabase{backend: backend}
}

func consumerKeyKey(name gepname.Name) string {
	return "consumer:" + name.String()
}

func contentKeyKey(ts time.Time) string {
	return "content:" + gepname.ISO(gepname.FloorHour(ts))
}

func (d *keyDatabase) GetConsumerKey(ctx context.Context, name gepname.Name) ([]byte, bool, error) {
	return d.backend.Get(ctx, consumerKeyKey(name))
}

func (d *keyDatabase) PutConsumerKey(ctx context.Context, name gepname.Name, bits []byte) error {
	return d.backend.Put(ctx, consumerKeyKey(name), bits)
}

func (d *keyDatabase) HasContentKey(ctx context.Context, ts time.Time) (bool, error) {
	_, ok, err := d.backend.Get(ctx, contentKeyKey(ts))
	return ok, err
}

func (d *keyDatabase) GetContentKey(ctx context.Context, ts time.Time) ([]byte, bool, error) {
	return d.backend.Get(ctx, contentKeyKey(ts))
}

func (d *keyDatabase) PutContentKey(ctx context.Context, ts time.Time, bits []byte) error {
	return d.backend.Put(ctx, contentKeyKey(ts), bits)
}

func (d *keyDatabase) Close(ctx context.Context) error {
	return d.backend.Close(ctx)
}
