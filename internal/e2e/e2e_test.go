// Package e2e wires a full producer/consumer engine pair over the in-memory
// Fake transport and drives the numbered scenarios from spec.md §8 plus a
// handful of boundary cases, the way original_source/'s own test programs
// exercise produce()/consume() together rather than each engine in
// isolation. Grounded on internal/producer/producer_test.go and
// internal/consumer/consumer_test.go's fixture-plus-channel style.
package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/kenneth/ndn-group-encrypt/internal/consumer"
	"github.com/kenneth/ndn-group-encrypt/internal/gepconfig"
	"github.com/kenneth/ndn-group-encrypt/internal/gepcrypto"
	"github.com/kenneth/ndn-group-encrypt/internal/gepencrypt"
	"github.com/kenneth/ndn-group-encrypt/internal/geperrors"
	"github.com/kenneth/ndn-group-encrypt/internal/gepkeydb"
	"github.com/kenneth/ndn-group-encrypt/internal/gepname"
	"github.com/kenneth/ndn-group-encrypt/internal/geptransport"
	"github.com/kenneth/ndn-group-encrypt/internal/gepwire"
	"github.com/kenneth/ndn-group-encrypt/internal/producer"
)

// harness wires one producer and one consumer against a shared Fake
// transport and key database, with a single E-KEY authority covering
// dataType's full suffix — the group a consumer in this data class would
// actually subscribe to.
type harness struct {
	t            *testing.T
	transport    *geptransport.Fake
	keydb        gepkeydb.KeyDatabase
	producer     *producer.Producer
	consumer     *consumer.Consumer
	authority    gepname.Name
	groupName    string
	consumerName string
}

func newHarness(t *testing.T, prefix, dataType, consumerName string, maxRepeatAttempts int, link []string) *harness {
	t.Helper()
	transport := geptransport.NewFake()
	keydb := gepkeydb.New(gepkeydb.NewMemoryBackend())

	prod := producer.New(gepconfig.ProducerConfig{
		Prefix:            prefix,
		DataType:          dataType,
		MaxRepeatAttempts: maxRepeatAttempts,
		Link:              link,
	}, transport, keydb, nil, nil, nil)

	authority := gepname.EKeyAuthorityName(prefix, dataType)
	groupName := gepname.New(prefix).Append("READ").Append(dataType).String()

	cons := consumer.New(gepconfig.ConsumerConfig{
		GroupName:    groupName,
		ConsumerName: consumerName,
		RetryCount:   2,
	}, transport, keydb, nil, nil, nil)

	return &harness{
		t:            t,
		transport:    transport,
		keydb:        keydb,
		producer:     prod,
		consumer:     cons,
		authority:    authority,
		groupName:    groupName,
		consumerName: consumerName,
	}
}

// registerEKeyWindow adds one candidate E-KEY instance for h.authority and
// returns its authority private key DER, so the caller can build a matching
// D-KEY chain for the consumer side.
func (h *harness) registerEKeyWindow(begin, end time.Time) (privateDER []byte) {
	h.t.Helper()
	privateDER, publicDER, err := gepcrypto.RSAGenerate(2048)
	if err != nil {
		h.t.Fatalf("RSAGenerate: %v", err)
	}
	h.transport.PutEKeyRecord(h.authority, geptransport.EKeyRecord{Begin: begin, End: end, PublicDER: publicDER})
	return privateDER
}

// primeConsumerDKey builds and publishes the D-KEY chain letting
// h.consumerName recover the E-KEY instance's own private key — the
// two-step nonce/payload wrap described by spec.md §4.3.
func (h *harness) primeConsumerDKey(begin, end time.Time, authorityPrivateDER []byte) {
	h.t.Helper()
	ctx := context.Background()

	eKeyInstance := gepname.EKeyInstanceName(h.authority, begin, end)
	dKeyName := gepname.DKeyNameFromEKeyInstance(eKeyInstance)
	consumerKeyName := gepname.New(h.consumerName, "KEY", "rsa")

	consumerPrivateDER, consumerPublicDER, err := gepcrypto.RSAGenerate(2048)
	if err != nil {
		h.t.Fatalf("RSAGenerate (consumer): %v", err)
	}
	nonceBits, err := gepcrypto.GenerateAESKey(gepcrypto.ContentKeySize)
	if err != nil {
		h.t.Fatalf("GenerateAESKey (nonce): %v", err)
	}

	nonceEC, err := gepencrypt.EncryptWithRSAPublicKey(nonceBits, consumerPublicDER, gepcrypto.OAEP, consumerKeyName)
	if err != nil {
		h.t.Fatalf("EncryptWithRSAPublicKey nonce: %v", err)
	}
	payloadEC, err := gepencrypt.EncryptWithAESKey(authorityPrivateDER, nonceBits, dKeyName)
	if err != nil {
		h.t.Fatalf("EncryptWithAESKey D-KEY payload: %v", err)
	}
	h.transport.PutData(gepname.DKeyFetchName(dKeyName, h.consumerName), gepwire.EncodeDKeyContent(nonceEC, payloadEC))

	if err := h.keydb.PutConsumerKey(ctx, consumerKeyName, consumerPrivateDER); err != nil {
		h.t.Fatalf("PutConsumerKey: %v", err)
	}
}

// createAndPublishContentKey runs create_content_key to completion and
// republishes every resulting C-KEY object at its group fetch name,
// standing in for the relay component spec.md §1 treats as external.
func (h *harness) createAndPublishContentKey(ts time.Time) []geptransport.Data {
	h.t.Helper()
	ctx := context.Background()
	done := make(chan []geptransport.Data, 1)
	failed := make(chan error, 1)
	if _, err := h.producer.CreateContentKey(ctx, ts,
		func(keys []geptransport.Data) { done <- keys },
		func(err error) { failed <- err },
	); err != nil {
		h.t.Fatalf("CreateContentKey: %v", err)
	}

	select {
	case keys := <-done:
		for _, k := range keys {
			h.transport.PutData(gepname.CKeyFetchName(k.Name, h.groupName), k.Content)
		}
		return keys
	case err := <-failed:
		h.t.Fatalf("CreateContentKey onError: %v", err)
	case <-time.After(2 * time.Second):
		h.t.Fatal("timed out waiting for create_content_key")
	}
	return nil
}

// produceAndPublish calls Produce and republishes the resulting content
// object at its own name, again standing in for the external relay.
func (h *harness) produceAndPublish(ts time.Time, plaintext []byte) geptransport.Data {
	h.t.Helper()
	data, err := h.producer.Produce(context.Background(), ts, plaintext)
	if err != nil {
		h.t.Fatalf("Produce: %v", err)
	}
	h.transport.PutData(data.Name, data.Content)
	return data
}

// consume runs Consume to completion and returns the recovered plaintext or
// error.
func (h *harness) consume(contentName gepname.Name) ([]byte, error) {
	h.t.Helper()
	done := make(chan struct{})
	var plaintext []byte
	var gotErr error
	h.consumer.Consume(context.Background(), contentName, nil,
		func(_ geptransport.Data, pt []byte) { plaintext = pt; close(done) },
		func(err error) { gotErr = err; close(done) },
	)
	select {
	case <-done:
		return plaintext, gotErr
	case <-time.After(2 * time.Second):
		h.t.Fatal("timed out waiting for Consume")
		return nil, nil
	}
}

// roundTrip wires one E-KEY window, creates and publishes the content key,
// produces plaintext at ts, and consumes it back — the common path shared
// by most of the scenarios below.
func roundTrip(t *testing.T, h *harness, windowBegin, windowEnd, ts time.Time, plaintext []byte) ([]byte, geptransport.Data) {
	t.Helper()
	authorityPrivateDER := h.registerEKeyWindow(windowBegin, windowEnd)
	h.primeConsumerDKey(windowBegin, windowEnd, authorityPrivateDER)
	h.createAndPublishContentKey(ts)

	data := h.produceAndPublish(ts, plaintext)
	got, err := h.consume(data.Name)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	return got, data
}

// TestHappyPathProduceConsume is spec.md §8 scenario 1: producing "hello" at
// 2015-08-15T10:17:00.000Z under prefix "/a", data type "/b/c" names the
// content object and its C-KEY key-locator exactly, and the round trip
// recovers the original plaintext.
func TestHappyPathProduceConsume(t *testing.T) {
	h := newHarness(t, "/a", "/b/c", "/reader", 3, nil)
	ts := time.Date(2015, 8, 15, 10, 17, 0, 0, time.UTC)
	windowBegin := time.Date(2015, 8, 15, 0, 0, 0, 0, time.UTC)
	windowEnd := time.Date(2015, 8, 15, 23, 59, 59, 0, time.UTC)

	got, data := roundTrip(t, h, windowBegin, windowEnd, ts, []byte("hello"))

	wantContentName := "/a/SAMPLE/b/c/20150815T101700000"
	if data.Name.String() != wantContentName {
		t.Fatalf("content name = %q, want %q", data.Name.String(), wantContentName)
	}

	ec, err := gepwire.Parse(data.Content)
	if err != nil {
		t.Fatalf("parse produced content: %v", err)
	}
	wantCKeyName := "/a/SAMPLE/b/c/C-KEY/20150815T100000000"
	if ec.KeyLocator.String() != wantCKeyName {
		t.Fatalf("key locator = %q, want %q", ec.KeyLocator.String(), wantCKeyName)
	}

	if string(got) != "hello" {
		t.Fatalf("plaintext = %q, want %q", got, "hello")
	}
}

// TestHourBucketingSharesContentKey is spec.md §8 scenario 2: two produce
// calls within the same UTC hour (10:17:00 and 10:59:59) share one
// hour-bucketed content key and C-KEY name.
func TestHourBucketingSharesContentKey(t *testing.T) {
	h := newHarness(t, "/a", "/b/c", "/reader", 3, nil)
	windowBegin := time.Date(2015, 8, 15, 0, 0, 0, 0, time.UTC)
	windowEnd := time.Date(2015, 8, 15, 23, 59, 59, 0, time.UTC)
	authorityPrivateDER := h.registerEKeyWindow(windowBegin, windowEnd)
	h.primeConsumerDKey(windowBegin, windowEnd, authorityPrivateDER)

	ts1 := time.Date(2015, 8, 15, 10, 17, 0, 0, time.UTC)
	ts2 := time.Date(2015, 8, 15, 10, 59, 59, 0, time.UTC)

	h.createAndPublishContentKey(ts1)
	data1 := h.produceAndPublish(ts1, []byte("first"))
	data2 := h.produceAndPublish(ts2, []byte("second"))

	ec1, err := gepwire.Parse(data1.Content)
	if err != nil {
		t.Fatalf("parse data1: %v", err)
	}
	ec2, err := gepwire.Parse(data2.Content)
	if err != nil {
		t.Fatalf("parse data2: %v", err)
	}
	if !ec1.KeyLocator.Equal(ec2.KeyLocator) {
		t.Fatalf("C-KEY names differ across the same hour bucket: %v vs %v", ec1.KeyLocator, ec2.KeyLocator)
	}

	got1, err := h.consume(data1.Name)
	if err != nil {
		t.Fatalf("consume data1: %v", err)
	}
	got2, err := h.consume(data2.Name)
	if err != nil {
		t.Fatalf("consume data2: %v", err)
	}
	if string(got1) != "first" || string(got2) != "second" {
		t.Fatalf("plaintexts = %q, %q", got1, got2)
	}
}

// TestEKeyCacheRefreshAcrossWindow is spec.md §8 scenario 3: the producer's
// cached E-KEY instance covers 09:00-10:00; producing at 10:17 (outside that
// window) triggers a fresh coverage search, which returns a new 10:00-11:00
// instance and updates the cache — and still yields exactly one signed
// C-KEY data object.
func TestEKeyCacheRefreshAcrossWindow(t *testing.T) {
	h := newHarness(t, "/a", "", "/reader", 3, nil)
	day := time.Date(2015, 8, 15, 0, 0, 0, 0, time.UTC)
	oldBegin, oldEnd := day.Add(9*time.Hour), day.Add(10*time.Hour)
	newBegin, newEnd := day.Add(10*time.Hour), day.Add(11*time.Hour)

	oldPrivateDER := h.registerEKeyWindow(oldBegin, oldEnd)
	h.primeConsumerDKey(oldBegin, oldEnd, oldPrivateDER)

	// Warm the cache against the old window first.
	h.createAndPublishContentKey(day.Add(9 * time.Hour).Add(30 * time.Minute))

	newPrivateDER := h.registerEKeyWindow(newBegin, newEnd)
	h.primeConsumerDKey(newBegin, newEnd, newPrivateDER)

	ts := day.Add(10 * time.Hour).Add(17 * time.Minute)
	keys := h.createAndPublishContentKey(ts)
	if len(keys) != 1 {
		t.Fatalf("len(keys) = %d, want 1", len(keys))
	}

	ec, err := gepwire.Parse(keys[0].Content)
	if err != nil {
		t.Fatalf("parse wrapped C-KEY: %v", err)
	}
	wantInstance := gepname.EKeyInstanceName(h.authority, newBegin, newEnd)
	if !ec.KeyLocator.Equal(wantInstance) {
		t.Fatalf("wrapped under %v, want %v (cache did not refresh to the new window)", ec.KeyLocator, wantInstance)
	}

	data := h.produceAndPublish(ts, []byte("refreshed"))
	got, err := h.consume(data.Name)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if string(got) != "refreshed" {
		t.Fatalf("plaintext = %q, want %q", got, "refreshed")
	}
}

// TestCoverageGapIterationRequeries is spec.md §8 scenario 4: the first
// coverage-search response (08:00-09:00) does not cover ts=10:17; the
// producer re-issues with exclude_before(08:00) and child_selector=rightmost,
// and a second, covering candidate (10:00-11:00) lets the wrap succeed.
func TestCoverageGapIterationRequeries(t *testing.T) {
	h := newHarness(t, "/a", "", "/reader", 3, nil)
	h.transport.SetLatency(80 * time.Millisecond)

	day := time.Date(2015, 8, 15, 0, 0, 0, 0, time.UTC)
	gapBegin, gapEnd := day.Add(8*time.Hour), day.Add(9*time.Hour)
	coveringBegin, coveringEnd := day.Add(10*time.Hour), day.Add(11*time.Hour)

	_, gapPublicDER, err := gepcrypto.RSAGenerate(2048)
	if err != nil {
		t.Fatalf("RSAGenerate (gap): %v", err)
	}
	h.transport.PutEKeyRecord(h.authority, geptransport.EKeyRecord{Begin: gapBegin, End: gapEnd, PublicDER: gapPublicDER})

	coveringPrivateDER, coveringPublicDER, err := gepcrypto.RSAGenerate(2048)
	if err != nil {
		t.Fatalf("RSAGenerate (covering): %v", err)
	}
	h.primeConsumerDKey(coveringBegin, coveringEnd, coveringPrivateDER)

	ts := day.Add(10 * time.Hour).Add(17 * time.Minute)

	// The second, covering candidate only becomes visible to the Fake's
	// coverage search after the first (non-covering) response has already
	// been processed, forcing the real re-query path rather than letting
	// lookupCoverage pick the best candidate on the first attempt.
	added := make(chan struct{})
	go func() {
		time.Sleep(120 * time.Millisecond)
		h.transport.PutEKeyRecord(h.authority, geptransport.EKeyRecord{Begin: coveringBegin, End: coveringEnd, PublicDER: coveringPublicDER})
		close(added)
	}()

	keys := h.createAndPublishContentKey(ts)
	<-added
	if len(keys) != 1 {
		t.Fatalf("len(keys) = %d, want 1", len(keys))
	}
	ec, err := gepwire.Parse(keys[0].Content)
	if err != nil {
		t.Fatalf("parse wrapped C-KEY: %v", err)
	}
	wantInstance := gepname.EKeyInstanceName(h.authority, coveringBegin, coveringEnd)
	if !ec.KeyLocator.Equal(wantInstance) {
		t.Fatalf("wrapped under %v, want the covering instance %v", ec.KeyLocator, wantInstance)
	}

	if n := h.transport.SendCount(h.authority); n < 2 {
		t.Fatalf("SendCount(authority) = %d, want at least 2 (initial + re-query after the gap)", n)
	}

	data := h.produceAndPublish(ts, []byte("gap-filled"))
	got, err := h.consume(data.Name)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if string(got) != "gap-filled" {
		t.Fatalf("plaintext = %q, want %q", got, "gap-filled")
	}
}

// TestProducerDelegationFailover is spec.md §8 scenario 5: a two-delegation
// link, where the authority nacks the unattached interest and the first
// delegation before finally answering on the second.
func TestProducerDelegationFailover(t *testing.T) {
	h := newHarness(t, "/a", "", "/reader", 3, []string{"/link0", "/link1"})
	h.transport.RequireDelegation(h.authority, 1)

	day := time.Date(2015, 8, 15, 0, 0, 0, 0, time.UTC)
	begin, end := day, day.Add(24*time.Hour)
	authorityPrivateDER := h.registerEKeyWindow(begin, end)
	h.primeConsumerDKey(begin, end, authorityPrivateDER)

	ts := day.Add(10 * time.Hour)
	keys := h.createAndPublishContentKey(ts)
	if len(keys) != 1 {
		t.Fatalf("len(keys) = %d, want 1 after delegation failover succeeds", len(keys))
	}

	if n := h.transport.SendCount(h.authority); n != 3 {
		t.Fatalf("SendCount(authority) = %d, want 3 (unattached, delegation 0, delegation 1)", n)
	}

	data := h.produceAndPublish(ts, []byte("via delegation 1"))
	got, err := h.consume(data.Name)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if string(got) != "via delegation 1" {
		t.Fatalf("plaintext = %q, want %q", got, "via delegation 1")
	}
}

// TestConsumeMissingConsumerKeyFullChain is spec.md §8 scenario 6, driven
// through a real producer wrap rather than a hand-built fixture: a consumer
// whose private key was never registered in the key database gets exactly
// one NoDecryptKey error and no plaintext.
func TestConsumeMissingConsumerKeyFullChain(t *testing.T) {
	h := newHarness(t, "/a", "/b/c", "/reader", 3, nil)
	ts := time.Date(2015, 8, 15, 10, 17, 0, 0, time.UTC)
	begin := time.Date(2015, 8, 15, 0, 0, 0, 0, time.UTC)
	end := time.Date(2015, 8, 15, 23, 59, 59, 0, time.UTC)

	authorityPrivateDER := h.registerEKeyWindow(begin, end)
	// Deliberately skip primeConsumerDKey: publish the D-KEY fetch object
	// using a consumer key name that is never registered in the database.
	eKeyInstance := gepname.EKeyInstanceName(h.authority, begin, end)
	dKeyName := gepname.DKeyNameFromEKeyInstance(eKeyInstance)
	unregisteredKeyName := gepname.New(h.consumerName, "KEY", "rsa")

	_, unregisteredPublicDER, err := gepcrypto.RSAGenerate(2048)
	if err != nil {
		t.Fatalf("RSAGenerate: %v", err)
	}
	nonceBits, err := gepcrypto.GenerateAESKey(gepcrypto.ContentKeySize)
	if err != nil {
		t.Fatalf("GenerateAESKey: %v", err)
	}
	nonceEC, err := gepencrypt.EncryptWithRSAPublicKey(nonceBits, unregisteredPublicDER, gepcrypto.OAEP, unregisteredKeyName)
	if err != nil {
		t.Fatalf("EncryptWithRSAPublicKey nonce: %v", err)
	}
	payloadEC, err := gepencrypt.EncryptWithAESKey(authorityPrivateDER, nonceBits, dKeyName)
	if err != nil {
		t.Fatalf("EncryptWithAESKey payload: %v", err)
	}
	h.transport.PutData(gepname.DKeyFetchName(dKeyName, h.consumerName), gepwire.EncodeDKeyContent(nonceEC, payloadEC))

	h.createAndPublishContentKey(ts)
	data := h.produceAndPublish(ts, []byte("undeliverable"))

	pt, gotErr := h.consume(data.Name)
	if gotErr == nil {
		t.Fatalf("expected NoDecryptKey, got plaintext %q", pt)
	}
	if len(pt) != 0 {
		t.Fatalf("no plaintext should be delivered alongside an error, got %q", pt)
	}
	if geperrors.KindOf(gotErr) != geperrors.NoDecryptKey {
		t.Fatalf("error kind = %v, want NoDecryptKey", geperrors.KindOf(gotErr))
	}
}

// TestBoundaryEmptyPlaintext confirms produce/consume round-trips a
// zero-length payload.
func TestBoundaryEmptyPlaintext(t *testing.T) {
	h := newHarness(t, "/a", "/empty", "/reader", 3, nil)
	ts := time.Date(2015, 8, 15, 10, 17, 0, 0, time.UTC)
	begin := time.Date(2015, 8, 15, 0, 0, 0, 0, time.UTC)
	end := time.Date(2015, 8, 15, 23, 59, 59, 0, time.UTC)

	got, _ := roundTrip(t, h, begin, end, ts, []byte{})
	if len(got) != 0 {
		t.Fatalf("plaintext = %q, want empty", got)
	}
}

// TestBoundaryPlaintextAroundBlockSize covers payloads shorter than, equal
// to, and longer than one AES block (16 bytes), exercising CBC padding at
// its edges.
func TestBoundaryPlaintextAroundBlockSize(t *testing.T) {
	cases := []struct {
		name      string
		plaintext []byte
	}{
		{"shorter-than-block", []byte("short")},
		{"exactly-one-block", []byte("0123456789abcdef")},
		{"longer-than-block", []byte("this plaintext is deliberately longer than one AES block")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, "/a", "/blocksize", "/reader", 3, nil)
			ts := time.Date(2015, 8, 15, 10, 17, 0, 0, time.UTC)
			begin := time.Date(2015, 8, 15, 0, 0, 0, 0, time.UTC)
			end := time.Date(2015, 8, 15, 23, 59, 59, 0, time.UTC)

			got, _ := roundTrip(t, h, begin, end, ts, tc.plaintext)
			if string(got) != string(tc.plaintext) {
				t.Fatalf("plaintext = %q, want %q", got, tc.plaintext)
			}
		})
	}
}

// TestBoundaryTimestampExactlyOnHour confirms a timestamp landing exactly on
// an hour boundary floors to itself rather than the prior hour.
func TestBoundaryTimestampExactlyOnHour(t *testing.T) {
	h := newHarness(t, "/a", "/onhour", "/reader", 3, nil)
	ts := time.Date(2015, 8, 15, 11, 0, 0, 0, time.UTC)
	begin := time.Date(2015, 8, 15, 0, 0, 0, 0, time.UTC)
	end := time.Date(2015, 8, 15, 23, 59, 59, 0, time.UTC)

	_, data := roundTrip(t, h, begin, end, ts, []byte("on the hour"))

	ec, err := gepwire.Parse(data.Content)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	wantCKeyName := gepname.ContentKeyName(gepname.ContentNamespace("/a", "/onhour"), gepname.FloorHour(ts))
	if !ec.KeyLocator.Equal(wantCKeyName) {
		t.Fatalf("C-KEY name = %v, want %v (floor(11:00:00) should be itself)", ec.KeyLocator, wantCKeyName)
	}
}

// TestBoundaryEKeyBeginEqualsEnd confirms a zero-length E-KEY window (begin
// == end) never satisfies coverage, so create_content_key completes with no
// wrapped keys rather than hanging or panicking.
func TestBoundaryEKeyBeginEqualsEnd(t *testing.T) {
	h := newHarness(t, "/a", "/degenerate", "/reader", 1, nil)
	ts := time.Date(2015, 8, 15, 10, 17, 0, 0, time.UTC)
	instant := time.Date(2015, 8, 15, 10, 0, 0, 0, time.UTC)

	h.registerEKeyWindow(instant, instant)

	keys := h.createAndPublishContentKey(ts)
	if len(keys) != 0 {
		t.Fatalf("len(keys) = %d, want 0 (begin==end never covers ts)", len(keys))
	}
}
