// Package producer implements the group-encryption-protocol producer engine
// of spec.md §4.5: hour-bucketed content-key creation, E-KEY coverage
// search with exclude-selector iteration, timeout/nack retry with
// delegation failover, and request aggregation. Grounded on
// original_source/src/producer.cpp, re-expressed per spec.md §9's guidance
// as explicit per-request state (keyRequest) rather than nested closures
// capturing "this".
package producer

import (
	"context"
	"sync"
	"time"

	"github.com/kenneth/ndn-group-encrypt/internal/gepaudit"
	"github.com/kenneth/ndn-group-encrypt/internal/gepconfig"
	"github.com/kenneth/ndn-group-encrypt/internal/gepcrypto"
	"github.com/kenneth/ndn-group-encrypt/internal/gepencrypt"
	"github.com/kenneth/ndn-group-encrypt/internal/geperrors"
	"github.com/kenneth/ndn-group-encrypt/internal/gepkeydb"
	"github.com/kenneth/ndn-group-encrypt/internal/gepmetrics"
	"github.com/kenneth/ndn-group-encrypt/internal/gepname"
	"github.com/kenneth/ndn-group-encrypt/internal/geptracing"
	"github.com/kenneth/ndn-group-encrypt/internal/gepwire"
	"github.com/kenneth/ndn-group-encrypt/internal/geptransport"
)

// KeyInfo caches one E-KEY authority's currently-known covering instance.
// A zero Begin/End means "no instance cached yet".
type KeyInfo struct {
	Begin, End time.Time
	KeyBits    []byte // RSA public key DER
}

func (k KeyInfo) covers(ts time.Time) bool {
	if k.Begin.IsZero() && k.End.IsZero() {
		return false
	}
	return !ts.Before(k.Begin) && ts.Before(k.End)
}

// OnComplete receives the signed C-KEY data objects produced for one
// create_content_key request — possibly empty, possibly partial; the
// caller judges sufficiency, per spec.md §4.5/§7.
type OnComplete func(encryptedKeys []geptransport.Data)

// OnError surfaces an unrecoverable error for one create_content_key
// request, e.g. an encryption primitive failure while wrapping one E-KEY.
type OnError func(err error)

type keyRequest struct {
	outstanding    int
	repeatAttempts map[string]int
	encryptedKeys  []geptransport.Data
	onComplete     OnComplete
	onError        OnError
	done           bool
}

// Producer is one producer engine instance, publishing content under
// namespace = prefix/SAMPLE/dataType and wrapping content keys for every
// E-KEY authority in the dataType suffix hierarchy under prefix/READ/....
type Producer struct {
	prefix   gepname.Name
	dataType gepname.Name
	namespace gepname.Name

	ekeyNames []gepname.Name // ordered, deterministic iteration
	ekeyInfo  map[string]KeyInfo

	link              []gepname.Name
	maxRepeatAttempts int

	transport geptransport.Transport
	keydb     gepkeydb.KeyDatabase
	signer    geptransport.Signer
	metrics   *gepmetrics.Metrics
	audit     gepaudit.Logger

	mu          sync.Mutex
	keyRequests map[int64]*keyRequest
}

// New builds a Producer from cfg, wiring it to transport for interest
// dispatch and keydb for content-key persistence. metrics and audit may be
// nil.
func New(cfg gepconfig.ProducerConfig, transport geptransport.Transport, keydb gepkeydb.KeyDatabase, signer geptransport.Signer, metrics *gepmetrics.Metrics, audit gepaudit.Logger) *Producer {
	prefix := gepname.New(cfg.Prefix)
	dataType := gepname.New(cfg.DataType)

	p := &Producer{
		prefix:            prefix,
		dataType:          dataType,
		namespace:         gepname.ContentNamespace(cfg.Prefix, cfg.DataType),
		ekeyInfo:          make(map[string]KeyInfo),
		maxRepeatAttempts: cfg.MaxRepeatAttempts,
		transport:         transport,
		keydb:             keydb,
		signer:            signer,
		metrics:           metrics,
		audit:             audit,
		keyRequests:       make(map[int64]*keyRequest),
	}
	for _, s := range gepname.DataTypeSuffixes(cfg.DataType) {
		authority := gepname.EKeyAuthorityName(cfg.Prefix, s)
		p.ekeyNames = append(p.ekeyNames, authority)
		p.ekeyInfo[authority.String()] = KeyInfo{}
	}
	for _, l := range cfg.Link {
		p.link = append(p.link, gepname.New(l))
	}
	return p
}

// CreateContentKey implements spec.md §4.5's create_content_key: generates
// (or reuses) the hour-bucketed content key for ts and kicks off the E-KEY
// coverage search/wrapping for every authority that doesn't already cover
// ts. onComplete/onError may both be nil — Produce uses this to advance the
// E-KEY cache in the background without waiting on it.
func (p *Producer) CreateContentKey(ctx context.Context, ts time.Time, onComplete OnComplete, onError OnError) (gepname.Name, error) {
	hour := gepname.FloorHour(ts)
	ckName := gepname.ContentKeyName(p.namespace, hour)

	has, err := p.keydb.HasContentKey(ctx, ts)
	if err != nil {
		return gepname.Name{}, err
	}
	if has {
		if p.metrics != nil {
			p.metrics.RecordContentKeyCacheHit()
		}
		return ckName, nil
	}

	key, err := gepcrypto.GenerateAESKey(gepcrypto.ContentKeySize)
	if err != nil {
		return gepname.Name{}, err
	}
	if err := p.keydb.PutContentKey(ctx, ts, key); err != nil {
		return gepname.Name{}, err
	}

	timeCount := gepname.UnixMillis(ts)
	kr := &keyRequest{
		outstanding:    len(p.ekeyNames),
		repeatAttempts: make(map[string]int),
		onComplete:     onComplete,
		onError:        onError,
	}
	if kr.outstanding == 0 {
		// No E-KEY authorities configured: nothing to wrap, complete at once.
		if onComplete != nil {
			onComplete(nil)
		}
		return ckName, nil
	}

	p.mu.Lock()
	p.keyRequests[timeCount] = kr
	p.mu.Unlock()

	for _, ekName := range p.ekeyNames {
		p.mu.Lock()
		info := p.ekeyInfo[ekName.String()]
		p.mu.Unlock()

		if info.covers(ts) {
			if p.metrics != nil {
				p.metrics.RecordEKeyCoverageHit()
			}
			instance := gepname.EKeyInstanceName(ekName, info.Begin, info.End)
			p.encryptContentKey(ctx, info.KeyBits, instance, ts, timeCount)
			continue
		}

		p.mu.Lock()
		kr.repeatAttempts[ekName.String()] = 0
		p.mu.Unlock()

		excludeAfter := ts
		p.sendKeyInterest(ctx, geptransport.Interest{
			Name: ekName,
			Selector: geptransport.Selector{
				ExcludeAfter:           &excludeAfter,
				ChildSelectorRightmost: true,
			},
			SelectedDelegation: -1,
		}, ekName, 0, ts, timeCount)
	}

	return ckName, nil
}

func (p *Producer) sendKeyInterest(ctx context.Context, it geptransport.Interest, ekName gepname.Name, delegationIndex int, ts time.Time, timeCount int64) {
	if p.metrics != nil {
		p.metrics.RecordInterestSent(ctx, "producer")
	}
	spanCtx, span := geptracing.StartCoverageSearchSpan(ctx, it.Name.String())
	p.transport.SendInterest(it,
		func(d geptransport.Data) {
			span.End()
			p.handleCoveringKey(spanCtx, it, d, ekName, delegationIndex, ts, timeCount)
		},
		func() {
			span.End()
			p.handleNack(spanCtx, it, ekName, delegationIndex, ts, timeCount)
		},
		func() {
			span.End()
			p.handleTimeout(spanCtx, it, ekName, delegationIndex, ts, timeCount)
		},
	)
}

func (p *Producer) handleCoveringKey(ctx context.Context, it geptransport.Interest, data geptransport.Data, ekName gepname.Name, delegationIndex int, ts time.Time, timeCount int64) {
	n := data.Name.Len()
	if n < 2 {
		p.failRequest(timeCount, geperrors.New(geperrors.InvalidEncryptedFormat, "E-KEY instance name missing begin/end components"))
		return
	}
	begin, err := gepname.ParseISO(string(data.Name.At(n - 2)))
	if err != nil {
		p.failRequest(timeCount, geperrors.Wrap(geperrors.InvalidEncryptedFormat, "parse E-KEY begin", err))
		return
	}
	end, err := gepname.ParseISO(string(data.Name.At(n - 1)))
	if err != nil {
		p.failRequest(timeCount, geperrors.Wrap(geperrors.InvalidEncryptedFormat, "parse E-KEY end", err))
		return
	}

	if !ts.Before(end) {
		// Response covers an earlier period only; advance the cursor.
		p.mu.Lock()
		if kr, ok := p.keyRequests[timeCount]; ok {
			kr.repeatAttempts[ekName.String()] = 0
		}
		p.mu.Unlock()

		excludeAfter := ts
		excludeBefore := begin
		p.sendKeyInterest(ctx, geptransport.Interest{
			Name: it.Name,
			Selector: geptransport.Selector{
				ExcludeAfter:           &excludeAfter,
				ExcludeBefore:          &excludeBefore,
				ChildSelectorRightmost: true,
			},
			SelectedDelegation: it.SelectedDelegation,
		}, ekName, delegationIndex, ts, timeCount)
		return
	}

	if p.encryptContentKey(ctx, data.Content, data.Name, ts, timeCount) {
		p.mu.Lock()
		p.ekeyInfo[ekName.String()] = KeyInfo{Begin: begin, End: end, KeyBits: data.Content}
		p.mu.Unlock()
		if p.metrics != nil {
			p.metrics.RecordEKeyCoverageMiss()
		}
	}
}

func (p *Producer) handleTimeout(ctx context.Context, it geptransport.Interest, ekName gepname.Name, delegationIndex int, ts time.Time, timeCount int64) {
	if p.metrics != nil {
		p.metrics.RecordTimeout("producer")
	}

	p.mu.Lock()
	kr, ok := p.keyRequests[timeCount]
	attempts := 0
	if ok {
		attempts = kr.repeatAttempts[ekName.String()]
	}
	p.mu.Unlock()
	if !ok {
		return
	}

	if attempts < p.maxRepeatAttempts {
		p.mu.Lock()
		kr.repeatAttempts[ekName.String()] = attempts + 1
		p.mu.Unlock()
		p.sendKeyInterest(ctx, it, ekName, delegationIndex, ts, timeCount)
		return
	}
	p.handleNack(ctx, it, ekName, delegationIndex, ts, timeCount)
}

func (p *Producer) handleNack(ctx context.Context, it geptransport.Interest, ekName gepname.Name, delegationIndex int, ts time.Time, timeCount int64) {
	if p.metrics != nil {
		p.metrics.RecordNack("producer")
	}

	if len(p.link) > 0 {
		if it.SelectedDelegation < 0 {
			if p.metrics != nil {
				p.metrics.RecordDelegationFailover("producer")
			}
			next := it
			next.Link = p.link
			next.SelectedDelegation = 0
			p.sendKeyInterest(ctx, next, ekName, 0, ts, timeCount)
			return
		}
		nextIndex := delegationIndex + 1
		if nextIndex < len(p.link) {
			if p.metrics != nil {
				p.metrics.RecordDelegationFailover("producer")
			}
			next := it
			next.SelectedDelegation = nextIndex
			p.sendKeyInterest(ctx, next, ekName, nextIndex, ts, timeCount)
			return
		}
	}

	// Out of options: mark this E-KEY as failed for this request.
	p.updateKeyRequest(timeCount)
}

// encryptContentKey wraps the current content key for ts under the given
// E-KEY instance, appends the signed C-KEY data object to the in-flight
// request, and decrements its outstanding count either way.
func (p *Producer) encryptContentKey(ctx context.Context, encryptionKey []byte, ekInstanceName gepname.Name, ts time.Time, timeCount int64) bool {
	contentKey, ok, err := p.keydb.GetContentKey(ctx, ts)
	if err != nil {
		p.failRequest(timeCount, err)
		p.updateKeyRequest(timeCount)
		return false
	}
	if !ok {
		p.failRequest(timeCount, geperrors.New(geperrors.General, "content key missing for timeslot"))
		p.updateKeyRequest(timeCount)
		return false
	}

	ckName := gepname.ContentKeyName(p.namespace, gepname.FloorHour(ts))
	ec, err := gepencrypt.EncryptWithRSAPublicKey(contentKey, encryptionKey, gepcrypto.OAEP, ekInstanceName)
	if err != nil {
		p.failRequest(timeCount, geperrors.Wrap(geperrors.EncryptionFailure, "wrap content key", err))
		p.updateKeyRequest(timeCount)
		return false
	}

	content := gepwire.Encode(ec)
	if p.signer != nil {
		content = p.signer.Sign(content)
	}

	p.mu.Lock()
	if kr, ok := p.keyRequests[timeCount]; ok {
		kr.encryptedKeys = append(kr.encryptedKeys, geptransport.Data{Name: ckName, Content: content})
	}
	p.mu.Unlock()

	p.updateKeyRequest(timeCount)
	return true
}

func (p *Producer) updateKeyRequest(timeCount int64) {
	p.mu.Lock()
	kr, ok := p.keyRequests[timeCount]
	if !ok {
		p.mu.Unlock()
		return
	}
	kr.outstanding--
	var (
		onComplete OnComplete
		results    []geptransport.Data
	)
	if kr.outstanding <= 0 && !kr.done {
		kr.done = true
		onComplete = kr.onComplete
		results = kr.encryptedKeys
		delete(p.keyRequests, timeCount)
	}
	p.mu.Unlock()

	if onComplete != nil {
		onComplete(results)
	}
}

func (p *Producer) failRequest(timeCount int64, err error) {
	p.mu.Lock()
	kr, ok := p.keyRequests[timeCount]
	var onError OnError
	if ok {
		onError = kr.onError
	}
	p.mu.Unlock()
	if onError != nil {
		onError(err)
	}
	if p.audit != nil {
		p.audit.LogProduce("", "", false, err, 0, nil)
	}
}

// Produce implements spec.md §4.5's produce(): it publishes plaintext as
// content named namespace/iso(ts), encrypted under the hour-bucketed
// content key for ts. The E-KEY wrapping that makes the content key
// retrievable by consumers proceeds asynchronously in the background — per
// the spec, create_content_key's effect on the content key itself is
// synchronous, but completion of the wrap is not awaited here.
func (p *Producer) Produce(ctx context.Context, ts time.Time, plaintext []byte) (geptransport.Data, error) {
	start := time.Now()
	ckName, err := p.CreateContentKey(ctx, ts, nil, nil)
	if err != nil {
		return geptransport.Data{}, err
	}

	contentKey, ok, err := p.keydb.GetContentKey(ctx, ts)
	if err != nil {
		return geptransport.Data{}, err
	}
	if !ok {
		return geptransport.Data{}, geperrors.New(geperrors.General, "content key missing for timeslot")
	}

	dataName := gepname.ContentName(p.prefix.String(), p.dataType.String(), ts)
	ec, err := gepencrypt.EncryptWithAESKey(plaintext, contentKey, ckName)
	if err != nil {
		return geptransport.Data{}, err
	}

	content := gepwire.Encode(ec)
	if p.signer != nil {
		content = p.signer.Sign(content)
	}

	out := geptransport.Data{Name: dataName, Content: content}
	if p.metrics != nil {
		p.metrics.RecordProduceDuration(ctx, time.Since(start))
	}
	if p.audit != nil {
		p.audit.LogProduce(dataName.String(), "", true, nil, time.Since(start), nil)
	}
	return out, nil
}
