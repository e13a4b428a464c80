// Package consumer implements the group-encryption-protocol consumer engine
// of spec.md §4.6: a content → C-KEY → D-KEY decryption pipeline with
// memoization, retry, and delegation failover. Grounded on
// original_source/src/consumer.cpp. Each request's stages are nested
// callback closures carrying that request's values; the engine keeps no
// per-request state beyond its C-KEY/D-KEY memoization maps.
package consumer

import (
	"context"
	"sync"
	"time"

	"github.com/kenneth/ndn-group-encrypt/internal/gepaudit"
	"github.com/kenneth/ndn-group-encrypt/internal/gepconfig"
	"github.com/kenneth/ndn-group-encrypt/internal/gepencrypt"
	"github.com/kenneth/ndn-group-encrypt/internal/geperrors"
	"github.com/kenneth/ndn-group-encrypt/internal/gepkeydb"
	"github.com/kenneth/ndn-group-encrypt/internal/gepmetrics"
	"github.com/kenneth/ndn-group-encrypt/internal/gepname"
	"github.com/kenneth/ndn-group-encrypt/internal/geptracing"
	"github.com/kenneth/ndn-group-encrypt/internal/geptransport"
	"github.com/kenneth/ndn-group-encrypt/internal/gepwire"
)

// OnPlain delivers recovered plaintext for one consume() call.
type OnPlain func(content geptransport.Data, plaintext []byte)

// OnError surfaces an unrecoverable error for one consume() call.
type OnError func(err error)

// Consumer is one consumer engine instance, decrypting content published
// for groupName under consumerName's own D-KEY/consumer-key material.
type Consumer struct {
	groupName    string
	consumerName string
	retryCount   int

	cKeyLink []gepname.Name
	dKeyLink []gepname.Name

	transport geptransport.Transport
	keydb     gepkeydb.KeyDatabase
	validator geptransport.Validator
	metrics   *gepmetrics.Metrics
	audit     gepaudit.Logger

	mu      sync.Mutex
	cKeyMap map[string][]byte // cKeyName -> content key bits, write-once
	dKeyMap map[string][]byte // dKeyName -> D-KEY bits, write-once
}

// nullValidator treats every response as valid, matching the source's
// ValidatorNull default (spec.md never specifies validation policy itself —
// it is an external collaborator per spec.md §1).
type nullValidator struct{}

func (nullValidator) Validate(d geptransport.Data, onValid func(), onInvalid func(string)) {
	onValid()
}

// New builds a Consumer from cfg. validator may be nil, defaulting to a
// null validator that accepts every response.
func New(cfg gepconfig.ConsumerConfig, transport geptransport.Transport, keydb gepkeydb.KeyDatabase, validator geptransport.Validator, metrics *gepmetrics.Metrics, audit gepaudit.Logger) *Consumer {
	if validator == nil {
		validator = nullValidator{}
	}
	retryCount := cfg.RetryCount
	if retryCount <= 0 {
		retryCount = 1
	}
	c := &Consumer{
		groupName:    cfg.GroupName,
		consumerName: cfg.ConsumerName,
		retryCount:   retryCount,
		transport:    transport,
		keydb:        keydb,
		validator:    validator,
		metrics:      metrics,
		audit:        audit,
		cKeyMap:      make(map[string][]byte),
		dKeyMap:      make(map[string][]byte),
	}
	for _, l := range cfg.CKeyLink {
		c.cKeyLink = append(c.cKeyLink, gepname.New(l))
	}
	for _, l := range cfg.DKeyLink {
		c.dKeyLink = append(c.dKeyLink, gepname.New(l))
	}
	return c
}

// Consume implements spec.md §4.6's consume(): fetches contentName, decrypts
// it with the (possibly cached) content key, fetching the C-KEY and D-KEY
// chain on demand.
func (c *Consumer) Consume(ctx context.Context, contentName gepname.Name, delegations []gepname.Name, onPlain OnPlain, onError OnError) {
	start := time.Now()
	ctx, span := geptracing.StartConsumeSpan(ctx, contentName.String())

	c.sendInterest(ctx, geptransport.Interest{Name: contentName, SelectedDelegation: -1}, c.retryCount, delegations, 0,
		func(d geptransport.Data) {
			c.decryptContent(ctx, d, func(plaintext []byte) {
				span.End()
				if c.metrics != nil {
					c.metrics.RecordConsumeDuration(ctx, time.Since(start))
				}
				if c.audit != nil {
					c.audit.LogConsume(contentName.String(), c.consumerName, true, nil, time.Since(start), nil)
				}
				onPlain(d, plaintext)
			}, func(err error) {
				span.End()
				c.fail(contentName, err, onError)
			})
		},
		func(err error) {
			span.End()
			c.fail(contentName, err, onError)
		},
	)
}

func (c *Consumer) fail(name gepname.Name, err error, onError OnError) {
	if c.audit != nil {
		c.audit.LogConsume(name.String(), c.consumerName, false, err, 0, nil)
	}
	if onError != nil {
		onError(err)
	}
}

// decrypt opens one EncryptedContent-wrapped payload under key.
func (c *Consumer) decrypt(ec *gepwire.EncryptedContent, key []byte, onPlain func([]byte), onError OnError) {
	switch ec.Algorithm {
	case gepwire.AlgorithmAESCBC:
		pt, err := gepencrypt.DecryptWithAESKey(ec, key)
		if err != nil {
			onError(err)
			return
		}
		onPlain(pt)
	case gepwire.AlgorithmRSAOAEP, gepwire.AlgorithmRSAPKCS:
		pt, err := gepencrypt.DecryptWithRSAPrivateKey(ec, key)
		if err != nil {
			onError(err)
			return
		}
		onPlain(pt)
	default:
		onError(geperrors.New(geperrors.UnsupportedEncryptionScheme, "unknown EncryptedContent algorithm"))
	}
}

func (c *Consumer) decryptContent(ctx context.Context, data geptransport.Data, onPlain func([]byte), onError OnError) {
	ec, err := gepwire.Parse(data.Content)
	if err != nil {
		onError(err)
		return
	}
	cKeyName := ec.KeyLocator

	c.mu.Lock()
	key, ok := c.cKeyMap[cKeyName.String()]
	c.mu.Unlock()
	if ok {
		c.decrypt(ec, key, onPlain, onError)
		return
	}

	fetchName := gepname.CKeyFetchName(cKeyName, c.groupName)
	c.sendInterest(ctx, geptransport.Interest{Name: fetchName, SelectedDelegation: -1}, c.retryCount, c.cKeyLink, 0,
		func(cKeyData geptransport.Data) {
			c.decryptCKey(ctx, cKeyData, func(cKeyBits []byte) {
				c.decrypt(ec, cKeyBits, onPlain, onError)
				c.mu.Lock()
				if _, exists := c.cKeyMap[cKeyName.String()]; !exists {
					c.cKeyMap[cKeyName.String()] = cKeyBits
				}
				c.mu.Unlock()
			}, onError)
		},
		onError,
	)
}

func (c *Consumer) decryptCKey(ctx context.Context, cKeyData geptransport.Data, onPlain func([]byte), onError OnError) {
	_, span := geptracing.StartDecryptSpan(ctx, "c_key", cKeyData.Name.String())
	defer span.End()

	ec, err := gepwire.Parse(cKeyData.Content)
	if err != nil {
		onError(err)
		return
	}
	eKeyName := ec.KeyLocator
	dKeyName := gepname.DKeyNameFromEKeyInstance(eKeyName)

	c.mu.Lock()
	key, ok := c.dKeyMap[dKeyName.String()]
	c.mu.Unlock()
	if ok {
		c.decrypt(ec, key, onPlain, onError)
		return
	}

	fetchName := gepname.DKeyFetchName(dKeyName, c.consumerName)
	c.sendInterest(ctx, geptransport.Interest{Name: fetchName, SelectedDelegation: -1}, c.retryCount, c.dKeyLink, 0,
		func(dKeyData geptransport.Data) {
			c.decryptDKey(ctx, dKeyData, func(dKeyBits []byte) {
				c.decrypt(ec, dKeyBits, onPlain, onError)
				c.mu.Lock()
				if _, exists := c.dKeyMap[dKeyName.String()]; !exists {
					c.dKeyMap[dKeyName.String()] = dKeyBits
				}
				c.mu.Unlock()
			}, onError)
		},
		onError,
	)
}

func (c *Consumer) decryptDKey(ctx context.Context, dKeyData geptransport.Data, onPlain func([]byte), onError OnError) {
	_, span := geptracing.StartDecryptSpan(ctx, "d_key", dKeyData.Name.String())
	defer span.End()

	nonce, payload, err := gepwire.ParseDKeyContent(dKeyData.Content)
	if err != nil {
		onError(err)
		return
	}

	consumerKeyName := nonce.KeyLocator
	consumerKey, ok, err := c.keydb.GetConsumerKey(ctx, consumerKeyName)
	if err != nil {
		onError(err)
		return
	}
	if !ok {
		onError(geperrors.New(geperrors.NoDecryptKey, "no consumer decryption key in database for "+consumerKeyName.String()))
		return
	}

	c.decrypt(nonce, consumerKey, func(nonceBits []byte) {
		c.decrypt(payload, nonceBits, onPlain, onError)
	}, onError)
}

// sendInterest implements spec.md §4.6's send_interest: dispatch via the
// transport, validate the response, retry on timeout up to nRetrials, and
// fail over across delegations on nack (or retry exhaustion).
func (c *Consumer) sendInterest(ctx context.Context, it geptransport.Interest, nRetrials int, delegations []gepname.Name, delegationIndex int, onValid func(geptransport.Data), onError OnError) {
	if c.metrics != nil {
		c.metrics.RecordInterestSent(ctx, "consumer")
	}
	c.transport.SendInterest(it,
		func(d geptransport.Data) {
			c.validator.Validate(d,
				func() { onValid(d) },
				func(reason string) { onError(geperrors.New(geperrors.Validation, reason)) },
			)
		},
		func() { c.handleNack(ctx, it, delegations, delegationIndex, onValid, onError) },
		func() { c.handleTimeout(ctx, it, nRetrials, delegations, delegationIndex, onValid, onError) },
	)
}

func (c *Consumer) handleNack(ctx context.Context, it geptransport.Interest, delegations []gepname.Name, delegationIndex int, onValid func(geptransport.Data), onError OnError) {
	if c.metrics != nil {
		c.metrics.RecordNack("consumer")
	}

	if len(delegations) > 0 {
		if it.SelectedDelegation < 0 {
			if c.metrics != nil {
				c.metrics.RecordDelegationFailover("consumer")
			}
			next := it
			next.Link = delegations
			next.SelectedDelegation = 0
			c.sendInterest(ctx, next, 0, delegations, 0, onValid, onError)
			return
		}
		nextIndex := delegationIndex + 1
		if nextIndex < len(delegations) {
			if c.metrics != nil {
				c.metrics.RecordDelegationFailover("consumer")
			}
			next := it
			next.SelectedDelegation = nextIndex
			c.sendInterest(ctx, next, 0, delegations, nextIndex, onValid, onError)
			return
		}
	}

	onError(geperrors.New(geperrors.DataRetrievalFailure, it.Name.String()))
}

func (c *Consumer) handleTimeout(ctx context.Context, it geptransport.Interest, nRetrials int, delegations []gepname.Name, delegationIndex int, onValid func(geptransport.Data), onError OnError) {
	if c.metrics != nil {
		c.metrics.RecordTimeout("consumer")
	}
	if nRetrials > 0 {
		c.sendInterest(ctx, it, nRetrials-1, delegations, delegationIndex, onValid, onError)
		return
	}
	c.handleNack(ctx, it, delegations, delegationIndex, onValid, onError)
}

// AddDecryptionKey registers a consumer private key under keyName, matching
// spec.md §4.6's addDecryptionKey.
func (c *Consumer) AddDecryptionKey(ctx context.Context, keyName gepname.Name, keyBits []byte) error {
	return c.keydb.PutConsumerKey(ctx, keyName, keyBits)
}
