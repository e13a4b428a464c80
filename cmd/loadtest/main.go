// Command loadtest drives a producer/consumer engine pair end to end —
// create_content_key's E-KEY wrap, produce(), and consume()'s full
// C-KEY/D-KEY decrypt chain — against the in-memory fake transport, and
// reports throughput/latency in the standard Go benchmark format plus a
// baseline-regression check, adapted from the teacher's
// cmd/loadtest/main.go worker-pool/QPS/regression-threshold harness from
// S3 PUT/GET load to GEP produce/consume load.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ryanuber/go-glob"
	"github.com/sirupsen/logrus"
	"golang.org/x/perf/benchfmt"

	"github.com/kenneth/ndn-group-encrypt/internal/consumer"
	"github.com/kenneth/ndn-group-encrypt/internal/gepconfig"
	"github.com/kenneth/ndn-group-encrypt/internal/gepcrypto"
	"github.com/kenneth/ndn-group-encrypt/internal/gepencrypt"
	"github.com/kenneth/ndn-group-encrypt/internal/gepkeydb"
	"github.com/kenneth/ndn-group-encrypt/internal/gepmetrics"
	"github.com/kenneth/ndn-group-encrypt/internal/gepname"
	"github.com/kenneth/ndn-group-encrypt/internal/gepwire"
	"github.com/kenneth/ndn-group-encrypt/internal/geptransport"
	"github.com/kenneth/ndn-group-encrypt/internal/producer"
)

// candidateDataTypes enumerates the data types a run can select among via
// -data-type-glob, mirroring a deployment that serves several content
// classes (videos, documents, telemetry) under one group.
var candidateDataTypes = []string{"/videos", "/documents", "/telemetry"}

func main() {
	var (
		workers        = flag.Int("workers", 5, "number of worker goroutines")
		qps            = flag.Int("qps", 25, "target produce+consume round trips per second per worker")
		duration       = flag.Duration("duration", 30*time.Second, "test duration")
		dataTypeGlob   = flag.String("data-type-glob", "*", "glob selecting which data types to exercise this run")
		baselineDir    = flag.String("baseline-dir", "testdata/baselines", "directory for baseline result files")
		threshold      = flag.Float64("threshold", 10.0, "regression threshold percentage")
		updateBaseline = flag.Bool("update-baseline", false, "write a new baseline instead of checking regression")
		verbose        = flag.Bool("verbose", false, "enable verbose logging")
	)
	flag.Parse()

	logger := logrus.New()
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	var dataTypes []string
	for _, dt := range candidateDataTypes {
		if glob.Glob(*dataTypeGlob, strings.TrimPrefix(dt, "/")) {
			dataTypes = append(dataTypes, dt)
		}
	}
	if len(dataTypes) == 0 {
		log.Fatalf("data-type-glob %q matched no data types out of %v", *dataTypeGlob, candidateDataTypes)
	}

	fmt.Println("=== Group Encryption Protocol Load Test ===")
	fmt.Printf("Workers: %d\n", *workers)
	fmt.Printf("QPS per worker: %d\n", *qps)
	fmt.Printf("Duration: %v\n", *duration)
	fmt.Printf("Data types: %v\n", dataTypes)
	fmt.Println()

	// Each data type gets its own group under a distinct prefix, rather
	// than a shared prefix with cfg.Producer.DataType set to a non-empty
	// suffix: a non-empty DataType fans a content key out to one E-KEY
	// authority per suffix (gepname.DataTypeSuffixes), and this harness
	// only stands up the single-authority case, matching a deployment
	// with one group administrator per content class.
	groups := make([]*group, len(dataTypes))
	for i, dt := range dataTypes {
		g, err := newGroup(logger, "/loadtest"+dt, "/reader")
		if err != nil {
			log.Fatalf("set up group for %s: %v", dt, err)
		}
		groups[i] = g
	}

	result := runLoad(groups, *workers, *qps, *duration, logger)
	result.print()

	if err := os.MkdirAll(*baselineDir, 0o755); err != nil {
		log.Fatalf("create baseline dir: %v", err)
	}
	baselinePath := filepath.Join(*baselineDir, "loadtest_baseline.json")

	if err := writeBenchfmt(os.Stdout, result); err != nil {
		logger.WithError(err).Warn("write benchfmt output")
	}

	if *updateBaseline {
		if err := result.saveBaseline(baselinePath); err != nil {
			log.Fatalf("save baseline: %v", err)
		}
		fmt.Println("✅ baseline updated")
		return
	}

	regression, err := result.compareBaseline(baselinePath, *threshold)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("ℹ️  no baseline found - run with -update-baseline to create one")
			return
		}
		log.Fatalf("compare baseline: %v", err)
	}
	if regression.failed {
		fmt.Printf("❌ regression detected: %s\n", regression.reason)
		os.Exit(1)
	}
	fmt.Println("✅ load test passed")
}

// group bundles one producer/consumer engine pair plus the E-KEY/D-KEY
// material needed for a real produce→consume round trip against the fake
// transport: the producer delivers a content key's wrap results only through
// CreateContentKey's OnComplete callback (Produce passes none), so something
// downstream (here, this
// harness) must republish each C-KEY at its consumer-facing fetch name, and
// the D-KEY authority's own key material must be generated and distributed
// exactly as a real group administrator would before any consumer can
// resolve it.
type group struct {
	prefix       string
	groupName    string
	consumerName string
	transport    *geptransport.Fake
	keydb        gepkeydb.KeyDatabase
	producer     *producer.Producer
	consumer     *consumer.Consumer
}

// newGroup wires one producer/consumer engine pair under prefix, with a
// single E-KEY authority at "<prefix>/READ/E-KEY" — cfg.Producer.DataType is
// left empty so gepname.DataTypeSuffixes yields exactly one authority
// (see the caller's comment on why multiple data types become multiple
// prefixes instead of DataType suffixes here).
func newGroup(logger *logrus.Logger, prefix, consumerName string) (*group, error) {
	ctx := context.Background()
	transport := geptransport.NewFake()
	keydb := gepkeydb.New(gepkeydb.NewMemoryBackend())

	metrics := gepmetrics.NewMetricsWithRegistry(nil)
	prod := producer.New(gepconfig.ProducerConfig{
		Prefix:            prefix,
		MaxRepeatAttempts: 3,
	}, transport, keydb, nil, metrics, nil)

	groupName := prefix + "/READ"
	cons := consumer.New(gepconfig.ConsumerConfig{
		GroupName:    groupName,
		ConsumerName: consumerName,
		RetryCount:   2,
	}, transport, keydb, nil, metrics, nil)

	authority := gepname.EKeyAuthorityName(prefix, "")
	begin := time.Now().Add(-1 * time.Hour)
	end := time.Now().Add(1 * time.Hour)

	authorityPrivateDER, authorityPublicDER, err := gepcrypto.RSAGenerate(2048)
	if err != nil {
		return nil, fmt.Errorf("generate E-KEY authority keypair: %w", err)
	}
	transport.PutEKeyRecord(authority, geptransport.EKeyRecord{Begin: begin, End: end, PublicDER: authorityPublicDER})

	eKeyInstance := gepname.EKeyInstanceName(authority, begin, end)
	dKeyName := gepname.DKeyNameFromEKeyInstance(eKeyInstance)

	consumerKeyName := gepname.New(consumerName, "KEY", "rsa")
	consumerPrivateDER, consumerPublicDER, err := gepcrypto.RSAGenerate(2048)
	if err != nil {
		return nil, fmt.Errorf("generate consumer keypair: %w", err)
	}
	nonceBits, err := gepcrypto.GenerateAESKey(gepcrypto.ContentKeySize)
	if err != nil {
		return nil, fmt.Errorf("generate D-KEY nonce: %w", err)
	}

	// The D-KEY is the authority's own RSA private key: whoever holds it
	// can decrypt the C-KEY object the producer wrapped under the
	// matching public key.
	nonceEC, err := gepencrypt.EncryptWithRSAPublicKey(nonceBits, consumerPublicDER, gepcrypto.OAEP, consumerKeyName)
	if err != nil {
		return nil, fmt.Errorf("wrap D-KEY nonce: %w", err)
	}
	payloadEC, err := gepencrypt.EncryptWithAESKey(authorityPrivateDER, nonceBits, dKeyName)
	if err != nil {
		return nil, fmt.Errorf("wrap D-KEY payload: %w", err)
	}
	transport.PutData(gepname.DKeyFetchName(dKeyName, consumerName), gepwire.EncodeDKeyContent(nonceEC, payloadEC))

	if err := keydb.PutConsumerKey(ctx, consumerKeyName, consumerPrivateDER); err != nil {
		return nil, fmt.Errorf("register consumer key: %w", err)
	}

	g := &group{
		prefix:       prefix,
		groupName:    groupName,
		consumerName: consumerName,
		transport:    transport,
		keydb:        keydb,
		producer:     prod,
		consumer:     cons,
	}
	if err := g.warmup(ctx); err != nil {
		return nil, fmt.Errorf("warm up content key: %w", err)
	}
	logger.WithFields(logrus.Fields{"prefix": prefix, "group": groupName}).Info("group ready")
	return g, nil
}

// warmup runs create_content_key once up front and republishes every
// resulting C-KEY object at its consumer-facing fetch name, so the timed
// portion of the run measures steady-state produce/consume cost rather
// than the one-time E-KEY coverage search.
func (g *group) warmup(ctx context.Context) error {
	done := make(chan []geptransport.Data, 1)
	failed := make(chan error, 1)
	if _, err := g.producer.CreateContentKey(ctx, time.Now(),
		func(keys []geptransport.Data) { done <- keys },
		func(err error) { failed <- err },
	); err != nil {
		return err
	}

	select {
	case keys := <-done:
		for _, k := range keys {
			g.transport.PutData(gepname.CKeyFetchName(k.Name, g.groupName), k.Content)
		}
		return nil
	case err := <-failed:
		return err
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timed out waiting for create_content_key to complete")
	}
}

// roundTrip runs one produce()+consume() cycle and returns the measured
// latencies, or an error if either leg failed or returned the wrong
// plaintext.
func (g *group) roundTrip(ctx context.Context, plaintext []byte) (produceLatency, consumeLatency time.Duration, err error) {
	produceStart := time.Now()
	data, err := g.producer.Produce(ctx, time.Now(), plaintext)
	if err != nil {
		return 0, 0, fmt.Errorf("produce: %w", err)
	}
	produceLatency = time.Since(produceStart)
	g.transport.PutData(data.Name, data.Content)

	type result struct {
		plaintext []byte
		err       error
	}
	done := make(chan result, 1)
	consumeStart := time.Now()
	g.consumer.Consume(ctx, data.Name, nil,
		func(_ geptransport.Data, pt []byte) { done <- result{plaintext: pt} },
		func(err error) { done <- result{err: err} },
	)

	select {
	case res := <-done:
		consumeLatency = time.Since(consumeStart)
		if res.err != nil {
			return produceLatency, consumeLatency, fmt.Errorf("consume: %w", res.err)
		}
		if string(res.plaintext) != string(plaintext) {
			return produceLatency, consumeLatency, fmt.Errorf("consume: plaintext mismatch")
		}
		return produceLatency, consumeLatency, nil
	case <-time.After(5 * time.Second):
		return produceLatency, 0, fmt.Errorf("consume: timed out")
	}
}

type loadResult struct {
	ops             int64
	errors          int64
	produceLatency  []time.Duration
	consumeLatency  []time.Duration
	wallClockActual time.Duration
}

func runLoad(groups []*group, workers, qps int, duration time.Duration, logger *logrus.Logger) *loadResult {
	var (
		mu     sync.Mutex
		result = &loadResult{}
	)

	interval := time.Second / time.Duration(qps)
	if interval <= 0 {
		interval = time.Millisecond
	}

	var wg sync.WaitGroup
	stop := time.Now().Add(duration)
	start := time.Now()

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			ctx := context.Background()
			plaintext := []byte(fmt.Sprintf("load test payload from worker %d", workerID))

			for {
				if time.Now().After(stop) {
					return
				}
				g := groups[workerID%len(groups)]
				pLat, cLat, err := g.roundTrip(ctx, plaintext)

				mu.Lock()
				result.ops++
				if err != nil {
					result.errors++
					logger.WithError(err).WithField("worker", workerID).Debug("round trip failed")
				} else {
					result.produceLatency = append(result.produceLatency, pLat)
					result.consumeLatency = append(result.consumeLatency, cLat)
				}
				mu.Unlock()

				<-ticker.C
			}
		}(w)
	}

	wg.Wait()
	result.wallClockActual = time.Since(start)
	return result
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

func (r *loadResult) print() {
	produce := append([]time.Duration{}, r.produceLatency...)
	consume := append([]time.Duration{}, r.consumeLatency...)
	sort.Slice(produce, func(i, j int) bool { return produce[i] < produce[j] })
	sort.Slice(consume, func(i, j int) bool { return consume[i] < consume[j] })

	fmt.Println("--- Results ---")
	fmt.Printf("Total round trips: %d (errors: %d)\n", r.ops, r.errors)
	fmt.Printf("Throughput: %.1f ops/sec\n", float64(r.ops)/r.wallClockActual.Seconds())
	fmt.Printf("Produce latency:  p50=%v p99=%v\n", percentile(produce, 0.5), percentile(produce, 0.99))
	fmt.Printf("Consume latency:  p50=%v p99=%v\n", percentile(consume, 0.5), percentile(consume, 0.99))
	fmt.Println()
}

func writeBenchfmt(w *os.File, r *loadResult) error {
	bw := benchfmt.NewWriter(w)
	produce := append([]time.Duration{}, r.produceLatency...)
	consume := append([]time.Duration{}, r.consumeLatency...)
	sort.Slice(produce, func(i, j int) bool { return produce[i] < produce[j] })
	sort.Slice(consume, func(i, j int) bool { return consume[i] < consume[j] })

	results := []struct {
		name string
		lat  []time.Duration
	}{
		{"BenchmarkGepProduce", produce},
		{"BenchmarkGepConsume", consume},
	}
	for _, res := range results {
		if len(res.lat) == 0 {
			continue
		}
		p50 := percentile(res.lat, 0.5)
		if err := bw.Write(&benchfmt.Result{
			Name:  benchfmt.Name(res.name),
			Iters: len(res.lat),
			Values: []benchfmt.Value{
				{Value: float64(p50.Nanoseconds()), Unit: "ns/op"},
			},
		}); err != nil {
			return err
		}
	}
	return nil
}

type baseline struct {
	ProduceP50Ns  float64 `json:"produce_p50_ns"`
	ConsumeP50Ns  float64 `json:"consume_p50_ns"`
	ThroughputQPS float64 `json:"throughput_qps"`
}

func (r *loadResult) toBaseline() baseline {
	produce := append([]time.Duration{}, r.produceLatency...)
	consume := append([]time.Duration{}, r.consumeLatency...)
	sort.Slice(produce, func(i, j int) bool { return produce[i] < produce[j] })
	sort.Slice(consume, func(i, j int) bool { return consume[i] < consume[j] })
	return baseline{
		ProduceP50Ns:  float64(percentile(produce, 0.5).Nanoseconds()),
		ConsumeP50Ns:  float64(percentile(consume, 0.5).Nanoseconds()),
		ThroughputQPS: float64(r.ops) / r.wallClockActual.Seconds(),
	}
}

func (r *loadResult) saveBaseline(path string) error {
	data, err := json.MarshalIndent(r.toBaseline(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

type regressionResult struct {
	failed bool
	reason string
}

func (r *loadResult) compareBaseline(path string, thresholdPct float64) (*regressionResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var base baseline
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("parse baseline: %w", err)
	}

	current := r.toBaseline()
	if regressed(base.ProduceP50Ns, current.ProduceP50Ns, thresholdPct) {
		return &regressionResult{failed: true, reason: fmt.Sprintf(
			"produce p50 latency regressed: baseline=%.0fns current=%.0fns", base.ProduceP50Ns, current.ProduceP50Ns)}, nil
	}
	if regressed(base.ConsumeP50Ns, current.ConsumeP50Ns, thresholdPct) {
		return &regressionResult{failed: true, reason: fmt.Sprintf(
			"consume p50 latency regressed: baseline=%.0fns current=%.0fns", base.ConsumeP50Ns, current.ConsumeP50Ns)}, nil
	}
	return &regressionResult{}, nil
}

// regressed reports whether current is worse than baseline by more than
// thresholdPct — higher latency is worse, so regression means an increase.
func regressed(baselineVal, currentVal, thresholdPct float64) bool {
	if baselineVal <= 0 {
		return false
	}
	delta := (currentVal - baselineVal) / baselineVal * 100
	return delta > thresholdPct
}
