package certify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teranos/pact/certstore"
	"github.com/teranos/pact/contract"
	"github.com/teranos/pact/errors"
	"github.com/teranos/pact/execpath"
	"github.com/teranos/pact/ingest"
	"github.com/teranos/pact/logger"
	"github.com/teranos/pact/sym"
	"github.com/teranos/pact/trace"
	"github.com/teranos/pact/verify"
)

// Defaults applied by NewCertifier.
const (
	DefaultServiceName  = "relari-otel"
	DefaultTTL          = 600 * time.Second
	DefaultDedupeWindow = 10 * time.Minute
)

// Message outcomes reported to metrics.
const (
	outcomeDecoded   = "decoded"
	outcomeMalformed = "malformed"
	outcomeNoSpans   = "no_spans"
	outcomeEmpty     = "empty"

	outcomeCertified = "certified"
	outcomeInactive  = "inactive"
	outcomeDuplicate = "duplicate"
	outcomeSkipped   = "skipped"
	outcomeConflict  = "conflict"
	outcomeFailed    = "store_failed"
)

// Options tunes a Certifier.
type Options struct {
	ServiceName  string
	TTL          time.Duration
	DedupeWindow time.Duration
	Publisher    Publisher
	Metrics      *Metrics
}

// Certifier verifies traces against a fixed set of specifications and
// stores one certificate per trace.
type Certifier struct {
	contracts []*contract.Contract
	checker   *verify.Checker
	store     certstore.Store
	opts      Options
	locks     *keyedMutex
	seen      *deliveries
	logger    *zap.SugaredLogger
}

// NewCertifier builds a certifier. Contracts appearing in several
// scenarios are checked once.
func NewCertifier(specs *contract.Specifications, checker *verify.Checker, store certstore.Store, opts Options, log *zap.SugaredLogger) *Certifier {
	if opts.ServiceName == "" {
		opts.ServiceName = DefaultServiceName
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.DedupeWindow <= 0 {
		opts.DedupeWindow = DefaultDedupeWindow
	}
	return &Certifier{
		contracts: uniqueContracts(specs),
		checker:   checker,
		store:     store,
		opts:      opts,
		locks:     newKeyedMutex(),
		seen:      newDeliveries(opts.DedupeWindow),
		logger:    logger.OrNop(log).Named("pipeline"),
	}
}

func uniqueContracts(specs *contract.Specifications) []*contract.Contract {
	if specs == nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []*contract.Contract
	for _, c := range specs.Contracts() {
		if seen[c.UUID] {
			continue
		}
		seen[c.UUID] = true
		out = append(out, c)
	}
	return out
}

// Evaluate gates every contract on its MUST preconditions and checks the
// pathconditions and postconditions of those that apply. Gate results
// are kept in the certificate next to the checked ones.
func (c *Certifier) Evaluate(ctx context.Context, path *execpath.ExecutionPath) Certificate {
	active := make([]bool, len(c.contracts))
	gates := make([]map[string]verify.Result, len(c.contracts))

	var g errgroup.Group
	for i, k := range c.contracts {
		g.Go(func() error {
			active[i], gates[i] = c.checker.Gate(ctx, path, k)
			return nil
		})
	}
	_ = g.Wait()

	cert := make(Certificate)
	var mu sync.Mutex
	var checks errgroup.Group
	for i, k := range c.contracts {
		if !active[i] {
			c.logger.Debugw("contract not applicable",
				logger.FieldSymbol, sym.Gate,
				logger.FieldTraceID, path.TraceID,
				logger.FieldContractID, k.UUID)
			continue
		}
		checks.Go(func() error {
			_, results := c.checker.Check(ctx, path, k, contract.Pathconditions|contract.Postconditions)
			for id, r := range gates[i] {
				results[id] = r
			}
			mu.Lock()
			cert[k.UUID] = ContractResult{Status: verify.Reduce(k, results), Requirements: results}
			mu.Unlock()
			return nil
		})
	}
	_ = checks.Wait()
	return cert
}

// CertifyTrace builds the execution path of one trace, evaluates it and
// stores the certificate. A redelivered trace within the dedupe window is
// skipped and returns a nil certificate. Path construction failures are
// MalformedInput; store failures are returned as is.
func (c *Certifier) CertifyTrace(ctx context.Context, ts TraceSpans) (Certificate, error) {
	release := c.locks.Lock(ts.TraceID)
	defer release()

	digest := deliveryDigest(ts)
	if c.seen.Seen(digest) {
		c.logger.Debugw("trace already certified",
			logger.FieldTraceID, ts.TraceID,
			logger.FieldCount, len(ts.Spans))
		c.opts.Metrics.trace(ctx, outcomeDuplicate, 0)
		return nil, nil
	}

	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "certify.trace",
		oteltrace.WithAttributes(
			attribute.String("pact.trace_id", ts.TraceID),
			attribute.Int("pact.span_count", len(ts.Spans)),
		))
	defer span.End()

	start := time.Now()
	c.opts.Metrics.active(ctx, 1)
	defer c.opts.Metrics.active(ctx, -1)

	tr, err := trace.Build(ts.TraceID, ts.Spans)
	if err != nil {
		c.opts.Metrics.trace(ctx, outcomeSkipped, time.Since(start).Seconds())
		span.SetStatus(codes.Error, "span tree")
		return nil, unusable(err, "build trace %s", ts.TraceID)
	}
	path, err := execpath.FromTrace(tr)
	if err != nil {
		c.opts.Metrics.trace(ctx, outcomeSkipped, time.Since(start).Seconds())
		span.SetStatus(codes.Error, "execution path")
		return nil, unusable(err, "extract path of trace %s", ts.TraceID)
	}
	span.SetAttributes(attribute.String("pact.framework", string(tr.Info.Framework)))

	cert := c.Evaluate(ctx, path)
	version, err := c.write(ctx, ts.TraceID, cert)
	elapsed := time.Since(start)
	switch {
	case certstore.IsConflict(err):
		c.logger.Infow("certificate written concurrently, keeping the stored one",
			logger.FieldSymbol, sym.Store,
			logger.FieldTraceID, ts.TraceID,
			logger.FieldError, err)
		c.opts.Metrics.trace(ctx, outcomeConflict, elapsed.Seconds())
		c.seen.Add(digest)
		return cert, nil
	case err != nil:
		c.opts.Metrics.trace(ctx, outcomeFailed, elapsed.Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, "store")
		return nil, err
	}

	c.seen.Add(digest)
	outcome := outcomeCertified
	if len(cert) == 0 {
		outcome = outcomeInactive
	}
	c.opts.Metrics.trace(ctx, outcome, elapsed.Seconds())
	for _, r := range cert {
		c.opts.Metrics.contract(ctx, string(r.Status))
	}
	c.logger.Infow("certificate stored",
		logger.FieldSymbol, sym.Store,
		logger.FieldTraceID, ts.TraceID,
		logger.FieldCount, len(cert),
		"version", version,
		logger.FieldDurationMS, elapsed.Milliseconds())

	if c.opts.Publisher != nil {
		c.opts.Publisher.Publish(Event{TraceID: ts.TraceID, Version: version, Certificate: cert})
	}
	return cert, nil
}

// write replaces the stored certificate of traceID, conditional on the
// version read just before.
func (c *Certifier) write(ctx context.Context, traceID string, cert Certificate) (int64, error) {
	payload, err := cert.Encode()
	if err != nil {
		return 0, errors.Wrapf(err, "encode certificate of trace %s", traceID)
	}
	var expect int64
	rec, err := c.store.Get(ctx, traceID)
	switch {
	case err == nil:
		expect = rec.Version
	case !errors.IsNotFoundError(err):
		return 0, errors.Wrapf(err, "read certificate of trace %s", traceID)
	}
	version, err := c.store.Put(ctx, traceID, payload, c.opts.TTL, expect)
	if err != nil {
		if certstore.IsConflict(err) {
			return 0, err
		}
		return 0, errors.Wrapf(err, "write certificate of trace %s", traceID)
	}
	return version, nil
}

// Handle certifies every trace in one queue message. Undecodable messages
// and traces whose path cannot be built are logged and dropped; only store
// failures are returned.
func (c *Certifier) Handle(ctx context.Context, msg ingest.Message) error {
	batch, err := c.batchOf(ctx, msg)
	if err != nil {
		return nil
	}
	groups := Preprocess(batch, c.opts.ServiceName)
	if len(groups) == 0 {
		c.opts.Metrics.message(ctx, outcomeEmpty)
		c.logger.Debugw("no spans from the traced service",
			logger.FieldSource, msg.Source,
			"service", c.opts.ServiceName)
		return nil
	}
	c.opts.Metrics.message(ctx, outcomeDecoded)

	var errs error
	for _, ts := range groups {
		if _, err := c.CertifyTrace(ctx, ts); err != nil {
			if errors.IsMalformedInputError(err) {
				c.logger.Warnw("skipping trace",
					logger.FieldSymbol, sym.Tree,
					logger.FieldTraceID, ts.TraceID,
					logger.FieldError, err)
				continue
			}
			errs = errors.CombineErrors(errs, err)
		}
	}
	return errs
}

func (c *Certifier) batchOf(ctx context.Context, msg ingest.Message) (trace.Batch, error) {
	if msg.Batch != nil {
		return *msg.Batch, nil
	}
	batch, enc, err := Decode(msg.Data)
	switch {
	case errors.Is(err, ErrNoSpans):
		c.opts.Metrics.message(ctx, outcomeNoSpans)
		c.logger.Debugw("message carries no spans",
			logger.FieldSource, msg.Source,
			logger.FieldFormat, enc)
	case err != nil:
		c.opts.Metrics.message(ctx, outcomeMalformed)
		c.logger.Warnw("dropping undecodable message",
			logger.FieldSymbol, sym.Ingest,
			logger.FieldSource, msg.Source,
			"offset", msg.Offset,
			logger.FieldError, err)
	}
	return batch, err
}

// Sweep removes expired certificates when the store needs it and forgets
// stale deliveries.
func (c *Certifier) Sweep(ctx context.Context) (int64, error) {
	c.seen.Prune()
	sw, ok := c.store.(certstore.Sweeper)
	if !ok {
		return 0, nil
	}
	return sw.Sweep(ctx)
}

// unusable marks a trace that cannot be certified as malformed input.
func unusable(err error, format string, args ...interface{}) error {
	return errors.Mark(errors.Wrapf(err, format, args...), errors.ErrMalformedInput)
}

// deliveryDigest identifies a trace delivery by its span ids.
func deliveryDigest(ts TraceSpans) string {
	ids := make([]string, len(ts.Spans))
	for i, s := range ts.Spans {
		ids[i] = s.SpanID
	}
	sort.Strings(ids)
	h := sha256.New()
	h.Write([]byte(ts.TraceID))
	for _, id := range ids {
		h.Write([]byte{0})
		h.Write([]byte(id))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// deliveries remembers recently certified deliveries.
type deliveries struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
	now    func() time.Time
}

func newDeliveries(window time.Duration) *deliveries {
	return &deliveries{window: window, seen: make(map[string]time.Time), now: time.Now}
}

func (d *deliveries) Seen(digest string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	at, ok := d.seen[digest]
	return ok && d.now().Sub(at) < d.window
}

func (d *deliveries) Add(digest string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[digest] = d.now()
}

func (d *deliveries) Prune() {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for k, at := range d.seen {
		if now.Sub(at) >= d.window {
			delete(d.seen, k)
		}
	}
}
