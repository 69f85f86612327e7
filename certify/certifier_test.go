package certify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/pact/certstore"
	"github.com/teranos/pact/contract"
	"github.com/teranos/pact/errors"
	"github.com/teranos/pact/ingest"
	"github.com/teranos/pact/verify"
)

func message(data []byte) ingest.Message {
	return ingest.Message{Data: data, Source: "test"}
}

func stored(t *testing.T, store certstore.Store, traceID string) (Certificate, int64) {
	t.Helper()
	rec, err := store.Get(context.Background(), traceID)
	require.NoError(t, err)
	cert, err := DecodeCertificate(rec.Payload)
	require.NoError(t, err)
	return cert, rec.Version
}

func TestHandleStoresCertificate(t *testing.T) {
	h := newHarness(t, refundSpecs(t), nil)
	ctx := context.Background()

	require.NoError(t, h.certifier.Handle(ctx, message(spanBatch(testTraceID, "relari-otel", "I want a refund", "Your refund was issued"))))

	cert, version := stored(t, h.store, testTraceID)
	assert.Equal(t, int64(1), version)
	assert.Equal(t, []string{"con-apology", "con-refunds"}, cert.ContractIDs())

	refunds := cert["con-refunds"]
	assert.Equal(t, verify.StatusSatisfied, refunds.Status)
	assert.True(t, refunds.Requirements["req-pre"].Satisfied, "gate result kept")
	assert.True(t, refunds.Requirements["req-post"].Satisfied)

	apology := cert["con-apology"]
	assert.Equal(t, verify.StatusUnsatisfied, apology.Status)
	assert.Contains(t, apology.Requirements["req-sorry"].Explanation, "sorry")
	assert.Equal(t, map[verify.Status]int{verify.StatusSatisfied: 1, verify.StatusUnsatisfied: 1}, cert.Counts())

	events := h.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, testTraceID, events[0].TraceID)
	assert.Equal(t, int64(1), events[0].Version)
	assert.Equal(t, cert, events[0].Certificate)

	// Contracts listed in two scenarios are checked once; the shipping
	// contract only runs its gate.
	assert.Equal(t, 1, h.predicates.calls["req-post"])
	assert.Equal(t, 1, h.predicates.calls["req-ship"])
	assert.Zero(t, h.predicates.calls["req-track"])
}

func TestHandleWithoutActiveContractsStoresEmptyCertificate(t *testing.T) {
	h := newHarness(t, refundSpecs(t), nil)
	ctx := context.Background()

	require.NoError(t, h.certifier.Handle(ctx, message(spanBatch(testTraceID, "relari-otel", "hello", "hi"))))

	rec, err := h.store.Get(ctx, testTraceID)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(rec.Payload))
}

func TestHandleDropsUnusableMessages(t *testing.T) {
	h := newHarness(t, refundSpecs(t), nil)
	ctx := context.Background()

	for name, data := range map[string][]byte{
		"garbage":       []byte("hello world"),
		"other service": spanBatch(testTraceID, "billing-api", "refund", "issued"),
	} {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, h.certifier.Handle(ctx, message(data)))
			_, err := h.store.Get(ctx, testTraceID)
			assert.True(t, errors.IsNotFoundError(err))
		})
	}
	assert.Zero(t, h.predicates.total())
}

func TestHandleSkipsBrokenTrace(t *testing.T) {
	h := newHarness(t, refundSpecs(t), nil)
	ctx := context.Background()

	batch, _, err := Decode(spanBatch(testTraceID, "relari-otel", "refund", "issued"))
	require.NoError(t, err)
	spans := batch.ResourceSpans[0].ScopeSpans[0].Spans
	spans[1].SpanID = spans[0].SpanID

	require.NoError(t, h.certifier.Handle(ctx, ingest.Message{Batch: &batch, Source: "otlp"}))
	_, err = h.store.Get(ctx, testTraceID)
	assert.True(t, errors.IsNotFoundError(err))

	_, err = h.certifier.CertifyTrace(ctx, Preprocess(batch, "relari-otel")[0])
	assert.True(t, errors.IsMalformedInputError(err))
}

func TestDuplicateDeliveryCertifiesOnce(t *testing.T) {
	h := newHarness(t, refundSpecs(t), nil)
	ctx := context.Background()
	data := spanBatch(testTraceID, "relari-otel", "refund please", "refund issued")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.certifier.Handle(ctx, message(data)))
		}()
	}
	wg.Wait()

	_, version := stored(t, h.store, testTraceID)
	assert.Equal(t, int64(1), version)
	assert.Equal(t, 1, h.predicates.calls["req-post"])
	assert.Len(t, h.events.all(), 1)
	assert.Zero(t, h.certifier.locks.Len())
}

func TestRedeliveryAfterWindowRecertifies(t *testing.T) {
	h := newHarness(t, refundSpecs(t), nil)
	ctx := context.Background()
	data := spanBatch(testTraceID, "relari-otel", "refund please", "refund issued")

	now := time.Now()
	h.certifier.seen.now = func() time.Time { return now }
	require.NoError(t, h.certifier.Handle(ctx, message(data)))

	now = now.Add(DefaultDedupeWindow)
	require.NoError(t, h.certifier.Handle(ctx, message(data)))

	_, version := stored(t, h.store, testTraceID)
	assert.Equal(t, int64(2), version)
	assert.Equal(t, 2, h.predicates.calls["req-post"])

	now = now.Add(DefaultDedupeWindow)
	_, err := h.certifier.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, h.certifier.seen.seen)
}

func TestNewSpansOfSameTraceOverwrite(t *testing.T) {
	h := newHarness(t, refundSpecs(t), nil)
	ctx := context.Background()

	require.NoError(t, h.certifier.Handle(ctx, message(spanBatch(testTraceID, "relari-otel", "refund please", "working on it"))))
	cert, _ := stored(t, h.store, testTraceID)
	assert.Equal(t, verify.StatusUnsatisfied, cert["con-refunds"].Status)

	batch, _, err := Decode(spanBatch(testTraceID, "relari-otel", "refund please", "refund issued, sorry"))
	require.NoError(t, err)
	batch.ResourceSpans[0].ScopeSpans[0].Spans[1].SpanID = "0000000000000003"
	require.NoError(t, h.certifier.Handle(ctx, ingest.Message{Batch: &batch}))

	cert, version := stored(t, h.store, testTraceID)
	assert.Equal(t, int64(2), version)
	assert.Equal(t, verify.StatusSatisfied, cert["con-refunds"].Status)
	assert.Equal(t, verify.StatusSatisfied, cert["con-apology"].Status)
}

// racingStore lets another writer win every conditional put.
type racingStore struct {
	certstore.Store
	fail error
}

func (s *racingStore) Put(ctx context.Context, traceID string, payload []byte, ttl time.Duration, expect int64) (int64, error) {
	if s.fail != nil {
		return 0, s.fail
	}
	if _, err := s.Store.Put(ctx, traceID, []byte(`{"winner":{}}`), ttl, expect); err != nil {
		return 0, err
	}
	return s.Store.Put(ctx, traceID, payload, ttl, expect)
}

func TestConflictKeepsStoredCertificate(t *testing.T) {
	store := &racingStore{Store: certstore.NewMemoryStore("certificate")}
	h := newHarness(t, refundSpecs(t), store)
	ctx := context.Background()

	require.NoError(t, h.certifier.Handle(ctx, message(spanBatch(testTraceID, "relari-otel", "refund", "issued"))))

	rec, err := store.Get(ctx, testTraceID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"winner":{}}`, string(rec.Payload))
	assert.Empty(t, h.events.all())
}

func TestStoreFailureIsReturned(t *testing.T) {
	store := &racingStore{
		Store: certstore.NewMemoryStore("certificate"),
		fail:  errors.WrapTransport(errors.New("connection refused"), "redis set"),
	}
	h := newHarness(t, refundSpecs(t), store)

	err := h.certifier.Handle(context.Background(), message(spanBatch(testTraceID, "relari-otel", "refund", "issued")))
	require.Error(t, err)
	assert.True(t, errors.IsTransportError(err))
	assert.False(t, errors.IsMalformedInputError(err))
}

func TestEvaluateWithoutContracts(t *testing.T) {
	specs, err := contract.NewSpecifications("empty")
	require.NoError(t, err)
	h := newHarness(t, specs, nil)

	require.NoError(t, h.certifier.Handle(context.Background(), message(spanBatch(testTraceID, "relari-otel", "refund", "issued"))))
	cert, _ := stored(t, h.store, testTraceID)
	assert.Empty(t, cert)

	data, err := Certificate(nil).Encode()
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
}
