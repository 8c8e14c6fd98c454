package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"learnproxy/internal/behavior"
	"learnproxy/internal/broadcast"
	"learnproxy/internal/buffer"
	"learnproxy/internal/drift"
	"learnproxy/internal/health"
	"learnproxy/internal/logger"
	"learnproxy/internal/metrics"
	"learnproxy/internal/schema"
	"learnproxy/internal/store"
)

// Consolidator is the single background worker named in §5: it drains the
// Learning Buffer sequentially, so schema merges and EMA updates for a
// given endpoint key apply in the same order they were enqueued.
type Consolidator struct {
	buf           *buffer.Buffer
	behaviorStore *behavior.Store
	health        *health.Monitor
	store         *store.Store // nil disables persistence (tests)
	broadcaster   *broadcast.Broadcaster
	metrics       *metrics.Metrics
	log           *logger.Logger

	firstSeenMu sync.Mutex
	firstSeen   map[string]time.Time
}

// NewConsolidator builds a Consolidator and preloads first-seen timestamps
// from st, if any, so a restart doesn't reset an endpoint's lifetime.
func NewConsolidator(buf *buffer.Buffer, behaviorStore *behavior.Store, h *health.Monitor, st *store.Store, b *broadcast.Broadcaster, m *metrics.Metrics, log *logger.Logger) *Consolidator {
	c := &Consolidator{
		buf:           buf,
		behaviorStore: behaviorStore,
		health:        h,
		store:         st,
		broadcaster:   b,
		metrics:       m,
		log:           log,
		firstSeen:     make(map[string]time.Time),
	}
	c.preloadFirstSeen()
	return c
}

func (c *Consolidator) preloadFirstSeen() {
	if c.store == nil {
		return
	}
	records, err := c.store.AllEndpoints()
	if err != nil {
		c.log.Warnf("boot", "could not preload endpoint timestamps: %v", err)
		return
	}
	for _, rec := range records {
		c.firstSeen[rec.Key()] = rec.FirstSeen
	}
}

// Run drains the buffer until ctx is cancelled or the buffer is closed and
// empty (§5: "buffer dequeue (blocking with shutdown signal)").
func (c *Consolidator) Run(ctx context.Context) {
	for {
		tx, ok := c.buf.Dequeue(ctx)
		if !ok {
			return
		}
		c.consolidate(tx)
	}
}

func (c *Consolidator) consolidate(tx buffer.Transaction) {
	start := time.Now()
	key := tx.EndpointKey

	// Open Question resolution (§9, SPEC_FULL §14): chaos-forced
	// transactions are recorded for latency/status only, never learned.
	var reqSchema, respSchema *schema.Descriptor
	if !tx.Chaos {
		reqSchema = parseJSONSchema(tx.ReqHeaders, tx.ReqBody)
		respSchema = parseJSONSchema(tx.RespHeaders, tx.RespBody)
	}

	if respSchema != nil {
		c.checkDrift(key, tx.Status, respSchema)
	}

	c.behaviorStore.Record(key, tx.LatencyMS, tx.Status, reqSchema, respSchema, tx.ReqBody, tx.RespBody)
	c.health.Record(key, tx.LatencyMS, tx.Status, len(tx.RespBody))
	c.metrics.BufferConsolidated.Add(1)

	c.persistEndpoint(key, tx)

	// A broadcast event is emitted after the Behavior Store update for its
	// transaction is committed (§5).
	if c.broadcaster != nil {
		score, _ := c.health.Score(key)
		c.broadcaster.Publish(broadcast.Event{
			EndpointKey: key,
			Method:      tx.Method,
			Status:      tx.Status,
			LatencyMS:   tx.LatencyMS,
			Mocked:      tx.Mocked,
			Chaos:       tx.Chaos,
			HealthScore: score,
		})
	}

	c.metrics.RecordConsolidateLatency(time.Since(start))
}

// checkDrift compares the response schema stored for this status class
// before this observation against what was just observed (§4.5).
func (c *Consolidator) checkDrift(key string, status int, observed *schema.Descriptor) {
	snap, ok := c.behaviorStore.Get(key)
	if !ok {
		return
	}
	stored, ok := snap.RespSchemas[status/100]
	if !ok || stored.Count < drift.MinObservationsForDetection {
		return
	}

	issues := drift.Detect(stored, observed)
	alert, raised := drift.NewAlert(key, issues)
	if !raised {
		return
	}

	c.health.SetActiveDrift(key, true)
	c.metrics.DriftAlertsRaised.Add(1)
	c.log.WarnKV("drift", "schema drift detected", logger.Fields{
		"endpoint": key,
		"score":    alert.Score,
		"issues":   len(alert.Issues),
	})

	if c.store == nil {
		return
	}
	if err := c.store.PutDriftAlert(alert); err != nil {
		c.log.Warnf("drift", "persist alert for %s failed: %v", key, err)
	}
}

// persistEndpoint writes the updated endpoint record, retrying once on
// failure before logging and moving on (§7: in-memory state stays correct;
// the next successful write heals the store).
func (c *Consolidator) persistEndpoint(key string, tx buffer.Transaction) {
	if c.store == nil {
		return
	}
	snap, ok := c.behaviorStore.Get(key)
	if !ok {
		return
	}

	c.firstSeenMu.Lock()
	first, seen := c.firstSeen[key]
	if !seen {
		first = tx.Timestamp
		c.firstSeen[key] = first
	}
	c.firstSeenMu.Unlock()

	rec := store.FromSnapshot(tx.Method, tx.Path, snap, first, tx.Timestamp)
	if err := c.store.PutEndpoint(rec); err != nil {
		c.metrics.ErrorsStorageWrite.Add(1)
		c.log.Warnf("store", "write failed for %s, retrying once: %v", key, err)
		if err := c.store.PutEndpoint(rec); err != nil {
			c.log.Errorf("store", "retry failed for %s: %v", key, err)
		}
	}
}

// parseJSONSchema infers a descriptor from body only when the matching
// Content-Type header is application/json* (§4.8); everything else is
// still counted for latency/status but never shapes a schema.
func parseJSONSchema(h http.Header, body []byte) *schema.Descriptor {
	if len(body) == 0 || h == nil {
		return nil
	}
	ct := h.Get("Content-Type")
	if !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		return nil
	}
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil
	}
	return schema.Infer(schema.ParseValue(decoded))
}
