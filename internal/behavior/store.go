// Package behavior implements the Behavior Store (§4.4): per-endpoint
// aggregated statistics — latency EMA, status histogram, a merged request
// schema, one merged response schema per observed status class, and a
// bounded last-example payload — updated under a per-endpoint lock so
// that busy endpoints never contend with idle ones.
package behavior

import (
	"math"
	"sync"

	"learnproxy/internal/schema"
)

// defaultAlpha is the EMA smoothing factor (§4.4): μ ← (1-α)·μ + α·x.
const defaultAlpha = 0.1

// maxPayloadBytes bounds the stored last-example payload (§4.4); larger
// bodies are stored truncated with truncationMarker appended.
const maxPayloadBytes = 64 * 1024

const truncationMarker = "...[truncated]"

// Entry is the mutable aggregated state for one endpoint key.
type Entry struct {
	mu sync.RWMutex

	key   string
	count int

	latencyMean   float64
	latencyMeanSq float64

	statusExact  map[int]int
	statusBucket map[int]int

	reqSchema    *schema.Descriptor
	respSchemas  map[int]*schema.Descriptor // keyed by status class: status/100

	lastReqPayload  []byte
	lastRespPayload []byte
}

// Snapshot is an immutable, race-free copy of an Entry for callers outside
// the store (the admin API, the drift detector, the health monitor).
type Snapshot struct {
	Key   string
	Count int

	LatencyMean float64
	LatencyStd  float64

	StatusExact  map[int]int
	StatusBucket map[int]int

	ReqSchema   *schema.Descriptor
	RespSchemas map[int]*schema.Descriptor // keyed by status class: status/100

	LastReqPayload  []byte
	LastRespPayload []byte
}

// Store holds endpoint state in a map of *Entry guarded by a single
// sync.RWMutex; that one lock is shared by every endpoint.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	alpha   float64
}

// New returns an empty Store. alpha <= 0 falls back to defaultAlpha.
func New(alpha float64) *Store {
	if alpha <= 0 {
		alpha = defaultAlpha
	}
	return &Store{entries: make(map[string]*Entry), alpha: alpha}
}

func (s *Store) entryFor(key string) *Entry {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entries[key]; ok {
		return e
	}
	e = &Entry{
		key:          key,
		statusExact:  make(map[int]int),
		statusBucket: make(map[int]int),
		respSchemas:  make(map[int]*schema.Descriptor),
	}
	s.entries[key] = e
	return e
}

// Record folds one observed transaction into the endpoint's aggregated
// state (§4.4). Schemas may be nil when a body was absent or not JSON.
func (s *Store) Record(key string, latencyMS float64, status int, reqSchema, respSchema *schema.Descriptor, reqPayload, respPayload []byte) {
	e := s.entryFor(key)
	alpha := s.alpha

	e.mu.Lock()
	defer e.mu.Unlock()

	e.count++
	if e.count == 1 {
		e.latencyMean = latencyMS
		e.latencyMeanSq = latencyMS * latencyMS
	} else {
		e.latencyMean = (1-alpha)*e.latencyMean + alpha*latencyMS
		e.latencyMeanSq = (1-alpha)*e.latencyMeanSq + alpha*latencyMS*latencyMS
	}

	e.statusExact[status]++
	e.statusBucket[status/100]++

	if reqSchema != nil {
		e.reqSchema = schema.Merge(e.reqSchema, reqSchema)
	}
	if respSchema != nil {
		class := status / 100
		e.respSchemas[class] = schema.Merge(e.respSchemas[class], respSchema)
	}

	if reqPayload != nil {
		e.lastReqPayload = truncate(reqPayload)
	}
	if respPayload != nil {
		e.lastRespPayload = truncate(respPayload)
	}
}

// Get returns a snapshot of the endpoint's current state.
func (s *Store) Get(key string) (Snapshot, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshotLocked(), true
}

// Keys returns all known endpoint keys, in no particular order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.entries))
	for k := range s.entries {
		out = append(out, k)
	}
	return out
}

// All returns a snapshot of every known endpoint.
func (s *Store) All() []Snapshot {
	keys := s.Keys()
	out := make([]Snapshot, 0, len(keys))
	for _, k := range keys {
		if snap, ok := s.Get(k); ok {
			out = append(out, snap)
		}
	}
	return out
}

func (e *Entry) snapshotLocked() Snapshot {
	variance := e.latencyMeanSq - e.latencyMean*e.latencyMean
	if variance < 0 {
		variance = 0
	}
	return Snapshot{
		Key:             e.key,
		Count:           e.count,
		LatencyMean:     e.latencyMean,
		LatencyStd:      math.Sqrt(variance),
		StatusExact:     copyIntMap(e.statusExact),
		StatusBucket:    copyIntMap(e.statusBucket),
		ReqSchema:       e.reqSchema,
		RespSchemas:     copySchemaMap(e.respSchemas),
		LastReqPayload:  e.lastReqPayload,
		LastRespPayload: e.lastRespPayload,
	}
}

func copySchemaMap(m map[int]*schema.Descriptor) map[int]*schema.Descriptor {
	out := make(map[int]*schema.Descriptor, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyIntMap(m map[int]int) map[int]int {
	out := make(map[int]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func truncate(payload []byte) []byte {
	if len(payload) <= maxPayloadBytes {
		out := make([]byte, len(payload))
		copy(out, payload)
		return out
	}
	out := make([]byte, 0, maxPayloadBytes+len(truncationMarker))
	out = append(out, payload[:maxPayloadBytes]...)
	out = append(out, truncationMarker...)
	return out
}
