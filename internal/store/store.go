// Package store persists Endpoint and Drift Alert records to an embedded
// bbolt database (§6: "Persisted layout"), so learned behavior survives a
// process restart. Health windows are intentionally not persisted here
// (§3: "Health windows are in-memory only; loss on restart is acceptable").
package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"learnproxy/internal/behavior"
	"learnproxy/internal/drift"
	"learnproxy/internal/schema"
)

const (
	endpointsBucket   = "endpoints"
	driftAlertsBucket = "drift_alerts"
)

// EndpointRecord is the persisted form of one Endpoint (§3, §6): identity,
// lifecycle timestamps, and the aggregated Behavior Store snapshot.
type EndpointRecord struct {
	Method      string    `json:"method"`
	PatternKey  string    `json:"patternKey"`
	FirstSeen   time.Time `json:"firstSeen"`
	LastSeen    time.Time `json:"lastSeen"`
	SampleCount int       `json:"sampleCount"`

	ReqSchema   *schema.Descriptor         `json:"reqSchema,omitempty"`
	RespSchemas map[int]*schema.Descriptor `json:"respSchemas,omitempty"`

	LatencyMeanMS float64 `json:"latencyMeanMs"`
	LatencyStdMS  float64 `json:"latencyStdMs"`

	StatusExact  map[int]int `json:"statusExact"`
	StatusBucket map[int]int `json:"statusBucket"`

	LastReqPayload  []byte `json:"lastReqPayload,omitempty"`
	LastRespPayload []byte `json:"lastRespPayload,omitempty"`
}

// Key returns the record's endpoint identity string (method + pattern).
func (r EndpointRecord) Key() string {
	return r.Method + " " + r.PatternKey
}

// FromSnapshot builds the persisted form of a behavior.Snapshot, preserving
// an existing FirstSeen (or setting it to now on first observation).
func FromSnapshot(method, pattern string, snap behavior.Snapshot, firstSeen time.Time, now time.Time) EndpointRecord {
	if firstSeen.IsZero() {
		firstSeen = now
	}
	return EndpointRecord{
		Method:          method,
		PatternKey:      pattern,
		FirstSeen:       firstSeen,
		LastSeen:        now,
		SampleCount:     snap.Count,
		ReqSchema:       snap.ReqSchema,
		RespSchemas:     snap.RespSchemas,
		LatencyMeanMS:   snap.LatencyMean,
		LatencyStdMS:    snap.LatencyStd,
		StatusExact:     snap.StatusExact,
		StatusBucket:    snap.StatusBucket,
		LastReqPayload:  snap.LastReqPayload,
		LastRespPayload: snap.LastRespPayload,
	}
}

// Store is a bbolt-backed persistence layer for endpoints and drift alerts.
// All methods are safe for concurrent use (bbolt serializes writers
// internally; reads use its MVCC snapshot).
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the bbolt database at path and ensures both
// buckets exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open store %q: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(endpointsBucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(driftAlertsBucket))
		return err
	}); err != nil {
		db.Close() //nolint:errcheck // best-effort close on init failure
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// PutEndpoint upserts rec under its Key().
func (s *Store) PutEndpoint(rec EndpointRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal endpoint %q: %w", rec.Key(), err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(endpointsBucket)).Put([]byte(rec.Key()), data)
	})
}

// GetEndpoint returns the persisted record for key, if any.
func (s *Store) GetEndpoint(key string) (EndpointRecord, bool, error) {
	var rec EndpointRecord
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(endpointsBucket)).Get([]byte(key))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &rec)
	})
	if err != nil {
		return EndpointRecord{}, false, err
	}
	return rec, found, nil
}

// DeleteEndpoint removes a persisted record (the explicit admin operation
// named in §3's lifecycle invariant).
func (s *Store) DeleteEndpoint(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(endpointsBucket)).Delete([]byte(key))
	})
}

// AllEndpoints returns every persisted record, ordered by key.
func (s *Store) AllEndpoints() ([]EndpointRecord, error) {
	var out []EndpointRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(endpointsBucket))
		return b.ForEach(func(k, v []byte) error {
			var rec EndpointRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshal endpoint %q: %w", k, err)
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

// PutDriftAlert upserts a drift.Alert keyed by its ID.
func (s *Store) PutDriftAlert(a drift.Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal drift alert %q: %w", a.ID, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(driftAlertsBucket)).Put([]byte(a.ID), data)
	})
}

// GetDriftAlert returns the persisted alert for id, if any.
func (s *Store) GetDriftAlert(id string) (drift.Alert, bool, error) {
	var a drift.Alert
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(driftAlertsBucket)).Get([]byte(id))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &a)
	})
	if err != nil {
		return drift.Alert{}, false, err
	}
	return a, found, nil
}

// AllDriftAlerts returns every persisted drift alert. If unresolvedOnly is
// true, resolved alerts are omitted.
func (s *Store) AllDriftAlerts(unresolvedOnly bool) ([]drift.Alert, error) {
	var out []drift.Alert
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(driftAlertsBucket))
		return b.ForEach(func(k, v []byte) error {
			var a drift.Alert
			if err := json.Unmarshal(v, &a); err != nil {
				return fmt.Errorf("unmarshal drift alert %q: %w", k, err)
			}
			if unresolvedOnly && a.Resolved {
				return nil
			}
			out = append(out, a)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ResolveDriftAlert marks an alert resolved, returning false if id is unknown.
func (s *Store) ResolveDriftAlert(id string) (bool, error) {
	found := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(driftAlertsBucket))
		v := b.Get([]byte(id))
		if v == nil {
			return nil
		}
		var a drift.Alert
		if err := json.Unmarshal(v, &a); err != nil {
			return fmt.Errorf("unmarshal drift alert %q: %w", id, err)
		}
		a.Resolved = true
		data, err := json.Marshal(a)
		if err != nil {
			return err
		}
		found = true
		return b.Put([]byte(id), data)
	})
	return found, err
}
