// Package chaos implements the Chaos Profile (§3, §9): per-endpoint or
// global fault injection, read lock-free via a copy-on-write atomic
// pointer swap so the hot request path never contends with admin updates.
package chaos

import "sync/atomic"

// NoForcedStatus marks that a Profile does not force a response status.
const NoForcedStatus = 0

// Profile is one chaos configuration: a failure probability, extra
// latency to inject, and an optional forced status code that short-
// circuits forwarding entirely.
type Profile struct {
	FailureProbability float64 // [0,1]
	ExtraLatencyMS     int
	ForcedStatusCode   int // NoForcedStatus (0) = unset
}

// IsZero reports whether p applies no chaos at all.
func (p Profile) IsZero() bool {
	return p.FailureProbability == 0 && p.ExtraLatencyMS == 0 && p.ForcedStatusCode == NoForcedStatus
}

type profileSet struct {
	global      Profile
	perEndpoint map[string]Profile
}

// Registry holds the global and per-endpoint chaos profiles. Reads never
// block writers and writers never block readers: each update builds a new
// profileSet and swaps it in atomically.
type Registry struct {
	current atomic.Pointer[profileSet]
}

// NewRegistry returns an empty Registry (no chaos configured anywhere).
func NewRegistry() *Registry {
	r := &Registry{}
	r.current.Store(&profileSet{perEndpoint: make(map[string]Profile)})
	return r
}

// Global returns the currently configured global Profile.
func (r *Registry) Global() Profile {
	return r.current.Load().global
}

// SetGlobal replaces the global Profile.
func (r *Registry) SetGlobal(p Profile) {
	r.swap(func(next *profileSet) { next.global = p })
}

// ForEndpoint returns the effective Profile for key: the per-endpoint
// override if one is configured, else the global Profile.
func (r *Registry) ForEndpoint(key string) Profile {
	set := r.current.Load()
	if p, ok := set.perEndpoint[key]; ok {
		return p
	}
	return set.global
}

// SetEndpoint configures a per-endpoint override for key.
func (r *Registry) SetEndpoint(key string, p Profile) {
	r.swap(func(next *profileSet) { next.perEndpoint[key] = p })
}

// ClearEndpoint removes a per-endpoint override, falling back to global.
func (r *Registry) ClearEndpoint(key string) {
	r.swap(func(next *profileSet) { delete(next.perEndpoint, key) })
}

// swap builds a fresh profileSet from the current one, applies mutate,
// then atomically installs it — the copy-on-write pattern that keeps
// ForEndpoint/Global lock-free.
func (r *Registry) swap(mutate func(next *profileSet)) {
	old := r.current.Load()
	next := &profileSet{
		global:      old.global,
		perEndpoint: make(map[string]Profile, len(old.perEndpoint)),
	}
	for k, v := range old.perEndpoint {
		next.perEndpoint[k] = v
	}
	mutate(next)
	r.current.Store(next)
}
