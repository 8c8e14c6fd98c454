// Package dispatch implements the Dispatch Core (§4.8): the per-request
// state machine receive → normalize → load → decide → (synthesize | forward)
// → record → respond, plus the shared outbound transport it forwards
// through. The consolidation side (draining the Learning Buffer into the
// Behavior Store, Drift Detector, Health Monitor and Live Broadcaster) lives
// in consolidator.go.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/http2"

	"learnproxy/internal/behavior"
	"learnproxy/internal/buffer"
	"learnproxy/internal/chaos"
	"learnproxy/internal/config"
	"learnproxy/internal/generator"
	"learnproxy/internal/logger"
	"learnproxy/internal/metrics"
	"learnproxy/internal/normalizer"
	"learnproxy/internal/schema"
)

// maxChaosLatency clamps an operator-configured extra_latency_ms (§5).
const maxChaosLatency = 30 * time.Second

// Core wires one running instance's request path: it never blocks on
// consolidation, storage, or subscribers — those live behind the Learning
// Buffer and the Consolidator.
type Core struct {
	cfg  *config.Config
	mode atomic.Value // holds config.Mode, swapped by POST /admin/mode

	log     *logger.Logger
	metrics *metrics.Metrics

	behaviorStore *behavior.Store
	chaosRegistry *chaos.Registry
	buf           *buffer.Buffer
	sampleCache   *generator.SampleCache

	targetURL *url.URL
	client    *http.Client

	// genMu guards gen: *rand.Rand is not safe for concurrent use and the
	// request path runs one goroutine per inbound request.
	genMu sync.Mutex
	gen   *generator.Generator

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New builds a Core from its already-constructed dependencies (§5: "a
// single HTTP client is shared for outbound forwarding").
func New(cfg *config.Config, behaviorStore *behavior.Store, chaosRegistry *chaos.Registry, buf *buffer.Buffer, m *metrics.Metrics, log *logger.Logger) *Core {
	c := &Core{
		cfg:           cfg,
		log:           log,
		metrics:       m,
		behaviorStore: behaviorStore,
		chaosRegistry: chaosRegistry,
		buf:           buf,
		gen:           generator.New(0),
		sampleCache:   generator.NewSampleCache(256),
		client:        buildClient(cfg, log),
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	c.mode.Store(cfg.Mode)

	if cfg.TargetURL != "" {
		u, err := url.Parse(cfg.TargetURL)
		if err != nil {
			log.Warnf("init", "invalid TARGET_URL %q: %v", cfg.TargetURL, err)
		} else {
			c.targetURL = u
		}
	}
	return c
}

func buildClient(cfg *config.Config, log *logger.Logger) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   time.Duration(cfg.ForwardConnectTimeoutMS) * time.Millisecond,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          200,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		log.Warnf("init", "http2 transport configuration failed, falling back to h1: %v", err)
	}
	return &http.Client{
		Transport: transport,
		Timeout:   time.Duration(cfg.ForwardTotalTimeoutMS) * time.Millisecond,
	}
}

// Mode returns the current dispatch mode.
func (c *Core) Mode() config.Mode { return c.mode.Load().(config.Mode) }

// SetMode switches the dispatch mode, e.g. from POST /admin/mode.
func (c *Core) SetMode(m config.Mode) { c.mode.Store(m) }

// ServeHTTP is the RECEIVE state: every non-admin inbound request enters here.
func (c *Core) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var reqBody []byte
	if r.Body != nil {
		reqBody, _ = io.ReadAll(r.Body)
		r.Body.Close()
	}

	normalizedPath := normalizer.Normalize(r.URL.Path) // NORMALIZE
	key := r.Method + " " + normalizedPath              // LOAD_ENDPOINT is implicit in the key lookups below

	if c.Mode() == config.ModeMock {
		c.handleMock(w, r.Method, normalizedPath, key, reqBody, start)
		return
	}
	c.handleProxy(w, r, normalizedPath, key, reqBody, start)
}

func (c *Core) handleProxy(w http.ResponseWriter, r *http.Request, path, key string, reqBody []byte, start time.Time) {
	profile := c.chaosRegistry.ForEndpoint(key)
	chaosApplied := false

	if profile.ExtraLatencyMS > 0 {
		chaosApplied = true
		c.sleepChaos(r.Context(), profile.ExtraLatencyMS)
	}

	if profile.ForcedStatusCode != chaos.NoForcedStatus {
		c.respondChaosForced(w, r.Method, path, key, profile.ForcedStatusCode, start)
		return
	}

	simulateError := profile.FailureProbability > 0 && c.chance(profile.FailureProbability)
	if simulateError {
		chaosApplied = true
	}

	var resp *http.Response
	var err error
	if !simulateError {
		resp, err = c.forward(r, reqBody) // FORWARD
	} else {
		err = fmt.Errorf("chaos: simulated upstream failure for %s", key)
	}

	forwardLatency := time.Since(start)
	c.metrics.RecordForwardLatency(forwardLatency)
	latencyMS := msOf(forwardLatency)

	if err != nil { // FORWARD_ERR
		c.metrics.ErrorsUpstream.Add(1)
		if c.cfg.Failover {
			c.respondSynthesizedFailover(w, r.Method, path, key, reqBody, latencyMS, chaosApplied)
			return
		}
		c.metrics.RequestsTotal.Add(1)
		http.Error(w, fmt.Sprintf("upstream error: %v", err), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body) // FORWARD_OK

	c.metrics.RequestsTotal.Add(1)
	c.metrics.RequestsProxied.Add(1)
	if chaosApplied {
		c.metrics.RequestsChaos.Add(1)
	}

	tx := buffer.Transaction{
		Method:      r.Method,
		Path:        path,
		EndpointKey: key,
		Status:      resp.StatusCode,
		LatencyMS:   latencyMS,
		ReqHeaders:  r.Header.Clone(),
		RespHeaders: resp.Header.Clone(),
		ReqBody:     reqBody,
		RespBody:    respBody,
		Timestamp:   time.Now(),
		Chaos:       chaosApplied,
	}
	c.buf.Enqueue(tx) // RECORD

	removeHopByHop(resp.Header)
	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	w.Write(respBody) //nolint:errcheck // client hung up mid-write is not an actionable error here
}

// forward proxies r to the configured target, honoring the request's own
// cancellation signal as well as the shared total-timeout client (§5, §4.8).
func (c *Core) forward(r *http.Request, body []byte) (*http.Response, error) {
	if c.targetURL == nil {
		return nil, fmt.Errorf("no TARGET_URL configured")
	}

	dest := *c.targetURL
	dest.Path = singleJoiningSlash(c.targetURL.Path, r.URL.Path)
	dest.RawQuery = r.URL.RawQuery

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(c.cfg.ForwardTotalTimeoutMS)*time.Millisecond)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, r.Method, dest.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header = r.Header.Clone()
	removeHopByHop(req.Header)
	req.ContentLength = int64(len(body))

	return c.client.Do(req)
}

// handleMock is the SYNTHESIZE → RESPOND path for mock mode.
func (c *Core) handleMock(w http.ResponseWriter, method, path, key string, reqBody []byte, start time.Time) {
	snap, known := c.behaviorStore.Get(key)

	status := http.StatusOK
	var respSchema *schema.Descriptor
	if known {
		respSchema = pickRespSchema(snap.RespSchemas)
		status = mostCommonStatus(snap.StatusExact)
	} else {
		c.metrics.ColdMocks.Add(1)
	}

	body := c.synthesize(respSchema, reqBody)

	c.metrics.RequestsTotal.Add(1)
	c.metrics.RequestsMocked.Add(1)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body) //nolint:errcheck

	tx := buffer.Transaction{
		Method:      method,
		Path:        path,
		EndpointKey: key,
		Status:      status,
		LatencyMS:   msOf(time.Since(start)),
		ReqHeaders:  http.Header{"Content-Type": []string{"application/json"}},
		RespHeaders: http.Header{"Content-Type": []string{"application/json"}},
		ReqBody:     reqBody,
		RespBody:    body,
		Timestamp:   time.Now(),
		Mocked:      true,
	}
	c.buf.Enqueue(tx)
}

// respondSynthesizedFailover is the failover branch of FORWARD_ERR: when a
// forward fails and FAILOVER=on, synthesize a response from the learned
// shape instead of surfacing a 502 (§4.8, scenario 6).
func (c *Core) respondSynthesizedFailover(w http.ResponseWriter, method, path, key string, reqBody []byte, latencyMS float64, chaosApplied bool) {
	snap, known := c.behaviorStore.Get(key)
	var respSchema *schema.Descriptor
	if known {
		respSchema = pickRespSchema(snap.RespSchemas)
	}
	body := c.synthesize(respSchema, reqBody)

	c.metrics.RequestsTotal.Add(1)
	c.metrics.RequestsFailover.Add(1)
	if chaosApplied {
		c.metrics.RequestsChaos.Add(1)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body) //nolint:errcheck

	tx := buffer.Transaction{
		Method:      method,
		Path:        path,
		EndpointKey: key,
		Status:      http.StatusOK,
		LatencyMS:   latencyMS,
		ReqHeaders:  http.Header{"Content-Type": []string{"application/json"}},
		RespHeaders: http.Header{"Content-Type": []string{"application/json"}},
		ReqBody:     reqBody,
		RespBody:    body,
		Timestamp:   time.Now(),
		Mocked:      true,
		Chaos:       chaosApplied,
	}
	c.buf.Enqueue(tx)
}

// respondChaosForced implements APPLY_CHAOS's short-circuit to RESPOND.
func (c *Core) respondChaosForced(w http.ResponseWriter, method, path, key string, code int, start time.Time) {
	body := []byte(`{}`)

	c.metrics.RequestsTotal.Add(1)
	c.metrics.RequestsChaos.Add(1)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(body) //nolint:errcheck

	tx := buffer.Transaction{
		Method:      method,
		Path:        path,
		EndpointKey: key,
		Status:      code,
		LatencyMS:   msOf(time.Since(start)),
		RespHeaders: http.Header{"Content-Type": []string{"application/json"}},
		RespBody:    body,
		Timestamp:   time.Now(),
		Chaos:       true,
	}
	c.buf.Enqueue(tx)

	c.log.InfoKV("dispatch", "chaos forced status", logger.Fields{"endpoint": key, "status": code})
}

// synthesize turns a learned response schema into a JSON payload, echoing
// compatible fields from reqBody where present (§4.3). Samples generated
// without an echo context are cached per schema, so repeated requests get
// the same sample until it is evicted; echoed samples are request-specific
// and always regenerated.
func (c *Core) synthesize(respSchema *schema.Descriptor, reqBody []byte) []byte {
	if respSchema == nil {
		return []byte(`{}`)
	}

	var reqVal *schema.Value
	if len(reqBody) > 0 {
		var decoded any
		if err := json.Unmarshal(reqBody, &decoded); err == nil {
			v := schema.ParseValue(decoded)
			reqVal = &v
		}
	}

	sig := signatureOf(respSchema)
	sample := c.generate(respSchema, reqVal, sig)

	out, err := json.Marshal(sample)
	if err != nil {
		return []byte(`{}`)
	}
	return out
}

func (c *Core) sleepChaos(ctx context.Context, extraMS int) {
	d := time.Duration(extraMS) * time.Millisecond
	if d > maxChaosLatency {
		d = maxChaosLatency
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// generate serializes access to the shared Generator (not safe for
// concurrent use) and the sample cache around it.
func (c *Core) generate(respSchema *schema.Descriptor, reqVal *schema.Value, sig string) any {
	c.genMu.Lock()
	defer c.genMu.Unlock()

	if reqVal == nil {
		if cached, ok := c.sampleCache.Get(sig); ok {
			return cached
		}
		sample := c.gen.Generate(respSchema, nil)
		c.sampleCache.Set(sig, sample)
		return sample
	}
	return c.gen.Generate(respSchema, reqVal)
}

func (c *Core) chance(p float64) bool {
	c.rngMu.Lock()
	v := c.rng.Float64()
	c.rngMu.Unlock()
	return v < p
}

func signatureOf(d *schema.Descriptor) string {
	data, err := json.Marshal(d)
	if err != nil {
		return ""
	}
	return string(data)
}

// pickRespSchema prefers the 2xx class, then the next-most-typical classes,
// falling back to whatever was observed, in deterministic key order.
func pickRespSchema(m map[int]*schema.Descriptor) *schema.Descriptor {
	if d, ok := m[2]; ok {
		return d
	}
	preferred := []int{3, 4, 1, 5}
	for _, class := range preferred {
		if d, ok := m[class]; ok {
			return d
		}
	}
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	for _, k := range keys {
		return m[k]
	}
	return nil
}

func mostCommonStatus(exact map[int]int) int {
	if len(exact) == 0 {
		return http.StatusOK
	}
	keys := make([]int, 0, len(exact))
	for k := range exact {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	best, bestCount := http.StatusOK, -1
	for _, k := range keys {
		if exact[k] > bestCount {
			best, bestCount = k, exact[k]
		}
	}
	return best
}

func msOf(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}
