package generator

// SampleCache bounds the number of cached synthetic samples kept in memory,
// keyed by a caller-supplied schema signature (e.g. a hash of the
// descriptor's JSON form). Uses S3-FIFO eviction: two FIFO queues (S, M)
// plus a bounded ghost set give scan resistance; every Get and Put takes
// the cache's single mutex. Nothing is persisted behind the cache: a miss
// regenerates, and because generation is randomized the regenerated sample
// can differ from the evicted one.
//
// # Sizing
//
//	sTarget  = max(1, capacity/10)
//	mTarget  = capacity - sTarget
//	ghostCap = max(4, 2*sTarget)
import (
	"container/list"
	"sync"
)

type sampleEntry struct {
	value any
	freq  uint8
	elem  *list.Element
	inM   bool
}

// SampleCache is a bounded, thread-safe cache of generated samples.
type SampleCache struct {
	mu sync.Mutex

	capacity int
	sTarget  int
	ghostCap int

	entries map[string]*sampleEntry
	sQueue  *list.List
	mQueue  *list.List

	ghostBuf   []string
	ghostSet   map[string]struct{}
	ghostHead  int
	ghostCount int
}

// NewSampleCache returns a SampleCache holding at most capacity samples;
// values below 2 are clamped to 2.
func NewSampleCache(capacity int) *SampleCache {
	if capacity < 2 {
		capacity = 2
	}
	sTarget := capacity / 10
	if sTarget < 1 {
		sTarget = 1
	}
	ghostCap := 2 * sTarget
	if ghostCap < 4 {
		ghostCap = 4
	}
	return &SampleCache{
		capacity: capacity,
		sTarget:  sTarget,
		ghostCap: ghostCap,
		entries:  make(map[string]*sampleEntry, capacity),
		sQueue:   list.New(),
		mQueue:   list.New(),
		ghostBuf: make([]string, ghostCap),
		ghostSet: make(map[string]struct{}, ghostCap),
	}
}

// Get returns the cached sample for signature, if present.
func (c *SampleCache) Get(signature string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[signature]
	if !ok {
		return nil, false
	}
	if e.freq < 3 {
		e.freq++
	}
	return e.value, true
}

// Set stores a freshly generated sample under signature.
func (c *SampleCache) Set(signature string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[signature]; ok {
		e.value = value
		return
	}

	inM := c.ghostContains(signature)
	var elem *list.Element
	if inM {
		elem = c.mQueue.PushBack(signature)
	} else {
		elem = c.sQueue.PushBack(signature)
	}
	c.entries[signature] = &sampleEntry{value: value, elem: elem, inM: inM}

	for c.sQueue.Len()+c.mQueue.Len() > c.capacity {
		c.evictOne()
	}
}

func (c *SampleCache) evictOne() {
	if c.sQueue.Len() > 0 {
		c.evictFromS()
		return
	}
	c.evictFromM()
}

func (c *SampleCache) evictFromS() {
	front := c.sQueue.Front()
	if front == nil {
		return
	}
	key := front.Value.(string)
	c.sQueue.Remove(front)

	e, ok := c.entries[key]
	if !ok {
		return
	}
	if e.freq > 0 {
		e.freq = 0
		e.inM = true
		e.elem = c.mQueue.PushBack(key)
		mTarget := c.capacity - c.sTarget
		if c.mQueue.Len() > mTarget {
			c.evictFromM()
		}
	} else {
		delete(c.entries, key)
		c.ghostAdd(key)
	}
}

func (c *SampleCache) evictFromM() {
	front := c.mQueue.Front()
	if front == nil {
		return
	}
	key := front.Value.(string)
	c.mQueue.Remove(front)
	delete(c.entries, key)
}

func (c *SampleCache) ghostContains(key string) bool {
	_, ok := c.ghostSet[key]
	return ok
}

func (c *SampleCache) ghostAdd(key string) {
	if _, exists := c.ghostSet[key]; exists {
		return
	}
	if c.ghostCount == c.ghostCap {
		oldest := c.ghostBuf[c.ghostHead]
		delete(c.ghostSet, oldest)
		c.ghostHead = (c.ghostHead + 1) % c.ghostCap
		c.ghostCount--
	}
	writeIdx := (c.ghostHead + c.ghostCount) % c.ghostCap
	c.ghostBuf[writeIdx] = key
	c.ghostSet[key] = struct{}{}
	c.ghostCount++
}
