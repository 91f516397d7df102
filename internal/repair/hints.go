package repair

import (
	"sort"
	"sync"
	"time"

	"gridcache/internal/entry"
)

// Hint is an entry a target replica missed.
type Hint struct {
	Cache  string
	Target string
	Entry  entry.Entry
	Queued time.Time
}

type hintKey struct {
	cache, target, key string
}

// HintQueue holds at most one hint per (cache, target, key): the one with
// the highest token.
type HintQueue struct {
	mu    sync.Mutex
	hints map[hintKey]Hint
}

// NewHintQueue creates an empty queue.
func NewHintQueue() *HintQueue {
	return &HintQueue{hints: make(map[hintKey]Hint)}
}

// Add queues h unless a hint with a higher or equal token is already queued
// for the same target and key.
func (q *HintQueue) Add(h Hint) {
	k := hintKey{cache: h.Cache, target: h.Target, key: h.Entry.Key}
	if h.Queued.IsZero() {
		h.Queued = time.Now()
	}
	h.Entry = h.Entry.Clone()

	q.mu.Lock()
	defer q.mu.Unlock()
	if cur, ok := q.hints[k]; ok && !h.Entry.Newer(cur.Entry) {
		return
	}
	q.hints[k] = h
	hintsQueued.Set(float64(len(q.hints)))
}

// Take removes and returns every hint for target.
func (q *HintQueue) Take(target string) []Hint {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []Hint
	for k, h := range q.hints {
		if k.target == target {
			out = append(out, h)
			delete(q.hints, k)
		}
	}
	hintsQueued.Set(float64(len(q.hints)))
	sort.Slice(out, func(i, j int) bool { return out[i].Queued.Before(out[j].Queued) })
	return out
}

// Targets returns the targets that have hints queued, sorted.
func (q *HintQueue) Targets() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	seen := make(map[string]bool)
	var out []string
	for k := range q.hints {
		if !seen[k.target] {
			seen[k.target] = true
			out = append(out, k.target)
		}
	}
	sort.Strings(out)
	return out
}

// Len returns the number of queued hints.
func (q *HintQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.hints)
}
