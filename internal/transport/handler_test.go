package transport

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"gridcache/internal/clock"
	"gridcache/internal/entry"
	"gridcache/internal/errs"
	"gridcache/internal/wire"
)

// fakeHandler stores applied entries per cache and sequences keys it is
// primary for.
type fakeHandler struct {
	id       string
	mu       sync.Mutex
	entries  map[string]entry.Entry
	seq      map[string]uint64
	primary  map[string]bool
	failNext error
}

func newFakeHandler(id string) *fakeHandler {
	return &fakeHandler{
		id:      id,
		entries: make(map[string]entry.Entry),
		seq:     make(map[string]uint64),
		primary: make(map[string]bool),
	}
}

func (h *fakeHandler) HandleApply(_ context.Context, req *wire.ApplyRequest) (*wire.ApplyResponse, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if req.Cache != "c" {
		return nil, errors.Wrap(errs.ErrUnknownCache, req.Cache)
	}
	if h.failNext != nil {
		err := h.failNext
		h.failNext = nil
		return nil, err
	}
	cur, ok := h.entries[req.Entry.Key]
	if ok && !req.Entry.Newer(cur) {
		return &wire.ApplyResponse{}, nil
	}
	h.entries[req.Entry.Key] = req.Entry
	return &wire.ApplyResponse{Changed: true}, nil
}

func (h *fakeHandler) HandleGet(_ context.Context, req *wire.GetRequest) (*wire.GetResponse, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[req.Key]
	return &wire.GetResponse{Found: ok, Entry: e}, nil
}

func (h *fakeHandler) HandleNextSeq(_ context.Context, req *wire.SeqRequest) (*wire.SeqResponse, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.primary[req.Key] {
		return nil, errors.Wrapf(errs.ErrNotPrimary, "%s for %q", h.id, req.Key)
	}
	h.seq[req.Key]++
	return &wire.SeqResponse{Token: clock.Token{Mode: clock.Coordinated, Counter: h.seq[req.Key], Node: h.id}}, nil
}

func (h *fakeHandler) HandlePing(_ context.Context, _ *wire.PingRequest) (*wire.PingResponse, error) {
	return &wire.PingResponse{Node: h.id}, nil
}
