// Package api serves the admin HTTP interface of a node.
package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gridcache/internal/coordinator"
	"gridcache/internal/entry"
	"gridcache/internal/errs"
	"gridcache/internal/node"
	"gridcache/internal/streamer"
)

const maxBody = 16 << 20

// EntryView is the JSON form of a stored entry.
type EntryView struct {
	Key    string `json:"key"`
	Value  string `json:"value"`
	Token  string `json:"token"`
	Origin string `json:"origin"`
}

func viewOf(e entry.Entry) EntryView {
	return EntryView{Key: e.Key, Value: string(e.Value), Token: e.Token.String(), Origin: e.Origin}
}

// TargetView is one replica's part of a write.
type TargetView struct {
	Target  string `json:"target"`
	State   string `json:"state"`
	Changed bool   `json:"changed"`
	Error   string `json:"error,omitempty"`
}

// OutcomeView is the JSON form of a write outcome.
type OutcomeView struct {
	Key     string       `json:"key"`
	State   string       `json:"state"`
	Token   string       `json:"token,omitempty"`
	Targets []TargetView `json:"targets,omitempty"`
	Error   string       `json:"error,omitempty"`
}

func outcomeView(o *coordinator.Outcome) OutcomeView {
	v := OutcomeView{Key: o.Key, State: o.State.String()}
	if !o.Entry.Token.IsZero() {
		v.Token = o.Entry.Token.String()
	}
	if o.Err != nil {
		v.Error = o.Err.Error()
	}
	for _, r := range o.Targets {
		t := TargetView{Target: r.Target, State: r.State.String(), Changed: r.Changed}
		if r.Err != nil {
			t.Error = r.Err.Error()
		}
		v.Targets = append(v.Targets, t)
	}
	return v
}

// LoadEntry is one entry of a load request.
type LoadEntry struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	Overwrite *bool  `json:"overwrite,omitempty"`
}

// LoadResultView is one entry of a load report.
type LoadResultView struct {
	Key    string `json:"key"`
	Status string `json:"status"`
	Token  string `json:"token,omitempty"`
}

// LoadView is the JSON form of a load report.
type LoadView struct {
	LoadID     string           `json:"load_id"`
	Dispatched int              `json:"dispatched"`
	Results    []LoadResultView `json:"results"`
}

type server struct {
	node   *node.Node
	logger *zap.Logger
}

// NewServer returns the admin router for n.
func NewServer(n *node.Node, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &server{node: n, logger: logger.Named("api")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "node": n.ID()})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/members", s.members)

	r.Route("/caches", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, n.CacheNames())
		})
		r.Get("/{cache}/keys/{key}", s.getKey)
		r.Put("/{cache}/keys/{key}", s.putKey)
		r.Post("/{cache}/load", s.load)
	})
	return r
}

func (s *server) members(w http.ResponseWriter, r *http.Request) {
	type memberView struct {
		ID     string `json:"id"`
		Addr   string `json:"addr"`
		Status string `json:"status"`
	}
	var out []memberView
	for _, m := range s.node.Members() {
		out = append(out, memberView{ID: m.ID, Addr: m.Addr, Status: m.Status.String()})
	}
	writeJSON(w, http.StatusOK, out)
}

// getKey returns the local copy, or with ?read=replicas the reconciled
// value of every replica.
func (s *server) getKey(w http.ResponseWriter, r *http.Request) {
	c, err := s.node.Cache(chi.URLParam(r, "cache"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	key := chi.URLParam(r, "key")

	var (
		e  entry.Entry
		ok bool
	)
	if r.URL.Query().Get("read") == "replicas" {
		e, ok, err = c.Read(r.Context(), key)
	} else {
		e, ok, err = c.Get(key)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, viewOf(e))
}

func (s *server) putKey(w http.ResponseWriter, r *http.Request) {
	c, err := s.node.Cache(chi.URLParam(r, "cache"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	value, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	out := c.Put(r.Context(), chi.URLParam(r, "key"), value)
	status := http.StatusOK
	if out.State == coordinator.Failed {
		status = statusFor(out.Err)
	}
	writeJSON(w, status, outcomeView(out))
}

// load runs one load call. ?overwrite sets the default overwrite flag;
// ?parallelism and ?fail-fast tune dispatch.
func (s *server) load(w http.ResponseWriter, r *http.Request) {
	c, err := s.node.Cache(chi.URLParam(r, "cache"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	var body []LoadEntry
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "decode entries: " + err.Error()})
		return
	}

	q := r.URL.Query()
	overwrite, err := boolParam(q.Get("overwrite"), c.Config().AllowOverwrite)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "overwrite: " + err.Error()})
		return
	}
	opts := streamer.Options{Parallelism: c.Config().Parallelism}
	if v := q.Get("parallelism"); v != "" {
		if opts.Parallelism, err = strconv.Atoi(v); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "parallelism: " + err.Error()})
			return
		}
	}
	if opts.FailFast, err = boolParam(q.Get("fail-fast"), false); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "fail-fast: " + err.Error()})
		return
	}

	entries := make([]streamer.BatchEntry, len(body))
	for i, le := range body {
		entries[i] = streamer.BatchEntry{Key: le.Key, Value: []byte(le.Value), Overwrite: overwrite}
		if le.Overwrite != nil {
			entries[i].Overwrite = *le.Overwrite
		}
	}

	report := c.Load(r.Context(), entries, opts)
	view := LoadView{LoadID: report.LoadID.String(), Dispatched: report.Dispatched}
	for _, res := range report.Results {
		rv := LoadResultView{Key: res.Key, Status: res.Status.String()}
		if res.Outcome != nil && !res.Outcome.Entry.Token.IsZero() {
			rv.Token = res.Outcome.Entry.Token.String()
		}
		view.Results = append(view.Results, rv)
	}
	writeJSON(w, http.StatusOK, view)
}

// boolParam parses a query flag, returning def when it is absent.
func boolParam(v string, def bool) (bool, error) {
	if v == "" {
		return def, nil
	}
	return strconv.ParseBool(v)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrUnknownCache):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrEmptyKey):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrCoordinationUnavailable), errors.Is(err, errs.ErrReplicaUnreachable),
		errors.Is(err, errs.ErrNoReplicas):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
