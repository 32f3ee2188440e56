package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/lazypower/retain/internal/engine"
	"github.com/lazypower/retain/internal/retention"
	"github.com/lazypower/retain/internal/tracker"
)

const maxBodyBytes = 4 << 20

type rankRequest struct {
	Hits      []engine.Hit `json:"hits"`
	Reinforce *bool        `json:"reinforce"`
	Now       *time.Time   `json:"now"`
}

type rejection struct {
	Index int    `json:"index"`
	ID    int64  `json:"id,string"`
	Error string `json:"error"`
}

type rankResponse struct {
	Hits     []engine.ScoredHit `json:"hits"`
	Rejected []rejection        `json:"rejected"`
}

func (s *Server) handleRank(w http.ResponseWriter, r *http.Request) {
	var req rankRequest
	if !decodeBody(w, r, &req) {
		return
	}

	reinforce := s.opts.Reinforce
	if req.Reinforce != nil {
		reinforce = *req.Reinforce
	}
	now := s.opts.Now()
	if req.Now != nil {
		now = *req.Now
	}

	ranking, err := s.pipeline.Rank(r.Context(), req.Hits, now, reinforce)
	if err != nil {
		s.writeFailure(w, "rank", err)
		return
	}

	writeJSON(w, http.StatusOK, rankResponse{
		Hits:     ranking.Hits,
		Rejected: rejections(ranking.Rejected),
	})
}

type sweepRequest struct {
	Records          []engine.Record `json:"records"`
	Now              *time.Time      `json:"now"`
	PruneThreshold   *float64        `json:"prune_threshold"`
	ArchiveThreshold *float64        `json:"archive_threshold"`
}

type sweepResponse struct {
	Counts   map[string]int `json:"counts"`
	Prune    []string       `json:"prune"`
	Archive  []string       `json:"archive"`
	Rejected []rejection    `json:"rejected"`
	Degraded int            `json:"degraded"`
}

func rejections(rs []engine.Rejection) []rejection {
	out := make([]rejection, 0, len(rs))
	for _, rej := range rs {
		out = append(out, rejection{Index: rej.Index, ID: rej.ID, Error: rej.Err.Error()})
	}
	return out
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	var req sweepRequest
	if !decodeBody(w, r, &req) {
		return
	}
	now := s.opts.Now()
	if req.Now != nil {
		now = *req.Now
	}

	th := s.opts.Sweep
	if req.PruneThreshold != nil {
		th.Prune = *req.PruneThreshold
	}
	if req.ArchiveThreshold != nil {
		th.Archive = *req.ArchiveThreshold
	}
	if err := th.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rep, err := s.pipeline.Sweep(r.Context(), req.Records, now, th)
	if err != nil {
		s.writeFailure(w, "sweep", err)
		return
	}

	resp := sweepResponse{
		Counts:   make(map[string]int, len(rep.Counts)),
		Prune:    idStrings(rep.Prune),
		Archive:  idStrings(rep.Archive),
		Rejected: rejections(rep.Rejected),
		Degraded: rep.Degraded,
	}
	for tier, n := range rep.Counts {
		resp.Counts[tier.String()] = n
	}
	writeJSON(w, http.StatusOK, resp)
}

type memoryResponse struct {
	ID               int64           `json:"id,string"`
	AccessCount      int64           `json:"access_count"`
	LastReinforcedAt *time.Time      `json:"last_reinforced_at"`
	Retention        *float64        `json:"retention,omitempty"`
	Tier             *retention.Tier `json:"tier,omitempty"`
}

func memoryOf(id int64, st tracker.State) memoryResponse {
	m := memoryResponse{ID: id, AccessCount: st.AccessCount}
	if st.Reinforced() {
		at := st.LastReinforcedAt.UTC()
		m.LastReinforcedAt = &at
	}
	return m
}

// handleGetMemory returns tracked state. With ?created_at= it also reports
// the memory's current retention and tier.
func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	id, ok := memoryID(w, r)
	if !ok {
		return
	}

	var createdAt time.Time
	if v := r.URL.Query().Get("created_at"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "created_at must be RFC 3339")
			return
		}
		createdAt = t
	}

	st, err := s.pipeline.State(r.Context(), id)
	if err != nil {
		s.writeFailure(w, "get memory", err)
		return
	}

	resp := memoryOf(id, st)
	if !createdAt.IsZero() {
		cfg := s.pipeline.Config()
		ret := cfg.Decay(createdAt, st.LastReinforcedAt, st.AccessCount, s.opts.Now())
		tier := cfg.Classify(ret)
		resp.Retention = &ret
		resp.Tier = &tier
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReinforce(w http.ResponseWriter, r *http.Request) {
	id, ok := memoryID(w, r)
	if !ok {
		return
	}

	st, err := s.pipeline.Reinforce(r.Context(), id, s.opts.Now())
	if err != nil {
		s.writeFailure(w, "reinforce", err)
		return
	}
	writeJSON(w, http.StatusOK, memoryOf(id, st))
}

func (s *Server) handleForget(w http.ResponseWriter, r *http.Request) {
	id, ok := memoryID(w, r)
	if !ok {
		return
	}

	if err := s.pipeline.Forget(r.Context(), id); err != nil {
		s.writeFailure(w, "forget", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func memoryID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "memory id must be a 64-bit integer")
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

// writeFailure maps pipeline errors to status codes.
func (s *Server) writeFailure(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, tracker.ErrUnavailable):
		s.logger.Warn(op+" failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "reinforcement tracker unavailable")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		s.logger.Error(op+" failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func idStrings(ids []int64) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = strconv.FormatInt(id, 10)
	}
	return out
}
