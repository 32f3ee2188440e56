package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lazypower/retain/internal/engine"
	"github.com/lazypower/retain/internal/tracker"
)

// downTracker fails every call as an unreachable backend would.
type downTracker struct{}

func (downTracker) Get(ctx context.Context, id int64) (tracker.State, error) {
	return tracker.State{}, fmt.Errorf("%w: get %d: connection refused", tracker.ErrUnavailable, id)
}

func (downTracker) Reinforce(ctx context.Context, id int64, now time.Time) (tracker.State, error) {
	return tracker.State{}, fmt.Errorf("%w: reinforce %d: connection refused", tracker.ErrUnavailable, id)
}

func (downTracker) Remove(ctx context.Context, id int64) error {
	return fmt.Errorf("%w: remove %d: connection refused", tracker.ErrUnavailable, id)
}

type rankBody struct {
	Hits []struct {
		ID          string  `json:"id"`
		Similarity  float64 `json:"similarity"`
		Retention   float64 `json:"retention"`
		Tier        string  `json:"tier"`
		FinalScore  float64 `json:"final_score"`
		AccessCount int64   `json:"access_count"`
		Degraded    bool    `json:"degraded"`
	} `json:"hits"`
	Rejected []struct {
		Index int    `json:"index"`
		ID    string `json:"id"`
		Error string `json:"error"`
	} `json:"rejected"`
}

func decode(t *testing.T, body []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(body, v); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
}

func TestRankEndpoint(t *testing.T) {
	tr := tracker.NewSharded(4)
	srv := testServer(t, tr, Options{Reinforce: true})

	w := do(t, srv, "POST", "/api/rank", `{"hits":[
		{"id":"1","similarity":0.3,"created_at":"2025-01-15T12:00:00Z"},
		{"id":"9007199254740993","similarity":0.9,"created_at":"2025-01-05T12:00:00Z"},
		{"id":"3","similarity":1.5,"created_at":"2025-01-15T12:00:00Z"}
	]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	var body rankBody
	decode(t, w.Body.Bytes(), &body)
	if len(body.Hits) != 2 {
		t.Fatalf("len(hits) = %d, want 2", len(body.Hits))
	}
	top := body.Hits[0]
	if top.ID != "9007199254740993" {
		t.Errorf("top id = %q, want 9007199254740993 (lossless)", top.ID)
	}
	if top.Tier != "working" {
		t.Errorf("top tier = %q, want working", top.Tier)
	}
	if top.FinalScore != top.Similarity*top.Retention {
		t.Errorf("final_score = %v, want similarity*retention", top.FinalScore)
	}
	if len(body.Rejected) != 1 || body.Rejected[0].Index != 2 || body.Rejected[0].ID != "3" {
		t.Errorf("rejected = %+v, want index 2 id 3", body.Rejected)
	}
	if !strings.Contains(body.Rejected[0].Error, "invalid similarity score") {
		t.Errorf("rejection error = %q", body.Rejected[0].Error)
	}

	// Default reinforce applies: both returned hits were reinforced.
	st, _ := tr.Get(context.Background(), 9007199254740993)
	if st.AccessCount != 1 || !st.LastReinforcedAt.Equal(testNow) {
		t.Errorf("state after rank = %+v, want count 1 at %v", st, testNow)
	}
	if tr.Len() != 2 {
		t.Errorf("tracked ids = %d, want 2", tr.Len())
	}
}

func TestRankEndpointReinforceOverride(t *testing.T) {
	tr := tracker.NewSharded(1)
	srv := testServer(t, tr, Options{Reinforce: true})

	w := do(t, srv, "POST", "/api/rank", `{"reinforce":false,"hits":[{"id":"1","similarity":0.3,"created_at":"2025-01-15T12:00:00Z"}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if tr.Len() != 0 {
		t.Errorf("tracked ids = %d, want 0", tr.Len())
	}
}

func TestRankEndpointExplicitNow(t *testing.T) {
	srv := testServer(t, tracker.NewSharded(1), Options{})

	w := do(t, srv, "POST", "/api/rank", `{"now":"2025-01-25T12:00:00Z","hits":[{"id":"1","similarity":1,"created_at":"2025-01-15T12:00:00Z"}]}`)
	var body rankBody
	decode(t, w.Body.Bytes(), &body)
	if got := body.Hits[0].Retention; got < 0.3678 || got > 0.3680 {
		t.Errorf("retention at now+10d = %v, want ~0.3679", got)
	}
}

func TestRankEndpointBadJSON(t *testing.T) {
	srv := testServer(t, tracker.NewSharded(1), Options{})

	for _, body := range []string{`{"hits":`, `{"hits":[{"id":"abc"}]}`, `[1,2]`} {
		w := do(t, srv, "POST", "/api/rank", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, w.Code)
		}
	}
}

func TestRankEndpointDegraded(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	srv := testServer(t, downTracker{}, Options{Reinforce: true, Logger: zap.New(core)})

	w := do(t, srv, "POST", "/api/rank", `{"hits":[{"id":"4","similarity":0.5,"created_at":"2025-01-15T12:00:00Z"}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (degraded, not failed)", w.Code)
	}
	var body rankBody
	decode(t, w.Body.Bytes(), &body)
	if len(body.Hits) != 1 || !body.Hits[0].Degraded {
		t.Errorf("hits = %+v, want one degraded hit", body.Hits)
	}
	if logs.FilterMessage("request").Len() != 1 {
		t.Errorf("request log entries = %d, want 1", logs.FilterMessage("request").Len())
	}
}

func TestSweepEndpoint(t *testing.T) {
	srv := testServer(t, tracker.NewSharded(2), Options{})

	w := do(t, srv, "POST", "/api/sweep", `{"records":[
		{"id":"1","created_at":"2024-12-06T12:00:00Z"},
		{"id":"2","created_at":"2025-01-15T12:00:00Z"},
		{"id":"3","created_at":"2025-01-07T12:00:00Z"},
		{"id":"4","created_at":"2025-01-01T12:00:00Z"},
		{"id":"5"}
	]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	var body struct {
		Counts   map[string]int `json:"counts"`
		Prune    []string       `json:"prune"`
		Archive  []string       `json:"archive"`
		Rejected []struct {
			Index int    `json:"index"`
			ID    string `json:"id"`
			Error string `json:"error"`
		} `json:"rejected"`
	}
	decode(t, w.Body.Bytes(), &body)
	want := map[string]int{"forgotten": 2, "working": 1, "short_term": 0, "long_term": 1}
	for k, n := range want {
		if body.Counts[k] != n {
			t.Errorf("counts[%s] = %d, want %d", k, body.Counts[k], n)
		}
	}
	if len(body.Prune) != 1 || body.Prune[0] != "1" {
		t.Errorf("prune = %v, want [1]", body.Prune)
	}
	if len(body.Archive) != 1 || body.Archive[0] != "4" {
		t.Errorf("archive = %v, want [4]", body.Archive)
	}
	if len(body.Rejected) != 1 || body.Rejected[0].Index != 4 || body.Rejected[0].ID != "5" {
		t.Fatalf("rejected = %+v, want index 4 id 5", body.Rejected)
	}
	if !strings.Contains(body.Rejected[0].Error, "missing created_at") {
		t.Errorf("rejection error = %q", body.Rejected[0].Error)
	}
}

func TestSweepEndpointThresholds(t *testing.T) {
	srv := testServer(t, tracker.NewSharded(1), Options{
		Sweep: engine.SweepThresholds{Prune: 0.5, Archive: 0.8},
	})
	records := `"records":[{"id":"3","created_at":"2025-01-07T12:00:00Z"}]`

	var body struct {
		Prune   []string `json:"prune"`
		Archive []string `json:"archive"`
	}
	w := do(t, srv, "POST", "/api/sweep", `{`+records+`}`)
	decode(t, w.Body.Bytes(), &body)
	if len(body.Prune) != 1 || len(body.Archive) != 0 {
		t.Errorf("server cutoffs: prune = %v, archive = %v; want [3], []", body.Prune, body.Archive)
	}

	body.Prune, body.Archive = nil, nil
	w = do(t, srv, "POST", "/api/sweep", `{"prune_threshold":0.1,"archive_threshold":0.6,`+records+`}`)
	decode(t, w.Body.Bytes(), &body)
	if len(body.Prune) != 0 || len(body.Archive) != 1 {
		t.Errorf("request cutoffs: prune = %v, archive = %v; want [], [3]", body.Prune, body.Archive)
	}

	w = do(t, srv, "POST", "/api/sweep", `{"prune_threshold":0.9,`+records+`}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("prune above archive: status = %d, want 400", w.Code)
	}
}

func TestRankEndpointMissingCreatedAt(t *testing.T) {
	tr := tracker.NewSharded(1)
	srv := testServer(t, tr, Options{Reinforce: true})

	w := do(t, srv, "POST", "/api/rank", `{"hits":[{"id":"1","similarity":0.9}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var body rankBody
	decode(t, w.Body.Bytes(), &body)
	if len(body.Hits) != 0 {
		t.Errorf("hits = %+v, want none", body.Hits)
	}
	if len(body.Rejected) != 1 || body.Rejected[0].ID != "1" {
		t.Fatalf("rejected = %+v, want id 1", body.Rejected)
	}
	if !strings.Contains(body.Rejected[0].Error, "missing created_at") {
		t.Errorf("rejection error = %q", body.Rejected[0].Error)
	}
	if tr.Len() != 0 {
		t.Errorf("tracked ids = %d, want 0 (rejected hits are not reinforced)", tr.Len())
	}
}

func TestMemoryLifecycle(t *testing.T) {
	tr := tracker.NewSharded(2)
	srv := testServer(t, tr, Options{})

	var mem struct {
		ID               string     `json:"id"`
		AccessCount      int64      `json:"access_count"`
		LastReinforcedAt *time.Time `json:"last_reinforced_at"`
		Retention        *float64   `json:"retention"`
		Tier             *string    `json:"tier"`
	}

	w := do(t, srv, "GET", "/api/memories/42", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	decode(t, w.Body.Bytes(), &mem)
	if mem.ID != "42" || mem.AccessCount != 0 || mem.LastReinforcedAt != nil || mem.Retention != nil {
		t.Errorf("unknown memory = %+v, want zero state without retention", mem)
	}
	if tr.Len() != 0 {
		t.Errorf("read allocated tracker state")
	}

	w = do(t, srv, "POST", "/api/memories/42/reinforce", "")
	if w.Code != http.StatusOK {
		t.Fatalf("reinforce status = %d", w.Code)
	}
	decode(t, w.Body.Bytes(), &mem)
	if mem.AccessCount != 1 || mem.LastReinforcedAt == nil || !mem.LastReinforcedAt.Equal(testNow) {
		t.Errorf("after reinforce = %+v", mem)
	}

	w = do(t, srv, "GET", "/api/memories/42?created_at=2024-06-01T00:00:00Z", "")
	mem.Retention, mem.Tier = nil, nil
	decode(t, w.Body.Bytes(), &mem)
	if mem.Retention == nil || *mem.Retention != 1.0 {
		t.Errorf("retention = %v, want 1.0 (reinforced at now)", mem.Retention)
	}
	if mem.Tier == nil || *mem.Tier != "long_term" {
		t.Errorf("tier = %v, want long_term", mem.Tier)
	}

	w = do(t, srv, "DELETE", "/api/memories/42", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", w.Code)
	}
	if tr.Len() != 0 {
		t.Errorf("tracked ids after delete = %d, want 0", tr.Len())
	}
}

func TestMemoryBadRequests(t *testing.T) {
	srv := testServer(t, tracker.NewSharded(1), Options{})

	tests := []struct {
		method, path string
	}{
		{"GET", "/api/memories/abc"},
		{"GET", "/api/memories/99999999999999999999"},
		{"GET", "/api/memories/1?created_at=yesterday"},
		{"POST", "/api/memories/x/reinforce"},
		{"DELETE", "/api/memories/1.5"},
	}
	for _, tt := range tests {
		w := do(t, srv, tt.method, tt.path, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s %s: status = %d, want 400", tt.method, tt.path, w.Code)
		}
	}
}

func TestMemoryTrackerUnavailable(t *testing.T) {
	srv := testServer(t, downTracker{}, Options{})

	for _, req := range []struct{ method, path string }{
		{"GET", "/api/memories/1"},
		{"POST", "/api/memories/1/reinforce"},
		{"DELETE", "/api/memories/1"},
	} {
		w := do(t, srv, req.method, req.path, "")
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s %s: status = %d, want 503", req.method, req.path, w.Code)
		}
	}
}
