// Human-in-the-loop blocker resolution (C5's intervention path). When a
// fetch hits a CAPTCHA or bot wall and human assist is allowed, the fetcher
// registers a pending intervention record (id, blocker type, url,
// screenshot) with a sink and blocks until an operator resolves it,
// optionally supplying cookies to inject before the retry (spec.md §4.5,
// §6 intervention-sink contract).
package browser

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"researchcore/internal/domain"
	"researchcore/internal/logging"
)

// InterventionRequest describes one pending blocker awaiting a human.
type InterventionRequest struct {
	ID          string             `json:"id"`
	BlockerType domain.BlockerType `json:"blocker_type"`
	URL         string             `json:"url"`
	SessionID   string             `json:"session_id"`
	Screenshot  []byte             `json:"screenshot,omitempty"`
	Details     string             `json:"details,omitempty"`
	RequestedAt time.Time          `json:"requested_at"`
}

// Cookie is one resolved cookie supplied by the intervention operator.
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain,omitempty"`
	Path   string `json:"path,omitempty"`
}

// InterventionResolution is the operator's answer: the blocker was dealt
// with (captcha solved upstream, consent accepted), optionally with cookies
// to inject into the blocked context before retrying.
type InterventionResolution struct {
	Resolved bool     `json:"resolved"`
	Cookies  []Cookie `json:"cookies,omitempty"`
}

// InterventionHandle is returned per registered intervention; WaitForResolution
// blocks up to timeout for the operator's answer.
type InterventionHandle interface {
	WaitForResolution(ctx context.Context, timeout time.Duration) (InterventionResolution, error)
}

// InterventionSink is the collaborator contract the fetcher consumes
// (spec.md §6). Implementations must be safe under concurrent use.
type InterventionSink interface {
	RequestIntervention(ctx context.Context, req InterventionRequest) (InterventionHandle, error)
}

// ManualSink is the in-process InterventionSink: pending requests accumulate
// and an external surface (CLI prompt, HTTP endpoint, chat gateway) calls
// Resolve when the human has acted. Unresolved handles time out.
type ManualSink struct {
	mu      sync.Mutex
	pending map[string]*manualHandle
}

// NewManualSink builds an empty ManualSink.
func NewManualSink() *ManualSink {
	return &ManualSink{pending: make(map[string]*manualHandle)}
}

type manualHandle struct {
	req  InterventionRequest
	done chan InterventionResolution
}

func (h *manualHandle) WaitForResolution(ctx context.Context, timeout time.Duration) (InterventionResolution, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-h.done:
		return res, nil
	case <-timer.C:
		return InterventionResolution{}, context.DeadlineExceeded
	case <-ctx.Done():
		return InterventionResolution{}, ctx.Err()
	}
}

// RequestIntervention registers req (assigning an id if absent) and returns
// its handle.
func (s *ManualSink) RequestIntervention(_ context.Context, req InterventionRequest) (InterventionHandle, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now()
	}
	h := &manualHandle{req: req, done: make(chan InterventionResolution, 1)}
	s.mu.Lock()
	s.pending[req.ID] = h
	s.mu.Unlock()
	logging.Get(logging.CategoryBrowser).Warn(
		"intervention requested: id=%s kind=%s url=%s", req.ID, req.BlockerType, req.URL)
	return h, nil
}

// Pending lists interventions still awaiting resolution, oldest first not
// guaranteed; the caller renders them for an operator.
func (s *ManualSink) Pending() []InterventionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]InterventionRequest, 0, len(s.pending))
	for _, h := range s.pending {
		out = append(out, h.req)
	}
	return out
}

// Resolve delivers the operator's answer for id. Returns false if id is
// unknown or already resolved.
func (s *ManualSink) Resolve(id string, res InterventionResolution) bool {
	s.mu.Lock()
	h, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	h.done <- res
	return true
}
