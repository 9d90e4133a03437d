// Package reasoning defines the boundary with the external AI collaborator.
// Every call site branches on the returned error to a deterministic
// fallback; no caller treats an unavailable collaborator as fatal.
package reasoning

import (
	"context"
	"errors"
)

// ErrUnavailable signals that the collaborator cannot serve the call at
// all (offline, misconfigured, over quota). Callers fall back.
var ErrUnavailable = errors.New("reasoning collaborator unavailable")

// Request is the single structured input shape the core sends out.
type Request struct {
	Purpose   string         // "plan_synthesis" or "receipt_summary"
	Objective string
	Context   map[string]any
}

// Response is the structured success of one reasoning call.
type Response struct {
	Text       string
	Structured map[string]any
	TokensUsed int
}

// Client is implemented by the embedding application.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Disabled is the always-unavailable client. Using it forces every caller
// onto its deterministic path, which is the correct default for an
// embedded core with no collaborator wired in.
type Disabled struct{}

func (Disabled) Complete(ctx context.Context, req Request) (*Response, error) {
	return nil, ErrUnavailable
}

// Static answers every call with a fixed response. Test helper.
type Static struct {
	Response Response
	Err      error
	Calls    int
}

func (s *Static) Complete(ctx context.Context, req Request) (*Response, error) {
	s.Calls++
	if s.Err != nil {
		return nil, s.Err
	}
	resp := s.Response
	return &resp, nil
}
