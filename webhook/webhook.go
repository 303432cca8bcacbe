// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package webhook routes inbound GitHub webhook deliveries to the Command
// Dispatcher and the Merge Orchestrator. Grounded on
// cexll-swe-agent/internal/web/handler.go's gorilla/mux route registration
// style (one *mux.Router, RegisterRoutes attaches handlers), generalized
// from a human-facing UI to a single signed POST endpoint.
package webhook

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/google/go-github/v65/github"
	"github.com/gorilla/mux"
	"github.com/microsoft/mergebot/dispatch"
	"github.com/microsoft/mergebot/orchestrator"
)

// Server handles /webhook deliveries.
type Server struct {
	Secret     []byte
	Dispatcher *dispatch.Dispatcher
	Engine     *orchestrator.Engine
}

// RegisterRoutes attaches the webhook endpoint to r.
func (s *Server) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/webhook", s.handleWebhook).Methods(http.MethodPost)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := github.ValidatePayload(r, s.Secret)
	if err != nil {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	event, err := github.ParseWebHook(github.WebHookType(r), payload)
	if err != nil {
		http.Error(w, "unrecognized event", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if err := s.dispatchEvent(ctx, event); err != nil {
		log.Printf("handling %s webhook: %v", github.WebHookType(r), err)
		// Acknowledge the delivery regardless: GitHub retries on non-2xx,
		// and a processing failure here has already been turned into a
		// user-visible PR comment by the orchestrator/dispatcher.
	}
	w.WriteHeader(http.StatusAccepted)
	_, _ = io.WriteString(w, "accepted")
}

func (s *Server) dispatchEvent(ctx context.Context, event any) error {
	switch e := event.(type) {
	case *github.IssueCommentEvent:
		return s.handleIssueComment(ctx, e)
	case *github.CheckRunEvent:
		return s.handleCheckRun(ctx, e)
	case *github.StatusEvent:
		return s.handleStatus(ctx, e)
	default:
		return nil
	}
}

func (s *Server) handleIssueComment(ctx context.Context, e *github.IssueCommentEvent) error {
	if e.GetAction() != "created" || e.GetIssue().GetPullRequestLinks() == nil {
		return nil
	}
	owner := e.GetRepo().GetOwner().GetLogin()
	repo := e.GetRepo().GetName()
	return s.Dispatcher.HandleComment(ctx, owner, repo, e.GetIssue().GetNumber(), e.GetComment().GetUser().GetLogin(), e.GetComment().GetBody())
}

func (s *Server) handleCheckRun(ctx context.Context, e *github.CheckRunEvent) error {
	owner := e.GetRepo().GetOwner().GetLogin()
	repo := e.GetRepo().GetName()
	sha := e.GetCheckRun().GetHeadSHA()
	if err := s.Engine.HandleCheckEvent(ctx, owner, repo, sha); err != nil {
		return fmt.Errorf("handling check_run for %s/%s@%s: %w", owner, repo, sha, err)
	}
	return nil
}

func (s *Server) handleStatus(ctx context.Context, e *github.StatusEvent) error {
	owner := e.GetRepo().GetOwner().GetLogin()
	repo := e.GetRepo().GetName()
	sha := e.GetSHA()
	if err := s.Engine.HandleCheckEvent(ctx, owner, repo, sha); err != nil {
		return fmt.Errorf("handling status event for %s/%s@%s: %w", owner, repo, sha, err)
	}
	return nil
}
