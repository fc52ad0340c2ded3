// Package webhook exposes a small HTTP surface: a host system can inject a
// group command without going through the broker, and read back the last
// verified group state.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kalsky/shadesd/internal/eventbus"
	"github.com/kalsky/shadesd/internal/ledger"
)

// Server is an HTTP server that injects group-command events and reports
// verified group state.
type Server struct {
	addr       string
	bus        *eventbus.Bus
	ledger     *ledger.Ledger
	groups     map[string]bool
	httpServer *http.Server
}

// NewServer creates a new webhook server. groups is the set of valid group
// names; requests for unknown groups are rejected.
func NewServer(host string, port int, bus *eventbus.Bus, l *ledger.Ledger, groups []string) *Server {
	known := make(map[string]bool, len(groups))
	for _, g := range groups {
		known[g] = true
	}

	return &Server{
		addr:   fmt.Sprintf("%s:%d", host, port),
		bus:    bus,
		ledger: l,
		groups: known,
	}
}

// Run starts the webhook server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/groups/", s.handleGroups)

	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: mux,
	}

	log.Info().Str("addr", s.addr).Msg("Starting webhook server")

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Webhook server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

// commandRequest is the body of POST /groups/<name>/command.
type commandRequest struct {
	Status   string `json:"status"`
	Position *int   `json:"position,omitempty"`
}

// handleGroups routes /groups/<name>/command and /groups/<name>/state.
func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 || parts[0] != "groups" {
		http.NotFound(w, r)
		return
	}

	group := parts[1]
	if !s.groups[group] {
		http.Error(w, "unknown group", http.StatusNotFound)
		return
	}

	switch parts[2] {
	case "command":
		s.handleCommand(w, r, group)
	case "state":
		s.handleState(w, r, group)
	case "history":
		s.handleHistory(w, r, group)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request, group string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Status == "" && req.Position == nil {
		http.Error(w, "status or position required", http.StatusBadRequest)
		return
	}

	log.Info().
		Str("group", group).
		Str("status", req.Status).
		Msg("Group command injected via webhook")

	s.bus.Publish(eventbus.Event{
		Type:     eventbus.EventTypeGroupCommand,
		Group:    group,
		Status:   req.Status,
		Position: req.Position,
	})

	w.WriteHeader(http.StatusAccepted)
	w.Write([]byte(`{"accepted":true}`))
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// handleHistory serves the cycle ledger: recent entries for the group, or all
// entries of one cycle when ?cycle=<id> is given.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, group string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var entries []*ledger.Entry
	var err error

	if cycleID := r.URL.Query().Get("cycle"); cycleID != "" {
		entries, err = s.ledger.Cycle(cycleID)
	} else {
		limit := defaultHistoryLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			limit, err = strconv.Atoi(raw)
			if err != nil || limit < 1 || limit > maxHistoryLimit {
				http.Error(w, fmt.Sprintf("limit must be 1..%d", maxHistoryLimit), http.StatusBadRequest)
				return
			}
		}
		entries, err = s.ledger.Recent(group, limit)
	}
	if err != nil {
		log.Error().Err(err).Str("group", group).Msg("Failed to load cycle history")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			"cycle_id":   e.CycleID,
			"group":      e.GroupName,
			"event_type": string(e.EventType),
			"timestamp":  e.Timestamp.Format(time.RFC3339),
			"payload":    e.Payload,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request, group string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	state, err := s.ledger.LoadGroupState(group)
	if err != nil {
		log.Error().Err(err).Str("group", group).Msg("Failed to load group state")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if state == nil {
		http.Error(w, "no verified state yet", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"group":            state.GroupName,
		"status":           state.Status,
		"average_position": state.AveragePosition,
		"verdict":          state.Verdict,
		"updated_at":       state.UpdatedAt.Format(time.RFC3339),
	})
}
