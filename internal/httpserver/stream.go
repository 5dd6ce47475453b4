package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/blackmichael/tweetwall/internal/domain"
	"github.com/goccy/go-json"
)

// heartbeatInterval keeps intermediaries from closing idle SSE
// connections. Heartbeats are comment lines, not events.
const heartbeatInterval = 30 * time.Second

// streamState is the per-connection snapshot the poll diff runs against.
type streamState struct {
	ids  []string
	data map[string]string // id -> serialized view, for change detection
}

// handleStream serves the polling-diff SSE transport: every poll interval
// it re-reads the registry, diffs against this connection's last
// snapshot, and synthesizes added/updated/removed/reorder events. All
// timers die with the request context; nothing polls after disconnect.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "InternalError", "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	s.metrics.StreamClients.WithLabelValues("sse").Inc()
	defer s.metrics.StreamClients.WithLabelValues("sse").Dec()

	send := func(ev domain.Event) error {
		payload, err := domain.EncodeEvent(ev)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind(), payload); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := send(domain.ConnectedEvent{Message: "Connected to tweet stream"}); err != nil {
		return
	}

	ctx := r.Context()
	state := &streamState{data: make(map[string]string)}
	if err := s.loadSnapshot(ctx, state); err != nil {
		s.logger.Error("failed to load initial stream snapshot", "error", err)
		send(domain.ErrorEvent{Message: "Failed to load feed state"})
		// Keep the connection: the next successful poll recovers by
		// diffing against the empty snapshot.
	}

	poll := time.NewTicker(s.cfg.PollInterval)
	defer poll.Stop()
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-poll.C:
			if err := s.pollOnce(ctx, state, send); err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Error("stream poll failed", "error", err)
				if send(domain.ErrorEvent{Message: "Failed to fetch updates"}) != nil {
					return
				}
			}
		}
	}
}

func (s *Server) loadSnapshot(ctx context.Context, state *streamState) error {
	ids, err := s.registry.List(ctx)
	if err != nil {
		return err
	}
	views, err := s.registry.Views(ctx, ids)
	if err != nil {
		return err
	}

	state.ids = ids
	for _, v := range views {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		state.data[v.ID] = string(data)
	}
	return nil
}

// pollOnce diffs the current registry state against the connection
// snapshot and emits the difference as events. Send errors mean the
// client went away and are returned as-is; the caller stops the stream.
func (s *Server) pollOnce(ctx context.Context, state *streamState, send func(domain.Event) error) error {
	currentIDs, err := s.registry.List(ctx)
	if err != nil {
		return err
	}

	var added, removed, kept []string
	for _, id := range currentIDs {
		if slices.Contains(state.ids, id) {
			kept = append(kept, id)
		} else {
			added = append(added, id)
		}
	}
	for _, id := range state.ids {
		if !slices.Contains(currentIDs, id) {
			removed = append(removed, id)
		}
	}

	if len(added) > 0 {
		views, err := s.registry.Views(ctx, added)
		if err != nil {
			return err
		}
		for _, v := range views {
			if err := send(domain.AddedEvent{Tweet: v}); err != nil {
				return err
			}
			data, _ := json.Marshal(v)
			state.data[v.ID] = string(data)
		}
	}

	for _, id := range removed {
		if err := send(domain.RemovedEvent{ID: id}); err != nil {
			return err
		}
		delete(state.data, id)
	}

	if len(kept) > 0 {
		views, err := s.registry.Views(ctx, kept)
		if err != nil {
			return err
		}
		for _, v := range views {
			data, err := json.Marshal(v)
			if err != nil {
				return err
			}
			if state.data[v.ID] != string(data) {
				if err := send(domain.UpdatedEvent{Tweet: v}); err != nil {
					return err
				}
				state.data[v.ID] = string(data)
			}
		}
	}

	// Pure reordering: same membership, different sequence.
	if len(added) == 0 && len(removed) == 0 && !slices.Equal(currentIDs, state.ids) {
		if err := send(domain.ReorderEvent{IDs: currentIDs}); err != nil {
			return err
		}
	}

	state.ids = currentIDs
	return nil
}
