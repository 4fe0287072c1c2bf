/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"github.com/friendsincode/vakt/internal/events"
	"github.com/friendsincode/vakt/internal/telemetry"
)

// streamableEvents lists the event types clients may subscribe to. Audit
// events never leave the process through this endpoint.
var streamableEvents = map[events.EventType]struct{}{
	events.EventInstanceCreated: {},
	events.EventInstanceDeleted: {},
	events.EventRunQueued:       {},
	events.EventRunStarted:      {},
	events.EventRunCompleted:    {},
	events.EventRunFailed:       {},
}

// handleEvents upgrades to a websocket and streams bus events as they
// happen. Clients pick event types with ?types=run.completed,run.failed.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Auth already ran in the middleware; origins are not restricted
		// because API consumers are not browsers on a fixed host.
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Debug().Err(err).Msg("websocket accept failed")
		return
	}
	defer ws.Close(websocket.StatusNormalClosure, "")

	telemetry.APIWebSocketConnections.Inc()
	defer telemetry.APIWebSocketConnections.Dec()

	types := parseEventTypes(r.URL.Query().Get("types"))
	subs := make(map[events.EventType]events.Subscriber, len(types))
	for _, t := range types {
		subs[t] = a.bus.Subscribe(t)
	}
	defer func() {
		for t, sub := range subs {
			a.bus.Unsubscribe(t, sub)
		}
	}()

	a.logger.Debug().Int("types", len(types)).Msg("event stream opened")

	ctx := r.Context()
	pingTicker := time.NewTicker(15 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := ws.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		default:
		}

		// Drain whatever is pending on any subscription, then back off
		// briefly. The subscriber set is dynamic, so a reflect-based
		// select would buy nothing over this poll.
		wrote := false
		for eventType, sub := range subs {
			select {
			case payload, open := <-sub:
				if !open {
					return
				}
				if err := writeEvent(ctx, ws, eventType, payload); err != nil {
					return
				}
				wrote = true
			default:
			}
		}
		if !wrote {
			time.Sleep(100 * time.Millisecond)
		}
	}
}

// parseEventTypes filters the requested types down to streamable ones.
// An empty or fully invalid list falls back to run completion events.
func parseEventTypes(raw string) []events.EventType {
	var types []events.EventType
	for _, part := range strings.Split(raw, ",") {
		t := events.EventType(strings.TrimSpace(part))
		if _, ok := streamableEvents[t]; ok {
			types = append(types, t)
		}
	}
	if len(types) == 0 {
		types = []events.EventType{events.EventRunCompleted, events.EventRunFailed}
	}
	return types
}

func writeEvent(ctx context.Context, ws *websocket.Conn, eventType events.EventType, payload events.Payload) error {
	msg, err := json.Marshal(map[string]any{
		"type":    eventType,
		"payload": payload,
	})
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return ws.Write(writeCtx, websocket.MessageText, msg)
}
