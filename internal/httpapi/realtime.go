package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"go.uber.org/zap"

	"github.com/khoi0903/ev-maintenance-app-sub001/internal/realtime"
)

// realtimeHandler serves the SockJS event stream. Browsers cannot set headers
// on the SockJS transports, so the token may also arrive as ?token=.
func (h *Handler) realtimeHandler() http.Handler {
	return sockjs.NewHandler("/realtime", sockjs.DefaultOptions, func(session sockjs.Session) {
		req := session.Request()
		token := bearerToken(req.Header.Get("Authorization"))
		if token == "" {
			token = strings.TrimSpace(req.URL.Query().Get("token"))
		}
		if token == "" {
			_ = session.Close(4001, "missing token")
			return
		}
		actor, _, err := h.resolveActor(context.Background(), token)
		if err != nil {
			_ = session.Close(4002, "invalid token")
			return
		}

		client := &realtime.Client{
			ID:   uuid.NewString(),
			Send: make(chan []byte, 16),
			Subscription: realtime.Subscription{
				AccountID: actor.AccountID,
				Staff:     actor.Role.IsStaff(),
			},
		}
		h.hub.Register(client)
		defer h.hub.Unregister(client)
		h.logger.Debug("realtime session opened", zap.String("client_id", client.ID), zap.String("account_id", actor.AccountID))

		go func() {
			for msg := range client.Send {
				_ = session.Send(string(msg))
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			parsed, ok := realtime.ParseSubscribe([]byte(msg))
			if !ok {
				continue
			}
			if parsed.Action == "unsubscribe" {
				h.hub.UpdateSubscription(client, "")
				continue
			}
			h.hub.UpdateSubscription(client, parsed.EntityID)
		}
	})
}
