package httpapi

import (
	"net/http"

	"github.com/khoi0903/ev-maintenance-app-sub001/internal/notify"
)

type seenRequest struct {
	Keys []string `json:"keys" validate:"required,min=1,max=200,dive,required,max=200"`
}

type feedResponse struct {
	Items  []notify.Item `json:"items"`
	Unseen int           `json:"unseen"`
}

func (h *Handler) handleNotifications(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	items, err := h.manager.Notifications(r.Context(), actor)
	if err != nil {
		writeFailure(w, err)
		return
	}
	resp := feedResponse{Items: items}
	for _, item := range items {
		if !item.Seen {
			resp.Unseen++
		}
	}
	writeData(w, http.StatusOK, resp)
}

func (h *Handler) handleMarkSeen(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req seenRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.manager.MarkNotificationsSeen(r.Context(), actor, req.Keys); err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]int{"marked": len(req.Keys)})
}

func (h *Handler) handleEntityEvents(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	trail, err := h.manager.EntityEvents(r.Context(), actor, pathID(r, "entityId"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusOK, trail)
}
