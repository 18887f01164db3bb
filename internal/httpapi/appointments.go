package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/khoi0903/ev-maintenance-app-sub001/internal/lifecycle"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/models"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/store"
)

type appointmentRequest struct {
	AccountID   string    `json:"account_id" validate:"omitempty,uuid"`
	VehicleID   string    `json:"vehicle_id" validate:"required,uuid"`
	ServiceID   string    `json:"service_id" validate:"required,uuid"`
	SlotID      string    `json:"slot_id" validate:"omitempty,uuid"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Notes       string    `json:"notes" validate:"max=1000"`
}

type confirmRequest struct {
	TechnicianID string `json:"technician_id" validate:"required,uuid"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type confirmResponse struct {
	Appointment models.Appointment `json:"appointment"`
	WorkOrder   models.WorkOrder   `json:"work_order"`
}

func (h *Handler) handleListAppointments(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	filter := store.AppointmentFilter{AccountID: strings.TrimSpace(r.URL.Query().Get("account_id"))}
	for _, raw := range strings.Split(r.URL.Query().Get("status"), ",") {
		if raw = strings.TrimSpace(raw); raw != "" {
			filter.Statuses = append(filter.Statuses, models.AppointmentStatus(raw))
		}
	}
	appointments, err := h.manager.ListAppointments(r.Context(), actor, filter)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusOK, appointments)
}

func (h *Handler) handleCreateAppointment(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req appointmentRequest
	if !decode(w, r, &req) {
		return
	}
	appt, err := h.manager.CreateAppointment(r.Context(), actor, lifecycle.AppointmentRequest{
		AccountID:   req.AccountID,
		VehicleID:   req.VehicleID,
		ServiceID:   req.ServiceID,
		SlotID:      req.SlotID,
		ScheduledAt: req.ScheduledAt,
		Notes:       req.Notes,
	})
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusCreated, appt)
}

func (h *Handler) handleGetAppointment(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	appt, err := h.manager.GetAppointment(r.Context(), actor, pathID(r, "id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusOK, appt)
}

func (h *Handler) handleConfirmAppointment(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req confirmRequest
	if !decode(w, r, &req) {
		return
	}
	appt, order, err := h.manager.ConfirmWithTechnician(r.Context(), actor, pathID(r, "id"), req.TechnicianID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusOK, confirmResponse{Appointment: appt, WorkOrder: order})
}

func (h *Handler) handleCancelAppointment(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	appt, err := h.manager.Cancel(r.Context(), actor, pathID(r, "id"), req.Reason)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusOK, appt)
}
