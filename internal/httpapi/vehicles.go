package httpapi

import (
	"net/http"
	"time"

	"github.com/khoi0903/ev-maintenance-app-sub001/internal/lifecycle"
)

type vehicleRequest struct {
	AccountID     string   `json:"account_id" validate:"omitempty,uuid"`
	VIN           string   `json:"vin" validate:"required,max=17"`
	LicensePlate  string   `json:"license_plate" validate:"max=20"`
	Model         string   `json:"model" validate:"required,max=100"`
	Year          int      `json:"year" validate:"omitempty,gte=1990"`
	Color         string   `json:"color" validate:"max=30"`
	Mileage       int64    `json:"mileage" validate:"gte=0"`
	BatteryHealth *float64 `json:"battery_health" validate:"omitempty,gte=0,lte=100"`
}

type vehicleUpdateRequest struct {
	LicensePlate  *string  `json:"license_plate" validate:"omitempty,max=20"`
	Color         *string  `json:"color" validate:"omitempty,max=30"`
	Mileage       *int64   `json:"mileage" validate:"omitempty,gte=0"`
	BatteryHealth *float64 `json:"battery_health" validate:"omitempty,gte=0,lte=100"`
}

type serviceRequest struct {
	Name         string `json:"name" validate:"required,max=100"`
	StandardCost int64  `json:"standard_cost" validate:"gte=0"`
	Description  string `json:"description" validate:"max=1000"`
	Category     string `json:"category" validate:"max=50"`
}

type serviceActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

type slotRequest struct {
	StartsAt time.Time `json:"starts_at" validate:"required"`
	EndsAt   time.Time `json:"ends_at" validate:"required"`
	Capacity int       `json:"capacity" validate:"required,gt=0"`
}

func (h *Handler) handleListVehicles(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	vehicles, err := h.manager.ListVehicles(r.Context(), actor, r.URL.Query().Get("account_id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusOK, vehicles)
}

func (h *Handler) handleRegisterVehicle(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req vehicleRequest
	if !decode(w, r, &req) {
		return
	}
	vehicle, err := h.manager.RegisterVehicle(r.Context(), actor, lifecycle.VehicleRequest{
		AccountID:     req.AccountID,
		VIN:           req.VIN,
		LicensePlate:  req.LicensePlate,
		Model:         req.Model,
		Year:          req.Year,
		Color:         req.Color,
		Mileage:       req.Mileage,
		BatteryHealth: req.BatteryHealth,
	})
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusCreated, vehicle)
}

func (h *Handler) handleGetVehicle(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	vehicle, err := h.manager.GetVehicle(r.Context(), actor, pathID(r, "id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusOK, vehicle)
}

func (h *Handler) handleUpdateVehicle(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req vehicleUpdateRequest
	if !decode(w, r, &req) {
		return
	}
	vehicle, err := h.manager.UpdateVehicle(r.Context(), actor, pathID(r, "id"), lifecycle.VehicleUpdate{
		LicensePlate:  req.LicensePlate,
		Color:         req.Color,
		Mileage:       req.Mileage,
		BatteryHealth: req.BatteryHealth,
	})
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusOK, vehicle)
}

func (h *Handler) handleDeleteVehicle(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if err := h.manager.DeleteVehicle(r.Context(), actor, pathID(r, "id")); err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (h *Handler) handleListServices(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	services, err := h.manager.ListServices(r.Context(), actor, queryBool(r, "include_inactive"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusOK, services)
}

func (h *Handler) handleCreateService(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req serviceRequest
	if !decode(w, r, &req) {
		return
	}
	service, err := h.manager.CreateService(r.Context(), actor, lifecycle.ServiceRequest{
		Name:         req.Name,
		StandardCost: req.StandardCost,
		Description:  req.Description,
		Category:     req.Category,
	})
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusCreated, service)
}

func (h *Handler) handleSetServiceActive(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req serviceActiveRequest
	if !decode(w, r, &req) {
		return
	}
	service, err := h.manager.SetServiceActive(r.Context(), actor, pathID(r, "id"), *req.Active)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusOK, service)
}

func (h *Handler) handleListSlots(w http.ResponseWriter, r *http.Request) {
	from, err := queryTime(r, "from")
	if err != nil {
		writeFailure(w, err)
		return
	}
	to, err := queryTime(r, "to")
	if err != nil {
		writeFailure(w, err)
		return
	}
	slots, err := h.manager.ListSlots(r.Context(), from, to)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusOK, slots)
}

func (h *Handler) handleCreateSlot(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req slotRequest
	if !decode(w, r, &req) {
		return
	}
	slot, err := h.manager.CreateSlot(r.Context(), actor, lifecycle.SlotRequest{
		StartsAt: req.StartsAt,
		EndsAt:   req.EndsAt,
		Capacity: req.Capacity,
	})
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusCreated, slot)
}
