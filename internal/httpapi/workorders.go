package httpapi

import (
	"net/http"

	"github.com/khoi0903/ev-maintenance-app-sub001/internal/lifecycle"
	"github.com/khoi0903/ev-maintenance-app-sub001/internal/models"
)

type statusRequest struct {
	Status models.WorkOrderStatus `json:"status" validate:"required,oneof=in_progress on_hold completed"`
	Reason string                 `json:"reason" validate:"max=500"`
}

type diagnosisRequest struct {
	Diagnosis string `json:"diagnosis" validate:"required,max=4000"`
}

type serviceLineRequest struct {
	ServiceID string `json:"service_id" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
	UnitPrice *int64 `json:"unit_price" validate:"omitempty,gte=0"`
}

type partUsageRequest struct {
	PartID    string `json:"part_id" validate:"required,max=64"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
	UnitPrice int64  `json:"unit_price" validate:"gte=0"`
}

func (h *Handler) handleMyWorkOrders(completed bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(w, r)
		if !ok {
			return
		}
		orders, err := h.manager.MyWorkOrders(r.Context(), actor, completed)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeData(w, http.StatusOK, orders)
	}
}

func (h *Handler) handleGetWorkOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	order, err := h.manager.GetWorkOrder(r.Context(), actor, pathID(r, "id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusOK, order)
}

func (h *Handler) handleWorkOrderStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if !decode(w, r, &req) {
		return
	}
	order, err := h.manager.ChangeStatus(r.Context(), actor, pathID(r, "id"), req.Status, req.Reason)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusOK, order)
}

func (h *Handler) handleUpdateDiagnosis(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req diagnosisRequest
	if !decode(w, r, &req) {
		return
	}
	order, err := h.manager.UpdateDiagnosis(r.Context(), actor, pathID(r, "id"), req.Diagnosis)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusOK, order)
}

func (h *Handler) handleAddServiceLine(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req serviceLineRequest
	if !decode(w, r, &req) {
		return
	}
	order, err := h.manager.AddServiceLine(r.Context(), actor, pathID(r, "id"), lifecycle.ServiceLineRequest{
		ServiceID: req.ServiceID,
		Quantity:  req.Quantity,
		UnitPrice: req.UnitPrice,
	})
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusCreated, order)
}

func (h *Handler) handleAddPartUsage(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req partUsageRequest
	if !decode(w, r, &req) {
		return
	}
	order, err := h.manager.AddPartUsage(r.Context(), actor, pathID(r, "id"), lifecycle.PartUsageRequest{
		PartID:    req.PartID,
		Quantity:  req.Quantity,
		UnitPrice: req.UnitPrice,
	})
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusCreated, order)
}

func (h *Handler) handleApprovePart(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	order, err := h.manager.ApprovePartUsage(r.Context(), actor, pathID(r, "id"), pathID(r, "lineId"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, http.StatusOK, order)
}
