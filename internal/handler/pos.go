package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"tillpoint-offline-sync/internal/readpath"
	"tillpoint-offline-sync/internal/recorder"
	"tillpoint-offline-sync/pkg/apierror"
	"tillpoint-offline-sync/pkg/response"
)

// PosHandler exposes the POS data layer to the terminal UI: reads go through
// the read path selector, writes through the offline recorder.
type PosHandler struct {
	selector *readpath.Selector
	recorder *recorder.Recorder
}

// NewPosHandler creates a new POS handler.
func NewPosHandler(sel *readpath.Selector, rec *recorder.Recorder) *PosHandler {
	return &PosHandler{selector: sel, recorder: rec}
}

// listPayload wraps a collection read with its provenance so the UI can show
// a staleness indicator on degraded data.
type listPayload struct {
	Items    any    `json:"items"`
	Source   string `json:"source"`
	Degraded bool   `json:"degraded"`
}

// ListOrders handles GET /orders.
func (h *PosHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, meta, err := h.selector.Orders(r.Context())
	if err != nil {
		response.Error(w, readError(err))
		return
	}
	response.OK(w, listPayload{Items: orders, Source: meta.Source, Degraded: meta.Degraded})
}

// ListMenuItems handles GET /menu.
func (h *PosHandler) ListMenuItems(w http.ResponseWriter, r *http.Request) {
	items, meta, err := h.selector.MenuItems(r.Context())
	if err != nil {
		response.Error(w, readError(err))
		return
	}
	response.OK(w, listPayload{Items: items, Source: meta.Source, Degraded: meta.Degraded})
}

// ListTables handles GET /tables.
func (h *PosHandler) ListTables(w http.ResponseWriter, r *http.Request) {
	tables, meta, err := h.selector.Tables(r.Context())
	if err != nil {
		response.Error(w, readError(err))
		return
	}
	response.OK(w, listPayload{Items: tables, Source: meta.Source, Degraded: meta.Degraded})
}

// ListStaff handles GET /staff.
func (h *PosHandler) ListStaff(w http.ResponseWriter, r *http.Request) {
	staff, meta, err := h.selector.Staff(r.Context())
	if err != nil {
		response.Error(w, readError(err))
		return
	}
	response.OK(w, listPayload{Items: staff, Source: meta.Source, Degraded: meta.Degraded})
}

// Dashboard handles GET /dashboard/{section}.
func (h *PosHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	section := chi.URLParam(r, "section")
	if section == "" {
		section = "stats"
	}
	payload, meta, err := h.selector.DashboardStats(r.Context(), section)
	if err != nil {
		response.Error(w, readError(err))
		return
	}
	response.OK(w, listPayload{Items: json.RawMessage(payload), Source: meta.Source, Degraded: meta.Degraded})
}

// CreateOrder handles POST /orders. The order is committed locally first and
// replayed to the backend by the synchronizer.
func (h *PosHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var draft recorder.OrderDraft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		response.Error(w, apierror.BadRequest("invalid order payload"))
		return
	}

	order, err := h.recorder.CreateOrder(r.Context(), draft)
	if err != nil {
		response.Error(w, writeError(err))
		return
	}
	response.Created(w, order)
}

// UpdateOrderStatus handles PATCH /orders/{id}/status.
func (h *PosHandler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	var body struct {
		Status    string `json:"status"`
		UpdatedBy string `json:"updated_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.Error(w, apierror.BadRequest("invalid status payload"))
		return
	}
	if body.Status == "" {
		response.Error(w, apierror.ValidationError("status is required",
			apierror.FieldError{Field: "status", Message: "must not be empty"}))
		return
	}

	order, err := h.recorder.UpdateOrderStatus(r.Context(), orderID, body.Status, body.UpdatedBy)
	if err != nil {
		response.Error(w, writeError(err))
		return
	}
	if order == nil {
		// Order not cached locally; the change is queued for the backend.
		response.JSON(w, http.StatusAccepted, map[string]string{
			"order_id": orderID,
			"status":   body.Status,
			"state":    "queued",
		})
		return
	}
	response.OK(w, order)
}

// CreateReceipt handles POST /receipts.
func (h *PosHandler) CreateReceipt(w http.ResponseWriter, r *http.Request) {
	var draft recorder.ReceiptDraft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		response.Error(w, apierror.BadRequest("invalid receipt payload"))
		return
	}

	receipt, err := h.recorder.CreateReceipt(r.Context(), draft)
	if err != nil {
		response.Error(w, writeError(err))
		return
	}
	response.Created(w, receipt)
}

// CreateBillRequest handles POST /bill-requests.
func (h *PosHandler) CreateBillRequest(w http.ResponseWriter, r *http.Request) {
	var draft recorder.BillRequestDraft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		response.Error(w, apierror.BadRequest("invalid bill request payload"))
		return
	}

	bill, err := h.recorder.CreateBillRequest(r.Context(), draft)
	if err != nil {
		response.Error(w, writeError(err))
		return
	}
	response.Created(w, bill)
}

// DeleteOrder handles DELETE /orders/{id}. Online-only.
func (h *PosHandler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if err := h.recorder.DeleteOrder(r.Context(), orderID); err != nil {
		response.Error(w, writeError(err))
		return
	}
	response.NoContent(w)
}

func readError(err error) error {
	if errors.Is(err, readpath.ErrNotCached) {
		return apierror.ServiceUnavailable("offline and no cached data for this view")
	}
	return apierror.InternalError("read failed: " + err.Error())
}

func writeError(err error) error {
	switch {
	case errors.Is(err, recorder.ErrMissingOrderRef):
		return apierror.ValidationError("order reference is required",
			apierror.FieldError{Field: "order_id", Message: "must not be empty"})
	case errors.Is(err, recorder.ErrOnlineOnly):
		return apierror.ServiceUnavailable("operation requires connectivity")
	default:
		return apierror.InternalError("write failed: " + err.Error())
	}
}
