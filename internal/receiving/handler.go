package receiving

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/larder-erp/larder-erp/internal/platform/httpx"
	"github.com/larder-erp/larder-erp/internal/shared"
)

// Handler wires HTTP endpoints for the receiving workflow.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers receiving-note routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Post("/{id}/complete", h.complete)
	r.Post("/{id}/cancel", h.cancel)
}

// DetailRequest is one requested received line.
type DetailRequest struct {
	MaterialID int64   `json:"material_id" validate:"required,gt=0"`
	UnitID     int64   `json:"unit_id" validate:"required,gt=0"`
	Quantity   float64 `json:"quantity" validate:"required,gt=0"`
	UnitPrice  float64 `json:"unit_price" validate:"gte=0"`
}

// CreateNoteRequest is the creation payload. Status defaults to DRAFT.
type CreateNoteRequest struct {
	NoteNumber   string          `json:"note_number" validate:"omitempty,max=100"`
	Date         time.Time       `json:"date" validate:"required"`
	SupplierName string          `json:"supplier_name" validate:"omitempty,max=200"`
	WarehouseID  int64           `json:"warehouse_id" validate:"omitempty,gt=0"`
	Status       string          `json:"status" validate:"omitempty,oneof=DRAFT COMPLETED"`
	Details      []DetailRequest `json:"details" validate:"required,min=1,dive"`
}

type listResponse struct {
	Notes      []Summary         `json:"notes"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filters := shared.ListFilters{Search: r.URL.Query().Get("search")}
	filters.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	filters.Offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))

	notes, total, err := h.service.List(r.Context(), filters)
	if err != nil {
		h.logger.Error("list receiving notes", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	filters = filters.Normalize()
	httpx.JSON(w, http.StatusOK, listResponse{
		Notes:      notes,
		Pagination: shared.NewPagination(filters.Limit, filters.Offset, total),
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.noteID(w, r)
	if !ok {
		return
	}
	note, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, note)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateNoteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, httpx.ValidationToShared(err))
		return
	}
	input := CreateNoteInput{
		NoteNumber:   req.NoteNumber,
		Date:         req.Date,
		SupplierName: req.SupplierName,
		WarehouseID:  req.WarehouseID,
		Status:       Status(req.Status),
	}
	for _, d := range req.Details {
		input.Details = append(input.Details, DetailInput{
			MaterialID: d.MaterialID,
			UnitID:     d.UnitID,
			Quantity:   d.Quantity,
			UnitPrice:  d.UnitPrice,
		})
	}
	note, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.logger.Error("create receiving note", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, note)
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.noteID(w, r)
	if !ok {
		return
	}
	note, err := h.service.Complete(r.Context(), id, 0)
	if err != nil {
		h.logger.Error("complete receiving note", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, note)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.noteID(w, r)
	if !ok {
		return
	}
	note, err := h.service.Cancel(r.Context(), id, 0)
	if err != nil {
		h.logger.Error("cancel receiving note", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, note)
}

func (h *Handler) noteID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid note id")
		return 0, false
	}
	return id, true
}
