package recipes

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/larder-erp/larder-erp/internal/platform/httpx"
	"github.com/larder-erp/larder-erp/internal/shared"
)

// Handler wires HTTP endpoints for recipe management.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers recipe routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Post("/cost-preview", h.previewCost)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.update)
	r.Delete("/{id}", h.delete)
}

// DetailRequest is one requested recipe line.
type DetailRequest struct {
	ID         int64   `json:"id" validate:"omitempty,gt=0"`
	MaterialID int64   `json:"material_id" validate:"required,gt=0"`
	UnitID     int64   `json:"unit_id" validate:"required,gt=0"`
	Quantity   float64 `json:"quantity" validate:"required,gt=0"`
}

// SaveRecipeRequest is the create/update/preview payload.
type SaveRecipeRequest struct {
	Name            string          `json:"name" validate:"required,max=200"`
	Description     string          `json:"description" validate:"omitempty,max=1000"`
	OutputUnitID    int64           `json:"output_unit_id" validate:"required,gt=0"`
	PreparationTime int             `json:"preparation_time" validate:"gte=0"`
	Details         []DetailRequest `json:"details" validate:"required,min=1,dive"`
}

type listResponse struct {
	Recipes    []Summary         `json:"recipes"`
	Pagination shared.Pagination `json:"pagination"`
}

type recipeResponse struct {
	Recipe
	Cost CostBreakdown `json:"cost"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filters := shared.ListFilters{Search: r.URL.Query().Get("search")}
	filters.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	filters.Offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))

	recipes, total, err := h.service.List(r.Context(), filters)
	if err != nil {
		h.logger.Error("list recipes", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	filters = filters.Normalize()
	httpx.JSON(w, http.StatusOK, listResponse{
		Recipes:    recipes,
		Pagination: shared.NewPagination(filters.Limit, filters.Offset, total),
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid recipe id")
		return
	}
	recipe, cost, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, recipeResponse{Recipe: recipe, Cost: cost})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	input, ok := h.decodeSave(w, r)
	if !ok {
		return
	}
	recipe, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.logger.Error("create recipe", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, recipe)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid recipe id")
		return
	}
	input, ok := h.decodeSave(w, r)
	if !ok {
		return
	}
	recipe, err := h.service.Update(r.Context(), id, input)
	if err != nil {
		h.logger.Error("update recipe", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, recipe)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid recipe id")
		return
	}
	if err := h.service.Delete(r.Context(), id, 0); err != nil {
		h.logger.Error("delete recipe", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) previewCost(w http.ResponseWriter, r *http.Request) {
	input, ok := h.decodeSave(w, r)
	if !ok {
		return
	}
	cost, err := h.service.PreviewCost(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, cost)
}

func (h *Handler) decodeSave(w http.ResponseWriter, r *http.Request) (SaveRecipeInput, bool) {
	var req SaveRecipeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return SaveRecipeInput{}, false
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, httpx.ValidationToShared(err))
		return SaveRecipeInput{}, false
	}
	input := SaveRecipeInput{
		Name:            req.Name,
		Description:     req.Description,
		OutputUnitID:    req.OutputUnitID,
		PreparationTime: req.PreparationTime,
	}
	for _, d := range req.Details {
		input.Details = append(input.Details, DetailInput{ID: d.ID, MaterialID: d.MaterialID, UnitID: d.UnitID, Quantity: d.Quantity})
	}
	return input, true
}
