package serviceorders

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/hoken/service-manager/internal/store"
	"github.com/hoken/service-manager/pkg/models"
	"github.com/sirupsen/logrus"
)

type Handler struct {
	service *Service
	repo    store.Repository
	logger  *logrus.Logger
}

func NewHandler(service *Service, repo store.Repository, logger *logrus.Logger) *Handler {
	return &Handler{
		service: service,
		repo:    repo,
		logger:  logger,
	}
}

func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.HandleFunc("/service-orders", h.CreateOrder).Methods("POST")
	router.HandleFunc("/service-orders", h.ListOrders).Methods("GET")
	router.HandleFunc("/service-orders/{id}", h.GetOrder).Methods("GET")
	router.HandleFunc("/service-orders/{id}/notes", h.UpdateNotes).Methods("PUT")
	router.HandleFunc("/service-orders/{id}/status", h.UpdateStatus).Methods("PUT")
	router.HandleFunc("/service-orders/{id}/items", h.AddItem).Methods("POST")
	router.HandleFunc("/service-orders/{id}/items.csv", h.ExportItems).Methods("GET")
	router.HandleFunc("/service-orders/{id}/items/{itemId}", h.RemoveItem).Methods("DELETE")
	router.HandleFunc("/maintenance/next", h.NextMaintenance).Methods("GET")
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req models.ServiceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WithError(err).Error("Failed to decode service order request")
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	view, err := h.service.Create(r.Context(), req)
	if err != nil {
		h.respondWithServiceError(w, err, "Failed to create service order")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, models.ServiceOrderResponse{
		Success: true,
		Message: "Service order created successfully",
		Order:   view,
	})
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := store.ListFilter{
		CustomerID: query.Get("customer_id"),
		Status:     query.Get("status"),
		Search:     query.Get("q"),
	}

	views, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondWithServiceError(w, err, "Failed to get service orders")
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"orders":  views,
		"count":   len(views),
	})
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondWithServiceError(w, err, "Failed to get service order")
		return
	}
	h.respondWithJSON(w, http.StatusOK, view)
}

func (h *Handler) UpdateNotes(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Notes string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	view, err := h.service.UpdateNotes(r.Context(), mux.Vars(r)["id"], body.Notes)
	h.respondWithOrder(w, view, err, "Notes updated")
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	view, err := h.service.UpdateStatus(r.Context(), mux.Vars(r)["id"], body.Status)
	h.respondWithOrder(w, view, err, "Status updated")
}

func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var item models.ServiceItem
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	view, err := h.service.AddItem(r.Context(), mux.Vars(r)["id"], item)
	h.respondWithOrder(w, view, err, "Item added")
}

func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	view, err := h.service.RemoveItem(r.Context(), vars["id"], vars["itemId"])
	h.respondWithOrder(w, view, err, "Item removed")
}

func (h *Handler) ExportItems(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var buf bytes.Buffer
	if err := h.service.ExportItemsCSV(r.Context(), id, &buf); err != nil {
		h.respondWithServiceError(w, err, "Failed to export items")
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="os-`+id+`-itens.csv"`)
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// NextMaintenance answers when a product of the given category, last serviced
// on the given date, is due again.
func (h *Handler) NextMaintenance(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	category := query.Get("category")
	last, err := time.Parse(time.DateOnly, query.Get("last"))
	if category == "" || err != nil {
		h.respondWithError(w, http.StatusBadRequest, "category and last (YYYY-MM-DD) are required")
		return
	}

	response := map[string]interface{}{
		"category":        category,
		"interval_months": models.MaintenanceInterval(category),
	}
	if next, ok := models.NextMaintenance(category, last); ok {
		response["next_maintenance"] = next.Format(time.DateOnly)
	}
	h.respondWithJSON(w, http.StatusOK, response)
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ping(r.Context()); err != nil {
		h.respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "unhealthy",
			"service": "service-orders",
			"error":   "database connection failed",
		})
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "service-orders",
	})
}

func (h *Handler) respondWithOrder(w http.ResponseWriter, view *models.ServiceOrderView, err error, message string) {
	if err != nil {
		h.respondWithServiceError(w, err, "Failed to update service order")
		return
	}
	h.respondWithJSON(w, http.StatusOK, models.ServiceOrderResponse{
		Success: true,
		Message: message,
		Order:   view,
	})
}

func (h *Handler) respondWithServiceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		h.respondWithError(w, http.StatusNotFound, "Service order not found")
	case errors.Is(err, ErrItemNotFound):
		h.respondWithError(w, http.StatusNotFound, "Service item not found")
	case errors.Is(err, ErrInvalidRequest):
		h.respondWithError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.WithError(err).Error(fallback)
		h.respondWithError(w, http.StatusInternalServerError, fallback)
	}
}

func (h *Handler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func (h *Handler) respondWithError(w http.ResponseWriter, code int, message string) {
	h.respondWithJSON(w, code, map[string]interface{}{
		"success": false,
		"message": message,
	})
}
