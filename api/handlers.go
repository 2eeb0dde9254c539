/*
handlers.go - HTTP API handlers for tenant books

PURPOSE:
  Exposes the service operations over REST. Handles HTTP request/response
  and JSON serialization; everything else is delegated to service.Service.

ENDPOINTS:
  All under /api/tenants/{tenant}:

  Registration:
    POST   /registration          Map the tenant to a document
    DELETE /registration          Deactivate the mapping (document kept)

  Inventory:
    POST   /supplies              Record incoming stock
    POST   /sales                 Record a sale (optional reminder)
    GET    /stock?name=           Stock for a product, or the whole catalogue

  Clients:
    POST   /sessions              Log a session
    POST   /clients/edits         Append to notes/anamnesis, replace contact
    GET    /clients/{name}        Lookup with history and upcoming bookings
    GET    /reminders?date=       Clients due a reminder (today by default)
    POST   /reminders/clear       Empty a client's next reminder date

  Schedule:
    POST   /bookings              Book an appointment
    POST   /bookings/cancel       Cancel an appointment
    GET    /schedule?date=        Day schedule (today by default)

  Undo:
    POST   /undo/sale             Reverse the last sale
    POST   /undo/supply           Reverse the last supply row
    POST   /undo/client-edit      Remove the last note line of a client

ERROR HANDLING:
  Errors are returned as ErrorResponse with the kind in Code:
  - 400: malformed_intent
  - 403: permission_denied (with remediation)
  - 404: not_found
  - 409: nothing_to_undo
  - 422: insufficient_stock, product_not_found
  - 503: transient_backend

SECURITY NOTE:
  No authentication middleware. The tenant key in the path is trusted; the
  service is meant to sit behind the conversational front-end.

SEE ALSO:
  - dto.go: Response data structures
  - server.go: Router setup and middleware
  - service/service.go: Operations and error classification
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/warp/voicestock/books"
	"github.com/warp/voicestock/service"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// TenantCounter is implemented by health dependencies that can report
// how many tenants are registered.
type TenantCounter interface {
	CountActiveTenants(ctx context.Context) (int, error)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *service.Service

	// ServiceAccount is the e-mail tenants must share documents with.
	ServiceAccount string

	health Pinger
	log    logrus.FieldLogger
}

// NewHandler creates a handler. health may be nil.
func NewHandler(svc *service.Service, serviceAccount string, health Pinger, log logrus.FieldLogger) *Handler {
	return &Handler{
		Service:        svc,
		ServiceAccount: serviceAccount,
		health:         health,
		log:            log,
	}
}

// =============================================================================
// REGISTRATION
// =============================================================================

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var in service.RegistrationIntent
	if !h.decode(w, r, &in) {
		return
	}
	tenant := chi.URLParam(r, "tenant")
	docKey, err := h.Service.Register(r.Context(), tenant, in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, RegistrationDTO{Tenant: tenant, Document: docKey})
}

func (h *Handler) Unregister(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Unregister(r.Context(), chi.URLParam(r, "tenant")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// INVENTORY
// =============================================================================

func (h *Handler) Supply(w http.ResponseWriter, r *http.Request) {
	var in service.SupplyIntent
	if !h.decode(w, r, &in) {
		return
	}
	levels, err := h.Service.Supply(r.Context(), chi.URLParam(r, "tenant"), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLevelDTOs(levels))
}

func (h *Handler) Sell(w http.ResponseWriter, r *http.Request) {
	var in service.SaleIntent
	if !h.decode(w, r, &in) {
		return
	}
	res, err := h.Service.Sell(r.Context(), chi.URLParam(r, "tenant"), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSaleDTO(res))
}

func (h *Handler) Stock(w http.ResponseWriter, r *http.Request) {
	products, err := h.Service.Stock(r.Context(), chi.URLParam(r, "tenant"), r.URL.Query().Get("name"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTOs(products))
}

// =============================================================================
// CLIENTS
// =============================================================================

func (h *Handler) LogSession(w http.ResponseWriter, r *http.Request) {
	var in service.SessionIntent
	if !h.decode(w, r, &in) {
		return
	}
	c, err := h.Service.LogSession(r.Context(), chi.URLParam(r, "tenant"), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toClientDTO(c))
}

func (h *Handler) EditClient(w http.ResponseWriter, r *http.Request) {
	var in service.ClientEditIntent
	if !h.decode(w, r, &in) {
		return
	}
	c, err := h.Service.EditClient(r.Context(), chi.URLParam(r, "tenant"), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toClientDTO(c))
}

func (h *Handler) GetClient(w http.ResponseWriter, r *http.Request) {
	in := service.ClientQueryIntent{Client: chi.URLParam(r, "name")}
	view, err := h.Service.QueryClient(r.Context(), chi.URLParam(r, "tenant"), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toClientViewDTO(view))
}

func (h *Handler) Reminders(w http.ResponseWriter, r *http.Request) {
	clients, err := h.Service.DueReminders(r.Context(), chi.URLParam(r, "tenant"), r.URL.Query().Get("date"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toClientDTOs(clients))
}

func (h *Handler) ClearReminder(w http.ResponseWriter, r *http.Request) {
	var in service.ClientQueryIntent
	if !h.decode(w, r, &in) {
		return
	}
	c, err := h.Service.ClearReminder(r.Context(), chi.URLParam(r, "tenant"), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toClientDTO(c))
}

// =============================================================================
// SCHEDULE
// =============================================================================

func (h *Handler) Book(w http.ResponseWriter, r *http.Request) {
	var in service.BookingIntent
	if !h.decode(w, r, &in) {
		return
	}
	b, err := h.Service.Book(r.Context(), chi.URLParam(r, "tenant"), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingDTO(b))
}

func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	var in service.CancelBookingIntent
	if !h.decode(w, r, &in) {
		return
	}
	b, err := h.Service.CancelBooking(r.Context(), chi.URLParam(r, "tenant"), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(b))
}

func (h *Handler) Schedule(w http.ResponseWriter, r *http.Request) {
	bookings, err := h.Service.DailySchedule(r.Context(), chi.URLParam(r, "tenant"), r.URL.Query().Get("date"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTOs(bookings))
}

// =============================================================================
// UNDO
// =============================================================================

func (h *Handler) UndoSale(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.UndoLastSale(r.Context(), chi.URLParam(r, "tenant"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, UndoDTO{Undone: len(res.Entries), Levels: toLevelDTOs(res.Levels)})
}

func (h *Handler) UndoSupply(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.UndoLastSupply(r.Context(), chi.URLParam(r, "tenant"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, UndoDTO{Undone: len(res.Entries), Levels: toLevelDTOs(res.Levels)})
}

func (h *Handler) UndoClientEdit(w http.ResponseWriter, r *http.Request) {
	var in service.UndoClientEditIntent
	if !h.decode(w, r, &in) {
		return
	}
	res, err := h.Service.UndoLastClientEdit(r.Context(), chi.URLParam(r, "tenant"), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ClientEditUndoDTO{
		Client:  toClientDTO(res.Client),
		Field:   string(res.Field),
		Removed: res.Removed,
	})
}

// =============================================================================
// HEALTH
// =============================================================================

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if h.health != nil {
		if err := h.health.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Error: err.Error()})
			return
		}
		if c, ok := h.health.(TenantCounter); ok {
			n, err := c.CountActiveTenants(r.Context())
			if err != nil {
				writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Error: err.Error()})
				return
			}
			resp.ActiveTenants = &n
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// decode reads the request body into dst, answering 400 on bad JSON.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.writeError(w, books.Malformed("body", err.Error()))
		return false
	}
	return true
}

// statusOf maps an error kind to its HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, books.ErrMalformedIntent):
		return http.StatusBadRequest
	case errors.Is(err, books.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, books.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, books.ErrNothingToUndo):
		return http.StatusConflict
	case errors.Is(err, books.ErrInsufficientStock), errors.Is(err, books.ErrProductNotFound):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusServiceUnavailable
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error(), Code: service.Kind(err)}

	var (
		stockErr     *books.InsufficientStockError
		productErr   *books.ProductNotFoundError
		malformedErr *books.MalformedIntentError
	)
	switch {
	case errors.As(err, &stockErr):
		resp.Details = map[string]any{
			"item":      stockErr.Item,
			"size":      stockErr.Size,
			"available": stockErr.Available,
			"requested": stockErr.Requested,
		}
	case errors.As(err, &productErr):
		resp.Details = map[string]any{"suggestions": productErr.Suggestions}
	case errors.As(err, &malformedErr):
		resp.Details = map[string]any{"fields": malformedErr.Fields}
	case errors.Is(err, books.ErrPermissionDenied):
		resp.Details = map[string]any{
			"remediation": fmt.Sprintf("Share the document with %s as an Editor, then try again.", h.ServiceAccount),
		}
	}

	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		h.log.WithError(err).Warn("request failed")
	}
	writeJSON(w, status, resp)
}
