package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dercio258/ratixpay/internal/common/api"
	"github.com/dercio258/ratixpay/internal/sale"
)

// Handler serves the sales management and dashboard read side.
type Handler struct {
	store  sale.Store
	logger *slog.Logger
}

// NewHandler creates a new sales handler
func NewHandler(store sale.Store, logger *slog.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// Routes returns the sales routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.Get("/stats", h.Stats)
	r.Get("/{id}", h.Get)

	return r
}

// DashboardRoutes returns the dashboard aggregate routes
func (h *Handler) DashboardRoutes() chi.Router {
	r := chi.NewRouter()

	r.Get("/summary", h.Summary)
	r.Get("/sales-by-day", h.SalesByDay)
	r.Get("/methods", h.Methods)

	return r
}

// List handles GET /sales
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	p := api.GetPaginationParams(r, 50, 200)

	f := sale.Filter{
		Status:        sale.OrderStatus(r.URL.Query().Get("status")),
		PaymentStatus: sale.PaymentStatus(r.URL.Query().Get("payment_status")),
		Method:        sale.PaymentMethod(r.URL.Query().Get("method")),
		ProductID:     r.URL.Query().Get("product_id"),
		BuyerEmail:    r.URL.Query().Get("email"),
		Limit:         p.Limit,
		Offset:        p.Offset,
	}

	var err error
	if f.From, err = parseDay(r.URL.Query().Get("from"), false); err != nil {
		api.BadRequest(w, "invalid from date, want YYYY-MM-DD")
		return
	}
	if f.To, err = parseDay(r.URL.Query().Get("to"), true); err != nil {
		api.BadRequest(w, "invalid to date, want YYYY-MM-DD")
		return
	}

	sales, err := h.store.List(r.Context(), f)
	if err != nil {
		h.logger.Error("list sales failed", "error", err)
		api.InternalError(w, "failed to list sales")
		return
	}
	total, err := h.store.Count(r.Context(), f)
	if err != nil {
		h.logger.Error("count sales failed", "error", err)
		api.InternalError(w, "failed to list sales")
		return
	}

	api.WritePaginated(w, sales, &api.Pagination{
		Limit:   p.Limit,
		Offset:  p.Offset,
		Total:   total,
		HasMore: int64(p.Offset+len(sales)) < total,
	})
}

// Get handles GET /sales/{id}. The id may be either the sale id or the
// gateway transaction id; operators paste whichever they have at hand.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sl, err := h.store.GetByID(r.Context(), id)
	if errors.Is(err, sale.ErrNotFound) {
		sl, err = h.store.GetByTransactionID(r.Context(), id)
	}
	if err != nil {
		if errors.Is(err, sale.ErrNotFound) {
			api.NotFound(w, "sale not found")
			return
		}
		h.logger.Error("get sale failed", "id", id, "error", err)
		api.InternalError(w, "failed to load sale")
		return
	}

	api.WriteData(w, http.StatusOK, sl)
}

// Stats handles GET /sales/stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		h.logger.Error("sales stats failed", "error", err)
		api.InternalError(w, "failed to compute stats")
		return
	}
	api.WriteData(w, http.StatusOK, stats)
}

// summaryView is the dashboard home payload.
type summaryView struct {
	*sale.Stats
	RevenueFormatted string              `json:"revenue_formatted"`
	TopProducts      []sale.ProductSales `json:"top_products"`
}

// Summary handles GET /dashboard/summary
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		h.logger.Error("dashboard summary failed", "error", err)
		api.InternalError(w, "failed to compute summary")
		return
	}
	products, err := h.store.ProductsSold(r.Context())
	if err != nil {
		h.logger.Error("dashboard products failed", "error", err)
		api.InternalError(w, "failed to compute summary")
		return
	}

	api.WriteData(w, http.StatusOK, summaryView{
		Stats:            stats,
		RevenueFormatted: stats.Revenue.Format(),
		TopProducts:      products,
	})
}

// SalesByDay handles GET /dashboard/sales-by-day?days=30
func (h *Handler) SalesByDay(w http.ResponseWriter, r *http.Request) {
	days := 30
	if d := r.URL.Query().Get("days"); d != "" {
		n, err := strconv.Atoi(d)
		if err != nil || n < 1 || n > 365 {
			api.BadRequest(w, "days must be between 1 and 365")
			return
		}
		days = n
	}

	rows, err := h.store.RevenueByDay(r.Context(), days)
	if err != nil {
		h.logger.Error("sales-by-day failed", "error", err)
		api.InternalError(w, "failed to compute daily revenue")
		return
	}
	api.WriteData(w, http.StatusOK, rows)
}

// Methods handles GET /dashboard/methods
func (h *Handler) Methods(w http.ResponseWriter, r *http.Request) {
	rows, err := h.store.MethodBreakdown(r.Context())
	if err != nil {
		h.logger.Error("method breakdown failed", "error", err)
		api.InternalError(w, "failed to compute method breakdown")
		return
	}
	api.WriteData(w, http.StatusOK, rows)
}

// parseDay parses a YYYY-MM-DD query value. An end-of-range day covers the
// whole day, not just its first instant.
func parseDay(v string, endOfDay bool) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}
