// Package handler содержит HTTP-обработчики API сервиса ордермарт.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/ordermart-system/internal/geo"
	"github.com/mmeshcher/ordermart-system/internal/model"
	"github.com/mmeshcher/ordermart-system/internal/repository"
	"github.com/mmeshcher/ordermart-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateItem(ctx context.Context, item model.Item) (*model.Item, error)
	GetItem(ctx context.Context, id int64) (*model.Item, error)
	ListItems(ctx context.Context) ([]model.Item, error)
	UpdateItem(ctx context.Context, id int64, upd repository.ItemUpdate) (*model.Item, error)
	PlaceOrder(ctx context.Context, customer repository.CustomerInput, lines []repository.LineInput) (*model.OrderDetails, error)
	GetOrder(ctx context.Context, id int64) (*model.OrderDetails, error)
	ListOrders(ctx context.Context) ([]model.OrderDetails, error)
	UpdateOrderStatus(ctx context.Context, id int64, status model.OrderStatus) (*model.OrderDetails, error)
	AssignTracking(ctx context.Context, id int64, trackingID string, point *geo.Point) (*model.OrderDetails, error)
	Revenue(ctx context.Context, period service.Period, ref time.Time) (*service.RevenueSummary, error)
	RevenueReport(ctx context.Context, period service.Period, ref time.Time) ([]byte, string, error)
	SendMonthlyTaxAlert(ctx context.Context, toEmail string, ref time.Time) (*service.RevenueSummary, string, error)
}

// Handler реализует HTTP-обработчики API сервиса ордермарт.
type Handler struct {
	service Service
	logger  *zap.Logger
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: s,
		logger:  logger,
	}
}

type itemCreateRequest struct {
	Name            string   `json:"name"`
	Description     *string  `json:"description,omitempty"`
	Price           float64  `json:"price"`
	DiscountPercent float64  `json:"discount_percent"`
	ImageURL        *string  `json:"image_url,omitempty"`
	StockQuantity   int      `json:"stock_quantity"`
	IsActive        *bool    `json:"is_active,omitempty"`
}

type itemUpdateRequest struct {
	Name            *string  `json:"name,omitempty"`
	Description     *string  `json:"description,omitempty"`
	Price           *float64 `json:"price,omitempty"`
	DiscountPercent *float64 `json:"discount_percent,omitempty"`
	ImageURL        *string  `json:"image_url,omitempty"`
	StockQuantity   *int     `json:"stock_quantity,omitempty"`
	IsActive        *bool    `json:"is_active,omitempty"`
}

type itemResponse struct {
	ID              int64   `json:"id"`
	Name            string  `json:"name"`
	Description     *string `json:"description,omitempty"`
	Price           float64 `json:"price"`
	DiscountPercent float64 `json:"discount_percent"`
	ImageURL        *string `json:"image_url,omitempty"`
	StockQuantity   int     `json:"stock_quantity"`
	IsActive        bool    `json:"is_active"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
}

func toItemResponse(it *model.Item) itemResponse {
	return itemResponse{
		ID:              it.ID,
		Name:            it.Name,
		Description:     it.Description,
		Price:           it.Price.InexactFloat64(),
		DiscountPercent: it.DiscountPercent.InexactFloat64(),
		ImageURL:        it.ImageURL,
		StockQuantity:   it.StockQuantity,
		IsActive:        it.IsActive,
		CreatedAt:       it.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       it.UpdatedAt.Format(time.RFC3339),
	}
}

// CreateItem создаёт товар каталога.
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req itemCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Name == "" || req.Price < 0 || req.StockQuantity < 0 ||
		req.DiscountPercent < 0 || req.DiscountPercent > 100 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	item, err := h.service.CreateItem(r.Context(), model.Item{
		Name:            req.Name,
		Description:     req.Description,
		Price:           decimal.NewFromFloat(req.Price),
		DiscountPercent: decimal.NewFromFloat(req.DiscountPercent),
		ImageURL:        req.ImageURL,
		StockQuantity:   req.StockQuantity,
		IsActive:        isActive,
	})
	if err != nil {
		if errors.Is(err, repository.ErrItemExists) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		h.logger.Error("create item error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, toItemResponse(item))
}

// ListItems возвращает товары каталога.
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListItems(r.Context())
	if err != nil {
		h.logger.Error("list items error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]itemResponse, 0, len(items))
	for i := range items {
		resp = append(resp, toItemResponse(&items[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetItem возвращает товар по идентификатору.
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	item, err := h.service.GetItem(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrItemNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get item error", zap.Error(err), zap.Int64("itemID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, toItemResponse(item))
}

// UpdateItem выполняет частичное обновление товара.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req itemUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if (req.Price != nil && *req.Price < 0) ||
		(req.StockQuantity != nil && *req.StockQuantity < 0) ||
		(req.DiscountPercent != nil && (*req.DiscountPercent < 0 || *req.DiscountPercent > 100)) ||
		(req.Name != nil && *req.Name == "") {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	upd := repository.ItemUpdate{
		Name:          req.Name,
		Description:   req.Description,
		ImageURL:      req.ImageURL,
		StockQuantity: req.StockQuantity,
		IsActive:      req.IsActive,
	}
	if req.Price != nil {
		p := decimal.NewFromFloat(*req.Price)
		upd.Price = &p
	}
	if req.DiscountPercent != nil {
		d := decimal.NewFromFloat(*req.DiscountPercent)
		upd.DiscountPercent = &d
	}

	item, err := h.service.UpdateItem(r.Context(), id, upd)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrItemNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, repository.ErrItemExists):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			h.logger.Error("update item error", zap.Error(err), zap.Int64("itemID", id))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, toItemResponse(item))
}

type customerPayload struct {
	Name    string  `json:"name"`
	Email   string  `json:"email"`
	Address *string `json:"address,omitempty"`
	Phone   *string `json:"phone,omitempty"`
}

type orderLineRequest struct {
	ItemID   int64 `json:"item_id"`
	Quantity int   `json:"quantity"`
}

type orderCreateRequest struct {
	Customer customerPayload    `json:"customer"`
	Items    []orderLineRequest `json:"items"`
}

type orderLineResponse struct {
	ID              int64   `json:"id"`
	ItemID          int64   `json:"item_id"`
	ItemName        string  `json:"item_name"`
	Quantity        int     `json:"quantity"`
	PriceAtPurchase float64 `json:"price_at_purchase"`
}

type orderResponse struct {
	ID                   int64               `json:"id"`
	Status               string              `json:"status"`
	TotalAmount          float64             `json:"total_amount"`
	TrackingID           *string             `json:"tracking_id,omitempty"`
	TrackingURL          *string             `json:"tracking_url,omitempty"`
	ExpectedDeliveryDate *string             `json:"expected_delivery_date,omitempty"`
	CreatedAt            string              `json:"created_at"`
	UpdatedAt            string              `json:"updated_at"`
	Customer             customerPayload     `json:"customer"`
	Items                []orderLineResponse `json:"items"`
}

func toOrderResponse(d *model.OrderDetails) orderResponse {
	resp := orderResponse{
		ID:          d.Order.ID,
		Status:      string(d.Order.Status),
		TotalAmount: d.Order.TotalAmount.InexactFloat64(),
		TrackingID:  d.Order.TrackingID,
		TrackingURL: d.Order.TrackingURL,
		CreatedAt:   d.Order.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   d.Order.UpdatedAt.Format(time.RFC3339),
		Customer: customerPayload{
			Name:    d.Customer.Name,
			Email:   d.Customer.Email,
			Address: d.Customer.Address,
			Phone:   d.Customer.Phone,
		},
		Items: make([]orderLineResponse, 0, len(d.Lines)),
	}
	if d.Order.ExpectedDeliveryDate != nil {
		v := d.Order.ExpectedDeliveryDate.Format(time.RFC3339)
		resp.ExpectedDeliveryDate = &v
	}
	for _, l := range d.Lines {
		resp.Items = append(resp.Items, orderLineResponse{
			ID:              l.ID,
			ItemID:          l.ItemID,
			ItemName:        l.ItemName,
			Quantity:        l.Quantity,
			PriceAtPurchase: l.PriceAtPurchase.InexactFloat64(),
		})
	}
	return resp
}

// PlaceOrder размещает новый заказ.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req orderCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Customer.Name == "" || req.Customer.Email == "" || len(req.Items) == 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	for _, l := range req.Items {
		if l.ItemID <= 0 || l.Quantity <= 0 {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
	}

	lines := make([]repository.LineInput, 0, len(req.Items))
	for _, l := range req.Items {
		lines = append(lines, repository.LineInput{ItemID: l.ItemID, Quantity: l.Quantity})
	}

	details, err := h.service.PlaceOrder(r.Context(), repository.CustomerInput{
		Name:    req.Customer.Name,
		Email:   req.Customer.Email,
		Address: req.Customer.Address,
		Phone:   req.Customer.Phone,
	}, lines)
	if err != nil {
		// Нарушение бизнес-правила размещения возвращается клиенту дословно.
		if errors.Is(err, repository.ErrInvalidItem) || errors.Is(err, repository.ErrInsufficientStock) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("place order error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(details))
}

// ListOrders возвращает все заказы, новые первыми.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListOrders(r.Context())
	if err != nil {
		h.logger.Error("list orders error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, toOrderResponse(&orders[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetOrder возвращает заказ по идентификатору.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	details, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get order error", zap.Error(err), zap.Int64("orderID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(details))
}

type statusUpdateRequest struct {
	Status string `json:"status"`
}

// UpdateOrderStatus переводит заказ в новый статус жизненного цикла.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req statusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	status := model.OrderStatus(req.Status)
	if !model.ValidStatus(status) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	details, err := h.service.UpdateOrderStatus(r.Context(), id, status)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrOrderNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, service.ErrInvalidTransition), errors.Is(err, repository.ErrStatusConflict):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			h.logger.Error("update order status error", zap.Error(err), zap.Int64("orderID", id))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(details))
}

type assignTrackingRequest struct {
	TrackingID string   `json:"tracking_id"`
	Lat        *float64 `json:"lat,omitempty"`
	Lng        *float64 `json:"lng,omitempty"`
}

type trackingResponse struct {
	OrderID     int64   `json:"order_id"`
	TrackingID  *string `json:"tracking_id"`
	TrackingURL *string `json:"tracking_url"`
	Status      string  `json:"status"`
}

// AssignTracking вручную назначает заказу трек-номер.
func (h *Handler) AssignTracking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req assignTrackingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if req.TrackingID == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var point *geo.Point
	if req.Lat != nil && req.Lng != nil {
		point = &geo.Point{Lat: *req.Lat, Lng: *req.Lng}
	}

	details, err := h.service.AssignTracking(r.Context(), id, req.TrackingID, point)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("assign tracking error", zap.Error(err), zap.Int64("orderID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, trackingResponse{
		OrderID:     details.Order.ID,
		TrackingID:  details.Order.TrackingID,
		TrackingURL: details.Order.TrackingURL,
		Status:      string(details.Order.Status),
	})
}

// GetTracking возвращает информацию о доставке заказа.
func (h *Handler) GetTracking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	details, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get tracking error", zap.Error(err), zap.Int64("orderID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, trackingResponse{
		OrderID:     details.Order.ID,
		TrackingID:  details.Order.TrackingID,
		TrackingURL: details.Order.TrackingURL,
		Status:      string(details.Order.Status),
	})
}

type revenueResponse struct {
	Period         string  `json:"period"`
	TotalRevenue   float64 `json:"total_revenue"`
	TaxRatePercent float64 `json:"tax_rate_percent"`
	TotalTaxDue    float64 `json:"total_tax_due"`
}

func toRevenueResponse(s *service.RevenueSummary) revenueResponse {
	return revenueResponse{
		Period:         s.Period,
		TotalRevenue:   s.Revenue.InexactFloat64(),
		TaxRatePercent: s.TaxRatePercent.InexactFloat64(),
		TotalTaxDue:    s.TaxDue.InexactFloat64(),
	}
}

// Revenue возвращает сводку выручки и налога за календарный период.
func (h *Handler) Revenue(w http.ResponseWriter, r *http.Request) {
	period := service.Period(r.URL.Query().Get("period"))
	ref := refDate(r)

	summary, err := h.service.Revenue(r.Context(), period, ref)
	if err != nil {
		if errors.Is(err, service.ErrInvalidPeriod) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("revenue error", zap.Error(err), zap.String("period", string(period)))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, toRevenueResponse(summary))
}

// RevenueReport возвращает документ отчёта о выручке.
func (h *Handler) RevenueReport(w http.ResponseWriter, r *http.Request) {
	period := service.Period(r.URL.Query().Get("period"))
	ref := refDate(r)

	doc, label, err := h.service.RevenueReport(r.Context(), period, ref)
	if err != nil {
		if errors.Is(err, service.ErrInvalidPeriod) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("revenue report error", zap.Error(err), zap.String("period", string(period)))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=revenue_%s_%s.html", period, label))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

// MonthlyTaxSummary возвращает месячную налоговую сводку.
func (h *Handler) MonthlyTaxSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Revenue(r.Context(), service.PeriodMonth, refDate(r))
	if err != nil {
		h.logger.Error("monthly tax summary error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, toRevenueResponse(summary))
}

type taxAlertResponse struct {
	Sent bool   `json:"sent"`
	To   string `json:"to"`
}

// SendMonthlyTaxAlert планирует письмо с месячной налоговой сводкой.
func (h *Handler) SendMonthlyTaxAlert(w http.ResponseWriter, r *http.Request) {
	toEmail := r.URL.Query().Get("to_email")

	_, recipient, err := h.service.SendMonthlyTaxAlert(r.Context(), toEmail, refDate(r))
	if err != nil {
		h.logger.Error("send tax alert error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, taxAlertResponse{Sent: true, To: recipient})
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// refDate собирает опорную дату из query-параметров date, month и year.
// Отсутствующие части замещаются текущей датой.
func refDate(r *http.Request) time.Time {
	q := r.URL.Query()

	if v := q.Get("date"); v != "" {
		if d, err := time.Parse("2006-01-02", v); err == nil {
			return d.UTC()
		}
	}

	now := time.Now().UTC()
	year, month := now.Year(), int(now.Month())
	if v := q.Get("year"); v != "" {
		if y, err := strconv.Atoi(v); err == nil {
			year = y
		}
	}
	if v := q.Get("month"); v != "" {
		if m, err := strconv.Atoi(v); err == nil && m >= 1 && m <= 12 {
			month = m
		}
	}

	return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
