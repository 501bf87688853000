// Package service реализует бизнес-логику сервиса ордермарт.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/ordermart-system/internal/document"
	"github.com/mmeshcher/ordermart-system/internal/geo"
	"github.com/mmeshcher/ordermart-system/internal/model"
	"github.com/mmeshcher/ordermart-system/internal/notify"
	"github.com/mmeshcher/ordermart-system/internal/repository"
	"github.com/mmeshcher/ordermart-system/internal/textgen"
)

// ErrInvalidTransition возвращается при недопустимом переходе статуса заказа.
var ErrInvalidTransition = errors.New("invalid order status transition")

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateItem(ctx context.Context, item model.Item) (int64, error)
	GetItem(ctx context.Context, id int64) (*model.Item, error)
	ListItems(ctx context.Context) ([]model.Item, error)
	UpdateItem(ctx context.Context, id int64, upd repository.ItemUpdate) (*model.Item, error)
	PlaceOrder(ctx context.Context, customer repository.CustomerInput, lines []repository.LineInput) (*repository.PlacementResult, error)
	GetOrderDetails(ctx context.Context, id int64) (*model.OrderDetails, error)
	ListOrders(ctx context.Context) ([]model.OrderDetails, error)
	UpdateOrderStatus(ctx context.Context, id int64, from, to model.OrderStatus) error
	UpdateFulfillment(ctx context.Context, id int64, trackingID *string, trackingURL *string, expectedDelivery *time.Time) error
	RevenueBetween(ctx context.Context, start, end time.Time) (decimal.Decimal, error)
}

// Notifier планирует отложенную доставку уведомления.
type Notifier interface {
	Enqueue(msg notify.Message) uuid.UUID
}

// Service содержит бизнес-логику сервиса ордермарт.
type Service struct {
	repo     Repository
	geocoder geo.Geocoder
	composer textgen.Composer
	renderer document.Renderer
	notifier Notifier
	logger   *zap.Logger

	ownerEmail string
	taxRate    decimal.Decimal
}

// NewService создаёт новый сервис с указанными репозиторием и коллабораторами.
func NewService(
	repo Repository,
	geocoder geo.Geocoder,
	composer textgen.Composer,
	renderer document.Renderer,
	notifier Notifier,
	logger *zap.Logger,
	ownerEmail string,
	taxRatePercent float64,
) *Service {
	return &Service{
		repo:       repo,
		geocoder:   geocoder,
		composer:   composer,
		renderer:   renderer,
		notifier:   notifier,
		logger:     logger,
		ownerEmail: ownerEmail,
		taxRate:    decimal.NewFromFloat(taxRatePercent),
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// CreateItem создаёт товар каталога.
func (s *Service) CreateItem(ctx context.Context, item model.Item) (*model.Item, error) {
	id, err := s.repo.CreateItem(ctx, item)
	if err != nil {
		return nil, err
	}
	return s.repo.GetItem(ctx, id)
}

// GetItem возвращает товар по идентификатору.
func (s *Service) GetItem(ctx context.Context, id int64) (*model.Item, error) {
	return s.repo.GetItem(ctx, id)
}

// ListItems возвращает товары каталога.
func (s *Service) ListItems(ctx context.Context) ([]model.Item, error) {
	return s.repo.ListItems(ctx)
}

// UpdateItem выполняет частичное обновление товара.
func (s *Service) UpdateItem(ctx context.Context, id int64, upd repository.ItemUpdate) (*model.Item, error) {
	return s.repo.UpdateItem(ctx, id, upd)
}

// PlaceOrder размещает заказ и запускает пост-коммитные деривации фулфилмента.
// Сбои дериваций и уведомлений не откатывают уже зафиксированный заказ.
func (s *Service) PlaceOrder(ctx context.Context, customer repository.CustomerInput, lines []repository.LineInput) (*model.OrderDetails, error) {
	res, err := s.repo.PlaceOrder(ctx, customer, lines)
	if err != nil {
		return nil, err
	}

	details, err := s.repo.GetOrderDetails(ctx, res.OrderID)
	if err != nil {
		return nil, fmt.Errorf("load placed order: %w", err)
	}

	s.deriveFulfillment(ctx, details)

	// Перечитываем заказ, чтобы ответ содержал производные атрибуты.
	if refreshed, err := s.repo.GetOrderDetails(ctx, res.OrderID); err == nil {
		details = refreshed
	}

	s.scheduleOrderNotifications(ctx, details, res.DepletedItems)

	return details, nil
}

// GetOrder возвращает заказ с покупателем и строками.
func (s *Service) GetOrder(ctx context.Context, id int64) (*model.OrderDetails, error) {
	return s.repo.GetOrderDetails(ctx, id)
}

// ListOrders возвращает все заказы.
func (s *Service) ListOrders(ctx context.Context) ([]model.OrderDetails, error) {
	return s.repo.ListOrders(ctx)
}

// UpdateOrderStatus переводит заказ в новый статус по таблице допустимых
// переходов и планирует уведомления о переходе.
func (s *Service) UpdateOrderStatus(ctx context.Context, id int64, status model.OrderStatus) (*model.OrderDetails, error) {
	details, err := s.repo.GetOrderDetails(ctx, id)
	if err != nil {
		return nil, err
	}

	if !model.CanTransition(details.Order.Status, status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, details.Order.Status, status)
	}

	if err := s.repo.UpdateOrderStatus(ctx, id, details.Order.Status, status); err != nil {
		return nil, err
	}

	details.Order.Status = status
	if refreshed, err := s.repo.GetOrderDetails(ctx, id); err == nil {
		details = refreshed
	}

	s.scheduleOrderNotifications(ctx, details, nil)

	return details, nil
}

// AssignTracking вручную назначает заказу трек-номер и, при наличии
// координат, ссылку на карту.
func (s *Service) AssignTracking(ctx context.Context, id int64, trackingID string, point *geo.Point) (*model.OrderDetails, error) {
	var trackingURL *string
	if point != nil {
		u := geo.MapURL(*point)
		trackingURL = &u
	}

	if err := s.repo.UpdateFulfillment(ctx, id, &trackingID, trackingURL, nil); err != nil {
		return nil, err
	}

	return s.repo.GetOrderDetails(ctx, id)
}
