package service

import (
	"context"
	"errors"
	"sync"
	"testing"
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

type stubRepo struct {
	details       *model.OrderDetails
	detailsErr    error
	placement     *repository.PlacementResult
	placementErr  error
	statusErr     error
	revenue       decimal.Decimal
	revenueErr    error

	updatedStatusFrom model.OrderStatus
	updatedStatusTo   model.OrderStatus

	trackingID       *string
	trackingURL      *string
	expectedDelivery *time.Time
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) CreateItem(ctx context.Context, item model.Item) (int64, error) {
	return 1, nil
}

func (s *stubRepo) GetItem(ctx context.Context, id int64) (*model.Item, error) {
	return nil, repository.ErrItemNotFound
}

func (s *stubRepo) ListItems(ctx context.Context) ([]model.Item, error) {
	return nil, nil
}

func (s *stubRepo) UpdateItem(ctx context.Context, id int64, upd repository.ItemUpdate) (*model.Item, error) {
	return nil, repository.ErrItemNotFound
}

func (s *stubRepo) PlaceOrder(ctx context.Context, customer repository.CustomerInput, lines []repository.LineInput) (*repository.PlacementResult, error) {
	return s.placement, s.placementErr
}

func (s *stubRepo) GetOrderDetails(ctx context.Context, id int64) (*model.OrderDetails, error) {
	if s.detailsErr != nil {
		return nil, s.detailsErr
	}
	copied := *s.details
	return &copied, nil
}

func (s *stubRepo) ListOrders(ctx context.Context) ([]model.OrderDetails, error) {
	return nil, nil
}

func (s *stubRepo) UpdateOrderStatus(ctx context.Context, id int64, from, to model.OrderStatus) error {
	if s.statusErr != nil {
		return s.statusErr
	}
	s.updatedStatusFrom = from
	s.updatedStatusTo = to
	s.details.Order.Status = to
	return nil
}

func (s *stubRepo) UpdateFulfillment(ctx context.Context, id int64, trackingID *string, trackingURL *string, expectedDelivery *time.Time) error {
	if trackingID != nil {
		s.trackingID = trackingID
		s.details.Order.TrackingID = trackingID
	}
	if trackingURL != nil {
		s.trackingURL = trackingURL
		s.details.Order.TrackingURL = trackingURL
	}
	if expectedDelivery != nil {
		s.expectedDelivery = expectedDelivery
		s.details.Order.ExpectedDeliveryDate = expectedDelivery
	}
	return nil
}

func (s *stubRepo) RevenueBetween(ctx context.Context, start, end time.Time) (decimal.Decimal, error) {
	return s.revenue, s.revenueErr
}

type stubNotifier struct {
	mu       sync.Mutex
	messages []notify.Message
}

func (n *stubNotifier) Enqueue(msg notify.Message) uuid.UUID {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return uuid.New()
}

func (n *stubNotifier) sent() []notify.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notify.Message, len(n.messages))
	copy(out, n.messages)
	return out
}

func ptrString(v string) *string { return &v }

func testDetails(status model.OrderStatus) *model.OrderDetails {
	return &model.OrderDetails{
		Order: model.Order{
			ID:          42,
			CustomerID:  1,
			Status:      status,
			TotalAmount: decimal.RequireFromString("189.98"),
			CreatedAt:   time.Date(2024, time.March, 15, 10, 0, 0, 0, time.UTC),
		},
		Customer: model.Customer{
			ID:      1,
			Name:    "Asha Verma",
			Email:   "asha@example.com",
			Address: ptrString("12 Station Road, Jaipur"),
		},
		Lines: []model.OrderLine{
			{ID: 1, OrderID: 42, ItemID: 5, ItemName: "Widget", Quantity: 2, PriceAtPurchase: decimal.RequireFromString("90")},
			{ID: 2, OrderID: 42, ItemID: 6, ItemName: "Gadget", Quantity: 1, PriceAtPurchase: decimal.RequireFromString("9.98")},
		},
	}
}

func newTestService(repo *stubRepo, notifier *stubNotifier) *Service {
	renderer, err := document.NewHTMLRenderer()
	if err != nil {
		panic(err)
	}
	return NewService(
		repo,
		geo.NewStaticResolver(),
		textgen.NewFallback(),
		renderer,
		notifier,
		zap.NewNop(),
		"owner@example.com",
		30.0,
	)
}

func TestPlaceOrder_DerivesFulfillment(t *testing.T) {
	repo := &stubRepo{
		details:   testDetails(model.OrderStatusPlaced),
		placement: &repository.PlacementResult{OrderID: 42},
	}
	notifier := &stubNotifier{}
	svc := newTestService(repo, notifier)

	details, err := svc.PlaceOrder(context.Background(), repository.CustomerInput{
		Name:  "Asha Verma",
		Email: "asha@example.com",
	}, []repository.LineInput{{ItemID: 5, Quantity: 2}})
	if err != nil {
		t.Fatalf("PlaceOrder error: %v", err)
	}

	if repo.trackingID == nil || *repo.trackingID != "42" {
		t.Fatalf("trackingID = %v, want 42", repo.trackingID)
	}
	if repo.trackingURL == nil {
		t.Fatal("trackingURL not derived")
	}
	if repo.expectedDelivery == nil {
		t.Fatal("expectedDelivery not derived")
	}

	days := int(repo.expectedDelivery.Sub(repo.details.Order.CreatedAt).Hours() / 24)
	if days < 2 || days > 5 {
		t.Fatalf("delivery offset = %d days, want within [2, 5]", days)
	}

	if details.Order.TrackingID == nil {
		t.Fatal("response missing derived tracking id")
	}
}

func TestPlaceOrder_SchedulesNotifications(t *testing.T) {
	repo := &stubRepo{
		details:   testDetails(model.OrderStatusPlaced),
		placement: &repository.PlacementResult{OrderID: 42, DepletedItems: []string{"Widget"}},
	}
	notifier := &stubNotifier{}
	svc := newTestService(repo, notifier)

	_, err := svc.PlaceOrder(context.Background(), repository.CustomerInput{
		Name:  "Asha Verma",
		Email: "asha@example.com",
	}, []repository.LineInput{{ItemID: 5, Quantity: 2}})
	if err != nil {
		t.Fatalf("PlaceOrder error: %v", err)
	}

	// покупателю подтверждение, владельцу новый заказ, владельцу out-of-stock
	msgs := notifier.sent()
	if len(msgs) != 3 {
		t.Fatalf("scheduled %d notifications, want 3", len(msgs))
	}

	if msgs[0].To != "asha@example.com" {
		t.Fatalf("first message to %s, want customer", msgs[0].To)
	}
	if len(msgs[0].Attachment) == 0 {
		t.Fatal("customer message missing e-bill attachment")
	}
	if msgs[0].Filename != "Order_42_E-Bill.html" {
		t.Fatalf("attachment filename = %s", msgs[0].Filename)
	}

	if msgs[1].To != "owner@example.com" || msgs[1].Subject != "New Order #42 placed" {
		t.Fatalf("unexpected owner message: %+v", msgs[1])
	}
	if msgs[2].Subject != "Out of Stock: Widget" {
		t.Fatalf("unexpected depletion alert: %+v", msgs[2])
	}
}

func TestPlaceOrder_PropagatesInsufficientStock(t *testing.T) {
	repo := &stubRepo{
		placementErr: repository.ErrInsufficientStock,
	}
	notifier := &stubNotifier{}
	svc := newTestService(repo, notifier)

	_, err := svc.PlaceOrder(context.Background(), repository.CustomerInput{Email: "x@example.com"}, nil)
	if !errors.Is(err, repository.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if len(notifier.sent()) != 0 {
		t.Fatal("failed placement must not schedule notifications")
	}
}

func TestUpdateOrderStatus_ValidTransition(t *testing.T) {
	repo := &stubRepo{details: testDetails(model.OrderStatusPlaced)}
	notifier := &stubNotifier{}
	svc := newTestService(repo, notifier)

	details, err := svc.UpdateOrderStatus(context.Background(), 42, model.OrderStatusDispatched)
	if err != nil {
		t.Fatalf("UpdateOrderStatus error: %v", err)
	}
	if details.Order.Status != model.OrderStatusDispatched {
		t.Fatalf("status = %s, want dispatched", details.Order.Status)
	}
	if repo.updatedStatusFrom != model.OrderStatusPlaced || repo.updatedStatusTo != model.OrderStatusDispatched {
		t.Fatalf("repo transition %s -> %s", repo.updatedStatusFrom, repo.updatedStatusTo)
	}

	msgs := notifier.sent()
	if len(msgs) != 1 {
		t.Fatalf("scheduled %d notifications, want 1", len(msgs))
	}
	if msgs[0].To != "asha@example.com" {
		t.Fatalf("message to %s, want customer", msgs[0].To)
	}
}

func TestUpdateOrderStatus_InvalidTransition(t *testing.T) {
	repo := &stubRepo{details: testDetails(model.OrderStatusDelivered)}
	notifier := &stubNotifier{}
	svc := newTestService(repo, notifier)

	_, err := svc.UpdateOrderStatus(context.Background(), 42, model.OrderStatusCancelled)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if len(notifier.sent()) != 0 {
		t.Fatal("rejected transition must not schedule notifications")
	}
}

func TestUpdateOrderStatus_CancellationNotifiesOwner(t *testing.T) {
	repo := &stubRepo{details: testDetails(model.OrderStatusProcessing)}
	notifier := &stubNotifier{}
	svc := newTestService(repo, notifier)

	_, err := svc.UpdateOrderStatus(context.Background(), 42, model.OrderStatusCancelled)
	if err != nil {
		t.Fatalf("UpdateOrderStatus error: %v", err)
	}

	msgs := notifier.sent()
	if len(msgs) != 2 {
		t.Fatalf("scheduled %d notifications, want 2", len(msgs))
	}
	if msgs[0].To != "asha@example.com" {
		t.Fatalf("first message to %s, want customer", msgs[0].To)
	}
	if msgs[1].To != "owner@example.com" || msgs[1].Subject != "Order #42 Cancelled" {
		t.Fatalf("unexpected owner message: %+v", msgs[1])
	}
}

func TestAssignTracking(t *testing.T) {
	repo := &stubRepo{details: testDetails(model.OrderStatusDispatched)}
	notifier := &stubNotifier{}
	svc := newTestService(repo, notifier)

	details, err := svc.AssignTracking(context.Background(), 42, "TRACK-99", &geo.Point{Lat: 26.9124, Lng: 75.7873})
	if err != nil {
		t.Fatalf("AssignTracking error: %v", err)
	}

	if repo.trackingID == nil || *repo.trackingID != "TRACK-99" {
		t.Fatalf("trackingID = %v, want TRACK-99", repo.trackingID)
	}
	if repo.trackingURL == nil {
		t.Fatal("trackingURL not saved")
	}
	if details.Order.TrackingID == nil || *details.Order.TrackingID != "TRACK-99" {
		t.Fatalf("response tracking = %v", details.Order.TrackingID)
	}
}

func TestStartTaxAlerts_BlocksUntilCancel(t *testing.T) {
	repo := &stubRepo{details: testDetails(model.OrderStatusPlaced)}
	svc := newTestService(repo, &stubNotifier{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		svc.StartTaxAlerts(ctx)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("StartTaxAlerts returned before context cancellation")
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("StartTaxAlerts did not stop after cancel")
	}
}

func TestStartTaxAlerts_NoOwnerEmail(t *testing.T) {
	svc := &Service{}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		svc.StartTaxAlerts(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("StartTaxAlerts did not return without owner email")
	}
}
