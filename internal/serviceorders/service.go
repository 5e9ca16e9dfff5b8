package serviceorders

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/google/uuid"
	"github.com/hoken/service-manager/internal/events"
	"github.com/hoken/service-manager/internal/serviceitems"
	"github.com/hoken/service-manager/internal/store"
	"github.com/hoken/service-manager/pkg/models"
	"github.com/sirupsen/logrus"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrItemNotFound   = errors.New("service item not found")
)

type Broadcaster interface {
	Broadcast(messageType string, data interface{}, source string)
}

// Service owns every read-modify-write of a service order description.
// HTTP handlers and tools go through it so the embedded items format never
// leaks out of the serviceitems package.
type Service struct {
	repo      store.Repository
	codec     *serviceitems.Codec
	publisher events.Publisher
	hub       Broadcaster
	logger    *logrus.Logger
	now       func() time.Time
}

func NewService(repo store.Repository, publisher events.Publisher, logger *logrus.Logger) *Service {
	return &Service{
		repo:      repo,
		codec:     serviceitems.NewCodec(logger),
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *Service) SetBroadcaster(hub Broadcaster) {
	s.hub = hub
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

func (s *Service) View(order *models.ServiceOrder) *models.ServiceOrderView {
	decoded := s.codec.Decode(order.ID, order.Description)
	return &models.ServiceOrderView{
		ServiceOrder: *order,
		Notes:        decoded.Notes,
		Items:        decoded.Items,
		ItemsTotal:   models.ItemsTotal(decoded.Items),
	}
}

func (s *Service) Create(ctx context.Context, req models.ServiceOrderRequest) (*models.ServiceOrderView, error) {
	if req.CustomerID == "" {
		return nil, invalid("customer_id is required")
	}
	if req.Type == "" {
		req.Type = models.OrderTypeMaintenance
	}
	if !models.ValidOrderType(req.Type) {
		return nil, invalid("unknown order type %q", req.Type)
	}
	if req.Status == "" {
		req.Status = models.StatusPending
	}
	if !models.ValidStatus(req.Status) {
		return nil, invalid("unknown status %q", req.Status)
	}
	if err := validateNotes(req.Notes); err != nil {
		return nil, err
	}

	items := make([]models.ServiceItem, 0, len(req.Items))
	seen := make(map[string]bool, len(req.Items))
	for _, item := range req.Items {
		item, err := normalizeItem(item)
		if err != nil {
			return nil, err
		}
		if seen[item.ID] {
			return nil, invalid("duplicate item id %s", item.ID)
		}
		seen[item.ID] = true
		items = append(items, item)
	}

	now := s.now()
	order := &models.ServiceOrder{
		ID:            uuid.New().String(),
		CustomerID:    req.CustomerID,
		ProductID:     req.ProductID,
		Type:          req.Type,
		Status:        req.Status,
		ScheduledDate: req.ScheduledDate,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	order.Description = s.codec.Encode(order.ID, req.Notes, items)

	if err := s.repo.Create(ctx, order); err != nil {
		return nil, err
	}

	view := s.View(order)
	s.logger.WithFields(logrus.Fields{
		"order_id":    order.ID,
		"customer_id": order.CustomerID,
		"items_count": len(view.Items),
	}).Info("Service order created")

	s.announce(ctx, events.EventOrderCreated, view, "")
	return view, nil
}

// validateNotes rejects notes that would be read back as an items fragment
// and take over the order's items.
func validateNotes(notes string) error {
	if serviceitems.ContainsFragment(notes) {
		return invalid("notes must not contain a service items fragment")
	}
	return nil
}

func normalizeItem(item models.ServiceItem) (models.ServiceItem, error) {
	if item.ID == "" {
		fresh := models.NewServiceItem(item.Code, item.Name, item.Description, item.Quantity, item.Price)
		fresh.ProductID = item.ProductID
		item = fresh
	}
	if item.Code == "" {
		item.Code = "-"
	}
	if item.Description == "" {
		item.Description = item.Name
	}
	if err := item.Validate(); err != nil {
		return item, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return item, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.ServiceOrderView, error) {
	order, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.View(order), nil
}

func (s *Service) List(ctx context.Context, filter store.ListFilter) ([]*models.ServiceOrderView, error) {
	orders, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	views := make([]*models.ServiceOrderView, 0, len(orders))
	for _, order := range orders {
		views = append(views, s.View(order))
	}
	return views, nil
}

// UpdateNotes replaces the human notes and carries the items over untouched.
func (s *Service) UpdateNotes(ctx context.Context, id, notes string) (*models.ServiceOrderView, error) {
	if err := validateNotes(notes); err != nil {
		return nil, err
	}

	return s.rewrite(ctx, id, events.EventNotesUpdated, "", func(order *models.ServiceOrder) (string, error) {
		return s.codec.ReplaceNotes(order.ID, order.Description, notes), nil
	})
}

func (s *Service) AddItem(ctx context.Context, id string, item models.ServiceItem) (*models.ServiceOrderView, error) {
	item, err := normalizeItem(item)
	if err != nil {
		return nil, err
	}

	return s.rewrite(ctx, id, events.EventItemAdded, item.ID, func(order *models.ServiceOrder) (string, error) {
		description, ok := s.codec.AppendItem(order.ID, order.Description, item)
		if !ok {
			return "", invalid("item %s already exists", item.ID)
		}
		return description, nil
	})
}

func (s *Service) RemoveItem(ctx context.Context, id, itemID string) (*models.ServiceOrderView, error) {
	return s.rewrite(ctx, id, events.EventItemRemoved, itemID, func(order *models.ServiceOrder) (string, error) {
		description, ok := s.codec.RemoveItem(order.ID, order.Description, itemID)
		if !ok {
			return "", ErrItemNotFound
		}
		return description, nil
	})
}

func (s *Service) rewrite(ctx context.Context, id, eventType, itemID string, change func(*models.ServiceOrder) (string, error)) (*models.ServiceOrderView, error) {
	order, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	description, err := change(order)
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateDescription(ctx, id, description)
	if err != nil {
		return nil, err
	}

	view := s.View(updated)
	s.logger.WithFields(logrus.Fields{
		"order_id":    id,
		"event":       eventType,
		"items_count": len(view.Items),
	}).Info("Service order description updated")

	s.announce(ctx, eventType, view, itemID)
	return view, nil
}

func (s *Service) UpdateStatus(ctx context.Context, id, status string) (*models.ServiceOrderView, error) {
	if !models.ValidStatus(status) {
		return nil, invalid("unknown status %q", status)
	}

	order, err := s.repo.UpdateStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}

	view := s.View(order)
	s.logger.WithFields(logrus.Fields{
		"order_id": id,
		"status":   status,
	}).Info("Service order status changed")

	s.announce(ctx, events.EventStatusChanged, view, "")
	return view, nil
}

type itemRow struct {
	Code        string  `csv:"codigo"`
	Name        string  `csv:"nome"`
	Description string  `csv:"descricao"`
	Quantity    int     `csv:"quantidade"`
	Price       float64 `csv:"preco_unitario"`
	Total       float64 `csv:"total"`
	ProductID   string  `csv:"produto_id"`
}

// ExportItemsCSV writes the decoded items of one order as CSV rows.
func (s *Service) ExportItemsCSV(ctx context.Context, id string, w io.Writer) error {
	view, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	rows := make([]*itemRow, 0, len(view.Items))
	for _, item := range view.Items {
		rows = append(rows, &itemRow{
			Code:        item.Code,
			Name:        item.Name,
			Description: item.Description,
			Quantity:    item.Quantity,
			Price:       item.Price,
			Total:       item.Total(),
			ProductID:   item.ProductID,
		})
	}

	if err := gocsv.Marshal(rows, w); err != nil {
		return fmt.Errorf("failed to write items csv: %w", err)
	}
	return nil
}

// announce publishes the change and pushes it to live screens. Neither
// failure fails the request; the order is already saved.
func (s *Service) announce(ctx context.Context, eventType string, view *models.ServiceOrderView, itemID string) {
	event := events.ServiceOrderEvent{
		Type:       eventType,
		OrderID:    view.ID,
		CustomerID: view.CustomerID,
		Status:     view.Status,
		ItemsCount: len(view.Items),
		ItemsTotal: view.ItemsTotal,
		ItemID:     itemID,
		CreatedAt:  view.CreatedAt,
		EventTime:  s.now(),
	}

	if err := s.publisher.PublishServiceOrderEvent(ctx, event); err != nil {
		s.logger.WithError(err).WithField("order_id", view.ID).Error("Failed to publish service order event")
	}

	if s.hub != nil {
		s.hub.Broadcast(eventType, view, "api")
	}
}
