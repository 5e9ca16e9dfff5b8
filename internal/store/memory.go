package store

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hoken/service-manager/pkg/models"
)

// MemoryStore keeps orders in process memory. Used for local runs and tests.
type MemoryStore struct {
	orders map[string]*models.ServiceOrder
	items  map[string][]models.ServiceItem
	mutex  sync.RWMutex
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[string]*models.ServiceOrder),
		items:  make(map[string][]models.ServiceItem),
		now:    time.Now,
	}
}

func (s *MemoryStore) Create(ctx context.Context, order *models.ServiceOrder) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	stored := *order
	s.orders[order.ID] = &stored
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.ServiceOrder, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *order
	return &copied, nil
}

func (s *MemoryStore) List(ctx context.Context, filter ListFilter) ([]*models.ServiceOrder, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	search := strings.ToLower(filter.Search)
	var orders []*models.ServiceOrder
	for _, order := range s.orders {
		if filter.CustomerID != "" && order.CustomerID != filter.CustomerID {
			continue
		}
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(order.Description), search) {
			continue
		}
		copied := *order
		orders = append(orders, &copied)
	}

	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID < orders[j].ID
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	return orders, nil
}

func (s *MemoryStore) UpdateDescription(ctx context.Context, id, description string) (*models.ServiceOrder, error) {
	return s.update(id, func(order *models.ServiceOrder) {
		order.Description = description
	})
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id, status string) (*models.ServiceOrder, error) {
	return s.update(id, func(order *models.ServiceOrder) {
		order.Status = status
		if status == models.StatusCompleted {
			completed := s.now()
			order.CompletedDate = &completed
		}
	})
}

func (s *MemoryStore) update(id string, apply func(order *models.ServiceOrder)) (*models.ServiceOrder, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	apply(order)
	order.UpdatedAt = s.now()

	copied := *order
	return &copied, nil
}

func (s *MemoryStore) ReplaceItems(ctx context.Context, orderID string, items []models.ServiceItem) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.orders[orderID]; !ok {
		return ErrNotFound
	}
	s.items[orderID] = slices.Clone(items)
	return nil
}

func (s *MemoryStore) ListItems(ctx context.Context, orderID string) ([]models.ServiceItem, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if _, ok := s.orders[orderID]; !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(s.items[orderID]), nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}
