package store

import (
	"context"
	"errors"

	"github.com/hoken/service-manager/pkg/models"
)

var ErrNotFound = errors.New("service order not found")

type ListFilter struct {
	CustomerID string
	Status     string
	// Search matches the description case-insensitively.
	Search string
}

// Repository persists service orders. UpdateDescription is last-write-wins;
// callers that read-modify-write a description own the race.
type Repository interface {
	Create(ctx context.Context, order *models.ServiceOrder) error
	Get(ctx context.Context, id string) (*models.ServiceOrder, error)
	List(ctx context.Context, filter ListFilter) ([]*models.ServiceOrder, error)
	UpdateDescription(ctx context.Context, id, description string) (*models.ServiceOrder, error)
	UpdateStatus(ctx context.Context, id, status string) (*models.ServiceOrder, error)

	// ReplaceItems overwrites the structured copy of an order's items.
	ReplaceItems(ctx context.Context, orderID string, items []models.ServiceItem) error
	ListItems(ctx context.Context, orderID string) ([]models.ServiceItem, error)

	Ping(ctx context.Context) error
}
