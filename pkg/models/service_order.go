package models

import (
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
)

const (
	OrderTypeMaintenance  = "maintenance"
	OrderTypeInstallation = "installation"
	OrderTypeRepair       = "repair"
	OrderTypeVisit        = "visit"
)

const (
	StatusPending    = "pending"
	StatusScheduled  = "scheduled"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

var (
	ErrItemNameRequired    = errors.New("item name is required")
	ErrItemQuantityInvalid = errors.New("item quantity must be positive")
	ErrItemPriceInvalid    = errors.New("item price must be a non-negative number")
)

// ServiceItem is one part or labor line consumed during a service order.
type ServiceItem struct {
	ID          string  `json:"id" csv:"id"`
	Code        string  `json:"code" csv:"code"`
	Name        string  `json:"name" csv:"name"`
	Description string  `json:"description" csv:"description"`
	Quantity    int     `json:"quantity" csv:"quantity"`
	Price       float64 `json:"price" csv:"price"`
	ProductID   string  `json:"productId,omitempty" csv:"product_id"`
}

// NewServiceItem assigns a fresh id and fills the defaults the order
// screens expect: code "-" and a description equal to the name.
func NewServiceItem(code, name, description string, quantity int, price float64) ServiceItem {
	if code == "" {
		code = "-"
	}
	if description == "" {
		description = name
	}
	return ServiceItem{
		ID:          uuid.New().String(),
		Code:        code,
		Name:        name,
		Description: description,
		Quantity:    quantity,
		Price:       price,
	}
}

func (i ServiceItem) Total() float64 {
	return float64(i.Quantity) * i.Price
}

func (i ServiceItem) Validate() error {
	if i.Name == "" {
		return ErrItemNameRequired
	}
	if i.Quantity <= 0 {
		return ErrItemQuantityInvalid
	}
	if i.Price < 0 || math.IsNaN(i.Price) || math.IsInf(i.Price, 0) {
		return ErrItemPriceInvalid
	}
	return nil
}

func ItemsTotal(items []ServiceItem) float64 {
	var total float64
	for _, item := range items {
		total += item.Total()
	}
	return total
}

// ServiceOrder is the stored record. Description holds the user notes and,
// optionally, the embedded service items fragment.
type ServiceOrder struct {
	ID            string     `json:"id"`
	CustomerID    string     `json:"customer_id"`
	ProductID     string     `json:"product_id,omitempty"`
	Type          string     `json:"type"`
	Status        string     `json:"status"`
	Description   string     `json:"description"`
	ScheduledDate *time.Time `json:"scheduled_date,omitempty"`
	CompletedDate *time.Time `json:"completed_date,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// ServiceOrderView is a ServiceOrder with its description split back into
// notes and items.
type ServiceOrderView struct {
	ServiceOrder
	Notes      string        `json:"notes"`
	Items      []ServiceItem `json:"items"`
	ItemsTotal float64       `json:"items_total"`
}

type ServiceOrderRequest struct {
	CustomerID    string        `json:"customer_id"`
	ProductID     string        `json:"product_id,omitempty"`
	Type          string        `json:"type"`
	Status        string        `json:"status"`
	Notes         string        `json:"notes"`
	Items         []ServiceItem `json:"items"`
	ScheduledDate *time.Time    `json:"scheduled_date,omitempty"`
}

type ServiceOrderResponse struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Order   *ServiceOrderView `json:"order,omitempty"`
}

func ValidStatus(status string) bool {
	switch status {
	case StatusPending, StatusScheduled, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func ValidOrderType(orderType string) bool {
	switch orderType {
	case OrderTypeMaintenance, OrderTypeInstallation, OrderTypeRepair, OrderTypeVisit:
		return true
	}
	return false
}
