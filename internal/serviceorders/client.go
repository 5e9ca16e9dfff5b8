package serviceorders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hoken/service-manager/internal/store"
	"github.com/hoken/service-manager/pkg/models"
	"github.com/sirupsen/logrus"
)

// Client talks to the service-order API over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewClient(baseURL string, logger *logrus.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("service order API returned %d: %s", e.StatusCode, e.Message)
}

func (c *Client) CreateOrder(ctx context.Context, req models.ServiceOrderRequest) (*models.ServiceOrderView, error) {
	var resp models.ServiceOrderResponse
	if err := c.do(ctx, http.MethodPost, "/service-orders", req, &resp); err != nil {
		return nil, err
	}

	c.logger.WithField("order_id", resp.Order.ID).Info("Service order created through API")
	return resp.Order, nil
}

func (c *Client) GetOrder(ctx context.Context, id string) (*models.ServiceOrderView, error) {
	var view models.ServiceOrderView
	if err := c.do(ctx, http.MethodGet, "/service-orders/"+url.PathEscape(id), nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func (c *Client) ListOrders(ctx context.Context, filter store.ListFilter) ([]*models.ServiceOrderView, error) {
	query := url.Values{}
	if filter.CustomerID != "" {
		query.Set("customer_id", filter.CustomerID)
	}
	if filter.Status != "" {
		query.Set("status", filter.Status)
	}
	if filter.Search != "" {
		query.Set("q", filter.Search)
	}

	path := "/service-orders"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var response struct {
		Success bool                       `json:"success"`
		Orders  []*models.ServiceOrderView `json:"orders"`
		Count   int                        `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &response); err != nil {
		return nil, err
	}

	c.logger.WithField("count", response.Count).Debug("Retrieved service orders")
	return response.Orders, nil
}

func (c *Client) UpdateNotes(ctx context.Context, id, notes string) (*models.ServiceOrderView, error) {
	body := map[string]string{"notes": notes}
	return c.mutate(ctx, http.MethodPut, "/service-orders/"+url.PathEscape(id)+"/notes", body)
}

func (c *Client) UpdateStatus(ctx context.Context, id, status string) (*models.ServiceOrderView, error) {
	body := map[string]string{"status": status}
	return c.mutate(ctx, http.MethodPut, "/service-orders/"+url.PathEscape(id)+"/status", body)
}

func (c *Client) AddItem(ctx context.Context, id string, item models.ServiceItem) (*models.ServiceOrderView, error) {
	return c.mutate(ctx, http.MethodPost, "/service-orders/"+url.PathEscape(id)+"/items", item)
}

func (c *Client) RemoveItem(ctx context.Context, id, itemID string) (*models.ServiceOrderView, error) {
	path := "/service-orders/" + url.PathEscape(id) + "/items/" + url.PathEscape(itemID)
	return c.mutate(ctx, http.MethodDelete, path, nil)
}

func (c *Client) mutate(ctx context.Context, method, path string, body interface{}) (*models.ServiceOrderView, error) {
	var resp models.ServiceOrderResponse
	if err := c.do(ctx, method, path, body, &resp); err != nil {
		return nil, err
	}
	return resp.Order, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to service order API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var failure struct {
			Message string `json:"message"`
		}
		json.NewDecoder(resp.Body).Decode(&failure)
		return &APIError{StatusCode: resp.StatusCode, Message: failure.Message}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode service order API response: %w", err)
	}
	return nil
}
