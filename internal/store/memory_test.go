package store

import (
	"context"
	"testing"
	"time"

	"github.com/hoken/service-manager/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedOrder(t *testing.T, s *MemoryStore, id, customerID, status, description string, createdAt time.Time) {
	t.Helper()
	require.NoError(t, s.Create(context.Background(), &models.ServiceOrder{
		ID:          id,
		CustomerID:  customerID,
		Type:        models.OrderTypeMaintenance,
		Status:      status,
		Description: description,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}))
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	seedOrder(t, s, "o1", "c1", models.StatusPending, "original", time.Now())

	order, err := s.Get(context.Background(), "o1")
	require.NoError(t, err)
	order.Description = "changed by caller"

	again, err := s.Get(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, "original", again.Description)
}

func TestMemoryStoreNotFound(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.UpdateDescription(ctx, "missing", "x")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.UpdateStatus(ctx, "missing", models.StatusCompleted)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.ReplaceItems(ctx, "missing", nil), ErrNotFound)

	_, err = s.ListItems(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreListFilters(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	seedOrder(t, s, "o1", "c1", models.StatusPending, "Troca de FILTRO", base)
	seedOrder(t, s, "o2", "c1", models.StatusCompleted, "Instalação", base.Add(time.Hour))
	seedOrder(t, s, "o3", "c2", models.StatusPending, "filtro entupido", base.Add(2*time.Hour))

	ctx := context.Background()

	all, err := s.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "o3", all[0].ID, "newest first")

	byCustomer, err := s.List(ctx, ListFilter{CustomerID: "c1"})
	require.NoError(t, err)
	assert.Len(t, byCustomer, 2)

	bySearch, err := s.List(ctx, ListFilter{Search: "filtro"})
	require.NoError(t, err)
	assert.Len(t, bySearch, 2)

	combined, err := s.List(ctx, ListFilter{Status: models.StatusPending, Search: "filtro", CustomerID: "c2"})
	require.NoError(t, err)
	require.Len(t, combined, 1)
	assert.Equal(t, "o3", combined[0].ID)
}

func TestMemoryStoreUpdateStatusStampsCompletion(t *testing.T) {
	s := NewMemoryStore()
	fixed := time.Date(2026, 5, 10, 14, 30, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	seedOrder(t, s, "o1", "c1", models.StatusPending, "", fixed.Add(-time.Hour))

	order, err := s.UpdateStatus(context.Background(), "o1", models.StatusInProgress)
	require.NoError(t, err)
	assert.Nil(t, order.CompletedDate)

	order, err = s.UpdateStatus(context.Background(), "o1", models.StatusCompleted)
	require.NoError(t, err)
	require.NotNil(t, order.CompletedDate)
	assert.Equal(t, fixed, *order.CompletedDate)
	assert.Equal(t, fixed, order.UpdatedAt)
}

func TestMemoryStoreReplaceItems(t *testing.T) {
	s := NewMemoryStore()
	seedOrder(t, s, "o1", "c1", models.StatusPending, "", time.Now())
	ctx := context.Background()

	items := []models.ServiceItem{{ID: "i1", Code: "-", Name: "Refil", Description: "Refil", Quantity: 1, Price: 10}}
	require.NoError(t, s.ReplaceItems(ctx, "o1", items))

	items[0].Name = "mutated"
	stored, err := s.ListItems(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "Refil", stored[0].Name)

	require.NoError(t, s.ReplaceItems(ctx, "o1", nil))
	stored, err = s.ListItems(ctx, "o1")
	require.NoError(t, err)
	assert.Empty(t, stored)
}
