package models

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewServiceItemDefaults(t *testing.T) {
	item := NewServiceItem("", "Refil", "", 2, 30)

	assert.NotEmpty(t, item.ID)
	assert.Equal(t, "-", item.Code)
	assert.Equal(t, "Refil", item.Description)
	assert.InDelta(t, 60.0, item.Total(), 1e-9)

	other := NewServiceItem("6918", "Filtro", "Filtro UF", 1, 45.9)
	assert.NotEqual(t, item.ID, other.ID)
	assert.Equal(t, "6918", other.Code)
	assert.Equal(t, "Filtro UF", other.Description)
}

func TestServiceItemValidate(t *testing.T) {
	valid := ServiceItem{Name: "Filtro", Quantity: 1, Price: 0}
	assert.NoError(t, valid.Validate())

	cases := map[string]struct {
		item ServiceItem
		err  error
	}{
		"no name":       {ServiceItem{Quantity: 1}, ErrItemNameRequired},
		"zero quantity": {ServiceItem{Name: "x"}, ErrItemQuantityInvalid},
		"negative":      {ServiceItem{Name: "x", Quantity: 1, Price: -1}, ErrItemPriceInvalid},
		"nan":           {ServiceItem{Name: "x", Quantity: 1, Price: math.NaN()}, ErrItemPriceInvalid},
		"inf":           {ServiceItem{Name: "x", Quantity: 1, Price: math.Inf(1)}, ErrItemPriceInvalid},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, tc.item.Validate(), tc.err)
		})
	}
}

func TestItemsTotal(t *testing.T) {
	assert.Zero(t, ItemsTotal(nil))
	assert.InDelta(t, 105.9, ItemsTotal([]ServiceItem{
		{Quantity: 1, Price: 45.9},
		{Quantity: 2, Price: 30},
	}), 1e-9)
}

func TestValidators(t *testing.T) {
	assert.True(t, ValidStatus(StatusInProgress))
	assert.False(t, ValidStatus("done"))
	assert.True(t, ValidOrderType(OrderTypeVisit))
	assert.False(t, ValidOrderType(""))
}

func TestMaintenanceInterval(t *testing.T) {
	assert.Equal(t, 12, MaintenanceInterval(" Bebedouro "))
	assert.Equal(t, 6, MaintenanceInterval("osmose reversa"))
	assert.Equal(t, 0, MaintenanceInterval("acessorio"))
	assert.Equal(t, DefaultMaintenanceMonths, MaintenanceInterval("desconhecido"))
}

func TestNextMaintenance(t *testing.T) {
	last := time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC)

	next, ok := NextMaintenance("purificador", last)
	assert.True(t, ok)
	assert.Equal(t, time.Date(2024, 9, 12, 0, 0, 0, 0, time.UTC), next)

	_, ok = NextMaintenance("acessorio", last)
	assert.False(t, ok)
}
