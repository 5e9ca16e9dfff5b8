package models

import (
	"strings"
	"time"
)

const DefaultMaintenanceMonths = 6

// Product categories sold by the company, mapped to how often an installed
// unit needs a maintenance visit.
var maintenanceIntervals = map[string]int{
	"purificador":    6,
	"filtro":         6,
	"refil":          6,
	"bebedouro":      12,
	"osmose reversa": 6,
	"ozonizador":     12,
	"torneira":       12,
	"acessorio":      0,
}

// MaintenanceInterval returns the interval in months for a product category.
// Unknown categories fall back to DefaultMaintenanceMonths. A zero interval
// means the category needs no scheduled maintenance.
func MaintenanceInterval(category string) int {
	months, ok := maintenanceIntervals[strings.ToLower(strings.TrimSpace(category))]
	if !ok {
		return DefaultMaintenanceMonths
	}
	return months
}

// NextMaintenance returns the due date after last, and false when the
// category is not maintained.
func NextMaintenance(category string, last time.Time) (time.Time, bool) {
	months := MaintenanceInterval(category)
	if months == 0 {
		return time.Time{}, false
	}
	return last.AddDate(0, months, 0), true
}
