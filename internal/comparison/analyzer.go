package comparison

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/hoken/service-manager/internal/serviceitems"
	"github.com/hoken/service-manager/internal/store"
	"github.com/hoken/service-manager/pkg/models"
	"github.com/sirupsen/logrus"
)

const (
	TypeMissingInTable = "missing_in_table"
	TypeExtraInTable   = "extra_in_table"
	TypeFieldMismatch  = "field_mismatch"

	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// Reconciler compares the items embedded in each description with the rows
// in service_order_items.
type Reconciler struct {
	repo   store.Repository
	codec  *serviceitems.Codec
	logger *logrus.Logger
	now    func() time.Time
}

type Report struct {
	Analysis        Analysis        `json:"analysis"`
	Inconsistencies []Inconsistency `json:"inconsistencies"`
	Statistics      Statistics      `json:"statistics"`
	Recommendations []string        `json:"recommendations"`
	Timestamp       time.Time       `json:"timestamp"`
}

type Analysis struct {
	TotalOrders    int      `json:"total_orders"`
	PerfectMatches int      `json:"perfect_matches"`
	Drifted        int      `json:"drifted"`
	NotBackfilled  []string `json:"not_backfilled"`
	SyncPercentage float64  `json:"sync_percentage"`
	OverallStatus  string   `json:"overall_status"`
}

type Inconsistency struct {
	OrderID       string      `json:"order_id"`
	ItemID        string      `json:"item_id"`
	Type          string      `json:"type"`
	Severity      string      `json:"severity"`
	Field         string      `json:"field,omitempty"`
	EmbeddedValue interface{} `json:"embedded_value,omitempty"`
	TableValue    interface{} `json:"table_value,omitempty"`
	Description   string      `json:"description"`
}

type Statistics struct {
	ConsistencyScore float64 `json:"consistency_score"`
	ItemsCompared    int     `json:"items_compared"`
	CriticalIssues   int     `json:"critical_issues"`
	WarningIssues    int     `json:"warning_issues"`
	InfoIssues       int     `json:"info_issues"`
}

func NewReconciler(repo store.Repository, logger *logrus.Logger) *Reconciler {
	return &Reconciler{
		repo:   repo,
		codec:  serviceitems.NewCodec(logger),
		logger: logger,
		now:    time.Now,
	}
}

func (r *Reconciler) Compare(ctx context.Context) (*Report, error) {
	startTime := r.now()

	orders, err := r.repo.List(ctx, store.ListFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list service orders: %w", err)
	}

	r.logger.WithField("orders", len(orders)).Info("Starting service items reconciliation")

	report := &Report{
		Analysis: Analysis{
			TotalOrders:   len(orders),
			NotBackfilled: []string{},
		},
		Inconsistencies: []Inconsistency{},
		Timestamp:       startTime,
	}

	for _, order := range orders {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		embedded := r.codec.Decode(order.ID, order.Description).Items
		rows, err := r.repo.ListItems(ctx, order.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list items of order %s: %w", order.ID, err)
		}

		report.Statistics.ItemsCompared += len(embedded) + len(rows)
		if len(embedded) > 0 && len(rows) == 0 {
			report.Analysis.NotBackfilled = append(report.Analysis.NotBackfilled, order.ID)
		}

		found := CompareItems(order.ID, embedded, rows)
		if len(found) == 0 {
			report.Analysis.PerfectMatches++
			continue
		}
		report.Analysis.Drifted++
		report.Inconsistencies = append(report.Inconsistencies, found...)
	}

	if report.Analysis.TotalOrders > 0 {
		report.Analysis.SyncPercentage = float64(report.Analysis.PerfectMatches) / float64(report.Analysis.TotalOrders) * 100
	} else {
		report.Analysis.SyncPercentage = 100
	}
	report.Analysis.OverallStatus = overallStatus(report.Analysis.SyncPercentage)
	report.Statistics = calculateStatistics(report)
	report.Recommendations = generateRecommendations(report)

	r.logger.WithFields(logrus.Fields{
		"processing_time":   r.now().Sub(startTime),
		"drifted":           report.Analysis.Drifted,
		"inconsistencies":   len(report.Inconsistencies),
		"consistency_score": report.Statistics.ConsistencyScore,
	}).Info("Service items reconciliation completed")

	return report, nil
}

// CompareItems matches embedded items and table rows by id.
func CompareItems(orderID string, embedded, rows []models.ServiceItem) []Inconsistency {
	var found []Inconsistency

	rowsByID := make(map[string]models.ServiceItem, len(rows))
	for _, row := range rows {
		rowsByID[row.ID] = row
	}
	seen := make(map[string]bool, len(embedded))

	for _, item := range embedded {
		seen[item.ID] = true
		row, ok := rowsByID[item.ID]
		if !ok {
			found = append(found, Inconsistency{
				OrderID:     orderID,
				ItemID:      item.ID,
				Type:        TypeMissingInTable,
				Severity:    SeverityWarning,
				Description: fmt.Sprintf("item %q is embedded in the description but has no row", item.Name),
			})
			continue
		}
		found = append(found, compareFields(orderID, item, row)...)
	}

	for _, row := range rows {
		if seen[row.ID] {
			continue
		}
		found = append(found, Inconsistency{
			OrderID:     orderID,
			ItemID:      row.ID,
			Type:        TypeExtraInTable,
			Severity:    SeverityWarning,
			Description: fmt.Sprintf("row %q is no longer embedded in the description", row.Name),
		})
	}

	return found
}

func compareFields(orderID string, embedded, row models.ServiceItem) []Inconsistency {
	var found []Inconsistency
	mismatch := func(field, severity string, a, b interface{}) {
		found = append(found, Inconsistency{
			OrderID:       orderID,
			ItemID:        embedded.ID,
			Type:          TypeFieldMismatch,
			Severity:      severity,
			Field:         field,
			EmbeddedValue: a,
			TableValue:    b,
			Description:   fmt.Sprintf("%s differs between description and table", field),
		})
	}

	if embedded.Quantity != row.Quantity {
		mismatch("quantity", SeverityCritical, embedded.Quantity, row.Quantity)
	}
	if math.Abs(embedded.Price-row.Price) > 0.001 {
		mismatch("price", SeverityCritical, embedded.Price, row.Price)
	}
	if embedded.Name != row.Name {
		mismatch("name", SeverityWarning, embedded.Name, row.Name)
	}
	if embedded.Code != row.Code {
		mismatch("code", SeverityInfo, embedded.Code, row.Code)
	}
	if embedded.Description != row.Description {
		mismatch("description", SeverityInfo, embedded.Description, row.Description)
	}
	if embedded.ProductID != row.ProductID {
		mismatch("productId", SeverityInfo, embedded.ProductID, row.ProductID)
	}
	return found
}

func overallStatus(syncPercentage float64) string {
	switch {
	case syncPercentage >= 95:
		return "excellent"
	case syncPercentage >= 85:
		return "good"
	case syncPercentage >= 70:
		return "fair"
	default:
		return "poor"
	}
}

func calculateStatistics(report *Report) Statistics {
	stats := Statistics{ItemsCompared: report.Statistics.ItemsCompared}

	for _, inconsistency := range report.Inconsistencies {
		switch inconsistency.Severity {
		case SeverityCritical:
			stats.CriticalIssues++
		case SeverityWarning:
			stats.WarningIssues++
		case SeverityInfo:
			stats.InfoIssues++
		}
	}

	stats.ConsistencyScore = 100
	if stats.ItemsCompared > 0 {
		issues := len(report.Inconsistencies)
		stats.ConsistencyScore = math.Max(0, 100-float64(issues*100)/float64(stats.ItemsCompared))
	}
	return stats
}

func generateRecommendations(report *Report) []string {
	var recommendations []string

	if report.Statistics.CriticalIssues > 0 {
		recommendations = append(recommendations, "Quantity or price drift detected; rerun the backfill without skip-existing")
	}
	if n := len(report.Analysis.NotBackfilled); n > 0 {
		recommendations = append(recommendations, fmt.Sprintf("Backfill %d orders that have embedded items but no rows", n))
	}
	if report.Statistics.WarningIssues > 0 {
		recommendations = append(recommendations, "Items were added or removed after the last backfill")
	}
	if len(recommendations) == 0 {
		recommendations = append(recommendations, "Items table matches the descriptions")
	}
	return recommendations
}

func GenerateReport(report *Report, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "json":
		return json.MarshalIndent(report, "", "  ")
	case "summary":
		return generateSummaryReport(report), nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func generateSummaryReport(report *Report) []byte {
	byType := map[string]int{}
	for _, inconsistency := range report.Inconsistencies {
		byType[inconsistency.Type]++
	}
	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Strings(types)

	var breakdown strings.Builder
	for _, t := range types {
		fmt.Fprintf(&breakdown, "%s: %d\n", t, byType[t])
	}
	if breakdown.Len() == 0 {
		breakdown.WriteString("none\n")
	}

	summary := fmt.Sprintf(`SERVICE ITEMS RECONCILIATION
============================
Generated: %s

Orders: %d
Perfect matches: %d
Drifted: %d
Not backfilled: %d
Consistency score: %.2f%%

ISSUES
------
Critical: %d
Warning: %d
Info: %d
%s
RECOMMENDATIONS
---------------
%s

STATUS: %s
`,
		report.Timestamp.Format(time.RFC3339),
		report.Analysis.TotalOrders,
		report.Analysis.PerfectMatches,
		report.Analysis.Drifted,
		len(report.Analysis.NotBackfilled),
		report.Statistics.ConsistencyScore,
		report.Statistics.CriticalIssues,
		report.Statistics.WarningIssues,
		report.Statistics.InfoIssues,
		breakdown.String(),
		strings.Join(report.Recommendations, "\n"),
		strings.ToUpper(report.Analysis.OverallStatus))

	return []byte(summary)
}
