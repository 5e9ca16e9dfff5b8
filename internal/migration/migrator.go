package migration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hoken/service-manager/internal/serviceitems"
	"github.com/hoken/service-manager/internal/store"
	"github.com/hoken/service-manager/pkg/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Backfiller copies the items embedded in each order description into the
// service_order_items table. The description stays the source of truth.
type Backfiller struct {
	repo   store.Repository
	codec  *serviceitems.Codec
	logger *logrus.Logger
	config Config
	now    func() time.Time
}

type Config struct {
	BatchSize    int           `json:"batch_size"`
	Concurrency  int           `json:"concurrency"`
	DelayBetween time.Duration `json:"delay_between"`
	DryRun       bool          `json:"dry_run"`
	SkipExisting bool          `json:"skip_existing"`
}

func DefaultConfig() Config {
	return Config{
		BatchSize:    50,
		Concurrency:  5,
		DelayBetween: 100 * time.Millisecond,
		SkipExisting: true,
	}
}

type Result struct {
	TotalOrders    int             `json:"total_orders"`
	Backfilled     int             `json:"backfilled"`
	Skipped        int             `json:"skipped"`
	Failed         int             `json:"failed"`
	ItemsWritten   int             `json:"items_written"`
	ProcessingTime time.Duration   `json:"processing_time"`
	Errors         []BackfillError `json:"errors"`
	DryRun         bool            `json:"dry_run"`
	Timestamp      time.Time       `json:"timestamp"`
}

type BackfillError struct {
	OrderID   string    `json:"order_id"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

func NewBackfiller(repo store.Repository, logger *logrus.Logger) *Backfiller {
	return &Backfiller{
		repo:   repo,
		codec:  serviceitems.NewCodec(logger),
		logger: logger,
		config: DefaultConfig(),
		now:    time.Now,
	}
}

func (b *Backfiller) SetConfig(config Config) {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	b.config = config
	b.logger.WithFields(logrus.Fields{
		"batch_size":    config.BatchSize,
		"concurrency":   config.Concurrency,
		"dry_run":       config.DryRun,
		"skip_existing": config.SkipExisting,
	}).Info("Backfill configuration updated")
}

// Run walks every order once. Per-order failures are collected in the
// result; only listing failures and cancellation abort the run.
func (b *Backfiller) Run(ctx context.Context) (*Result, error) {
	startTime := b.now()
	b.logger.Info("Starting service items backfill")

	orders, err := b.repo.List(ctx, store.ListFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list service orders: %w", err)
	}

	result := &Result{
		TotalOrders: len(orders),
		Errors:      []BackfillError{},
		DryRun:      b.config.DryRun,
		Timestamp:   startTime,
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.config.Concurrency)

	for i, batch := range b.createBatches(orders) {
		batch := batch
		delay := b.config.DelayBetween
		first := i == 0
		g.Go(func() error {
			if !first && delay > 0 {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case <-time.After(delay):
				}
			}

			batchResult, err := b.processBatch(gctx, batch)
			mu.Lock()
			mergeResults(result, batchResult)
			mu.Unlock()
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return result, fmt.Errorf("backfill interrupted: %w", err)
	}

	result.ProcessingTime = b.now().Sub(startTime)
	b.logger.WithFields(logrus.Fields{
		"total":         result.TotalOrders,
		"backfilled":    result.Backfilled,
		"skipped":       result.Skipped,
		"failed":        result.Failed,
		"items_written": result.ItemsWritten,
		"dry_run":       result.DryRun,
		"duration":      result.ProcessingTime,
	}).Info("Service items backfill completed")

	return result, nil
}

func (b *Backfiller) createBatches(orders []*models.ServiceOrder) [][]*models.ServiceOrder {
	var batches [][]*models.ServiceOrder
	for i := 0; i < len(orders); i += b.config.BatchSize {
		end := i + b.config.BatchSize
		if end > len(orders) {
			end = len(orders)
		}
		batches = append(batches, orders[i:end])
	}
	return batches
}

func (b *Backfiller) processBatch(ctx context.Context, orders []*models.ServiceOrder) (*Result, error) {
	result := &Result{}

	for _, order := range orders {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		items := b.codec.Decode(order.ID, order.Description).Items

		existing, err := b.repo.ListItems(ctx, order.ID)
		if err != nil {
			b.recordFailure(result, order.ID, err)
			continue
		}
		// An order whose items were all removed still has to clear rows an
		// earlier run copied, or they show up as drift forever.
		if len(items) == 0 && len(existing) == 0 {
			result.Skipped++
			continue
		}
		if b.config.SkipExisting && len(existing) > 0 {
			result.Skipped++
			continue
		}

		if b.config.DryRun {
			b.logger.WithFields(logrus.Fields{
				"order_id":    order.ID,
				"items_count": len(items),
			}).Debug("DRY RUN: would backfill service items")
			result.Backfilled++
			result.ItemsWritten += len(items)
			continue
		}

		if err := b.repo.ReplaceItems(ctx, order.ID, items); err != nil {
			b.recordFailure(result, order.ID, err)
			continue
		}

		result.Backfilled++
		result.ItemsWritten += len(items)
		b.logger.WithFields(logrus.Fields{
			"order_id":    order.ID,
			"items_count": len(items),
		}).Debug("Backfilled service items")
	}

	return result, nil
}

func (b *Backfiller) recordFailure(result *Result, orderID string, err error) {
	result.Failed++
	result.Errors = append(result.Errors, BackfillError{
		OrderID:   orderID,
		Error:     err.Error(),
		Timestamp: b.now(),
	})
	b.logger.WithError(err).WithField("order_id", orderID).Error("Failed to backfill service items")
}

func mergeResults(target, source *Result) {
	if source == nil {
		return
	}
	target.Backfilled += source.Backfilled
	target.Skipped += source.Skipped
	target.Failed += source.Failed
	target.ItemsWritten += source.ItemsWritten
	target.Errors = append(target.Errors, source.Errors...)
}
