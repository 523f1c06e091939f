package tasks

import (
	"context"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/omriozer/ludora-checkout/internal/models"
	"github.com/omriozer/ludora-checkout/internal/services"
)

// ReleaseStalePaymentsTaskDef clears in-progress payment markers that
// outlived the staleness window, so abandoned gateway redirects stop
// blocking retries. The query layer already ignores stale markers lazily;
// this task keeps the stored records honest.
type ReleaseStalePaymentsTaskDef struct{}

// TaskID returns the unique identifier for this task
func (t *ReleaseStalePaymentsTaskDef) TaskID() string {
	return models.TaskReleaseStalePayments
}

// HandleExecution scans cart purchases and releases stale markers
func (t *ReleaseStalePaymentsTaskDef) HandleExecution(ctx context.Context, db *gorm.DB, task models.ScheduledTask) (map[string]interface{}, error) {
	window := services.DefaultStalePaymentWindow
	if minutes, ok := argUint(task.Arguments, "window_minutes"); ok && minutes > 0 {
		window = time.Duration(minutes) * time.Minute
	}

	var cartPurchases []models.Purchase
	err := db.Where("payment_status = ?", models.PaymentStatusCart).Find(&cartPurchases).Error
	if err != nil {
		return nil, err
	}

	now := time.Now()
	released := 0
	for _, p := range cartPurchases {
		if !p.Metadata.PaymentInProgress {
			continue
		}
		startedAt := p.Metadata.PaymentPageCreatedAt
		if startedAt != nil && now.Sub(*startedAt) <= window {
			continue
		}
		p.Metadata.PaymentInProgress = false
		p.Metadata.PaymentPageCreatedAt = nil
		if err := db.Save(&p).Error; err != nil {
			return nil, err
		}
		released++
	}

	if released > 0 {
		log.Printf("[Task: release_stale_payments] released %d stale markers", released)
	}

	return map[string]interface{}{
		"status":   "success",
		"scanned":  len(cartPurchases),
		"released": released,
	}, nil
}

// ReleaseStalePaymentsTask is the singleton instance
var ReleaseStalePaymentsTask = &ReleaseStalePaymentsTaskDef{}

// ExpireAbandonedCartsTaskDef deletes cart purchases that sat untouched past
// the cart TTL. Records mid-payment are left alone; the stale-payment task
// has to release them first.
type ExpireAbandonedCartsTaskDef struct{}

// TaskID returns the unique identifier for this task
func (t *ExpireAbandonedCartsTaskDef) TaskID() string {
	return models.TaskExpireAbandonedCarts
}

// HandleExecution deletes expired cart purchases
func (t *ExpireAbandonedCartsTaskDef) HandleExecution(ctx context.Context, db *gorm.DB, task models.ScheduledTask) (map[string]interface{}, error) {
	ttl := 72 * time.Hour
	if hours, ok := argUint(task.Arguments, "ttl_hours"); ok && hours > 0 {
		ttl = time.Duration(hours) * time.Hour
	}

	cutoff := time.Now().Add(-ttl)
	var candidates []models.Purchase
	err := db.
		Where("payment_status = ? AND updated_at < ?", models.PaymentStatusCart, cutoff).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	expired := 0
	for _, p := range candidates {
		if p.Metadata.PaymentInProgress {
			continue
		}
		if err := db.Delete(&p).Error; err != nil {
			return nil, err
		}
		expired++
	}

	if expired > 0 {
		log.Printf("[Task: expire_abandoned_carts] expired %d cart purchases", expired)
	}

	return map[string]interface{}{
		"status":  "success",
		"expired": expired,
	}, nil
}

// ExpireAbandonedCartsTask is the singleton instance
var ExpireAbandonedCartsTask = &ExpireAbandonedCartsTaskDef{}
