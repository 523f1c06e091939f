package services

import (
	"errors"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/omriozer/ludora-checkout/internal/models"
)

// DefaultStalePaymentWindow is how long a payment-page handoff blocks a new
// attempt for the same item before it is considered abandoned.
const DefaultStalePaymentWindow = 10 * time.Minute

// PurchaseQueryService answers read-only questions about a user's purchases.
// Reads fail open: a transport error is logged and downgraded to an empty
// result so a flaky connection never blanks out purchase-dependent UI.
type PurchaseQueryService struct {
	db          *gorm.DB
	staleWindow time.Duration
	now         func() time.Time
}

func NewPurchaseQueryService(db *gorm.DB, staleWindow time.Duration) *PurchaseQueryService {
	if staleWindow <= 0 {
		staleWindow = DefaultStalePaymentWindow
	}
	return &PurchaseQueryService{
		db:          db,
		staleWindow: staleWindow,
		now:         time.Now,
	}
}

// CartPurchases returns the user's purchases still sitting in the cart
func (s *PurchaseQueryService) CartPurchases(userID uint) []models.Purchase {
	return s.byStatus(userID, models.PaymentStatusCart)
}

// PendingPurchases returns purchases in the legacy "pending" status, retained
// for compatibility with older checkout flows
func (s *PurchaseQueryService) PendingPurchases(userID uint) []models.Purchase {
	return s.byStatus(userID, models.PaymentStatusPending)
}

func (s *PurchaseQueryService) byStatus(userID uint, status models.PaymentStatus) []models.Purchase {
	var purchases []models.Purchase
	err := s.db.
		Where("buyer_user_id = ? AND payment_status = ?", userID, status).
		Order("created_at asc").
		Find(&purchases).Error
	if err != nil {
		log.Printf("purchase query failed (user %d, status %s): %v", userID, status, err)
		return []models.Purchase{}
	}
	return purchases
}

// AllNonRefunded returns every purchase of the user except refunded ones.
// This is the authoritative set for duplicate detection.
func (s *PurchaseQueryService) AllNonRefunded(userID uint) []models.Purchase {
	var purchases []models.Purchase
	err := s.db.
		Where("buyer_user_id = ? AND payment_status <> ?", userID, models.PaymentStatusRefunded).
		Order("created_at asc").
		Find(&purchases).Error
	if err != nil {
		log.Printf("purchase query failed (user %d, non-refunded): %v", userID, err)
		return []models.Purchase{}
	}
	return purchases
}

// CheckExistingPurchase looks for a non-refunded purchase of the given entity.
// Returns nil when none exists. Side-effect free.
func (s *PurchaseQueryService) CheckExistingPurchase(userID uint, entityType models.ProductType, entityID string) *models.Purchase {
	var purchase models.Purchase
	err := s.db.
		Where("buyer_user_id = ? AND purchasable_type = ? AND purchasable_id = ? AND payment_status <> ?",
			userID, entityType, entityID, models.PaymentStatusRefunded).
		Order("created_at desc").
		First(&purchase).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("purchase lookup failed (user %d, %s/%s): %v", userID, entityType, entityID, err)
		}
		return nil
	}
	return &purchase
}

// IsPaymentInProgress reports whether a payment-page handoff for the given
// entity is still live. A handoff older than the stale window no longer
// blocks, so an abandoned gateway redirect cannot lock the user out of
// retrying. A missing start timestamp counts as stale for the same reason.
func (s *PurchaseQueryService) IsPaymentInProgress(userID uint, entityType models.ProductType, entityID string) bool {
	for _, p := range s.CartPurchases(userID) {
		if p.PurchasableType != entityType || p.PurchasableID != entityID {
			continue
		}
		if !p.Metadata.PaymentInProgress {
			continue
		}
		startedAt := p.Metadata.PaymentPageCreatedAt
		if startedAt == nil {
			continue
		}
		if s.now().Sub(*startedAt) > s.staleWindow {
			continue
		}
		return true
	}
	return false
}
