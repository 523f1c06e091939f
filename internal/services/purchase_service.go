package services

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/omriozer/ludora-checkout/internal/models"
)

var (
	// ErrNoMatchingProduct means the requested entity has no catalog record
	ErrNoMatchingProduct = errors.New("no matching product found for this item")
	// ErrPaymentInProgress blocks a new attempt while a payment page is live
	ErrPaymentInProgress = errors.New("a payment for this item is already in progress")
)

// DuplicatePurchaseError is returned when the buyer already holds a
// non-refunded purchase for the same entity. It carries the conflicting
// record's status so the caller can explain the rejection.
type DuplicatePurchaseError struct {
	Status models.PaymentStatus
}

func (e *DuplicatePurchaseError) Error() string {
	return fmt.Sprintf("duplicate purchase exists, status: %s", e.Status)
}

// PurchaseConfig holds the tunables of the purchase flow
type PurchaseConfig struct {
	// AllowDuplicateFreeGrants keeps the legacy behavior where free grants
	// skip the duplicate and in-progress checks
	AllowDuplicateFreeGrants bool
	// StalePaymentWindow is how long an in-progress payment blocks retries
	StalePaymentWindow time.Duration
	// CartTTL is how long an abandoned cart purchase survives before the
	// worker expires it
	CartTTL time.Duration
}

// PurchaseConfigFromEnv reads the purchase tunables from the environment,
// falling back to the defaults
func PurchaseConfigFromEnv() PurchaseConfig {
	cfg := PurchaseConfig{
		AllowDuplicateFreeGrants: true,
		StalePaymentWindow:       DefaultStalePaymentWindow,
		CartTTL:                  72 * time.Hour,
	}
	if os.Getenv("PURCHASES_ALLOW_DUPLICATE_FREE_GRANTS") == "false" {
		cfg.AllowDuplicateFreeGrants = false
	}
	if v := os.Getenv("PURCHASES_STALE_PAYMENT_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.StalePaymentWindow = time.Duration(n) * time.Minute
		}
	}
	if v := os.Getenv("PURCHASES_CART_TTL_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CartTTL = time.Duration(n) * time.Hour
		}
	}
	return cfg
}

// PurchaseService creates and clears purchase records. Unlike the query
// layer, write failures are logged and propagated to the caller.
type PurchaseService struct {
	db    *gorm.DB
	query *PurchaseQueryService
	cfg   PurchaseConfig
}

func NewPurchaseService(db *gorm.DB, query *PurchaseQueryService, cfg PurchaseConfig) *PurchaseService {
	return &PurchaseService{db: db, query: query, cfg: cfg}
}

// PurchaseInput identifies the entity being bought and the price shown to
// the buyer at the time of the request
type PurchaseInput struct {
	UserID     uint
	EntityType models.ProductType
	EntityID   string
	Price      float64
}

func (s *PurchaseService) resolveProduct(entityType models.ProductType, entityID string) (*models.Product, error) {
	var product models.Product
	err := s.db.
		Where("product_type = ? AND entity_id = ?", entityType, entityID).
		First(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoMatchingProduct
		}
		return nil, err
	}
	return &product, nil
}

// CreatePendingPurchase adds an item to the buyer's cart after verifying that
// no payment for it is mid-flight and that no non-refunded purchase of the
// same entity exists. The partial unique index backstops the check against
// two concurrent requests racing past the read.
func (s *PurchaseService) CreatePendingPurchase(in PurchaseInput) (*models.Purchase, error) {
	product, err := s.resolveProduct(in.EntityType, in.EntityID)
	if err != nil {
		return nil, err
	}

	if s.query.IsPaymentInProgress(in.UserID, in.EntityType, in.EntityID) {
		return nil, ErrPaymentInProgress
	}

	for _, p := range s.query.AllNonRefunded(in.UserID) {
		if p.PurchasableType == in.EntityType && p.PurchasableID == in.EntityID {
			return nil, &DuplicatePurchaseError{Status: p.PaymentStatus}
		}
	}

	purchase := models.Purchase{
		BuyerUserID:     in.UserID,
		PurchasableType: in.EntityType,
		PurchasableID:   in.EntityID,
		PaymentAmount:   in.Price,
		OriginalPrice:   in.Price,
		DiscountAmount:  0,
		PaymentStatus:   models.PaymentStatusCart,
		Metadata: models.PurchaseMetadata{
			CreatedVia: models.CreatedViaAddToCart,
			ProductID:  product.ID,
		},
	}

	if err := s.db.Create(&purchase).Error; err != nil {
		if isUniqueViolation(err) {
			// A concurrent request won the race; report the conflict the same
			// way the pre-check would have.
			status := models.PaymentStatusCart
			if existing := s.query.CheckExistingPurchase(in.UserID, in.EntityType, in.EntityID); existing != nil {
				status = existing.PaymentStatus
			}
			return nil, &DuplicatePurchaseError{Status: status}
		}
		log.Printf("failed to create cart purchase (user %d, %s/%s): %v", in.UserID, in.EntityType, in.EntityID, err)
		return nil, err
	}
	return &purchase, nil
}

// CreateFreePurchase grants an entity at no charge, going straight to
// completed status. By default free grants skip the duplicate and
// in-progress checks; set AllowDuplicateFreeGrants=false to apply them.
func (s *PurchaseService) CreateFreePurchase(in PurchaseInput) (*models.Purchase, error) {
	product, err := s.resolveProduct(in.EntityType, in.EntityID)
	if err != nil {
		return nil, err
	}

	if !s.cfg.AllowDuplicateFreeGrants {
		if s.query.IsPaymentInProgress(in.UserID, in.EntityType, in.EntityID) {
			return nil, ErrPaymentInProgress
		}
		for _, p := range s.query.AllNonRefunded(in.UserID) {
			if p.PurchasableType == in.EntityType && p.PurchasableID == in.EntityID {
				return nil, &DuplicatePurchaseError{Status: p.PaymentStatus}
			}
		}
	}

	purchase := models.Purchase{
		BuyerUserID:     in.UserID,
		PurchasableType: in.EntityType,
		PurchasableID:   in.EntityID,
		PaymentAmount:   0,
		OriginalPrice:   in.Price,
		DiscountAmount:  0,
		PaymentStatus:   models.PaymentStatusCompleted,
		PaymentMethod:   models.PaymentMethodFree,
		Metadata: models.PurchaseMetadata{
			CreatedVia: models.CreatedViaFreeAccess,
			ProductID:  product.ID,
		},
	}

	if err := s.db.Create(&purchase).Error; err != nil {
		log.Printf("failed to create free purchase (user %d, %s/%s): %v", in.UserID, in.EntityType, in.EntityID, err)
		return nil, err
	}
	return &purchase, nil
}

// ClearCartPurchases deletes every cart purchase of the user. The loop is
// not transactional: the first failing delete aborts the rest and leaves the
// cart partially cleared, so callers must treat this as best-effort cleanup.
func (s *PurchaseService) ClearCartPurchases(userID uint) error {
	return s.clearByStatus(userID, models.PaymentStatusCart)
}

// ClearPendingPurchases deletes the user's legacy pending purchases
func (s *PurchaseService) ClearPendingPurchases(userID uint) error {
	return s.clearByStatus(userID, models.PaymentStatusPending)
}

func (s *PurchaseService) clearByStatus(userID uint, status models.PaymentStatus) error {
	var purchases []models.Purchase
	err := s.db.
		Where("buyer_user_id = ? AND payment_status = ?", userID, status).
		Find(&purchases).Error
	if err != nil {
		log.Printf("failed to list %s purchases for clearing (user %d): %v", status, userID, err)
		return err
	}

	for _, p := range purchases {
		if err := s.db.Delete(&p).Error; err != nil {
			log.Printf("failed to delete purchase %d while clearing (user %d): %v", p.ID, userID, err)
			return err
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
