package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/midtrans/midtrans-go/snap"
	"gorm.io/gorm"

	"github.com/omriozer/ludora-checkout/internal/models"
)

var (
	ErrEmptyCart          = errors.New("cart is empty")
	ErrCheckoutLocked     = errors.New("another checkout is already in progress")
	ErrPaymentAlreadyMade = errors.New("payment already made")
	ErrAlreadyRefunded    = errors.New("purchase is already refunded")
	ErrNotRefundable      = errors.New("only completed purchases can be refunded")
)

// PaymentGatewayClient is the slice of the gateway SDK the checkout flow
// needs; MidtransService implements it, tests stub it.
type PaymentGatewayClient interface {
	CreateTransaction(orderID string, amount int64, param *snap.Request) (*snap.Response, error)
	CheckTransaction(orderID string) (*coreapi.TransactionStatusResponse, error)
	CancelTransaction(orderID string) error
	RefundTransaction(orderID string, amount int64, reason string) error
	VerifySignature(orderID, statusCode, grossAmount, signatureKey string) bool
}

// CheckoutService drives the payment-page handoff for a user's cart and
// reconciles gateway callbacks back into purchase records.
type CheckoutService struct {
	db      *gorm.DB
	gateway PaymentGatewayClient
	cache   *RedisCache
	webhook *OpsWebhookService
	now     func() time.Time
}

func NewCheckoutService(db *gorm.DB, gateway PaymentGatewayClient, cache *RedisCache, webhook *OpsWebhookService) *CheckoutService {
	return &CheckoutService{
		db:      db,
		gateway: gateway,
		cache:   cache,
		webhook: webhook,
		now:     time.Now,
	}
}

// CheckoutResult holds what the frontend needs to open the payment page
type CheckoutResult struct {
	Token       string  `json:"token"`
	RedirectURL string  `json:"redirect_url"`
	OrderID     string  `json:"order_id"`
	Amount      float64 `json:"amount"`
	IsExisting  bool    `json:"is_existing"`
}

func (s *CheckoutService) activeSession(userID uint) (*models.PaymentSession, error) {
	var session models.PaymentSession
	err := s.db.
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("created_at desc").
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &session, nil
}

func (s *CheckoutService) deactivateSession(session *models.PaymentSession) {
	session.IsActive = false
	if err := s.db.Save(session).Error; err != nil {
		log.Printf("failed to deactivate payment session %s: %v", session.OrderID, err)
	}
}

// InitiateCheckout starts or resumes a payment-page session for everything in
// the user's cart. An existing still-pending session is reused unless
// forceNew cancels it first. Every cart purchase gets stamped with the
// in-progress marker and the gateway order ID.
func (s *CheckoutService) InitiateCheckout(ctx context.Context, user models.User, forceNew bool, callbackURL string) (*CheckoutResult, error) {
	if s.cache != nil {
		lockKey := fmt.Sprintf("checkout:lock:%d", user.ID)
		acquired, err := s.cache.SetNX(ctx, lockKey, s.now().Unix(), 30*time.Second)
		if err == nil && !acquired {
			return nil, ErrCheckoutLocked
		}
		defer func() { _ = s.cache.Delete(ctx, lockKey) }()
	}

	var cart []models.Purchase
	err := s.db.
		Where("buyer_user_id = ? AND payment_status = ?", user.ID, models.PaymentStatusCart).
		Order("created_at asc").
		Find(&cart).Error
	if err != nil {
		return nil, err
	}
	if len(cart) == 0 {
		return nil, ErrEmptyCart
	}
	total := models.TotalPrice(cart)

	// Check for an existing active session before opening a new one
	existingSession, err := s.activeSession(user.ID)
	if err != nil {
		return nil, err
	}

	if existingSession != nil {
		statusResp, err := s.gateway.CheckTransaction(existingSession.OrderID)
		if err == nil {
			switch statusResp.TransactionStatus {
			case "settlement", "capture":
				return nil, ErrPaymentAlreadyMade
			case "deny", "expire", "cancel", "failure":
				s.deactivateSession(existingSession)
				if err := s.releaseInProgress(user.ID, existingSession.OrderID); err != nil {
					log.Printf("failed to release in-progress markers for order %s: %v", existingSession.OrderID, err)
				}
			default:
				// Payment is still pending at the gateway. A total that drifted
				// since the handoff means the session would charge the wrong
				// amount, so it gets replaced like a forced restart.
				if forceNew || existingSession.Amount != total {
					if err := s.gateway.CancelTransaction(existingSession.OrderID); err != nil {
						log.Printf("failed to cancel gateway transaction %s: %v", existingSession.OrderID, err)
					}
					s.deactivateSession(existingSession)
					if err := s.releaseInProgress(user.ID, existingSession.OrderID); err != nil {
						log.Printf("failed to release in-progress markers for order %s: %v", existingSession.OrderID, err)
					}
				} else {
					var gatewayResp snap.Response
					if err := json.Unmarshal(existingSession.ResponseMetadata, &gatewayResp); err == nil {
						return &CheckoutResult{
							Token:       gatewayResp.Token,
							RedirectURL: gatewayResp.RedirectURL,
							OrderID:     existingSession.OrderID,
							Amount:      existingSession.Amount,
							IsExisting:  true,
						}, nil
					}
					// Stored response is unreadable, treat the session as broken
					s.deactivateSession(existingSession)
				}
			}
		} else {
			// Status check failed, assume the session is broken locally
			s.deactivateSession(existingSession)
		}
	}

	orderID := fmt.Sprintf("cart-%d-%s", user.ID, uuid.NewString())

	items := make([]midtrans.ItemDetails, 0, len(cart))
	for _, p := range cart {
		items = append(items, midtrans.ItemDetails{
			ID:    fmt.Sprintf("%s-%s", p.PurchasableType, p.PurchasableID),
			Name:  fmt.Sprintf("%s %s", p.PurchasableType, p.PurchasableID),
			Price: int64(p.PaymentAmount),
			Qty:   1,
		})
	}

	req := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  orderID,
			GrossAmt: int64(total),
		},
		CustomerDetail: &midtrans.CustomerDetails{
			FName: user.Name,
			Email: user.Email,
		},
		Items: &items,
		Callbacks: &snap.Callbacks{
			Finish: callbackURL,
		},
	}

	resp, err := s.gateway.CreateTransaction(orderID, int64(total), req)
	if err != nil {
		return nil, err
	}

	// Stamp the cart purchases with the in-progress marker
	startedAt := s.now()
	for i := range cart {
		cart[i].Metadata.PaymentInProgress = true
		cart[i].Metadata.PaymentPageCreatedAt = &startedAt
		cart[i].Metadata.OrderID = orderID
		if err := s.db.Save(&cart[i]).Error; err != nil {
			log.Printf("failed to stamp purchase %d with order %s: %v", cart[i].ID, orderID, err)
		}
	}

	reqBytes, _ := json.Marshal(req)
	respBytes, _ := json.Marshal(resp)

	session := models.PaymentSession{
		UserID:           user.ID,
		PaymentGateway:   models.PaymentGatewayMidtrans,
		OrderID:          orderID,
		Amount:           total,
		IsActive:         true,
		RequestMetadata:  reqBytes,
		ResponseMetadata: respBytes,
	}
	if err := s.db.Create(&session).Error; err != nil {
		log.Printf("failed to record payment session %s: %v", orderID, err)
	}

	return &CheckoutResult{
		Token:       resp.Token,
		RedirectURL: resp.RedirectURL,
		OrderID:     orderID,
		Amount:      total,
		IsExisting:  false,
	}, nil
}

// releaseInProgress clears the in-progress markers stamped for an order so
// the items become purchasable again. Reads and writes here are fail-closed:
// the fail-open query layer serves UI reads, but losing a release during a
// gateway notification must surface so the notification is retried.
func (s *CheckoutService) releaseInProgress(userID uint, orderID string) error {
	var cartPurchases []models.Purchase
	err := s.db.
		Where("buyer_user_id = ? AND payment_status = ?", userID, models.PaymentStatusCart).
		Find(&cartPurchases).Error
	if err != nil {
		return fmt.Errorf("failed to load cart purchases for order %s: %w", orderID, err)
	}

	for _, p := range cartPurchases {
		if p.Metadata.OrderID != orderID {
			continue
		}
		p.Metadata.PaymentInProgress = false
		p.Metadata.PaymentPageCreatedAt = nil
		if err := s.db.Save(&p).Error; err != nil {
			return fmt.Errorf("failed to release in-progress flag on purchase %d: %w", p.ID, err)
		}
	}
	return nil
}

// HandleGatewayCallback reconciles a gateway notification with the local
// purchase records. Settlement completes the order, terminal failures
// release the in-progress markers. The raw payload is always archived.
func (s *CheckoutService) HandleGatewayCallback(payload map[string]interface{}) error {
	orderID, _ := payload["order_id"].(string)
	transactionStatus, _ := payload["transaction_status"].(string)
	fraudStatus, _ := payload["fraud_status"].(string)
	statusCode, _ := payload["status_code"].(string)
	grossAmount, _ := payload["gross_amount"].(string)
	signatureKey, _ := payload["signature_key"].(string)

	if orderID == "" {
		return fmt.Errorf("callback payload missing order_id")
	}
	if !s.gateway.VerifySignature(orderID, statusCode, grossAmount, signatureKey) {
		return fmt.Errorf("callback signature verification failed for order %s", orderID)
	}

	rawPayload, _ := json.Marshal(payload)
	history := models.PaymentCallbackHistory{
		PaymentGateway: models.PaymentGatewayMidtrans,
		OrderID:        orderID,
		Metadata:       rawPayload,
	}
	if err := s.db.Create(&history).Error; err != nil {
		log.Printf("failed to archive callback for order %s: %v", orderID, err)
	}

	var session models.PaymentSession
	if err := s.db.Where("order_id = ?", orderID).First(&session).Error; err != nil {
		return fmt.Errorf("no payment session for order %s: %w", orderID, err)
	}

	switch transactionStatus {
	case "capture":
		if fraudStatus == "accept" {
			return s.completeOrder(&session)
		}
		// Challenged captures stay in-progress until the gateway decides
		return nil
	case "settlement":
		return s.completeOrder(&session)
	case "deny", "expire", "cancel", "failure":
		if err := s.releaseInProgress(session.UserID, session.OrderID); err != nil {
			return err
		}
		s.deactivateSession(&session)
		return nil
	default:
		return nil
	}
}

func (s *CheckoutService) completeOrder(session *models.PaymentSession) error {
	completedAt := s.now()

	// The cart is read directly, not through the fail-open query layer: an
	// empty result caused by a transport error would be indistinguishable
	// from an already-processed retry, the notification would be ACKed and
	// never redelivered, and the paid purchases would stay in the cart.
	var cartPurchases []models.Purchase
	err := s.db.
		Where("buyer_user_id = ? AND payment_status = ?", session.UserID, models.PaymentStatusCart).
		Find(&cartPurchases).Error
	if err != nil {
		return fmt.Errorf("failed to load cart purchases for order %s: %w", session.OrderID, err)
	}

	var completed []models.Purchase
	for _, p := range cartPurchases {
		if p.Metadata.OrderID != session.OrderID {
			continue
		}
		if p.PaymentStatus == models.PaymentStatusCompleted {
			continue
		}
		p.PaymentStatus = models.PaymentStatusCompleted
		p.PaymentMethod = models.PaymentMethodGateway
		p.Metadata.PaymentInProgress = false
		p.Metadata.PaymentPageCreatedAt = nil
		if err := s.db.Save(&p).Error; err != nil {
			log.Printf("failed to complete purchase %d for order %s: %v", p.ID, session.OrderID, err)
			return err
		}
		completed = append(completed, p)
	}

	s.deactivateSession(session)

	if len(completed) == 0 {
		// Gateway retried a notification we already processed
		return nil
	}

	s.scheduleFollowUps(session, completed, completedAt)

	if s.webhook.Enabled() {
		if err := s.webhook.NotifyEvent("payment_completed", map[string]interface{}{
			"order_id":  session.OrderID,
			"user_id":   session.UserID,
			"amount":    session.Amount,
			"purchases": len(completed),
		}); err != nil {
			log.Printf("ops webhook notify failed for order %s: %v", session.OrderID, err)
		}
	}
	return nil
}

// scheduleFollowUps enqueues the receipt email and, for subscription
// purchases, a monthly renewal reminder
func (s *CheckoutService) scheduleFollowUps(session *models.PaymentSession, completed []models.Purchase, completedAt time.Time) {
	receipt := models.ScheduledTask{
		TaskName: models.TaskSendPurchaseReceipt,
		Arguments: map[string]interface{}{
			"user_id":  session.UserID,
			"order_id": session.OrderID,
		},
		Due:        completedAt,
		Status:     models.ScheduledTaskStatusActive,
		TaskType:   models.ScheduledTaskTypeOneTime,
		MaxAttempt: 3,
	}
	if err := s.db.Create(&receipt).Error; err != nil {
		log.Printf("failed to schedule receipt for order %s: %v", session.OrderID, err)
	}

	monthly := "FREQ=MONTHLY"
	for _, p := range completed {
		if p.PurchasableType != models.ProductTypeSubscription {
			continue
		}
		reminder := models.ScheduledTask{
			TaskName: models.TaskSubscriptionRenewalReminder,
			Arguments: map[string]interface{}{
				"user_id":     session.UserID,
				"purchase_id": p.ID,
			},
			Due:               completedAt.AddDate(0, 1, -3),
			RecurringInterval: &monthly,
			Status:            models.ScheduledTaskStatusActive,
			TaskType:          models.ScheduledTaskTypeRecurring,
			MaxAttempt:        3,
		}
		if err := s.db.Create(&reminder).Error; err != nil {
			log.Printf("failed to schedule renewal reminder for purchase %d: %v", p.ID, err)
		}
	}
}

// RefundPurchase flips a completed purchase to refunded, records the refund
// and, for gateway-paid purchases, asks the gateway to return the money.
// Refunding releases the one-active-purchase constraint for the entity.
func (s *CheckoutService) RefundPurchase(purchaseID uint, reason string) (*models.Purchase, error) {
	var purchase models.Purchase
	if err := s.db.First(&purchase, purchaseID).Error; err != nil {
		return nil, err
	}

	if purchase.IsRefunded() {
		return nil, ErrAlreadyRefunded
	}
	if purchase.PaymentStatus != models.PaymentStatusCompleted {
		return nil, ErrNotRefundable
	}

	gateway := models.PaymentGatewayManual
	if purchase.PaymentMethod == models.PaymentMethodGateway && purchase.Metadata.OrderID != "" {
		if err := s.gateway.RefundTransaction(purchase.Metadata.OrderID, int64(purchase.PaymentAmount), reason); err != nil {
			return nil, err
		}
		gateway = models.PaymentGatewayMidtrans
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		purchase.PaymentStatus = models.PaymentStatusRefunded
		if err := tx.Save(&purchase).Error; err != nil {
			return err
		}
		refund := models.Refund{
			PurchaseID:     purchase.ID,
			UserID:         purchase.BuyerUserID,
			TotalRefund:    purchase.PaymentAmount,
			PaymentGateway: gateway,
			Reason:         reason,
			RefundDate:     s.now(),
		}
		return tx.Create(&refund).Error
	})
	if err != nil {
		log.Printf("failed to record refund for purchase %d: %v", purchaseID, err)
		return nil, err
	}

	if s.webhook.Enabled() {
		if err := s.webhook.NotifyEvent("refund_issued", map[string]interface{}{
			"purchase_id": purchase.ID,
			"user_id":     purchase.BuyerUserID,
			"amount":      purchase.PaymentAmount,
			"reason":      reason,
		}); err != nil {
			log.Printf("ops webhook notify failed for refund %d: %v", purchase.ID, err)
		}
	}

	return &purchase, nil
}
