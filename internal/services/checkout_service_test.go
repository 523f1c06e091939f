package services

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/midtrans/midtrans-go/snap"
	"gorm.io/gorm"

	"github.com/omriozer/ludora-checkout/internal/models"
)

type gatewayStub struct {
	createCalls int
	checkStatus string
	checkErr    error
	canceled    []string
	refunded    []string
	refundErr   error
}

func (g *gatewayStub) CreateTransaction(orderID string, amount int64, param *snap.Request) (*snap.Response, error) {
	g.createCalls++
	return &snap.Response{
		Token:       "tok-" + orderID,
		RedirectURL: "https://pay.example/" + orderID,
	}, nil
}

func (g *gatewayStub) CheckTransaction(orderID string) (*coreapi.TransactionStatusResponse, error) {
	if g.checkErr != nil {
		return nil, g.checkErr
	}
	return &coreapi.TransactionStatusResponse{
		OrderID:           orderID,
		TransactionStatus: g.checkStatus,
	}, nil
}

func (g *gatewayStub) CancelTransaction(orderID string) error {
	g.canceled = append(g.canceled, orderID)
	return nil
}

func (g *gatewayStub) RefundTransaction(orderID string, amount int64, reason string) error {
	if g.refundErr != nil {
		return g.refundErr
	}
	g.refunded = append(g.refunded, orderID)
	return nil
}

func (g *gatewayStub) VerifySignature(orderID, statusCode, grossAmount, signatureKey string) bool {
	return true
}

func newCheckoutFixture(t *testing.T) (*gorm.DB, *CheckoutService, *gatewayStub, models.User) {
	t.Helper()
	db := newTestDB(t)
	user := seedUser(t, db, "uid-1", "buyer@example.com")
	stub := &gatewayStub{checkStatus: "pending"}
	svc := NewCheckoutService(db, stub, nil, nil)
	return db, svc, stub, user
}

func seedCartPurchase(t *testing.T, db *gorm.DB, userID uint, productType models.ProductType, entityID string, amount float64) models.Purchase {
	t.Helper()
	p := models.Purchase{
		BuyerUserID:     userID,
		PurchasableType: productType,
		PurchasableID:   entityID,
		PaymentStatus:   models.PaymentStatusCart,
		PaymentAmount:   amount,
		OriginalPrice:   amount,
		Metadata:        models.PurchaseMetadata{CreatedVia: models.CreatedViaAddToCart},
	}
	if err := db.Create(&p).Error; err != nil {
		t.Fatalf("failed to seed cart purchase: %v", err)
	}
	return p
}

func TestInitiateCheckoutEmptyCart(t *testing.T) {
	_, svc, _, user := newCheckoutFixture(t)

	_, err := svc.InitiateCheckout(context.Background(), user, false, "https://app.example/finish")
	if !errors.Is(err, ErrEmptyCart) {
		t.Errorf("expected ErrEmptyCart, got %v", err)
	}
}

func TestInitiateCheckoutStampsCart(t *testing.T) {
	db, svc, _, user := newCheckoutFixture(t)
	seedCartPurchase(t, db, user.ID, models.ProductTypeFile, "f1", 50)
	seedCartPurchase(t, db, user.ID, models.ProductTypeCourse, "c1", 120)

	result, err := svc.InitiateCheckout(context.Background(), user, false, "https://app.example/finish")
	if err != nil {
		t.Fatalf("InitiateCheckout() error = %v", err)
	}
	if result.IsExisting {
		t.Error("expected a fresh session")
	}
	if result.Token == "" || result.RedirectURL == "" {
		t.Errorf("expected gateway token and redirect URL, got %+v", result)
	}
	if result.Amount != 170 {
		t.Errorf("expected amount 170, got %v", result.Amount)
	}

	var purchases []models.Purchase
	if err := db.Where("buyer_user_id = ?", user.ID).Find(&purchases).Error; err != nil {
		t.Fatalf("failed to reload purchases: %v", err)
	}
	for _, p := range purchases {
		if !p.Metadata.PaymentInProgress {
			t.Errorf("purchase %d missing in-progress marker", p.ID)
		}
		if p.Metadata.OrderID != result.OrderID {
			t.Errorf("purchase %d not stamped with order %s", p.ID, result.OrderID)
		}
		if p.Metadata.PaymentPageCreatedAt == nil {
			t.Errorf("purchase %d missing payment page timestamp", p.ID)
		}
	}

	var session models.PaymentSession
	if err := db.Where("order_id = ?", result.OrderID).First(&session).Error; err != nil {
		t.Fatalf("expected a payment session record: %v", err)
	}
	if !session.IsActive || session.Amount != 170 {
		t.Errorf("unexpected session state: %+v", session)
	}
}

func TestInitiateCheckoutReusesPendingSession(t *testing.T) {
	db, svc, stub, user := newCheckoutFixture(t)
	seedCartPurchase(t, db, user.ID, models.ProductTypeFile, "f1", 50)

	first, err := svc.InitiateCheckout(context.Background(), user, false, "https://app.example/finish")
	if err != nil {
		t.Fatalf("first checkout failed: %v", err)
	}

	second, err := svc.InitiateCheckout(context.Background(), user, false, "https://app.example/finish")
	if err != nil {
		t.Fatalf("second checkout failed: %v", err)
	}
	if !second.IsExisting {
		t.Error("expected the pending session to be reused")
	}
	if second.OrderID != first.OrderID {
		t.Errorf("expected order %s, got %s", first.OrderID, second.OrderID)
	}
	if stub.createCalls != 1 {
		t.Errorf("expected a single gateway transaction, got %d", stub.createCalls)
	}
}

func TestInitiateCheckoutForceNewCancelsPending(t *testing.T) {
	db, svc, stub, user := newCheckoutFixture(t)
	seedCartPurchase(t, db, user.ID, models.ProductTypeFile, "f1", 50)

	first, err := svc.InitiateCheckout(context.Background(), user, false, "https://app.example/finish")
	if err != nil {
		t.Fatalf("first checkout failed: %v", err)
	}

	second, err := svc.InitiateCheckout(context.Background(), user, true, "https://app.example/finish")
	if err != nil {
		t.Fatalf("forced checkout failed: %v", err)
	}
	if second.IsExisting {
		t.Error("expected a fresh session after forceNew")
	}
	if second.OrderID == first.OrderID {
		t.Error("expected a new order ID")
	}
	if len(stub.canceled) != 1 || stub.canceled[0] != first.OrderID {
		t.Errorf("expected cancellation of %s, got %v", first.OrderID, stub.canceled)
	}

	var oldSession models.PaymentSession
	if err := db.Where("order_id = ?", first.OrderID).First(&oldSession).Error; err != nil {
		t.Fatalf("failed to reload first session: %v", err)
	}
	if oldSession.IsActive {
		t.Error("expected the first session to be deactivated")
	}
}

func TestInitiateCheckoutBlocksWhenAlreadyPaid(t *testing.T) {
	db, svc, stub, user := newCheckoutFixture(t)
	seedCartPurchase(t, db, user.ID, models.ProductTypeFile, "f1", 50)

	if _, err := svc.InitiateCheckout(context.Background(), user, false, "https://app.example/finish"); err != nil {
		t.Fatalf("first checkout failed: %v", err)
	}

	stub.checkStatus = "settlement"
	_, err := svc.InitiateCheckout(context.Background(), user, false, "https://app.example/finish")
	if !errors.Is(err, ErrPaymentAlreadyMade) {
		t.Errorf("expected ErrPaymentAlreadyMade, got %v", err)
	}
}

func settlementPayload(orderID string) map[string]interface{} {
	return map[string]interface{}{
		"order_id":           orderID,
		"transaction_status": "settlement",
		"status_code":        "200",
		"gross_amount":       "170.00",
		"signature_key":      "sig",
	}
}

func TestCallbackSettlementCompletesOrder(t *testing.T) {
	db, svc, _, user := newCheckoutFixture(t)
	seedCartPurchase(t, db, user.ID, models.ProductTypeFile, "f1", 50)
	seedCartPurchase(t, db, user.ID, models.ProductTypeSubscription, "sub-basic", 120)

	result, err := svc.InitiateCheckout(context.Background(), user, false, "https://app.example/finish")
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	if err := svc.HandleGatewayCallback(settlementPayload(result.OrderID)); err != nil {
		t.Fatalf("HandleGatewayCallback() error = %v", err)
	}

	var purchases []models.Purchase
	if err := db.Where("buyer_user_id = ?", user.ID).Find(&purchases).Error; err != nil {
		t.Fatalf("failed to reload purchases: %v", err)
	}
	for _, p := range purchases {
		if p.PaymentStatus != models.PaymentStatusCompleted {
			t.Errorf("purchase %d not completed: %s", p.ID, p.PaymentStatus)
		}
		if p.PaymentMethod != models.PaymentMethodGateway {
			t.Errorf("purchase %d missing gateway payment method", p.ID)
		}
		if p.Metadata.PaymentInProgress {
			t.Errorf("purchase %d still flagged in-progress", p.ID)
		}
	}

	var session models.PaymentSession
	if err := db.Where("order_id = ?", result.OrderID).First(&session).Error; err != nil {
		t.Fatalf("failed to reload session: %v", err)
	}
	if session.IsActive {
		t.Error("expected the session to be deactivated")
	}

	var historyCount int64
	db.Model(&models.PaymentCallbackHistory{}).Where("order_id = ?", result.OrderID).Count(&historyCount)
	if historyCount != 1 {
		t.Errorf("expected 1 archived callback, got %d", historyCount)
	}

	var receiptCount int64
	db.Model(&models.ScheduledTask{}).Where("task_name = ?", models.TaskSendPurchaseReceipt).Count(&receiptCount)
	if receiptCount != 1 {
		t.Errorf("expected 1 receipt task, got %d", receiptCount)
	}

	var reminderCount int64
	db.Model(&models.ScheduledTask{}).Where("task_name = ?", models.TaskSubscriptionRenewalReminder).Count(&reminderCount)
	if reminderCount != 1 {
		t.Errorf("expected 1 renewal reminder for the subscription purchase, got %d", reminderCount)
	}
}

func TestCallbackSettlementIsIdempotent(t *testing.T) {
	db, svc, _, user := newCheckoutFixture(t)
	seedCartPurchase(t, db, user.ID, models.ProductTypeFile, "f1", 50)

	result, err := svc.InitiateCheckout(context.Background(), user, false, "https://app.example/finish")
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	if err := svc.HandleGatewayCallback(settlementPayload(result.OrderID)); err != nil {
		t.Fatalf("first callback failed: %v", err)
	}
	if err := svc.HandleGatewayCallback(settlementPayload(result.OrderID)); err != nil {
		t.Fatalf("repeated callback failed: %v", err)
	}

	var receiptCount int64
	db.Model(&models.ScheduledTask{}).Where("task_name = ?", models.TaskSendPurchaseReceipt).Count(&receiptCount)
	if receiptCount != 1 {
		t.Errorf("repeated callback scheduled a duplicate receipt, got %d tasks", receiptCount)
	}
}

func TestCallbackExpireReleasesInProgress(t *testing.T) {
	db, svc, _, user := newCheckoutFixture(t)
	seedCartPurchase(t, db, user.ID, models.ProductTypeFile, "f1", 50)

	result, err := svc.InitiateCheckout(context.Background(), user, false, "https://app.example/finish")
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	payload := settlementPayload(result.OrderID)
	payload["transaction_status"] = "expire"
	if err := svc.HandleGatewayCallback(payload); err != nil {
		t.Fatalf("HandleGatewayCallback() error = %v", err)
	}

	var purchases []models.Purchase
	if err := db.Where("buyer_user_id = ?", user.ID).Find(&purchases).Error; err != nil {
		t.Fatalf("failed to reload purchases: %v", err)
	}
	for _, p := range purchases {
		if p.PaymentStatus != models.PaymentStatusCart {
			t.Errorf("purchase %d should stay in cart, got %s", p.ID, p.PaymentStatus)
		}
		if p.Metadata.PaymentInProgress {
			t.Errorf("purchase %d still flagged in-progress after expiry", p.ID)
		}
	}
}

func TestRefundPurchase(t *testing.T) {
	db, svc, stub, user := newCheckoutFixture(t)

	purchase := models.Purchase{
		BuyerUserID:     user.ID,
		PurchasableType: models.ProductTypeCourse,
		PurchasableID:   "c1",
		PaymentStatus:   models.PaymentStatusCompleted,
		PaymentMethod:   models.PaymentMethodGateway,
		PaymentAmount:   120,
		Metadata:        models.PurchaseMetadata{OrderID: "cart-1-test"},
	}
	if err := db.Create(&purchase).Error; err != nil {
		t.Fatalf("failed to seed purchase: %v", err)
	}

	refunded, err := svc.RefundPurchase(purchase.ID, "course canceled")
	if err != nil {
		t.Fatalf("RefundPurchase() error = %v", err)
	}
	if refunded.PaymentStatus != models.PaymentStatusRefunded {
		t.Errorf("expected refunded status, got %s", refunded.PaymentStatus)
	}
	if len(stub.refunded) != 1 || stub.refunded[0] != "cart-1-test" {
		t.Errorf("expected gateway refund for cart-1-test, got %v", stub.refunded)
	}

	var refund models.Refund
	if err := db.Where("purchase_id = ?", purchase.ID).First(&refund).Error; err != nil {
		t.Fatalf("expected a refund record: %v", err)
	}
	if refund.TotalRefund != 120 {
		t.Errorf("expected refund of 120, got %v", refund.TotalRefund)
	}

	if _, err := svc.RefundPurchase(purchase.ID, "again"); !errors.Is(err, ErrAlreadyRefunded) {
		t.Errorf("expected ErrAlreadyRefunded, got %v", err)
	}
}

func TestRefundPurchaseRejectsCartRecords(t *testing.T) {
	db, svc, _, user := newCheckoutFixture(t)
	purchase := seedCartPurchase(t, db, user.ID, models.ProductTypeFile, "f1", 50)

	if _, err := svc.RefundPurchase(purchase.ID, "nope"); !errors.Is(err, ErrNotRefundable) {
		t.Errorf("expected ErrNotRefundable, got %v", err)
	}
}

func TestCallbackBrokenSessionCheckDeactivates(t *testing.T) {
	db, svc, stub, user := newCheckoutFixture(t)
	seedCartPurchase(t, db, user.ID, models.ProductTypeFile, "f1", 50)

	first, err := svc.InitiateCheckout(context.Background(), user, false, "https://app.example/finish")
	if err != nil {
		t.Fatalf("first checkout failed: %v", err)
	}

	// Gateway status check failing means the local session is treated as
	// broken and a new transaction is opened
	stub.checkErr = errors.New("gateway unreachable")
	second, err := svc.InitiateCheckout(context.Background(), user, false, "https://app.example/finish")
	if err != nil {
		t.Fatalf("second checkout failed: %v", err)
	}
	if second.IsExisting || second.OrderID == first.OrderID {
		t.Errorf("expected a fresh session, got %+v", second)
	}

	var oldSession models.PaymentSession
	if err := db.Where("order_id = ?", first.OrderID).First(&oldSession).Error; err != nil {
		t.Fatalf("failed to reload first session: %v", err)
	}
	if oldSession.IsActive {
		t.Error("expected the broken session to be deactivated")
	}
}

func TestCallbackSettlementFailsClosedOnCartReadError(t *testing.T) {
	db, svc, _, user := newCheckoutFixture(t)
	seedCartPurchase(t, db, user.ID, models.ProductTypeFile, "f1", 50)

	result, err := svc.InitiateCheckout(context.Background(), user, false, "https://app.example/finish")
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	// A settlement arriving while the cart cannot be read must error out so
	// the gateway retries the notification instead of treating it as ACKed
	if err := db.Migrator().DropTable(&models.Purchase{}); err != nil {
		t.Fatalf("failed to drop purchases table: %v", err)
	}

	if err := svc.HandleGatewayCallback(settlementPayload(result.OrderID)); err == nil {
		t.Fatal("expected an error when the cart read fails during settlement")
	}

	var session models.PaymentSession
	if err := db.Where("order_id = ?", result.OrderID).First(&session).Error; err != nil {
		t.Fatalf("failed to reload session: %v", err)
	}
	if !session.IsActive {
		t.Error("session must stay active when the settlement could not be reconciled")
	}
}

func TestCallbackExpireFailsClosedOnCartReadError(t *testing.T) {
	db, svc, _, user := newCheckoutFixture(t)
	seedCartPurchase(t, db, user.ID, models.ProductTypeFile, "f1", 50)

	result, err := svc.InitiateCheckout(context.Background(), user, false, "https://app.example/finish")
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	if err := db.Migrator().DropTable(&models.Purchase{}); err != nil {
		t.Fatalf("failed to drop purchases table: %v", err)
	}

	payload := settlementPayload(result.OrderID)
	payload["transaction_status"] = "expire"
	if err := svc.HandleGatewayCallback(payload); err == nil {
		t.Fatal("expected an error when the in-progress release fails")
	}

	var session models.PaymentSession
	if err := db.Where("order_id = ?", result.OrderID).First(&session).Error; err != nil {
		t.Fatalf("failed to reload session: %v", err)
	}
	if !session.IsActive {
		t.Error("session must stay active when the release could not be applied")
	}
}

func TestInitiateCheckoutReplacesSessionWhenTotalChanges(t *testing.T) {
	db, svc, stub, user := newCheckoutFixture(t)
	seedCartPurchase(t, db, user.ID, models.ProductTypeFile, "f1", 50)

	first, err := svc.InitiateCheckout(context.Background(), user, false, "https://app.example/finish")
	if err != nil {
		t.Fatalf("first checkout failed: %v", err)
	}

	// A new item after the handoff changes the total; reusing the pending
	// session would charge the stale amount and skip the new item
	seedCartPurchase(t, db, user.ID, models.ProductTypeCourse, "c1", 120)

	second, err := svc.InitiateCheckout(context.Background(), user, false, "https://app.example/finish")
	if err != nil {
		t.Fatalf("second checkout failed: %v", err)
	}
	if second.IsExisting {
		t.Error("expected a fresh session after the cart total changed")
	}
	if second.OrderID == first.OrderID {
		t.Error("expected a new order ID")
	}
	if second.Amount != 170 {
		t.Errorf("expected the new total of 170, got %v", second.Amount)
	}
	if len(stub.canceled) != 1 || stub.canceled[0] != first.OrderID {
		t.Errorf("expected cancellation of %s, got %v", first.OrderID, stub.canceled)
	}

	var purchases []models.Purchase
	if err := db.Where("buyer_user_id = ?", user.ID).Find(&purchases).Error; err != nil {
		t.Fatalf("failed to reload purchases: %v", err)
	}
	for _, p := range purchases {
		if p.Metadata.OrderID != second.OrderID {
			t.Errorf("purchase %d still stamped with order %q", p.ID, p.Metadata.OrderID)
		}
	}
}

func TestDeactivateSessionLogsSaveFailure(t *testing.T) {
	db, svc, _, user := newCheckoutFixture(t)

	session := models.PaymentSession{
		UserID:         user.ID,
		PaymentGateway: models.PaymentGatewayMidtrans,
		OrderID:        "cart-1-dead",
		Amount:         50,
		IsActive:       true,
	}
	if err := db.Create(&session).Error; err != nil {
		t.Fatalf("failed to seed session: %v", err)
	}
	if err := db.Migrator().DropTable(&models.PaymentSession{}); err != nil {
		t.Fatalf("failed to drop sessions table: %v", err)
	}

	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	svc.deactivateSession(&session)

	if !strings.Contains(buf.String(), "failed to deactivate payment session cart-1-dead") {
		t.Errorf("expected the failed deactivation to be logged, got %q", buf.String())
	}
}

func TestCheckoutStampUsesInjectedClock(t *testing.T) {
	db, svc, _, user := newCheckoutFixture(t)
	seedCartPurchase(t, db, user.ID, models.ProductTypeFile, "f1", 50)

	fixed := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	if _, err := svc.InitiateCheckout(context.Background(), user, false, "https://app.example/finish"); err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	var purchase models.Purchase
	if err := db.Where("buyer_user_id = ?", user.ID).First(&purchase).Error; err != nil {
		t.Fatalf("failed to reload purchase: %v", err)
	}
	if purchase.Metadata.PaymentPageCreatedAt == nil || !purchase.Metadata.PaymentPageCreatedAt.Equal(fixed) {
		t.Errorf("expected payment page timestamp %v, got %v", fixed, purchase.Metadata.PaymentPageCreatedAt)
	}
}
