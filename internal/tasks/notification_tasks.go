package tasks

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/omriozer/ludora-checkout/internal/models"
	"github.com/omriozer/ludora-checkout/internal/services"
)

// SendPurchaseReceiptTaskDef emails a receipt for a completed order
type SendPurchaseReceiptTaskDef struct{}

// TaskID returns the unique identifier for this task
func (t *SendPurchaseReceiptTaskDef) TaskID() string {
	return models.TaskSendPurchaseReceipt
}

// HandleExecution builds the receipt from the order's completed purchases
// and sends it to the buyer
func (t *SendPurchaseReceiptTaskDef) HandleExecution(ctx context.Context, db *gorm.DB, task models.ScheduledTask) (map[string]interface{}, error) {
	userID, ok := argUint(task.Arguments, "user_id")
	if !ok {
		return nil, fmt.Errorf("missing user_id argument")
	}
	orderID, ok := argString(task.Arguments, "order_id")
	if !ok {
		return nil, fmt.Errorf("missing order_id argument")
	}

	var user models.User
	if err := db.First(&user, userID).Error; err != nil {
		return nil, fmt.Errorf("receipt user %d not found: %w", userID, err)
	}
	if user.Email == "" {
		return map[string]interface{}{"status": "skipped", "reason": "user has no email"}, nil
	}

	var completed []models.Purchase
	err := db.
		Where("buyer_user_id = ? AND payment_status = ?", userID, models.PaymentStatusCompleted).
		Find(&completed).Error
	if err != nil {
		return nil, err
	}

	var lines []string
	var items []models.Purchase
	for _, p := range completed {
		if p.Metadata.OrderID != orderID {
			continue
		}
		items = append(items, p)
		lines = append(lines, fmt.Sprintf("- %s %s: %.2f", p.PurchasableType, p.PurchasableID, p.PaymentAmount))
	}
	if len(items) == 0 {
		return map[string]interface{}{"status": "skipped", "reason": "no completed purchases for order"}, nil
	}

	body := fmt.Sprintf("Hi %s,\n\nThanks for your purchase (order %s).\n\n%s\n\nTotal: %.2f\n",
		user.Name, orderID, strings.Join(lines, "\n"), models.TotalPrice(items))

	email := services.NewEmailService()
	if err := email.SendEmail([]string{user.Email}, fmt.Sprintf("Your receipt for order %s", orderID), body); err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"status": "success",
		"items":  len(items),
	}, nil
}

// SendPurchaseReceiptTask is the singleton instance
var SendPurchaseReceiptTask = &SendPurchaseReceiptTaskDef{}

// SubscriptionRenewalReminderTaskDef emails the buyer ahead of a
// subscription renewal. The reminder stops once the purchase is refunded.
type SubscriptionRenewalReminderTaskDef struct{}

// TaskID returns the unique identifier for this task
func (t *SubscriptionRenewalReminderTaskDef) TaskID() string {
	return models.TaskSubscriptionRenewalReminder
}

// HandleExecution sends the reminder if the subscription is still active
func (t *SubscriptionRenewalReminderTaskDef) HandleExecution(ctx context.Context, db *gorm.DB, task models.ScheduledTask) (map[string]interface{}, error) {
	userID, ok := argUint(task.Arguments, "user_id")
	if !ok {
		return nil, fmt.Errorf("missing user_id argument")
	}
	purchaseID, ok := argUint(task.Arguments, "purchase_id")
	if !ok {
		return nil, fmt.Errorf("missing purchase_id argument")
	}

	var purchase models.Purchase
	if err := db.First(&purchase, purchaseID).Error; err != nil {
		return nil, fmt.Errorf("subscription purchase %d not found: %w", purchaseID, err)
	}
	if purchase.IsRefunded() {
		return map[string]interface{}{"status": "skipped", "reason": "subscription refunded"}, nil
	}

	var user models.User
	if err := db.First(&user, userID).Error; err != nil {
		return nil, fmt.Errorf("reminder user %d not found: %w", userID, err)
	}
	if user.Email == "" {
		return map[string]interface{}{"status": "skipped", "reason": "user has no email"}, nil
	}

	body := fmt.Sprintf("Hi %s,\n\nYour %s subscription (%s) renews soon at %.2f.\n",
		user.Name, purchase.PurchasableID, purchase.PurchasableType, purchase.PaymentAmount)

	email := services.NewEmailService()
	if err := email.SendEmail([]string{user.Email}, "Your subscription renews soon", body); err != nil {
		return nil, err
	}

	return map[string]interface{}{"status": "success"}, nil
}

// SubscriptionRenewalReminderTask is the singleton instance
var SubscriptionRenewalReminderTask = &SubscriptionRenewalReminderTaskDef{}
