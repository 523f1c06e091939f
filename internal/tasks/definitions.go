package tasks

// DefineTasks registers all available tasks
func DefineTasks() {
	RegisterHandler(LogInfoTask.TaskID(), LogInfoTask.HandleExecution)

	// Purchase maintenance tasks
	RegisterHandler(ReleaseStalePaymentsTask.TaskID(), ReleaseStalePaymentsTask.HandleExecution)
	RegisterHandler(ExpireAbandonedCartsTask.TaskID(), ExpireAbandonedCartsTask.HandleExecution)

	// Notification tasks
	RegisterHandler(SendPurchaseReceiptTask.TaskID(), SendPurchaseReceiptTask.HandleExecution)
	RegisterHandler(SubscriptionRenewalReminderTask.TaskID(), SubscriptionRenewalReminderTask.HandleExecution)
}
