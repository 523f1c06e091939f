package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/gorm"

	"github.com/omriozer/ludora-checkout/internal/models"
	"github.com/omriozer/ludora-checkout/internal/services"
	"github.com/omriozer/ludora-checkout/internal/tasks"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment")
	}

	// Initialize Database
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL not set")
	}

	db, err := services.InitDB(databaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Initialize Task Registry
	tasks.DefineTasks()

	// Make sure the recurring maintenance tasks exist
	ensureMaintenanceTasks(db)

	log.Println("Worker started. Waiting for next tick...")

	// Create context that cancels on interrupt
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		log.Println("Shutting down worker...")
		cancel()
	}()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	// Run once immediately so a restart doesn't delay overdue tasks by a tick
	processScheduledTasks(ctx, db)

	for {
		select {
		case <-ticker.C:
			processScheduledTasks(ctx, db)
		case <-ctx.Done():
			return
		}
	}
}

// ensureMaintenanceTasks seeds the recurring cleanup tasks on first run so a
// fresh deployment starts releasing stale payment markers and expiring
// abandoned carts without manual scheduling
func ensureMaintenanceTasks(db *gorm.DB) {
	every5m := "FREQ=MINUTELY;INTERVAL=5"
	daily := "FREQ=DAILY"

	seeds := []models.ScheduledTask{
		{
			TaskName:          models.TaskReleaseStalePayments,
			Arguments:         map[string]interface{}{},
			Due:               time.Now(),
			RecurringInterval: &every5m,
			Status:            models.ScheduledTaskStatusActive,
			TaskType:          models.ScheduledTaskTypeRecurring,
			MaxAttempt:        3,
		},
		{
			TaskName:          models.TaskExpireAbandonedCarts,
			Arguments:         map[string]interface{}{},
			Due:               time.Now(),
			RecurringInterval: &daily,
			Status:            models.ScheduledTaskStatusActive,
			TaskType:          models.ScheduledTaskTypeRecurring,
			MaxAttempt:        3,
		},
	}

	for _, seed := range seeds {
		var count int64
		err := db.Model(&models.ScheduledTask{}).
			Where("task_name = ? AND status = ?", seed.TaskName, models.ScheduledTaskStatusActive).
			Count(&count).Error
		if err != nil {
			log.Printf("Failed to check for existing %s task: %v", seed.TaskName, err)
			continue
		}
		if count > 0 {
			continue
		}
		if err := db.Create(&seed).Error; err != nil {
			log.Printf("Failed to seed %s task: %v", seed.TaskName, err)
		} else {
			log.Printf("Seeded recurring task: %s", seed.TaskName)
		}
	}
}

func processScheduledTasks(ctx context.Context, db *gorm.DB) {
	log.Println("Checking for pending tasks...")

	var pendingTasks []models.ScheduledTask
	now := time.Now()
	if err := db.Where("status = ? AND due <= ?", models.ScheduledTaskStatusActive, now).Find(&pendingTasks).Error; err != nil {
		log.Printf("Error fetching pending tasks: %v", err)
		return
	}

	if len(pendingTasks) == 0 {
		log.Println("No pending tasks found.")
		return
	}

	log.Printf("Found %d pending tasks.", len(pendingTasks))

	for _, task := range pendingTasks {
		if ctx.Err() != nil {
			return
		}
		executeTask(ctx, db, task, 1)
	}
}

func executeTask(ctx context.Context, db *gorm.DB, task models.ScheduledTask, curAttempt int) {
	log.Printf("Processing task: %s (ID: %d, attempt %d)", task.TaskName, task.ID, curAttempt)

	handler, found := tasks.GetHandler(task.TaskName)
	if !found {
		log.Printf("Task handler not found for: %s. Marking as failure.", task.TaskName)

		now := time.Now()
		db.Model(&task).Updates(map[string]interface{}{
			"status":   models.ScheduledTaskStatusFailure,
			"last_run": &now,
		})

		history := models.ScheduledTaskHistory{
			ScheduledTaskID: task.ID,
			TaskName:        task.TaskName,
			RunAt:           now,
			Status:          "handler_not_found",
			AttemptNumber:   curAttempt,
			Arguments:       task.Arguments,
			Result:          map[string]interface{}{"error": "Handler not found"},
		}
		db.Create(&history)
		return
	}

	// Execute task
	startTime := time.Now()
	result, err := handler(ctx, db, task)
	runtimeMs := int(time.Since(startTime).Milliseconds())

	status := "success"
	var resultData map[string]interface{}
	if err != nil {
		status = "failure"
		resultData = map[string]interface{}{"error": err.Error()}
		log.Printf("Task %s failed: %v", task.TaskName, err)
	} else {
		resultData = result
		log.Printf("Task %s completed successfully.", task.TaskName)
	}

	history := models.ScheduledTaskHistory{
		ScheduledTaskID: task.ID,
		TaskName:        task.TaskName,
		RunAt:           startTime,
		Runtime:         runtimeMs,
		Status:          status,
		AttemptNumber:   curAttempt,
		Arguments:       task.Arguments,
		Result:          resultData,
	}
	db.Create(&history)

	taskUpdates := map[string]interface{}{
		"last_run": &startTime,
	}

	if status != "success" {
		// Retry in-process until the attempt budget is spent
		if curAttempt < task.MaxAttempt {
			executeTask(ctx, db, task, curAttempt+1)
			return
		}
		taskUpdates["status"] = models.ScheduledTaskStatusFailure
	} else {
		switch task.TaskType {
		case models.ScheduledTaskTypeOneTime:
			taskUpdates["status"] = models.ScheduledTaskStatusDone
		case models.ScheduledTaskTypeRecurring:
			nextDue := task.NextDue()
			// A non-advancing due date would make the task run on every tick
			if nextDue.After(task.Due) {
				taskUpdates["status"] = models.ScheduledTaskStatusActive
				taskUpdates["due"] = nextDue
			} else {
				taskUpdates["status"] = models.ScheduledTaskStatusDone
			}
		}
	}

	db.Model(&task).Updates(taskUpdates)
}
