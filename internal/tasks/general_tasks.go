package tasks

import (
	"context"
	"log"

	"gorm.io/gorm"

	"github.com/omriozer/ludora-checkout/internal/models"
)

// LogInfoTaskDef is a no-op task used to smoke-test the worker pipeline
type LogInfoTaskDef struct{}

// TaskID returns the unique identifier for this task
func (t *LogInfoTaskDef) TaskID() string {
	return models.TaskLogInfo
}

// HandleExecution logs the configured message
func (t *LogInfoTaskDef) HandleExecution(ctx context.Context, db *gorm.DB, task models.ScheduledTask) (map[string]interface{}, error) {
	message, ok := argString(task.Arguments, "message")
	if !ok {
		message = "No message provided"
	}
	log.Printf("[Task: log_info] Message: %s", message)

	return map[string]interface{}{
		"status":  "success",
		"message": message,
	}, nil
}

// LogInfoTask is the singleton instance of LogInfoTaskDef
var LogInfoTask = &LogInfoTaskDef{}
