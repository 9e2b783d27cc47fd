package telegraph

import (
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/convoy/internal/models"
)

// Color constants for event severity.
const (
	ColorSuccess = "#36a64f"
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

// severityColor maps a severity string to a sidebar color.
func severityColor(severity string) string {
	switch severity {
	case "success":
		return ColorSuccess
	case "info":
		return ColorInfo
	case "warning":
		return ColorWarning
	case "error":
		return ColorError
	default:
		return ColorInfo
	}
}

// taskFields are the identifying fields shared by every task event.
func taskFields(task *models.Task) []Field {
	fields := []Field{
		{Name: "Account", Value: task.AccountID, Short: true},
		{Name: "Request", Value: task.ID, Short: true},
		{Name: "Conversations", Value: fmt.Sprintf("%d/%d completed", task.CompletedConversations, task.MaxConversations), Short: true},
		{Name: "Status", Value: string(task.Status), Short: true},
	}
	if task.SkillID != "" {
		fields = append(fields, Field{Name: "Skill", Value: task.SkillID, Short: true})
	}
	return fields
}

// FormatTaskConcluded formats a task that finished its conversations and was
// handed to analysis.
func FormatTaskConcluded(task *models.Task) FormattedEvent {
	var bodyParts []string
	if task.Scenario != "" {
		bodyParts = append(bodyParts, fmt.Sprintf("Scenario: %s", task.Scenario))
	}
	if task.ConcludedAt != nil && !task.CreatedAt.IsZero() {
		bodyParts = append(bodyParts, fmt.Sprintf("Ran for %s", task.ConcludedAt.Sub(task.CreatedAt).Round(time.Second)))
	}
	if task.ErrorReason != "" {
		bodyParts = append(bodyParts, fmt.Sprintf("Last error: %s", task.ErrorReason))
	}

	severity := "success"
	if task.CompletedConversations < task.MaxConversations {
		severity = "warning"
	}
	return FormattedEvent{
		Title:    fmt.Sprintf("Task %s concluded", task.ID),
		Body:     strings.Join(bodyParts, "\n"),
		Severity: severity,
		Color:    severityColor(severity),
		Fields:   taskFields(task),
	}
}

// FormatTaskFailed formats a task that was moved to ERROR.
func FormatTaskFailed(task *models.Task, reason string) FormattedEvent {
	if reason == "" {
		reason = task.ErrorReason
	}
	return FormattedEvent{
		Title:    fmt.Sprintf("Task %s failed", task.ID),
		Body:     reason,
		Severity: "error",
		Color:    ColorError,
		Fields:   taskFields(task),
	}
}
