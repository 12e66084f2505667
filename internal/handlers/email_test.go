package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadmax/conductor/internal/resilience"
	"github.com/nadmax/conductor/internal/task"
)

func TestSendEmail_PayloadValidation(t *testing.T) {
	sender := NewEmailSender("test-key", "Conductor", "noreply@example.com")

	tests := []struct {
		name    string
		payload map[string]any
	}{
		{"missing to", map[string]any{"subject": "hi", "body": "text"}},
		{"missing subject", map[string]any{"to": "a@b.c", "body": "text"}},
		{"missing body", map[string]any{"to": "a@b.c", "subject": "hi"}},
		{"wrong field type", map[string]any{"to": 42, "subject": "hi", "body": "text"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tsk := task.NewTask("send_email", tt.payload, task.PriorityMedium)
			err := sender.SendEmail(context.Background(), tsk)
			require.Error(t, err)

			var catErr *resilience.CategoryError
			require.ErrorAs(t, err, &catErr)
			assert.Equal(t, resilience.CategoryValidation, catErr.Category)
		})
	}
}
