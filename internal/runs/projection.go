package runs

import (
	"github.com/tyin88/agentgw/internal/domain"
)

// Projections compute OpenAI-shaped views from native session state. The
// session remains the single source of truth; nothing here mutates it.

// ProjectThreadMessages maps a session's message history onto OpenAI
// thread.message objects with text content blocks.
func ProjectThreadMessages(threadID string, messages []domain.Message) []domain.ThreadMessage {
	projected := make([]domain.ThreadMessage, 0, len(messages))
	for _, msg := range messages {
		projected = append(projected, domain.ThreadMessage{
			ID:        msg.MessageID,
			Object:    "thread.message",
			CreatedAt: msg.CreatedAt.Unix(),
			ThreadID:  threadID,
			Role:      msg.Role,
			Content: []domain.MessageContent{{
				Type: "text",
				Text: &domain.MessageText{Value: msg.Content, Annotations: []interface{}{}},
			}},
			Metadata: map[string]string{},
		})
	}
	return projected
}
