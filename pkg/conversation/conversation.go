// Package conversation manages per-session message history: append-order
// role-tagged messages, round accounting, token accounting, and bounded-memory
// compression of old rounds.
package conversation

import (
	"time"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one role-tagged entry in a session history.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Tokens    int       `json:"tokens,omitempty"`
	IsSummary bool      `json:"is_summary,omitempty"`
}

// NewUserMessage builds a user message stamped with the current time.
func NewUserMessage(content string) Message {
	return Message{
		Role:      RoleUser,
		Content:   content,
		Timestamp: time.Now(),
		Tokens:    CountTokens(content),
	}
}

// NewAssistantMessage builds an assistant message stamped with the current time.
func NewAssistantMessage(content string) Message {
	return Message{
		Role:      RoleAssistant,
		Content:   content,
		Timestamp: time.Now(),
		Tokens:    CountTokens(content),
	}
}

// NewSystemMessage builds a system message stamped with the current time.
func NewSystemMessage(content string) Message {
	return Message{
		Role:      RoleSystem,
		Content:   content,
		Timestamp: time.Now(),
		Tokens:    CountTokens(content),
	}
}

// CountRounds returns the number of user turns in the history. A round is one
// user message plus whatever the assistant replied; system messages do not
// count toward rounds.
func CountRounds(messages []Message) int {
	rounds := 0
	for _, msg := range messages {
		if msg.Role == RoleUser {
			rounds++
		}
	}
	return rounds
}

// TotalTokens sums the token counts of all messages, computing any missing
// counts on the fly.
func TotalTokens(messages []Message) int {
	total := 0
	for _, msg := range messages {
		if msg.Tokens > 0 {
			total += msg.Tokens
			continue
		}
		total += CountTokens(msg.Content)
	}
	return total
}

// LastN returns the last n messages, or all of them when n exceeds the length.
func LastN(messages []Message, n int) []Message {
	if n >= len(messages) {
		return messages
	}
	return messages[len(messages)-n:]
}
