package core

import "strings"

// Role tags a prompt message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PromptMessage is one role-tagged message of a prompt.
type PromptMessage struct {
	Role    Role   `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

// Prompt is an ordered sequence of messages. Order is preserved as the
// backend's conversational context.
type Prompt []PromptMessage

// Text builds a single user message prompt.
func Text(s string) Prompt { return Prompt{{Role: RoleUser, Content: s}} }

// Messages builds a prompt from messages, preserving order.
func Messages(msgs ...PromptMessage) Prompt { return Prompt(msgs) }

// System returns the concatenated content of the system messages.
func (p Prompt) System() string {
	var parts []string
	for _, m := range p {
		if m.Role == RoleSystem && m.Content != "" {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Conversation returns the non-system messages in order.
func (p Prompt) Conversation() Prompt {
	out := make(Prompt, 0, len(p))
	for _, m := range p {
		if m.Role != RoleSystem {
			out = append(out, m)
		}
	}
	return out
}

// Flatten renders the prompt as one string for backends that accept a single
// text input. A lone user message is returned verbatim; otherwise each
// message is prefixed with its role.
func (p Prompt) Flatten() string {
	if len(p) == 1 && p[0].Role == RoleUser {
		return p[0].Content
	}
	var b strings.Builder
	for i, m := range p {
		if i > 0 {
			b.WriteString("\n\n")
		}
		role := m.Role
		if role == "" {
			role = RoleUser
		}
		b.WriteString(string(role))
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}

// Empty reports whether the prompt carries no content at all.
func (p Prompt) Empty() bool {
	for _, m := range p {
		if strings.TrimSpace(m.Content) != "" {
			return false
		}
	}
	return true
}
