package domain

// Provider-facing chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is the provider-agnostic chat message shape used by the model
// gateway and the provider integrations.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
