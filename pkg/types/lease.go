package types

import (
	"fmt"

	"github.com/google/uuid"
)

// holder identifies the agent and the session that owns a lease
// two sessions of the same agent are different holders
type Holder struct {
	AgentID   string `json:"agent_id" yaml:"agent_id"`
	SessionID string `json:"session_id" yaml:"session_id"`
}

// mints a holder with a fresh time-sortable session id
func NewHolder(agentID string) Holder {
	return Holder{
		AgentID:   agentID,
		SessionID: uuid.Must(uuid.NewV7()).String(),
	}
}

func (h Holder) IsZero() bool {
	return h.AgentID == "" && h.SessionID == ""
}

func (h Holder) String() string {
	if h.SessionID == "" {
		return h.AgentID
	}
	return fmt.Sprintf("%s/%s", h.AgentID, h.SessionID)
}
