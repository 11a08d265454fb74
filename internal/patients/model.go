package patients

import (
	"time"

	"github.com/google/uuid"
)

// Status tracks where a patient sits in the sales lifecycle.
type Status string

const (
	StatusLead    Status = "lead"
	StatusPatient Status = "patient"
	StatusStopped Status = "stopped"
)

// BotStatus says whether the automated agent answers this patient.
type BotStatus string

const (
	BotActive BotStatus = "active"
	BotPaused BotStatus = "paused"
)

// FollowUpStatus tracks the reactivation campaign state for a lead.
type FollowUpStatus string

const (
	FollowUpPending FollowUpStatus = "pending"
	FollowUpStopped FollowUpStatus = "stopped"
)

// Patient is one messaging contact and their conversational state.
type Patient struct {
	ID                  uuid.UUID      `json:"id"`
	Phone               string         `json:"phone"`
	DisplayName         string         `json:"display_name"`
	Status              Status         `json:"status"`
	BotStatus           BotStatus      `json:"bot_status"`
	HandoffAt           *time.Time     `json:"handoff_at,omitempty"`
	LastHumanResponseAt *time.Time     `json:"last_human_response_at,omitempty"`
	FollowUpCount       int            `json:"follow_up_count"`
	FollowUpStatus      FollowUpStatus `json:"follow_up_status"`
	LastInteractionAt   time.Time      `json:"last_interaction_at"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}
