package domain

type Campaign struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	IsDisabled  bool    `json:"is_disabled"`
	StartAt     *string `json:"start_at,omitempty" format:"date-time"`
	EndAt       *string `json:"end_at,omitempty" format:"date-time"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

type Questionnaire struct {
	ID            string `json:"id"`
	CampaignID    string `json:"campaign_id"`
	Title         string `json:"title"`
	Condition     string `json:"condition" enum:"BEFORE,AFTER,DAILY,EVERY_X_DAYS"`
	FrequencyDays *int   `json:"frequency_days,omitempty"`
	FormJSON      string `json:"form_json,omitempty"`
	CreatedAt     string `json:"created_at" format:"date-time"`
}

// Response is an append-only record of one submission. Condition and form
// schema are snapshotted at submission time so later edits to the
// questionnaire do not rewrite history.
type Response struct {
	ID              string `json:"id"`
	UserID          string `json:"user_id"`
	QuestionnaireID string `json:"questionnaire_id"`
	Condition       string `json:"condition"`
	FormJSON        string `json:"form_json,omitempty"`
	AnswersJSON     string `json:"answers_json"`
	CreatedAt       string `json:"created_at" format:"date-time"`
}

type User struct {
	ID          string `json:"id"`
	Subject     string `json:"subject"`
	DisplayName string `json:"display_name,omitempty"`
	IsAdmin     bool   `json:"is_admin"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type CampaignMember struct {
	CampaignID string `json:"campaign_id"`
	UserID     string `json:"user_id"`
	JoinedAt   string `json:"joined_at" format:"date-time"`
}

// PendingQuestionnaire pairs a questionnaire with the policy branch that made
// it pending. Produced fresh per query, never persisted.
type PendingQuestionnaire struct {
	Questionnaire
	Reason string `json:"reason"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	CampaignID string `json:"campaign_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
