package server

import (
	"fieldline/internal/domain"
	"fieldline/internal/repo"
)

type CreateCampaignRequest struct {
	Title       string  `json:"title" example:"River Water Quality 2026"`
	Description *string `json:"description,omitempty"`
	StartAt     *string `json:"start_at,omitempty" format:"date-time"`
	EndAt       *string `json:"end_at,omitempty" format:"date-time"`
}

type UpdateCampaignRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	IsDisabled  *bool   `json:"is_disabled,omitempty"`
	StartAt     *string `json:"start_at,omitempty" format:"date-time"`
	EndAt       *string `json:"end_at,omitempty" format:"date-time"`
	ClearEndAt  bool    `json:"clear_end_at,omitempty"`
}

type CampaignResponse struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	IsDisabled  bool    `json:"is_disabled"`
	StartAt     *string `json:"start_at,omitempty" format:"date-time"`
	EndAt       *string `json:"end_at,omitempty" format:"date-time"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

func campaignResponse(c domain.Campaign) CampaignResponse {
	return CampaignResponse{
		ID:          c.ID,
		Title:       c.Title,
		Description: c.Description,
		IsDisabled:  c.IsDisabled,
		StartAt:     c.StartAt,
		EndAt:       c.EndAt,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

func mapCampaigns(items []domain.Campaign) []CampaignResponse {
	res := make([]CampaignResponse, 0, len(items))
	for _, c := range items {
		res = append(res, campaignResponse(c))
	}
	return res
}

type CreateQuestionnaireRequest struct {
	Title         string `json:"title" example:"Daily observation log"`
	Condition     string `json:"condition" enum:"BEFORE,AFTER,DAILY,EVERY_X_DAYS"`
	FrequencyDays *int   `json:"frequency_days,omitempty" minimum:"1"`
	FormJSON      string `json:"form_json,omitempty"`
}

type QuestionnaireResponse struct {
	ID            string `json:"id"`
	CampaignID    string `json:"campaign_id"`
	Title         string `json:"title"`
	Condition     string `json:"condition"`
	FrequencyDays *int   `json:"frequency_days,omitempty"`
	FormJSON      string `json:"form_json,omitempty"`
	CreatedAt     string `json:"created_at" format:"date-time"`
}

func questionnaireResponse(q domain.Questionnaire) QuestionnaireResponse {
	return QuestionnaireResponse{
		ID:            q.ID,
		CampaignID:    q.CampaignID,
		Title:         q.Title,
		Condition:     q.Condition,
		FrequencyDays: q.FrequencyDays,
		FormJSON:      q.FormJSON,
		CreatedAt:     q.CreatedAt,
	}
}

func mapQuestionnaires(items []domain.Questionnaire) []QuestionnaireResponse {
	res := make([]QuestionnaireResponse, 0, len(items))
	for _, q := range items {
		res = append(res, questionnaireResponse(q))
	}
	return res
}

type PendingQuestionnaireResponse struct {
	QuestionnaireResponse
	Reason string `json:"reason" example:"DAILY: no answer today"`
}

func mapPending(items []domain.PendingQuestionnaire) []PendingQuestionnaireResponse {
	res := make([]PendingQuestionnaireResponse, 0, len(items))
	for _, p := range items {
		res = append(res, PendingQuestionnaireResponse{
			QuestionnaireResponse: questionnaireResponse(p.Questionnaire),
			Reason:                p.Reason,
		})
	}
	return res
}

type SubmitResponseRequest struct {
	AnswersJSON string `json:"answers_json"`
	// FormJSON optionally snapshots the form schema the client rendered;
	// defaults to the questionnaire's current schema.
	FormJSON string `json:"form_json,omitempty"`
}

type ResponseResponse struct {
	ID              string `json:"id"`
	UserID          string `json:"user_id"`
	QuestionnaireID string `json:"questionnaire_id"`
	Condition       string `json:"condition"`
	FormJSON        string `json:"form_json,omitempty"`
	AnswersJSON     string `json:"answers_json"`
	CreatedAt       string `json:"created_at" format:"date-time"`
}

func responseResponse(r domain.Response) ResponseResponse {
	return ResponseResponse{
		ID:              r.ID,
		UserID:          r.UserID,
		QuestionnaireID: r.QuestionnaireID,
		Condition:       r.Condition,
		FormJSON:        r.FormJSON,
		AnswersJSON:     r.AnswersJSON,
		CreatedAt:       r.CreatedAt,
	}
}

func mapResponses(items []domain.Response) []ResponseResponse {
	res := make([]ResponseResponse, 0, len(items))
	for _, r := range items {
		res = append(res, responseResponse(r))
	}
	return res
}

type RegisterUserRequest struct {
	Subject     string `json:"subject"`
	DisplayName string `json:"display_name,omitempty"`
}

type UserResponse struct {
	ID          string `json:"id"`
	Subject     string `json:"subject"`
	DisplayName string `json:"display_name,omitempty"`
	IsAdmin     bool   `json:"is_admin"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

func userResponse(u domain.User) UserResponse {
	return UserResponse{
		ID:          u.ID,
		Subject:     u.Subject,
		DisplayName: u.DisplayName,
		IsAdmin:     u.IsAdmin,
		CreatedAt:   u.CreatedAt,
	}
}

type MemberResponse struct {
	UserResponse
	JoinedAt string `json:"joined_at" format:"date-time"`
}

func mapMembers(items []repo.Member) []MemberResponse {
	res := make([]MemberResponse, 0, len(items))
	for _, m := range items {
		res = append(res, MemberResponse{UserResponse: userResponse(m.User), JoinedAt: m.JoinedAt})
	}
	return res
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	CampaignID string `json:"campaign_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

func mapEvents(items []domain.Event) []EventResponse {
	res := make([]EventResponse, 0, len(items))
	for _, e := range items {
		res = append(res, EventResponse{
			ID:         e.ID,
			TS:         e.TS,
			Type:       e.Type,
			CampaignID: e.CampaignID,
			EntityKind: e.EntityKind,
			EntityID:   e.EntityID,
			ActorID:    e.ActorID,
			Payload:    e.Payload,
		})
	}
	return res
}
