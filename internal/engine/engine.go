package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"fieldline/internal/config"
	"fieldline/internal/domain"
	"fieldline/internal/events"
	"fieldline/internal/repo"
	"fieldline/internal/schedule"
)

// Engine owns all state transitions. HTTP handlers and CLI commands call
// into it; nothing else writes the database.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) *Engine {
	return &Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) location() *time.Location {
	if e.Config != nil {
		return e.Config.Location()
	}
	return time.UTC
}

type CreateCampaignOptions struct {
	Title       string
	Description string
	StartAt     *string
	EndAt       *string
	ActorID     string
}

func (e *Engine) CreateCampaign(ctx context.Context, opts CreateCampaignOptions) (domain.Campaign, error) {
	var c domain.Campaign
	if opts.Title == "" {
		return c, fmt.Errorf("title is required")
	}
	if err := validateTimestampPtr(opts.StartAt); err != nil {
		return c, fmt.Errorf("start_at: %w", err)
	}
	if err := validateTimestampPtr(opts.EndAt); err != nil {
		return c, fmt.Errorf("end_at: %w", err)
	}
	now := e.now().UTC().Format(time.RFC3339)
	c = domain.Campaign{
		ID:          uuid.New().String(),
		Title:       opts.Title,
		Description: opts.Description,
		StartAt:     opts.StartAt,
		EndAt:       opts.EndAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return c, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertCampaign(ctx, tx, c); err != nil {
		return c, err
	}
	if err := e.appendEvent(ctx, tx, "campaign.created", c.ID, "campaign", c.ID, opts.ActorID, events.EventPayload{"title": c.Title}); err != nil {
		return c, err
	}
	return c, tx.Commit()
}

type UpdateCampaignOptions struct {
	Title       *string
	Description *string
	IsDisabled  *bool
	StartAt     *string
	EndAt       *string
	ClearEndAt  bool
	ActorID     string
}

func (e *Engine) UpdateCampaign(ctx context.Context, id string, opts UpdateCampaignOptions) (domain.Campaign, error) {
	c, err := e.Repo.GetCampaign(ctx, id)
	if err != nil {
		return c, err
	}
	if opts.Title != nil {
		if *opts.Title == "" {
			return c, fmt.Errorf("title cannot be empty")
		}
		c.Title = *opts.Title
	}
	if opts.Description != nil {
		c.Description = *opts.Description
	}
	if opts.IsDisabled != nil {
		c.IsDisabled = *opts.IsDisabled
	}
	if opts.StartAt != nil {
		if err := validateTimestampPtr(opts.StartAt); err != nil {
			return c, fmt.Errorf("start_at: %w", err)
		}
		c.StartAt = opts.StartAt
	}
	if opts.ClearEndAt {
		c.EndAt = nil
	} else if opts.EndAt != nil {
		if err := validateTimestampPtr(opts.EndAt); err != nil {
			return c, fmt.Errorf("end_at: %w", err)
		}
		c.EndAt = opts.EndAt
	}
	c.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return c, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateCampaign(ctx, tx, c); err != nil {
		return c, err
	}
	if err := e.appendEvent(ctx, tx, "campaign.updated", c.ID, "campaign", c.ID, opts.ActorID, events.EventPayload{"title": c.Title, "is_disabled": c.IsDisabled}); err != nil {
		return c, err
	}
	return c, tx.Commit()
}

func (e *Engine) GetCampaign(ctx context.Context, id string) (domain.Campaign, error) {
	return e.Repo.GetCampaign(ctx, id)
}

func (e *Engine) ListCampaigns(ctx context.Context, f repo.CampaignFilters) ([]domain.Campaign, error) {
	return e.Repo.ListCampaigns(ctx, f)
}

type CreateQuestionnaireOptions struct {
	CampaignID    string
	Title         string
	Condition     string
	FrequencyDays *int
	FormJSON      string
	ActorID       string
}

func (e *Engine) CreateQuestionnaire(ctx context.Context, opts CreateQuestionnaireOptions) (domain.Questionnaire, error) {
	var q domain.Questionnaire
	if opts.Title == "" {
		return q, fmt.Errorf("title is required")
	}
	cond, err := schedule.ParseCondition(opts.Condition)
	if err != nil {
		return q, err
	}
	if cond == schedule.EveryXDays {
		if opts.FrequencyDays == nil || *opts.FrequencyDays <= 0 {
			return q, fmt.Errorf("condition EVERY_X_DAYS requires frequency_days >= 1")
		}
	} else if opts.FrequencyDays != nil {
		return q, fmt.Errorf("frequency_days only applies to EVERY_X_DAYS")
	}
	if _, err := e.Repo.GetCampaign(ctx, opts.CampaignID); err != nil {
		return q, err
	}
	q = domain.Questionnaire{
		ID:            uuid.New().String(),
		CampaignID:    opts.CampaignID,
		Title:         opts.Title,
		Condition:     string(cond),
		FrequencyDays: opts.FrequencyDays,
		FormJSON:      opts.FormJSON,
		CreatedAt:     e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return q, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertQuestionnaire(ctx, tx, q); err != nil {
		return q, err
	}
	if err := e.appendEvent(ctx, tx, "questionnaire.created", q.CampaignID, "questionnaire", q.ID, opts.ActorID, events.EventPayload{"title": q.Title, "condition": q.Condition}); err != nil {
		return q, err
	}
	return q, tx.Commit()
}

func (e *Engine) GetQuestionnaire(ctx context.Context, id string) (domain.Questionnaire, error) {
	return e.Repo.GetQuestionnaire(ctx, id)
}

func (e *Engine) ListQuestionnaires(ctx context.Context, campaignID string) ([]domain.Questionnaire, error) {
	return e.Repo.ListQuestionnaires(ctx, campaignID)
}

type RegisterUserOptions struct {
	Subject     string
	DisplayName string
	IsAdmin     bool
}

// RegisterUser creates a user record for an external identity. Registering an
// existing subject returns the existing record unchanged.
func (e *Engine) RegisterUser(ctx context.Context, opts RegisterUserOptions) (domain.User, error) {
	var u domain.User
	if opts.Subject == "" {
		return u, fmt.Errorf("subject is required")
	}
	if existing, err := e.Repo.GetUserBySubject(ctx, opts.Subject); err == nil {
		return existing, nil
	} else if err != repo.ErrNotFound {
		return u, err
	}
	u = domain.User{
		ID:          uuid.New().String(),
		Subject:     opts.Subject,
		DisplayName: opts.DisplayName,
		IsAdmin:     opts.IsAdmin,
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return u, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertUser(ctx, tx, u); err != nil {
		return u, err
	}
	if err := e.appendEvent(ctx, tx, "user.registered", "", "user", u.ID, u.ID, events.EventPayload{"subject": u.Subject}); err != nil {
		return u, err
	}
	return u, tx.Commit()
}

func (e *Engine) JoinCampaign(ctx context.Context, campaignID, userID, actorID string) (domain.CampaignMember, error) {
	var m domain.CampaignMember
	if _, err := e.Repo.GetCampaign(ctx, campaignID); err != nil {
		return m, err
	}
	if _, err := e.Repo.GetUser(ctx, userID); err != nil {
		return m, err
	}
	m = domain.CampaignMember{
		CampaignID: campaignID,
		UserID:     userID,
		JoinedAt:   e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return m, err
	}
	defer tx.Rollback()
	if err := e.Repo.AddMemberTx(ctx, tx, m); err != nil {
		return m, err
	}
	if err := e.appendEvent(ctx, tx, "member.joined", campaignID, "member", userID, actorID, nil); err != nil {
		return m, err
	}
	return m, tx.Commit()
}

func (e *Engine) LeaveCampaign(ctx context.Context, campaignID, userID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.RemoveMemberTx(ctx, tx, campaignID, userID); err != nil {
		return err
	}
	if err := e.appendEvent(ctx, tx, "member.left", campaignID, "member", userID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (e *Engine) ListMembers(ctx context.Context, campaignID string) ([]repo.Member, error) {
	if _, err := e.Repo.GetCampaign(ctx, campaignID); err != nil {
		return nil, err
	}
	return e.Repo.ListMembers(ctx, campaignID)
}

// PendingQuestionnaires computes the set a user still has to answer for a
// campaign, right now. A campaign that does not exist yields an empty set, so
// clients can poll with stale ids without special-casing.
func (e *Engine) PendingQuestionnaires(ctx context.Context, userID, campaignID string) ([]domain.PendingQuestionnaire, error) {
	campaign, err := e.Repo.GetCampaign(ctx, campaignID)
	if err == repo.ErrNotFound {
		log.Printf("pending: campaign %s not found", campaignID)
		return []domain.PendingQuestionnaire{}, nil
	}
	if err != nil {
		return nil, err
	}
	now := e.now()
	closed := campaignClosed(campaign, now)
	questionnaires, err := e.Repo.ListQuestionnaires(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	lastByQuestionnaire, err := e.Repo.LastResponsesByQuestionnaire(ctx, userID, campaignID)
	if err != nil {
		return nil, err
	}
	loc := e.location()
	pending := []domain.PendingQuestionnaire{}
	for _, q := range questionnaires {
		cond, err := schedule.ParseCondition(q.Condition)
		if err != nil {
			continue
		}
		var lastAt *time.Time
		if last, ok := lastByQuestionnaire[q.ID]; ok {
			t, err := time.Parse(time.RFC3339, last.CreatedAt)
			if err != nil {
				return nil, fmt.Errorf("response %s has invalid created_at: %w", last.ID, err)
			}
			lastAt = &t
		}
		reason, ok := schedule.Evaluate(cond, frequency(q), lastAt, closed, now, loc)
		if !ok {
			continue
		}
		pending = append(pending, domain.PendingQuestionnaire{Questionnaire: q, Reason: reason})
	}
	return pending, nil
}

type SaveResponseOptions struct {
	QuestionnaireID string
	// UserID or Subject identifies the contributor; UserID wins when both are set.
	UserID      string
	Subject     string
	AnswersJSON string
	// FormSnapshot overrides the questionnaire's current form schema on the
	// stored response. Empty means snapshot the current schema.
	FormSnapshot string
	ActorID      string
}

// SaveResponse records a submission after re-checking the recurrence policy.
// The last-response read, the admission check and the insert happen in one
// transaction so two concurrent submissions cannot both pass the guard.
func (e *Engine) SaveResponse(ctx context.Context, opts SaveResponseOptions) (domain.Response, error) {
	var resp domain.Response
	if opts.AnswersJSON == "" {
		return resp, fmt.Errorf("answers are required")
	}
	q, err := e.Repo.GetQuestionnaire(ctx, opts.QuestionnaireID)
	if err != nil {
		return resp, err
	}
	var user domain.User
	if opts.UserID != "" {
		user, err = e.Repo.GetUser(ctx, opts.UserID)
	} else {
		user, err = e.Repo.GetUserBySubject(ctx, opts.Subject)
	}
	if err != nil {
		return resp, err
	}
	if !user.IsAdmin {
		member, err := e.Repo.IsMember(ctx, q.CampaignID, user.ID)
		if err != nil {
			return resp, err
		}
		if !member {
			return resp, fmt.Errorf("user %s is not a member of campaign %s", user.ID, q.CampaignID)
		}
	}
	cond, err := schedule.ParseCondition(q.Condition)
	if err != nil {
		return resp, err
	}
	now := e.now()
	actorID := opts.ActorID
	if actorID == "" {
		actorID = user.ID
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return resp, err
	}
	defer tx.Rollback()

	var lastAt *time.Time
	last, err := e.Repo.LastResponseTx(ctx, tx, user.ID, q.ID)
	if err != nil && err != repo.ErrNotFound {
		return resp, err
	}
	if err == nil {
		t, perr := time.Parse(time.RFC3339, last.CreatedAt)
		if perr != nil {
			return resp, fmt.Errorf("response %s has invalid created_at: %w", last.ID, perr)
		}
		lastAt = &t
	}
	if err := schedule.Admit(cond, frequency(q), lastAt, now, e.location()); err != nil {
		return resp, err
	}
	form := q.FormJSON
	if opts.FormSnapshot != "" {
		form = opts.FormSnapshot
	}
	resp = domain.Response{
		ID:              uuid.New().String(),
		UserID:          user.ID,
		QuestionnaireID: q.ID,
		Condition:       q.Condition,
		FormJSON:        form,
		AnswersJSON:     opts.AnswersJSON,
		CreatedAt:       now.UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertResponseTx(ctx, tx, resp); err != nil {
		return resp, err
	}
	if err := e.appendEvent(ctx, tx, "response.created", q.CampaignID, "response", resp.ID, actorID, events.EventPayload{"questionnaire_id": q.ID, "condition": q.Condition}); err != nil {
		return resp, err
	}
	return resp, tx.Commit()
}

func (e *Engine) ListResponses(ctx context.Context, f repo.ResponseFilters) ([]domain.Response, error) {
	return e.Repo.ListResponses(ctx, f)
}

func (e *Engine) appendEvent(ctx context.Context, tx *sql.Tx, evtType, campaignID, entityKind, entityID, actorID string, payload events.EventPayload) error {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	if actorID == "" {
		actorID = "system"
	}
	return w.Append(ctx, tx, evtType, campaignID, entityKind, entityID, actorID, payload)
}

// campaignClosed reports whether a campaign no longer accepts activity: it is
// disabled, or its end instant lies strictly in the past. An end instant equal
// to now is not yet closed.
func campaignClosed(c domain.Campaign, now time.Time) bool {
	if c.IsDisabled {
		return true
	}
	if c.EndAt == nil || *c.EndAt == "" {
		return false
	}
	end, err := time.Parse(time.RFC3339, *c.EndAt)
	if err != nil {
		return false
	}
	return end.Before(now)
}

func frequency(q domain.Questionnaire) int {
	if q.FrequencyDays == nil {
		return 0
	}
	return *q.FrequencyDays
}

func validateTimestampPtr(v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	if _, err := time.Parse(time.RFC3339, *v); err != nil {
		return fmt.Errorf("invalid RFC3339 timestamp %q", *v)
	}
	return nil
}
