package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"fieldline/internal/config"
	"fieldline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertCampaign(ctx context.Context, tx *sql.Tx, c domain.Campaign) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO campaigns(id,title,description,is_disabled,start_at,end_at,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		c.ID, c.Title, nullable(c.Description), boolToInt(c.IsDisabled), nullableStringPtr(c.StartAt), nullableStringPtr(c.EndAt), c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) GetCampaign(ctx context.Context, id string) (domain.Campaign, error) {
	var c domain.Campaign
	var description, startAt, endAt sql.NullString
	var disabled int
	err := r.DB.QueryRowContext(ctx, `SELECT id,title,description,is_disabled,start_at,end_at,created_at,updated_at FROM campaigns WHERE id=?`, id).
		Scan(&c.ID, &c.Title, &description, &disabled, &startAt, &endAt, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.IsDisabled = disabled != 0
	if description.Valid {
		c.Description = description.String
	}
	if startAt.Valid {
		c.StartAt = &startAt.String
	}
	if endAt.Valid {
		c.EndAt = &endAt.String
	}
	return c, nil
}

type CampaignFilters struct {
	IncludeDisabled bool
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListCampaigns(ctx context.Context, f CampaignFilters) ([]domain.Campaign, error) {
	clauses := []string{"1=1"}
	var args []any
	if !f.IncludeDisabled {
		clauses = append(clauses, "is_disabled=0")
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := `SELECT id,title,description,is_disabled,start_at,end_at,created_at,updated_at FROM campaigns ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Campaign
	for rows.Next() {
		var c domain.Campaign
		var description, startAt, endAt sql.NullString
		var disabled int
		if err := rows.Scan(&c.ID, &c.Title, &description, &disabled, &startAt, &endAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.IsDisabled = disabled != 0
		if description.Valid {
			c.Description = description.String
		}
		if startAt.Valid {
			c.StartAt = &startAt.String
		}
		if endAt.Valid {
			c.EndAt = &endAt.String
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) UpdateCampaign(ctx context.Context, tx *sql.Tx, c domain.Campaign) error {
	res, err := tx.ExecContext(ctx, `UPDATE campaigns SET title=?, description=?, is_disabled=?, start_at=?, end_at=?, updated_at=? WHERE id=?`,
		c.Title, nullable(c.Description), boolToInt(c.IsDisabled), nullableStringPtr(c.StartAt), nullableStringPtr(c.EndAt), c.UpdatedAt, c.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertQuestionnaire(ctx context.Context, tx *sql.Tx, q domain.Questionnaire) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO questionnaires(id,campaign_id,title,condition,frequency_days,form_json,created_at) VALUES (?,?,?,?,?,?,?)`,
		q.ID, q.CampaignID, q.Title, q.Condition, nullableIntPtr(q.FrequencyDays), nullable(q.FormJSON), q.CreatedAt)
	return err
}

func (r Repo) GetQuestionnaire(ctx context.Context, id string) (domain.Questionnaire, error) {
	var q domain.Questionnaire
	var frequency sql.NullInt64
	var form sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,campaign_id,title,condition,frequency_days,form_json,created_at FROM questionnaires WHERE id=?`, id).
		Scan(&q.ID, &q.CampaignID, &q.Title, &q.Condition, &frequency, &form, &q.CreatedAt)
	if err == sql.ErrNoRows {
		return q, ErrNotFound
	}
	if err != nil {
		return q, err
	}
	if frequency.Valid {
		f := int(frequency.Int64)
		q.FrequencyDays = &f
	}
	if form.Valid {
		q.FormJSON = form.String
	}
	return q, nil
}

// ListQuestionnaires returns every questionnaire of a campaign in creation
// order. The pending-set calculator deliberately applies no further
// filtering here; all questionnaires of the campaign are candidates.
func (r Repo) ListQuestionnaires(ctx context.Context, campaignID string) ([]domain.Questionnaire, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,campaign_id,title,condition,frequency_days,form_json,created_at FROM questionnaires WHERE campaign_id=? ORDER BY created_at ASC, id ASC`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Questionnaire
	for rows.Next() {
		var q domain.Questionnaire
		var frequency sql.NullInt64
		var form sql.NullString
		if err := rows.Scan(&q.ID, &q.CampaignID, &q.Title, &q.Condition, &frequency, &form, &q.CreatedAt); err != nil {
			return nil, err
		}
		if frequency.Valid {
			f := int(frequency.Int64)
			q.FrequencyDays = &f
		}
		if form.Valid {
			q.FormJSON = form.String
		}
		res = append(res, q)
	}
	return res, rows.Err()
}

func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO users(id,subject,display_name,is_admin,created_at) VALUES (?,?,?,?,?)`,
		u.ID, u.Subject, nullable(u.DisplayName), boolToInt(u.IsAdmin), u.CreatedAt)
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT id,subject,display_name,is_admin,created_at FROM users WHERE id=?`, id))
}

// GetUserBySubject resolves the external identity (JWT sub) to a user record.
func (r Repo) GetUserBySubject(ctx context.Context, subject string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT id,subject,display_name,is_admin,created_at FROM users WHERE subject=?`, subject))
}

func scanUser(row *sql.Row) (domain.User, error) {
	var u domain.User
	var displayName sql.NullString
	var admin int
	err := row.Scan(&u.ID, &u.Subject, &displayName, &admin, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	u.IsAdmin = admin != 0
	if displayName.Valid {
		u.DisplayName = displayName.String
	}
	return u, nil
}

func (r Repo) UpsertAppConfig(ctx context.Context, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = r.DB.ExecContext(ctx, `INSERT INTO app_config(id,config_json,created_at,updated_at) VALUES (1,?,?,?)
ON CONFLICT(id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, string(payload), now, now)
	return err
}

func (r Repo) GetAppConfig(ctx context.Context) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM app_config WHERE id=1`).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	return &cfg, cfg.Validate()
}

func (r Repo) LatestEvents(ctx context.Context, limit int, campaignID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, campaignID, evtType, entityKind, entityID)
}

func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, campaignID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if campaignID != "" {
		clauses = append(clauses, "campaign_id=?")
		args = append(args, campaignID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,campaign_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, campaignID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if campaignID != "" {
		clauses = append(clauses, "campaign_id=?")
		args = append(args, campaignID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,campaign_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

func (r Repo) LatestEventID(ctx context.Context, campaignID string) (int64, error) {
	query := `SELECT COALESCE(MAX(id),0) FROM events`
	var args []any
	if campaignID != "" {
		query += ` WHERE campaign_id=?`
		args = append(args, campaignID)
	}
	var id int64
	err := r.DB.QueryRowContext(ctx, query, args...).Scan(&id)
	return id, err
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var campaignID, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &campaignID, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if campaignID.Valid {
			e.CampaignID = campaignID.String
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
