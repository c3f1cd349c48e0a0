package repo

import (
	"context"
	"database/sql"
	"strings"

	"fieldline/internal/domain"
)

func (r Repo) InsertResponseTx(ctx context.Context, tx *sql.Tx, resp domain.Response) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO responses(id,user_id,questionnaire_id,condition,form_json,answers_json,created_at) VALUES (?,?,?,?,?,?,?)`,
		resp.ID, resp.UserID, resp.QuestionnaireID, resp.Condition, nullable(resp.FormJSON), resp.AnswersJSON, resp.CreatedAt)
	return err
}

// LastResponseTx returns the most recent response a user gave to a
// questionnaire, read inside the caller's transaction so the admission check
// and the insert see the same state. Ties on created_at break on id.
func (r Repo) LastResponseTx(ctx context.Context, tx *sql.Tx, userID, questionnaireID string) (domain.Response, error) {
	row := tx.QueryRowContext(ctx, `SELECT id,user_id,questionnaire_id,condition,form_json,answers_json,created_at FROM responses
WHERE user_id=? AND questionnaire_id=? ORDER BY created_at DESC, id DESC LIMIT 1`, userID, questionnaireID)
	return scanResponse(row)
}

// LastResponse is the read-path variant of LastResponseTx.
func (r Repo) LastResponse(ctx context.Context, userID, questionnaireID string) (domain.Response, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,user_id,questionnaire_id,condition,form_json,answers_json,created_at FROM responses
WHERE user_id=? AND questionnaire_id=? ORDER BY created_at DESC, id DESC LIMIT 1`, userID, questionnaireID)
	return scanResponse(row)
}

func scanResponse(row *sql.Row) (domain.Response, error) {
	var resp domain.Response
	var form sql.NullString
	err := row.Scan(&resp.ID, &resp.UserID, &resp.QuestionnaireID, &resp.Condition, &form, &resp.AnswersJSON, &resp.CreatedAt)
	if err == sql.ErrNoRows {
		return resp, ErrNotFound
	}
	if err != nil {
		return resp, err
	}
	if form.Valid {
		resp.FormJSON = form.String
	}
	return resp, nil
}

// LastResponsesByQuestionnaire maps questionnaire id to the user's latest
// response for every questionnaire of a campaign, in one query.
func (r Repo) LastResponsesByQuestionnaire(ctx context.Context, userID, campaignID string) (map[string]domain.Response, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT r.id,r.user_id,r.questionnaire_id,r.condition,r.form_json,r.answers_json,r.created_at
FROM responses r JOIN questionnaires q ON q.id = r.questionnaire_id
WHERE r.user_id=? AND q.campaign_id=? ORDER BY r.created_at ASC, r.id ASC`, userID, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := make(map[string]domain.Response)
	for rows.Next() {
		var resp domain.Response
		var form sql.NullString
		if err := rows.Scan(&resp.ID, &resp.UserID, &resp.QuestionnaireID, &resp.Condition, &form, &resp.AnswersJSON, &resp.CreatedAt); err != nil {
			return nil, err
		}
		if form.Valid {
			resp.FormJSON = form.String
		}
		res[resp.QuestionnaireID] = resp
	}
	return res, rows.Err()
}

type ResponseFilters struct {
	UserID          string
	QuestionnaireID string
	CampaignID      string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListResponses(ctx context.Context, f ResponseFilters) ([]domain.Response, error) {
	clauses := []string{"1=1"}
	var args []any
	join := ""
	if f.UserID != "" {
		clauses = append(clauses, "r.user_id=?")
		args = append(args, f.UserID)
	}
	if f.QuestionnaireID != "" {
		clauses = append(clauses, "r.questionnaire_id=?")
		args = append(args, f.QuestionnaireID)
	}
	if f.CampaignID != "" {
		join = " JOIN questionnaires q ON q.id = r.questionnaire_id"
		clauses = append(clauses, "q.campaign_id=?")
		args = append(args, f.CampaignID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(r.created_at < ? OR (r.created_at = ? AND r.id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := `SELECT r.id,r.user_id,r.questionnaire_id,r.condition,r.form_json,r.answers_json,r.created_at FROM responses r` + join + ` ` + where + ` ORDER BY r.created_at DESC, r.id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Response
	for rows.Next() {
		var resp domain.Response
		var form sql.NullString
		if err := rows.Scan(&resp.ID, &resp.UserID, &resp.QuestionnaireID, &resp.Condition, &form, &resp.AnswersJSON, &resp.CreatedAt); err != nil {
			return nil, err
		}
		if form.Valid {
			resp.FormJSON = form.String
		}
		res = append(res, resp)
	}
	return res, rows.Err()
}
