package repo

import (
	"context"
	"database/sql"

	"fieldline/internal/domain"
)

func (r Repo) AddMemberTx(ctx context.Context, tx *sql.Tx, m domain.CampaignMember) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO campaign_members(campaign_id,user_id,joined_at) VALUES (?,?,?)`,
		m.CampaignID, m.UserID, m.JoinedAt)
	return err
}

func (r Repo) RemoveMemberTx(ctx context.Context, tx *sql.Tx, campaignID, userID string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM campaign_members WHERE campaign_id=? AND user_id=?`, campaignID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) IsMember(ctx context.Context, campaignID, userID string) (bool, error) {
	var one int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM campaign_members WHERE campaign_id=? AND user_id=?`, campaignID, userID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

type Member struct {
	domain.User
	JoinedAt string
}

func (r Repo) ListMembers(ctx context.Context, campaignID string) ([]Member, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT u.id,u.subject,u.display_name,u.is_admin,u.created_at,m.joined_at
FROM campaign_members m JOIN users u ON u.id = m.user_id
WHERE m.campaign_id=? ORDER BY m.joined_at ASC, u.id ASC`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Member
	for rows.Next() {
		var m Member
		var displayName sql.NullString
		var admin int
		if err := rows.Scan(&m.ID, &m.Subject, &displayName, &admin, &m.CreatedAt, &m.JoinedAt); err != nil {
			return nil, err
		}
		m.IsAdmin = admin != 0
		if displayName.Valid {
			m.DisplayName = displayName.String
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// ListMemberCampaigns returns campaigns a user has joined, newest first.
func (r Repo) ListMemberCampaigns(ctx context.Context, userID string) ([]domain.Campaign, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT c.id,c.title,c.description,c.is_disabled,c.start_at,c.end_at,c.created_at,c.updated_at
FROM campaign_members m JOIN campaigns c ON c.id = m.campaign_id
WHERE m.user_id=? ORDER BY c.created_at DESC, c.id DESC`, userID)
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
