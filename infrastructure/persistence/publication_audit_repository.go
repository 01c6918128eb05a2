package persistence

import (
	"context"
	"database/sql"

	"smm-publisher/domain/model"
	"smm-publisher/domain/repository"
	"smm-publisher/infrastructure/utils"

	"github.com/google/uuid"
)

// PublicationAuditRepository appends publish attempts to PostgreSQL.
type PublicationAuditRepository struct {
	db *sql.DB
}

var _ repository.IPublicationAudit = (*PublicationAuditRepository)(nil)

func NewPublicationAuditRepository(db *sql.DB) *PublicationAuditRepository {
	return &PublicationAuditRepository{db: db}
}

func (r *PublicationAuditRepository) Create(ctx context.Context, a *model.PublicationAudit) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = utils.GetCurrentTime()
	}
	var kind sql.NullString
	if a.ErrorKind != "" {
		kind = sql.NullString{String: string(a.ErrorKind), Valid: true}
	}
	q := `INSERT INTO publication_audit (id, content_id, platform, requester_id, attempt, status, error_kind, error_message, post_url, created_at)
		  VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	_, err := r.db.ExecContext(ctx, q, a.ID, a.ContentID, string(a.Platform), a.RequesterID, a.Attempt, string(a.Status), kind, a.Error, a.PostURL, a.CreatedAt)
	return err
}

func (r *PublicationAuditRepository) ListByContent(ctx context.Context, contentID string, limit int) ([]*model.PublicationAudit, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT id, content_id, platform, requester_id, attempt, status, error_kind, error_message, post_url, created_at FROM publication_audit WHERE content_id=$1 ORDER BY created_at DESC LIMIT $2`, contentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*model.PublicationAudit
	for rows.Next() {
		a := &model.PublicationAudit{}
		var platform, status string
		var kind, errMsg, postURL sql.NullString
		if err := rows.Scan(&a.ID, &a.ContentID, &platform, &a.RequesterID, &a.Attempt, &status, &kind, &errMsg, &postURL, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Platform = model.Platform(platform)
		a.Status = model.PublicationStatus(status)
		if kind.Valid {
			a.ErrorKind = model.ErrorKind(kind.String)
		}
		if errMsg.Valid {
			a.Error = &errMsg.String
		}
		if postURL.Valid {
			a.PostURL = &postURL.String
		}
		list = append(list, a)
	}
	return list, rows.Err()
}
