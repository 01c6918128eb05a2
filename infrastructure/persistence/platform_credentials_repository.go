package persistence

import (
	"context"
	"database/sql"
	"errors"

	"smm-publisher/domain/model"
	"smm-publisher/domain/repository"
	"smm-publisher/infrastructure/utils"
)

// PlatformCredentialsRepository stores per-platform tokens that override the
// ones from configuration.
type PlatformCredentialsRepository struct{ db *sql.DB }

var _ repository.ICredentialWriter = (*PlatformCredentialsRepository)(nil)

func NewPlatformCredentialsRepository(db *sql.DB) *PlatformCredentialsRepository {
	return &PlatformCredentialsRepository{db: db}
}

func (r *PlatformCredentialsRepository) Upsert(ctx context.Context, platform model.Platform, c model.PlatformCredentials) error {
	q := `INSERT INTO platform_credentials (platform, access_token, chat_id, group_id, account_id, page_id, updated_at)
		  VALUES ($1,$2,$3,$4,$5,$6,$7)
		  ON CONFLICT (platform) DO UPDATE SET
			access_token=EXCLUDED.access_token,
			chat_id=EXCLUDED.chat_id,
			group_id=EXCLUDED.group_id,
			account_id=EXCLUDED.account_id,
			page_id=EXCLUDED.page_id,
			updated_at=EXCLUDED.updated_at`
	_, err := r.db.ExecContext(ctx, q, string(platform), c.Token, nullable(c.ChatID), nullable(c.GroupID), nullable(c.AccountID), nullable(c.PageID), utils.GetCurrentTime())
	return err
}

// Get returns model.ErrCredentialsNotFound when nothing is stored for platform.
func (r *PlatformCredentialsRepository) Get(ctx context.Context, platform model.Platform) (model.PlatformCredentials, error) {
	row := r.db.QueryRowContext(ctx, `SELECT access_token, chat_id, group_id, account_id, page_id FROM platform_credentials WHERE platform=$1`, string(platform))
	var c model.PlatformCredentials
	var chatID, groupID, accountID, pageID sql.NullString
	if err := row.Scan(&c.Token, &chatID, &groupID, &accountID, &pageID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c, model.ErrCredentialsNotFound
		}
		return c, err
	}
	c.ChatID, c.GroupID, c.AccountID, c.PageID = chatID.String, groupID.String, accountID.String, pageID.String
	return c, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
