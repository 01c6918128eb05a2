package persistence

import (
	"context"
	"regexp"
	"testing"

	"smm-publisher/domain/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestPlatformCredentialsRepository_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	query := regexp.QuoteMeta(`SELECT access_token, chat_id, group_id, account_id, page_id FROM platform_credentials WHERE platform=$1`)
	mock.ExpectQuery(query).WithArgs("telegram").
		WillReturnRows(sqlmock.NewRows([]string{"access_token", "chat_id", "group_id", "account_id", "page_id"}).
			AddRow("bot-token", "@channel", nil, nil, nil))
	mock.ExpectQuery(query).WithArgs("vk").
		WillReturnRows(sqlmock.NewRows([]string{"access_token", "chat_id", "group_id", "account_id", "page_id"}))

	repo := NewPlatformCredentialsRepository(db)
	creds, err := repo.Get(context.Background(), model.PlatformTelegram)
	require.NoError(t, err)
	require.Equal(t, model.PlatformCredentials{Token: "bot-token", ChatID: "@channel"}, creds)

	_, err = repo.Get(context.Background(), model.PlatformVK)
	require.ErrorIs(t, err, model.ErrCredentialsNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPlatformCredentialsRepository_Upsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO platform_credentials`)).
		WithArgs("facebook", "page-token", nil, nil, nil, "123", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = NewPlatformCredentialsRepository(db).Upsert(context.Background(), model.PlatformFacebook, model.PlatformCredentials{Token: "page-token", PageID: "123"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
