package dto

import "smm-publisher/domain/model"

// CredentialsDto is the body of PUT /api/credentials/:platform.
type CredentialsDto struct {
	Token     string `json:"token" binding:"required"`
	ChatID    string `json:"chatId"`
	GroupID   string `json:"groupId"`
	AccountID string `json:"accountId"`
	PageID    string `json:"pageId"`
}

func (d CredentialsDto) ToModel() model.PlatformCredentials {
	return model.PlatformCredentials{
		Token:     d.Token,
		ChatID:    d.ChatID,
		GroupID:   d.GroupID,
		AccountID: d.AccountID,
		PageID:    d.PageID,
	}
}

// CredentialsStatusDto never carries the token itself.
type CredentialsStatusDto struct {
	Platform  model.Platform `json:"platform"`
	Connected bool           `json:"connected"`
	ChatID    string         `json:"chatId,omitempty"`
	GroupID   string         `json:"groupId,omitempty"`
	AccountID string         `json:"accountId,omitempty"`
	PageID    string         `json:"pageId,omitempty"`
}
