package usecase

import (
	"context"
	"errors"
	"fmt"

	"smm-publisher/domain/model"
	"smm-publisher/domain/repository"
	"smm-publisher/infrastructure/logger"
)

type credentialsProvider struct {
	store    repository.ICredentialStore
	defaults map[model.Platform]model.PlatformCredentials
}

// NewCredentialsProvider resolves platform credentials from store first and
// falls back to defaults. store may be nil.
func NewCredentialsProvider(store repository.ICredentialStore, defaults map[model.Platform]model.PlatformCredentials) repository.ICredentials {
	return &credentialsProvider{store: store, defaults: defaults}
}

func (p *credentialsProvider) Credentials(ctx context.Context, platform model.Platform) (model.PlatformCredentials, error) {
	if p.store != nil {
		c, err := p.store.Get(ctx, platform)
		switch {
		case err == nil && c.Token != "":
			return fill(c, p.defaults[platform]), nil
		case err != nil && !errors.Is(err, model.ErrCredentialsNotFound):
			logger.GetLogger().WithField("platform", platform).WithField("error", err).Warn("Stored credentials unavailable, using configured ones")
		}
	}
	c, ok := p.defaults[platform]
	if !ok || c.Token == "" {
		return model.PlatformCredentials{}, fmt.Errorf("%w: %s", model.ErrCredentialsNotFound, platform)
	}
	return c, nil
}

// fill completes stored credentials with configured target ids.
func fill(c, d model.PlatformCredentials) model.PlatformCredentials {
	if c.ChatID == "" {
		c.ChatID = d.ChatID
	}
	if c.GroupID == "" {
		c.GroupID = d.GroupID
	}
	if c.AccountID == "" {
		c.AccountID = d.AccountID
	}
	if c.PageID == "" {
		c.PageID = d.PageID
	}
	return c
}
