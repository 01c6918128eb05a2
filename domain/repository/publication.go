package repository

import (
	"context"
	"time"

	"smm-publisher/domain/model"
)

// IContent reads and writes campaign_content records in the CMS.
type IContent interface {
	// GetContent returns model.ErrContentNotFound when the record does not exist.
	GetContent(ctx context.Context, contentID string) (*model.ContentItem, error)
	UpdateSocialPlatforms(ctx context.Context, contentID string, states *model.PlatformStates) error
	UpdateStatus(ctx context.Context, contentID string, status string) error
	ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*model.ContentItem, error)
}

// IPublicationState is the per-content, per-platform publication state store.
type IPublicationState interface {
	GetState(ctx context.Context, contentID string) (*model.PlatformStates, error)
	// MergePlatformResult merges one platform's state into the stored blob and
	// returns the state that is stored afterwards and whether it changed.
	MergePlatformResult(ctx context.Context, contentID string, platform model.Platform, state model.PlatformPublicationState, force bool) (model.PlatformPublicationState, bool, error)
}

// IPublishLock is a lease table keyed by string. Acquire reports ok=false
// when another holder owns an unexpired lease on key. Extend pushes the
// expiry of a held lease to ttl from now and reports ok=false when token no
// longer holds it.
type IPublishLock interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Extend(ctx context.Context, key string, token string, ttl time.Duration) (ok bool, err error)
	Release(ctx context.Context, key string, token string) error
}

type IPublicationAudit interface {
	Create(ctx context.Context, audit *model.PublicationAudit) error
	ListByContent(ctx context.Context, contentID string, limit int) ([]*model.PublicationAudit, error)
}

// IPublisher is one platform adapter.
type IPublisher interface {
	Platform() model.Platform
	Publish(ctx context.Context, content model.NormalizedContent, creds model.PlatformCredentials) (model.AdapterResult, error)
}

type IPublicationNotifier interface {
	Notify(ctx context.Context, event model.PublicationEvent) error
}

type ICredentials interface {
	Credentials(ctx context.Context, platform model.Platform) (model.PlatformCredentials, error)
}

// ICredentialStore holds credentials that override the configured ones.
// Get returns model.ErrCredentialsNotFound when nothing is stored.
type ICredentialStore interface {
	Get(ctx context.Context, platform model.Platform) (model.PlatformCredentials, error)
}

type ICredentialWriter interface {
	ICredentialStore
	Upsert(ctx context.Context, platform model.Platform, c model.PlatformCredentials) error
}
