package persistence

import (
	"context"
	"fmt"
	"time"

	"smm-publisher/domain/model"
	"smm-publisher/domain/repository"
	"smm-publisher/infrastructure/logger"
)

const (
	stateLockTTL  = 30 * time.Second
	stateLockWait = 15 * time.Second
	stateLockPoll = 50 * time.Millisecond
)

// PublicationStateRepository keeps the social_platforms blob of a content
// record. Every merge runs under the state:{contentId} lease so concurrent
// writers for different platforms never lose each other's entries.
type PublicationStateRepository struct {
	content repository.IContent
	lock    repository.IPublishLock
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

var _ repository.IPublicationState = (*PublicationStateRepository)(nil)

func NewPublicationStateRepository(content repository.IContent, lock repository.IPublishLock) *PublicationStateRepository {
	return &PublicationStateRepository{content: content, lock: lock, now: time.Now, sleep: sleepContext}
}

func (r *PublicationStateRepository) GetState(ctx context.Context, contentID string) (*model.PlatformStates, error) {
	item, err := r.content.GetContent(ctx, contentID)
	if err != nil {
		return nil, err
	}
	if item.SocialPlatforms == nil {
		return model.NewPlatformStates(), nil
	}
	return item.SocialPlatforms, nil
}

func (r *PublicationStateRepository) MergePlatformResult(ctx context.Context, contentID string, platform model.Platform, state model.PlatformPublicationState, force bool) (model.PlatformPublicationState, bool, error) {
	key := "state:" + contentID
	token, err := r.acquire(ctx, key)
	if err != nil {
		return state, false, err
	}
	defer func() {
		if err := r.lock.Release(context.WithoutCancel(ctx), key, token); err != nil {
			logger.GetLogger().WithField("key", key).WithField("error", err).Warn("Failed to release state lock")
		}
	}()

	states, err := r.GetState(ctx, contentID)
	if err != nil {
		return state, false, err
	}

	var existing *model.PlatformPublicationState
	if st, ok := states.Get(platform); ok {
		existing = &st
	}
	now := r.now().UTC()
	state.Platform = platform
	state.UpdatedAt = &now

	merged, changed, err := model.MergePlatformState(existing, state, force)
	if err != nil {
		return state, false, err
	}
	if !changed {
		logger.GetLogger().WithFields(map[string]interface{}{
			"content_id": contentID,
			"platform":   platform,
			"status":     state.Status,
		}).Info("Keeping published state, incoming state ignored")
		return merged, false, nil
	}

	if err := states.Set(platform, merged); err != nil {
		return state, false, fmt.Errorf("encode %s state: %w", platform, err)
	}
	if err := r.content.UpdateSocialPlatforms(ctx, contentID, states); err != nil {
		return state, false, fmt.Errorf("write social_platforms for %s: %w", contentID, err)
	}
	return merged, true, nil
}

func (r *PublicationStateRepository) acquire(ctx context.Context, key string) (string, error) {
	deadline := r.now().Add(stateLockWait)
	for {
		token, ok, err := r.lock.Acquire(ctx, key, stateLockTTL)
		if err != nil {
			return "", fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			return token, nil
		}
		if r.now().After(deadline) {
			return "", fmt.Errorf("%w: %s still held after %s", model.ErrPublishInProgress, key, stateLockWait)
		}
		if err := r.sleep(ctx, stateLockPoll); err != nil {
			return "", err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
