package persistence

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"smm-publisher/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryContent stores social_platforms as bytes, the way the CMS does.
type memoryContent struct {
	mu     sync.Mutex
	blobs  map[string][]byte
	writes int
}

func (m *memoryContent) GetContent(ctx context.Context, id string) (*model.ContentItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	blob, ok := m.blobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrContentNotFound, id)
	}
	states, _ := model.ParsePlatformStates(blob)
	return &model.ContentItem{ID: id, SocialPlatforms: states}, nil
}

func (m *memoryContent) UpdateSocialPlatforms(ctx context.Context, id string, states *model.PlatformStates) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[id] = states.Bytes()
	m.writes++
	return nil
}

func (m *memoryContent) UpdateStatus(ctx context.Context, id, status string) error { return nil }

func (m *memoryContent) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*model.ContentItem, error) {
	return nil, nil
}

type memoryLock struct {
	mu   sync.Mutex
	held map[string]string
	n    int
}

func (l *memoryLock) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return "", false, nil
	}
	l.n++
	token := fmt.Sprintf("t%d", l.n)
	l.held[key] = token
	return token, true, nil
}

func (l *memoryLock) Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[key] == token, nil
}

func (l *memoryLock) Release(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

func newStateRepo(blob string) (*PublicationStateRepository, *memoryContent, *memoryLock) {
	content := &memoryContent{blobs: map[string][]byte{"c1": []byte(blob)}}
	lock := &memoryLock{held: map[string]string{}}
	repo := NewPublicationStateRepository(content, lock)
	repo.sleep = func(ctx context.Context, d time.Duration) error { time.Sleep(time.Millisecond); return nil }
	return repo, content, lock
}

func published(p model.Platform, url string) model.PlatformPublicationState {
	now := time.Now().UTC()
	return model.PlatformPublicationState{Platform: p, Status: model.StatusPublished, PostID: "1", PostURL: url, PublishedAt: &now, AttemptCount: 1}
}

func TestMergeKeepsSiblingEntriesByteForByte(t *testing.T) {
	sibling := `{"status":"published","postUrl":"https://vk.com/wall-1_9","postId":9,"legacyField":"x"}`
	repo, content, _ := newStateRepo(`{"vk":` + sibling + `}`)

	_, changed, err := repo.MergePlatformResult(context.Background(), "c1", model.PlatformTelegram, published(model.PlatformTelegram, "https://t.me/chan/5"), false)
	require.NoError(t, err)
	require.True(t, changed)

	states, err := model.ParsePlatformStates(content.blobs["c1"])
	require.NoError(t, err)
	raw, ok := states.Raw("vk")
	require.True(t, ok)
	require.Equal(t, sibling, string(raw))

	tg, ok := states.Get(model.PlatformTelegram)
	require.True(t, ok)
	require.Equal(t, "https://t.me/chan/5", tg.PostURL)
	require.NotNil(t, tg.UpdatedAt)
}

func TestMergePublishedIsSticky(t *testing.T) {
	repo, content, _ := newStateRepo(`{}`)
	ctx := context.Background()

	_, _, err := repo.MergePlatformResult(ctx, "c1", model.PlatformVK, published(model.PlatformVK, "https://vk.com/wall-1_1"), false)
	require.NoError(t, err)
	writes := content.writes

	failed := model.PlatformPublicationState{Status: model.StatusFailed, LastError: "boom", AttemptCount: 1}
	stored, changed, err := repo.MergePlatformResult(ctx, "c1", model.PlatformVK, failed, false)
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, model.StatusPublished, stored.Status)
	require.Equal(t, writes, content.writes)

	stored, changed, err = repo.MergePlatformResult(ctx, "c1", model.PlatformVK, failed, true)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, model.StatusFailed, stored.Status)
	require.Empty(t, stored.PostURL)
}

func TestMergeRejectsPublishedWithoutURL(t *testing.T) {
	repo, content, lock := newStateRepo(`{}`)
	bad := model.PlatformPublicationState{Status: model.StatusPublished, PostID: "1"}

	_, _, err := repo.MergePlatformResult(context.Background(), "c1", model.PlatformFacebook, bad, false)
	require.ErrorIs(t, err, model.ErrInvalidState)
	require.Zero(t, content.writes)
	require.Empty(t, lock.held, "lease released on error")
}

func TestMergeRecoversMalformedBlob(t *testing.T) {
	repo, content, _ := newStateRepo(`"not json`)

	_, changed, err := repo.MergePlatformResult(context.Background(), "c1", model.PlatformInstagram, published(model.PlatformInstagram, "https://www.instagram.com/p/x/"), false)
	require.NoError(t, err)
	require.True(t, changed)
	states, err := model.ParsePlatformStates(content.blobs["c1"])
	require.NoError(t, err)
	require.Equal(t, []string{"instagram"}, states.Keys())
}

func TestMergeContentNotFound(t *testing.T) {
	repo, _, _ := newStateRepo(`{}`)
	_, _, err := repo.MergePlatformResult(context.Background(), "missing", model.PlatformVK, published(model.PlatformVK, "https://vk.com/wall-1_1"), false)
	require.ErrorIs(t, err, model.ErrContentNotFound)
}

func TestConcurrentMergesKeepEveryPlatform(t *testing.T) {
	repo, content, _ := newStateRepo(`{}`)

	var wg sync.WaitGroup
	for _, p := range model.KnownPlatforms {
		wg.Add(1)
		go func(p model.Platform) {
			defer wg.Done()
			_, _, err := repo.MergePlatformResult(context.Background(), "c1", p, published(p, "https://example.com/"+string(p)), false)
			assert.NoError(t, err)
		}(p)
	}
	wg.Wait()

	states, err := model.ParsePlatformStates(content.blobs["c1"])
	require.NoError(t, err)
	require.Len(t, states.All(), len(model.KnownPlatforms))
}
