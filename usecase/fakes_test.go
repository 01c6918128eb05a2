package usecase_test

import (
	"context"
	"sync"
	"time"

	"smm-publisher/domain/model"

	"github.com/stretchr/testify/mock"
)

// memoryContent is an in-memory campaign_content collection. Blobs are kept
// as bytes so every read parses a fresh copy, like the CMS would return.
type memoryContent struct {
	mu       sync.Mutex
	items    map[string]*model.ContentItem
	blobs    map[string][]byte
	statuses map[string]string
	// missingReads makes the first N reads of an id report not found
	missingReads map[string]int
	// readErr fails every read when set
	readErr error
	reads   int
	writes  int
}

func newMemoryContent() *memoryContent {
	return &memoryContent{
		items:        map[string]*model.ContentItem{},
		blobs:        map[string][]byte{},
		statuses:     map[string]string{},
		missingReads: map[string]int{},
	}
}

func (m *memoryContent) put(item *model.ContentItem, blob string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ID] = item
	m.blobs[item.ID] = []byte(blob)
	m.statuses[item.ID] = item.Status
}

func (m *memoryContent) blob(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.blobs[id])
}

func (m *memoryContent) state(id string, p model.Platform) (model.PlatformPublicationState, bool) {
	states, _ := model.ParsePlatformStates([]byte(m.blob(id)))
	return states.Get(p)
}

func (m *memoryContent) GetContent(ctx context.Context, contentID string) (*model.ContentItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.readErr != nil {
		return nil, m.readErr
	}
	if n := m.missingReads[contentID]; n > 0 {
		m.missingReads[contentID] = n - 1
		return nil, model.ErrContentNotFound
	}
	item, ok := m.items[contentID]
	if !ok {
		return nil, model.ErrContentNotFound
	}
	cp := *item
	cp.Status = m.statuses[contentID]
	cp.SocialPlatforms, _ = model.ParsePlatformStates(m.blobs[contentID])
	return &cp, nil
}

func (m *memoryContent) UpdateSocialPlatforms(ctx context.Context, contentID string, states *model.PlatformStates) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	m.blobs[contentID] = states.Bytes()
	return nil
}

func (m *memoryContent) UpdateStatus(ctx context.Context, contentID string, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[contentID] = status
	return nil
}

func (m *memoryContent) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*model.ContentItem, error) {
	m.mu.Lock()
	ids := make([]string, 0)
	for id, item := range m.items {
		if m.statuses[id] == model.ContentStatusScheduled && item.ScheduledAt != nil && !item.ScheduledAt.After(now) {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	out := make([]*model.ContentItem, 0, len(ids))
	for _, id := range ids {
		item, err := m.GetContent(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

type MockPublisher struct {
	mock.Mock
	platform model.Platform
}

func newMockPublisher(p model.Platform) *MockPublisher {
	return &MockPublisher{platform: p}
}

func (m *MockPublisher) Platform() model.Platform { return m.platform }

func (m *MockPublisher) Publish(ctx context.Context, content model.NormalizedContent, creds model.PlatformCredentials) (model.AdapterResult, error) {
	args := m.Called(ctx, content, creds)
	return args.Get(0).(model.AdapterResult), args.Error(1)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []model.PublicationEvent
	err    error
}

func (r *recordingNotifier) Notify(ctx context.Context, evt model.PublicationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return r.err
}

func (r *recordingNotifier) all() []model.PublicationEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.PublicationEvent(nil), r.events...)
}

type recordingAudit struct {
	mu   sync.Mutex
	rows []*model.PublicationAudit
}

func (r *recordingAudit) Create(ctx context.Context, a *model.PublicationAudit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, a)
	return nil
}

func (r *recordingAudit) ListByContent(ctx context.Context, contentID string, limit int) ([]*model.PublicationAudit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.PublicationAudit
	for _, a := range r.rows {
		if a.ContentID == contentID {
			out = append(out, a)
		}
	}
	return out, nil
}

type credentialStore map[model.Platform]model.PlatformCredentials

func (s credentialStore) Get(ctx context.Context, p model.Platform) (model.PlatformCredentials, error) {
	c, ok := s[p]
	if !ok {
		return model.PlatformCredentials{}, model.ErrCredentialsNotFound
	}
	return c, nil
}
