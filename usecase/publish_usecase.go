package usecase

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"smm-publisher/domain/model"
	"smm-publisher/domain/repository"
	"smm-publisher/infrastructure/htmlnorm"
	"smm-publisher/infrastructure/logger"
	"smm-publisher/infrastructure/utils"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

type IPublishUsecase interface {
	Publish(ctx context.Context, req model.PublishRequest) (*model.PublishResult, error)
	GetStatus(ctx context.Context, contentID string) (*model.PlatformStates, error)
	History(ctx context.Context, contentID string, limit int) ([]*model.PublicationAudit, error)
}

// PublishOptions tunes the controller. Zero values take the defaults below.
type PublishOptions struct {
	MaxAttempts int
	BaseDelay   time.Duration
	LeaseTTL    time.Duration

	// optional collaborators
	Audit    repository.IPublicationAudit
	Notifier repository.IPublicationNotifier

	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 5 * time.Second
	defaultLeaseTTL    = 5 * time.Minute
)

type publishUsecase struct {
	content    repository.IContent
	state      repository.IPublicationState
	lock       repository.IPublishLock
	creds      repository.ICredentials
	publishers map[model.Platform]repository.IPublisher
	opts       PublishOptions

	inflight singleflight.Group
}

func NewPublishUsecase(content repository.IContent, state repository.IPublicationState, lock repository.IPublishLock, creds repository.ICredentials, publishers []repository.IPublisher, opts PublishOptions) IPublishUsecase {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = defaultBaseDelay
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = defaultLeaseTTL
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.Now == nil {
		opts.Now = utils.GetCurrentTime
	}
	m := make(map[model.Platform]repository.IPublisher, len(publishers))
	for _, p := range publishers {
		m[p.Platform()] = p
	}
	return &publishUsecase{
		content:    content,
		state:      state,
		lock:       lock,
		creds:      creds,
		publishers: m,
		opts:       opts,
	}
}

func (u *publishUsecase) Publish(ctx context.Context, req model.PublishRequest) (*model.PublishResult, error) {
	req.ContentID = strings.TrimSpace(req.ContentID)
	if req.ContentID == "" {
		return nil, fmt.Errorf("%w: contentId required", model.ErrInvalidRequest)
	}
	platforms := uniquePlatforms(req.Platforms)
	if len(platforms) == 0 {
		return nil, fmt.Errorf("%w: at least one platform required", model.ErrInvalidRequest)
	}
	req.Platforms = platforms

	log := logger.GetLogger().WithFields(map[string]interface{}{
		"content_id": req.ContentID,
		"platforms":  platforms,
		"requester":  req.RequesterID,
		"force":      req.Force,
		"immediate":  req.Immediate,
	})
	log.Info("Publish requested")

	result := &model.PublishResult{ContentID: req.ContentID, Results: make([]model.PlatformOutcome, len(platforms))}
	if !req.Immediate {
		u.schedule(ctx, req, result)
	} else {
		var g errgroup.Group
		for i, p := range platforms {
			g.Go(func() error {
				result.Results[i] = u.publishPlatform(ctx, req, p)
				return nil
			})
		}
		_ = g.Wait()
	}

	result.Success = true
	for _, o := range result.Results {
		if !o.Success {
			result.Success = false
		}
	}
	log.WithField("success", result.Success).Info("Publish finished")
	return result, nil
}

func (u *publishUsecase) GetStatus(ctx context.Context, contentID string) (*model.PlatformStates, error) {
	return u.state.GetState(ctx, contentID)
}

func (u *publishUsecase) History(ctx context.Context, contentID string, limit int) ([]*model.PublicationAudit, error) {
	if u.opts.Audit == nil {
		return []*model.PublicationAudit{}, nil
	}
	return u.opts.Audit.ListByContent(ctx, contentID, limit)
}

// publishPlatform coalesces concurrent callers for the same pair onto one
// attempt. Forced callers never share a plain caller's attempt, which may
// end in an idempotent skip. The attempt outlives the caller's context; the
// caller only stops waiting for it.
func (u *publishUsecase) publishPlatform(ctx context.Context, req model.PublishRequest, p model.Platform) model.PlatformOutcome {
	if _, ok := u.publishers[p]; !ok {
		err := model.NewPublishError(p, model.ErrorKindUnknownPlatform, "no adapter for platform", nil)
		return failedOutcome(p, err)
	}

	detached := context.WithoutCancel(ctx)
	key := req.ContentID + ":" + string(p)
	if req.Force {
		key += ":force"
	}
	ch := u.inflight.DoChan(key, func() (interface{}, error) {
		return u.runLeased(detached, req, p), nil
	})
	select {
	case res := <-ch:
		return res.Val.(model.PlatformOutcome)
	case <-ctx.Done():
		return model.PlatformOutcome{
			Platform:  p,
			Status:    model.StatusPublishing,
			Error:     "stopped waiting: " + ctx.Err().Error(),
			ErrorKind: model.ErrorKindInProgress,
		}
	}
}

func leaseKey(contentID string, p model.Platform) string {
	return "publish:" + contentID + ":" + string(p)
}

func (u *publishUsecase) runLeased(ctx context.Context, req model.PublishRequest, p model.Platform) model.PlatformOutcome {
	key := leaseKey(req.ContentID, p)
	token, ok, err := u.lock.Acquire(ctx, key, u.opts.LeaseTTL)
	if err != nil {
		logger.GetLogger().WithField("key", key).WithField("error", err).Error("Unable to acquire publish lease")
		return failedOutcome(p, model.NewPublishError(p, model.ErrorKindUnknown, "acquire publish lease", err))
	}
	if !ok {
		logger.GetLogger().WithField("key", key).Warn("Publish already in progress elsewhere")
		return model.PlatformOutcome{
			Platform:  p,
			Status:    model.StatusPublishing,
			Error:     model.ErrPublishInProgress.Error(),
			ErrorKind: model.ErrorKindInProgress,
		}
	}
	defer func() {
		if err := u.lock.Release(ctx, key, token); err != nil {
			logger.GetLogger().WithField("key", key).WithField("error", err).Warn("Unable to release publish lease")
		}
	}()
	stop := u.keepLease(ctx, key, token)
	defer stop()
	return u.attempt(ctx, req, p)
}

// keepLease extends the lease every third of its TTL until stop is called,
// so retries and slow adapters never outlive it.
func (u *publishUsecase) keepLease(ctx context.Context, key, token string) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(max(u.opts.LeaseTTL/3, time.Millisecond))
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				ok, err := u.lock.Extend(ctx, key, token, u.opts.LeaseTTL)
				if err != nil {
					logger.GetLogger().WithField("key", key).WithField("error", err).Warn("Unable to extend publish lease")
					continue
				}
				if !ok {
					logger.GetLogger().WithField("key", key).Error("Publish lease lost before the attempt finished")
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// attempt runs the retry loop for one platform while holding its lease.
func (u *publishUsecase) attempt(ctx context.Context, req model.PublishRequest, p model.Platform) model.PlatformOutcome {
	log := logger.GetLogger().WithField("content_id", req.ContentID).WithField("platform", p)

	var (
		lastErr   error
		lastCount int
		found     bool
	)
	for n := 1; n <= u.opts.MaxAttempts; n++ {
		if n > 1 {
			delay := u.opts.BaseDelay * time.Duration(n-1)
			log.WithField("attempt", n).WithField("delay", delay.String()).Info("Retrying publish")
			if err := u.opts.Sleep(ctx, delay); err != nil {
				lastErr = err
				break
			}
		}

		outcome, count, err := u.try(ctx, req, p)
		if count > 0 {
			lastCount = count
		}
		if !errors.Is(err, model.ErrContentNotFound) {
			found = true
		}
		if err == nil {
			u.record(ctx, req, p, n, outcome)
			if !outcome.Skipped {
				u.notify(ctx, req, outcome)
			}
			return outcome
		}

		lastErr = err
		kind := model.KindOf(err)
		u.record(ctx, req, p, n, failedOutcome(p, err))
		log.WithFields(map[string]interface{}{
			"attempt":    n,
			"error_kind": kind,
			"error":      err.Error(),
		}).Warn("Publish attempt failed")
		if !kind.Retryable() {
			break
		}
	}

	outcome := failedOutcome(p, lastErr)
	if found {
		// a record that never showed up has no blob to write into
		failed := model.PlatformPublicationState{
			Platform:     p,
			Status:       model.StatusFailed,
			LastError:    outcome.Error,
			AttemptCount: lastCount,
		}
		stored, _, err := u.state.MergePlatformResult(ctx, req.ContentID, p, failed, req.Force)
		if err != nil {
			log.WithField("error", err).Error("Unable to record failed publication state")
		} else if stored.IsPublished() {
			// a concurrent publish won; report what is stored
			outcome = publishedOutcome(p, stored, true)
		}
	}
	log.WithField("error_kind", outcome.ErrorKind).Error("Publish failed")
	u.notify(ctx, req, outcome)
	return outcome
}

// try is one attempt: existence check, idempotency guard, publishing mark,
// normalization, adapter call, result merge. It returns the attempt count
// it wrote into the state.
func (u *publishUsecase) try(ctx context.Context, req model.PublishRequest, p model.Platform) (model.PlatformOutcome, int, error) {
	item, err := u.content.GetContent(ctx, req.ContentID)
	if err != nil {
		if errors.Is(err, model.ErrContentNotFound) {
			return model.PlatformOutcome{}, 0, err
		}
		if model.KindOf(err) == model.ErrorKindAuth {
			return model.PlatformOutcome{}, 0, model.NewPublishError(p, model.ErrorKindAuth, "read content", err)
		}
		return model.PlatformOutcome{}, 0, model.NewPublishError(p, model.ErrorKindTransientNetwork, "read content", err)
	}

	stored, _ := item.SocialPlatforms.Get(p)
	if stored.IsPublished() && !req.Force {
		logger.GetLogger().WithField("content_id", req.ContentID).WithField("platform", p).Info("Already published, returning stored result")
		return publishedOutcome(p, stored, true), 0, nil
	}

	count := stored.AttemptCount + 1
	marking := model.PlatformPublicationState{Platform: p, Status: model.StatusPublishing, AttemptCount: count}
	if _, _, err := u.state.MergePlatformResult(ctx, req.ContentID, p, marking, req.Force); err != nil {
		return model.PlatformOutcome{}, count, wrapStateError(p, "mark publishing", err)
	}

	creds, err := u.creds.Credentials(ctx, p)
	if err != nil {
		return model.PlatformOutcome{}, count, model.NewPublishError(p, model.ErrorKindAuth, "credentials", err)
	}

	res, err := u.publishers[p].Publish(ctx, normalize(item, p), creds)
	if err != nil {
		return model.PlatformOutcome{}, count, err
	}
	if res.PostURL == "" {
		// the post may exist remotely; never retry into a duplicate
		return model.PlatformOutcome{}, count, model.NewPublishError(p, model.ErrorKindUnknown, "adapter returned no post URL", nil)
	}

	now := u.opts.Now().UTC()
	published := model.PlatformPublicationState{
		Platform:     p,
		Status:       model.StatusPublished,
		PostID:       model.FlexibleID(res.RemotePostID),
		MessageID:    model.FlexibleID(res.RemoteMessageID),
		PostURL:      res.PostURL,
		PublishedAt:  &now,
		AttemptCount: count,
	}
	outcome := publishedOutcome(p, published, false)
	if _, _, err := u.state.MergePlatformResult(ctx, req.ContentID, p, published, true); err != nil {
		// the post is live; report it and leave the stored state to the next merge
		logger.GetLogger().WithFields(map[string]interface{}{
			"content_id": req.ContentID,
			"platform":   p,
			"post_url":   res.PostURL,
			"error":      err.Error(),
		}).Error("Published but unable to record publication state")
		outcome.Error = "published but state not recorded: " + err.Error()
	}
	return outcome, count, nil
}

// schedule records the platforms as pending for the scheduler.
func (u *publishUsecase) schedule(ctx context.Context, req model.PublishRequest, result *model.PublishResult) {
	current, err := u.state.GetState(ctx, req.ContentID)
	for i, p := range req.Platforms {
		if _, ok := u.publishers[p]; !ok {
			result.Results[i] = failedOutcome(p, model.NewPublishError(p, model.ErrorKindUnknownPlatform, "no adapter for platform", nil))
			continue
		}
		if err != nil {
			result.Results[i] = failedOutcome(p, wrapStateError(p, "read state", err))
			continue
		}
		if st, ok := current.Get(p); ok && st.Status == model.StatusPublishing {
			result.Results[i] = model.PlatformOutcome{Platform: p, Success: true, Status: model.StatusPublishing}
			continue
		}

		pending := model.PlatformPublicationState{Platform: p, Status: model.StatusPending}
		if st, ok := current.Get(p); ok {
			pending.AttemptCount = st.AttemptCount
		}
		stored, _, mErr := u.state.MergePlatformResult(ctx, req.ContentID, p, pending, req.Force)
		if mErr != nil {
			result.Results[i] = failedOutcome(p, wrapStateError(p, "record pending", mErr))
			continue
		}
		if stored.IsPublished() {
			result.Results[i] = publishedOutcome(p, stored, true)
			continue
		}
		outcome := model.PlatformOutcome{Platform: p, Success: true, Status: model.StatusPending}
		result.Results[i] = outcome
		u.notify(ctx, req, outcome)
	}
}

func (u *publishUsecase) record(ctx context.Context, req model.PublishRequest, p model.Platform, attempt int, o model.PlatformOutcome) {
	if u.opts.Audit == nil {
		return
	}
	a := &model.PublicationAudit{
		ContentID:   req.ContentID,
		Platform:    p,
		RequesterID: req.RequesterID,
		Attempt:     attempt,
		Status:      o.Status,
		ErrorKind:   o.ErrorKind,
		CreatedAt:   u.opts.Now().UTC(),
	}
	if o.Error != "" {
		a.Error = &o.Error
	}
	if o.PostURL != "" {
		a.PostURL = &o.PostURL
	}
	if err := u.opts.Audit.Create(ctx, a); err != nil {
		logger.GetLogger().WithField("content_id", req.ContentID).WithField("error", err).Warn("Unable to write publication audit")
	}
}

func (u *publishUsecase) notify(ctx context.Context, req model.PublishRequest, o model.PlatformOutcome) {
	if u.opts.Notifier == nil {
		return
	}
	evt := model.PublicationEvent{
		ContentID:   req.ContentID,
		Platform:    o.Platform,
		RequesterID: req.RequesterID,
		Status:      o.Status,
		PostURL:     o.PostURL,
		Error:       o.Error,
		OccurredAt:  u.opts.Now().UTC(),
	}
	if err := u.opts.Notifier.Notify(ctx, evt); err != nil {
		logger.GetLogger().WithField("content_id", req.ContentID).WithField("error", err).Warn("Unable to notify publication event")
	}
}

func failedOutcome(p model.Platform, err error) model.PlatformOutcome {
	o := model.PlatformOutcome{Platform: p, Status: model.StatusFailed, ErrorKind: model.KindOf(err)}
	if err != nil {
		o.Error = err.Error()
	}
	return o
}

func publishedOutcome(p model.Platform, st model.PlatformPublicationState, skipped bool) model.PlatformOutcome {
	return model.PlatformOutcome{
		Platform: p,
		Success:  true,
		Status:   model.StatusPublished,
		PostURL:  st.PostURL,
		Skipped:  skipped,
	}
}

// wrapStateError keeps a lease contention retryable, a vanished record
// classified as not found and a rejected CMS login as an auth failure.
func wrapStateError(p model.Platform, msg string, err error) error {
	switch {
	case errors.Is(err, model.ErrContentNotFound):
		return err
	case errors.Is(err, model.ErrInvalidState):
		return model.NewPublishError(p, model.ErrorKindUnknown, msg, err)
	case model.KindOf(err) == model.ErrorKindAuth:
		return model.NewPublishError(p, model.ErrorKindAuth, msg, err)
	}
	return model.NewPublishError(p, model.ErrorKindTransientNetwork, msg, err)
}

// normalize builds the platform text from title, body and hashtags and
// rewrites it into the platform's dialect.
func normalize(item *model.ContentItem, p model.Platform) model.NormalizedContent {
	var b strings.Builder
	if title := strings.TrimSpace(item.Title); title != "" {
		b.WriteString("<p><b>" + html.EscapeString(title) + "</b></p>")
	}
	b.WriteString(item.Body)
	if tags := formatHashtags(item.Hashtags); tags != "" {
		b.WriteString("<p>" + html.EscapeString(tags) + "</p>")
	}

	out := model.NormalizedContent{
		ContentID:   item.ID,
		Platform:    p,
		ContentType: item.ContentType,
		Text:        htmlnorm.Normalize(b.String(), htmlnorm.ForPlatform(p)),
		VideoURL:    item.VideoURL,
	}
	if item.ContentType != model.ContentTypeText {
		out.ImageURLs = item.Images()
	}
	return out
}

func formatHashtags(tags []string) string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if !strings.HasPrefix(t, "#") {
			t = "#" + t
		}
		out = append(out, t)
	}
	return strings.Join(out, " ")
}

func uniquePlatforms(in []model.Platform) []model.Platform {
	seen := make(map[model.Platform]struct{}, len(in))
	out := make([]model.Platform, 0, len(in))
	for _, p := range in {
		p = model.Platform(strings.ToLower(strings.TrimSpace(string(p))))
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
