package usecase

import (
	"context"
	"time"

	"smm-publisher/domain/model"
	"smm-publisher/domain/repository"
	"smm-publisher/infrastructure/logger"
)

type ISchedulerUsecase interface {
	// RunOnce publishes the pending platforms of every item due at now and
	// returns how many items were processed.
	RunOnce(ctx context.Context, now time.Time) (int, error)
	// Run calls RunOnce every interval until ctx is done.
	Run(ctx context.Context, interval time.Duration) error
}

type schedulerUsecase struct {
	content    repository.IContent
	publish    IPublishUsecase
	batchSize  int
	staleAfter time.Duration
}

// NewSchedulerUsecase builds the scheduler. A platform left publishing for
// staleAfter (the publish lease TTL) is published again.
func NewSchedulerUsecase(content repository.IContent, publish IPublishUsecase, batchSize int, staleAfter time.Duration) ISchedulerUsecase {
	if batchSize <= 0 {
		batchSize = 20
	}
	if staleAfter <= 0 {
		staleAfter = defaultLeaseTTL
	}
	return &schedulerUsecase{content: content, publish: publish, batchSize: batchSize, staleAfter: staleAfter}
}

func (s *schedulerUsecase) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	logger.GetLogger().WithField("interval", interval.String()).Info("Publication scheduler started")
	for {
		select {
		case <-ctx.Done():
			logger.GetLogger().Info("Publication scheduler stopped")
			return nil
		case now := <-ticker.C:
			if _, err := s.RunOnce(ctx, now); err != nil {
				logger.GetLogger().WithField("error", err).Error("Scheduler tick failed")
			}
		}
	}
}

func (s *schedulerUsecase) RunOnce(ctx context.Context, now time.Time) (int, error) {
	items, err := s.content.ListDueScheduled(ctx, now, s.batchSize)
	if err != nil {
		return 0, err
	}
	processed := 0
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		s.process(ctx, item, now)
		processed++
	}
	if processed > 0 {
		logger.GetLogger().WithField("count", processed).Info("Scheduled content processed")
	}
	return processed, nil
}

func (s *schedulerUsecase) process(ctx context.Context, item *model.ContentItem, now time.Time) {
	log := logger.GetLogger().WithField("content_id", item.ID)

	var due []model.Platform
	all := item.SocialPlatforms.All()
	for _, p := range model.KnownPlatforms {
		st, ok := all[p]
		switch {
		case ok && st.IsPending():
			due = append(due, p)
		case ok && st.IsStale(now, s.staleAfter):
			log.WithField("platform", p).Warn("Publishing state is stale, publishing again")
			due = append(due, p)
		case !ok && item.SocialPlatforms.Selected(p):
			due = append(due, p)
		}
	}
	if len(due) > 0 {
		res, err := s.publish.Publish(ctx, model.PublishRequest{
			ContentID: item.ID,
			Platforms: due,
			Immediate: true,
		})
		if err != nil {
			log.WithField("error", err).Error("Scheduled publish failed")
			return
		}
		log.WithField("success", res.Success).Info("Scheduled publish finished")
	}

	states, err := s.publish.GetStatus(ctx, item.ID)
	if err != nil {
		log.WithField("error", err).Warn("Unable to re-read publication state")
		return
	}
	status, ok := recordStatus(states)
	if !ok || status == item.Status {
		return
	}
	if len(states.All()) == 0 {
		log.Warn("No platform selected for publication")
	}
	if err := s.content.UpdateStatus(ctx, item.ID, status); err != nil {
		log.WithField("error", err).Error("Unable to update content status")
		return
	}
	log.WithField("status", status).Info("Scheduled content status updated")
}

// recordStatus derives the content status once no platform is left to
// publish; ok is false while any platform is still pending or publishing.
// A record with no platform state at all is failed.
func recordStatus(states *model.PlatformStates) (string, bool) {
	var published, failed int
	all := states.All()
	for _, p := range model.KnownPlatforms {
		st, found := all[p]
		if !found {
			continue
		}
		switch {
		case st.IsPending() || st.Status == model.StatusPublishing:
			return "", false
		case st.IsPublished():
			published++
		case st.Status == model.StatusFailed:
			failed++
		}
	}
	switch {
	case published > 0 && failed == 0:
		return model.ContentStatusPublished, true
	case published > 0:
		return model.ContentStatusPartiallyPublished, true
	}
	return model.ContentStatusFailed, true
}
