package usecase

import (
	"context"
	"errors"

	"smm-publisher/domain/model"
	"smm-publisher/domain/repository"
	"smm-publisher/infrastructure/logger"
)

type multiNotifier []repository.IPublicationNotifier

// NewMultiNotifier fans every event out to all notifiers; nil entries are skipped.
// One notifier failing never stops the others.
func NewMultiNotifier(notifiers ...repository.IPublicationNotifier) repository.IPublicationNotifier {
	m := make(multiNotifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			m = append(m, n)
		}
	}
	return m
}

func (m multiNotifier) Notify(ctx context.Context, evt model.PublicationEvent) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, evt); err != nil {
			logger.GetLogger().WithFields(map[string]interface{}{
				"content_id": evt.ContentID,
				"platform":   evt.Platform,
				"error":      err.Error(),
			}).Warn("Publication notifier failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
