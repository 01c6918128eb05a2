package servicebus

import (
	"context"
	"encoding/json"

	"smm-publisher/domain/model"
	"smm-publisher/domain/repository"
	"smm-publisher/infrastructure/logger"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
)

// PublicationEvents sends publication status events to a Service Bus queue.
type PublicationEvents struct {
	client *azservicebus.Client
	queue  string
}

var _ repository.IPublicationNotifier = (*PublicationEvents)(nil)

func NewPublicationEvents(client *azservicebus.Client, queue string) *PublicationEvents {
	return &PublicationEvents{client: client, queue: queue}
}

func (s *PublicationEvents) Notify(ctx context.Context, evt model.PublicationEvent) error {
	sender, err := s.client.NewSender(s.queue, nil)
	if err != nil {
		logger.GetLogger().
			WithField("error", err).
			Error("Error while making new sender service bus.")
		return err
	}
	defer func(sender *azservicebus.Sender, ctx context.Context) {
		err := sender.Close(ctx)
		if err != nil {
			logger.GetLogger().
				WithField("error", err).
				Error("Error while closing sender.")
		}
	}(sender, context.WithoutCancel(ctx))

	msg, err := eventMessage(evt)
	if err != nil {
		return err
	}
	if err := sender.SendMessage(ctx, msg, nil); err != nil {
		logger.GetLogger().WithField("error", err).Error("Error while sending message.")
		return err
	}
	return nil
}

func eventMessage(evt model.PublicationEvent) (*azservicebus.Message, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	contentType := "application/json"
	subject := evt.Type
	if subject == "" {
		subject = "publication_status"
	}
	return &azservicebus.Message{
		Body:        body,
		ContentType: &contentType,
		Subject:     &subject,
		ApplicationProperties: map[string]any{
			"content_id": evt.ContentID,
			"platform":   string(evt.Platform),
			"status":     string(evt.Status),
		},
	}, nil
}
