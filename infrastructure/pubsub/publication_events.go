package pubsub

import (
	"context"
	"encoding/json"
	"sync"

	"smm-publisher/domain/model"
	"smm-publisher/domain/repository"
	"smm-publisher/infrastructure/logger"

	"cloud.google.com/go/pubsub"
)

// PublicationEvents publishes publication status events to a Pub/Sub topic.
type PublicationEvents struct {
	client  *pubsub.Client
	topicID string

	mu    sync.Mutex
	topic *pubsub.Topic
}

var _ repository.IPublicationNotifier = (*PublicationEvents)(nil)

func NewPublicationEvents(client *pubsub.Client, topicID string) *PublicationEvents {
	return &PublicationEvents{client: client, topicID: topicID}
}

func (p *PublicationEvents) Notify(ctx context.Context, evt model.PublicationEvent) error {
	topic, err := p.ensureTopic(ctx)
	if err != nil {
		return err
	}
	msg, err := eventMessage(evt)
	if err != nil {
		return err
	}
	serverID, err := topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return err
	}
	logger.GetLogger().WithField("server ID", serverID).WithField("content_id", evt.ContentID).Debug("Publication event published")
	return nil
}

// ensureTopic creates the topic on first use when it does not exist.
func (p *PublicationEvents) ensureTopic(ctx context.Context) (*pubsub.Topic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.topic != nil {
		return p.topic, nil
	}
	topic := p.client.Topic(p.topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		logger.GetLogger().WithField("topic", p.topicID).Info("Topic doesn't exist - creating it")
		if topic, err = p.client.CreateTopic(ctx, p.topicID); err != nil {
			return nil, err
		}
	}
	p.topic = topic
	return topic, nil
}

// Stop flushes pending messages.
func (p *PublicationEvents) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.topic != nil {
		p.topic.Stop()
	}
}

func eventMessage(evt model.PublicationEvent) (*pubsub.Message, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	return &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"content_id": evt.ContentID,
			"platform":   string(evt.Platform),
			"status":     string(evt.Status),
		},
	}, nil
}
