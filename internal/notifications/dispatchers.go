package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	pkgerrors "github.com/angelmondragon/forestcarbon-backend/pkg/errors"
	"github.com/angelmondragon/forestcarbon-backend/pkg/logger"
)

const defaultPublishTimeout = 10 * time.Second

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// PubSubDispatcher publishes notifications as JSON messages.
type PubSubDispatcher struct {
	pub     publisher
	timeout time.Duration
}

func NewPubSubDispatcher(p *gcppubsub.Publisher) (*PubSubDispatcher, error) {
	if p == nil {
		return nil, fmt.Errorf("notification publisher required")
	}
	return &PubSubDispatcher{pub: &gcpPublisher{Publisher: p}, timeout: defaultPublishTimeout}, nil
}

func (d *PubSubDispatcher) Dispatch(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode notification")
	}
	msg := &gcppubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"notification_type": string(n.Type),
			"entity_type":       n.EntityType,
			"entity_id":         n.EntityID.String(),
			"occurred_at":       n.OccurredAt.Format(time.RFC3339Nano),
		},
	}

	publishCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	result := d.pub.Publish(publishCtx, msg)
	if result == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "publisher returned nil result")
	}
	if _, err := result.Get(publishCtx); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "publish notification")
	}
	return nil
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return &gcpPublishResult{PublishResult: p.Publisher.Publish(ctx, msg)}
}

type gcpPublishResult struct {
	*gcppubsub.PublishResult
}

func (r *gcpPublishResult) Get(ctx context.Context) (string, error) {
	if r == nil || r.PublishResult == nil {
		return "", errors.New("publish result is nil")
	}
	return r.PublishResult.Get(ctx)
}

// LogDispatcher writes notifications to the structured log instead of a topic.
type LogDispatcher struct {
	logg *logger.Logger
}

func NewLogDispatcher(logg *logger.Logger) *LogDispatcher {
	return &LogDispatcher{logg: logg}
}

func (d *LogDispatcher) Dispatch(ctx context.Context, n Notification) error {
	if d.logg == nil {
		return nil
	}
	ctx = d.logg.WithFields(ctx, map[string]any{
		"notification_type": string(n.Type),
		"entity_type":       n.EntityType,
		"entity_id":         n.EntityID.String(),
		"title":             n.Title,
	})
	d.logg.Info(ctx, n.Message)
	return nil
}
