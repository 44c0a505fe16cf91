package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/example/vision-pipeline/internal/logging"
)

var (
	// ErrQueueUnavailable is returned when the topic cannot accept messages.
	ErrQueueUnavailable = errors.New("message queue unavailable")
	// ErrPublishTimeout is returned when no acknowledgment arrives in time.
	ErrPublishTimeout = errors.New("publish acknowledgment timed out")
)

// Publisher sends one JSON payload and returns the server-assigned message id.
type Publisher interface {
	Publish(ctx context.Context, payload any, attrs map[string]string) (string, error)
}

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

type topicHandle interface {
	Publish(ctx context.Context, msg *pubsub.Message) publishResult
	Stop()
}

type pubsubTopic struct {
	topic *pubsub.Topic
}

func (t pubsubTopic) Publish(ctx context.Context, msg *pubsub.Message) publishResult {
	return t.topic.Publish(ctx, msg)
}

func (t pubsubTopic) Stop() {
	t.topic.Stop()
}

// TopicPublisher publishes to a single topic and waits for the
// acknowledgment under a bounded timeout.
type TopicPublisher struct {
	topic   topicHandle
	topicID string
	timeout time.Duration
	logger  *zap.Logger
}

// NewClient opens a Pub/Sub client for projectID.
func NewClient(ctx context.Context, projectID string, opts ...option.ClientOption) (*pubsub.Client, error) {
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, logging.NewOperationError("notify.new_client", "", err)
	}
	return client, nil
}

// NewTopicPublisher binds a publisher to topicID on client.
func NewTopicPublisher(client *pubsub.Client, topicID string, timeout time.Duration, logger *zap.Logger) *TopicPublisher {
	return newTopicPublisher(pubsubTopic{topic: client.Topic(topicID)}, topicID, timeout, logger)
}

func newTopicPublisher(topic topicHandle, topicID string, timeout time.Duration, logger *zap.Logger) *TopicPublisher {
	return &TopicPublisher{
		topic:   topic,
		topicID: topicID,
		timeout: timeout,
		logger:  logger.Named("publisher").With(zap.String("topic", topicID)),
	}
}

// Publish marshals payload, publishes it and blocks until the server
// acknowledges or the timeout expires.
func (p *TopicPublisher) Publish(ctx context.Context, payload any, attrs map[string]string) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode message: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	result := p.topic.Publish(waitCtx, &pubsub.Message{Data: data, Attributes: attrs})
	id, err := result.Get(waitCtx)
	if err != nil {
		classified := p.classify(waitCtx, err)
		p.logger.Warn("publish failed", zap.Error(err), zap.Duration("timeout", p.timeout))
		return "", classified
	}
	p.logger.Debug("message published", zap.String("message_id", id))
	return id, nil
}

// Stop flushes pending messages.
func (p *TopicPublisher) Stop() {
	p.topic.Stop()
}

func (p *TopicPublisher) classify(waitCtx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %v", ErrPublishTimeout, p.timeout, err)
	}
	if errors.Is(err, pubsub.ErrTopicStopped) {
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	switch status.Code(err) {
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w after %s: %v", ErrPublishTimeout, p.timeout, err)
	case codes.Unavailable, codes.NotFound, codes.PermissionDenied, codes.Unauthenticated, codes.ResourceExhausted:
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	return fmt.Errorf("publish to %s: %w", p.topicID, err)
}

var _ Publisher = (*TopicPublisher)(nil)
