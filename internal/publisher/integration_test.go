//go:build integration

package publisher

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/wait"

	"xminer/internal/domain"
	"xminer/testdata/utils"
)

type RabbitMQIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *rabbitmq.RabbitMQContainer
	amqpURL   string
	logger    *slog.Logger
}

func (s *RabbitMQIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()
	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	container, err := rabbitmq.Run(s.ctx,
		"rabbitmq:3.13-management-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Server startup complete").
				WithStartupTimeout(60*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	amqpURL, err := container.AmqpURL(s.ctx)
	s.Require().NoError(err)
	s.amqpURL = amqpURL
}

func (s *RabbitMQIntegrationSuite) TearDownSuite() {
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func TestRabbitMQIntegrationSuite(t *testing.T) {
	suite.Run(t, new(RabbitMQIntegrationSuite))
}

func (s *RabbitMQIntegrationSuite) TestPublisher_Connection() {
	cfg := Config{
		URL:        s.amqpURL,
		Exchange:   "test-exchange",
		RoutingKey: "test-routing-key",
		QueueName:  "test-queue",
	}

	pub, err := NewRabbitMQ(cfg, s.logger)
	s.NoError(err)
	s.NotNil(pub)

	err = pub.Close()
	s.NoError(err)
}

func (s *RabbitMQIntegrationSuite) TestPublisher_PublishCreate() {
	cfg := Config{
		URL:        s.amqpURL,
		Exchange:   "test-exchange-create",
		RoutingKey: "test-routing-key-create",
		QueueName:  "test-queue-create",
	}

	pub, err := NewRabbitMQ(cfg, s.logger)
	s.Require().NoError(err)
	defer pub.Close()

	now := time.Now().UTC().Truncate(time.Millisecond)
	tweet := &domain.Tweet{
		ID:          "1976972865493077998",
		AuthorID:    42,
		Username:    "someone",
		CreatedAt:   now,
		Text:        "hello world",
		LikeCount:   utils.Ptr(int64(9)),
		RetrievedAt: now,
	}

	err = pub.PublishTweet(s.ctx, tweet, true)
	s.NoError(err)

	msg := s.consumeMessage(cfg)
	s.NotNil(msg)

	var received TweetMessage
	err = json.Unmarshal(msg.Body, &received)
	s.NoError(err)
	s.Equal("create", received.Action)
	s.Equal("1976972865493077998", received.Tweet.ID)
	s.Equal("hello world", received.Tweet.Text)
}

func (s *RabbitMQIntegrationSuite) TestPublisher_PublishRefresh() {
	cfg := Config{
		URL:        s.amqpURL,
		Exchange:   "test-exchange-refresh",
		RoutingKey: "test-routing-key-refresh",
		QueueName:  "test-queue-refresh",
	}

	pub, err := NewRabbitMQ(cfg, s.logger)
	s.Require().NoError(err)
	defer pub.Close()

	now := time.Now().UTC().Truncate(time.Millisecond)
	tweet := &domain.Tweet{
		ID:          "456",
		AuthorID:    42,
		Username:    "someone",
		CreatedAt:   now,
		Text:        "already stored",
		RetrievedAt: now,
	}

	err = pub.PublishTweet(s.ctx, tweet, false)
	s.NoError(err)

	msg := s.consumeMessage(cfg)
	s.NotNil(msg)

	var received TweetMessage
	err = json.Unmarshal(msg.Body, &received)
	s.NoError(err)
	s.Equal("refresh", received.Action)
	s.Equal("456", received.Tweet.ID)
}

func (s *RabbitMQIntegrationSuite) TestPublisher_MessageFormat() {
	cfg := Config{
		URL:        s.amqpURL,
		Exchange:   "test-exchange-format",
		RoutingKey: "test-routing-key-format",
		QueueName:  "test-queue-format",
	}

	pub, err := NewRabbitMQ(cfg, s.logger)
	s.Require().NoError(err)
	defer pub.Close()

	now := time.Now().UTC().Truncate(time.Millisecond)
	tweet := &domain.Tweet{
		ID:              "789",
		AuthorID:        42,
		Username:        "someone",
		CreatedAt:       now,
		Text:            "full tweet",
		Lang:            "de",
		ConversationID:  "789",
		LikeCount:       utils.Ptr(int64(10)),
		ReplyCount:      utils.Ptr(int64(2)),
		RetweetCount:    utils.Ptr(int64(3)),
		ImpressionCount: utils.Ptr(int64(1000)),
		Entities:        json.RawMessage(`{"hashtags": [{"tag": "go"}]}`),
		ReferencedTweets: []domain.TweetRef{
			{Kind: domain.RefQuoted, ID: "100"},
		},
		RetrievedAt: now,
	}

	err = pub.PublishTweet(s.ctx, tweet, true)
	s.NoError(err)

	msg := s.consumeMessage(cfg)
	s.NotNil(msg)

	s.Equal("application/json", msg.ContentType)

	var received TweetMessage
	err = json.Unmarshal(msg.Body, &received)
	s.NoError(err)

	s.Equal("create", received.Action)
	s.Equal("789", received.Tweet.ID)
	s.Equal(int64(42), received.Tweet.AuthorID)
	s.Equal("de", received.Tweet.Lang)
	s.NotNil(received.Tweet.LikeCount)
	s.Equal(int64(10), *received.Tweet.LikeCount)
	s.Nil(received.Tweet.QuoteCount)
	s.Len(received.Tweet.ReferencedTweets, 1)
	s.Equal(domain.RefQuoted, received.Tweet.ReferencedTweets[0].Kind)
	s.False(received.Timestamp.IsZero())
}

func (s *RabbitMQIntegrationSuite) TestPublisher_MessagePersistence() {
	cfg := Config{
		URL:        s.amqpURL,
		Exchange:   "test-exchange-persist",
		RoutingKey: "test-routing-key-persist",
		QueueName:  "test-queue-persist",
	}

	pub, err := NewRabbitMQ(cfg, s.logger)
	s.Require().NoError(err)
	defer pub.Close()

	now := time.Now().UTC().Truncate(time.Millisecond)
	tweet := &domain.Tweet{
		ID:          "999",
		AuthorID:    42,
		CreatedAt:   now,
		Text:        "persistent tweet",
		RetrievedAt: now,
	}

	err = pub.PublishTweet(s.ctx, tweet, true)
	s.NoError(err)

	msg := s.consumeMessage(cfg)
	s.NotNil(msg)

	s.Equal(uint8(amqp.Persistent), msg.DeliveryMode)
}

func (s *RabbitMQIntegrationSuite) consumeMessage(cfg Config) *amqp.Delivery {
	conn, err := amqp.Dial(s.amqpURL)
	s.Require().NoError(err)
	defer conn.Close()

	ch, err := conn.Channel()
	s.Require().NoError(err)
	defer ch.Close()

	msgs, err := ch.Consume(cfg.QueueName, "", true, false, false, false, nil)
	s.Require().NoError(err)

	select {
	case msg := <-msgs:
		return &msg
	case <-time.After(5 * time.Second):
		s.Fail("Timeout waiting for message")
		return nil
	}
}
