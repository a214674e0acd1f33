package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/iliyamo/sportsbook/internal/logger"
	"github.com/iliyamo/sportsbook/internal/queue"
)

type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) Publish(ctx context.Context, ev queue.Event) error {
	return m.Called(ctx, ev).Error(0)
}

func TestPublishBestEffortSwallowsErrors(t *testing.T) {
	pub := new(mockPublisher)
	ev := queue.NewEvent(queue.KeyMatchJoined, 3, 1, 2)
	pub.On("Publish", mock.Anything, ev).Return(errors.New("broker down")).Once()

	assert.NotPanics(t, func() {
		PublishBestEffort(context.Background(), pub, logger.Discard(), ev)
	})
	pub.AssertExpectations(t)

	assert.NotPanics(t, func() {
		PublishBestEffort(context.Background(), nil, logger.Discard(), ev)
	})
}

func TestLogPublisher(t *testing.T) {
	p := LogPublisher{Log: logger.Discard()}
	assert.NoError(t, p.Publish(context.Background(), queue.NewEvent(queue.KeyChatMessage, 1, 1)))
}
