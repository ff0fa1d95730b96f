package mq

import (
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducer_Publish(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != `{"event":"low_credit"}` {
			return errors.New("unexpected payload")
		}
		return nil
	})

	p := NewProducer(mock)
	require.NoError(t, p.Publish("billing_notification", "user:1", `{"event":"low_credit"}`))
	require.NoError(t, p.Close())
}

func TestProducer_PublishError(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewProducer(mock)
	err := p.Publish("billing_notification", "user:1", "{}")
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}

func TestProducer_CloseNil(t *testing.T) {
	var p *Producer
	assert.NoError(t, p.Close())
}
