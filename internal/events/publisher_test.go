package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/clob-engine/internal/model"
)

// fakeWriter implements the same methods as *kafka.Writer.
type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, m ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, m...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaPublisher_OneMessagePerTradeKeyedByOutcome(t *testing.T) {
	fw := &fakeWriter{}
	p := newKafkaPublisher(fw, nil)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	trades := []model.Trade{
		{ID: "t1", OutcomeID: "o1", Taker: model.User("bob"), Maker: model.User("alice"), TakerSide: model.Sell, Price: 5000, Quantity: 10, CreatedAt: at},
		{ID: "t2", OutcomeID: "o2", Taker: model.User("bob"), Maker: model.System(), TakerSide: model.Buy, Price: 4000, Quantity: 1, CreatedAt: at},
	}
	require.NoError(t, p.PublishTrades(context.Background(), trades))
	require.Len(t, fw.msgs, 2)

	assert.Equal(t, "o1", string(fw.msgs[0].Key))
	assert.Equal(t, "o2", string(fw.msgs[1].Key))
	assert.Equal(t, at, fw.msgs[0].Time)

	var ev struct {
		Type  string `json:"type"`
		Trade struct {
			ID        string  `json:"id"`
			TakerSide string  `json:"taker_side"`
			Maker     *string `json:"maker_user_id"`
		} `json:"trade"`
	}
	require.NoError(t, json.Unmarshal(fw.msgs[1].Value, &ev))
	assert.Equal(t, "trade", ev.Type)
	assert.Equal(t, "t2", ev.Trade.ID)
	assert.Equal(t, "buy", ev.Trade.TakerSide)
	assert.Nil(t, ev.Trade.Maker, "system maker should encode as null")
}

func TestKafkaPublisher_EmptyIsNoop(t *testing.T) {
	fw := &fakeWriter{err: errors.New("should not be called")}
	p := newKafkaPublisher(fw, nil)
	assert.NoError(t, p.PublishTrades(context.Background(), nil))
}

func TestKafkaPublisher_WrapsWriterError(t *testing.T) {
	boom := errors.New("broker down")
	p := newKafkaPublisher(&fakeWriter{err: boom}, nil)

	err := p.PublishTrades(context.Background(), []model.Trade{{ID: "t1", OutcomeID: "o1", TakerSide: model.Buy}})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestKafkaPublisher_Close(t *testing.T) {
	fw := &fakeWriter{}
	require.NoError(t, newKafkaPublisher(fw, nil).Close())
	assert.True(t, fw.closed)
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.PublishTrades(context.Background(), []model.Trade{{ID: "x"}}))
	assert.NoError(t, p.Close())
}
