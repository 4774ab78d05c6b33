package kafka

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/OptiFlow/internal/testutil"
	"github.com/turtacn/OptiFlow/pkg/errors"
	"github.com/turtacn/OptiFlow/pkg/types/common"
)

// mockKafkaReader replays msgs, then blocks until the context ends.
type mockKafkaReader struct {
	msgs      []kafka.Message
	fetchErr  error
	commitErr error
	committed []int64
	closed    int
}

func (m *mockKafkaReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if m.fetchErr != nil {
		return kafka.Message{}, m.fetchErr
	}
	if len(m.msgs) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := m.msgs[0]
	m.msgs = m.msgs[1:]
	return msg, nil
}

func (m *mockKafkaReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	if m.commitErr != nil {
		return m.commitErr
	}
	for _, msg := range msgs {
		m.committed = append(m.committed, msg.Offset)
	}
	return nil
}

func (m *mockKafkaReader) Close() error {
	m.closed++
	return nil
}

func solveRecord(t *testing.T, offset int64, problemType string) kafka.Message {
	t.Helper()
	env, err := NewEventEnvelope(EventSolveCompleted, common.SolveEvent{ProblemType: problemType, Status: "OPTIMAL"})
	require.NoError(t, err)
	msg, err := env.ToMessage(DefaultSolveTopic, problemType)
	require.NoError(t, err)
	return kafka.Message{Topic: msg.Topic, Offset: offset, Key: msg.Key, Value: msg.Value}
}

func TestNewConsumer_RequiresBrokers(t *testing.T) {
	_, err := NewConsumer(ConsumerConfig{}, nil)
	assert.True(t, errors.IsValidation(err))
}

func TestConsumer_HandlesAndCommits(t *testing.T) {
	r := &mockKafkaReader{msgs: []kafka.Message{solveRecord(t, 7, "lp"), solveRecord(t, 8, "solves/vap")}}
	c := newConsumer(r, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var seen []string
	err := c.Run(ctx, func(_ context.Context, env *EventEnvelope) error {
		var ev common.SolveEvent
		require.NoError(t, env.DecodePayload(&ev))
		seen = append(seen, ev.ProblemType)
		if len(seen) == 2 {
			cancel()
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"lp", "solves/vap"}, seen)
	assert.Equal(t, []int64{7, 8}, r.committed)
}

func TestConsumer_SkipsUndecodableRecords(t *testing.T) {
	logger := testutil.NewMockLogger()
	r := &mockKafkaReader{msgs: []kafka.Message{{Offset: 1, Value: []byte("not json")}, solveRecord(t, 2, "lp")}}
	c := newConsumer(r, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	calls := 0
	err := c.Run(ctx, func(context.Context, *EventEnvelope) error {
		calls++
		cancel()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, []int64{1, 2}, r.committed)
	assert.True(t, logger.HasMessage("warn", "skipping undecodable record"))
}

func TestConsumer_HandlerErrorStopsWithoutCommit(t *testing.T) {
	r := &mockKafkaReader{msgs: []kafka.Message{solveRecord(t, 3, "lp")}}
	c := newConsumer(r, nil)

	boom := stderrors.New("boom")
	err := c.Run(context.Background(), func(context.Context, *EventEnvelope) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, r.committed)
}

func TestConsumer_FetchAndCommitFailures(t *testing.T) {
	c := newConsumer(&mockKafkaReader{fetchErr: stderrors.New("broker down")}, nil)
	err := c.Run(context.Background(), func(context.Context, *EventEnvelope) error { return nil })
	assert.True(t, errors.IsCode(err, errors.ErrCodeExternalService))

	r := &mockKafkaReader{msgs: []kafka.Message{solveRecord(t, 4, "lp")}, commitErr: stderrors.New("rebalance")}
	c = newConsumer(r, nil)
	err = c.Run(context.Background(), func(context.Context, *EventEnvelope) error { return nil })
	assert.True(t, errors.IsCode(err, errors.ErrCodeExternalService))

	require.NoError(t, c.Close())
	assert.Equal(t, 1, r.closed)
}

//Personal.AI order the ending
