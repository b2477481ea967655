package notify

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/concord-io/concord/pkg/observability"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingSink struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (s *recordingSink) Send(ctx context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, n)
	return nil
}

func TestAsyncNotifier(t *testing.T) {
	t.Run("delivers to all sinks", func(t *testing.T) {
		a := &recordingSink{}
		b := &recordingSink{}
		n := NewAsyncNotifier([]Sink{a, b}, observability.NewNoopLogger(), nil)

		n.Dispatch(Notification{
			Kind:    KindEscalation,
			Subject: "budget summit deadlock",
			Body:    "conflict c-1 escalated for human review",
		})
		n.Close()

		require.Len(t, a.sent, 1)
		require.Len(t, b.sent, 1)
		assert.Equal(t, KindEscalation, a.sent[0].Kind)
		assert.Equal(t, "conflict c-1 escalated for human review", a.sent[0].Body)
		assert.NotZero(t, a.sent[0].ID)
		assert.False(t, a.sent[0].Timestamp.IsZero())
	})

	t.Run("one failing sink does not block the others", func(t *testing.T) {
		failing := &recordingSink{err: errors.New("smtp down")}
		healthy := &recordingSink{}
		metrics := observability.NewInMemoryMetricsClient()
		n := NewAsyncNotifier([]Sink{failing, healthy}, observability.NewNoopLogger(), metrics)

		n.Dispatch(Notification{Kind: KindResolution, Subject: "resolved"})
		n.Close()

		assert.Len(t, healthy.sent, 1)
		assert.Equal(t, float64(1), metrics.Counter("notify.sink_failures"))
		assert.Equal(t, float64(1), metrics.Counter("notify.dispatched"))
	})

	t.Run("close is idempotent", func(t *testing.T) {
		n := NewAsyncNotifier(nil, observability.NewNoopLogger(), nil)
		n.Close()
		n.Close()
	})
}

type fakeSQS struct {
	mu     sync.Mutex
	bodies []string
}

func (f *fakeSQS) SendMessage(ctx context.Context, input *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies = append(f.bodies, *input.MessageBody)
	return &sqs.SendMessageOutput{}, nil
}

func TestSQSSink(t *testing.T) {
	fake := &fakeSQS{}
	sink := NewSQSSinkWithClient(fake, "https://sqs.test/queue")

	err := sink.Send(context.Background(), Notification{
		Kind:    KindPendingApproval,
		Subject: "awaiting approval",
		Body:    "conflict c-2 has a consensus outcome awaiting approval",
	})
	require.NoError(t, err)
	require.Len(t, fake.bodies, 1)

	var decoded Notification
	require.NoError(t, json.Unmarshal([]byte(fake.bodies[0]), &decoded))
	assert.Equal(t, KindPendingApproval, decoded.Kind)
	assert.Equal(t, "conflict c-2 has a consensus outcome awaiting approval", decoded.Body)
}
