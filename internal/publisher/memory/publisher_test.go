package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/localpages/directory/internal/publisher"
)

func TestPublishRecordsInOrder(t *testing.T) {
	t.Parallel()

	pub := New()

	id, err := pub.Publish(context.Background(), "batches", publisher.BatchNotification{BatchNumber: 1})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id)

	_, err = pub.Publish(context.Background(), "batches", publisher.BatchNotification{BatchNumber: 2})
	require.NoError(t, err)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "batches", msgs[0].Topic)
	first, ok := msgs[0].Payload.(publisher.BatchNotification)
	require.True(t, ok)
	require.Equal(t, 1, first.BatchNumber)

	pub.Reset()
	require.Empty(t, pub.Messages())
}
