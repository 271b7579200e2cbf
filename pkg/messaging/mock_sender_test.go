package messaging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockMessageSender(t *testing.T) {
	sender := NewMockMessageSender()
	update := &BookUpdate{Book: "BTC-USD", Seq: 1, Kind: "INSERT", OrderID: "1"}
	require.NoError(t, sender.SendBookUpdate(context.Background(), update))

	// later changes to the caller's value are not seen
	update.Seq = 99

	updates := sender.Updates()
	require.Len(t, updates, 1)
	assert.Equal(t, uint64(1), updates[0].Seq)

	require.NoError(t, sender.Close())
	assert.True(t, sender.closed)
}
