package server

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaychat/server/internal/protocol"
)

func TestSendToOfflineRecipientAcksWithoutDelivery(t *testing.T) {
	h := newTestHub(t)
	sender := newTestClient(h, "127.0.0.1:1001")
	identify(t, h, sender, "1")

	sendFrame(h, sender, "1", "2", "hi")

	ack := nextFrame(t, sender)
	require.Equal(t, protocol.TypeAck, ack.Type)
	record := decodeRecord(t, ack.Data)
	assert.Equal(t, "1", record.SenderID)
	assert.Equal(t, "2", record.RecipientID)
	assert.Equal(t, "hi", record.Content)
	assert.False(t, record.Delivered)
	assert.NotEmpty(t, record.ID)

	// Store-and-forward is not a failure: no delivered frame, no error.
	requireNoFrame(t, sender)

	queued, err := h.store.FindUndelivered("2")
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, record.ID, queued[0].ID)
}

func TestSendToOnlineRecipientDeliversImmediately(t *testing.T) {
	h := newTestHub(t)
	sender := newTestClient(h, "127.0.0.1:1001")
	recipient := newTestClient(h, "127.0.0.1:1002")
	identify(t, h, sender, "1")
	identify(t, h, recipient, "2")
	drain(sender)

	sendFrame(h, sender, "1", "2", "hi")

	// Ack always precedes delivered for the same message.
	ack := nextFrame(t, sender)
	require.Equal(t, protocol.TypeAck, ack.Type)
	record := decodeRecord(t, ack.Data)

	delivered := nextFrame(t, sender)
	require.Equal(t, protocol.TypeDelivered, delivered.Type)
	var receipt protocol.DeliveredPayload
	require.NoError(t, json.Unmarshal(delivered.Data, &receipt))
	assert.Equal(t, record.ID, receipt.MessageID)
	assert.Equal(t, "2", receipt.RecipientID)

	pushed := nextFrame(t, recipient)
	require.Equal(t, protocol.TypeMsg, pushed.Type)
	assert.Equal(t, record.ID, decodeRecord(t, pushed.Data).ID)

	queued, err := h.store.FindUndelivered("2")
	require.NoError(t, err)
	assert.Empty(t, queued)
}

func TestSendWithMissingFieldsIsRejected(t *testing.T) {
	h := newTestHub(t)
	sender := newTestClient(h, "127.0.0.1:1001")
	identify(t, h, sender, "1")

	h.dispatch(sender, []byte(`{"type":"msg","data":{"senderId":"1","recipientId":"2"}}`))

	frame := nextFrame(t, sender)
	assert.Equal(t, protocol.TypeError, frame.Type)
	assert.Equal(t, protocol.CodeValidation, frame.Code)

	queued, err := h.store.FindUndelivered("2")
	require.NoError(t, err)
	assert.Empty(t, queued, "nothing is persisted on validation failure")
}

func TestSendFromUnidentifiedConnectionIsRejected(t *testing.T) {
	h := newTestHub(t)
	c := newTestClient(h, "127.0.0.1:1001")

	sendFrame(h, c, "1", "2", "hi")

	frame := nextFrame(t, c)
	assert.Equal(t, protocol.CodeNotIdentified, frame.Code)

	queued, err := h.store.FindUndelivered("2")
	require.NoError(t, err)
	assert.Empty(t, queued)
}

func TestSendWithSpoofedSenderIsRejected(t *testing.T) {
	h := newTestHub(t)
	c := newTestClient(h, "127.0.0.1:1001")
	identify(t, h, c, "1")

	sendFrame(h, c, "999", "2", "hi")

	frame := nextFrame(t, c)
	assert.Equal(t, protocol.CodeSenderMismatch, frame.Code)

	queued, err := h.store.FindUndelivered("2")
	require.NoError(t, err)
	assert.Empty(t, queued)
}

// A push failure leaves the record undelivered; it becomes eligible for
// flush on the recipient's next connection instead of an inline retry.
func TestDeliveryFailureLeavesMessageQueued(t *testing.T) {
	h := newTestHub(t)
	sender := newTestClient(h, "127.0.0.1:1001")
	recipient := newTestClient(h, "127.0.0.1:1002")
	identify(t, h, sender, "1")
	identify(t, h, recipient, "2")
	drain(sender)

	// The recipient's connection dies between the registry lookup and the
	// write attempt.
	recipient.markClosed()

	sendFrame(h, sender, "1", "2", "hi")

	ack := nextFrame(t, sender)
	require.Equal(t, protocol.TypeAck, ack.Type)
	requireNoFrame(t, sender)

	queued, err := h.store.FindUndelivered("2")
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.False(t, queued[0].Delivered)
}

func TestFlushOnReconnectDeliversInCreationOrder(t *testing.T) {
	h := newTestHub(t)
	sender := newTestClient(h, "127.0.0.1:1001")
	identify(t, h, sender, "1")

	for i := 1; i <= 3; i++ {
		sendFrame(h, sender, "1", "2", fmt.Sprintf("message %d", i))
	}
	drain(sender)

	recipient := newTestClient(h, "127.0.0.1:1002")
	h.dispatch(recipient, []byte(`{"type":"identify","data":{"userId":"2"}}`))

	list := nextFrame(t, recipient)
	require.Equal(t, protocol.TypePresenceList, list.Type)

	for i := 1; i <= 3; i++ {
		pushed := nextFrame(t, recipient)
		require.Equal(t, protocol.TypeMsg, pushed.Type)
		record := decodeRecord(t, pushed.Data)
		assert.Equal(t, fmt.Sprintf("message %d", i), record.Content, "flush preserves creation order")
	}

	identified := nextFrame(t, recipient)
	assert.Equal(t, protocol.TypeIdentified, identified.Type)

	// The sender is online, so each flushed message produces a delivered
	// notification.
	for i := 1; i <= 3; i++ {
		frame := nextFrame(t, sender)
		assert.Equal(t, protocol.TypeDelivered, frame.Type)
	}

	queued, err := h.store.FindUndelivered("2")
	require.NoError(t, err)
	assert.Empty(t, queued)
}

// The two-user walkthrough: immediate delivery while both are online, then
// store-and-forward across a disconnect and reconnect.
func TestSendAndReconnectScenario(t *testing.T) {
	h := newTestHub(t)
	alice := newTestClient(h, "127.0.0.1:1001")
	bob := newTestClient(h, "127.0.0.1:1002")
	identify(t, h, alice, "1")
	identify(t, h, bob, "2")
	drain(alice)

	sendFrame(h, alice, "1", "2", "hi")

	require.Equal(t, protocol.TypeAck, nextFrame(t, alice).Type)
	require.Equal(t, protocol.TypeDelivered, nextFrame(t, alice).Type)
	require.Equal(t, protocol.TypeMsg, nextFrame(t, bob).Type)

	h.detach(bob)
	drain(alice) // offline presence event

	sendFrame(h, alice, "1", "2", "are you there?")
	require.Equal(t, protocol.TypeAck, nextFrame(t, alice).Type)
	requireNoFrame(t, alice)

	reconnected := newTestClient(h, "127.0.0.1:1003")
	h.dispatch(reconnected, []byte(`{"type":"identify","data":{"userId":"2"}}`))

	require.Equal(t, protocol.TypePresenceList, nextFrame(t, reconnected).Type)
	pushed := nextFrame(t, reconnected)
	require.Equal(t, protocol.TypeMsg, pushed.Type)
	assert.Equal(t, "are you there?", decodeRecord(t, pushed.Data).Content)
	require.Equal(t, protocol.TypeIdentified, nextFrame(t, reconnected).Type)

	require.Equal(t, protocol.TypeDelivered, nextFrame(t, alice).Type)
	drain(alice) // online presence event for user 2
}
