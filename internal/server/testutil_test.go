package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"github.com/relaychat/server/internal/store"
)

// newTestHub builds a hub backed by an in-memory Badger store. The hub's
// event loop is not started; tests drive the dispatcher directly so frame
// handling is synchronous and deterministic.
func newTestHub(t *testing.T) *Hub {
	t.Helper()

	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHub(*NewConfig(), NewRegistry(), store.NewBadgerStore(db, log), log)
}

// newTestClient attaches a pump-less client to the hub. Outbound frames
// accumulate on the send channel where tests read them back.
func newTestClient(h *Hub, addr string) *Client {
	c := NewClient(nil, h, addr)
	h.attach(c)
	return c
}

// envelope is the decoded shape of any outbound frame.
type envelope struct {
	Type    string          `json:"type"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// nextFrame pops the next queued outbound frame. Dispatch is synchronous in
// these tests, so an empty buffer means the frame was never produced.
func nextFrame(t *testing.T, c *Client) envelope {
	t.Helper()
	select {
	case raw := <-c.send:
		var f envelope
		require.NoError(t, json.Unmarshal(raw, &f))
		return f
	default:
		t.Fatal("expected an outbound frame, send buffer is empty")
		return envelope{}
	}
}

// requireNoFrame asserts the client's outbound buffer is empty.
func requireNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case raw := <-c.send:
		t.Fatalf("expected no outbound frame, got %s", raw)
	default:
	}
}

// drain discards every queued outbound frame.
func drain(c *Client) {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}

// identify runs a full identify handshake for the client through the
// dispatcher and discards the resulting frames.
func identify(t *testing.T, h *Hub, c *Client, userID string) {
	t.Helper()
	h.dispatch(c, []byte(fmt.Sprintf(`{"type":"identify","data":{"userId":%q}}`, userID)))
	drain(c)
}

// sendFrame builds an inbound msg frame and dispatches it on the client.
func sendFrame(h *Hub, c *Client, senderID, recipientID, content string) {
	h.dispatch(c, []byte(fmt.Sprintf(
		`{"type":"msg","data":{"senderId":%q,"recipientId":%q,"content":%q}}`,
		senderID, recipientID, content)))
}

// decodeRecord unmarshals a frame payload into a message record.
func decodeRecord(t *testing.T, data json.RawMessage) store.MessageRecord {
	t.Helper()
	var record store.MessageRecord
	require.NoError(t, json.Unmarshal(data, &record))
	return record
}
