package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

func TestStompMessageGetString(t *testing.T) {
	sm := StompMessage{
		Verb: "SEND",
		Headers: map[string]string{
			"destination":  "/topic/motor-telemetry",
			"content-type": "text/plain",
		},
		Body: []byte("M1 ok"),
	}

	expected := "SEND\ncontent-type:text/plain\ndestination:/topic/motor-telemetry\n\nM1 ok\x00\n"
	assert.Equal(t, expected, sm.GetString())
}

func TestProcessReceive(t *testing.T) {
	frame := "ERROR\nmessage: bad destination\ncontent-length:5\n\noops!extra\x00\n"

	sm := processReceive(websocket.MessageText, strings.NewReader(frame))

	assert.Equal(t, "ERROR", sm.Verb)
	assert.Equal(t, "bad destination", sm.Headers["message"])
	assert.Equal(t, "oops!", string(sm.Body))
}

func TestProcessReceiveWithoutBody(t *testing.T) {
	frame := "RECEIPT\nreceipt-id:77\n\n\x00"

	sm := processReceive(websocket.MessageText, strings.NewReader(frame))

	assert.Equal(t, "RECEIPT", sm.Verb)
	assert.Equal(t, "77", sm.Headers["receipt-id"])
	assert.Empty(t, sm.Body)
}

// newBroker accepts one websocket client and hands every received frame to
// the returned channel.
func newBroker(t *testing.T) (string, <-chan StompMessage) {
	t.Helper()
	frames := make(chan StompMessage, 16)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		for {
			messageType, reader, err := conn.Reader(r.Context())
			if err != nil {
				return
			}

			frames <- processReceive(messageType, reader)
		}
	}))
	t.Cleanup(server.Close)

	return server.URL, frames
}

func nextFrame(t *testing.T, frames <-chan StompMessage) StompMessage {
	t.Helper()
	select {
	case sm := <-frames:
		return sm
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return StompMessage{}
	}
}

func TestTelemetryPublisher(t *testing.T) {
	url, frames := newBroker(t)
	log, _ := testLogger()
	ctx := context.Background()

	sc, err := NewStompConnection(ctx, url, log)
	require.NoError(t, err)
	defer sc.Close()

	receipt := uuid.New()
	require.NoError(t, sc.Connect(ctx, receipt))
	connect := nextFrame(t, frames)
	assert.Equal(t, "CONNECT", connect.Verb)
	assert.Equal(t, receipt.String(), connect.Headers["receipt"])

	NewTelemetryPublisher(sc, DefaultTelemetryTopic, "session-1", log).Publish("speed=4")

	send := nextFrame(t, frames)
	assert.Equal(t, "SEND", send.Verb)
	assert.Equal(t, DefaultTelemetryTopic, send.Headers["destination"])
	assert.Equal(t, "application/json", send.Headers["content-type"])

	var telemetry Telemetry
	require.NoError(t, json.Unmarshal(send.Body, &telemetry))
	assert.Equal(t, "session-1", telemetry.Session)
	assert.Equal(t, "speed=4", telemetry.Line)
	assert.False(t, telemetry.ReceivedAt.IsZero())
}

func TestRelayPublishesTelemetry(t *testing.T) {
	url, frames := newBroker(t)
	log, _ := testLogger()

	sc, err := NewStompConnection(context.Background(), url, log)
	require.NoError(t, err)

	port := newFakePort()
	port.incoming <- []byte("M2 stalled\n")
	relay := NewRelay(NewSerialConnection(port, log), DefaultKeyMap(), log).
		WithTelemetry(sc, NewTelemetryPublisher(sc, DefaultTelemetryTopic, "session-2", log))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)
	require.NoError(t, relay.Run(ctx, &scriptedInput{hold: true}))

	send := nextFrame(t, frames)
	assert.Equal(t, "SEND", send.Verb)
	assert.Contains(t, string(send.Body), `"line":"M2 stalled"`)

	disconnect := nextFrame(t, frames)
	assert.Equal(t, "DISCONNECT", disconnect.Verb)
	assert.True(t, port.isClosed())
}
