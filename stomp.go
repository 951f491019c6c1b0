package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"
)

type StompConnection struct {
	conn *websocket.Conn
	log  *logrus.Entry
	lock sync.Mutex
}

type StompMessage struct {
	Body    []byte
	Headers map[string]string
	Verb    string
}

func (sm *StompMessage) GetBytes() (b []byte) {
	return []byte(sm.GetString())
}

func (sm *StompMessage) GetString() (s string) {
	var builder = strings.Builder{}
	builder.WriteString(sm.Verb + "\n")
	var keys = make([]string, 0, len(sm.Headers))
	for k := range sm.Headers {
		keys = append(keys, k)
	}

	sort.Strings(keys)
	for _, k := range keys {
		builder.WriteString(k + ":" + sm.Headers[k] + "\n")
	}

	builder.WriteString("\n")
	if len(sm.Body) > 0 {
		builder.Write(sm.Body)
	}

	builder.WriteString("\x00\n")
	return builder.String()
}

func NewStompConnection(ctx context.Context, url string, log *logrus.Entry) (sc *StompConnection, err error) {
	var dialOptions = websocket.DialOptions{
		HTTPClient: http.DefaultClient,
	}

	conn, _, err := websocket.Dial(ctx, url, &dialOptions)
	if err != nil {
		return nil, err
	}

	return &StompConnection{
		conn: conn,
		log:  log.WithField("broker", url),
	}, nil
}

func (sc *StompConnection) Connect(ctx context.Context, receipt uuid.UUID) (err error) {
	var stompMessage = StompMessage{
		Verb: "CONNECT",
		Headers: map[string]string{
			"accept-version": "1.0,1.1,1.2",
			"receipt":        receipt.String(),
		},
	}

	return sc.write(ctx, &stompMessage)
}

func (sc *StompConnection) Disconnect(ctx context.Context, receipt uuid.UUID) (err error) {
	var stompMessage = StompMessage{
		Verb: "DISCONNECT",
		Headers: map[string]string{
			"receipt": receipt.String(),
		},
	}

	return sc.write(ctx, &stompMessage)
}

func (sc *StompConnection) Send(
	ctx context.Context,
	dest string,
	body []byte,
	contentType string,
) (err error) {
	if len(contentType) == 0 {
		contentType = "text/plain"
	}

	var stompMessage = StompMessage{
		Verb: "SEND",
		Headers: map[string]string{
			"destination":    dest,
			"content-type":   contentType,
			"content-length": strconv.Itoa(len(body)),
		},
		Body: body,
	}

	return sc.write(ctx, &stompMessage)
}

// Listen logs frames sent by the broker until ctx is done or the socket
// fails. Nothing is subscribed, so only RECEIPT and ERROR frames arrive.
func (sc *StompConnection) Listen(ctx context.Context) {
	for {
		messageType, reader, err := sc.conn.Reader(ctx)
		if err != nil {
			if ctx.Err() == nil {
				sc.log.WithError(err).Warn("Broker connection lost")
			}

			return
		}

		var sm = processReceive(messageType, reader)
		switch sm.Verb {
		case "ERROR":
			sc.log.Warnf("Broker error: %s %s", sm.Headers["message"], string(sm.Body))
		case "RECEIPT":
			sc.log.Debugf("Broker receipt %s", sm.Headers["receipt-id"])
		default:
			sc.log.Debugf("Broker frame %s", sm.Verb)
		}
	}
}

func (sc *StompConnection) Close() error {
	return sc.conn.Close(websocket.StatusNormalClosure, "")
}

func (sc *StompConnection) write(ctx context.Context, sm *StompMessage) error {
	sc.lock.Lock()
	defer sc.lock.Unlock()
	return sc.conn.Write(ctx, websocket.MessageText, sm.GetBytes())
}

func processReceive(
	messageType websocket.MessageType,
	ioReader io.Reader,
) (sm StompMessage) {
	var headers = map[string]string{}
	var scanner = bufio.NewScanner(ioReader)
	scanner.Split(bufio.ScanLines)

	var verb string
	for scanner.Scan() {
		verb = strings.TrimSpace(scanner.Text())
		if len(verb) > 0 {
			break
		}
	}

	for scanner.Scan() {
		var text = scanner.Text()
		if len(text) == 0 {
			break
		}

		var parts = strings.SplitN(text, ":", 2)
		if len(parts) > 1 {
			var key = strings.ToLower(strings.TrimSpace(parts[0]))
			var value = strings.TrimSpace(parts[1])
			headers[key] = value
		}
	}

	var bodyBuffer = bytes.NewBuffer([]byte{})
	for scanner.Scan() {
		bodyBuffer.Write(scanner.Bytes())
	}

	var body = bytes.TrimRight(bodyBuffer.Bytes(), "\x00")
	var contentLength, ok = headers["content-length"]
	if ok {
		length, err := strconv.Atoi(contentLength)
		if err == nil && length >= 0 && length < len(body) {
			body = body[:length]
		}
	}

	return StompMessage{
		Verb:    verb,
		Headers: headers,
		Body:    body,
	}
}

// TelemetryPublisher forwards lines received from the serial port to a STOMP
// topic. Publishing is best effort.
type TelemetryPublisher struct {
	stomp   *StompConnection
	topic   string
	session string
	log     *logrus.Entry
	timeout time.Duration
}

func NewTelemetryPublisher(stomp *StompConnection, topic, session string, log *logrus.Entry) *TelemetryPublisher {
	return &TelemetryPublisher{
		stomp:   stomp,
		topic:   topic,
		session: session,
		log:     log,
		timeout: 2 * time.Second,
	}
}

func (tp *TelemetryPublisher) Publish(line string) {
	body, err := json.Marshal(Telemetry{
		Session:    tp.session,
		Line:       line,
		ReceivedAt: time.Now().UTC(),
	})
	if err != nil {
		tp.log.WithError(err).Error("Could not encode telemetry")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), tp.timeout)
	defer cancel()
	err = tp.stomp.Send(ctx, tp.topic, body, "application/json")
	if err != nil {
		tp.log.WithError(err).Errorf("Error writing serial output to %s", tp.topic)
	}
}
