package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// Command names understood by the service.
const (
	CmdInsert      = "insert"
	CmdSubscribe   = "subscribe"
	CmdUnsubscribe = "unsubscribe"
)

// Command is a single outbound frame.
//
//	{"cmd":"insert","arg":"alice/phone/battery","d":[{"t":1.5,"d":87}]}
//	{"cmd":"subscribe","arg":"alice/phone"}
type Command struct {
	Cmd  string `json:"cmd"`
	Arg  string `json:"arg"`
	Data any    `json:"d"`
}

// controlFrame is the encoding of subscribe and unsubscribe, which carry no data.
type controlFrame struct {
	Cmd string `json:"cmd"`
	Arg string `json:"arg"`
}

// MarshalJSON always writes "d" for inserts, null included, and leaves it
// off every other command.
func (c Command) MarshalJSON() ([]byte, error) {
	if c.Cmd == CmdInsert {
		type frame Command
		return json.Marshal(frame(c))
	}
	return json.Marshal(controlFrame{Cmd: c.Cmd, Arg: c.Arg})
}

// InsertCommand builds an insert of data into topic.
func InsertCommand(topic string, data any) Command {
	return Command{Cmd: CmdInsert, Arg: topic, Data: data}
}

// SubscribeCommand builds a subscribe for topic.
func SubscribeCommand(topic string) Command {
	return Command{Cmd: CmdSubscribe, Arg: topic}
}

// UnsubscribeCommand builds an unsubscribe for topic.
func UnsubscribeCommand(topic string) Command {
	return Command{Cmd: CmdUnsubscribe, Arg: topic}
}

// Message is a single inbound frame.
//
//	{"stream":"alice/phone/battery","data":[{"t":1.5,"d":87}]}
type Message struct {
	Stream    string          `json:"stream"`
	Transform string          `json:"transform,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// errMalformedFrame is wrapped by decodeMessage for frames missing required fields.
var errMalformedFrame = errors.New("malformed frame")

// decodeMessage parses an inbound frame. Both stream and data are required.
func decodeMessage(frame []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %w", errMalformedFrame, err)
	}
	if msg.Stream == "" {
		return Message{}, fmt.Errorf("%w: missing stream", errMalformedFrame)
	}
	if len(msg.Data) == 0 {
		return Message{}, fmt.Errorf("%w: missing data", errMalformedFrame)
	}
	return msg, nil
}

// Send writes cmd as one text frame.
//
// Frames are serialised under the send lock, so concurrent callers never
// interleave partial frames. Transport failures are returned to the caller.
//
// Returns:
//   - error: ErrNotConnected without an open socket, or wrapped ErrSendFailed
func (c *Client) Send(cmd Command) error {
	frame, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("%w: encoding %s command: %w", ErrSendFailed, cmd.Cmd, err)
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	conn := c.currentConn()
	if conn == nil {
		return ErrNotConnected
	}

	if c.writeTimeout > 0 {
		//nolint:errcheck // Best-effort deadline; write error caught below
		conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	return nil
}
