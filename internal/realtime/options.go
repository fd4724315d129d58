package realtime

import (
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Connection defaults, used when the configuration leaves a value at zero.
const (
	// defaultConnectTimeout bounds the blocking wait in Connect.
	defaultConnectTimeout = 10 * time.Second

	// defaultWriteTimeout bounds a single frame write.
	defaultWriteTimeout = 5 * time.Second

	// defaultMaxMessageSize caps inbound frames (1MB, the service's own limit).
	defaultMaxMessageSize = 1 << 20

	// closeGracePeriod bounds the close frame written by Disconnect.
	closeGracePeriod = time.Second
)

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// discardLogger is used until SetLogger is called.
var discardLogger Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

// Scheduler runs deferred reconnect attempts.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending deferred call.
type Timer interface {
	Stop() bool
}

// timeScheduler schedules with time.AfterFunc.
type timeScheduler struct{}

func (timeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// WebsocketURL derives the websocket address from the REST base URL.
//
// http:// becomes ws://; anything else is treated as https:// and becomes
// wss://. Host and path are preserved.
//
// Example: https://cdb.example.com/api/v1/ -> wss://cdb.example.com/api/v1/
func WebsocketURL(base string) string {
	if rest, ok := strings.CutPrefix(base, "http://"); ok {
		return "ws://" + rest
	}
	if len(base) < len("https://") {
		return "wss://"
	}
	return "wss://" + base[len("https://"):]
}

// BasicAuthHeader builds the handshake header for username/password login.
// The core attaches whatever header it is given verbatim; this is a
// convenience for callers holding plain credentials.
func BasicAuthHeader(username, password string) http.Header {
	header := make(http.Header)
	if username == "" && password == "" {
		return header
	}
	token := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	header.Set("Authorization", "Basic "+token)
	return header
}
