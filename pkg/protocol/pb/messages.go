// Package pb holds the control-plane messages exchanged between the routing
// layer and the coordinator host.
package pb

// ControlMessage wraps all control plane messages.
type ControlMessage struct {
	// Only one of these fields should be set.
	Hello         *Hello         `json:"hello,omitempty"`
	HelloAck      *HelloAck      `json:"hello_ack,omitempty"`
	PluginMessage *PluginMessage `json:"plugin_message,omitempty"`
	ErrorResponse *ErrorResponse `json:"error_response,omitempty"`
	Ping          *Ping          `json:"ping,omitempty"`
	Pong          *Pong          `json:"pong,omitempty"`
}

// ----- Handshake -----

// Hello is the first frame on every connection. One connection carries one
// user's plugin channel traffic.
type Hello struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

type HelloAck struct {
	Server   string   `json:"server"` // host version
	Channels []string `json:"channels"`
}

// ----- Plugin channel -----

type PluginMessage struct {
	Channel string `json:"channel"`
	Data    []byte `json:"data"` // base64 in JSON
}

// ----- Generic -----

type ErrorResponse struct {
	Code    int32  `json:"code"`
	Message string `json:"message"`
}

// Error codes carried in ErrorResponse.
const (
	CodeBadHello     int32 = 400
	CodeReplaced     int32 = 409
	CodeShuttingDown int32 = 503
)

type Ping struct {
	Timestamp int64 `json:"timestamp"`
}

type Pong struct {
	Timestamp int64 `json:"timestamp"`
}
