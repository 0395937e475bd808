package models

// ChatMessage is the payload a client sends over its WebSocket connection.
// Time is epoch milliseconds, set by the client.
type ChatMessage struct {
	Sender  string `json:"sender"`
	Message string `json:"message"`
	Time    int64  `json:"time"`
}

// RoutedMessage is a ChatMessage stamped with routing metadata before it is
// published to the work queue. Room is the session identifier of the
// originating connection and is always set server-side; any client-supplied
// value is overwritten. ID is a server-assigned identifier for log
// correlation and is not part of the client protocol.
type RoutedMessage struct {
	ChatMessage
	ID   string `json:"id,omitempty"`
	Room string `json:"room"`
}

// ServerResponse is the reply the worker publishes to the response queue.
// Room addresses the session the reply must be delivered to; To names the
// original sender.
type ServerResponse struct {
	Room    string `json:"room"`
	Sender  string `json:"sender"`
	To      string `json:"to"`
	Message string `json:"message"`
	Time    int64  `json:"time"`
}

// ResponseSender is the fixed sender value on every ServerResponse.
const ResponseSender = "server"
