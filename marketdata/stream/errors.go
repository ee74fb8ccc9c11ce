package stream

import "errors"

var (
	// ErrConnectCalledMultipleTimes is returned when Connect is called while the
	// client is already maintaining a connection
	ErrConnectCalledMultipleTimes = errors.New("tried to call Connect multiple times")
	// ErrNotConnected is returned by operations that need a live broker connection
	ErrNotConnected = errors.New("not connected to the broker")
	// ErrConnectionRejected is returned when the broker answers the STOMP CONNECT
	// frame with an ERROR frame, typically because of bad credentials
	ErrConnectionRejected = errors.New("broker rejected the connection")
	// ErrConnectionLost is reported to disconnect listeners when the socket
	// closed without a more specific error
	ErrConnectionLost = errors.New("connection lost")
)
