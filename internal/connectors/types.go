package connectors

import "time"

// ConnectionState describes a connector lifecycle state.
type ConnectionState string

const (
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateReconnecting ConnectionState = "reconnecting"
)

// ConnStatus is a bus event snapshot of the radio or broker connection.
type ConnStatus struct {
	State         ConnectionState
	Err           string
	TransportName string
	Target        string
	Timestamp     time.Time
}

// RawLine carries one module line for debug views.
type RawLine struct {
	Text string
	Len  int
}

// FrameEvent is a successfully decoded +RCV frame.
type FrameEvent struct {
	Sender     uint16
	Payload    []byte
	RSSI       int
	SNR        int
	ReceivedAt time.Time
}

type HandshakeEvent struct {
	Role     string
	State    string
	Attempts int
	Peer     uint16
	At       time.Time
}

type DeliveryEvent struct {
	Dest     uint16
	Outcome  string
	Attempts int
	At       time.Time
}

// BridgeEvent reports what the gateway did with one telemetry frame.
type BridgeEvent struct {
	Sender   uint16
	DeviceID string
	Topic    string
	Outcome  string
	Reason   string
	Payload  []byte
	RSSI     int
	SNR      int
	At       time.Time
}

// TelemetryEvent is emitted after a state publish succeeded.
type TelemetryEvent struct {
	Sender   uint16
	DeviceID string
	Topic    string
	Payload  []byte
	At       time.Time
}
