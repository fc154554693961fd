package connectors

const (
	TopicConnStatus    = "conn.status"
	TopicRawLineIn     = "radio.line.in"
	TopicRawLineOut    = "radio.line.out"
	TopicFrameIn       = "radio.frame.in"
	TopicHandshake     = "radio.handshake"
	TopicDelivery      = "radio.delivery"
	TopicBridgeOutcome = "bridge.outcome"
	TopicTelemetry     = "telemetry.published"
)
