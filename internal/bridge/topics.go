package bridge

import "strings"

const (
	DefaultStatePrefix     = "weather"
	DefaultDiscoveryPrefix = "homeassistant"
)

// StateTopic is where a satellite's telemetry JSON is published.
func StateTopic(prefix, deviceID string) string {
	return joinTopic(prefix, deviceID, "state")
}

// DiscoveryTopic is the retained Home Assistant config topic of one sensor.
func DiscoveryTopic(prefix, deviceID, sensorKey string) string {
	return joinTopic(prefix, "sensor", deviceID+"_"+sensorKey, "config")
}

func joinTopic(parts ...string) string {
	clean := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			clean = append(clean, p)
		}
	}
	return strings.Join(clean, "/")
}
