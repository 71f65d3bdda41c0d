package mqtt

import (
	"fmt"
	"strings"

	"github.com/basharjaffan/radio-revive-stream/internal/infrastructure/config"
)

// MQTT wildcard segments.
const (
	// WildcardSingle matches exactly one topic segment.
	WildcardSingle = "+"

	// WildcardMulti matches all remaining topic segments. By convention it
	// is the final segment of a pattern.
	WildcardMulti = "#"

	topicSeparator = "/"
)

// MatchTopic reports whether topic is addressed by the subscription pattern.
//
// Both arguments are split on "/" and compared segment by segment:
//   - "#" matches immediately, whatever remains of the topic
//   - a topic shorter than the pattern does not match
//   - "+" matches any single segment
//   - any other segment must be byte-equal
//
// After the pattern is exhausted the topic must have the same number of
// segments. Empty segments (consecutive slashes) are ordinary segments and
// nothing is trimmed or case-folded. MatchTopic does not check that "#" is
// the last pattern segment.
func MatchTopic(pattern, topic string) bool {
	subSegments := strings.Split(pattern, topicSeparator)
	topicSegments := strings.Split(topic, topicSeparator)

	for i, sub := range subSegments {
		if sub == WildcardMulti {
			return true
		}

		if i >= len(topicSegments) {
			return false
		}

		if sub == WildcardSingle {
			continue
		}

		if sub != topicSegments[i] {
			return false
		}
	}

	return len(subSegments) == len(topicSegments)
}

// DeviceTopic substitutes deviceID for the {deviceId} placeholder in a
// command or status topic template. Only the first placeholder is replaced;
// config validation guarantees there is exactly one.
func DeviceTopic(template, deviceID string) string {
	return strings.Replace(template, config.DeviceIDPlaceholder, deviceID, 1)
}

// Topics provides builders for the default device topic layout.
//
//	topics := mqtt.Topics{}
//	topics.DeviceStatus("pi-kitchen")   // devices/pi-kitchen/status
//	topics.DeviceCommands("pi-kitchen") // devices/pi-kitchen/commands
type Topics struct{}

// DeviceStatus returns the topic a device publishes its status reports on.
//
// Example: devices/pi-kitchen/status
func (Topics) DeviceStatus(deviceID string) string {
	return fmt.Sprintf("devices/%s/status", deviceID)
}

// DeviceCommands returns the topic a device receives commands on.
//
// Example: devices/pi-kitchen/commands
func (Topics) DeviceCommands(deviceID string) string {
	return fmt.Sprintf("devices/%s/commands", deviceID)
}

// AllDeviceStatuses returns a pattern matching every device status topic.
//
// Pattern: devices/+/status
func (Topics) AllDeviceStatuses() string {
	return "devices/+/status"
}

// BridgePresence returns the retained presence topic for a bridge instance.
//
// Example: bridges/radio-revive-backend/status
func (Topics) BridgePresence(clientID string) string {
	return fmt.Sprintf("bridges/%s/status", clientID)
}
