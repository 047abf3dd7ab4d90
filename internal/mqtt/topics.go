package mqtt

import (
	"fmt"
	"strings"
)

// Topics builds the bridge topic hierarchy under a prefix:
//
//	<prefix>/bridge/status
//	<prefix>/device/<id>/config
//	<prefix>/device/<id>/state
//	<prefix>/device/<id>/set
type Topics struct {
	prefix string
}

// NewTopics creates a topic builder. Surrounding slashes are trimmed from prefix.
func NewTopics(prefix string) Topics {
	return Topics{prefix: strings.Trim(prefix, "/")}
}

// BridgeStatus is the retained online/offline topic
func (t Topics) BridgeStatus() string {
	return t.prefix + "/bridge/status"
}

// DeviceConfig is the retained device description topic
func (t Topics) DeviceConfig(id string) string {
	return fmt.Sprintf("%s/device/%s/config", t.prefix, id)
}

// DeviceState is the retained attribute snapshot topic
func (t Topics) DeviceState(id string) string {
	return fmt.Sprintf("%s/device/%s/state", t.prefix, id)
}

// DeviceSet is the inbound command topic of one device
func (t Topics) DeviceSet(id string) string {
	return fmt.Sprintf("%s/device/%s/set", t.prefix, id)
}

// AllDeviceSets matches the command topics of every device
func (t Topics) AllDeviceSets() string {
	return t.prefix + "/device/+/set"
}

// ParseDeviceSet extracts the device id from a command topic
func (t Topics) ParseDeviceSet(topic string) (string, error) {
	rest, ok := strings.CutPrefix(topic, t.prefix+"/device/")
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	id, ok := strings.CutSuffix(rest, "/set")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	return id, nil
}
