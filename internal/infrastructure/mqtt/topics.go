package mqtt

import (
	"fmt"
	"strings"
)

// Topic roots.
//
// Bay traffic lives under wash/{bayId}/..., which is what downstream
// consumers subscribe to (wash/+/status). Gateway presence and health live
// under a separate root so a wash/+/status subscriber never sees them.
const (
	// TopicPrefixBay is the root of per-bay command and status topics.
	TopicPrefixBay = "wash"

	// TopicPrefixGateway is the root of gateway presence and health topics.
	TopicPrefixGateway = "washgw"
)

// Topics provides builders for gateway MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.BayStatus("bay1") // "wash/bay1/status"
type Topics struct{}

// BayCommand returns the command topic for a bay.
//
// Example: wash/bay1/cmd
func (Topics) BayCommand(bayID string) string {
	return fmt.Sprintf("%s/%s/cmd", TopicPrefixBay, bayID)
}

// BayStatus returns the status topic for a bay.
//
// Example: wash/bay1/status
func (Topics) BayStatus(bayID string) string {
	return fmt.Sprintf("%s/%s/status", TopicPrefixBay, bayID)
}

// AllBayCommands returns the wildcard the gateway subscribes to.
//
// Pattern: wash/+/cmd
func (Topics) AllBayCommands() string {
	return fmt.Sprintf("%s/+/cmd", TopicPrefixBay)
}

// AllBayStatuses returns the wildcard downstream consumers subscribe to.
//
// Pattern: wash/+/status
func (Topics) AllBayStatuses() string {
	return fmt.Sprintf("%s/+/status", TopicPrefixBay)
}

// GatewayStatus returns the retained presence topic (online/offline, LWT).
//
// Example: washgw/washgw-01/status
func (Topics) GatewayStatus(gatewayID string) string {
	return fmt.Sprintf("%s/%s/status", TopicPrefixGateway, gatewayID)
}

// GatewayHealth returns the retained health report topic.
//
// Example: washgw/washgw-01/health
func (Topics) GatewayHealth(gatewayID string) string {
	return fmt.Sprintf("%s/%s/health", TopicPrefixGateway, gatewayID)
}

// BayFromCommandTopic extracts the bay id from wash/{bayId}/cmd.
// ok is false for any other topic shape.
func BayFromCommandTopic(topic string) (bayID string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != TopicPrefixBay || parts[2] != "cmd" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
