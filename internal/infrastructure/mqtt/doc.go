// Package mqtt provides MQTT client connectivity for the wash bay gateway.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support, restored after reconnect
//   - Last Will and Testament for gateway presence
//
// # Topics
//
//	wash/{bayId}/cmd        inbound commands (gateway subscribes wash/+/cmd)
//	wash/{bayId}/status     retained per-bay status
//	washgw/{gatewayId}/status   retained presence, LWT
//	washgw/{gatewayId}/health   retained health report
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, cfg.Gateway.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllBayCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        bayID, _ := mqtt.BayFromCommandTopic(topic)
//	        return handle(bayID, payload)
//	    })
package mqtt
