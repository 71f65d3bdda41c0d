// Package mqtt provides MQTT connectivity for the fleet bridge and the
// device agent.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing with QoS and payload size checks
//   - Wildcard subscriptions restored after reconnect
//   - Retained presence with a matching Last Will
//   - Topic pattern matching and command topic templating
//
// # Topic Layout
//
//	devices/{deviceId}/status    device -> bridge (status reports)
//	devices/{deviceId}/commands  bridge -> device (commands)
//	bridges/{clientId}/status    bridge presence (retained)
//
// Both device topics are configurable. The command topic is a template
// containing exactly one {deviceId} placeholder.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT,
//	    mqtt.WithPresence(mqtt.BridgePresence(cfg.MQTT.Broker.ClientID)),
//	    mqtt.WithLogger(logger),
//	)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(cfg.MQTT.Topics.Status, 1, handler)
//	err = client.Publish(mqtt.DeviceTopic(cfg.MQTT.Topics.Command, id), payload, 1, false)
package mqtt
