// Package mqtt provides MQTT client connectivity for the Deocean bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support, restored on reconnect
//   - Last Will and Testament (LWT) for offline detection
//
// # Architecture
//
// MQTT is the host boundary of the bridge: device state, scene events,
// health and command acknowledgements go out; commands come in.
//
//	Deocean gateway (TCP) ↔ Bridge ↔ MQTT Broker ↔ Home automation hub
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.WithWill(mqtt.Will{
//	    Topic:    "graylogic/health/deocean",
//	    Payload:  lwt,
//	    QoS:      1,
//	    Retained: true,
//	}))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe("graylogic/command/deocean/+", 1,
//	    func(topic string, payload []byte) error {
//	        return handle(topic, payload)
//	    })
//
// TLS should be enabled for any broker outside the local host
// (cfg.Broker.TLS=true); message payloads are not encrypted beyond TLS.
package mqtt
