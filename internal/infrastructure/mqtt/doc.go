// Package mqtt provides MQTT client connectivity for streamlink.
//
// This package manages:
//   - Connection to a broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - A retained status topic with Last Will and Testament (LWT)
//   - Connection health monitoring
//
// # Architecture
//
// The relay bridges the realtime stream service and a local MQTT bus:
// events on subscribed streams are republished under
// {prefix}/stream/..., and messages published to
// {prefix}/insert/{user}/{device}/{stream} are inserted upstream. Relay
// counters are published retained on {prefix}/stats.
//
//	stream service ↔ streamlink ↔ MQTT broker ↔ local consumers
//
// # Security Considerations
//
//   - Enable TLS for brokers outside the local host (cfg.Broker.TLS=true)
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topics := client.Topics()
//	err = client.Subscribe(topics.AllInserts(), 1,
//	    func(topic string, payload []byte) error {
//	        stream, _ := topics.InsertTarget(topic)
//	        log.Printf("insert %s = %s", stream, payload)
//	        return nil
//	    })
//
//	client.Publish(topics.Stream("alice/phone/battery"), []byte(`87`), 1, false)
package mqtt
