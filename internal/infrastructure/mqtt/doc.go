// Package mqtt provides MQTT connectivity for the messaging backend.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Retained announcements of published messaging resources
//   - Subscriptions on messaging destinations, restored after reconnect
//   - Last Will and Testament (LWT) for offline detection
//
// # Topics
//
// All topics live under a configurable prefix (mqtt.topic_prefix):
//
//	vineyard/system/status                 retained online/offline status
//	vineyard/api/{api}/resource/{resource} retained resource announcement
//	vineyard/api/{api}/processing          retained processing chain
//	vineyard/dest/{queue|topic}/{name}     inbound destination traffic
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topic := client.Topics().Resource(apiID, resourceID)
//	err = client.PublishRetained(topic, announcement)
//
// Broker-backed tests carry the integration build tag:
//
//	go test -tags=integration ./internal/infrastructure/mqtt/...
package mqtt
