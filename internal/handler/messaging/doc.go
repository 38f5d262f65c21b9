// Package messaging is the broker backend of the gateway. It publishes
// resources of type "jms" onto MQTT.
//
// Publishing a resource subscribes to its inbound destination topic and
// announces the resource with a retained message, so consumers joining
// later still discover it. Unpublishing clears the announcement and drops
// the subscription.
//
// Inbound messages are admitted against the lifecycle like HTTP traffic.
// When the resource has an endpoint the payload is forwarded to it with an
// HTTP POST; either way the call is recorded on the admitting registration.
//
// Topic layout (prefix "vineyard" by default):
//
//	vineyard/api/{api}/resource/{resource}   retained announcement
//	vineyard/api/{api}/processing/{reg}      retained processing chain
//	vineyard/dest/{queue|topic}/{name}       inbound messages
package messaging
