package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when the configuration leaves the prefix empty.
const DefaultTopicPrefix = "vineyard"

// Topics builds the registry's MQTT topic names under a common prefix.
//
//	topics := mqtt.NewTopics("vineyard")
//	topics.Resource("3f2a", "9c1e")
//	// Returns: "vineyard/api/3f2a/resource/9c1e"
type Topics struct {
	prefix string
}

// NewTopics returns a builder for prefix. Surrounding slashes are trimmed;
// an empty prefix means DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the topic root.
func (t Topics) Prefix() string {
	if t.prefix == "" {
		return DefaultTopicPrefix
	}
	return t.prefix
}

// SystemStatus returns the retained online/offline status topic.
//
// Example: vineyard/system/status
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", t.Prefix())
}

// Resource returns the retained announcement topic of a published
// messaging resource.
//
// Example: vineyard/api/3f2a/resource/9c1e
func (t Topics) Resource(apiID, resourceID string) string {
	return fmt.Sprintf("%s/api/%s/resource/%s", t.Prefix(), apiID, resourceID)
}

// Processing returns the retained topic carrying the processing chain of
// one registration of an API.
//
// Example: vineyard/api/3f2a/processing/4:2
func (t Topics) Processing(apiID, registrationID string) string {
	return fmt.Sprintf("%s/api/%s/processing/%s", t.Prefix(), apiID, registrationID)
}

// Destination returns the inbound topic for a messaging destination.
// Queue and topic destinations share the namespace; the kind is part of
// the path.
//
// Example: vineyard/dest/queue/orders
func (t Topics) Destination(kind, name string) string {
	if kind == "" {
		kind = "queue"
	}
	return fmt.Sprintf("%s/dest/%s/%s", t.Prefix(), kind, name)
}

// AllResources returns a pattern matching every resource announcement.
//
// Pattern: vineyard/api/+/resource/+
func (t Topics) AllResources() string {
	return fmt.Sprintf("%s/api/+/resource/+", t.Prefix())
}
