package mqtt

import (
	"fmt"
	"slices"
)

// Subscribe routes messages on a destination topic to handler. Wildcards
// (+, #) are allowed. The subscription survives reconnects, and a second
// call for the same topic swaps the handler.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := checkRequest(topic, qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %s", ErrInvalidRequest, topic)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	// Tracked first: a reconnect racing this call restores it.
	c.track(subscription{topic: topic, qos: qos, handler: handler})

	err := await(c.client.Subscribe(topic, qos, c.wrapHandler(handler)), ErrSubscriptionFailed, "subscribe "+topic)
	if err != nil {
		c.forget(topic)
	}
	return err
}

// Unsubscribe stops delivery on topic. The subscription is forgotten even
// when the broker does not confirm, so it is not restored on reconnect.
func (c *Client) Unsubscribe(topic string) error {
	if err := checkRequest(topic, 0); err != nil {
		return err
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.forget(topic)
	return await(c.client.Unsubscribe(topic), ErrSubscriptionFailed, "unsubscribe "+topic)
}

func (c *Client) track(sub subscription) {
	c.subMu.Lock()
	c.subscriptions[sub.topic] = sub
	c.subMu.Unlock()
}

func (c *Client) forget(topic string) {
	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()
}

// Subscriptions returns the tracked topics in sorted order.
func (c *Client) Subscriptions() []string {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	topics := make([]string, 0, len(c.subscriptions))
	for topic := range c.subscriptions {
		topics = append(topics, topic)
	}
	slices.Sort(topics)
	return topics
}
