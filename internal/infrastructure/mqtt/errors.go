package mqtt

import "errors"

// Broker errors. Wrapped errors keep the sentinel, so callers match with
// errors.Is and read the detail from the message.
var (
	// ErrNotConnected rejects a call made while the broker link is down.
	// Subscriptions are not tracked when this is returned.
	ErrNotConnected = errors.New("mqtt: broker not connected")

	// ErrConnectionFailed reports that Connect could not reach the broker.
	ErrConnectionFailed = errors.New("mqtt: broker connection failed")

	// ErrInvalidRequest covers an empty topic, a QoS above 2 or a nil
	// handler, all rejected before the broker is contacted.
	ErrInvalidRequest = errors.New("mqtt: invalid request")

	// ErrPublishFailed reports an announcement or delivery the broker did
	// not acknowledge in time, or a payload over the size limit.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscriptionFailed reports a destination subscribe or unsubscribe
	// the broker did not acknowledge.
	ErrSubscriptionFailed = errors.New("mqtt: subscription change failed")
)
