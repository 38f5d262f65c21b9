package influxdb

import (
	"context"
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementCalls       = "gateway_calls"
	measurementTransitions = "gateway_transitions"
)

// registrationTags splits "<service>:<environment>" into tags.
func registrationTags(registrationID string) map[string]string {
	tags := map[string]string{"registration": registrationID}
	if svc, env, ok := strings.Cut(registrationID, ":"); ok {
		tags["service"] = svc
		tags["environment"] = env
	}
	return tags
}

// WriteCall records one served call of a registration.
//
//	gateway_calls,registration=3:7,service=3,environment=7,outcome=ok response_ms=12.5,failed=false
func (c *Client) WriteCall(_ context.Context, registrationID string, elapsed time.Duration, failed bool) {
	if !c.IsConnected() {
		return
	}

	tags := registrationTags(registrationID)
	tags["outcome"] = "ok"
	if failed {
		tags["outcome"] = "error"
	}

	c.writer.WritePoint(write.NewPoint(
		measurementCalls,
		tags,
		map[string]any{
			"response_ms": float64(elapsed.Microseconds()) / 1000,
			"failed":      failed,
		},
		c.now(),
	))
}

// WriteTransition records a lifecycle state change of a registration.
func (c *Client) WriteTransition(_ context.Context, registrationID, from, to string) {
	if !c.IsConnected() {
		return
	}

	tags := registrationTags(registrationID)
	tags["from"] = from
	tags["to"] = to

	c.writer.WritePoint(write.NewPoint(
		measurementTransitions,
		tags,
		map[string]any{"count": 1},
		c.now(),
	))
}
