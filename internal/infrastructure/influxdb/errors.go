package influxdb

import "errors"

// Errors of the call-metrics sink. All but ErrDisabled wrap the client
// error that caused them.
var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: metrics sink disabled")

	// ErrConnectionFailed is returned by Connect when the server does not
	// answer the startup ping or reports itself unhealthy.
	ErrConnectionFailed = errors.New("influxdb: metrics sink unreachable")

	// ErrNotConnected is returned by HealthCheck after Close or before a
	// successful Connect.
	ErrNotConnected = errors.New("influxdb: metrics sink not connected")

	// ErrWriteFailed wraps batch write errors reported to the OnError
	// callback. Call recording itself never fails on these.
	ErrWriteFailed = errors.New("influxdb: call metrics write failed")
)
