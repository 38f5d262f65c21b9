// Package gateway publishes stored APIs to the backends that serve them and
// drives the lifecycle of service registrations.
//
// # Handlers and dispatch
//
// A Handler advertises one resource type ("rest", "jms", ...) and knows how
// to make a resource of that type reachable. Handlers register with a
// Dispatcher at runtime and may come and go; each lookup resolves the
// current set. Exactly one handler must claim a type: none yields
// NoHandlerError and several yield AmbiguousHandlerError.
//
// Publishing an API is all-or-nothing. Resources are published in
// declaration order, and on the first failure the ones already published
// are unpublished in reverse order. Teardown is best effort: every resource
// is attempted and failures are collected in a TeardownReport.
//
// # Registrations
//
// A registration binds an API to a service in an environment and is
// identified by "<service>:<environment>". Lifecycle moves it through
//
//	REGISTERED -> ENABLED <-> DISABLED -> REMOVED
//
// persisting each state only after the dispatcher has returned. Call
// metrics and the processing chain are kept as registration metadata:
//
//	api.id               API published by the registration
//	metric.calls         calls served
//	metric.errors        calls that failed
//	metric.total_response_ms
//	metric.last_call     RFC 3339 time of the last call
//	processing.0000 ...  processing definitions in insertion order
//
// Removal deletes all of it. The traffic boundary asks Admit whether an
// API may be served and reports each call through RecordCall.
package gateway
