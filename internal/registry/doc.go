// Package registry is the transactional CRUD façade over the registry store.
//
// It covers these entity families:
//   - Service, Environment, Maintainer, DataFormat, Endpoint
//   - Policy and API (with resources, see package catalog)
//
// It also manages the associations between them:
//   - maintainer-to-environment roles
//   - service-to-environment deployments
//   - key/value metadata per deployment
//
// Every mutating call is one transaction. Deletes cascade children first
// (metadata, then association rows, then the entity) and report ErrConflict
// without side effects when a step fails. Reads return copies and
// distinguish absent (ErrNotFound) from empty.
//
// Services, environments and maintainers are numbered by the store and
// exposed as decimal strings. API, resource and policy IDs are UUIDs.
//
// Thread Safety:
//
// SQLRepository relies on the store's transactions. Registry adds a
// go-cache read cache and is safe for concurrent use.
package registry
