// Package api implements the gateway's HTTP listener.
//
// One listener carries three things:
//   - the admin API under /_admin: lifecycle operations on registrations
//     and maintenance of the registry catalog
//   - Prometheus metrics at the configured path
//   - API traffic, handed to the REST backend for every other path
//
// # Admin endpoints
//
//	GET    /_admin/health
//	GET    /_admin/services | environments | maintainers | apis | deployments
//	POST   /_admin/services | environments | maintainers | apis
//	GET    /_admin/services/{id} | environments/{id} | apis/{id}
//	PUT    /_admin/services/{id} | environments/{id} | apis/{id}
//	DELETE /_admin/services/{id} | environments/{id} | apis/{id}
//	DELETE /_admin/maintainers/{name}
//	GET    /_admin/routes
//	POST   /_admin/registrations
//	GET    /_admin/registrations/{id}
//	POST   /_admin/registrations/{id}/enable | disable
//	DELETE /_admin/registrations/{id}
//	GET    /_admin/registrations/{id}/processing
//	POST   /_admin/registrations/{id}/processing
//
// Deleting or editing an API, or deleting a service or environment, is
// refused with 409 while a registration publishes through it; remove the
// registration first.
//
// Registration IDs have the form "<service>:<environment>". Domain errors
// map to status codes: not found 404, conflicts and invalid transitions
// 409, missing handlers 422, malformed requests 400.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
