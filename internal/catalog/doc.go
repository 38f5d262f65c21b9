// Package catalog holds the in-memory API aggregate: an API, its ordered
// Resources and the Policies attached to each Resource.
//
// The aggregate is storage independent. Mutations made through API methods
// stay in memory until the registry flushes them with UpdateAPI; the only
// rules enforced here are structural:
//
//   - an API needs a name and a context path
//   - every Resource needs a non-empty type matching its attribute variant
//   - a Resource's type never changes once it has been persisted
//
// Resource types are free-form strings. The two built in variants are
// TypeRest (RestAttributes) and TypeJms (MessagingAttributes); any other
// type carries a plain string map that is handed to its handler untouched.
package catalog
