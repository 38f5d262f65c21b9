// Package rest is the HTTP backend of the gateway. It publishes resources of
// type "rest" as routes under their API's context path and serves them.
//
// A route either proxies to the resource's endpoint or answers with the
// resource's static response. Every request is first admitted against the
// lifecycle: an API without an enabled registration answers 503, and each
// served call is recorded on the admitting registration.
//
// The routing table is rebuilt on every publish and unpublish and swapped in
// atomically, so requests in flight keep the table they started with.
//
// Processing definitions of the form "header:Name=Value" add a response
// header to every route of the API. Other definitions are ignored.
//
//	h := rest.New(lifecycle)
//	dispatcher.Register(h)
//	http.ListenAndServe(addr, h)
package rest
