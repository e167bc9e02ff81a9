// Package httputil holds the JSON request and response helpers shared by the
// HTTP handlers.
//
// Errors are written with WriteError, which maps the errdefs taxonomy onto
// status codes:
//
//	ValidationError  -> 400
//	NotFoundError    -> 404
//	ConflictError    -> 409
//	ConcurrencyError -> 503 (with Retry-After)
//	anything else    -> 500, logged, with a generic message
//
// RequestIDMiddleware puts a request-scoped logger into the context;
// handlers and WriteError pick it up with observability.FromContext.
package httputil
