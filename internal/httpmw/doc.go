// Package httpmw provides HTTP middleware for the public storyboard server.
//
// httpserver.NewHandler composes them outermost first: security headers,
// panic recovery, request ID, client IP extraction, rate limiting, OTEL
// tracing, trace response headers, metrics, request-scoped logging, and the
// chi router with route annotation, access logging and the body limit.
//
// Caller-supplied values (query string, headers, bodies) never reach the
// logs; the query string may carry an access token.
package httpmw
