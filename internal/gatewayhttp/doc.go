// Package gatewayhttp exposes the storyboard Store over HTTP.
//
// Every request gets its own storyboard.Store, so the configuration is read
// fresh per request and no Store is shared between goroutines. Reads are
// public; writes need the configured token, sent as a bearer token, in
// X-Storyboard-Token, or in the token query parameter.
package gatewayhttp
