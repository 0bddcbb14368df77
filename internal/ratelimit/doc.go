// Package ratelimit provides per-IP rate limiting for the public storyboard
// server, with background eviction of idle entries and a cap on tracked IPs.
//
// It is a single-instance, in-memory limiter. It keeps one caller from
// exhausting connections or hammering the storage file with writes; it does
// not stop distributed floods, which belong to an upstream WAF or CDN.
package ratelimit
