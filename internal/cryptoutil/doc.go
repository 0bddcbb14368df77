// Package cryptoutil holds the small hashing and comparison helpers used
// for token checks and content entity tags.
package cryptoutil
