// Package storyboard implements a small file-backed content store.
//
// A [Store] is bound to a YAML configuration file and to the access token
// presented by its caller. The configuration names three things:
//
//	token:        expected access token
//	storagePath:  file holding the stored content
//	templatePath: file the content is rendered into
//
// Reads are open to any caller. Writes require the caller token to match the
// configured token and the storage file to be writable. Rendering replaces
// every occurrence of [Placeholder] in the template with the stored content.
//
// Configuration and content are loaded lazily and cached for the lifetime of
// the Store. Neither cache is ever invalidated, so a Store is meant to live
// for a single request or command. A Store is not safe for concurrent use.
//
// # Known looseness
//
// Token comparison follows loose equality by default: a numeric caller token
// matches a numeric configured token by value ("123" matches 123, "1e3"
// matches 1000). [WithStrictToken] switches to exact string comparison.
//
// Writes are not atomic and not locked. An overwrite truncates the storage
// file in place; a crash mid-write or two concurrent writers can leave
// partial content behind.
package storyboard
