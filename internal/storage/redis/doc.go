// Package redis keeps the small pieces of session state that outlive a
// process: the last connected wallet snapshot and the last role used by each
// account. Both are hints for a silent reconnect, never the source of truth.
package redis
