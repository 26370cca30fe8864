// Package api exposes the wallet session over HTTP: connection lifecycle,
// contract reads and writes, the call journal and role switching. Failures
// are returned as JSON error bodies whose HTTP status follows the error code.
package api
