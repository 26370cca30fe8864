// Package wallet implements the wallet session: the single owner of a
// connection to a wallet provider and the call surface for the remote
// contract endpoint.
//
// A Session moves between disconnected, connecting, connected and error. It
// asks the provider for access on Connect, reconnects silently on Restore,
// follows the provider's account and chain switches while connected, and
// routes named reads and writes to the endpoint. Every transition is
// delivered to subscribed listeners and, when configured, to a notification
// publisher, metrics and alerting.
package wallet
