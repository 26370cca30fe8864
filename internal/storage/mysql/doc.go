// Package mysql persists the wallet call journal. It offers a MySQL backed
// journal with embedded schema migrations and a file backed journal that
// keeps recent calls in memory for single-node development setups.
package mysql
