// Package web3 houses the wallet and chain abstractions shared by the bridge:
// the provider capability interface a wallet must satisfy, the provider event
// model (account and chain switches), the result types of contract writes, the
// error taxonomy every wallet or endpoint failure is classified into, and the
// YAML chain definitions used to dial RPC endpoints.
package web3
