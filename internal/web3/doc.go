// Package web3 houses blockchain connectivity for the NFT agent: the chain
// client abstraction used by the marketplace service, receipt and revert
// types, and the YAML chain definitions that name each network's RPC
// endpoints and deployed marketplace contracts.
package web3
