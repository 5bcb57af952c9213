// Package config loads the NFT agent configuration: a JSON file with
// defaults resolved relative to its directory, secrets layered in from a
// .env file and the process environment, and the path of the YAML chain
// definitions consumed by the web3 provider registry.
package config
