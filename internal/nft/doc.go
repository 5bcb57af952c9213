// Package nft drives the ERC-721 collection and the marketplace contract:
// minting, listings, staking and NFT collateralised loans. Calldata, results,
// revert data and event logs go through internal/abi.
package nft
