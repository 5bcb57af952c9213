// Package abi implements the Solidity contract ABI codec used by the NFT
// marketplace client. It encodes and decodes parameter lists with the head/tail
// layout (recursive tuples, fixed and dynamic arrays, dynamic bytes and
// strings), builds function calldata and event topics, and decodes logs and
// revert payloads. Decoding reads through a bounds-checked cursor that caps how
// often a single position may be revisited, so crafted offsets cannot loop.
package abi
