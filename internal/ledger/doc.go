// Package ledger records every chat message the agent handled together with
// the action it resolved to, the parameters it ran with and the on-chain
// outcome. Backends live under internal/storage.
package ledger
