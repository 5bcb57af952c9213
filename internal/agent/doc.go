// Package agent turns chat messages into marketplace actions. It resolves the
// intent of a message (explicit, model-extracted or keyword-matched), runs
// the matching action, renders a chat reply and appends the outcome to the
// action ledger.
package agent
