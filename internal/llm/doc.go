// Package llm defines the contract between the agent and a large language
// model: the chat message with recent history and the action catalogue goes
// in, a reply plus an optional action with parameters comes out.
package llm
