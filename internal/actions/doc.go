// Package actions holds the chat actions of the agent. Each action validates
// a message by keyword, declares the parameters it needs and drives one
// marketplace operation.
package actions
