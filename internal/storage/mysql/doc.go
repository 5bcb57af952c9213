// Package mysql opens MySQL connection pools, applies the embedded schema
// migrations and persists the action ledger.
package mysql
