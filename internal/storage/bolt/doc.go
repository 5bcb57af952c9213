// Package bolt stores the action ledger in a local bbolt file. Records are
// keyed by the bucket sequence in big-endian form, so a reverse cursor walk
// yields the newest records first.
package bolt
