// Package store provides SQLite-backed persistence for encrypted
// transactions and raw (pre-signed) transactions.
//
// # Tables
//
//   - encrypted_transactions: encoded payloads keyed by MessageHash
//   - encrypted_raw_transactions: raw payloads keyed by signed-data hash
//
// # Concurrency
//
// Rows are content addressed, so two writers racing to create the same hash
// collide on the UNIQUE constraint and the loser gets ErrDuplicate. Merges
// go through Update, which compares the row version read earlier and fails
// with ErrVersionConflict if another writer got there first. Callers retry
// the read-merge-write cycle on either error.
//
// Writes that trigger side effects run inside a UnitOfWork whose AfterCommit
// hooks fire only once the SQL transaction has committed.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
