// Package journal persists the segment ledger and pipeline state history
// in SQLite so recordings can be audited after the fact.
package journal
