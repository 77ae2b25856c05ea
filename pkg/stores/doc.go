// Package stores provides the operation journal: a SQLite database (WAL mode,
// embedded migrations) recording every stack operation, the engine events it
// produced, and an audit trail of stack and configuration changes.
package stores
