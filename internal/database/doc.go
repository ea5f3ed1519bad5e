// Package database provides the PostgreSQL connection pool and schema for
// the memory store.
package database
