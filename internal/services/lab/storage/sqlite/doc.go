// Package sqlite provides a SQLite-backed lab storage implementation.
package sqlite
