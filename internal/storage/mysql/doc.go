// Package mysql provides the shared MySQL connection pool and schema
// migration helpers used by the escrow and split stores.
package mysql
