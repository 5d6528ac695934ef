// Package integration contains integration tests for the access service.
//
// These tests use testcontainers to spin up real dependencies (Redis and
// PostgreSQL) and run the usage ledger, session store and redemption flow
// against them. Run them with `go test ./test/integration/...`; they are
// skipped in -short mode.
package integration
