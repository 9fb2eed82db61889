// Package sqlite provides the modernc.org/sqlite backed document store.
//
// The package mirrors the postgres driver layout: a Store owning the
// database handle, embedded goose migrations and a repository.
package sqlite
