// Package storage provides the balance repositories behind
// domain.BalanceRepository: an in-memory store for tests and development,
// a PostgreSQL store built on pgx, and an embedded SQLite store.
//
// Every implementation performs Debit as one atomic conditional mutation so
// concurrent invocations can never overdraw an account.
package storage
