// Package storage is the SQLite state store: team and city subscriptions,
// per-chat rating baselines and per-chat tournament statuses.
//
// The schema lives in migrations.sql and is applied idempotently on Open.
package storage
