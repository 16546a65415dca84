// Package stores persists plan history in SQLite.
// Plans are stored whole as JSON alongside one row per step, so history can
// be listed and searched by recipe without decoding every plan. Build runs
// against a stored plan are recorded in the same database.
package stores
