// Package database manages the PostgreSQL pool behind the transcript archive.
//
// The archive owns a single table, messages, keyed by the relay message id so
// that a message seen under several event aliases or on a reconnect is stored
// once.
package database
