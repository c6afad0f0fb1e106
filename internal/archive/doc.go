// Package archive records chat transcripts to PostgreSQL.
//
// The connection manager hands every delivered inbound message and every
// sent message to Writer.Record. Entries are queued on a Queue and
// written in batches with ON CONFLICT (message_id) DO NOTHING, so replays of
// the same relay message are stored once. Nothing is read back.
package archive
