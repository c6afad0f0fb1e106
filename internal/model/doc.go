// Package model defines shared data types used across the relay chat client.
//
// Conventions:
//   - User identifiers are opaque strings assigned by the relay (server id) or
//     generated locally (local id) before registration completes
//   - Timestamps are time.Time in UTC; on the wire they travel as RFC 3339
//     strings with millisecond precision
//   - Image attachments are carried as raw JSON and never inspected
package model
