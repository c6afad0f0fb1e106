// Package connection manages the client's link to a chat relay.
//
// A Manager owns an ordered list of candidate endpoints and drives a
// Sequencer through them one at a time: an optional diagnostics probe, then a
// Socket.IO handshake guarded by an independent watchdog. The first endpoint
// that connects wins; failures advance to the next candidate until the list
// is exhausted.
//
// Once connected, application listeners registered with On are attached to
// the live transport through a registry that keeps exactly one raw
// subscription per event name and replays them onto every new transport.
// Inbound chat messages are normalized, filtered against the block list and
// de-duplicated before they reach listeners.
//
// Sending is fire-and-forget. Outbound chat messages go out under a canonical
// event plus the legacy aliases some relays still listen on.
package connection
