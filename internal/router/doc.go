// Package router classifies inbound relay events and normalizes chat payloads.
//
// Relays in the wild emit the same chat message under several event names
// (message, direct_message, chat_message, receive_message) and with several
// spellings for each field (sender/username/from, content/message/text).
// The Normalizer resolves every logical field through a fixed priority list
// and produces a model.Message. It never fails: payloads it cannot make sense
// of come out with empty content, which callers are expected to drop.
package router
