// Package chanbridge bridges a live chat/media-playlist channel onto a NATS
// substrate so downstream consumers can observe and mutate channel state
// without holding a connection to the origin session.
//
// The module is organized around four runtime concerns:
//
//   - Event mirroring (bridge): origin session events are republished on
//     hierarchical subjects (bridge.events.<domain>.<channel>.<event>) and
//     state-bearing events are applied to the channel's replicated cache.
//
//   - State replication (state): each channel's emotes, playlist, and user
//     roster live in an in-process cache mirrored into durable JetStream KV
//     buckets after every mutation. Readers always receive copies.
//
//   - Command routing (command): inbound {"action","data"} envelopes on
//     bridge.commands.<domain>.<channel>.> are validated and dispatched to
//     the origin connector's capability interfaces, with synonym-tolerant
//     action names and an audit trail.
//
//   - Query serving (query): a single shared request-reply subject answers
//     read-only state and diagnostic questions, multiplexed across services
//     by a payload field rather than by topic.
//
// The origin session's wire protocol is deliberately out of scope; the
// connector package defines the capability surface and a substrate-backed
// implementation that forwards operations to a companion session process.
package chanbridge
