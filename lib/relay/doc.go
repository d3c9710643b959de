// Package relay holds relay envelopes for destinations that are not
// connected, until they are drained or expire.
//
// Queues are kept per destination in FIFO order and spread over shards by a
// keyed hash of the destination identity. Operations on one destination are
// serialized by its shard lock; destinations in different shards never
// contend. Sweep visits one shard at a time, so it never blocks more than a
// single shard.
//
// Expired entries are discarded lazily on Drain and Enqueue, and eagerly by
// Sweep, which a Sweeper runs on a fixed cadence.
package relay
