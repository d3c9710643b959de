package relay

import (
	"errors"
	"hash/maphash"
	"sync"
	"sync/atomic"

	"github.com/go-i2p/go-msgrouter/lib/envelope"
	"github.com/go-i2p/go-msgrouter/lib/identity"
	"github.com/go-i2p/go-msgrouter/lib/util/time/monotonic"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

var log = logger.GetGoI2PLogger()

var ErrStoreFull = errors.New("relay store full")

const DefaultShards = 64

// Limits bounds the memory the store may hold. A zero field is unlimited.
type Limits struct {
	MaxPerDestination int
	MaxMessages       int
	MaxBytes          int64
}

// DefaultLimits returns 256 messages per destination, 65536 messages and
// 64 MiB overall.
func DefaultLimits() Limits {
	return Limits{
		MaxPerDestination: 256,
		MaxMessages:       65536,
		MaxBytes:          64 << 20,
	}
}

// Stats is a point in time view of the store.
type Stats struct {
	Messages     int
	Bytes        int64
	Destinations int
	Enqueued     uint64
	Delivered    uint64
	Expired      uint64
	Rejected     uint64
	Requeued     uint64
}

type entry struct {
	msg  envelope.RelayMessage
	size int64
}

type shard struct {
	mu     sync.Mutex
	queues map[identity.ExternalIdentity][]entry
}

// Store is the sharded relay store. It is safe for concurrent use.
type Store struct {
	seed   maphash.Seed
	shards []*shard
	clock  monotonic.Timestamper
	limits atomic.Pointer[Limits]

	messages atomic.Int64
	bytes    atomic.Int64

	enqueued  atomic.Uint64
	delivered atomic.Uint64
	expired   atomic.Uint64
	rejected  atomic.Uint64
	requeued  atomic.Uint64
}

// NewStore builds a store with shardCount shards. A non-positive count
// selects DefaultShards.
func NewStore(clock monotonic.Timestamper, limits Limits, shardCount int) *Store {
	if shardCount <= 0 {
		shardCount = DefaultShards
	}
	s := &Store{
		seed:   maphash.MakeSeed(),
		shards: make([]*shard, shardCount),
		clock:  clock,
	}
	for i := range s.shards {
		s.shards[i] = &shard{queues: make(map[identity.ExternalIdentity][]entry)}
	}
	s.SetLimits(limits)
	log.WithFields(logger.Fields{
		"at":                  "relay.NewStore",
		"shards":              shardCount,
		"max_per_destination": limits.MaxPerDestination,
		"max_messages":        limits.MaxMessages,
		"max_bytes":           limits.MaxBytes,
	}).Debug("created relay store")
	return s
}

// SetLimits replaces the capacity limits. Entries already held are kept
// even if they exceed the new limits.
func (s *Store) SetLimits(l Limits) {
	s.limits.Store(&l)
}

// Limits returns the limits in force.
func (s *Store) Limits() Limits {
	return *s.limits.Load()
}

func (s *Store) shardFor(dst identity.ExternalIdentity) *shard {
	h := maphash.Bytes(s.seed, dst[:])
	return s.shards[h%uint64(len(s.shards))]
}

// Enqueue appends m to the queue of m.Dst(). The caller has already
// authenticated m. Either m is fully stored or ErrStoreFull is returned and
// nothing changes.
func (s *Store) Enqueue(m envelope.RelayMessage) error {
	if m == nil {
		return oops.Errorf("cannot enqueue nil relay message")
	}
	dst := m.Dst()
	size := int64(m.Size())
	limits := s.Limits()
	now := s.clock.Timestamp()

	sh := s.shardFor(dst)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	q := s.pruneLocked(sh, dst, now)
	if limits.MaxPerDestination > 0 && len(q) >= limits.MaxPerDestination {
		return s.reject(dst, "destination queue full")
	}
	if !reserve(&s.messages, 1, int64(limits.MaxMessages)) {
		return s.reject(dst, "message limit reached")
	}
	if !reserve(&s.bytes, size, limits.MaxBytes) {
		s.messages.Add(-1)
		return s.reject(dst, "byte limit reached")
	}

	sh.queues[dst] = append(q, entry{msg: m, size: size})
	s.enqueued.Add(1)
	log.WithFields(logger.Fields{
		"at":     "Store.Enqueue",
		"src":    m.Src().Short(),
		"dst":    dst.Short(),
		"expiry": m.Expiry(),
		"size":   size,
		"queued": len(q) + 1,
	}).Debug("queued relay message")
	return nil
}

func (s *Store) reject(dst identity.ExternalIdentity, why string) error {
	s.rejected.Add(1)
	log.WithFields(logger.Fields{
		"at":  "Store.Enqueue",
		"dst": dst.Short(),
	}).Warn(why)
	return oops.Wrapf(ErrStoreFull, "%s for %s", why, dst.Short())
}

// reserve adds n to counter unless that would exceed max. A non-positive
// max is unlimited.
func reserve(counter *atomic.Int64, n, max int64) bool {
	if max <= 0 {
		counter.Add(n)
		return true
	}
	for {
		cur := counter.Load()
		if cur+n > max {
			return false
		}
		if counter.CompareAndSwap(cur, cur+n) {
			return true
		}
	}
}

// Requeue puts msgs, all addressed to dst and oldest first, back at the
// head of the queue of dst, ahead of anything enqueued since they were
// drained. Entries already expired are discarded. Capacity is checked as
// in Enqueue without evicting queued entries; what does not fit is dropped
// and reported with ErrStoreFull. It returns the number of entries put back.
func (s *Store) Requeue(dst identity.ExternalIdentity, msgs []envelope.RelayMessage) (int, error) {
	for _, m := range msgs {
		if m == nil || m.Dst() != dst {
			return 0, oops.Errorf("requeue for %s got an envelope for another destination", dst.Short())
		}
	}
	if len(msgs) == 0 {
		return 0, nil
	}
	limits := s.Limits()
	now := s.clock.Timestamp()

	sh := s.shardFor(dst)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	q := s.pruneLocked(sh, dst, now)
	head := make([]entry, 0, len(msgs)+len(q))
	expired, dropped := 0, 0
	for _, m := range msgs {
		if m.Expiry() <= now {
			expired++
			continue
		}
		size := int64(m.Size())
		if limits.MaxPerDestination > 0 && len(head)+len(q) >= limits.MaxPerDestination {
			dropped++
			continue
		}
		if !reserve(&s.messages, 1, int64(limits.MaxMessages)) {
			dropped++
			continue
		}
		if !reserve(&s.bytes, size, limits.MaxBytes) {
			s.messages.Add(-1)
			dropped++
			continue
		}
		head = append(head, entry{msg: m, size: size})
	}
	if len(head) > 0 {
		sh.queues[dst] = append(head, q...)
	}
	s.requeued.Add(uint64(len(head)))
	s.expired.Add(uint64(expired))

	log.WithFields(logger.Fields{
		"at":       "Store.Requeue",
		"dst":      dst.Short(),
		"requeued": len(head),
		"expired":  expired,
		"dropped":  dropped,
	}).Debug("requeued undelivered relay messages")
	if dropped > 0 {
		s.rejected.Add(uint64(dropped))
		return len(head), oops.Wrapf(ErrStoreFull, "%d of %d requeued envelopes for %s did not fit", dropped, len(msgs), dst.Short())
	}
	return len(head), nil
}

// Drain removes and returns the live messages queued for dst, oldest first.
func (s *Store) Drain(dst identity.ExternalIdentity) []envelope.RelayMessage {
	return s.DrainAt(dst, s.clock.Timestamp())
}

// DrainAt is Drain with an explicit current time. Entries with
// expiry <= now are discarded instead of returned.
func (s *Store) DrainAt(dst identity.ExternalIdentity, now uint32) []envelope.RelayMessage {
	sh := s.shardFor(dst)
	sh.mu.Lock()
	q := sh.queues[dst]
	delete(sh.queues, dst)
	sh.mu.Unlock()

	if len(q) == 0 {
		return nil
	}

	out := make([]envelope.RelayMessage, 0, len(q))
	var freed int64
	expired := 0
	for _, e := range q {
		freed += e.size
		if e.msg.Expiry() <= now {
			expired++
			continue
		}
		out = append(out, e.msg)
	}
	s.release(len(q), freed)
	s.expired.Add(uint64(expired))
	s.delivered.Add(uint64(len(out)))

	log.WithFields(logger.Fields{
		"at":        "Store.DrainAt",
		"dst":       dst.Short(),
		"delivered": len(out),
		"expired":   expired,
	}).Debug("drained relay queue")
	if len(out) == 0 {
		return nil
	}
	return out
}

// pruneLocked drops expired entries from the queue of dst and returns what
// is left. The shard lock must be held.
func (s *Store) pruneLocked(sh *shard, dst identity.ExternalIdentity, now uint32) []entry {
	q := sh.queues[dst]
	live, freed := filterLive(q, now)
	if removed := len(q) - len(live); removed > 0 {
		s.release(removed, freed)
		s.expired.Add(uint64(removed))
		if len(live) == 0 {
			delete(sh.queues, dst)
		} else {
			sh.queues[dst] = live
		}
	}
	return live
}

// filterLive keeps entries with expiry > now in place and returns them with
// the number of bytes dropped.
func filterLive(q []entry, now uint32) ([]entry, int64) {
	live := q[:0]
	var freed int64
	for _, e := range q {
		if e.msg.Expiry() <= now {
			freed += e.size
			continue
		}
		live = append(live, e)
	}
	for i := len(live); i < len(q); i++ {
		q[i] = entry{}
	}
	return live, freed
}

func (s *Store) release(n int, size int64) {
	s.messages.Add(-int64(n))
	s.bytes.Add(-size)
}

// Sweep removes every entry with expiry <= now and returns how many were
// removed. Shards are visited one at a time.
func (s *Store) Sweep(now uint32) int {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for dst, q := range sh.queues {
			live, freed := filterLive(q, now)
			n := len(q) - len(live)
			if n == 0 {
				continue
			}
			removed += n
			s.release(n, freed)
			if len(live) == 0 {
				delete(sh.queues, dst)
			} else {
				sh.queues[dst] = live
			}
		}
		sh.mu.Unlock()
	}
	s.expired.Add(uint64(removed))
	if removed > 0 {
		log.WithFields(logger.Fields{
			"at":      "Store.Sweep",
			"now":     now,
			"removed": removed,
		}).Debug("swept expired relay messages")
	}
	return removed
}

// Pending returns the number of entries queued for dst, expired or not.
func (s *Store) Pending(dst identity.ExternalIdentity) int {
	sh := s.shardFor(dst)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return len(sh.queues[dst])
}

// Len returns the number of entries held across all destinations.
func (s *Store) Len() int {
	return int(s.messages.Load())
}

func (s *Store) Stats() Stats {
	destinations := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		destinations += len(sh.queues)
		sh.mu.Unlock()
	}
	return Stats{
		Messages:     int(s.messages.Load()),
		Bytes:        s.bytes.Load(),
		Destinations: destinations,
		Enqueued:     s.enqueued.Load(),
		Delivered:    s.delivered.Load(),
		Expired:      s.expired.Load(),
		Rejected:     s.rejected.Load(),
		Requeued:     s.requeued.Load(),
	}
}
