package relay

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-i2p/go-msgrouter/lib/envelope"
	"github.com/go-i2p/go-msgrouter/lib/identity"
	"github.com/go-i2p/go-msgrouter/lib/util/time/monotonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ident(b byte) identity.ExternalIdentity {
	var id identity.ExternalIdentity
	id[0] = b
	id[31] = b
	return id
}

func relayMsg(src, dst identity.ExternalIdentity, expiry uint32, payload string) envelope.RelayMessage {
	return envelope.NewRelayMessageV0(envelope.RelayMessageContentV0{
		Src:    src,
		Dst:    dst,
		Expiry: expiry,
		Msg:    []byte(payload),
		Mac:    []byte("mac"),
	}, envelope.Signature("sig"))
}

func payloads(ms []envelope.RelayMessage) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = string(m.Payload())
	}
	return out
}

func TestStoreExampleLifecycle(t *testing.T) {
	a, b := ident(0xA), ident(0xB)
	clock := monotonic.NewManualClock(100)
	s := NewStore(clock, DefaultLimits(), 4)

	require.NoError(t, s.Enqueue(relayMsg(a, b, 1000, "one")))
	got := s.DrainAt(b, 500)
	assert.Equal(t, []string{"one"}, payloads(got))

	require.NoError(t, s.Enqueue(relayMsg(a, b, 1000, "two")))
	assert.Equal(t, 1, s.Sweep(1200))
	assert.Empty(t, s.DrainAt(b, 1500))
	assert.Equal(t, 0, s.Len())
}

func TestStoreFIFOPerDestination(t *testing.T) {
	a, b, c := ident(1), ident(2), ident(3)
	s := NewStore(monotonic.NewManualClock(0), DefaultLimits(), 2)

	for _, p := range []string{"b1", "b2", "b3"} {
		require.NoError(t, s.Enqueue(relayMsg(a, b, 100, p)))
	}
	require.NoError(t, s.Enqueue(relayMsg(a, c, 100, "c1")))

	assert.Equal(t, 3, s.Pending(b))
	assert.Equal(t, []string{"b1", "b2", "b3"}, payloads(s.Drain(b)))
	assert.Equal(t, 0, s.Pending(b))
	assert.Nil(t, s.Drain(b))
	assert.Equal(t, []string{"c1"}, payloads(s.Drain(c)))
}

func TestStoreDrainDiscardsExpired(t *testing.T) {
	a, b := ident(1), ident(2)
	s := NewStore(monotonic.NewManualClock(0), DefaultLimits(), 1)

	require.NoError(t, s.Enqueue(relayMsg(a, b, 10, "old")))
	require.NoError(t, s.Enqueue(relayMsg(a, b, 50, "live")))
	require.NoError(t, s.Enqueue(relayMsg(a, b, 20, "boundary")))

	assert.Equal(t, []string{"live"}, payloads(s.DrainAt(b, 20)))
	st := s.Stats()
	assert.Equal(t, uint64(2), st.Expired)
	assert.Equal(t, uint64(1), st.Delivered)
	assert.Equal(t, 0, st.Messages)
	assert.Equal(t, int64(0), st.Bytes)
}

func TestStoreSweepSelectivity(t *testing.T) {
	a := ident(1)
	s := NewStore(monotonic.NewManualClock(0), DefaultLimits(), 8)

	for i := 0; i < 20; i++ {
		dst := ident(byte(10 + i))
		require.NoError(t, s.Enqueue(relayMsg(a, dst, 100, "short")))
		require.NoError(t, s.Enqueue(relayMsg(a, dst, 300, "long")))
	}

	assert.Equal(t, 0, s.Sweep(99))
	assert.Equal(t, 20, s.Sweep(100))
	assert.Equal(t, 20, s.Len())
	for i := 0; i < 20; i++ {
		assert.Equal(t, []string{"long"}, payloads(s.DrainAt(ident(byte(10+i)), 100)))
	}
	assert.Equal(t, 0, s.Stats().Destinations)
}

func TestStorePerDestinationLimit(t *testing.T) {
	a, b, c := ident(1), ident(2), ident(3)
	s := NewStore(monotonic.NewManualClock(0), Limits{MaxPerDestination: 2}, 1)

	require.NoError(t, s.Enqueue(relayMsg(a, b, 100, "1")))
	require.NoError(t, s.Enqueue(relayMsg(a, b, 100, "2")))
	err := s.Enqueue(relayMsg(a, b, 100, "3"))
	assert.True(t, errors.Is(err, ErrStoreFull))
	require.NoError(t, s.Enqueue(relayMsg(a, c, 100, "other")))

	assert.Equal(t, []string{"1", "2"}, payloads(s.Drain(b)))
	assert.Equal(t, uint64(1), s.Stats().Rejected)
}

func TestStoreEnqueuePrunesExpiredBeforeLimit(t *testing.T) {
	a, b := ident(1), ident(2)
	clock := monotonic.NewManualClock(0)
	s := NewStore(clock, Limits{MaxPerDestination: 1}, 1)

	require.NoError(t, s.Enqueue(relayMsg(a, b, 10, "stale")))
	clock.Set(10)
	require.NoError(t, s.Enqueue(relayMsg(a, b, 100, "fresh")))
	assert.Equal(t, []string{"fresh"}, payloads(s.Drain(b)))
}

func TestStoreGlobalLimits(t *testing.T) {
	a := ident(1)
	s := NewStore(monotonic.NewManualClock(0), Limits{MaxMessages: 2}, 4)
	require.NoError(t, s.Enqueue(relayMsg(a, ident(2), 100, "x")))
	require.NoError(t, s.Enqueue(relayMsg(a, ident(3), 100, "y")))
	assert.True(t, errors.Is(s.Enqueue(relayMsg(a, ident(4), 100, "z")), ErrStoreFull))

	m := relayMsg(a, ident(2), 100, "0123456789")
	byBytes := NewStore(monotonic.NewManualClock(0), Limits{MaxBytes: int64(m.Size())}, 4)
	require.NoError(t, byBytes.Enqueue(m))
	err := byBytes.Enqueue(relayMsg(a, ident(3), 100, "a"))
	assert.True(t, errors.Is(err, ErrStoreFull))
	assert.Equal(t, 1, byBytes.Len())
	assert.Equal(t, int64(m.Size()), byBytes.Stats().Bytes)
}

func TestStoreSetLimits(t *testing.T) {
	a, b := ident(1), ident(2)
	s := NewStore(monotonic.NewManualClock(0), Limits{MaxPerDestination: 1}, 1)
	require.NoError(t, s.Enqueue(relayMsg(a, b, 100, "1")))
	assert.Error(t, s.Enqueue(relayMsg(a, b, 100, "2")))

	s.SetLimits(Limits{MaxPerDestination: 5})
	assert.Equal(t, 5, s.Limits().MaxPerDestination)
	assert.NoError(t, s.Enqueue(relayMsg(a, b, 100, "2")))
}

func TestStoreConcurrentSweepAndEnqueue(t *testing.T) {
	a := ident(1)
	s := NewStore(monotonic.NewManualClock(0), Limits{}, 8)

	const writers = 8
	const perWriter = 500
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				// Odd entries expire at 10, even entries live on.
				expiry := uint32(10)
				if i%2 == 0 {
					expiry = 1000
				}
				assert.NoError(t, s.Enqueue(relayMsg(a, ident(byte(w*16+i%16)), expiry, "p")))
			}
		}(w)
	}
	stop := make(chan struct{})
	var sweeps sync.WaitGroup
	sweeps.Add(1)
	go func() {
		defer sweeps.Done()
		for {
			select {
			case <-stop:
				return
			default:
				s.Sweep(10)
			}
		}
	}()
	wg.Wait()
	close(stop)
	sweeps.Wait()
	s.Sweep(10)

	assert.Equal(t, writers*perWriter/2, s.Len())
	st := s.Stats()
	assert.Equal(t, uint64(writers*perWriter), st.Enqueued)
	assert.Equal(t, uint64(writers*perWriter/2), st.Expired)
}

func TestStoreConcurrentDrainSweepEnqueueAccountsOnce(t *testing.T) {
	a := ident(1)
	dsts := []identity.ExternalIdentity{ident(2), ident(3), ident(4)}
	s := NewStore(monotonic.NewManualClock(0), Limits{}, 2)

	const writers = 6
	const perWriter = 300
	const now = uint32(10)

	var writersDone sync.WaitGroup
	for w := 0; w < writers; w++ {
		writersDone.Add(1)
		go func(w int) {
			defer writersDone.Done()
			for i := 0; i < perWriter; i++ {
				expiry := uint32(1000)
				if i%3 == 0 {
					expiry = now
				}
				payload := fmt.Sprintf("%d-%d", w, i)
				assert.NoError(t, s.Enqueue(relayMsg(a, dsts[i%len(dsts)], expiry, payload)))
			}
		}(w)
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	record := func(ms []envelope.RelayMessage) {
		mu.Lock()
		defer mu.Unlock()
		for _, m := range ms {
			seen[string(m.Payload())]++
		}
	}

	stop := make(chan struct{})
	var workers sync.WaitGroup
	for _, dst := range dsts {
		workers.Add(1)
		go func(dst identity.ExternalIdentity) {
			defer workers.Done()
			for {
				select {
				case <-stop:
					return
				default:
					record(s.DrainAt(dst, now))
				}
			}
		}(dst)
	}
	workers.Add(1)
	go func() {
		defer workers.Done()
		for {
			select {
			case <-stop:
				return
			default:
				s.Sweep(now)
			}
		}
	}()

	writersDone.Wait()
	close(stop)
	workers.Wait()
	for _, dst := range dsts {
		record(s.DrainAt(dst, now))
	}

	total := writers * perWriter
	expired := writers * perWriter / 3
	live := total - expired
	assert.Len(t, seen, live)
	for p, n := range seen {
		assert.Equal(t, 1, n, "entry %s returned more than once", p)
	}

	st := s.Stats()
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 0, st.Messages)
	assert.Equal(t, int64(0), st.Bytes)
	assert.Equal(t, 0, st.Destinations)
	assert.Equal(t, uint64(total), st.Enqueued)
	assert.Equal(t, uint64(live), st.Delivered)
	assert.Equal(t, uint64(expired), st.Expired)
	assert.Equal(t, st.Enqueued, st.Delivered+st.Expired)
}

func TestSweeperRuns(t *testing.T) {
	a, b := ident(1), ident(2)
	clock := monotonic.NewManualClock(0)
	s := NewStore(clock, DefaultLimits(), 1)
	require.NoError(t, s.Enqueue(relayMsg(a, b, 5, "gone")))
	clock.Set(6)

	sw := NewSweeper(s, clock, 5*time.Millisecond)
	sw.Start()
	sw.Start()
	defer sw.Stop()

	assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
	sw.Stop()
	sw.Stop()
}

func TestStoreRequeuePrependsAheadOfNewer(t *testing.T) {
	a, b := ident(1), ident(2)
	s := NewStore(monotonic.NewManualClock(0), DefaultLimits(), 2)

	require.NoError(t, s.Enqueue(relayMsg(a, b, 100, "m1")))
	require.NoError(t, s.Enqueue(relayMsg(a, b, 100, "m2")))
	drained := s.Drain(b)
	require.NoError(t, s.Enqueue(relayMsg(a, b, 100, "m3")))

	n, err := s.Requeue(b, drained)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, []string{"m1", "m2", "m3"}, payloads(s.Drain(b)))
	assert.Equal(t, uint64(2), s.Stats().Requeued)
}

func TestStoreRequeueDropsExpiredAndOverflow(t *testing.T) {
	a, b := ident(1), ident(2)
	clock := monotonic.NewManualClock(0)
	s := NewStore(clock, Limits{MaxPerDestination: 2}, 1)

	require.NoError(t, s.Enqueue(relayMsg(a, b, 100, "queued")))
	clock.Set(50)
	msgs := []envelope.RelayMessage{
		relayMsg(a, b, 40, "stale"),
		relayMsg(a, b, 100, "kept"),
		relayMsg(a, b, 100, "overflow"),
	}
	n, err := s.Requeue(b, msgs)
	assert.True(t, errors.Is(err, ErrStoreFull))
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"kept", "queued"}, payloads(s.Drain(b)))

	st := s.Stats()
	assert.Equal(t, uint64(1), st.Expired)
	assert.Equal(t, uint64(1), st.Rejected)
	assert.Equal(t, 0, st.Messages)
	assert.Equal(t, int64(0), st.Bytes)
}

func TestStoreRequeueRejectsForeignDestination(t *testing.T) {
	a, b, c := ident(1), ident(2), ident(3)
	s := NewStore(monotonic.NewManualClock(0), DefaultLimits(), 1)

	_, err := s.Requeue(b, []envelope.RelayMessage{relayMsg(a, c, 100, "x")})
	assert.Error(t, err)
	assert.Equal(t, 0, s.Len())
}
