package sntp

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/beevik/ntp"
	"github.com/go-i2p/go-msgrouter/lib/util/time/monotonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeNTPClient answers with the offsets in order, repeating the last one.
type fakeNTPClient struct {
	mu      sync.Mutex
	offsets []time.Duration
	err     error
	queries []string
}

func (c *fakeNTPClient) QueryWithOptions(host string, _ ntp.QueryOptions) (*ntp.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries = append(c.queries, host)
	if c.err != nil {
		return nil, c.err
	}
	off := c.offsets[0]
	if len(c.offsets) > 1 {
		c.offsets = c.offsets[1:]
	}
	return goodResponse(off), nil
}

func goodResponse(offset time.Duration) *ntp.Response {
	return &ntp.Response{
		Time:        time.Now().Add(offset),
		ClockOffset: offset,
		RTT:         20 * time.Millisecond,
		Stratum:     2,
		Leap:        ntp.LeapNoWarning,
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Servers = []string{"a.test", "b.test"}
	return cfg
}

func TestSyncNowAppliesMedian(t *testing.T) {
	client := &fakeNTPClient{offsets: []time.Duration{3 * time.Second, 5 * time.Second, 4 * time.Second}}
	clock := monotonic.NewClock()
	s := NewSyncer(client, clock, testConfig())

	require.NoError(t, s.SyncNow())
	assert.Equal(t, 4*time.Second, s.Offset())
	assert.Equal(t, 4*time.Second, clock.Offset())
	assert.False(t, s.WellSynced())
	assert.Len(t, client.queries, 3)
}

func TestSyncNowRejectsDisagreement(t *testing.T) {
	client := &fakeNTPClient{offsets: []time.Duration{0, 30 * time.Second}}
	clock := monotonic.NewClock()
	s := NewSyncer(client, clock, testConfig())

	assert.Error(t, s.SyncNow())
	assert.Equal(t, time.Duration(0), clock.Offset())
}

func TestSyncNowQueryFailure(t *testing.T) {
	client := &fakeNTPClient{err: errors.New("timeout")}
	s := NewSyncer(client, monotonic.NewClock(), testConfig())

	assert.Error(t, s.SyncNow())
	// one attempt per server
	assert.Len(t, client.queries, 2)
	assert.True(t, s.WaitForInitialization(time.Millisecond))
}

func TestSyncNowNoServers(t *testing.T) {
	cfg := testConfig()
	cfg.Servers = nil
	s := NewSyncer(&fakeNTPClient{}, nil, cfg)
	assert.True(t, errors.Is(s.SyncNow(), ErrNoServers))
}

func TestWellSynced(t *testing.T) {
	client := &fakeNTPClient{offsets: []time.Duration{100 * time.Millisecond}}
	s := NewSyncer(client, nil, testConfig())
	require.NoError(t, s.SyncNow())
	assert.True(t, s.WellSynced())
	assert.Equal(t, time.Duration(0), s.Offset())
}

func TestStartStop(t *testing.T) {
	client := &fakeNTPClient{offsets: []time.Duration{2 * time.Second}}
	clock := monotonic.NewClock()
	s := NewSyncer(client, clock, testConfig())

	s.Start()
	s.Start()
	require.True(t, s.WaitForInitialization(2*time.Second))
	assert.Eventually(t, func() bool { return clock.Offset() == 2*time.Second }, time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()
}

func TestDisabledDoesNotStart(t *testing.T) {
	cfg := testConfig()
	cfg.Disabled = true
	client := &fakeNTPClient{offsets: []time.Duration{time.Second}}
	s := NewSyncer(client, nil, cfg)
	s.Start()
	assert.False(t, s.WaitForInitialization(20*time.Millisecond))
	s.Stop()
	assert.Empty(t, client.queries)
}

func TestCalculateSleepDuration(t *testing.T) {
	s := NewSyncer(&fakeNTPClient{}, nil, testConfig())
	for i := 1; i < maxConsecutiveFails; i++ {
		assert.Equal(t, failureRetry, s.calculateSleepDuration(true))
	}
	assert.Equal(t, failureBackoff, s.calculateSleepDuration(true))

	d := s.calculateSleepDuration(false)
	assert.GreaterOrEqual(t, d, DefaultInterval)
	assert.LessOrEqual(t, d, DefaultInterval*3/2)
}

func TestValidateResponse(t *testing.T) {
	assert.NoError(t, validateResponse(goodResponse(time.Second)))

	bad := []func(r *ntp.Response){
		func(r *ntp.Response) { r.Leap = ntp.LeapNotInSync },
		func(r *ntp.Response) { r.Stratum = 0 },
		func(r *ntp.Response) { r.Stratum = 16 },
		func(r *ntp.Response) { r.RTT = 3 * time.Second },
		func(r *ntp.Response) { r.ClockOffset = 2 * time.Hour },
		func(r *ntp.Response) { r.Time = time.Time{} },
		func(r *ntp.Response) { r.RootDelay = 2 * time.Second },
		func(r *ntp.Response) { r.RootDispersion = 2 * time.Second },
	}
	for i, mutate := range bad {
		r := goodResponse(time.Second)
		mutate(r)
		assert.True(t, errors.Is(validateResponse(r), ErrInvalidResponse), "case %d", i)
	}
	assert.Error(t, validateResponse(nil))
}

func TestParseServers(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, ParseServers(" a, ,b ,"))
	assert.Nil(t, ParseServers(""))
}
