package sntp

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/beevik/ntp"
	"github.com/go-i2p/crypto/rand"
	"github.com/go-i2p/go-msgrouter/lib/util/time/skew"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

var log = logger.GetGoI2PLogger()

var ErrNoServers = errors.New("no NTP servers configured")

type NTPClient interface {
	QueryWithOptions(host string, options ntp.QueryOptions) (*ntp.Response, error)
}

type DefaultNTPClient struct{}

func (c *DefaultNTPClient) QueryWithOptions(host string, options ntp.QueryOptions) (*ntp.Response, error) {
	return ntp.QueryWithOptions(host, options)
}

// OffsetListener receives every accepted clock correction.
// *monotonic.Clock implements it.
type OffsetListener interface {
	SetOffset(offset time.Duration)
}

const (
	DefaultServerList     = "0.pool.ntp.org,1.pool.ntp.org,2.pool.ntp.org"
	DefaultInterval       = 11 * time.Minute
	DefaultConcurring     = 3
	DefaultTimeout        = 10 * time.Second
	failureRetry          = 30 * time.Second
	failureBackoff        = 30 * time.Minute
	maxConsecutiveFails   = 10
	maxVariance           = 10 * time.Second
	maxWaitInitialization = 45 * time.Second
)

// Config controls a Syncer.
type Config struct {
	Servers []string
	// Interval between successful rounds, before jitter.
	Interval time.Duration
	// Concurring is the number of agreeing samples needed per round.
	Concurring int
	Timeout    time.Duration
	Disabled   bool
}

// DefaultConfig queries the public pool every 11 minutes.
func DefaultConfig() Config {
	return Config{
		Servers:    ParseServers(DefaultServerList),
		Interval:   DefaultInterval,
		Concurring: DefaultConcurring,
		Timeout:    DefaultTimeout,
	}
}

// ParseServers splits a comma separated server list, dropping blanks.
func ParseServers(list string) []string {
	var out []string
	for _, s := range strings.Split(list, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) normalize() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Concurring < 1 {
		c.Concurring = 1
	} else if c.Concurring > 4 {
		c.Concurring = 4
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
}

// Syncer periodically measures the local clock offset and applies it.
type Syncer struct {
	client   NTPClient
	listener OffsetListener
	cfg      Config

	mutex            sync.Mutex
	isRunning        bool
	initialized      bool
	wellSynced       bool
	consecutiveFails int
	offset           time.Duration

	stopChan  chan struct{}
	stopOnce  sync.Once
	waitGroup sync.WaitGroup
	// initChan is closed once the first round has finished.
	initChan chan struct{}
}

func NewSyncer(client NTPClient, listener OffsetListener, cfg Config) *Syncer {
	if client == nil {
		client = &DefaultNTPClient{}
	}
	cfg.normalize()
	return &Syncer{
		client:   client,
		listener: listener,
		cfg:      cfg,
		stopChan: make(chan struct{}),
		initChan: make(chan struct{}),
	}
}

// Start launches the background loop. It does nothing when disabled or
// already running. A stopped Syncer cannot be restarted.
func (s *Syncer) Start() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.cfg.Disabled || s.isRunning {
		return
	}
	log.WithFields(logger.Fields{
		"at":       "Syncer.Start",
		"servers":  s.cfg.Servers,
		"interval": s.cfg.Interval,
	}).Info("Starting NTP syncer")
	s.isRunning = true
	s.waitGroup.Add(1)
	go s.run()
}

func (s *Syncer) Stop() {
	s.mutex.Lock()
	if !s.isRunning {
		s.mutex.Unlock()
		return
	}
	s.isRunning = false
	s.mutex.Unlock()
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.waitGroup.Wait()
}

// WaitForInitialization blocks until the first round finishes or timeout
// passes, and reports which happened. A non-positive timeout waits up to
// 45 seconds.
func (s *Syncer) WaitForInitialization(timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = maxWaitInitialization
	}
	select {
	case <-s.initChan:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Offset returns the last applied correction.
func (s *Syncer) Offset() time.Duration {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.offset
}

// WellSynced reports whether the last round found the clock within 500ms.
func (s *Syncer) WellSynced() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.wellSynced
}

func (s *Syncer) run() {
	defer s.waitGroup.Done()
	for {
		err := s.SyncNow()
		if !s.waitWithCancellation(s.calculateSleepDuration(err != nil)) {
			return
		}
	}
}

func (s *Syncer) waitWithCancellation(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-s.stopChan:
		return false
	}
}

func (s *Syncer) calculateSleepDuration(lastFailed bool) time.Duration {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if lastFailed {
		s.consecutiveFails++
		if s.consecutiveFails >= maxConsecutiveFails {
			return failureBackoff
		}
		return failureRetry
	}
	s.consecutiveFails = 0

	sleep := s.cfg.Interval + time.Duration(rand.Int63n(int64(s.cfg.Interval/2)+1))
	if s.wellSynced {
		sleep *= 3
	}
	return sleep
}

// SyncNow runs one round synchronously and applies the median offset when
// enough samples agree.
func (s *Syncer) SyncNow() error {
	defer s.markInitialized()
	if len(s.cfg.Servers) == 0 {
		return ErrNoServers
	}

	samples := make([]time.Duration, 0, s.cfg.Concurring)
	for i := 0; i < s.cfg.Concurring; i++ {
		delta, err := s.sampleWithRetry()
		if err != nil {
			s.setWellSynced(false)
			return err
		}
		if len(samples) > 0 && skew.Abs(delta-samples[0]) > maxVariance {
			s.setWellSynced(false)
			return oops.Errorf("NTP samples disagree: %s vs %s", delta, samples[0])
		}
		samples = append(samples, delta)
	}

	median := calculateMedian(samples)
	s.apply(median)
	return nil
}

// sampleWithRetry tries up to one query per configured server.
func (s *Syncer) sampleWithRetry() (time.Duration, error) {
	var lastErr error
	for attempt := 0; attempt < len(s.cfg.Servers); attempt++ {
		delta, err := s.querySingle(s.selectRandomServer())
		if err == nil {
			return delta, nil
		}
		lastErr = err
	}
	return 0, lastErr
}

func (s *Syncer) querySingle(server string) (time.Duration, error) {
	resp, err := s.client.QueryWithOptions(server, ntp.QueryOptions{Timeout: s.cfg.Timeout})
	if err != nil {
		log.WithError(err).WithField("server", server).Debug("NTP query failed")
		return 0, oops.Wrapf(err, "query %s", server)
	}
	if err := validateResponse(resp); err != nil {
		log.WithError(err).WithField("server", server).Debug("NTP response failed validation")
		return 0, oops.Wrapf(err, "server %s", server)
	}
	return resp.ClockOffset, nil
}

func (s *Syncer) selectRandomServer() string {
	return s.cfg.Servers[rand.Intn(len(s.cfg.Servers))]
}

func (s *Syncer) apply(offset time.Duration) {
	offset = offset.Round(time.Second)
	s.mutex.Lock()
	s.offset = offset
	s.wellSynced = skew.Abs(offset) < 500*time.Millisecond
	s.mutex.Unlock()

	if s.listener != nil {
		s.listener.SetOffset(offset)
	}
	log.WithFields(logger.Fields{
		"at":     "Syncer.apply",
		"offset": offset.String(),
	}).Debug("Applied NTP clock offset")
}

func (s *Syncer) setWellSynced(v bool) {
	s.mutex.Lock()
	s.wellSynced = v
	s.mutex.Unlock()
}

func (s *Syncer) markInitialized() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.initialized {
		s.initialized = true
		close(s.initChan)
	}
}

func calculateMedian(deltas []time.Duration) time.Duration {
	if len(deltas) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(deltas))
	copy(sorted, deltas)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
