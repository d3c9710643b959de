package transport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/go-i2p/go-msgrouter/lib/envelope"
	"github.com/go-i2p/go-msgrouter/lib/identity"
	"github.com/go-i2p/go-msgrouter/lib/router"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"golang.org/x/time/rate"
)

var log = logger.GetGoI2PLogger()

var ErrServerClosed = errors.New("transport server closed")

// Submitter accepts raw envelopes. *router.Router implements it.
type Submitter interface {
	Submit(raw []byte) (router.Result, error)
}

// RelaySource hands out and takes back relay envelopes. *relay.Store
// implements it.
type RelaySource interface {
	Drain(dst identity.ExternalIdentity) []envelope.RelayMessage
	// Requeue returns undelivered envelopes to the head of the queue of dst.
	Requeue(dst identity.ExternalIdentity, msgs []envelope.RelayMessage) (int, error)
}

// Config controls a Server.
type Config struct {
	ListenAddr string
	// MaxFrameSize bounds type byte plus payload of one frame.
	MaxFrameSize int
	// RateLimit is frames per second per connection; 0 disables limiting.
	RateLimit float64
	RateBurst int
	// IdleTimeout closes connections that send nothing for this long.
	IdleTimeout time.Duration
}

const (
	DefaultListenAddr   = "127.0.0.1:7680"
	DefaultMaxFrameSize = envelope.MaxPayloadSize + 64<<10
	DefaultRateLimit    = 100
	DefaultRateBurst    = 200
	DefaultIdleTimeout  = 5 * time.Minute
)

func DefaultConfig() Config {
	return Config{
		ListenAddr:   DefaultListenAddr,
		MaxFrameSize: DefaultMaxFrameSize,
		RateLimit:    DefaultRateLimit,
		RateBurst:    DefaultRateBurst,
		IdleTimeout:  DefaultIdleTimeout,
	}
}

// Server accepts TCP connections and serves the frame protocol.
type Server struct {
	submitter Submitter
	relays    RelaySource
	cfg       Config

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

func NewServer(s Submitter, relays RelaySource, cfg Config) *Server {
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = DefaultMaxFrameSize
	}
	if cfg.RateLimit > 0 && cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		submitter: s,
		relays:    relays,
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
		conns:     make(map[net.Conn]struct{}),
	}
}

// Listen binds cfg.ListenAddr and serves in the background.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return oops.Wrapf(err, "listen on %s", s.cfg.ListenAddr)
	}
	return s.Serve(ln)
}

// Serve accepts connections from ln in the background. The server owns ln
// from now on.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		_ = ln.Close()
		return ErrServerClosed
	}
	if s.listener != nil {
		_ = ln.Close()
		return oops.Errorf("server already listening on %s", s.listener.Addr())
	}
	s.listener = ln
	log.WithFields(logger.Fields{
		"at":   "Server.Serve",
		"addr": ln.Addr().String(),
	}).Info("Transport listening")

	s.wg.Add(1)
	go s.acceptLoop(ln)
	return nil
}

// Addr returns the listening address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops accepting, closes every connection and waits for their
// goroutines to finish.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cancel()
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	log.WithField("at", "Server.Close").Info("Transport stopped")
	return err
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() == nil {
				log.WithError(err).Warn("accept failed, stopping transport")
			}
			return
		}
		if !s.track(conn) {
			_ = conn.Close()
			return
		}
		go s.serveConn(conn)
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	_ = conn.Close()
	s.wg.Done()
}

func (s *Server) newLimiter() *rate.Limiter {
	if s.cfg.RateLimit <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(s.cfg.RateLimit), s.cfg.RateBurst)
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.untrack(conn)
	remote := conn.RemoteAddr().String()
	limiter := s.newLimiter()
	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	log.WithField("remote", remote).Debug("connection opened")
	for {
		if s.cfg.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}
		f, err := ReadFrame(r, s.cfg.MaxFrameSize)
		if err != nil {
			if !errors.Is(err, io.EOF) && s.ctx.Err() == nil {
				log.WithError(err).WithField("remote", remote).Debug("closing connection")
			}
			return
		}
		if err := limiter.Wait(s.ctx); err != nil {
			return
		}
		if err := s.handleFrame(w, f); err != nil {
			log.WithError(err).WithFields(logger.Fields{
				"at":     "Server.serveConn",
				"remote": remote,
				"frame":  f.Type.String(),
			}).Debug("closing connection")
			return
		}
		if err := w.Flush(); err != nil {
			return
		}
	}
}

func (s *Server) handleFrame(w *bufio.Writer, f Frame) error {
	switch f.Type {
	case FrameSubmit:
		res, _ := s.submitter.Submit(f.Payload)
		return WriteFrame(w, FrameStatus, []byte{byte(res.Reason)})
	case FrameHello:
		id, err := identity.FromBytes(f.Payload)
		if err != nil {
			return err
		}
		return s.deliver(w, id)
	default:
		return oops.Wrapf(ErrUnknownFrameType, "%s", f.Type)
	}
}

// deliver writes every queued envelope for id. If the connection fails
// part way, the envelopes not yet written go back into the store.
func (s *Server) deliver(w *bufio.Writer, id identity.ExternalIdentity) error {
	msgs := s.relays.Drain(id)
	for i, m := range msgs {
		raw, err := envelope.Encode(m)
		if err == nil {
			err = WriteFrame(w, FrameRelay, raw)
		}
		if err == nil {
			err = w.Flush()
		}
		if err != nil {
			s.requeue(id, msgs[i:])
			return oops.Wrapf(err, "deliver relay envelope to %s", id.Short())
		}
	}
	log.WithFields(logger.Fields{
		"at":        "Server.deliver",
		"dst":       id.Short(),
		"delivered": len(msgs),
	}).Debug("delivered relay queue")
	return WriteFrame(w, FrameStatus, []byte{byte(router.ReasonNone)})
}

func (s *Server) requeue(id identity.ExternalIdentity, msgs []envelope.RelayMessage) {
	n, err := s.relays.Requeue(id, msgs)
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{
			"at":       "Server.requeue",
			"dst":      id.Short(),
			"requeued": n,
			"pending":  len(msgs),
		}).Warn("dropping undeliverable relay envelopes")
	}
}
