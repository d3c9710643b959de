package main

import (
	"context"
	"time"

	"github.com/go-i2p/go-msgrouter/lib/auth"
	"github.com/go-i2p/go-msgrouter/lib/config"
	"github.com/go-i2p/go-msgrouter/lib/control"
	"github.com/go-i2p/go-msgrouter/lib/envelope"
	"github.com/go-i2p/go-msgrouter/lib/keys"
	"github.com/go-i2p/go-msgrouter/lib/relay"
	"github.com/go-i2p/go-msgrouter/lib/router"
	"github.com/go-i2p/go-msgrouter/lib/transport"
	"github.com/go-i2p/go-msgrouter/lib/util"
	"github.com/go-i2p/go-msgrouter/lib/util/signals"
	"github.com/go-i2p/go-msgrouter/lib/util/time/monotonic"
	"github.com/go-i2p/go-msgrouter/lib/util/time/sntp"
	"github.com/go-i2p/logger"
	"github.com/spf13/cobra"
)

// ntpWait bounds how long serve waits for the first clock correction.
const ntpWait = 15 * time.Second

// logProtocol is the only protocol the standalone binary handles: each
// delivery is logged and dropped.
var logProtocol = envelope.NewProtocol("msgrouter.log", 1)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the router and its TCP transport",
	Long: `Run the router and its TCP transport.

Relay envelopes are queued for their destination and handed out on HELLO.
Messages are dispatched by protocol; this binary only handles ` + "`msgrouter.log/v1`" + `,
logging each delivery. Other protocols are rejected as unknown_protocol
unless a program embedding lib/router registers a handler for them.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func loadConfig() (config.Config, error) {
	if err := config.InitConfig(); err != nil {
		return config.Config{}, err
	}
	cfg := config.NewConfigFromViper()
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func serve(parent context.Context, cfg config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	var closers util.Closers
	defer func() { _ = closers.CloseAll() }()

	ring, err := keys.LoadOrCreate(cfg.KeyRing.Path)
	if err != nil {
		return err
	}

	clock := monotonic.NewClock()
	syncer := sntp.NewSyncer(&sntp.DefaultNTPClient{}, clock, cfg.Time.Syncer())
	syncer.Start()
	closers.Register("ntp", util.CloserFunc(func() error { syncer.Stop(); return nil }))
	if !cfg.Time.Disabled && !syncer.WaitForInitialization(ntpWait) {
		log.WithField("waited", ntpWait).Warn("clock not yet synchronized, continuing with local time")
	}

	store := relay.NewStore(clock, cfg.Relay.Limits(), cfg.Relay.Shards)
	sweeper := relay.NewSweeper(store, clock, cfg.Relay.SweepInterval)
	sweeper.Start()
	closers.Register("sweeper", util.CloserFunc(func() error { sweeper.Stop(); return nil }))

	expiry := router.NewExpirationValidator(clock).WithTolerance(cfg.Router.ToleranceSeconds())
	r := router.New(auth.NewVerifier(ring, ring, nil), store, newRegistry(), expiry)
	closers.Register("router", r)

	srv := transport.NewServer(r, store, cfg.Transport.Server())
	if err := srv.Listen(); err != nil {
		return err
	}
	closers.Register("transport", srv)

	if cfg.Control.Enabled {
		ctl, err := control.NewServer(cfg.Control.Server(), r, store)
		if err != nil {
			return err
		}
		if err := ctl.Start(); err != nil {
			return err
		}
		closers.Register("control", ctl)
	}

	ctx, stop := context.WithCancel(parent)
	defer stop()
	reloadID := signals.RegisterReloadHandler(func() { reloadLimits(store) })
	interruptID := signals.RegisterInterruptHandler(stop)
	defer signals.Deregister(reloadID)
	defer signals.Deregister(interruptID)
	go signals.Handle(ctx)

	log.WithFields(logger.Fields{
		"at":      "serve",
		"addr":    srv.Addr().String(),
		"local":   len(ring.Local()),
		"known":   len(ring.Identities()),
		"keyring": cfg.KeyRing.Path,
	}).Info("msgrouter running")

	<-ctx.Done()
	log.WithFields(logger.Fields{
		"at":     "serve",
		"queued": store.Len(),
	}).Info("shutting down")
	return closers.CloseAll()
}

func newRegistry() *router.Registry {
	reg := router.NewRegistry()
	reg.Register(logProtocol, router.HandlerFunc(logDelivery), router.AcceptUnauthenticated())
	return reg
}

func logDelivery(_ context.Context, d router.Delivery) error {
	log.WithFields(logger.Fields{
		"at":       "logDelivery",
		"src":      d.Src.Short(),
		"dst":      d.Dst.Short(),
		"protocol": d.Protocol.String(),
		"trust":    d.Trust.String(),
		"bytes":    len(d.Body),
	}).Info("message received")
	return nil
}

// reloadLimits applies changed relay limits on SIGHUP. Other settings need
// a restart.
func reloadLimits(store *relay.Store) {
	cfg, err := config.Reload()
	if err != nil {
		log.WithError(err).Warn("config reload failed, keeping current limits")
		return
	}
	store.SetLimits(cfg.Relay.Limits())
	log.WithFields(logger.Fields{
		"at":                  "reloadLimits",
		"max_per_destination": cfg.Relay.MaxPerDestination,
		"max_messages":        cfg.Relay.MaxMessages,
		"max_bytes":           cfg.Relay.MaxBytes,
	}).Info("relay limits reloaded")
}
