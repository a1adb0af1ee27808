package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrchat/internal/config"
	"github.com/ryandielhenn/zephyrchat/internal/console"
	"github.com/ryandielhenn/zephyrchat/internal/telemetry"
	"github.com/ryandielhenn/zephyrchat/pkg/gossip"
	"github.com/ryandielhenn/zephyrchat/pkg/history"
	"github.com/ryandielhenn/zephyrchat/pkg/node"
	"github.com/ryandielhenn/zephyrchat/pkg/registry"
)

// Set with -ldflags "-X main.version=... -X main.gitSHA=...".
var (
	version = "dev"
	gitSHA  = "unknown"
)

const (
	leaseTTL        = 10 // seconds
	loginTimeout    = 5 * time.Second
	shutdownTimeout = 2 * time.Second
)

func main() {
	cfg := config.Flags()
	cfg.Bind(flag.CommandLine)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] [port [host]]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if err := cfg.ApplyArgs(flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.Dev)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer logger.Sync() //nolint:errcheck
	telemetry.SetBuildInfo(version, gitSHA)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("exit", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	con := console.New(os.Stdin, os.Stdout)

	// 1. Identity
	if cfg.Name == "" {
		name, err := prompt(ctx, con.AskName)
		if err != nil {
			return err
		}
		cfg.Name = name
	}
	if cfg.Target == cfg.Name {
		return errors.New("cannot chat with yourself")
	}
	log := logger.With(zap.String("self", cfg.Name))

	// 2. Bind the UDP socket; failure here is fatal
	tr, err := gossip.ListenUDP(gossip.UDPTransportOpts{
		ListenAddr: cfg.ListenAddr(),
		Logger:     logger.Named("gossip.udp"),
	})
	if err != nil {
		return err
	}
	con.Notice("Listen on port %d", tr.LocalAddr().Port())

	// 3. Chat history
	var archive history.Archive
	if cfg.HistoryDB != "" {
		a, err := history.OpenSQLite(cfg.HistoryDB)
		if err != nil {
			tr.Close()
			return err
		}
		defer a.Close()
		archive = a
	}

	n, err := node.New(node.Options{
		Name:      cfg.Name,
		Transport: tr,
		Logger:    logger,
		History:   history.NewStore(cfg.HistoryBytes, cfg.HistoryTTL),
		Archive:   archive,
		OnMessage: con.Print,
	})
	if err != nil {
		tr.Close()
		return err
	}
	n.Start(ctx)
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := n.Close(cctx); err != nil {
			log.Warn("close node", zap.Error(err))
		}
	}()

	// 4. Admin HTTP
	if cfg.AdminAddr != "" {
		srv := &http.Server{Addr: cfg.AdminAddr, Handler: n.AdminRouter()}
		go func() {
			log.Info("admin listening", zap.String("addr", cfg.AdminAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("admin server", zap.Error(err))
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	// 5. etcd: publish ourselves as a rendezvous, or find one
	if len(cfg.EtcdEndpoints) > 0 {
		cli, err := registry.NewClient(cfg.EtcdEndpoints)
		if err != nil {
			return fmt.Errorf("etcd client: %w", err)
		}
		defer cli.Close()
		log.Info("created etcd client", zap.Strings("endpoints", cli.Endpoints()))

		if !cfg.IsClient() {
			unpublish, err := publish(ctx, cli, cfg, log)
			if err != nil {
				return err
			}
			defer unpublish()
		} else if prefer, ok := cfg.EtcdLookup(); ok {
			addr, err := registry.Lookup(ctx, cli, prefer)
			if err != nil {
				return err
			}
			log.Info("rendezvous from etcd", zap.String("addr", addr))
			cfg.Rendezvous = addr
		}
	}

	// A node without a rendezvous only serves logins and relays.
	if !cfg.IsClient() {
		<-ctx.Done()
		return nil
	}

	// 6. Log in
	rv, err := node.ParseEndpoint(cfg.Rendezvous, config.DefaultPort)
	if err != nil {
		return err
	}
	if err := n.Login(ctx, rv); err != nil {
		return fmt.Errorf("login to %s: %w", rv, err)
	}
	rctx, cancel := context.WithTimeout(ctx, loginTimeout)
	err = n.WaitForRegistration(rctx)
	cancel()
	switch {
	case err == nil:
		log.Info("registered", zap.Int("members", n.Members().Len()))
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		log.Warn("no logined reply yet", zap.Stringer("rendezvous", rv), zap.Error(err))
	}

	// 7. Pick a peer or wait to be picked
	wait, target := cfg.Wait, cfg.Target
	if !wait && target == "" {
		if wait, err = prompt(ctx, con.AskWait); err != nil {
			return err
		}
		if !wait {
			if target, err = prompt(ctx, func() (string, error) { return con.AskTarget(cfg.Name) }); err != nil {
				return err
			}
		}
	}
	if target != "" {
		if err := n.Connect(ctx, target); err != nil {
			return err
		}
	}

	peer, err := n.WaitForConnection(ctx)
	if err != nil {
		return err
	}
	con.Notice("connect with %s (%s)", peer.Name, peer.HostPort())
	con.Notice("Now, type then press Enter to chat.")

	// 8. Chat until stdin ends or we are signalled
	errc := make(chan error, 1)
	go func() {
		errc <- con.Lines(func(text string) error {
			if err := n.Say(ctx, text); err != nil {
				con.Notice("not sent: %v", err)
			}
			return nil
		})
	}()
	select {
	case <-ctx.Done():
		return nil
	case err := <-errc:
		return err
	}
}

// publish registers this node in etcd and logs rendezvous changes. The
// returned func stops the keepalive and revokes the lease.
func publish(ctx context.Context, cli *clientv3.Client, cfg *config.Config, log *zap.Logger) (func(), error) {
	leaseID, cancel, err := registry.RegisterRendezvous(cli, cfg.Name, cfg.Advertise, leaseTTL)
	if err != nil {
		return nil, fmt.Errorf("register rendezvous: %w", err)
	}
	log.Info("registered rendezvous", zap.String("advertise", cfg.Advertise))
	unpublish := func() {
		cancel()
		rctx, rcancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer rcancel()
		_, _ = cli.Revoke(rctx, leaseID)
	}

	err = registry.WatchRendezvous(ctx, cli, func(all map[string]string) {
		log.Info("rendezvous set changed", zap.Int("count", len(all)))
	})
	if err != nil {
		unpublish()
		return nil, fmt.Errorf("watch rendezvous: %w", err)
	}
	return unpublish, nil
}

// prompt runs a blocking console question so that a signal still ends the
// process while it waits for input.
func prompt[T any](ctx context.Context, ask func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := ask()
		ch <- result{v, err}
	}()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
