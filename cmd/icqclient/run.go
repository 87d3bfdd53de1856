package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ZentaChain/zentalk-icq/pkg/api"
	"github.com/ZentaChain/zentalk-icq/pkg/config"
	"github.com/ZentaChain/zentalk-icq/pkg/metrics"
	"github.com/ZentaChain/zentalk-icq/pkg/network"
	"github.com/ZentaChain/zentalk-icq/pkg/notify"
	"github.com/ZentaChain/zentalk-icq/pkg/storage"
)

// stack is everything one client process wires together
type stack struct {
	cfg       *config.Config
	log       *zap.SugaredLogger
	db        *storage.DB
	bus       *notify.Bus
	registry  *prometheus.Registry
	collector *metrics.Collector
	client    *network.Client
}

// newStack opens storage and builds a client from cfg. With useOwner the
// account id and password fall back to the stored owner when the config
// leaves them empty.
func newStack(cfg *config.Config, log *zap.SugaredLogger, useOwner bool) (*stack, error) {
	db, err := storage.Open(cfg.Storage.Path, cfg.Storage.Passphrase)
	if err != nil {
		return nil, err
	}

	if useOwner && cfg.Account.ID == "" {
		owner, err := db.Owner()
		switch {
		case err == nil:
			cfg.Account.ID = owner.AccountID
			if cfg.Account.Password == "" {
				cfg.Account.Password = owner.Password
			}
			log.Infof("👤 Using stored owner %s", owner.AccountID)
		case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrDatabaseLocked):
		default:
			db.Close()
			return nil, fmt.Errorf("failed to load owner: %w", err)
		}
	}

	s := &stack{
		cfg:      cfg,
		log:      log,
		db:       db,
		bus:      notify.NewBus(),
		registry: prometheus.NewRegistry(),
	}
	s.collector = metrics.New(s.registry)
	s.client = network.NewClient(network.Options{
		AccountID:         cfg.Account.ID,
		Password:          cfg.Account.Password,
		Server:            cfg.Server.Login,
		Generation:        cfg.Generation(),
		SaltedLogon:       cfg.Account.SaltedLogon,
		Status:            cfg.Status(),
		Keepalive:         cfg.Server.Keepalive,
		ReconnectMin:      cfg.Server.ReconnectMin,
		ReconnectMax:      cfg.Server.ReconnectMax,
		AutoReconnect:     cfg.Server.AutoReconnect,
		MaxUsersPerPacket: cfg.Server.MaxUsersPerPacket,
		MaxQueue:          cfg.Server.MaxQueue,
		Store:             db,
		Publisher:         notify.Multi{s.bus, s.collector},
		Observer:          s.collector,
		EventObserver:     s.collector,
		Log:               log.Named("client"),
	})
	return s, nil
}

func (s *stack) Close() {
	if err := s.client.Close(); err != nil {
		s.log.Warnw("Client close failed", "error", err)
	}
	if err := s.db.Close(); err != nil {
		s.log.Warnw("Database close failed", "error", err)
	}
}

func runCmd(g *globals) *cobra.Command {
	var (
		account string
		status  string
		noAPI   bool
		quiet   bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Log on and stay online",
		Long: `Log the configured account on, serve the control API and print
signals as they arrive until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			if account != "" {
				cfg.Account.ID = account
			}
			if status != "" {
				cfg.Account.Status = status
			}
			if noAPI {
				cfg.API.Enabled = false
			}
			if err := cfg.Validate(false); err != nil {
				return err
			}

			log, err := g.logger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			s, err := newStack(cfg, log, true)
			if err != nil {
				return err
			}
			defer s.Close()
			if cfg.Account.ID == "" {
				return config.ErrNoAccount
			}

			printBanner()
			field("Account", cfg.Account.ID)
			field("Server", cfg.Server.Login)
			field("Status", cfg.Account.Status)
			if cfg.API.Enabled {
				field("API", "http://"+cfg.APIAddr()+"/api/v1")
			}
			fmt.Println()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return s.serve(ctx, !quiet)
		},
	}

	cmd.Flags().StringVarP(&account, "account", "a", "", "account id override")
	cmd.Flags().StringVarP(&status, "status", "s", "", "logon status override")
	cmd.Flags().BoolVar(&noAPI, "no-api", false, "do not serve the control API")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print signals")
	return cmd
}

// serve logs on and runs the API and signal printer until ctx ends
func (s *stack) serve(ctx context.Context, echo bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, ctx := errgroup.WithContext(ctx)

	if s.cfg.API.Enabled {
		server := api.NewServer(s.client, s.bus, &api.Config{
			Addr:         s.cfg.APIAddr(),
			EnableCORS:   true,
			RateLimit:    s.cfg.API.RateLimit,
			ReadTimeout:  api.DefaultConfig().ReadTimeout,
			WriteTimeout: api.DefaultConfig().WriteTimeout,
			WaitTimeout:  api.DefaultConfig().WaitTimeout,
			Gatherer:     s.metricsGatherer(),
		}, s.log.Named("api"))
		group.Go(func() error { return server.Start(ctx) })
	}

	signals, unsubscribe := s.bus.Subscribe(256)
	group.Go(func() error {
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return nil
			case sig, ok := <-signals:
				if !ok {
					return nil
				}
				if echo {
					printSignal(sig)
				}
			}
		}
	})

	if err := s.client.Logon(ctx); err != nil {
		cancel()
		_ = group.Wait()
		return fmt.Errorf("logon failed: %w", err)
	}

	<-ctx.Done()
	s.log.Info("🛑 Logging off")
	s.client.Logoff()
	return group.Wait()
}

func (s *stack) metricsGatherer() prometheus.Gatherer {
	if !s.cfg.API.Metrics {
		return nil
	}
	return s.registry
}

func printSignal(sig notify.Signal) {
	ts := sig.Time.Format("15:04:05")
	kind := kindStyle.Render(string(sig.Kind))
	switch d := sig.Data.(type) {
	case notify.Message:
		text := d.Text
		if d.URL != "" {
			text += " " + d.URL
		}
		fmt.Printf("%s %s %s: %s\n", ts, kind, sig.Contact, text)
	case notify.Presence:
		fmt.Printf("%s %s %s %s\n", ts, kind, sig.Contact, presenceLabel(d))
	case notify.Session:
		if d.Reason != "" {
			fmt.Printf("%s %s %s (%s)\n", ts, kind, d.State, d.Reason)
			return
		}
		fmt.Printf("%s %s %s\n", ts, kind, d.State)
	default:
		if sig.Contact != "" {
			fmt.Printf("%s %s %s\n", ts, kind, sig.Contact)
			return
		}
		fmt.Printf("%s %s\n", ts, kind)
	}
}
