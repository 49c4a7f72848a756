// Package main provides the CLI entry point for the lanlobby peer
// client.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/arcadenet/lanlobby/internal/config"
	"github.com/arcadenet/lanlobby/internal/dirclient"
	"github.com/arcadenet/lanlobby/internal/game"
	"github.com/arcadenet/lanlobby/internal/logging"
	"github.com/arcadenet/lanlobby/internal/prompt"
	"github.com/arcadenet/lanlobby/internal/rendezvous"
	"github.com/arcadenet/lanlobby/internal/session"
	"github.com/arcadenet/lanlobby/internal/wire"
)

var (
	// Version is set at build time
	Version = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "lanlobby",
		Short: "lanlobby - LAN matchmaking peer client",
		Long: `lanlobby is the peer client for the LAN lobby system.

It authenticates against the directory, discovers other peers over
UDP rendezvous, and plays tic-tac-toe over a direct session once a
match is agreed.`,
		Version: Version,
	}

	rootCmd.AddCommand(hostCmd())
	rootCmd.AddCommand(joinCmd())
	rootCmd.AddCommand(probeCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// accountFlags are the credential flags shared by host and join.
type accountFlags struct {
	configPath string
	username   string
	credential string
	register   bool
}

func (f *accountFlags) install(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().StringVarP(&f.username, "username", "u", "", "Account username")
	cmd.Flags().StringVarP(&f.credential, "credential", "p", "", "Account credential")
	cmd.Flags().BoolVarP(&f.register, "register", "r", false, "Register the account before logging in")
}

// lobbySession is the authenticated client state shared by the match
// subcommands: directory client, heartbeat sender, and prompter.
type lobbySession struct {
	cfg      *config.Config
	logger   *slog.Logger
	prompter *prompt.Prompter
	client   *dirclient.Client
	beats    *dirclient.HeartbeatSender
	username string
}

// connect loads configuration, resolves credentials, logs in, and
// starts the presence heartbeat.
func connect(flags *accountFlags) (*lobbySession, error) {
	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		return nil, err
	}

	logger := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	prompter := prompt.New()
	prompter.PrintBanner()

	username, credential, register := flags.username, flags.credential, flags.register
	if username == "" || credential == "" {
		username, credential, register, err = prompter.Credentials()
		if err != nil {
			return nil, err
		}
	}

	client := dirclient.New(dirclient.Config{
		Address:     cfg.Client.LobbyAddress,
		DialTimeout: cfg.Client.DialTimeout,
	}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Client.DialTimeout)
	defer cancel()

	if register {
		if err := client.Register(ctx, username, credential); err != nil {
			client.Close()
			return nil, fmt.Errorf("registration failed: %w", err)
		}
		fmt.Printf("Registered account %s\n", username)
	}

	info, err := client.Login(ctx, username, credential)
	if err != nil {
		client.Close()
		if errors.Is(err, dirclient.ErrAlreadyActive) {
			return nil, fmt.Errorf("account %s is already active in another session", username)
		}
		return nil, fmt.Errorf("login failed: %w", err)
	}
	fmt.Printf("Logged in as %s (login #%s, %s xp)\n",
		username, humanize.Comma(info.LoginCount), humanize.Comma(info.Experience))

	beats := dirclient.NewHeartbeatSender(client, username, dirclient.HeartbeatConfig{
		Interval: cfg.Client.HeartbeatInterval,
		DeltaXP:  cfg.Client.HeartbeatXP,
	}, nil, logger)
	beats.Start()

	return &lobbySession{
		cfg:      cfg,
		logger:   logger,
		prompter: prompter,
		client:   client,
		beats:    beats,
		username: username,
	}, nil
}

// close stops the heartbeat, logs the account out, and drops the
// directory connection.
func (s *lobbySession) close() {
	s.beats.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Client.DialTimeout)
	defer cancel()
	if err := s.client.Logout(ctx, s.username); err != nil {
		s.logger.Warn("logout failed", logging.KeyUsername, s.username, logging.KeyError, err)
	} else {
		fmt.Println("Logged out.")
	}
	s.client.Close()
}

func hostCmd() *cobra.Command {
	var flags accountFlags

	cmd := &cobra.Command{
		Use:   "host",
		Short: "Find a peer and host a match",
		Long: `Log in, scan the rendezvous address space for available peers,
invite one, and host the game once it connects.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			s, err := connect(&flags)
			if err != nil {
				return err
			}
			defer s.close()

			initCfg := rendezvous.DefaultInitiatorConfig()
			initCfg.Username = s.username
			initCfg.ProbeTimeout = s.cfg.Rendezvous.ProbeTimeout
			initCfg.InviteTimeout = s.cfg.Rendezvous.InviteTimeout
			initCfg.ProbeRate = s.cfg.Rendezvous.ProbeRate
			initCfg.Backoff = rendezvous.BackoffConfig{
				InitialDelay: s.cfg.Rendezvous.Backoff.InitialDelay,
				MaxDelay:     s.cfg.Rendezvous.Backoff.MaxDelay,
				Multiplier:   s.cfg.Rendezvous.Backoff.Multiplier,
				Jitter:       s.cfg.Rendezvous.Backoff.Jitter,
				MaxRounds:    s.cfg.Rendezvous.Backoff.MaxRounds,
			}

			enum := &rendezvous.HostPortEnumerator{
				Hosts:   s.cfg.Rendezvous.Hosts,
				PortMin: s.cfg.Rendezvous.PortMin,
				PortMax: s.cfg.Rendezvous.PortMax,
			}

			initiator, err := rendezvous.NewInitiator(initCfg, enum, s.logger)
			if err != nil {
				return err
			}
			defer initiator.Close()

			fmt.Println("Scanning for peers...")
			transport, peer, err := initiator.Run(ctx, s.prompter.SelectPeer, session.ListenConfig{
				Kind:    s.cfg.Session.Transport,
				PortMin: s.cfg.Session.PortMin,
				PortMax: s.cfg.Session.PortMax,
			}, s.cfg.Session.AdvertiseAddress)
			if err != nil {
				return fmt.Errorf("matchmaking failed: %w", err)
			}
			defer transport.Close()

			fmt.Printf("%s connected. You play X and move first.\n", peer.Name)
			return s.playMatch(transport, peer.Name, true)
		},
	}

	flags.install(cmd)
	return cmd
}

func joinCmd() *cobra.Command {
	var flags accountFlags

	cmd := &cobra.Command{
		Use:   "join",
		Short: "Wait for an invite and join a match",
		Long: `Log in, answer rendezvous probes on a well-known port, and join
the game of the first accepted inviter.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			s, err := connect(&flags)
			if err != nil {
				return err
			}
			defer s.close()

			responder, err := rendezvous.NewResponder(rendezvous.ResponderConfig{
				Username:           s.username,
				PortMin:            s.cfg.Rendezvous.PortMin,
				PortMax:            s.cfg.Rendezvous.PortMax,
				ConnectInfoTimeout: s.cfg.Rendezvous.ConnectInfoTimeout,
				DialTimeout:        s.cfg.Session.DialTimeout,
			}, s.logger)
			if err != nil {
				return err
			}
			defer responder.Close()

			fmt.Printf("Waiting for invites on UDP port %d...\n", responder.Port())
			transport, inviter, err := responder.WaitForSession(ctx, s.prompter.ConfirmInvite)
			if err != nil {
				return fmt.Errorf("matchmaking failed: %w", err)
			}
			defer transport.Close()

			// Answer stray probes as busy for the rest of the match.
			go responder.ServeProbes(ctx)

			fmt.Printf("Connected to %s. You play O.\n", inviter)
			return s.playMatch(transport, inviter, false)
		},
	}

	flags.install(cmd)
	return cmd
}

// playMatch runs one game with liveness monitoring of the opponent.
func (s *lobbySession) playMatch(transport session.Transport, opponent string, hosting bool) error {
	start := time.Now()

	monitor := session.NewMonitor(s.client, opponent, session.MonitorConfig{
		Interval: s.cfg.Session.LivenessInterval,
	}, nil, s.logger)
	monitor.OnLost = func() {
		transport.Close()
	}
	monitor.Start()
	defer monitor.Stop()

	g := game.New(transport, s.prompter.Move, monitor, s.logger)
	g.OnBoard = s.prompter.PrintBoard

	var result string
	var err error
	if hosting {
		var outcome game.Outcome
		outcome, err = g.RunHost(s.username, opponent)
		switch outcome {
		case game.XWins:
			result = "You Won!"
		case game.OWins:
			result = "You Lost..."
		case game.Draw:
			result = "Draw!"
		}
	} else {
		var guestResult string
		guestResult, err = g.RunGuest()
		switch guestResult {
		case wire.ResultWin:
			result = "You Won!"
		case wire.ResultLose:
			result = "You Lost..."
		case wire.ResultDraw:
			result = "Draw!"
		}
	}

	if err != nil {
		if errors.Is(err, game.ErrTerminated) {
			fmt.Printf("Opponent %s went offline. Match abandoned.\n", opponent)
			return nil
		}
		if errors.Is(err, game.ErrPeerLost) {
			fmt.Println("Peer connection lost. Match abandoned.")
			return nil
		}
		return err
	}

	s.prompter.PrintResult(result)
	fmt.Printf("Match finished in %s.\n", humanize.RelTime(start, time.Now(), "", ""))
	return nil
}

func probeCmd() *cobra.Command {
	var configPath string
	var username string

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Scan for available peers without inviting",
		Long:  "Run one discovery round over the rendezvous address space and list who answered.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			logger := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)

			initCfg := rendezvous.DefaultInitiatorConfig()
			initCfg.Username = username
			initCfg.ProbeTimeout = cfg.Rendezvous.ProbeTimeout
			initCfg.ProbeRate = cfg.Rendezvous.ProbeRate

			enum := &rendezvous.HostPortEnumerator{
				Hosts:   cfg.Rendezvous.Hosts,
				PortMin: cfg.Rendezvous.PortMin,
				PortMax: cfg.Rendezvous.PortMax,
			}

			initiator, err := rendezvous.NewInitiator(initCfg, enum, logger)
			if err != nil {
				return err
			}
			defer initiator.Close()

			start := time.Now()
			_, peers, err := initiator.DiscoverRound(ctx)
			if err != nil {
				return err
			}

			if len(peers) == 0 {
				fmt.Println("No peers answered.")
				return nil
			}
			fmt.Printf("%d peer(s) answered in %s:\n", len(peers), time.Since(start).Round(time.Millisecond))
			for _, p := range peers {
				fmt.Printf("  %s\n", p)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().StringVarP(&username, "username", "u", "scanner", "Name to identify as in probes")

	return cmd
}

// loadConfig reads the config file when given, defaults otherwise.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
