// Program cadetchat exchanges data between standard I/O and a cadet channel.
//
// Usage:
//
//	cadetchat init
//	cadetchat id
//	cadetchat accept <port>
//	cadetchat connect <peer> <port>
//	cadetchat echo <port>
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cadetchan/cadet"
	"github.com/cadetchan/cadet/config"
	"github.com/cadetchan/cadet/mesh"
	"github.com/cadetchan/cadet/server"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

var (
	cfgFile    string
	listenAddr string
	peerAddrs  []string
	showStats  bool
	statusAddr string
	forceInit  bool
	echoLimit  int

	cfg *config.Config
	log *logrus.Entry
)

var rootCmd = &cobra.Command{
	Use:   "cadetchat",
	Short: "Connect standard I/O to a cadet channel",
	Long: `Cadetchat runs a mesh node, links it to the configured peers, and copies
standard input to a channel and the channel to standard output.

Peers are named by their 52-character identity, which "cadetchat id" prints.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = config.DefaultPath()
		}
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if listenAddr != "" {
			cfg.Listen = listenAddr
		}
		cfg.Peers = append(cfg.Peers, peerAddrs...)

		lvl, err := cfg.Level()
		if err != nil {
			return err
		}
		logger := logrus.New()
		logger.SetOutput(cmd.ErrOrStderr())
		logger.SetLevel(lvl)
		log = logrus.NewEntry(logger)
		return nil
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with a new identity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = config.DefaultPath()
		}
		if _, err := os.Stat(path); err == nil && !forceInit {
			return fmt.Errorf("%s already exists (use --force to replace it)", path)
		}
		seed, err := config.NewSeed()
		if err != nil {
			return err
		}
		cfg.Seed = seed
		if err := config.Save(path, cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

var idCmd = &cobra.Command{
	Use:   "id",
	Short: "Print the identity of this node",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := cfg.MeshOptions(log)
		if err != nil {
			return err
		}
		n, err := mesh.New(opts)
		if err != nil {
			return err
		}
		defer n.Close()
		if len(opts.Seed) == 0 {
			log.Warn("no identity seed is configured; this identity is temporary")
		}
		fmt.Fprintln(cmd.OutOrStdout(), n.Identity())
		return nil
	},
}

var acceptCmd = &cobra.Command{
	Use:   "accept <port>",
	Short: "Accept one channel on a port and connect it to standard I/O",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runNode(cmd, func(ctx context.Context, svc *cadet.Service) error {
			p := svc.NewPort()
			defer p.Close()
			ch := svc.NewChannel()
			defer ch.Close()

			log.WithField("port", args[0]).Info("waiting for a peer")
			if err := p.Open(ctx, ch, args[0]); err != nil {
				return fmt.Errorf("open: %w", err)
			}
			return pump(ctx, cmd, ch)
		})
	},
}

var connectCmd = &cobra.Command{
	Use:   "connect <peer> <port>",
	Short: "Connect to a port on a peer and connect the channel to standard I/O",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := cadet.ParsePeerID(args[0]); err != nil {
			return err
		}
		return runNode(cmd, func(ctx context.Context, svc *cadet.Service) error {
			ch := svc.NewChannel()
			defer ch.Close()
			if err := ch.Connect(ctx, args[0], args[1]); err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			return pump(ctx, cmd, ch)
		})
	},
}

var echoCmd = &cobra.Command{
	Use:   "echo <port>",
	Short: "Echo data back on each channel accepted on a port",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runNode(cmd, func(ctx context.Context, svc *cadet.Service) error {
			p := svc.NewPort()
			defer p.Close()
			return server.Loop(ctx, svc, p, args[0], func(ctx context.Context, ch *cadet.Channel) error {
				stop := context.AfterFunc(ctx, func() { ch.Close() })
				defer stop()
				_, err := io.Copy(ch, ch)
				if errors.Is(err, cadet.ErrAborted) {
					return nil
				}
				return err
			}, &server.LoopOptions{Concurrency: echoLimit, Logger: log})
		})
	},
}

// runNode starts a node as configured, links it to its peers, and calls run
// with a service on the node. The context passed to run ends on SIGINT or
// SIGTERM.
func runNode(cmd *cobra.Command, run func(context.Context, *cadet.Service) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts, err := cfg.MeshOptions(log)
	if err != nil {
		return err
	}
	n, err := mesh.New(opts)
	if err != nil {
		return err
	}
	defer n.Close()
	svc := cadet.NewService(n, &cadet.ServiceOptions{Logger: log})
	defer func() {
		svc.Close()
		if showStats {
			printStats(cmd, svc)
		}
	}()
	log.WithField("id", n.Identity().String()).Info("node started")

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Listen != "" {
		lst, err := net.Listen("tcp", cfg.Listen)
		if err != nil {
			return err
		}
		log.WithField("addr", lst.Addr().String()).Info("listening")
		g.Go(func() error { return n.Serve(gctx, lst) })
	}
	if statusAddr != "" {
		hs := &http.Server{Addr: statusAddr, Handler: server.HTTP(svc)}
		g.Go(func() error {
			<-gctx.Done()
			return hs.Close()
		})
		g.Go(func() error {
			log.WithField("addr", statusAddr).Info("serving status")
			if err := hs.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	for _, addr := range cfg.Peers {
		addr := addr
		g.Go(func() error {
			id, err := n.Dial(gctx, addr)
			if err != nil {
				// An unreachable peer does not stop the node.
				log.WithError(err).WithField("addr", addr).Warn("dial failed")
				return nil
			}
			log.WithFields(logrus.Fields{"peer": id.Short(), "addr": addr}).Info("peer linked")
			return nil
		})
	}
	g.Go(func() error {
		defer stop()
		return run(gctx, svc)
	})
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// pump copies standard input to ch and ch to standard output, until either
// direction ends or ctx ends.
func pump(ctx context.Context, cmd *cobra.Command, ch *cadet.Channel) error {
	errc := make(chan error, 2)
	go func() {
		_, err := io.Copy(ch, cmd.InOrStdin())
		errc <- err
	}()
	go func() {
		_, err := io.Copy(cmd.OutOrStdout(), ch)
		errc <- err
	}()

	// The goroutine reading standard input cannot be interrupted, so only
	// wait for the first direction to finish.
	select {
	case err := <-errc:
		ch.Close()
		if errors.Is(err, cadet.ErrAborted) {
			err = nil
		}
		return err
	case <-ctx.Done():
		ch.Close()
		return nil
	}
}

func printStats(cmd *cobra.Command, svc *cadet.Service) {
	out, err := yaml.Marshal(svc.Metrics())
	if err != nil {
		log.WithError(err).Error("encoding stats")
		return
	}
	cmd.ErrOrStderr().Write(out)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.cadet/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&listenAddr, "listen", "l", "", "accept links on this TCP address")
	rootCmd.PersistentFlags().StringSliceVarP(&peerAddrs, "peer", "p", nil, "link to a node at this TCP address (repeatable)")
	rootCmd.PersistentFlags().StringVar(&statusAddr, "status", "", "serve node status as JSON over HTTP on this address")
	rootCmd.PersistentFlags().BoolVar(&showStats, "stats", false, "print service metrics on exit")
	initCmd.Flags().BoolVar(&forceInit, "force", false, "replace an existing config file")
	echoCmd.Flags().IntVar(&echoLimit, "concurrency", 0, "maximum channels served at once (default is the number of CPUs)")

	rootCmd.AddCommand(initCmd, idCmd, acceptCmd, connectCmd, echoCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
