package serve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/filemint/filemint/cmd/filemint/pkg/cmdutil"
	"github.com/filemint/filemint/filemint/api"
	"github.com/filemint/filemint/filemint/config"
	"github.com/filemint/filemint/filemint/ledger"
	"github.com/filemint/filemint/filemint/workflow"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/urfave/cli/v2"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"
)

func Serve() *cli.Command {
	cfg := config.Default()
	args := struct {
		cacheSize   int
		cacheTTL    time.Duration
		skipSupply  bool
		shutdownTTL time.Duration
		corsOrigins cli.StringSlice
	}{}

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "listen",
			Usage:       "Address the HTTP API listens on",
			Value:       cfg.Listen,
			EnvVars:     []string{"LISTEN_ADDRESS"},
			Destination: &cfg.Listen,
		},
		&cli.IntFlag{
			Name:        "status-cache-size",
			Usage:       "Recent runs kept for status lookups",
			Value:       1024,
			Destination: &args.cacheSize,
		},
		&cli.DurationFlag{
			Name:        "status-cache-ttl",
			Usage:       "How long a run stays in the status cache",
			Value:       time.Hour,
			Destination: &args.cacheTTL,
		},
		&cli.BoolFlag{
			Name:        "skip-initial-supply",
			Usage:       "Do not mint the initial supply at startup",
			Destination: &args.skipSupply,
		},
		&cli.StringSliceFlag{
			Name:        "cors-origins",
			Usage:       "Origins allowed to call the API from a browser",
			Value:       cli.NewStringSlice("*"),
			EnvVars:     []string{"CORS_ORIGINS"},
			Destination: &args.corsOrigins,
		},
		&cli.DurationFlag{
			Name:        "shutdown-timeout",
			Usage:       "How long in-flight requests may take to finish on shutdown",
			Value:       30 * time.Second,
			Destination: &args.shutdownTTL,
		},
	}
	flags = append(flags, config.LedgerFlags(&cfg)...)
	flags = append(flags, config.StorageFlags(&cfg)...)
	flags = append(flags, config.RewardFlags(&cfg)...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the registration API over HTTP",
		Flags: flags,
		Action: func(c *cli.Context) error {
			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer cancel()

			undo, err := maxprocs.Set(maxprocs.Logger(func(format string, a ...any) {
				log.Debug(fmt.Sprintf(format, a...))
			}))
			if err != nil {
				log.Warn("Failed to set GOMAXPROCS", "err", err)
			}
			defer undo()

			cache := api.NewStatusCache(args.cacheSize, args.cacheTTL)

			clients, err := cmdutil.Connect(ctx, cfg, true, workflow.Options{OnTransition: cache.Observe})
			if err != nil {
				return err
			}
			defer clients.Close()

			if !args.skipSupply {
				report, err := clients.IssueInitialSupply(ctx, cfg.InitialSupplyWei())
				if err != nil {
					return err
				}
				log.Info("Treasury ready", "balance", ledger.FormatTokens(report.Balance.Balance), "minted", !report.Skipped)
			}

			handler := api.NewHandler(clients.Workflow, clients.Treasury, api.Options{
				Gateway:     cfg.Gateway,
				MaxFileSize: cfg.MaxFileSize,
				Cache:       cache,
			})
			router := handler.Router()
			router.Handle("/metrics", promhttp.Handler())

			withCORS := cors.New(cors.Options{
				AllowedOrigins: args.corsOrigins.Value(),
				AllowedMethods: []string{http.MethodGet, http.MethodPost},
				AllowedHeaders: []string{"*"},
			}).Handler(router)

			server := &http.Server{
				Addr:              cfg.Listen,
				Handler:           withCORS,
				ReadHeaderTimeout: 10 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				log.Info("Server starting", "listen", cfg.Listen)
				err := server.ListenAndServe()
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server error: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				log.Info("Shutting down server")

				shutdownCtx, cancel := context.WithTimeout(context.Background(), args.shutdownTTL)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			})

			return g.Wait()
		},
	}
}
