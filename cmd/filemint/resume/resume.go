package resume

import (
	"os"
	"os/signal"

	"github.com/filemint/filemint/cmd/filemint/pkg/cmdutil"
	"github.com/filemint/filemint/filemint/config"
	"github.com/filemint/filemint/filemint/workflow"
	"github.com/urfave/cli/v2"
)

func Resume() *cli.Command {
	cfg := config.Default()
	args := struct {
		checkpoint string
		json       bool
	}{}

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "checkpoint",
			Usage:       "Checkpoint file of the run to continue",
			Required:    true,
			Destination: &args.checkpoint,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "Print the result as JSON",
			Destination: &args.json,
		},
	}
	flags = append(flags, config.LedgerFlags(&cfg)...)
	flags = append(flags, config.StorageFlags(&cfg)...)
	flags = append(flags, config.RewardFlags(&cfg)...)

	return &cli.Command{
		Name:  "resume",
		Usage: "Continue a stopped registration from its checkpoint without registering or paying twice",
		Flags: flags,
		Action: func(c *cli.Context) error {
			unlock, err := cmdutil.LockCheckpoint(args.checkpoint)
			if err != nil {
				return err
			}
			defer unlock()

			cp, err := cmdutil.ReadCheckpoint(args.checkpoint)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt)
			defer cancel()

			clients, err := cmdutil.Connect(ctx, cfg, true, workflow.Options{
				OnTransition: cmdutil.SaveCheckpoints(args.checkpoint),
			})
			if err != nil {
				return err
			}
			defer clients.Close()

			res, err := clients.Workflow.Resume(ctx, cp)
			if err != nil {
				return cmdutil.Failed(err, args.checkpoint)
			}

			if args.json {
				return cmdutil.PrintJSON(res)
			}
			cmdutil.PrintResult(res, cfg.Gateway)
			return nil
		},
	}
}
