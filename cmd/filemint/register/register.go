package register

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/filemint/filemint/cmd/filemint/pkg/cmdutil"
	"github.com/filemint/filemint/filemint/api"
	"github.com/filemint/filemint/filemint/config"
	"github.com/filemint/filemint/filemint/workflow"
	"github.com/urfave/cli/v2"
)

func Register() *cli.Command {
	cfg := config.Default()
	args := struct {
		file       string
		name       string
		creator    string
		account    string
		checkpoints string
		json        bool
	}{}

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "file",
			Usage:       "Path of the file to register",
			Required:    true,
			Destination: &args.file,
		},
		&cli.StringFlag{
			Name:        "name",
			Usage:       "Display name of the file",
			Required:    true,
			Destination: &args.name,
		},
		&cli.StringFlag{
			Name:        "creator",
			Usage:       "Creator name recorded in the metadata",
			Destination: &args.creator,
		},
		&cli.StringFlag{
			Name:        "account",
			Usage:       "Node managed account that will own the token",
			Required:    true,
			Destination: &args.account,
		},
		&cli.StringFlag{
			Name:        "checkpoint-dir",
			Usage:       "Directory that keeps the checkpoint of every upload",
			EnvVars:     []string{"FILEMINT_CHECKPOINT_DIR"},
			Value:       cmdutil.DefaultCheckpointDir(),
			Destination: &args.checkpoints,
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
		Name:  "register",
		Usage: "Pin a file, register it as a FileToken and pay the owner the reward",
		Flags: flags,
		Action: func(c *cli.Context) error {
			if err := api.CheckFileType(args.file); err != nil {
				return err
			}

			info, err := os.Stat(args.file)
			if err != nil {
				return fmt.Errorf("failed to stat file: %w", err)
			}
			if cfg.MaxFileSize > 0 && info.Size() > cfg.MaxFileSize {
				return fmt.Errorf("file is %d bytes, limit is %d", info.Size(), cfg.MaxFileSize)
			}

			data, err := os.ReadFile(args.file)
			if err != nil {
				return fmt.Errorf("failed to read file: %w", err)
			}

			req := workflow.UploadRequest{
				File:         data,
				FileName:     filepath.Base(args.file),
				DisplayName:  args.name,
				CreatorName:  args.creator,
				OwnerAccount: args.account,
			}

			// The journal lives in one process only. Across processes the checkpoint
			// file of the upload is what refuses a second registration.
			checkpoint := cmdutil.CheckpointPath(args.checkpoints, req.Key())

			unlock, err := cmdutil.LockCheckpoint(checkpoint)
			if err != nil {
				return err
			}
			defer unlock()

			if err := cmdutil.CheckRegistrable(checkpoint); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt)
			defer cancel()

			clients, err := cmdutil.Connect(ctx, cfg, true, workflow.Options{
				OnTransition: cmdutil.SaveCheckpoints(checkpoint),
			})
			if err != nil {
				return err
			}
			defer clients.Close()

			res, err := clients.Workflow.Register(ctx, req)
			if err != nil {
				return cmdutil.Failed(err, checkpoint)
			}

			if args.json {
				return cmdutil.PrintJSON(res)
			}
			cmdutil.PrintResult(res, cfg.Gateway)
			return nil
		},
	}
}
