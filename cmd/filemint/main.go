package main

import (
	"io"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/filemint/filemint/cmd/filemint/account"
	"github.com/filemint/filemint/cmd/filemint/balance"
	"github.com/filemint/filemint/cmd/filemint/register"
	"github.com/filemint/filemint/cmd/filemint/resume"
	"github.com/filemint/filemint/cmd/filemint/serve"
	"github.com/filemint/filemint/cmd/filemint/supply"
	"github.com/filemint/filemint/cmd/filemint/tx"
	"github.com/joho/godotenv"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	// Settings may come from a .env file in the working directory; real env vars win.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "filemint",
		Usage: "Pin files to IPFS, register them as FileTokens and reward their owners",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "verbosity",
				Usage:   "Logging verbosity: 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=trace",
				Value:   3,
				EnvVars: []string{"FILEMINT_VERBOSITY"},
			},
			&cli.BoolFlag{
				Name:    "log.json",
				Usage:   "Log as JSON",
				EnvVars: []string{"FILEMINT_LOG_JSON"},
			},
			&cli.StringFlag{
				Name:    "log.file",
				Usage:   "Also write logs to this file, rotated at 100MB",
				EnvVars: []string{"FILEMINT_LOG_FILE"},
			},
		},
		Before: func(c *cli.Context) error {
			setupLogging(c.Int("verbosity"), c.Bool("log.json"), c.String("log.file"))
			return nil
		},

		Commands: []*cli.Command{
			register.Register(),
			resume.Resume(),
			balance.Balance(),
			supply.Supply(),
			tx.Tx(),
			serve.Serve(),
			account.Account(),
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Crit("Command failed", "err", err)
	}
}

func setupLogging(verbosity int, json bool, file string) {
	level := log.FromLegacyLevel(verbosity)

	output := io.Writer(os.Stderr)
	useColor := (isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())) && os.Getenv("TERM") != "dumb"
	if file != "" {
		output = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   file,
			MaxSize:    100,
			MaxBackups: 10,
			Compress:   true,
		})
		useColor = false
	}
	if useColor {
		output = colorable.NewColorableStderr()
	}

	if json {
		log.SetDefault(log.NewLogger(log.JSONHandlerWithLevel(output, level)))
		return
	}
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(output, level, useColor)))
}
