// Package launcher parses the CLI, assembles the node stack and runs it
// until interrupted.
package launcher

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/Fantom-foundation/lachesis-base/kvdb/leveldb"
	"github.com/evalphobia/logrus_sentry"
	"github.com/sirupsen/logrus"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/veridian-network/go-veridian/epochs"
	"github.com/veridian-network/go-veridian/flags"
	"github.com/veridian-network/go-veridian/integration"
)

var app = flags.NewApp()

func init() {
	app.Flags = flags.AllFlags()
	app.Action = run
}

// Launch runs the node CLI with the given arguments.
func Launch(args []string) error {
	return app.Run(args)
}

func run(ctx *cli.Context) error {
	cfg, err := MakeAllConfigs(ctx)
	if err != nil {
		return err
	}
	if err := setupLogging(cfg.Logging); err != nil {
		return err
	}
	log := logrus.WithField("module", "launcher")

	genesis, err := makeGenesis(cfg)
	if err != nil {
		return err
	}

	chaindataDir := filepath.Join(cfg.Node.DataDir, "chaindata")
	dbs := leveldb.NewProducer(chaindataDir, func(string) (int, int) {
		return cfg.Node.CacheMB * 1024 * 1024 / 8, cfg.Node.Handles
	})

	stack, err := integration.MakeStack(dbs, cfg.Core, genesis, integration.FakeVM{})
	if err != nil {
		return err
	}
	if err := stack.Start(context.Background()); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"datadir": cfg.Node.DataDir,
		"epoch":   stack.Epochs.CurrentEpoch(),
	}).Info("Node started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("Shutting down")
	return stack.Stop()
}

// makeGenesis builds the first-start epoch context. Only the local fake
// network can bootstrap itself; public networks restore from an existing
// data directory.
func makeGenesis(cfg Config) (epochs.Context, error) {
	if cfg.Network.FakeNet {
		size := cfg.Network.FakeNetSize
		if size < 1 {
			size = 1
		}
		return integration.FakeGenesis(size)
	}
	if _, err := os.Stat(filepath.Join(cfg.Node.DataDir, "chaindata")); err == nil {
		return epochs.Context{}, nil
	}
	return epochs.Context{}, errors.New("no chain state found; bootstrap a local network with --fakenet")
}

func setupLogging(cfg LoggingConfig) error {
	levels := []logrus.Level{
		logrus.FatalLevel,
		logrus.ErrorLevel,
		logrus.WarnLevel,
		logrus.InfoLevel,
		logrus.DebugLevel,
		logrus.TraceLevel,
	}
	v := cfg.Verbosity
	if v < 0 {
		v = 0
	}
	if v >= len(levels) {
		v = len(levels) - 1
	}
	logrus.SetLevel(levels[v])

	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			ForceColors:   cfg.Color,
			FullTimestamp: true,
		})
	}

	if cfg.SentryDSN != "" {
		hook, err := logrus_sentry.NewAsyncSentryHook(cfg.SentryDSN, []logrus.Level{
			logrus.PanicLevel,
			logrus.FatalLevel,
			logrus.ErrorLevel,
		})
		if err != nil {
			return err
		}
		hook.StacktraceConfiguration.Enable = true
		logrus.AddHook(hook)
	}
	return nil
}
