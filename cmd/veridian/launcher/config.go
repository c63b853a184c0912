package launcher

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Fantom-foundation/lachesis-base/inter/idx"
	"gopkg.in/urfave/cli.v1"

	"github.com/veridian-network/go-veridian/backend"
	"github.com/veridian-network/go-veridian/integration"
)

// Config aggregates everything the launcher needs to assemble a node.
type Config struct {
	Node    NodeConfig
	Network NetworkConfig
	Logging LoggingConfig
	Core    integration.Config
}

// NodeConfig holds the local instance settings.
type NodeConfig struct {
	DataDir string
	Name    string
	CacheMB int
	Handles int
}

// NetworkConfig selects the network the node joins.
type NetworkConfig struct {
	FakeNet     bool
	FakeNetSize int
}

// LoggingConfig controls log verbosity, format and error reporting.
type LoggingConfig struct {
	Verbosity int
	Format    string
	Color     bool
	SentryDSN string
}

func defaultConfig() Config {
	home := GuessHomeDir()
	cfg := Config{
		Node: NodeConfig{
			DataDir: filepath.Join(home, ".veridian"),
			Name:    "veridian",
			CacheMB: 1024,
			Handles: 512,
		},
		Logging: LoggingConfig{
			Verbosity: 3,
			Format:    "text",
			Color:     true,
		},
		Core: integration.ValidatorConfig(),
	}
	cfg.Core.Backend = backend.DefaultConfig(filepath.Join(cfg.Node.DataDir, "blobs"))
	return cfg
}

// MakeAllConfigs merges defaults, the optional config file and CLI flag
// overrides into a single config.
func MakeAllConfigs(ctx *cli.Context) (Config, error) {
	cfg := defaultConfig()

	if file := ctx.String("config"); file != "" {
		if err := loadConfigFile(file, &cfg); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", file, err)
		}
	}
	applyCLIOverrides(ctx, &cfg)

	if !ctx.IsSet("backend.dir") && cfg.Core.Backend.Root == "" {
		cfg.Core.Backend.Root = filepath.Join(cfg.Node.DataDir, "blobs")
	}
	if err := ensureDir(cfg.Node.DataDir); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadConfigFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	return dec.Decode(cfg)
}

func applyCLIOverrides(ctx *cli.Context, cfg *Config) {
	if ctx.IsSet("datadir") {
		cfg.Node.DataDir = resolvePath(ctx.String("datadir"))
	}
	if ctx.IsSet("identity") {
		cfg.Node.Name = ctx.String("identity")
	}
	if ctx.IsSet("cache") {
		cfg.Node.CacheMB = ctx.Int("cache")
	}
	if ctx.IsSet("workers") {
		cfg.Core.Executor.OwnedWorkers = ctx.Int("workers")
	}

	if ctx.IsSet("log.format") {
		cfg.Logging.Format = ctx.String("log.format")
	}
	if ctx.IsSet("log.verbosity") {
		cfg.Logging.Verbosity = ctx.Int("log.verbosity")
	}
	if ctx.IsSet("log.color") {
		cfg.Logging.Color = ctx.Bool("log.color")
	}
	if ctx.IsSet("sentry.dsn") {
		cfg.Logging.SentryDSN = ctx.String("sentry.dsn")
	}

	if ctx.IsSet("fakenet") {
		cfg.Network.FakeNet = true
		cfg.Network.FakeNetSize = ctx.Int("fakenet")
	}

	lc := &cfg.Core.Lifecycle
	if ctx.IsSet("retention.epochs") {
		lc.Retention.NumEpochsToRetain = idx.Epoch(ctx.Uint64("retention.epochs"))
	}
	if ctx.IsSet("retention.checkpoints.epochs") {
		lc.Retention.NumEpochsToRetainForCheckpoints = idx.Epoch(ctx.Uint64("retention.checkpoints.epochs"))
	}
	lc.Pruning.Enabled = ctx.BoolT("pruning")
	if ctx.IsSet("pruning.delay") {
		lc.Pruning.RunDelay = ctx.Duration("pruning.delay")
	}
	if ctx.IsSet("pruning.batch.txs") {
		lc.Pruning.MaxTransactionsInBatch = ctx.Int("pruning.batch.txs")
		lc.Pruning.MaxLogEntriesInBatch = ctx.Int("pruning.batch.txs")
	}
	if ctx.Bool("snapshot") {
		lc.Snapshot.Enabled = true
	}
	if ctx.IsSet("snapshot.period") {
		lc.Snapshot.Period = idx.Epoch(ctx.Uint64("snapshot.period"))
	}
	lc.Snapshot.UseForPruningWatermark = ctx.BoolT("snapshot.watermark")
	if ctx.Bool("archive") {
		lc.Archive.Enabled = true
	}
	lc.Archive.UseForPruningWatermark = ctx.BoolT("archive.watermark")
	if ctx.Bool("dbcheckpoint") {
		lc.DBCheckpoint.Enabled = true
	}
	if ctx.IsSet("dbcheckpoint.period") {
		lc.DBCheckpoint.Period = idx.Epoch(ctx.Uint64("dbcheckpoint.period"))
	}
	lc.DBCheckpoint.Compact = ctx.BoolT("dbcheckpoint.compact")

	if ctx.IsSet("backend.kind") {
		cfg.Core.Backend.Kind = backend.Kind(ctx.String("backend.kind"))
	}
	if ctx.IsSet("backend.dir") {
		cfg.Core.Backend.Root = resolvePath(ctx.String("backend.dir"))
	}
	if ctx.IsSet("s3.endpoint") {
		cfg.Core.Backend.S3.Endpoint = ctx.String("s3.endpoint")
	}
	if ctx.IsSet("s3.bucket") {
		cfg.Core.Backend.S3.Bucket = ctx.String("s3.bucket")
	}
	if ctx.IsSet("s3.accesskey") {
		cfg.Core.Backend.S3.AccessKey = ctx.String("s3.accesskey")
	}
	if ctx.IsSet("s3.secretkey") {
		cfg.Core.Backend.S3.SecretKey = ctx.String("s3.secretkey")
	}
	cfg.Core.Backend.S3.Secure = ctx.BoolT("s3.secure")
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create datadir %s: %w", dir, err)
	}
	return nil
}

func resolvePath(p string) string {
	if strings.HasPrefix(p, "~") {
		return filepath.Join(GuessHomeDir(), strings.TrimPrefix(p, "~"))
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(GuessWorkDir(), p)
}

func GuessWorkDir() string {
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return "."
}

func GuessHomeDir() string {
	if dir, err := os.UserHomeDir(); err == nil {
		return dir
	}
	return "."
}
