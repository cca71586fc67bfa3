package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/juanpablocruz/merklediff/internal/config"
	"github.com/juanpablocruz/merklediff/internal/logging"
	"github.com/juanpablocruz/merklediff/pkg/digest"
	"github.com/juanpablocruz/merklediff/pkg/metrics"
	"github.com/juanpablocruz/merklediff/pkg/node"
	"github.com/juanpablocruz/merklediff/pkg/source"
	"github.com/juanpablocruz/merklediff/pkg/syncproto"
	"github.com/juanpablocruz/merklediff/pkg/transport"
)

const defaultDialTimeout = 10 * time.Second

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	v := viper.New()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return config.Config{}, err
	}
	return config.Load(v)
}

func runCompare(cmd *cobra.Command, e *env, path string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := logging.New(cmd.ErrOrStderr(), cfg.Verbose, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	fail := func(err error) error {
		logger.Error("merklediff failed", zap.Error(err))
		return &ExitError{Code: ExitFailure, Err: err}
	}

	d, err := digest.ByName(cfg.Digest)
	if err != nil {
		return fail(err)
	}
	src, err := source.Open(e.fs, path)
	if err != nil {
		return fail(fmt.Errorf("%w: %w", syncproto.ErrIO, err))
	}
	defer src.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	summary := metrics.NewSummary()
	observers := metrics.Multi{summary}
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		observers = append(observers, metrics.NewCollector(reg))
		addr, _, err := metrics.Serve(ctx, cfg.MetricsAddr, reg)
		if err != nil {
			return fail(fmt.Errorf("metrics listener: %w", err))
		}
		logger.Info("serving metrics", zap.String("addr", addr.String()))
	}

	role := "client"
	if cfg.IsServer() {
		role = "server"
	}
	opts := []node.NodeOption{
		node.WithBlockSize(cfg.BlockSize),
		node.WithDigest(d),
		node.WithCoarseOnly(cfg.CoarseOnly),
		node.WithWorkers(cfg.Workers),
		node.WithObserver(observers),
		node.WithLogger(logger),
	}
	var bar *progressbar.ProgressBar
	if cfg.Progress {
		bar = newProgressBar(cmd, src.Size())
		opts = append(opts, node.WithProgress(func(n int64) { _ = bar.Add64(n) }))
	}
	nd := node.New(role, opts...)
	logger.Debug("starting",
		zap.String("file", src.Name()),
		zap.Int64("size", src.Size()),
		zap.Int64("block_size", cfg.BlockSize),
		zap.String("digest", d.Name()))

	var res syncproto.Result
	if cfg.IsServer() {
		var ln *transport.TCPListener
		ln, err = transport.ListenTCP(ctx, cfg.Addr())
		if err != nil {
			return fail(fmt.Errorf("%w: listen: %w", syncproto.ErrIO, err))
		}
		defer ln.Close()
		res, err = nd.Serve(ctx, ln, src)
	} else {
		res, err = nd.Dial(ctx, cfg.Addr(), src, transport.WithDialTimeout(cfg.DialTimeout))
	}
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		return &ExitError{Code: ExitFailure, Err: err}
	}

	coarse := summary.Coarse()
	fine, phases := summary.Fine()
	logger.Debug("coarse phase", zap.Stringer("metrics", &coarse))
	if phases > 0 {
		logger.Debug("fine phases", zap.Int("count", phases), zap.Stringer("metrics", &fine))
	}
	logger.Debug("digests exchanged", zap.Int("exchanges", summary.Exchanges()))

	if err := WriteResult(cmd.OutOrStdout(), res, cfg.CoarseOnly); err != nil {
		return fail(err)
	}
	if cfg.ExitCode && !res.Identical() {
		return &ExitError{Code: ExitDiffers}
	}
	return nil
}

func newProgressBar(cmd *cobra.Command, total int64) *progressbar.ProgressBar {
	return progressbar.NewOptions64(
		total,
		progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		progressbar.OptionSetDescription("hashing"),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(120*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}
