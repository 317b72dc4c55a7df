package engine

import (
	"fmt"
	"log/slog"

	"github.com/INLOpen/nexuswal/compressors"
	"github.com/INLOpen/nexuswal/config"
	"github.com/INLOpen/nexuswal/wal"
)

// OptionsFromConfig translates the engine section of cfg into Options.
// Tracing, hooks and the logger are left for the caller.
func OptionsFromConfig(cfg *config.Config, logger *slog.Logger) (Options, error) {
	walCfg := cfg.Engine.WAL
	if err := walCfg.Validate(); err != nil {
		return Options{}, err
	}
	var walOpts wal.Options
	if walCfg.Compression != "" && walCfg.Compression != "none" {
		c, err := compressors.ForName(walCfg.Compression)
		if err != nil {
			return Options{}, fmt.Errorf("invalid engine.wal.compression: %w", err)
		}
		walOpts.Compressor = c
	}
	walOpts.BufferSize = int(walCfg.BufferSizeBytes)
	walOpts.QueueCapacity = walCfg.QueueCapacity
	walOpts.FsyncDelay = config.ParseDuration(walCfg.FsyncDelay, config.DefaultWALFsyncDelay, logger)
	walOpts.FileSizeThreshold = walCfg.FileSizeThresholdBytes
	walOpts.Preallocate = walCfg.Preallocate
	walOpts.ShutdownTimeout = config.ParseDuration(walCfg.ShutdownTimeout, config.DefaultWALShutdownTimeout, logger)
	walOpts.CheckMemory = walCfg.CheckMemory

	return Options{
		DataDir:        cfg.Engine.DataDir,
		Regions:        cfg.Engine.Regions,
		WAL:            walOpts,
		WriteTimeout:   config.ParseDuration(cfg.Engine.WriteTimeout, 0, logger),
		PublishMetrics: cfg.Debug.MetricsEnabled,
		MetricsPrefix:  "nexuswal_",
		Logger:         logger,
	}, nil
}
