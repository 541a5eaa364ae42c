// Package cli builds the orderline command line: a single root command
// that submits N orders into a Pipeline, shuts it down gracefully, and
// prints the resulting metrics.
package cli

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ChuLiYu/orderline/internal/order"
	"github.com/ChuLiYu/orderline/internal/pipeline"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Config is the YAML-loadable shape of a pipeline.Config, mirrored field
// for field so a config file can override any of the Configuration
// record's fields without the CLI needing its own flag per field.
type Config struct {
	QInCapacity      int `yaml:"q_in_capacity"`
	QPrepareCapacity int `yaml:"q_prepare_capacity"`
	QPackCapacity    int `yaml:"q_pack_capacity"`

	PrepareWorkers int `yaml:"prepare_workers"`
	PackWorkers    int `yaml:"pack_workers"`
	DeliverWorkers int `yaml:"deliver_workers"`

	PushTimeoutMs int `yaml:"push_timeout_ms"`
	PopTimeoutMs  int `yaml:"pop_timeout_ms"`
}

func (c Config) toPipelineConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	if c.QInCapacity > 0 {
		cfg.QInCapacity = c.QInCapacity
	}
	if c.QPrepareCapacity > 0 {
		cfg.QPrepareCapacity = c.QPrepareCapacity
	}
	if c.QPackCapacity > 0 {
		cfg.QPackCapacity = c.QPackCapacity
	}
	if c.PrepareWorkers > 0 {
		cfg.PrepareWorkers = c.PrepareWorkers
	}
	if c.PackWorkers > 0 {
		cfg.PackWorkers = c.PackWorkers
	}
	if c.DeliverWorkers > 0 {
		cfg.DeliverWorkers = c.DeliverWorkers
	}
	if c.PushTimeoutMs > 0 {
		cfg.PushTimeout = time.Duration(c.PushTimeoutMs) * time.Millisecond
	}
	if c.PopTimeoutMs > 0 {
		cfg.PopTimeout = time.Duration(c.PopTimeoutMs) * time.Millisecond
	}
	return cfg
}

var configFile string

// BuildCLI returns the orderline root command: run with a positional N
// (default 500) to submit N orders, shut down gracefully, and print
// Accepted/Processed/Delivered counts and total processing time.
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "orderline [N]",
		Short: "orderline: a bounded, backpressure-aware order pipeline",
		Long: `orderline submits N orders through a three-stage pipeline
(prepare, pack, deliver), backed by bounded blocking queues and worker
pools per stage, then shuts down gracefully and reports the result.`,
		Version: "1.0.0",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n := 500
			if len(args) == 1 {
				parsed, err := strconv.Atoi(args[0])
				if err != nil || parsed < 0 {
					return fmt.Errorf("invalid order count %q: must be a non-negative integer", args[0])
				}
				n = parsed
			}
			return run(n, cmd)
		},
	}

	rootCmd.Flags().StringVarP(&configFile, "config", "c", "", "optional YAML config file overriding queue/worker/timeout defaults")

	return rootCmd
}

func run(n int, cmd *cobra.Command) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	p := pipeline.New(cfg)
	if err := p.Start(); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	start := time.Now()

	accepted := 0
	for i := int64(1); i <= int64(n); i++ {
		if p.Submit(order.New(i)) {
			accepted++
		}
	}

	p.Shutdown()
	elapsed := time.Since(start)

	m := p.Metrics()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Accepted: %d\n", accepted)
	fmt.Fprintf(out, "Processed: %d\n", m.PackedCount)
	fmt.Fprintf(out, "Delivered: %d\n", m.DeliveredCount)
	fmt.Fprintf(out, "Total processing time (ms): %d\n", elapsed.Milliseconds())

	return nil
}

// loadConfig returns pipeline.DefaultConfig() when path is empty,
// otherwise reads and merges a YAML override file on top of the
// defaults.
func loadConfig(path string) (pipeline.Config, error) {
	if path == "" {
		return pipeline.DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return pipeline.Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return pipeline.Config{}, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	return c.toPipelineConfig(), nil
}
