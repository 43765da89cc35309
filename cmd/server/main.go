package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/wholesum/bazaar/cmd"
	"github.com/wholesum/bazaar/engine/server"
	"github.com/wholesum/bazaar/model/job"
	"github.com/wholesum/bazaar/module/metrics"
	"github.com/wholesum/bazaar/module/prover"
	"github.com/wholesum/bazaar/network"
)

func main() {
	os.Exit(cmd.Execute(rootCommand()))
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "bazaar-server",
		Short: "Execute proving work announced on the compute bazaar",
		Args:  cobra.NoArgs,
		RunE:  run,
	}
	defaults := server.DefaultConfig()
	var types []string
	for _, k := range defaults.ComputeTypes {
		types = append(types, k.String())
	}

	flags := root.Flags()
	cmd.InitializeFlags(flags)
	flags.Uint32("price-floor", defaults.PriceFloor, "lowest budget served")
	flags.StringSlice("compute-types", types, "layers executed (prove_and_lift, join, groth16)")
	flags.Int("workers", defaults.Workers, "number of items executed concurrently")
	flags.Int("queue-size", defaults.QueueSize, "number of items waiting for a worker before needs are skipped")
	flags.String("prover-bin", "bazaar-prover", "prover executable")
	flags.String("scratch", "", "directory for prover temporary files, the system default when empty")
	flags.Duration("abandon-after", defaults.AbandonAfter, "how long an item completed elsewhere keeps executing, at most 30s")
	flags.Duration("batch-window", defaults.BatchWindow, "period at which updates are sent to clients, at most 2s")
	return root
}

func run(c *cobra.Command, _ []string) error {
	b, err := cmd.NewNodeBuilder("server", c.Flags())
	if err != nil {
		return err
	}
	v := b.Viper

	cfg := server.DefaultConfig()
	cfg.PriceFloor = v.GetUint32("price-floor")
	cfg.Workers = v.GetInt("workers")
	cfg.QueueSize = v.GetInt("queue-size")
	cfg.AbandonAfter = v.GetDuration("abandon-after")
	cfg.BatchWindow = v.GetDuration("batch-window")
	cfg.ComputeTypes = nil
	for _, s := range v.GetStringSlice("compute-types") {
		k, err := job.ParseKind(s)
		if err != nil {
			return err
		}
		cfg.ComputeTypes = append(cfg.ComputeTypes, k)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	store, err := b.ContentStore(context.Background())
	if err != nil {
		return err
	}
	executor, err := prover.NewExecEngine(b.Logger, v.GetString("prover-bin"), v.GetString("scratch"))
	if err != nil {
		return err
	}

	if err := b.BuildNetwork(false); err != nil {
		return err
	}
	sub, err := b.Node.Subscribe(network.MarketplaceTopic)
	if err != nil {
		return err
	}
	svc, err := b.Unicast()
	if err != nil {
		return err
	}
	engine, err := server.New(b.Logger, cfg, svc, store, executor, metrics.NewWorkerCollector(b.Registry), server.WithNeedSource(sub))
	if err != nil {
		return err
	}
	b.Component(engine)

	b.Logger.Info().Strs("compute_types", v.GetStringSlice("compute-types")).Uint32("price_floor", cfg.PriceFloor).Msg("serving the marketplace")
	return b.Build().Run(nil)
}
