package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wholesum/bazaar/cmd"
	"github.com/wholesum/bazaar/config"
	"github.com/wholesum/bazaar/engine/client"
	"github.com/wholesum/bazaar/module/metrics"
	"github.com/wholesum/bazaar/module/prover"
	"github.com/wholesum/bazaar/network/p2p/unicast"
	"github.com/wholesum/bazaar/storage/datastore"
)

func main() {
	os.Exit(cmd.Execute(rootCommand()))
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "bazaar-client",
		Short: "Announce a proving job on the compute bazaar and collect its proofs",
		Args:  cobra.NoArgs,
		RunE:  run,
	}
	flags := root.Flags()
	cmd.InitializeFlags(flags)
	flags.String("job", "", "path of the job specification file")
	flags.Uint32("budget", 0, "budget offered per item, overrides the job file when set")
	flags.Duration("heartbeat", client.MinHeartbeatInterval, "interval between announcements of the job needs")
	flags.String("snapshot", "", "directory of the job progress snapshot, disabled when empty")
	flags.String("prover-bin", "bazaar-prover", "prover executable used to verify receipts")
	flags.String("scratch", "", "directory for prover temporary files, the system default when empty")
	flags.Int("verify-workers", client.DefaultConfig().VerifyWorkers, "number of receipts verified concurrently")
	return root
}

func run(c *cobra.Command, _ []string) error {
	b, err := cmd.NewNodeBuilder("client", c.Flags())
	if err != nil {
		return err
	}
	v := b.Viper

	spec, err := config.LoadJobSpec(v.GetString("job"))
	if err != nil {
		return err
	}
	if budget := v.GetUint32("budget"); budget > 0 {
		spec.Budget = budget
	}

	cfg := client.DefaultConfig()
	cfg.HeartbeatInterval = v.GetDuration("heartbeat")
	cfg.VerifyWorkers = v.GetInt("verify-workers")
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid client configuration: %w", err)
	}

	store, err := b.ContentStore(context.Background())
	if err != nil {
		return err
	}
	verifier, err := prover.NewExecEngine(b.Logger, v.GetString("prover-bin"), v.GetString("scratch"))
	if err != nil {
		return err
	}

	var opts []client.Option
	if path := v.GetString("snapshot"); path != "" {
		mgr, err := b.Datastore(datastore.Badger, path)
		if err != nil {
			return err
		}
		opts = append(opts, client.WithSnapshotStore(mgr.Datastore()))
	}

	if err := b.BuildNetwork(false); err != nil {
		return err
	}
	engine, err := client.New(b.Logger, cfg, spec, b.Node, b.Scorer, store, verifier, metrics.NewClientCollector(b.Registry), opts...)
	if err != nil {
		return err
	}
	if _, err := b.Unicast(unicast.WithHandler(engine.HandleRequest)); err != nil {
		return err
	}
	b.Component(engine)

	b.Logger.Info().Str("job_id", spec.ID).Uint32("segments", spec.NumSegments).Msg("announcing job")
	if err := b.Build().Run(engine.Finished()); err != nil {
		return err
	}
	result, ok := engine.Result()
	if !ok {
		b.Logger.Warn().Str("job_id", spec.ID).Msg("interrupted before the job completed")
		return nil
	}
	fmt.Println(result)
	return nil
}
