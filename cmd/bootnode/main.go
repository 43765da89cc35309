package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/wholesum/bazaar/cmd"
)

func main() {
	os.Exit(cmd.Execute(rootCommand()))
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "bazaar-bootnode",
		Short: "Run a Kademlia bootnode for the compute bazaar",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			b, err := cmd.NewNodeBuilder("bootnode", c.Flags())
			if err != nil {
				return err
			}
			if err := b.BuildNetwork(true); err != nil {
				return err
			}
			return b.Build().Run(nil)
		},
	}
	cmd.InitializeFlags(root.Flags())
	return root
}
