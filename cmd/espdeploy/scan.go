package main

import (
	"github.com/spf13/cobra"

	"espdeploy/internal/orchestrator"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Find boards running the expected firmware on the local network",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := theApp.orchestrator()
		if err != nil {
			return err
		}
		res, err := o.Discover(cmd.Context())
		if err != nil {
			return err
		}
		orchestrator.RenderScan(theApp.out, res, theApp.palette)
		if len(res.Devices) == 0 {
			return errUnsuccessful("")
		}
		return nil
	},
}
