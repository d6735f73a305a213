package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"espdeploy/internal/assets"
)

var assetsCmd = &cobra.Command{
	Use:   "assets",
	Short: "Prepare and check the files pushed to the board",
}

var assetsInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create missing assets in the data directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		prepared, err := theApp.assets().Prepare()
		if err != nil {
			return err
		}
		for _, path := range prepared.Created {
			fmt.Fprintf(theApp.out, "created %s\n", path)
		}
		if len(prepared.Created) == 0 {
			fmt.Fprintln(theApp.out, "all assets present")
		}
		if prepared.Fallback {
			fmt.Fprintln(theApp.out, "arduino.html is the built-in fallback page")
		}
		return nil
	},
}

var assetsValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the assets before provisioning",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		issues, err := theApp.assets().Validate()
		for _, issue := range issues {
			fmt.Fprintf(theApp.out, "%s %s\n", theApp.palette.Mark(!issue.Fatal), issue)
		}
		if err != nil {
			fmt.Fprintln(theApp.out)
			for _, line := range assets.Troubleshooting() {
				fmt.Fprintln(theApp.out, line)
			}
			return errUnsuccessful("")
		}
		if len(issues) == 0 {
			fmt.Fprintf(theApp.out, "%s assets ready\n", theApp.palette.Mark(true))
		}
		return nil
	},
}

func init() {
	assetsCmd.AddCommand(assetsInitCmd, assetsValidateCmd)
}
