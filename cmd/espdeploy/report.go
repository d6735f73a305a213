package main

import (
	"github.com/spf13/cobra"

	"espdeploy/internal/codec"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Work with exported deployment reports",
}

var reportShowCmd = &cobra.Command{
	Use:   "show FILE",
	Short: "Render an exported report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := codec.ImportFile(args[0])
		if err != nil {
			return err
		}
		return theApp.printReport(cmd.Context(), report)
	},
}

var reportConvertCmd = &cobra.Command{
	Use:   "convert IN OUT",
	Short: "Re-export a report, the OUT extension picks JSON or YAML",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := codec.ImportFile(args[0])
		if err != nil {
			return err
		}
		return codec.ExportFile(report, args[1])
	},
}

func init() {
	reportCmd.AddCommand(reportShowCmd, reportConvertCmd)
}
