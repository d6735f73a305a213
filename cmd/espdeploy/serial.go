package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"espdeploy/internal/serial"
	"espdeploy/internal/toolchain"
)

var monitorBoard string

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Stream the board's serial console until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		board := toolchain.LookupBoard(monitorBoard)
		if monitorBoard == "" {
			if b, ok := theApp.cfg.Board(); ok {
				board = b
			} else {
				board = toolchain.LookupBoard("nodemcuv2")
			}
		}

		o, err := theApp.orchestrator()
		if err != nil {
			return err
		}
		return o.Monitor(cmd.Context(), theApp.cfg.Serial.Port, board, os.Stdout)
	},
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports and show which one would be auto-selected",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := serial.SystemLister{}.List()
		if err != nil {
			return err
		}
		picked, err := serial.Detect(ports)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(theApp.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "\tPORT\tCHIP\tVID:PID\tPRODUCT")
		for _, p := range ports {
			mark := ""
			if p.Name == picked.Name {
				mark = "*"
			}
			ids := ""
			if p.USB {
				ids = p.VID + ":" + p.PID
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", mark, p.Name, p.Chip(), ids, p.Product)
		}
		return tw.Flush()
	},
}

var boardsCmd = &cobra.Command{
	Use:   "boards",
	Short: "List the board keys accepted by --board",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tw := tabwriter.NewWriter(theApp.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "KEY\tFQBN\tBAUD\tNAME")
		for _, b := range toolchain.Boards() {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", b.Key, b.FQBN, b.BaudRate(), b.Name)
		}
		return tw.Flush()
	},
}

func init() {
	monitorCmd.Flags().StringVarP(&monitorBoard, "board", "b", "", "board key or FQBN, picks the console baud rate")
}
