package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"espdeploy/internal/orchestrator"
	"espdeploy/internal/toolchain"
)

var deployFlags struct {
	board     string
	config    bool
	html      bool
	provision bool
	browser   bool
	monitor   bool
}

var deployCmd = &cobra.Command{
	Use:   "deploy SKETCH",
	Short: "Compile and flash a sketch, then find, test and provision the board",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		o, err := theApp.orchestrator()
		if err != nil {
			return err
		}

		board := deployBoard(args[0])
		req := orchestrator.Request{
			Sketch:          args[0],
			Board:           board,
			Port:            theApp.cfg.Serial.Port,
			ProvisionConfig: deployFlags.config || deployFlags.provision,
			ProvisionHTML:   deployFlags.html || deployFlags.provision,
			OpenBrowser:     deployFlags.browser,
		}

		report, runErr := o.Run(ctx, req)
		if report != nil {
			if err := theApp.printReport(ctx, report); err != nil {
				return err
			}
		}
		if runErr != nil {
			return runErr
		}

		if deployFlags.monitor {
			fmt.Fprintf(theApp.out, "\nSerial monitor on %s, Ctrl-C to stop\n", report.Port)
			if err := o.Monitor(ctx, report.Port, board, os.Stdout); err != nil {
				return err
			}
		}

		if !report.Succeeded() {
			return errUnsuccessful("")
		}
		return nil
	},
}

// deployBoard resolves --board, then the config, then the sketch name
func deployBoard(sketch string) toolchain.Board {
	if deployFlags.board != "" {
		return toolchain.LookupBoard(deployFlags.board)
	}
	if b, ok := theApp.cfg.Board(); ok {
		return b
	}
	return toolchain.DetectBoard(sketch)
}

func init() {
	f := deployCmd.Flags()
	f.StringVarP(&deployFlags.board, "board", "b", "", "board key or FQBN (see `espdeploy boards`)")
	f.BoolVar(&deployFlags.config, "upload-config", false, "push wifi_config.json after a successful test")
	f.BoolVar(&deployFlags.html, "upload-html", false, "push arduino.html after a successful test")
	f.BoolVarP(&deployFlags.provision, "provision", "P", false, "push both assets")
	f.BoolVar(&deployFlags.browser, "browser", false, "open the device page when it is fully functional")
	f.BoolVarP(&deployFlags.monitor, "monitor", "m", false, "stream serial output after the report")
	f.String("report", "", "export the report to this file (.json or .yaml)")
	f.String("mqtt-broker", "", "publish the report to this MQTT broker, e.g. tcp://localhost:1883")
	f.Duration("boot-wait", 0, "time the board gets to join WiFi after flashing")
	bind(f, map[string]string{
		"report.path":         "report",
		"report.mqtt.broker":  "mqtt-broker",
		"toolchain.boot_wait": "boot-wait",
	})
}
