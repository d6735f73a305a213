package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"espdeploy/internal/device"
	"espdeploy/internal/domain"
	"espdeploy/internal/orchestrator"
)

// parseTarget reads an address argument, applying discovery.port when the
// argument carries no port of its own
func parseTarget(s string) (domain.NetworkAddress, error) {
	addr, err := domain.ParseAddress(s)
	if err != nil {
		return addr, err
	}
	if !strings.Contains(s, ":") && theApp.cfg.Discovery.Port != 0 {
		addr = addr.WithPort(theApp.cfg.Discovery.Port)
	}
	return addr, nil
}

var testCmd = &cobra.Command{
	Use:   "test ADDRESS",
	Short: "Run the functional test matrix against a board",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := parseTarget(args[0])
		if err != nil {
			return err
		}
		res := theApp.tester().Test(cmd.Context(), addr)
		orchestrator.RenderTest(theApp.out, res, theApp.palette)
		if !res.IsFullyFunctional() {
			return errUnsuccessful("")
		}
		return nil
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect ADDRESS",
	Short: "Confirm a board's identity and show what it reports",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := parseTarget(args[0])
		if err != nil {
			return err
		}
		rec, err := theApp.controller().Inspect(cmd.Context(), addr)
		if err != nil {
			return err
		}
		fmt.Fprintln(theApp.out, addr.HostPort())
		orchestrator.RenderDevice(theApp.out, rec)
		return nil
	},
}

// outputCmd builds the led and relay commands around a controller method
func outputCmd(name string, drive func(*device.Controller, context.Context, domain.NetworkAddress, device.Action) (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:       name + " ADDRESS on|off|toggle",
		Short:     "Switch the board's " + name,
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{string(device.ActionOn), string(device.ActionOff), string(device.ActionToggle)},
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseTarget(args[0])
			if err != nil {
				return err
			}
			action, err := device.ParseAction(args[1])
			if err != nil {
				return err
			}
			reply, err := drive(theApp.controller(), cmd.Context(), addr, action)
			if err != nil {
				return err
			}
			fmt.Fprintln(theApp.out, strings.TrimSpace(reply))
			return nil
		},
	}
}

var (
	ledCmd   = outputCmd("led", (*device.Controller).LED)
	relayCmd = outputCmd("relay", (*device.Controller).Relay)
)

// openURL is replaced in tests
var openURL = orchestrator.OpenBrowser

var webCmd = &cobra.Command{
	Use:   "web ADDRESS",
	Short: "Open a board's web interface in the default browser",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := parseTarget(args[0])
		if err != nil {
			return err
		}
		url := addr.URL(domain.PathRoot)
		fmt.Fprintf(theApp.out, "Opening %s\n", url)
		return openURL(cmd.Context(), theApp.local, url)
	},
}
