package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"espdeploy/internal/config"
	"espdeploy/internal/discovery"
	"espdeploy/internal/netenv"
	"espdeploy/internal/serial"
)

var diagCmd = &cobra.Command{
	Use:   "diag",
	Short: "Show what espdeploy sees of this host, its network and toolchain",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := theApp.out
		p := theApp.palette

		path := configPath
		if path == "" {
			path = config.FindConfigPath()
		}
		if path != "" {
			fmt.Fprintf(out, "config     %s\n", path)
		} else {
			fmt.Fprintln(out, "config     none, defaults in use; searched:")
			for _, sp := range config.SearchPaths() {
				fmt.Fprintf(out, "           %s\n", sp)
			}
		}

		host := netenv.DetectHost()
		fmt.Fprintf(out, "sandbox    %s\n", host.Sandbox)
		for _, e := range host.Evidence {
			fmt.Fprintf(out, "           evidence: %s\n", e)
		}
		for _, h := range host.Hints {
			fmt.Fprintf(out, "           %s\n", h)
		}

		if gw, err := (netenv.SystemGateway{}).Gateway(); err != nil {
			fmt.Fprintf(out, "gateway    %s %v\n", p.Mark(false), err)
		} else {
			fmt.Fprintf(out, "gateway    %s\n", gw)
		}
		fmt.Fprintf(out, "subnets    %s\n", strings.Join(theApp.resolver().Prefixes(ctx), ", "))

		sweeper := discovery.NewNmapSweeper()
		fmt.Fprintf(out, "nmap       %s\n", p.Mark(sweeper.Available(ctx)))

		if version, err := theApp.toolchain().Version(ctx); err != nil {
			fmt.Fprintf(out, "toolchain  %s %v\n", p.Mark(false), err)
		} else {
			fmt.Fprintf(out, "toolchain  %s %s\n", p.Mark(true), version)
		}

		ports, err := serial.SystemLister{}.List()
		switch {
		case err != nil:
			fmt.Fprintf(out, "serial     %s %v\n", p.Mark(false), err)
		case len(ports) == 0:
			fmt.Fprintf(out, "serial     %s no ports\n", p.Mark(false))
		default:
			picked, _ := serial.Detect(ports)
			fmt.Fprintf(out, "serial     %d port(s), would use %s\n", len(ports), picked.Name)
		}
		return nil
	},
}
