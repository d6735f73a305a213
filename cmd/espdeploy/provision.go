package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"espdeploy/internal/assets"
	"espdeploy/internal/domain"
	"espdeploy/internal/orchestrator"
	"espdeploy/internal/serial"
	"espdeploy/internal/watcher"
)

var provisionFlags struct {
	config bool
	html   bool
	watch  bool
}

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Push wifi_config.json and arduino.html to the board over serial",
	Long: `Push the prepared assets to the board's filesystem over the serial link.
Without --config or --html both files are sent. With --watch the command keeps
running and re-sends a file each time it changes on disk.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		req := orchestrator.ProvisionRequest{
			Port:   theApp.cfg.Serial.Port,
			Config: provisionFlags.config,
			HTML:   provisionFlags.html,
		}
		if !req.Config && !req.HTML {
			req.Config, req.HTML = true, true
		}
		if req.Port == "" {
			port, err := serial.Finder{}.Find()
			if err != nil {
				return err
			}
			req.Port = port
		}

		o, err := theApp.orchestrator()
		if err != nil {
			return err
		}
		sessions, err := o.Provision(ctx, req)
		for _, s := range sessions {
			orchestrator.RenderUpload(theApp.out, s, theApp.palette)
		}
		if err != nil {
			return err
		}

		if !provisionFlags.watch {
			return nil
		}
		return watchAssets(ctx, req)
	},
}

// watchAssets re-uploads each selected asset when it changes. The port is
// only claimed while an upload runs, so the monitor can share it in between.
func watchAssets(ctx context.Context, req orchestrator.ProvisionRequest) error {
	m := theApp.assets()
	p := theApp.provisioner()

	var paths []string
	if req.Config {
		paths = append(paths, m.ConfigPath())
	}
	if req.HTML {
		paths = append(paths, m.HTMLPath())
	}

	upload := func(ctx context.Context, path string) error {
		var (
			session *domain.UploadSession
			err     error
		)
		switch filepath.Base(path) {
		case assets.ConfigFile:
			session, err = p.UploadConfig(ctx, req.Port, path)
		case assets.HTMLFile:
			session, err = p.UploadHTML(ctx, req.Port, path)
		default:
			return fmt.Errorf("unexpected asset %s", path)
		}
		if session != nil {
			orchestrator.RenderUpload(theApp.out, session, theApp.palette)
		}
		return err
	}

	fmt.Fprintf(theApp.out, "Watching %d file(s), Ctrl-C to stop\n", len(paths))
	err := watcher.New(paths, upload, theApp.log.WithName("watch")).Watch(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func init() {
	f := provisionCmd.Flags()
	f.BoolVar(&provisionFlags.config, "config", false, "push wifi_config.json")
	f.BoolVar(&provisionFlags.html, "html", false, "push arduino.html")
	f.BoolVarP(&provisionFlags.watch, "watch", "w", false, "re-send files when they change")
	f.String("handshake", "", "upload handshake: delay or ack")
	f.Int("chunk-size", 0, "payload bytes per chunk")
	bind(f, map[string]string{
		"serial.handshake":  "handshake",
		"serial.chunk_size": "chunk-size",
	})
}
