package device

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"espdeploy/internal/domain"
	"espdeploy/internal/probe"
)

// Action is an output control command
type Action string

const (
	ActionOn     Action = "on"
	ActionOff    Action = "off"
	ActionToggle Action = "toggle"
)

// ParseAction validates a user supplied action
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionOn, ActionOff, ActionToggle:
		return a, nil
	default:
		return "", &domain.ConfigurationError{What: fmt.Sprintf("unknown action %q (want on, off or toggle)", s)}
	}
}

// inspectPaths are read-only endpoints probed during inspection
var inspectPaths = []string{domain.PathRoot, domain.PathStatus, domain.PathSystem, domain.PathWiFi}

// Controller drives a device's LED and relay and reads its info endpoints
type Controller struct {
	engine     *probe.Engine
	identifier *Identifier
	opts       probe.HTTPOptions
}

// NewController creates a controller
func NewController(engine *probe.Engine, identifier *Identifier, opts probe.HTTPOptions) *Controller {
	return &Controller{engine: engine, identifier: identifier, opts: opts}
}

// LED switches the on-board LED and returns the device's reply
func (c *Controller) LED(ctx context.Context, addr domain.NetworkAddress, action Action) (string, error) {
	return c.control(ctx, addr, "led", action)
}

// Relay switches the relay output and returns the device's reply
func (c *Controller) Relay(ctx context.Context, addr domain.NetworkAddress, action Action) (string, error) {
	return c.control(ctx, addr, "relay", action)
}

func (c *Controller) control(ctx context.Context, addr domain.NetworkAddress, output string, action Action) (string, error) {
	if _, err := ParseAction(string(action)); err != nil {
		return "", err
	}
	resp, err := c.engine.Get(ctx, addr.URL("/"+output+"/"+string(action)), c.opts)
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", output, action, err)
	}
	return strings.TrimSpace(string(resp.Body)), nil
}

// System returns the decoded /api/system document
func (c *Controller) System(ctx context.Context, addr domain.NetworkAddress) (map[string]any, error) {
	return c.document(ctx, addr, domain.PathSystem)
}

// WiFi returns the decoded /api/wifi document
func (c *Controller) WiFi(ctx context.Context, addr domain.NetworkAddress) (map[string]any, error) {
	return c.document(ctx, addr, domain.PathWiFi)
}

func (c *Controller) document(ctx context.Context, addr domain.NetworkAddress, path string) (map[string]any, error) {
	resp, err := c.engine.Get(ctx, addr.URL(path), c.opts)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(resp.Body, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return doc, nil
}

// Inspect confirms the device and records which read-only endpoints answer.
// Control endpoints are not touched so inspection never changes device state.
func (c *Controller) Inspect(ctx context.Context, addr domain.NetworkAddress) (*domain.DeviceRecord, error) {
	id, err := c.identifier.Identify(ctx, addr)
	if err != nil {
		return nil, err
	}

	rec := id.Record
	opts := c.opts
	opts.Attempts = 1
	for _, path := range inspectPaths {
		if rec.HasEndpoint(path) {
			continue
		}
		if _, err := c.engine.Get(ctx, addr.URL(path), opts); err == nil {
			rec.AddEndpoint(path)
		}
	}
	return rec, nil
}
