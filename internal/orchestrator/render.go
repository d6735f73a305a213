package orchestrator

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"espdeploy/internal/discovery"
	"espdeploy/internal/domain"
)

// Palette colors the report marks
type Palette struct {
	pass, fail, skip, head func(a ...interface{}) string
}

// NewPalette returns colored marks, or plain ones when plain is set
func NewPalette(plain bool) Palette {
	mk := func(attrs ...color.Attribute) func(a ...interface{}) string {
		c := color.New(attrs...)
		if plain {
			c.DisableColor()
		} else {
			c.EnableColor()
		}
		return c.SprintFunc()
	}
	return Palette{
		pass: mk(color.FgGreen),
		fail: mk(color.FgRed, color.Bold),
		skip: mk(color.FgYellow),
		head: mk(color.Bold),
	}
}

// Mark returns a check or a cross
func (p Palette) Mark(ok bool) string {
	if ok {
		return p.pass("✓")
	}
	return p.fail("✗")
}

func (p Palette) status(s domain.StageStatus) string {
	switch s {
	case domain.StagePassed:
		return p.pass("✓")
	case domain.StageFailed:
		return p.fail("✗")
	default:
		return p.skip("-")
	}
}

// Render writes a human readable report
func Render(w io.Writer, report *domain.Report, p Palette) {
	fmt.Fprintf(w, "%s %s\n", p.head("Deployment"), report.RunID)
	if report.Sketch != "" {
		fmt.Fprintf(w, "  sketch %s\n", report.Sketch)
	}
	if report.Board != "" {
		fmt.Fprintf(w, "  board  %s\n", report.Board)
	}
	if report.Port != "" {
		fmt.Fprintf(w, "  port   %s\n", report.Port)
	}
	fmt.Fprintln(w)

	for _, s := range report.Stages {
		line := fmt.Sprintf("  %s %-17s", p.status(s.Status), s.Name)
		if s.Status != domain.StageSkipped {
			line += fmt.Sprintf(" %8s", s.Duration.Round(time.Millisecond))
		}
		switch {
		case s.Error != "":
			line += "  " + s.Error
		case s.Detail != "":
			line += "  " + s.Detail
		}
		fmt.Fprintln(w, strings.TrimRight(line, " "))
		for _, g := range s.Guidance {
			fmt.Fprintf(w, "      %s\n", g)
		}
	}

	if report.Test != nil {
		fmt.Fprintln(w)
		RenderTest(w, report.Test, p)
	}

	if len(report.Uploads) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, p.head("Uploads"))
		for _, u := range report.Uploads {
			RenderUpload(w, u, p)
		}
	}

	passed, failed, skipped := report.Counts()
	fmt.Fprintln(w)
	summary := fmt.Sprintf("%d passed, %d failed, %d skipped", passed, failed, skipped)
	if !report.FinishedAt.IsZero() {
		summary += " in " + report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond).String()
	}
	if report.Succeeded() {
		fmt.Fprintf(w, "%s %s\n", p.pass("SUCCESS"), summary)
	} else {
		fmt.Fprintf(w, "%s %s\n", p.fail("FAILED"), summary)
	}
}

// RenderTest writes the functional matrix for one device
func RenderTest(w io.Writer, r *domain.TestResult, p Palette) {
	fmt.Fprintf(w, "%s %s\n", p.head("Device"), r.Address)
	if rec := r.DeviceStatus; rec != nil {
		RenderDevice(w, rec)
	}

	ping := fmt.Sprintf("  %s ping", p.Mark(r.PingSuccess))
	if r.PingSuccess {
		ping += fmt.Sprintf(" %s", r.PingLatency.Round(time.Millisecond))
	}
	fmt.Fprintln(w, ping)

	for _, e := range r.Endpoints() {
		line := fmt.Sprintf("  %s %-14s", p.Mark(e.Success), e.Path)
		if e.StatusCode != 0 {
			line += fmt.Sprintf(" %d", e.StatusCode)
		}
		if e.Attempts > 0 {
			line += fmt.Sprintf(" (%d attempt(s), %s)", e.Attempts, e.Latency.Round(time.Millisecond))
		}
		if e.Success && e.ValidJSON {
			line += " json"
		}
		fmt.Fprintln(w, line)
	}

	if r.IsFullyFunctional() {
		fmt.Fprintf(w, "  %s\n", p.pass("fully functional"))
	} else {
		fmt.Fprintf(w, "  %s\n", p.fail("not fully functional"))
	}
}

// RenderDevice writes what the device reports about itself
func RenderDevice(w io.Writer, rec *domain.DeviceRecord) {
	if rec.DeviceName != "" {
		fmt.Fprintf(w, "  name      %s\n", rec.DeviceName)
	}
	if rec.FirmwareVersion != "" {
		fmt.Fprintf(w, "  firmware  %s\n", rec.FirmwareVersion)
	}
	if rec.ChipID != "" {
		fmt.Fprintf(w, "  chip      %s\n", rec.ChipID)
	}
	if rec.UptimeSeconds > 0 {
		fmt.Fprintf(w, "  uptime    %s\n", Uptime(rec.UptimeSeconds))
	}
	if rec.FreeHeapBytes > 0 {
		fmt.Fprintf(w, "  free heap %s\n", humanize.IBytes(uint64(rec.FreeHeapBytes)))
	}
	if rec.WiFiRSSI != 0 {
		fmt.Fprintf(w, "  rssi      %d dBm\n", rec.WiFiRSSI)
	}
	fmt.Fprintf(w, "  led %s, relay %s, analog %d\n", onOff(rec.LEDState), onOff(rec.RelayState), rec.AnalogValue)
	if len(rec.Endpoints) > 0 {
		fmt.Fprintf(w, "  endpoints %s\n", strings.Join(rec.Endpoints, " "))
	}
}

// RenderUpload writes one upload session line
func RenderUpload(w io.Writer, u *domain.UploadSession, p Palette) {
	line := fmt.Sprintf("  %s %s %s of %s bytes, %d/%d chunks",
		p.Mark(u.State == domain.UploadCompleted), u.TargetPath,
		humanize.Comma(int64(u.BytesSent)), humanize.Comma(int64(u.DeclaredSize)),
		u.ChunkIndex, u.ChunkCount())
	if u.Error != "" {
		line += "  " + u.Error
	}
	fmt.Fprintln(w, line)
}

// RenderScan writes confirmed devices, or what to check when there are none
func RenderScan(w io.Writer, res *discovery.Result, p Palette) {
	fmt.Fprintf(w, "%s %s, %d subnet(s) in %s\n", p.head("Scan"),
		strings.Join(res.Tiers, ", "), len(res.Prefixes), res.Duration.Round(time.Millisecond))
	if len(res.Devices) == 0 {
		fmt.Fprintf(w, "  %s no device found\n", p.Mark(false))
		for _, g := range discoveryGuidance(res.Prefixes) {
			fmt.Fprintf(w, "    %s\n", g)
		}
		return
	}
	for _, d := range res.Devices {
		line := fmt.Sprintf("  %s %-21s %-13s %s", p.Mark(true), d.Address, d.Tier, d.Latency.Round(time.Millisecond))
		if d.Identification != nil {
			line += "  " + string(d.Identification.Method)
			if rec := d.Identification.Record; rec != nil && rec.DeviceName != "" {
				line += "  " + rec.DeviceName
			}
		}
		fmt.Fprintln(w, line)
	}
}

// Uptime formats a device uptime in seconds, e.g. "3 hours"
func Uptime(seconds int64) string {
	now := time.Now()
	return strings.TrimSpace(humanize.RelTime(now.Add(-time.Duration(seconds)*time.Second), now, "", ""))
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
