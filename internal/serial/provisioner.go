package serial

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"espdeploy/internal/domain"
	"espdeploy/internal/metrics"
)

// Device-side file paths the firmware reads at boot
const (
	TargetConfig = "/wifi_config.json"
	TargetHTML   = "/arduino.html"
)

// Wire commands sent by the host and the acknowledgements the firmware's
// upload handler answers with in ack mode
const (
	CmdUploadFile = "UPLOAD_FILE:"
	CmdSize       = "SIZE:"
	CmdEndUpload  = "END_UPLOAD"

	AckFile    = "READY_FOR_FILE:"
	AckData    = "READY_FOR_DATA:"
	AckSuccess = "UPLOAD_SUCCESS:"
	AckError   = "UPLOAD_ERROR:"
)

// Handshake selects how the host paces the upload
type Handshake string

const (
	// HandshakeDelay paces with fixed settle delays and reads nothing back
	HandshakeDelay Handshake = "delay"
	// HandshakeACK waits for the firmware to acknowledge each step
	HandshakeACK Handshake = "ack"
)

// ParseHandshake validates a handshake name, empty meaning delay
func ParseHandshake(s string) (Handshake, error) {
	switch h := Handshake(strings.ToLower(strings.TrimSpace(s))); h {
	case "", HandshakeDelay:
		return HandshakeDelay, nil
	case HandshakeACK:
		return h, nil
	default:
		return "", &domain.ConfigurationError{What: fmt.Sprintf("unknown handshake %q (want delay or ack)", s)}
	}
}

// Timing holds the settle delays of the upload protocol
type Timing struct {
	OpenSettle    time.Duration
	CommandSettle time.Duration
	SizeSettle    time.Duration
	ChunkDelay    time.Duration
	FinalSettle   time.Duration
	// AckTimeout bounds each acknowledgement wait in ack mode
	AckTimeout time.Duration
}

// DefaultTiming returns the delays the firmware's upload handler was built around
func DefaultTiming() Timing {
	return Timing{
		OpenSettle:    time.Second,
		CommandSettle: 500 * time.Millisecond,
		SizeSettle:    500 * time.Millisecond,
		ChunkDelay:    100 * time.Millisecond,
		FinalSettle:   time.Second,
		AckTimeout:    5 * time.Second,
	}
}

// Config holds provisioner settings
type Config struct {
	ChunkSize    int
	Baud         int
	OpenAttempts int
	Handshake    Handshake
	Timing       Timing
}

// DefaultConfig returns provisioner defaults for an ESP8266
func DefaultConfig() Config {
	return Config{
		ChunkSize:    512,
		Baud:         BaudESP8266,
		OpenAttempts: 5,
		Handshake:    HandshakeDelay,
		Timing:       DefaultTiming(),
	}
}

// Provisioner uploads files into the device filesystem
type Provisioner struct {
	opener  Opener
	lock    *PortLock
	config  Config
	metrics metrics.Collector
	log     logr.Logger
}

// NewProvisioner creates a provisioner. A nil lock gets a private one.
func NewProvisioner(opener Opener, lock *PortLock, config Config, m metrics.Collector, log logr.Logger) *Provisioner {
	if lock == nil {
		lock = NewPortLock()
	}
	if m == nil {
		m = metrics.Nop{}
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultConfig().ChunkSize
	}
	if config.Handshake == "" {
		config.Handshake = HandshakeDelay
	}
	return &Provisioner{opener: opener, lock: lock, config: config, metrics: m, log: log}
}

// Upload sends one file over an already open port. A write failure marks the
// session Failed and is returned as a ProtocolError; nothing is retried.
func (p *Provisioner) Upload(ctx context.Context, port Port, target string, payload []byte) (*domain.UploadSession, error) {
	session := domain.NewUploadSession(target, len(payload), p.config.ChunkSize)
	if err := session.Begin(); err != nil {
		return session, err
	}

	name := portName(port)
	fail := func(err error) (*domain.UploadSession, error) {
		session.Fail(err)
		p.log.Error(err, "Upload failed", "target", target, "sent", session.BytesSent, "size", session.DeclaredSize)
		return session, err
	}

	var acks *lineReader
	if p.config.Handshake == HandshakeACK {
		acks = newLineReader(port)
	}

	p.log.Info("Uploading file", "target", target, "size", len(payload), "chunks", session.ChunkCount(), "port", name)

	if err := p.command(ctx, port, name, "command", CmdUploadFile+target); err != nil {
		return fail(err)
	}
	if err := p.expect(ctx, acks, port, name, AckFile+target, ""); err != nil {
		return fail(err)
	}
	if err := sleep(ctx, p.config.Timing.CommandSettle); err != nil {
		return fail(err)
	}

	if err := p.command(ctx, port, name, "size", CmdSize+strconv.Itoa(len(payload))); err != nil {
		return fail(err)
	}
	if err := p.expect(ctx, acks, port, name, AckData+strconv.Itoa(len(payload)), ""); err != nil {
		return fail(err)
	}
	if err := sleep(ctx, p.config.Timing.SizeSettle); err != nil {
		return fail(err)
	}

	for off := 0; off < len(payload); off += p.config.ChunkSize {
		end := off + p.config.ChunkSize
		if end > len(payload) {
			end = len(payload)
		}
		step := fmt.Sprintf("chunk %d", session.ChunkIndex)
		n, err := port.Write(payload[off:end])
		if n > end-off {
			return fail(&domain.ProtocolError{Port: name, Step: step,
				Err: fmt.Errorf("port reported %d bytes written for a %d byte chunk", n, end-off)})
		}
		if n > 0 {
			// A short write still advanced the device's view of the stream
			if advErr := session.Advance(n); advErr != nil {
				return fail(&domain.ProtocolError{Port: name, Step: step, Err: advErr})
			}
			p.metrics.BytesSent(n)
		}
		if err == nil && n < end-off {
			err = fmt.Errorf("short write %d of %d bytes", n, end-off)
		}
		if err != nil {
			return fail(&domain.ProtocolError{Port: name, Step: step, Err: err})
		}
		p.log.V(2).Info("Chunk sent", "index", session.ChunkIndex, "bytes", n, "sent", session.BytesSent)
		if err := sleep(ctx, p.config.Timing.ChunkDelay); err != nil {
			return fail(err)
		}
	}

	if err := p.command(ctx, port, name, "end", CmdEndUpload); err != nil {
		return fail(err)
	}
	if err := p.expect(ctx, acks, port, name, AckSuccess+target, AckError+target); err != nil {
		return fail(err)
	}
	if err := sleep(ctx, p.config.Timing.FinalSettle); err != nil {
		return fail(err)
	}

	if err := session.Complete(); err != nil {
		return fail(err)
	}
	p.log.Info("Upload complete", "target", target, "bytes", session.BytesSent)
	return session, nil
}

// UploadFile reads a local file, claims and opens the port, uploads, and
// always closes the port afterwards
func (p *Provisioner) UploadFile(ctx context.Context, device, local, target string) (*domain.UploadSession, error) {
	payload, err := os.ReadFile(local)
	if err != nil {
		return nil, &domain.ConfigurationError{What: "asset " + local, Err: err}
	}

	conn, err := Dial(ctx, p.opener, p.lock, device, p.config.Baud, p.config.OpenAttempts, p.log)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := sleep(ctx, p.config.Timing.OpenSettle); err != nil {
		return nil, err
	}
	if p.config.Handshake == HandshakeACK {
		if err := conn.SetReadTimeout(100 * time.Millisecond); err != nil {
			return nil, &domain.ProtocolError{Port: device, Step: "read timeout", Err: err}
		}
		drain(conn)
	}

	return p.Upload(ctx, conn, target, payload)
}

// UploadConfig pushes the WiFi configuration file
func (p *Provisioner) UploadConfig(ctx context.Context, device, local string) (*domain.UploadSession, error) {
	return p.UploadFile(ctx, device, local, TargetConfig)
}

// UploadHTML pushes the dashboard page
func (p *Provisioner) UploadHTML(ctx context.Context, device, local string) (*domain.UploadSession, error) {
	return p.UploadFile(ctx, device, local, TargetHTML)
}

func (p *Provisioner) command(ctx context.Context, port Port, name, step, line string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := port.Write([]byte(line + "\n")); err != nil {
		return &domain.ProtocolError{Port: name, Step: step, Err: err}
	}
	p.log.V(1).Info("Sent command", "line", line)
	return nil
}

// expect waits for an acknowledgement line in ack mode and is a no-op in
// delay mode. Console chatter before the expected line is skipped.
func (p *Provisioner) expect(ctx context.Context, r *lineReader, port Port, name, want, failure string) error {
	if r == nil {
		return nil
	}
	budget := p.config.Timing.AckTimeout
	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		return &domain.ProtocolError{Port: name, Step: "ack", Err: err}
	}

	deadline := time.Now().Add(budget)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		got, ok, err := r.next()
		if err != nil {
			return &domain.ProtocolError{Port: name, Step: "ack", Err: err}
		}
		if !ok {
			continue
		}
		switch {
		case got == want:
			p.log.V(1).Info("Acknowledged", "line", got)
			return nil
		case failure != "" && got == failure:
			return &domain.ProtocolError{Port: name, Step: "ack", Err: fmt.Errorf("device reported %s", got)}
		default:
			p.log.V(2).Info("Console output", "line", got)
		}
	}
	return &domain.TimeoutError{Stage: "await " + want, Budget: budget}
}

// lineReader splits port output into lines across read timeouts
type lineReader struct {
	port    Port
	pending []byte
	buf     []byte
}

func newLineReader(port Port) *lineReader {
	return &lineReader{port: port, buf: make([]byte, 256)}
}

// next returns a complete trimmed line, or ok=false when the read timed out
// before one arrived
func (r *lineReader) next() (string, bool, error) {
	if line, ok := r.cut(); ok {
		return line, true, nil
	}
	n, err := r.port.Read(r.buf)
	r.pending = append(r.pending, r.buf[:n]...)
	if err != nil && err != io.EOF {
		return "", false, err
	}
	line, ok := r.cut()
	return line, ok, nil
}

func (r *lineReader) cut() (string, bool) {
	i := bytes.IndexByte(r.pending, '\n')
	if i < 0 {
		return "", false
	}
	line := string(bytes.TrimSpace(r.pending[:i]))
	r.pending = r.pending[i+1:]
	return line, true
}

// drain discards whatever the board printed while booting
func drain(port Port) {
	buf := make([]byte, 256)
	for i := 0; i < 64; i++ {
		n, err := port.Read(buf)
		if n == 0 || err != nil {
			return
		}
	}
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
