package serial

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"espdeploy/internal/domain"
)

// fakePort is an in-memory serial port. Each Write is recorded separately and
// the responder can queue device output in reply.
type fakePort struct {
	mu          sync.Mutex
	writes      [][]byte
	failOn      int
	responder   func(written []byte) []byte
	incoming    bytes.Buffer
	closed      bool
	readTimeout time.Duration
	// maxRead splits device output across reads when set
	maxRead int
	// overreport inflates the byte count Write returns
	overreport int
	timeoutErr error
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failOn == len(p.writes)+1 {
		return 0, errors.New("input/output error")
	}
	p.writes = append(p.writes, append([]byte(nil), b...))
	if p.responder != nil {
		p.incoming.Write(p.responder(b))
	}
	return len(b) + p.overreport, nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.incoming.Len() > 0 {
		defer p.mu.Unlock()
		if p.maxRead > 0 && len(b) > p.maxRead {
			b = b[:p.maxRead]
		}
		return p.incoming.Read(b)
	}
	p.mu.Unlock()
	time.Sleep(time.Millisecond)
	return 0, nil
}

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timeoutErr != nil {
		return p.timeoutErr
	}
	p.readTimeout = t
	return nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePort) lines() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.writes))
	for _, w := range p.writes {
		out = append(out, string(w))
	}
	return out
}

type fakeOpener struct {
	mu     sync.Mutex
	port   *fakePort
	fails  int
	opened int
	baud   int
}

func (o *fakeOpener) Open(name string, baud int) (Port, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened++
	o.baud = baud
	if o.opened <= o.fails {
		return nil, errors.New("resource busy")
	}
	return o.port, nil
}

func fastConfig() Config {
	c := DefaultConfig()
	c.Timing = Timing{AckTimeout: time.Second}
	return c
}

func payload(n int) []byte {
	return bytes.Repeat([]byte("x"), n)
}

func TestUploadWireFormat(t *testing.T) {
	port := &fakePort{}
	p := NewProvisioner(nil, nil, fastConfig(), nil, logr.Discard())

	session, err := p.Upload(context.Background(), port, TargetConfig, payload(1500))
	require.NoError(t, err)

	lines := port.lines()
	require.Len(t, lines, 6)
	assert.Equal(t, "UPLOAD_FILE:/wifi_config.json\n", lines[0])
	assert.Equal(t, "SIZE:1500\n", lines[1])
	assert.Len(t, lines[2], 512)
	assert.Len(t, lines[3], 512)
	assert.Len(t, lines[4], 476)
	assert.Equal(t, "END_UPLOAD\n", lines[5])

	assert.Equal(t, domain.UploadCompleted, session.State)
	assert.Equal(t, 1500, session.BytesSent)
	assert.Equal(t, 3, session.ChunkIndex)
}

func TestUploadChunkCountRoundTrip(t *testing.T) {
	for _, size := range []int{0, 1, 511, 512, 513, 1024, 4097} {
		port := &fakePort{}
		p := NewProvisioner(nil, nil, fastConfig(), nil, logr.Discard())
		data := make([]byte, size)
		for i := range data {
			data[i] = byte(i % 251)
		}

		session, err := p.Upload(context.Background(), port, TargetHTML, data)
		require.NoError(t, err, "size %d", size)

		lines := port.lines()
		chunks := lines[2 : len(lines)-1]
		assert.Len(t, chunks, session.ChunkCount(), "size %d", size)
		assert.Equal(t, data, []byte(strings.Join(chunks, "")), "size %d", size)
		assert.Equal(t, size, session.BytesSent)
	}
}

func TestUploadWriteErrorFailsSession(t *testing.T) {
	tests := []struct {
		name     string
		failOn   int
		wantSent int
		wantStep string
	}{
		{"command", 1, 0, "command"},
		{"size", 2, 0, "size"},
		{"first chunk", 3, 0, "chunk 0"},
		{"second chunk", 4, 512, "chunk 1"},
		{"end", 6, 1500, "end"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := &fakePort{failOn: tt.failOn}
			p := NewProvisioner(nil, nil, fastConfig(), nil, logr.Discard())

			session, err := p.Upload(context.Background(), port, TargetConfig, payload(1500))
			var protoErr *domain.ProtocolError
			require.True(t, errors.As(err, &protoErr), "got %v", err)
			assert.Equal(t, tt.wantStep, protoErr.Step)
			assert.Equal(t, domain.UploadFailed, session.State)
			assert.Equal(t, tt.wantSent, session.BytesSent)
			assert.LessOrEqual(t, session.BytesSent, session.DeclaredSize)
			assert.NotEmpty(t, session.Error)
			assert.Len(t, port.lines(), tt.failOn-1, "no retry after a failed write")
		})
	}
}

func TestUploadRejectsOverreportedWrite(t *testing.T) {
	port := &fakePort{overreport: 1}
	p := NewProvisioner(nil, nil, fastConfig(), nil, logr.Discard())

	session, err := p.Upload(context.Background(), port, TargetConfig, payload(10))
	var protoErr *domain.ProtocolError
	require.True(t, errors.As(err, &protoErr), "got %v", err)
	assert.Equal(t, "chunk 0", protoErr.Step)
	assert.Equal(t, domain.UploadFailed, session.State)
	assert.Zero(t, session.BytesSent)
	assert.LessOrEqual(t, session.BytesSent, session.DeclaredSize)
}

func TestUploadCancelledDuringSettle(t *testing.T) {
	cfg := fastConfig()
	cfg.Timing.CommandSettle = time.Minute
	p := NewProvisioner(nil, nil, cfg, nil, logr.Discard())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	session, err := p.Upload(ctx, &fakePort{}, TargetConfig, payload(10))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, domain.UploadFailed, session.State)
}

// ackResponder plays the firmware side of the acknowledged upload
func ackResponder(target string, size int, fail bool) func([]byte) []byte {
	return func(w []byte) []byte {
		s := string(w)
		switch {
		case strings.HasPrefix(s, "UPLOAD_FILE:"):
			return []byte("boot chatter\r\nREADY_FOR_FILE:" + strings.TrimSpace(strings.TrimPrefix(s, "UPLOAD_FILE:")) + "\r\n")
		case strings.HasPrefix(s, "SIZE:"):
			return []byte(fmt.Sprintf("READY_FOR_DATA:%d\n", size))
		case s == "END_UPLOAD\n":
			if fail {
				return []byte("UPLOAD_ERROR:" + target + "\n")
			}
			return []byte("UPLOAD_SUCCESS:" + target + "\n")
		}
		return nil
	}
}

func TestUploadAckHandshake(t *testing.T) {
	cfg := fastConfig()
	cfg.Handshake = HandshakeACK
	p := NewProvisioner(nil, nil, cfg, nil, logr.Discard())

	port := &fakePort{maxRead: 5, responder: ackResponder(TargetHTML, 700, false)}

	session, err := p.Upload(context.Background(), port, TargetHTML, payload(700))
	require.NoError(t, err)
	assert.Equal(t, domain.UploadCompleted, session.State)
	assert.Equal(t, 100*time.Millisecond, port.readTimeout)
}

func TestUploadAckDeviceError(t *testing.T) {
	cfg := fastConfig()
	cfg.Handshake = HandshakeACK
	p := NewProvisioner(nil, nil, cfg, nil, logr.Discard())

	port := &fakePort{responder: ackResponder(TargetConfig, 10, true)}

	session, err := p.Upload(context.Background(), port, TargetConfig, payload(10))
	var protoErr *domain.ProtocolError
	require.True(t, errors.As(err, &protoErr), "got %v", err)
	assert.Contains(t, err.Error(), "UPLOAD_ERROR:/wifi_config.json")
	assert.Equal(t, domain.UploadFailed, session.State)
	assert.Equal(t, 10, session.BytesSent)
}

func TestUploadAckTimeout(t *testing.T) {
	cfg := fastConfig()
	cfg.Handshake = HandshakeACK
	cfg.Timing.AckTimeout = 30 * time.Millisecond
	p := NewProvisioner(nil, nil, cfg, nil, logr.Discard())

	port := &fakePort{}
	session, err := p.Upload(context.Background(), port, TargetConfig, payload(10))
	var timeoutErr *domain.TimeoutError
	require.True(t, errors.As(err, &timeoutErr), "got %v", err)
	assert.Equal(t, domain.UploadFailed, session.State)
	assert.Len(t, port.lines(), 1, "stops after the unacknowledged command")
}

func TestUploadHandlerSketch(t *testing.T) {
	sketch := UploadHandlerSketch()
	for _, line := range []string{CmdUploadFile, CmdSize, CmdEndUpload, AckFile, AckData, AckSuccess, AckError} {
		assert.Contains(t, sketch, `"`+line+`"`)
	}
	assert.Contains(t, sketch, fmt.Sprintf("command.substring(%d)", len(CmdUploadFile)))
	assert.Contains(t, sketch, fmt.Sprintf("sizeCommand.substring(%d)", len(CmdSize)))
	assert.Contains(t, sketch, "void handleSerialUpload()")
}

func TestUploadFile(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "wifi_config.json")
	require.NoError(t, os.WriteFile(local, []byte(`{"wifi":{"ssid":"home"}}`), 0o644))

	port := &fakePort{}
	opener := &fakeOpener{port: port}
	lock := NewPortLock()
	p := NewProvisioner(opener, lock, fastConfig(), nil, logr.Discard())

	session, err := p.UploadConfig(context.Background(), "/dev/ttyUSB0", local)
	require.NoError(t, err)
	assert.Equal(t, TargetConfig, session.TargetPath)
	assert.Equal(t, BaudESP8266, opener.baud)
	assert.True(t, port.closed)
	assert.False(t, lock.Held("/dev/ttyUSB0"))
}

func TestUploadFileReadTimeoutError(t *testing.T) {
	local := filepath.Join(t.TempDir(), "wifi_config.json")
	require.NoError(t, os.WriteFile(local, []byte(`{}`), 0o644))

	port := &fakePort{timeoutErr: errors.New("inappropriate ioctl for device")}
	lock := NewPortLock()
	cfg := fastConfig()
	cfg.Handshake = HandshakeACK
	p := NewProvisioner(&fakeOpener{port: port}, lock, cfg, nil, logr.Discard())

	session, err := p.UploadConfig(context.Background(), "/dev/ttyUSB0", local)
	var protoErr *domain.ProtocolError
	require.True(t, errors.As(err, &protoErr), "got %v", err)
	assert.Nil(t, session)
	assert.Empty(t, port.lines())
	assert.True(t, port.closed)
	assert.False(t, lock.Held("/dev/ttyUSB0"))
}

func TestUploadFileMissingAsset(t *testing.T) {
	opener := &fakeOpener{port: &fakePort{}}
	p := NewProvisioner(opener, nil, fastConfig(), nil, logr.Discard())

	_, err := p.UploadHTML(context.Background(), "/dev/ttyUSB0", filepath.Join(t.TempDir(), "missing.html"))
	var cfgErr *domain.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
	assert.Zero(t, opener.opened)
}

func TestUploadFilePortBusy(t *testing.T) {
	local := filepath.Join(t.TempDir(), "page.html")
	require.NoError(t, os.WriteFile(local, []byte("<html></html>"), 0o644))

	lock := NewPortLock()
	require.NoError(t, lock.Acquire("/dev/ttyUSB0"))

	opener := &fakeOpener{port: &fakePort{}}
	p := NewProvisioner(opener, lock, fastConfig(), nil, logr.Discard())
	_, err := p.UploadHTML(context.Background(), "/dev/ttyUSB0", local)
	assert.ErrorIs(t, err, domain.ErrPortBusy)
	assert.Zero(t, opener.opened)
}

func TestDialRetriesBusyPort(t *testing.T) {
	opener := &fakeOpener{port: &fakePort{}, fails: 2}
	lock := NewPortLock()

	conn, err := Dial(context.Background(), opener, lock, "/dev/ttyUSB0", BaudDefault, 5, logr.Discard())
	require.NoError(t, err)
	assert.Equal(t, 3, opener.opened)
	assert.Equal(t, "/dev/ttyUSB0", conn.Name())
	assert.True(t, lock.Held("/dev/ttyUSB0"))

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	assert.False(t, lock.Held("/dev/ttyUSB0"))
}

func TestDialGivesUp(t *testing.T) {
	opener := &fakeOpener{port: &fakePort{}, fails: 10}
	lock := NewPortLock()

	_, err := Dial(context.Background(), opener, lock, "/dev/ttyUSB0", BaudDefault, 2, logr.Discard())
	var protoErr *domain.ProtocolError
	require.True(t, errors.As(err, &protoErr))
	assert.Equal(t, "open", protoErr.Step)
	assert.Equal(t, 2, opener.opened)
	assert.False(t, lock.Held("/dev/ttyUSB0"))
}

func TestPortLock(t *testing.T) {
	l := NewPortLock()
	require.NoError(t, l.Acquire("COM3"))
	assert.ErrorIs(t, l.Acquire("COM3"), domain.ErrPortBusy)
	require.NoError(t, l.Acquire("COM4"))
	l.Release("COM3")
	assert.NoError(t, l.Acquire("COM3"))
}

func TestParseHandshake(t *testing.T) {
	h, err := ParseHandshake("")
	require.NoError(t, err)
	assert.Equal(t, HandshakeDelay, h)

	h, err = ParseHandshake("ACK")
	require.NoError(t, err)
	assert.Equal(t, HandshakeACK, h)

	_, err = ParseHandshake("xmodem")
	assert.Error(t, err)
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name  string
		ports []PortInfo
		goos  string
		want  string
	}{
		{
			name: "ch340 preferred over unknown usb",
			ports: []PortInfo{
				{Name: "/dev/ttyS0"},
				{Name: "/dev/ttyUSB1", USB: true, VID: "067B"},
				{Name: "/dev/ttyUSB0", USB: true, VID: "1a86"},
			},
			goos: "linux",
			want: "/dev/ttyUSB0",
		},
		{
			name: "arduino vid wins over ftdi",
			ports: []PortInfo{
				{Name: "/dev/ttyUSB0", USB: true, VID: "0403"},
				{Name: "/dev/ttyACM0", USB: true, VID: "2341"},
			},
			goos: "linux",
			want: "/dev/ttyACM0",
		},
		{
			name:  "name hint",
			ports: []PortInfo{{Name: "/dev/ttyS0"}, {Name: "/dev/cu.usbserial-1410"}},
			goos:  "darwin",
			want:  "/dev/cu.usbserial-1410",
		},
		{
			name:  "windows com port",
			ports: []PortInfo{{Name: "COM1"}, {Name: "COM7", USB: true, VID: "067B"}},
			goos:  "windows",
			want:  "COM7",
		},
		{
			name:  "first port fallback",
			ports: []PortInfo{{Name: "/dev/ttyS1"}, {Name: "/dev/ttyS2"}},
			goos:  "linux",
			want:  "/dev/ttyS1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := detect(tt.ports, tt.goos)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Name)
		})
	}

	_, err := Detect(nil)
	var cfgErr *domain.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestPortInfoChip(t *testing.T) {
	assert.Equal(t, "CH340", PortInfo{VID: "1a86"}.Chip())
	assert.Equal(t, "", PortInfo{VID: "FFFF"}.Chip())
}

func TestMonitorCopiesOutput(t *testing.T) {
	port := &fakePort{}
	port.incoming.WriteString("ESP8266 booted\r\nIP: 192.168.1.238\r\n")
	opener := &fakeOpener{port: port}
	lock := NewPortLock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var out bytes.Buffer
	err := Monitor(ctx, opener, lock, "/dev/ttyUSB0", BaudESP8266, &out, logr.Discard())
	require.NoError(t, err)
	assert.Contains(t, out.String(), "IP: 192.168.1.238")
	assert.True(t, port.closed)
	assert.False(t, lock.Held("/dev/ttyUSB0"))
}

func TestMonitorRespectsLock(t *testing.T) {
	lock := NewPortLock()
	require.NoError(t, lock.Acquire("/dev/ttyUSB0"))
	err := Monitor(context.Background(), &fakeOpener{port: &fakePort{}}, lock, "/dev/ttyUSB0", BaudESP8266, &bytes.Buffer{}, logr.Discard())
	assert.ErrorIs(t, err, domain.ErrPortBusy)
}

type staticLister struct {
	ports []PortInfo
	err   error
}

func (s staticLister) List() ([]PortInfo, error) { return s.ports, s.err }

func TestFinder(t *testing.T) {
	name, err := Finder{Lister: staticLister{ports: []PortInfo{
		{Name: "/dev/ttyS0"},
		{Name: "/dev/ttyUSB0", USB: true, VID: "1a86"},
	}}}.Find()
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", name)

	_, err = Finder{Lister: staticLister{}}.Find()
	var cfgErr *domain.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))

	_, err = Finder{Lister: staticLister{err: errors.New("permission denied")}}.Find()
	assert.EqualError(t, err, "permission denied")
}
