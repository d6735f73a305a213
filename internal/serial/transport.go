// Package serial pushes files into a board's flash filesystem over a serial
// link and reads the board's console.
package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-logr/logr"
	bugst "go.bug.st/serial"

	"espdeploy/internal/domain"
)

// Baud rates for the supported board families
const (
	BaudESP8266 = 115200
	BaudDefault = 9600
)

// Port is an open serial connection
type Port interface {
	io.ReadWriteCloser
	// SetReadTimeout bounds Read; a timed out Read returns 0, nil
	SetReadTimeout(t time.Duration) error
}

// Opener opens serial ports by name
type Opener interface {
	Open(name string, baud int) (Port, error)
}

// SystemOpener opens real serial devices
type SystemOpener struct{}

// Open implements Opener
func (SystemOpener) Open(name string, baud int) (Port, error) {
	p, err := bugst.Open(name, &bugst.Mode{BaudRate: baud})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// PortLock grants one logical operation at a time per port name
type PortLock struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewPortLock creates an empty lock table
func NewPortLock() *PortLock {
	return &PortLock{held: make(map[string]bool)}
}

// Acquire claims a port, returning ErrPortBusy when it is already held
func (l *PortLock) Acquire(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] {
		return fmt.Errorf("%s: %w", name, domain.ErrPortBusy)
	}
	l.held[name] = true
	return nil
}

// Release gives a port back
func (l *PortLock) Release(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, name)
}

// Held reports whether a port is currently claimed
func (l *PortLock) Held(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[name]
}

// Conn is a claimed and opened port. Close releases both.
type Conn struct {
	Port
	name string
	lock *PortLock
	once sync.Once
}

// Name returns the device path
func (c *Conn) Name() string {
	return c.name
}

// Close closes the port and releases its claim
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		err = c.Port.Close()
		c.lock.Release(c.name)
	})
	return err
}

// Dial claims a port and opens it, retrying while the device is busy or still
// re-enumerating after a flash
func Dial(ctx context.Context, opener Opener, lock *PortLock, name string, baud, attempts int, log logr.Logger) (*Conn, error) {
	if err := lock.Acquire(name); err != nil {
		return nil, err
	}
	if attempts < 1 {
		attempts = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 2 * time.Second

	port, err := backoff.Retry(ctx, func() (Port, error) {
		p, err := opener.Open(name, baud)
		if err != nil {
			if isPermanent(err) {
				return nil, backoff.Permanent(err)
			}
			log.V(1).Info("Serial port not ready, retrying", "port", name, "error", err.Error())
			return nil, err
		}
		return p, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(attempts)))
	if err != nil {
		lock.Release(name)
		return nil, &domain.ProtocolError{Port: name, Step: "open", Err: err}
	}

	return &Conn{Port: port, name: name, lock: lock}, nil
}

// isPermanent reports open failures that retrying cannot fix
func isPermanent(err error) bool {
	var portErr *bugst.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case bugst.PortNotFound, bugst.InvalidSerialPort, bugst.PermissionDenied:
			return true
		}
	}
	return false
}

// portName returns a printable name for error messages
func portName(p Port) string {
	if n, ok := p.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "serial"
}
