package serial

import (
	"fmt"
	"runtime"
	"strings"

	"go.bug.st/serial/enumerator"

	"espdeploy/internal/domain"
)

// PortInfo describes an attached serial device
type PortInfo struct {
	Name         string `json:"name" yaml:"name"`
	USB          bool   `json:"usb" yaml:"usb"`
	VID          string `json:"vid,omitempty" yaml:"vid,omitempty"`
	PID          string `json:"pid,omitempty" yaml:"pid,omitempty"`
	Product      string `json:"product,omitempty" yaml:"product,omitempty"`
	SerialNumber string `json:"serial_number,omitempty" yaml:"serial_number,omitempty"`
}

// Chip returns the USB bridge name for known vendor IDs
func (p PortInfo) Chip() string {
	return knownVendors[strings.ToUpper(p.VID)]
}

// vendorOrder lists USB vendor IDs of boards and USB-serial bridges in
// auto-detection preference order
var vendorOrder = []string{"2341", "1A86", "0403", "10C4"}

var knownVendors = map[string]string{
	"2341": "Arduino",
	"1A86": "CH340",
	"0403": "FTDI",
	"10C4": "CP210x",
}

// Lister enumerates serial ports
type Lister interface {
	List() ([]PortInfo, error)
}

// SystemLister lists ports through the OS enumerator
type SystemLister struct{}

// List implements Lister
func (SystemLister) List() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	out := make([]PortInfo, 0, len(details))
	for _, d := range details {
		out = append(out, PortInfo{
			Name:         d.Name,
			USB:          d.IsUSB,
			VID:          strings.ToUpper(d.VID),
			PID:          strings.ToUpper(d.PID),
			Product:      d.Product,
			SerialNumber: d.SerialNumber,
		})
	}
	return out, nil
}

// Detect picks the most likely board port: a known USB vendor first, then a
// name hint, then the first port
func Detect(ports []PortInfo) (PortInfo, error) {
	return detect(ports, runtime.GOOS)
}

func detect(ports []PortInfo, goos string) (PortInfo, error) {
	if len(ports) == 0 {
		return PortInfo{}, &domain.ConfigurationError{What: "no serial ports found; is the board plugged in?"}
	}

	for _, vid := range vendorOrder {
		for _, p := range ports {
			if p.USB && strings.EqualFold(p.VID, vid) {
				return p, nil
			}
		}
	}

	hints := []string{"usb", "acm", "arduino", "wchusbserial", "slab_usbtouart"}
	for _, p := range ports {
		name := strings.ToLower(p.Name + " " + p.Product)
		for _, h := range hints {
			if strings.Contains(name, h) {
				return p, nil
			}
		}
		if goos == "windows" && strings.HasPrefix(strings.ToUpper(p.Name), "COM") && p.USB {
			return p, nil
		}
	}

	return ports[0], nil
}

// Finder resolves the board port through a Lister
type Finder struct {
	Lister Lister
}

// Find lists ports and returns the name of the most likely board port
func (f Finder) Find() (string, error) {
	lister := f.Lister
	if lister == nil {
		lister = SystemLister{}
	}
	ports, err := lister.List()
	if err != nil {
		return "", err
	}
	p, err := Detect(ports)
	if err != nil {
		return "", err
	}
	return p.Name, nil
}
