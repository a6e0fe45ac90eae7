package transport

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/mbotlink/mbotlink/internal/logging"
	"go.uber.org/zap"
)

// DefaultBaud is the USB CDC link speed used by the controller firmware.
const DefaultBaud = 921600

// KnownDeviceIDs are the USB VID:PID pairs of supported link controllers
// (ESP32-S3 native USB, CP210x bridge, ESP32-S3 JTAG/serial).
var KnownDeviceIDs = []string{"303A:1001", "10C4:EA60", "303A:4001"}

// serialLink adapts a serial.Port to the Link contract. go.bug.st/serial
// reports a read timeout as (0, nil); that is surfaced as os.ErrDeadlineExceeded.
type serialLink struct {
	port    serial.Port
	name    string
	timeout time.Duration
}

// OpenSerial opens a serial port in 8N1 mode. A zero timeout blocks forever.
func OpenSerial(name string, baud int, timeout time.Duration) (Link, error) {
	if baud <= 0 {
		baud = DefaultBaud
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}

	readTimeout := serial.NoTimeout
	if timeout > 0 {
		readTimeout = timeout
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", name, err)
	}

	logging.Info("Serial port opened",
		zap.String("port", name),
		zap.Int("baud", baud),
		zap.Duration("read_timeout", timeout),
	)
	return &serialLink{port: port, name: name, timeout: timeout}, nil
}

func (s *serialLink) Read(p []byte) (int, error) {
	n, err := s.port.Read(p)
	if n == 0 && err == nil && s.timeout > 0 {
		return 0, os.ErrDeadlineExceeded
	}
	return n, err
}

func (s *serialLink) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *serialLink) Close() error {
	return s.port.Close()
}

func (s *serialLink) String() string {
	return "serial:" + s.name
}

// PortInfo describes a detected serial port.
type PortInfo struct {
	Name    string
	VIDPID  string
	Product string
	Serial  string
	Known   bool // VID:PID matches a supported controller
}

// ListPorts returns the serial ports on this machine with USB details where available.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}
	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		info := PortInfo{Name: d.Name, Product: d.Product, Serial: d.SerialNumber}
		if d.IsUSB {
			info.VIDPID = strings.ToUpper(d.VID + ":" + d.PID)
			info.Known = isKnownDevice(info.VIDPID)
		}
		ports = append(ports, info)
	}
	return ports, nil
}

// FindPort returns the first port whose USB id matches KnownDeviceIDs.
func FindPort() (string, error) {
	ports, err := ListPorts()
	if err != nil {
		return "", err
	}
	for _, p := range ports {
		if p.Known {
			return p.Name, nil
		}
	}
	return "", fmt.Errorf("no link controller found (looked for %s)", strings.Join(KnownDeviceIDs, ", "))
}

func isKnownDevice(vidpid string) bool {
	for _, id := range KnownDeviceIDs {
		if strings.EqualFold(id, vidpid) {
			return true
		}
	}
	return false
}
