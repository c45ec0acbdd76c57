package serialport

import (
	"go.bug.st/serial"
)

type bugstPort struct {
	port serial.Port
}

func openBugst(cfg Config) (Port, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Device, mode)
	if err != nil {
		return nil, err
	}

	timeout := cfg.ReadTimeout
	if timeout == 0 {
		timeout = serial.NoTimeout
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		port.Close()
		return nil, err
	}
	return &bugstPort{port: port}, nil
}

// Read returns ErrTimeout where go.bug.st/serial returns zero bytes and no error.
func (p *bugstPort) Read(b []byte) (int, error) {
	n, err := p.port.Read(b)
	if err == nil && n == 0 && len(b) > 0 {
		return 0, ErrTimeout
	}
	return n, err
}

func (p *bugstPort) Write(b []byte) (int, error) { return p.port.Write(b) }

func (p *bugstPort) Drain() error { return p.port.Drain() }

func (p *bugstPort) Close() error { return p.port.Close() }
