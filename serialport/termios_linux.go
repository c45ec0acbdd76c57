//go:build linux

package serialport

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

type termiosPort struct {
	file    *os.File
	timeout time.Duration
}

func openTermios(cfg Config) (Port, error) {
	speed, err := baudToUnix(cfg.BaudRate)
	if err != nil {
		return nil, err
	}

	// Non-blocking so os.NewFile hands the descriptor to the runtime
	// poller and read deadlines work.
	fd, err := unix.Open(cfg.Device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}

	if err := makeRaw(fd, speed); err != nil {
		unix.Close(fd)
		return nil, err
	}

	return &termiosPort{
		file:    os.NewFile(uintptr(fd), cfg.Device),
		timeout: cfg.ReadTimeout,
	}, nil
}

func makeRaw(fd int, speed uint32) error {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("get termios: %w", err)
	}

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF | unix.IXANY
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	// 8N1, receiver on, modem control lines ignored, no RTS/CTS.
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CRTSCTS | unix.CBAUD
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL | speed
	t.Ispeed = speed
	t.Ospeed = speed

	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		return fmt.Errorf("set termios: %w", err)
	}
	return nil
}

func (p *termiosPort) Read(b []byte) (int, error) {
	if p.timeout > 0 {
		if err := p.file.SetReadDeadline(time.Now().Add(p.timeout)); err != nil {
			return 0, err
		}
	}
	n, err := p.file.Read(b)
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return n, ErrTimeout
	}
	return n, err
}

func (p *termiosPort) Write(b []byte) (int, error) { return p.file.Write(b) }

// Drain blocks until the output queue has been transmitted.
func (p *termiosPort) Drain() error {
	conn, err := p.file.SyscallConn()
	if err != nil {
		return err
	}
	var drainErr error
	err = conn.Control(func(fd uintptr) {
		drainErr = unix.IoctlSetInt(int(fd), unix.TCSBRK, 1)
	})
	if err != nil {
		return err
	}
	return drainErr
}

func (p *termiosPort) Close() error { return p.file.Close() }

func baudToUnix(baud int) (uint32, error) {
	switch baud {
	case 9600:
		return unix.B9600, nil
	case 19200:
		return unix.B19200, nil
	case 38400:
		return unix.B38400, nil
	case 57600:
		return unix.B57600, nil
	case 115200:
		return unix.B115200, nil
	case 230400:
		return unix.B230400, nil
	case 460800:
		return unix.B460800, nil
	case 921600:
		return unix.B921600, nil
	}
	return 0, fmt.Errorf("unsupported baud rate %d", baud)
}
