//go:build !linux

package serialport

import "errors"

func openTermios(Config) (Port, error) {
	return nil, errors.New("termios driver is only available on linux")
}
