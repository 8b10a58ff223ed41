//go:build !linux

package memory

import "errors"

type systemReader struct{}

// Read is unsupported off Linux; the monitor falls back to configured figures.
func (systemReader) Read() (Figures, error) {
	return Figures{}, errors.New("memory figures not available on this platform")
}
