// Package render turns ticket tokens into scannable QR images.
package render

import (
	"bytes"
	"errors"
	"strings"

	"github.com/yeqown/go-qrcode"
)

// ErrEmptyToken is returned when there is nothing to encode.
var ErrEmptyToken = errors.New("render: empty token")

// QRRenderer encodes tokens with go-qrcode. The result is an opaque image blob
// (JPEG, the library default) stored verbatim with the ticket.
type QRRenderer struct{}

// NewQRRenderer creates a QR renderer.
func NewQRRenderer() *QRRenderer {
	return &QRRenderer{}
}

// RenderImage encodes token into a QR image.
func (r *QRRenderer) RenderImage(token string) ([]byte, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrEmptyToken
	}

	qrc, err := qrcode.New(token)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := qrc.SaveTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
