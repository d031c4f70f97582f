package admission

import qrcode "github.com/skip2/go-qrcode"

// TokenQR renders an admission token as a QR code PNG for venue scanners.
func TokenQR(token string, size int) ([]byte, error) {
	return qrcode.Encode(token, qrcode.Medium, size)
}
