package http

import "bytes"

// Detección de imágenes por magic bytes. No confiamos en el Content-Type
// declarado por el cliente: el tipo real sale de los primeros bytes.
// Soportados: jpeg, png, webp, heic.

func sniffImage(data []byte) (contentType string, ok bool) {
	switch {
	case len(data) >= 3 && bytes.Equal(data[:3], []byte{0xFF, 0xD8, 0xFF}):
		return "image/jpeg", true
	case len(data) >= 8 && bytes.Equal(data[:8], []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}):
		return "image/png", true
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return "image/webp", true
	case isHEIC(data):
		return "image/heic", true
	}
	return "", false
}

// isHEIC busca el box ftyp con major brand heic/heix/mif1 (contenedor ISOBMFF).
func isHEIC(data []byte) bool {
	if len(data) < 12 || !bytes.Equal(data[4:8], []byte("ftyp")) {
		return false
	}
	brand := string(data[8:12])
	switch brand {
	case "heic", "heix", "hevc", "mif1", "msf1":
		return true
	}
	return false
}
