package http

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSniffImage(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want string
		ok   bool
	}{
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F'}, "image/jpeg", true},
		{"png", []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0}, "image/png", true},
		{"webp", append([]byte("RIFF"), append([]byte{0, 0, 0, 0}, []byte("WEBPVP8 ")...)...), "image/webp", true},
		{"heic", append([]byte{0, 0, 0, 0x18}, []byte("ftypheic")...), "image/heic", true},
		{"heif mif1", append([]byte{0, 0, 0, 0x18}, []byte("ftypmif1")...), "image/heic", true},
		{"gif no soportado", []byte("GIF89a..."), "", false},
		{"pdf", []byte("%PDF-1.7"), "", false},
		{"texto", []byte("hola mundo"), "", false},
		{"vacio", nil, "", false},
		{"jpeg truncado", []byte{0xFF, 0xD8}, "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ct, ok := sniffImage(tc.data)
			require.Equal(t, tc.ok, ok)
			require.Equal(t, tc.want, ct)
		})
	}
}
