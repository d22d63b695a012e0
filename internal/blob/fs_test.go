package blob

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// pngHeader alcanza para que DetectContentType reporte image/png.
var pngHeader = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0}

func TestFS_PutGetDelete(t *testing.T) {
	fs, err := NewFS(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	n, err := fs.Put(ctx, "attempts/a1/selfie.png", "image/png", bytes.NewReader(pngHeader))
	require.NoError(t, err)
	require.EqualValues(t, len(pngHeader), n)

	obj, err := fs.Get(ctx, "attempts/a1/selfie.png")
	require.NoError(t, err)
	require.Equal(t, pngHeader, obj.Data)
	require.Equal(t, "image/png", obj.ContentType)
	require.EqualValues(t, len(pngHeader), obj.Size)

	require.NoError(t, fs.Delete(ctx, "attempts/a1/selfie.png"))
	_, err = fs.Get(ctx, "attempts/a1/selfie.png")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFS_OverwriteReplaces(t *testing.T) {
	fs, err := NewFS(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = fs.Put(ctx, "k", "application/octet-stream", bytes.NewReader([]byte("uno")))
	require.NoError(t, err)
	_, err = fs.Put(ctx, "k", "application/octet-stream", bytes.NewReader([]byte("dos")))
	require.NoError(t, err)

	obj, err := fs.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("dos"), obj.Data)
}

func TestFS_RejectsTraversalKeys(t *testing.T) {
	root := t.TempDir()
	fs, err := NewFS(root)
	require.NoError(t, err)
	ctx := context.Background()

	for _, key := range []string{
		"",
		"/etc/passwd",
		"../fuera",
		"a/../../fuera",
		"..",
	} {
		_, err := fs.Put(ctx, key, "text/plain", bytes.NewReader([]byte("x")))
		require.Error(t, err, "key %q debería rechazarse", key)
	}

	// Nada debería haber escapado del root.
	_, err = os.Stat(filepath.Join(filepath.Dir(root), "fuera"))
	require.True(t, os.IsNotExist(err))
}

func TestMemory_PutGetDelete(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.Put(ctx, "k", "image/jpeg", bytes.NewReader([]byte("data")))
	require.NoError(t, err)
	require.Equal(t, 1, m.Len())

	obj, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "image/jpeg", obj.ContentType)

	// Get devuelve copia: mutarla no afecta lo guardado.
	obj.Data[0] = 'X'
	again, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("data"), again.Data)

	require.NoError(t, m.Delete(ctx, "k"))
	require.ErrorIs(t, m.Delete(ctx, "k"), ErrNotFound)
}
