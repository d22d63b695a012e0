// Package blob guarda las imágenes de los intentos (selfies y documentos).
//
// Las claves son paths lógicos tipo attempts/<id>/selfie.jpg. Los objetos son
// inmutables una vez escritos; re-subir la misma clave reemplaza el objeto
// completo. El acceso externo va siempre por URLs firmadas (ver signer.go),
// nunca por la clave cruda.
package blob

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound indica que la clave no existe en el backend.
var ErrNotFound = errors.New("blob: not found")

// Object es un blob leído del storage.
type Object struct {
	Data        []byte
	ContentType string
	Size        int64
}

// Storage es el contrato mínimo que necesita el servicio.
type Storage interface {
	Put(ctx context.Context, key, contentType string, r io.Reader) (int64, error)
	Get(ctx context.Context, key string) (*Object, error)
	Delete(ctx context.Context, key string) error
}
