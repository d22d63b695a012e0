package kyc

import (
	"fmt"

	"github.com/dropDatabas3/veriface/internal/store/core"
)

// Claves de blob por intento. Determinísticas: re-subir un artefacto pisa
// el anterior en vez de acumular huérfanos.

func selfieKey(attemptID, contentType string) string {
	return fmt.Sprintf("attempts/%s/selfie%s", attemptID, extFor(contentType))
}

func documentKey(attemptID string, side core.DocumentSide, contentType string) string {
	return fmt.Sprintf("attempts/%s/document_%s%s", attemptID, side, extFor(contentType))
}

func extFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/heic":
		return ".heic"
	}
	return ".bin"
}
