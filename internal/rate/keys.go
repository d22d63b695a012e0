package rate

import (
	"fmt"
	"strings"
)

// Builders de keys para las políticas compuestas. Todas terminan en el mismo
// primitivo AllowWithLimits; cambia sólo la key y el límite configurado.

// IPPathKey limita por IP + endpoint (uploads, retry).
func IPPathKey(ip, path string) string {
	return "ip:" + sanitize(ip) + ":" + sanitize(path)
}

// UserKey limita por usuario autenticado.
func UserKey(userID string) string {
	return "user:" + sanitize(userID)
}

// EndpointUserKey limita por operación + usuario (ej: retry por usuario).
func EndpointUserKey(endpoint, userID string) string {
	return fmt.Sprintf("ep:%s:%s", sanitize(endpoint), sanitize(userID))
}

// APIKeyKey limita por API key del integrador.
func APIKeyKey(keyID string) string {
	return "ak:" + sanitize(keyID)
}

// TierKey limita por plan + usuario (tiered-by-plan).
func TierKey(plan, userID string) string {
	return fmt.Sprintf("tier:%s:%s", sanitize(plan), sanitize(userID))
}

// GlobalKey es el techo global del servicio.
func GlobalKey() string { return "global" }

func sanitize(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), " ", "_")
}
