package logger

import (
	"context"

	"go.uber.org/zap"
)

// S retorna el SugaredLogger del singleton.
// Útil para logs rápidos con formato printf-style.
//
// Ejemplo:
//
//	logger.S().Infof("attempt %s created", attemptID)
//	logger.S().Errorw("scorer call failed", "error", err, "attempt_id", attemptID)
func S() *zap.SugaredLogger {
	return L().Sugar()
}

// SFrom extrae el SugaredLogger del contexto.
func SFrom(ctx context.Context) *zap.SugaredLogger {
	return From(ctx).Sugar()
}
