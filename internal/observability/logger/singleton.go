package logger

import (
	"sync"

	"go.uber.org/zap"
)

var (
	once     sync.Once
	instance *zap.Logger
)

// Init construye el logger global una única vez; llamadas posteriores
// no tienen efecto. Se invoca desde main antes de cualquier log.
func Init(cfg Config) {
	once.Do(func() {
		instance = build(cfg)
	})
}

// L devuelve el logger global. Si nadie llamó Init (tests, verictl),
// se autoconfigura en modo dev/info.
func L() *zap.Logger {
	if instance == nil {
		Init(Config{Env: "dev", Level: "info"})
	}
	return instance
}

// Named etiqueta los logs con el componente de origen.
func Named(name string) *zap.Logger {
	return L().Named(name)
}

// With fija campos persistentes, p.ej. attempt_id dentro del orquestador.
func With(fields ...zap.Field) *zap.Logger {
	return L().With(fields...)
}

// Sync flushea los buffers pendientes; va en un defer de main.
func Sync() error {
	if instance != nil {
		return instance.Sync()
	}
	return nil
}
