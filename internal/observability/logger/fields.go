package logger

import (
	"time"

	"go.uber.org/zap"
)

// =================================================================================
// CAMPOS ESTÁNDAR - HTTP
// =================================================================================

// RequestID crea un campo para el ID del request.
func RequestID(v string) zap.Field {
	return zap.String("request_id", v)
}

// Method crea un campo para el método HTTP.
func Method(v string) zap.Field {
	return zap.String("method", v)
}

// Path crea un campo para el path del request.
func Path(v string) zap.Field {
	return zap.String("path", v)
}

// Status crea un campo para el status code HTTP.
func Status(v int) zap.Field {
	return zap.Int("status", v)
}

// DurationMs crea un campo para la duración en milisegundos.
func DurationMs(v int64) zap.Field {
	return zap.Int64("duration_ms", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - CLUSTER
// =================================================================================

// TxID crea un campo para el id de transacción.
func TxID(v uint64) zap.Field {
	return zap.Uint64("tx_id", v)
}

// Master crea un campo para la identidad del master actual.
func Master(v string) zap.Field {
	return zap.String("master", v)
}

// NodeID crea un campo para la identidad de un nodo.
func NodeID(v string) zap.Field {
	return zap.String("node_id", v)
}

// Kind crea un campo para el tipo de objeto de modelo.
func Kind(v string) zap.Field {
	return zap.String("kind", v)
}

// EntityID crea un campo para el id del objeto de modelo.
func EntityID(v string) zap.Field {
	return zap.String("entity_id", v)
}

// Timeout crea un campo para una ventana de timeout.
func Timeout(v time.Duration) zap.Field {
	return zap.Duration("timeout", v)
}

// =================================================================================
// CAMPOS GENÉRICOS
// =================================================================================

// Op crea un campo para el nombre de la operación en curso.
func Op(v string) zap.Field {
	return zap.String("op", v)
}

// Component crea un campo para el componente que loguea.
func Component(v string) zap.Field {
	return zap.String("component", v)
}

// Err crea un campo para un error.
func Err(err error) zap.Field {
	return zap.Error(err)
}

// String crea un campo string genérico.
func String(k, v string) zap.Field {
	return zap.String(k, v)
}

// Int crea un campo int genérico.
func Int(k string, v int) zap.Field {
	return zap.Int(k, v)
}

// Any crea un campo genérico para cualquier valor.
func Any(k string, v any) zap.Field {
	return zap.Any(k, v)
}
