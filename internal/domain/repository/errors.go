package repository

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indica que el objeto solicitado no existe.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable indica que el repositorio no tiene master confirmado.
	// El caller puede reintentar más tarde; no se mutó ningún dato.
	ErrUnavailable = errors.New("repository not available")

	// ErrNotMaster indica que el nodo que recibió la escritura ya no es
	// master. El rol se resetea; el caller debería reintentar cuando haya
	// un nuevo master.
	ErrNotMaster = errors.New("not cluster master")

	// ErrMasterTimeout indica que no llegó confirmación del master dentro
	// de la ventana configurada. El resultado de la escritura es
	// genuinamente desconocido: la transacción puede haber aplicado igual.
	// La política de reintento es del caller (típicamente re-consultar y
	// recién ahí reintentar); el repositorio nunca reintenta por sí solo.
	ErrMasterTimeout = errors.New("timeout waiting for master")
)

// ModelError es un fallo de validación o conflicto a nivel de modelo.
// Es terminal para el intento actual: reintentar sin corregir los datos
// produce el mismo resultado.
type ModelError struct {
	Msg string
}

func (e *ModelError) Error() string { return e.Msg }

// NewModelError crea un ModelError con formato printf.
func NewModelError(format string, args ...any) *ModelError {
	return &ModelError{Msg: fmt.Sprintf(format, args...)}
}

// OptimisticLockError es el conflicto de versión al aplicar una mutación:
// la versión esperada por el caller ya no es la almacenada.
type OptimisticLockError struct {
	Kind     string
	ID       string
	Expected int
	Actual   int
}

func (e *OptimisticLockError) Error() string {
	return fmt.Sprintf("optimistic lock failed on %s %q: expected version %d, have %d",
		e.Kind, e.ID, e.Expected, e.Actual)
}

// IsModel verifica si el error es de modelo (validación o conflicto de
// versión). Estos errores NUNCA disparan re-elección de master.
func IsModel(err error) bool {
	var me *ModelError
	var ole *OptimisticLockError
	return errors.As(err, &me) || errors.As(err, &ole)
}

// IsNotFound verifica si el error es ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsUnavailable verifica si el error es ErrUnavailable.
func IsUnavailable(err error) bool { return errors.Is(err, ErrUnavailable) }

// IsCluster verifica si el error es de rol de cluster (not-master o
// master-timeout). Solo estos dos resetean el estado de rol.
func IsCluster(err error) bool {
	return errors.Is(err, ErrNotMaster) || errors.Is(err, ErrMasterTimeout)
}
