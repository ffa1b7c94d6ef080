package repository

import (
	"time"

	"github.com/qdb-io/qdbd/internal/domain/model"
)

// Status es el estado del repositorio visible a los callers. UpSince es nil
// cuando el repositorio no tiene master confirmado.
type Status struct {
	UpSince *time.Time `json:"upSince,omitempty"`
}

// IsUp indica si el repositorio está disponible (hay master confirmado).
func (s Status) IsUp() bool { return s.UpSince != nil }

// Repository es el contrato uniforme de persistencia de objetos de modelo.
// Los callers ven el mismo contrato sin importar el rol del nodo que
// alcanzaron; las escrituras se rutean internamente al master.
type Repository interface {
	Status() Status

	FindServer(id string) (*model.Server, error)
	CreateServer(s *model.Server) (*model.Server, error)
	UpdateServer(s *model.Server) (*model.Server, error)
	FindServers(offset, limit int) ([]*model.Server, error)
	CountServers() (int, error)

	FindUser(id string) (*model.User, error)
	CreateUser(u *model.User) (*model.User, error)
	UpdateUser(u *model.User) (*model.User, error)
	FindUsers(offset, limit int) ([]*model.User, error)
	CountUsers() (int, error)

	FindDatabase(id string) (*model.Database, error)
	CreateDatabase(db *model.Database) (*model.Database, error)
	UpdateDatabase(db *model.Database) (*model.Database, error)
	FindDatabases(offset, limit int) ([]*model.Database, error)
	CountDatabases() (int, error)

	FindQueue(id string) (*model.Queue, error)
	CreateQueue(q *model.Queue) (*model.Queue, error)
	UpdateQueue(q *model.Queue) (*model.Queue, error)
	FindQueues(offset, limit int) ([]*model.Queue, error)
	CountQueues() (int, error)

	Close() error
}
