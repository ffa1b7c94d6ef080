package standalone

import (
	"github.com/qdb-io/qdbd/internal/domain/model"
)

// Métodos tipados del contrato repository.Repository. Todos delegan en los
// helpers genéricos; la semántica de versiones vive en Exec.

func (s *Store) FindServer(id string) (*model.Server, error) {
	return findOne[model.Server](s, model.KindServer, id)
}

func (s *Store) CreateServer(sv *model.Server) (*model.Server, error) {
	if _, err := execObj(s, model.KindServer, model.OpCreate, sv.ID, 0, sv); err != nil {
		return nil, err
	}
	return s.FindServer(sv.ID)
}

func (s *Store) UpdateServer(sv *model.Server) (*model.Server, error) {
	if _, err := execObj(s, model.KindServer, model.OpUpdate, sv.ID, sv.Version, sv); err != nil {
		return nil, err
	}
	return s.FindServer(sv.ID)
}

func (s *Store) FindServers(offset, limit int) ([]*model.Server, error) {
	return findAll[model.Server](s, model.KindServer, offset, limit)
}

func (s *Store) CountServers() (int, error) { return s.count(model.KindServer), nil }

func (s *Store) FindUser(id string) (*model.User, error) {
	return findOne[model.User](s, model.KindUser, id)
}

func (s *Store) CreateUser(u *model.User) (*model.User, error) {
	if _, err := execObj(s, model.KindUser, model.OpCreate, u.ID, 0, u); err != nil {
		return nil, err
	}
	return s.FindUser(u.ID)
}

func (s *Store) UpdateUser(u *model.User) (*model.User, error) {
	if _, err := execObj(s, model.KindUser, model.OpUpdate, u.ID, u.Version, u); err != nil {
		return nil, err
	}
	return s.FindUser(u.ID)
}

func (s *Store) FindUsers(offset, limit int) ([]*model.User, error) {
	return findAll[model.User](s, model.KindUser, offset, limit)
}

func (s *Store) CountUsers() (int, error) { return s.count(model.KindUser), nil }

func (s *Store) FindDatabase(id string) (*model.Database, error) {
	return findOne[model.Database](s, model.KindDatabase, id)
}

func (s *Store) CreateDatabase(db *model.Database) (*model.Database, error) {
	if _, err := execObj(s, model.KindDatabase, model.OpCreate, db.ID, 0, db); err != nil {
		return nil, err
	}
	return s.FindDatabase(db.ID)
}

func (s *Store) UpdateDatabase(db *model.Database) (*model.Database, error) {
	if _, err := execObj(s, model.KindDatabase, model.OpUpdate, db.ID, db.Version, db); err != nil {
		return nil, err
	}
	return s.FindDatabase(db.ID)
}

func (s *Store) FindDatabases(offset, limit int) ([]*model.Database, error) {
	return findAll[model.Database](s, model.KindDatabase, offset, limit)
}

func (s *Store) CountDatabases() (int, error) { return s.count(model.KindDatabase), nil }

func (s *Store) FindQueue(id string) (*model.Queue, error) {
	return findOne[model.Queue](s, model.KindQueue, id)
}

func (s *Store) CreateQueue(q *model.Queue) (*model.Queue, error) {
	if _, err := execObj(s, model.KindQueue, model.OpCreate, q.ID, 0, q); err != nil {
		return nil, err
	}
	return s.FindQueue(q.ID)
}

func (s *Store) UpdateQueue(q *model.Queue) (*model.Queue, error) {
	if _, err := execObj(s, model.KindQueue, model.OpUpdate, q.ID, q.Version, q); err != nil {
		return nil, err
	}
	return s.FindQueue(q.ID)
}

func (s *Store) FindQueues(offset, limit int) ([]*model.Queue, error) {
	return findAll[model.Queue](s, model.KindQueue, offset, limit)
}

func (s *Store) CountQueues() (int, error) { return s.count(model.KindQueue), nil }
