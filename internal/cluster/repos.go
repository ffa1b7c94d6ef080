package cluster

import (
	"github.com/qdb-io/qdbd/internal/domain/model"
	"github.com/qdb-io/qdbd/internal/domain/repository"
)

var _ repository.Repository = (*ClusteredRepository)(nil)

// Los reads van directo al local store: en un follower pueden quedar un
// paso atrás del master, el optimistic locking detecta el conflicto si un
// write se basa en esa lectura vieja.
//
// Los writes pasan por exec, que rutea local o forward según el rol.

func (r *ClusteredRepository) execWrite(kind model.Kind, op model.Op, id string, version int, obj any) error {
	tx, err := repository.NewTx(kind, op, id, version, obj)
	if err != nil {
		return err
	}
	_, err = r.exec(tx)
	return err
}

func (r *ClusteredRepository) FindServer(id string) (*model.Server, error) {
	return r.local.FindServer(id)
}

func (r *ClusteredRepository) CreateServer(s *model.Server) (*model.Server, error) {
	if err := r.execWrite(model.KindServer, model.OpCreate, s.ID, 0, s); err != nil {
		return nil, err
	}
	return r.local.FindServer(s.ID)
}

func (r *ClusteredRepository) UpdateServer(s *model.Server) (*model.Server, error) {
	if err := r.execWrite(model.KindServer, model.OpUpdate, s.ID, s.Version, s); err != nil {
		return nil, err
	}
	return r.local.FindServer(s.ID)
}

func (r *ClusteredRepository) FindServers(offset, limit int) ([]*model.Server, error) {
	return r.local.FindServers(offset, limit)
}

func (r *ClusteredRepository) CountServers() (int, error) { return r.local.CountServers() }

func (r *ClusteredRepository) FindUser(id string) (*model.User, error) {
	return r.local.FindUser(id)
}

func (r *ClusteredRepository) CreateUser(u *model.User) (*model.User, error) {
	if err := r.execWrite(model.KindUser, model.OpCreate, u.ID, 0, u); err != nil {
		return nil, err
	}
	return r.local.FindUser(u.ID)
}

func (r *ClusteredRepository) UpdateUser(u *model.User) (*model.User, error) {
	if err := r.execWrite(model.KindUser, model.OpUpdate, u.ID, u.Version, u); err != nil {
		return nil, err
	}
	return r.local.FindUser(u.ID)
}

func (r *ClusteredRepository) FindUsers(offset, limit int) ([]*model.User, error) {
	return r.local.FindUsers(offset, limit)
}

func (r *ClusteredRepository) CountUsers() (int, error) { return r.local.CountUsers() }

func (r *ClusteredRepository) FindDatabase(id string) (*model.Database, error) {
	return r.local.FindDatabase(id)
}

func (r *ClusteredRepository) CreateDatabase(db *model.Database) (*model.Database, error) {
	if err := r.execWrite(model.KindDatabase, model.OpCreate, db.ID, 0, db); err != nil {
		return nil, err
	}
	return r.local.FindDatabase(db.ID)
}

func (r *ClusteredRepository) UpdateDatabase(db *model.Database) (*model.Database, error) {
	if err := r.execWrite(model.KindDatabase, model.OpUpdate, db.ID, db.Version, db); err != nil {
		return nil, err
	}
	return r.local.FindDatabase(db.ID)
}

func (r *ClusteredRepository) FindDatabases(offset, limit int) ([]*model.Database, error) {
	return r.local.FindDatabases(offset, limit)
}

func (r *ClusteredRepository) CountDatabases() (int, error) { return r.local.CountDatabases() }

func (r *ClusteredRepository) FindQueue(id string) (*model.Queue, error) {
	return r.local.FindQueue(id)
}

func (r *ClusteredRepository) CreateQueue(q *model.Queue) (*model.Queue, error) {
	if err := r.execWrite(model.KindQueue, model.OpCreate, q.ID, 0, q); err != nil {
		return nil, err
	}
	return r.local.FindQueue(q.ID)
}

func (r *ClusteredRepository) UpdateQueue(q *model.Queue) (*model.Queue, error) {
	if err := r.execWrite(model.KindQueue, model.OpUpdate, q.ID, q.Version, q); err != nil {
		return nil, err
	}
	return r.local.FindQueue(q.ID)
}

func (r *ClusteredRepository) FindQueues(offset, limit int) ([]*model.Queue, error) {
	return r.local.FindQueues(offset, limit)
}

func (r *ClusteredRepository) CountQueues() (int, error) { return r.local.CountQueues() }

// TxsSince expone el tail del tx log para que los followers lo repliquen.
func (r *ClusteredRepository) TxsSince(since uint64, limit int) ([]repository.Tx, error) {
	return r.local.TxsSince(since, limit)
}

// LastTxID es el último id aplicado localmente.
func (r *ClusteredRepository) LastTxID() uint64 { return r.local.LastTxID() }
