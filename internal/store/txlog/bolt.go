package txlog

import (
	"encoding/binary"
	"fmt"

	"github.com/boltdb/bolt"
)

var boltBucket = []byte("txlog")

// Bolt es el backend durable de un solo archivo. Mismo engine que usa el
// log de la estrategia raft, así un nodo no mezcla motores de storage.
type Bolt struct {
	db *bolt.DB
}

// OpenBolt abre (o crea) el archivo del log.
func OpenBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("txlog: open bolt: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("txlog: init bucket: %w", err)
	}
	return &Bolt{db: db}, nil
}

func itob(id uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], id)
	return b[:]
}

func (l *Bolt) Append(data []byte) (uint64, error) {
	var id uint64
	err := l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(boltBucket)
		id = lastID(b) + 1
		return b.Put(itob(id), data)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (l *Bolt) AppendAt(id uint64, data []byte) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(boltBucket)
		if id != lastID(b)+1 {
			return ErrOutOfSequence
		}
		return b.Put(itob(id), data)
	})
}

func (l *Bolt) ReadFrom(since uint64, limit int) ([]Entry, error) {
	var out []Entry
	err := l.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(boltBucket).Cursor()
		for k, v := c.Seek(itob(since + 1)); k != nil; k, v = c.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			data := make([]byte, len(v))
			copy(data, v)
			out = append(out, Entry{ID: binary.BigEndian.Uint64(k), Data: data})
		}
		return nil
	})
	return out, err
}

func (l *Bolt) Last() (uint64, error) {
	var id uint64
	err := l.db.View(func(tx *bolt.Tx) error {
		id = lastID(tx.Bucket(boltBucket))
		return nil
	})
	return id, err
}

func lastID(b *bolt.Bucket) uint64 {
	k, _ := b.Cursor().Last()
	if k == nil {
		return 0
	}
	return binary.BigEndian.Uint64(k)
}

func (l *Bolt) Close() error { return l.db.Close() }
