// Package model define los objetos de modelo del control plane de qdbd:
// servers, users, databases y queues. Todos los objetos llevan una versión
// para optimistic locking: una mutación solo aplica si la versión esperada
// coincide con la almacenada.
package model

import "strings"

// Kind identifica el tipo de objeto de modelo.
type Kind string

const (
	KindServer   Kind = "server"
	KindUser     Kind = "user"
	KindDatabase Kind = "database"
	KindQueue    Kind = "queue"
)

// Valid verifica que el kind sea uno de los conocidos.
func (k Kind) Valid() bool {
	switch k {
	case KindServer, KindUser, KindDatabase, KindQueue:
		return true
	}
	return false
}

// Op identifica la operación de una mutación.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
)

// Valid verifica que la operación sea conocida.
func (o Op) Valid() bool { return o == OpCreate || o == OpUpdate }

// Server es un nodo miembro del cluster. El ID es la identidad estable del
// nodo; URL es la base del API HTTP (usada por el master link).
type Server struct {
	ID      string `json:"id" yaml:"id"`
	URL     string `json:"url" yaml:"url"`
	Version int    `json:"version,omitempty" yaml:"-"`
}

// Equal compara por identidad de nodo, no por puntero.
func (s *Server) Equal(o *Server) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.ID == o.ID
}

func (s *Server) String() string {
	if s == nil {
		return "<none>"
	}
	if s.URL != "" {
		return s.ID + " (" + s.URL + ")"
	}
	return s.ID
}

// User es un usuario del repositorio. El ID es el username.
type User struct {
	ID           string   `json:"id"`
	PasswordHash string   `json:"passwordHash,omitempty"`
	Admin        bool     `json:"admin,omitempty"`
	Databases    []string `json:"databases,omitempty"`
	Version      int      `json:"version,omitempty"`
}

// CanAccess indica si el usuario puede ver la base de datos dada.
func (u *User) CanAccess(db string) bool {
	if u.Admin {
		return true
	}
	for _, d := range u.Databases {
		if d == db {
			return true
		}
	}
	return false
}

// Database agrupa queues bajo un owner.
type Database struct {
	ID      string `json:"id"`
	Owner   string `json:"owner,omitempty"`
	Version int    `json:"version,omitempty"`
}

// Queue es la definición de una cola de mensajes (solo control plane; el
// data path de mensajes vive fuera de este repositorio).
type Queue struct {
	ID             string `json:"id"`
	Database       string `json:"database"`
	MaxSize        int64  `json:"maxSize,omitempty"`
	MaxPayloadSize int    `json:"maxPayloadSize,omitempty"`
	Contents       string `json:"contents,omitempty"` // "json" | "text" | ""
	Version        int    `json:"version,omitempty"`
}

// ValidateID chequea que un id de modelo sea razonable (no vacío, sin '/').
func ValidateID(id string) bool {
	id = strings.TrimSpace(id)
	return id != "" && !strings.ContainsAny(id, "/ \t\n")
}

// Event se publica en el event bus cuando un objeto es creado o actualizado.
type Event struct {
	Kind Kind
	Op   Op
	ID   string // id del objeto afectado
	TxID uint64 // transacción que produjo el cambio
}
