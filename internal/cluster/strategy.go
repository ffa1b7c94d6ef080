// Package cluster implementa el repositorio clusterizado: replicación de
// transacciones vía master electo y failover. Todas las escrituras las
// ejecuta el local store del master y se replican a los demás nodos, así que
// los followers pueden estar levemente desfasados; el optimistic locking
// garantiza que eso no cause updates perdidos.
package cluster

import (
	"github.com/qdb-io/qdbd/internal/domain/model"
	"github.com/qdb-io/qdbd/internal/eventbus"
)

// MasterFound se publica en el event bus cada vez que la estrategia de
// elección cambia su creencia sobre quién es master, incluido el arranque.
type MasterFound struct {
	Master *model.Server
}

func (ev MasterFound) String() string { return "master found: " + ev.Master.String() }

// MasterStrategy determina asincrónicamente qué miembro del cluster es el
// master actual y anuncia los cambios con eventos MasterFound. No aplica
// transacciones ni posee datos del modelo.
type MasterStrategy interface {
	// ChooseMaster (re)evalúa quién es master. No bloquea al caller y es
	// idempotente: llamadas concurrentes colapsan en una sola evaluación.
	ChooseMaster()

	Close() error
}

// Static es la estrategia para deployments de un solo nodo: siempre anuncia
// al propio nodo como master.
type Static struct {
	bus  *eventbus.Bus
	self *model.Server
}

// NewStatic crea la estrategia estática.
func NewStatic(bus *eventbus.Bus, self *model.Server) *Static {
	return &Static{bus: bus, self: self}
}

func (s *Static) ChooseMaster() {
	go s.bus.Publish(MasterFound{Master: s.self})
}

func (s *Static) Close() error { return nil }
