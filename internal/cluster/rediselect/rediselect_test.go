package rediselect

import (
	"testing"
	"time"

	"github.com/qdb-io/qdbd/internal/cluster"
	"github.com/qdb-io/qdbd/internal/domain/model"
	"github.com/qdb-io/qdbd/internal/eventbus"
)

// newBareStrategy arma una Strategy sin loop ni cliente Redis: alcanza para
// ejercitar el contrato de anuncios, que es puro estado local.
func newBareStrategy(bus *eventbus.Bus) *Strategy {
	return &Strategy{
		bus:  bus,
		self: &model.Server{ID: "node-a", URL: "http://node-a:9090"},
		kick: make(chan struct{}, 1),
	}
}

func collectMasters(bus *eventbus.Bus) *[]string {
	var seen []string
	bus.Subscribe(func(ev any) {
		if mf, ok := ev.(cluster.MasterFound); ok {
			seen = append(seen, mf.Master.ID)
		}
	})
	return &seen
}

func TestAnnounceDedupsUnchangedMaster(t *testing.T) {
	bus := eventbus.New()
	seen := collectMasters(bus)
	s := newBareStrategy(bus)

	master := &model.Server{ID: "node-b", URL: "http://node-b:9090"}
	s.announce(master)
	s.announce(master)
	s.announce(master)

	if len(*seen) != 1 || (*seen)[0] != "node-b" {
		t.Fatalf("announcements = %v, want exactly one for node-b", *seen)
	}

	// Un master distinto sí se anuncia.
	s.announce(&model.Server{ID: "node-c"})
	if len(*seen) != 2 || (*seen)[1] != "node-c" {
		t.Fatalf("announcements = %v, want node-b then node-c", *seen)
	}
}

// Tras una re-elección (MasterTimeout o NotMaster) el repositorio descartó su
// rol y queda Unavailable hasta el próximo MasterFound. ChooseMaster tiene
// que re-anunciar incluso si el holder del lease no cambió; si no, el nodo
// queda no disponible para siempre.
func TestChooseMasterReannouncesUnchangedHolder(t *testing.T) {
	bus := eventbus.New()
	seen := collectMasters(bus)
	s := newBareStrategy(bus)

	master := &model.Server{ID: "node-b", URL: "http://node-b:9090"}
	s.announce(master)
	if len(*seen) != 1 {
		t.Fatalf("announcements = %v, want the initial one", *seen)
	}

	s.ChooseMaster()

	// La iteración kickeada vuelve a observar el mismo holder.
	s.announce(master)
	if len(*seen) != 2 {
		t.Fatalf("announcements = %v, want a re-announcement after ChooseMaster", *seen)
	}
}

func TestChooseMasterKicksTheLoop(t *testing.T) {
	s := newBareStrategy(eventbus.New())

	s.ChooseMaster()
	select {
	case <-s.kick:
	case <-time.After(time.Second):
		t.Fatal("ChooseMaster did not kick an iteration")
	}

	// Con una iteración ya pendiente no bloquea.
	s.ChooseMaster()
	s.ChooseMaster()
}

func TestAnnounceAfterCloseIsSilent(t *testing.T) {
	bus := eventbus.New()
	seen := collectMasters(bus)
	s := newBareStrategy(bus)
	s.closed = true

	s.announce(&model.Server{ID: "node-b"})
	if len(*seen) != 0 {
		t.Fatalf("announcements = %v, want none after close", *seen)
	}
}
