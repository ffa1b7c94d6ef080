// Package eventbus provee un pub/sub in-process mínimo para eventos de
// modelo, de status y de elección de master. El dispatch es sincrónico y en
// orden de suscripción; los handlers no deben bloquear.
package eventbus

import "sync"

// Handler recibe cada evento publicado. Los handlers filtran por tipo con un
// type switch.
type Handler func(ev any)

// Bus es un event bus con suscripción scoped: Subscribe retorna la función
// de desuscripción, que el dueño de la suscripción debe llamar al cerrar.
type Bus struct {
	mu   sync.RWMutex
	next int
	subs map[int]Handler
}

// New crea un Bus vacío.
func New() *Bus {
	return &Bus{subs: make(map[int]Handler)}
}

// Subscribe registra un handler y retorna su función de desuscripción.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = h
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish entrega ev a todos los handlers suscriptos, sincrónicamente.
func (b *Bus) Publish(ev any) {
	b.mu.RLock()
	hs := make([]Handler, 0, len(b.subs))
	for _, h := range b.subs {
		hs = append(hs, h)
	}
	b.mu.RUnlock()

	for _, h := range hs {
		h(ev)
	}
}
