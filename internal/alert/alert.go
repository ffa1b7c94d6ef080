// Package alert manda avisos por mail ante eventos de cluster que un
// operador quiere ver: pérdida de master, master nuevo adoptado. Se cuelga
// del event bus y manda en background; un SMTP caído jamás frena el
// failover.
package alert

import (
	"crypto/tls"
	"fmt"
	"time"

	mail "github.com/go-mail/mail"

	"github.com/qdb-io/qdbd/internal/cluster"
	"github.com/qdb-io/qdbd/internal/domain/repository"
	"github.com/qdb-io/qdbd/internal/eventbus"
	"github.com/qdb-io/qdbd/internal/observability/logger"
)

// Config del canal SMTP. Disabled si To está vacío.
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
	SSL      bool   `yaml:"ssl"`
}

// Notifier observa el bus y traduce eventos de cluster a mails.
type Notifier struct {
	cfg         Config
	nodeID      string
	unsubscribe func()
}

// New registra el notifier en el bus. Si cfg.To está vacío devuelve un
// notifier inerte.
func New(cfg Config, nodeID string, bus *eventbus.Bus) *Notifier {
	n := &Notifier{cfg: cfg, nodeID: nodeID}
	if cfg.To == "" {
		return n
	}
	n.unsubscribe = bus.Subscribe(n.onEvent)
	return n
}

func (n *Notifier) onEvent(ev any) {
	switch e := ev.(type) {
	case cluster.MasterFound:
		go n.send("qdb: master elected",
			fmt.Sprintf("Node %s adopted master %s at %s.", n.nodeID, e.Master.ID, e.Master.URL))
	case repository.Status:
		if !e.IsUp() {
			go n.send("qdb: cluster unavailable",
				fmt.Sprintf("Node %s lost its master and is re-electing.", n.nodeID))
		}
	}
}

func (n *Notifier) send(subject, body string) {
	m := mail.NewMessage()
	m.SetHeader("From", n.cfg.From)
	m.SetHeader("To", n.cfg.To)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body+"\n\nSent at "+time.Now().UTC().Format(time.RFC3339))

	d := mail.NewDialer(n.cfg.Host, n.cfg.Port, n.cfg.Username, n.cfg.Password)
	d.TLSConfig = &tls.Config{ServerName: n.cfg.Host}
	d.SSL = n.cfg.SSL

	if err := d.DialAndSend(m); err != nil {
		logger.L().Warn("alert mail failed",
			logger.Component("alert"),
			logger.String("subject", subject),
			logger.Err(err),
		)
	}
}

// Close desuscribe el notifier del bus.
func (n *Notifier) Close() error {
	if n.unsubscribe != nil {
		n.unsubscribe()
	}
	return nil
}
