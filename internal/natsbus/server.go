package natsbus

import (
	"fmt"
	"os"
	"time"

	"github.com/mkelaidis/agora/internal/config"
	natsserver "github.com/nats-io/nats-server/v2/server"
)

// The backbone is in-process; waiting longer than this means the data
// dir is unusable, not that the server is slow.
const readyTimeout = 5 * time.Second

// Bus wraps an embedded NATS server used as the swarm's event backbone.
// Inbox delivery is handled by the message bus itself; NATS carries the
// telemetry mirror (messages, votes, task transitions, alerts) consumed
// by the monitor and the web event stream.
type Bus struct {
	server *natsserver.Server
	cfg    config.NATSConfig
}

// New starts the embedded server. It binds to loopback only: every
// consumer of the event stream lives in this process or behind the web
// layer's own listener.
func New(cfg config.NATSConfig) (*Bus, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create nats data dir: %w", err)
	}

	opts := &natsserver.Options{
		ServerName: "agora-events",
		Host:       "127.0.0.1",
		Port:       cfg.Port,
		NoLog:      true,
		NoSigs:     true,
		JetStream:  true,
		StoreDir:   cfg.DataDir,
	}

	ns, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(readyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("nats server not ready after %s", readyTimeout)
	}

	return &Bus{
		server: ns,
		cfg:    cfg,
	}, nil
}

func (b *Bus) ClientURL() string {
	return b.server.ClientURL()
}

func (b *Bus) Port() int {
	return b.cfg.Port
}

// NumClients reports connected event stream consumers. The web status
// endpoint surfaces it.
func (b *Bus) NumClients() int {
	return b.server.NumClients()
}

func (b *Bus) Close() {
	b.server.Shutdown()
	b.server.WaitForShutdown()
}
