package events

import (
	"fmt"

	"github.com/nats-io/nats-server/v2/server"

	"github.com/lifelog/lifelog/internal/utils"
)

// StartEmbeddedNATS starts an in-process NATS server with JetStream on a
// random local port. storeDir holds the stream data; empty selects a
// temporary directory.
func StartEmbeddedNATS(storeDir string) (*server.Server, error) {
	opts := &server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  storeDir,
		NoSigs:    true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedded NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(utils.EmbeddedNATSReadyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded NATS server not ready after %s", utils.EmbeddedNATSReadyTimeout)
	}
	return ns, nil
}
