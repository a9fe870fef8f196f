package config_test

import (
	"strings"
	"testing"

	"github.com/go-pbft/replica/pkg/pbft/config"
)

const sampleRoster = `
# replica rows: id,hostname,ip,listen_port[,replica_port]
0,node0,127.0.0.1,10000
1,node1,127.0.0.1,10001
2,node2,127.0.0.1,10002
3,node3,127.0.0.1,10003

# client rows carry a trailing "client" marker
65536,client0,127.0.0.1,20000,client
`

func TestParseRosterSeparatesClientsAndReplicas(t *testing.T) {
	roster, err := config.ParseRoster(strings.NewReader(sampleRoster))
	if err != nil {
		t.Fatalf("parsing roster: %v", err)
	}
	if roster.N() != 4 {
		t.Fatalf("expected 4 replicas, got %d", roster.N())
	}
	if len(roster.Clients) != 1 {
		t.Fatalf("expected 1 client, got %d", len(roster.Clients))
	}

	entry, ok := roster.ReplicaByID(2)
	if !ok {
		t.Fatal("expected to find replica 2")
	}
	if entry.Address() != "127.0.0.1:10002" {
		t.Fatalf("unexpected address: %s", entry.Address())
	}
}

func TestParseRosterRejectsShortRows(t *testing.T) {
	_, err := config.ParseRoster(strings.NewReader("0,node0,127.0.0.1\n"))
	if err == nil {
		t.Fatal("expected an error for a row missing listen_port")
	}
}

func TestParseRosterWithReplicaPort(t *testing.T) {
	roster, err := config.ParseRoster(strings.NewReader("0,node0,127.0.0.1,10000,10001\n"))
	if err != nil {
		t.Fatalf("parsing roster: %v", err)
	}
	entry, ok := roster.ReplicaByID(0)
	if !ok {
		t.Fatal("expected to find replica 0")
	}
	if entry.ReplicaPort != 10001 {
		t.Fatalf("expected replica_port 10001, got %d", entry.ReplicaPort)
	}
}
