package config

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/go-pbft/replica/pkg/pbft/types"
)

// RosterEntry is one line of the roster file: (id, hostname, ip,
// listen_port[, replica_port]) for either a replica or a client.
type RosterEntry struct {
	ID          types.ReplicaID
	Hostname    string
	IP          string
	ListenPort  int
	ReplicaPort int // 0 when absent; clients have no replica_port.
	IsClient    bool
}

// Address returns the dial/listen address for this roster entry.
func (e RosterEntry) Address() string {
	return fmt.Sprintf("%s:%d", e.IP, e.ListenPort)
}

// Roster is the full cluster membership (replicas and clients) parsed from
// the roster file named in the bootstrap configuration contract.
type Roster struct {
	Replicas []RosterEntry
	Clients  []RosterEntry
}

// ReplicaByID looks up a replica entry.
func (r Roster) ReplicaByID(id types.ReplicaID) (RosterEntry, bool) {
	for _, e := range r.Replicas {
		if e.ID == id {
			return e, true
		}
	}
	return RosterEntry{}, false
}

// N is the number of replicas in the roster.
func (r Roster) N() int {
	return len(r.Replicas)
}

// ParseRosterFile reads a roster CSV file from path. Lines are
// "id,hostname,ip,listen_port[,replica_port][,client]"; a trailing
// "client" field marks the row as a client rather than a replica. Blank
// lines and lines starting with '#' are ignored.
func ParseRosterFile(path string) (Roster, error) {
	f, err := os.Open(path)
	if err != nil {
		return Roster{}, fmt.Errorf("%w: opening roster file: %v", types.ErrConfig, err)
	}
	defer f.Close()
	return ParseRoster(f)
}

// ParseRoster reads a roster CSV from r. See ParseRosterFile for the
// column contract.
func ParseRoster(r io.Reader) (Roster, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	var roster Roster
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Roster{}, fmt.Errorf("%w: parsing roster: %v", types.ErrConfig, err)
		}
		if len(record) == 0 || (len(record) == 1 && strings.TrimSpace(record[0]) == "") {
			continue
		}
		entry, isClient, err := parseRosterRecord(record)
		if err != nil {
			return Roster{}, err
		}
		if isClient {
			roster.Clients = append(roster.Clients, entry)
		} else {
			roster.Replicas = append(roster.Replicas, entry)
		}
	}
	return roster, nil
}

func parseRosterRecord(record []string) (RosterEntry, bool, error) {
	if len(record) < 4 {
		return RosterEntry{}, false, fmt.Errorf("%w: roster row %v needs at least 4 columns", types.ErrConfig, record)
	}
	id, err := strconv.ParseUint(strings.TrimSpace(record[0]), 10, 32)
	if err != nil {
		return RosterEntry{}, false, fmt.Errorf("%w: roster id %q: %v", types.ErrConfig, record[0], err)
	}
	listenPort, err := strconv.Atoi(strings.TrimSpace(record[3]))
	if err != nil {
		return RosterEntry{}, false, fmt.Errorf("%w: roster listen_port %q: %v", types.ErrConfig, record[3], err)
	}

	entry := RosterEntry{
		ID:         types.ReplicaID(id),
		Hostname:   strings.TrimSpace(record[1]),
		IP:         strings.TrimSpace(record[2]),
		ListenPort: listenPort,
	}

	isClient := false
	for _, extra := range record[4:] {
		extra = strings.TrimSpace(extra)
		if extra == "client" {
			isClient = true
			continue
		}
		if extra == "" {
			continue
		}
		if port, err := strconv.Atoi(extra); err == nil {
			entry.ReplicaPort = port
		}
	}

	return entry, isClient, nil
}
