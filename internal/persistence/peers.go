package persistence

import (
	"database/sql"
	"encoding/json"
	"time"
)

// PeerRecord is a known peer, persisted across restarts so the node has
// somewhere to dial back into the network without waiting on mDNS or DHT
// rediscovery, adapted from internal/storage's peer cache to back
// internal/node's peerstore instead of the exchange's order-routing table.
type PeerRecord struct {
	PeerID          string
	Addresses       []string
	FirstSeen       time.Time
	LastSeen        time.Time
	LastConnected   time.Time
	ConnectionCount int
	IsBootstrap     bool
}

// SavePeer inserts a new peer record or merges addresses/counters into an
// existing one.
func (s *Store) SavePeer(p *PeerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	addrsJSON, err := json.Marshal(p.Addresses)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO peers (peer_id, addresses, first_seen, last_seen, last_connected, connection_count, is_bootstrap)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(peer_id) DO UPDATE SET
			addresses = excluded.addresses,
			last_seen = excluded.last_seen,
			last_connected = CASE WHEN excluded.last_connected > 0 THEN excluded.last_connected ELSE peers.last_connected END,
			connection_count = peers.connection_count + 1,
			is_bootstrap = CASE WHEN excluded.is_bootstrap THEN 1 ELSE peers.is_bootstrap END
	`,
		p.PeerID,
		string(addrsJSON),
		p.FirstSeen.Unix(),
		p.LastSeen.Unix(),
		unixOrZero(p.LastConnected),
		p.ConnectionCount,
		boolToInt(p.IsBootstrap),
	)
	return err
}

// UpdatePeerConnected bumps last_connected/last_seen and increments the
// connection count for an already-known peer.
func (s *Store) UpdatePeerConnected(peerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	_, err := s.db.Exec(
		"UPDATE peers SET last_connected = ?, last_seen = ?, connection_count = connection_count + 1 WHERE peer_id = ?",
		now, now, peerID,
	)
	return err
}

// UpdatePeerSeen bumps last_seen only, for peers observed but not dialed
// (e.g. surfaced via DHT or gossipsub without a direct connection).
func (s *Store) UpdatePeerSeen(peerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("UPDATE peers SET last_seen = ? WHERE peer_id = ?", time.Now().Unix(), peerID)
	return err
}

// ListPeers returns known peers ordered by most recently seen, capped at
// limit (0 means unlimited).
func (s *Store) ListPeers(limit int) ([]*PeerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT peer_id, addresses, first_seen, last_seen, last_connected, connection_count, is_bootstrap
		FROM peers ORDER BY last_seen DESC
	`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.Query(query+" LIMIT ?", limit)
	} else {
		rows, err = s.db.Query(query)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPeerRows(rows)
}

// ListRecentPeers returns peers seen within the last `since`, ordered by
// connection count then recency, for reconnect-on-startup candidate lists.
func (s *Store) ListRecentPeers(since time.Duration, limit int) ([]*PeerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-since).Unix()
	query := `
		SELECT peer_id, addresses, first_seen, last_seen, last_connected, connection_count, is_bootstrap
		FROM peers WHERE last_seen > ?
		ORDER BY connection_count DESC, last_seen DESC
	`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.Query(query+" LIMIT ?", cutoff, limit)
	} else {
		rows, err = s.db.Query(query, cutoff)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPeerRows(rows)
}

// PeerCount returns the total number of known peers.
func (s *Store) PeerCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM peers").Scan(&count)
	return count, err
}

func scanPeerRows(rows *sql.Rows) ([]*PeerRecord, error) {
	var out []*PeerRecord
	for rows.Next() {
		var p PeerRecord
		var addrsJSON string
		var firstSeen, lastSeen, lastConnected int64
		var isBootstrap int

		if err := rows.Scan(&p.PeerID, &addrsJSON, &firstSeen, &lastSeen, &lastConnected, &p.ConnectionCount, &isBootstrap); err != nil {
			return nil, err
		}
		if addrsJSON != "" {
			json.Unmarshal([]byte(addrsJSON), &p.Addresses)
		}
		p.FirstSeen = time.Unix(firstSeen, 0)
		p.LastSeen = time.Unix(lastSeen, 0)
		if lastConnected > 0 {
			p.LastConnected = time.Unix(lastConnected, 0)
		}
		p.IsBootstrap = isBootstrap == 1
		out = append(out, &p)
	}
	return out, rows.Err()
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
