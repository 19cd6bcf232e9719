package persistence

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/klingon-exchange/swapd/internal/rfc003"
)

// SwapRecord is the on-disk form of everything the coordinator negotiated
// for one swap at Accept time.
type SwapRecord struct {
	SwapId       rfc003.SwapId
	Role         rfc003.Role
	Counterparty peer.ID
	StartOfSwap  int64
	Request      rfc003.SwapRequest
	Accept       rfc003.SwapAccept
	CreatedAt    time.Time
}

// SaveSwap writes a swap record. Swaps are immutable once accepted, so this
// is an insert-only write: a second SaveSwap for an already-known SwapId
// would violate the primary key and is treated as a caller bug rather than
// silently ignored.
func (s *Store) SaveSwap(rec SwapRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reqJSON, err := json.Marshal(rec.Request)
	if err != nil {
		return fmt.Errorf("persistence: marshal swap request: %w", err)
	}
	acceptJSON, err := json.Marshal(rec.Accept)
	if err != nil {
		return fmt.Errorf("persistence: marshal swap accept: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO swaps (swap_id, role, counterparty_peer_id, start_of_swap, request_json, accept_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.SwapId.String(),
		string(rec.Role),
		rec.Counterparty.String(),
		rec.StartOfSwap,
		string(reqJSON),
		string(acceptJSON),
		rec.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("persistence: save swap %s: %w", rec.SwapId, err)
	}
	return nil
}

// GetSwap retrieves one swap record by id.
func (s *Store) GetSwap(id rfc003.SwapId) (*SwapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT swap_id, role, counterparty_peer_id, start_of_swap, request_json, accept_json, created_at
		 FROM swaps WHERE swap_id = ?`,
		id.String(),
	)
	return scanSwapRecord(row)
}

// ListSwaps returns every persisted swap record, oldest first, for startup
// rehydration.
func (s *Store) ListSwaps() ([]SwapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT swap_id, role, counterparty_peer_id, start_of_swap, request_json, accept_json, created_at
		 FROM swaps ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("persistence: list swaps: %w", err)
	}
	defer rows.Close()

	var out []SwapRecord
	for rows.Next() {
		rec, err := scanSwapRecordRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSwapRecord(row *sql.Row) (*SwapRecord, error) {
	rec, err := scanSwapRow(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("persistence: %w", err)
	}
	return rec, err
}

func scanSwapRecordRows(rows *sql.Rows) (*SwapRecord, error) {
	return scanSwapRow(rows)
}

func scanSwapRow(r rowScanner) (*SwapRecord, error) {
	var (
		swapIDStr     string
		role          string
		counterparty  string
		startOfSwap   int64
		reqJSON       string
		acceptJSON    string
		createdAtUnix int64
	)

	if err := r.Scan(&swapIDStr, &role, &counterparty, &startOfSwap, &reqJSON, &acceptJSON, &createdAtUnix); err != nil {
		return nil, err
	}

	id, err := rfc003.ParseSwapId(swapIDStr)
	if err != nil {
		return nil, fmt.Errorf("persistence: parse stored swap id %q: %w", swapIDStr, err)
	}

	var rec SwapRecord
	rec.SwapId = id
	rec.Role = rfc003.Role(role)
	rec.Counterparty = peer.ID(counterparty)
	rec.StartOfSwap = startOfSwap
	rec.CreatedAt = time.Unix(createdAtUnix, 0)

	if err := json.Unmarshal([]byte(reqJSON), &rec.Request); err != nil {
		return nil, fmt.Errorf("persistence: unmarshal stored swap request: %w", err)
	}
	if err := json.Unmarshal([]byte(acceptJSON), &rec.Accept); err != nil {
		return nil, fmt.Errorf("persistence: unmarshal stored swap accept: %w", err)
	}

	return &rec, nil
}
