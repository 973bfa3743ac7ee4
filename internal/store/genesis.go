package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

const genesisKey = "genesis"

// ErrGenesisMismatch is returned when a journal is reopened with parameters
// other than the ones it was created with.
var ErrGenesisMismatch = errors.New("genesis mismatch")

// Genesis holds the parameters a journal was created with. Replaying a
// journal under different parameters would produce different ids and
// balances, so they are pinned on first use.
type Genesis struct {
	Admin    string `json:"admin"`
	Manager  string `json:"manager"`
	Cap      string `json:"cap"` // base units
	Decimals int    `json:"decimals"`
	Funding  string `json:"funding"`
	Treasury string `json:"treasury,omitempty"`
}

// PutGenesis records g on first use and verifies it on every later use.
func (s *Store) PutGenesis(ctx context.Context, g Genesis) error {
	existing, ok, err := s.Genesis(ctx)
	if err != nil {
		return err
	}
	if ok {
		if existing != g {
			return fmt.Errorf("%w: journal has %+v, configuration has %+v", ErrGenesisMismatch, existing, g)
		}
		return nil
	}

	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("put genesis: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO NOTHING
	`, genesisKey, string(data))
	if err != nil {
		return fmt.Errorf("put genesis: %w", err)
	}
	return nil
}

// Genesis returns the recorded genesis, if any.
func (s *Store) Genesis(ctx context.Context) (Genesis, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, genesisKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return Genesis{}, false, nil
	}
	if err != nil {
		return Genesis{}, false, fmt.Errorf("read genesis: %w", err)
	}
	var g Genesis
	if err := json.Unmarshal([]byte(value), &g); err != nil {
		return Genesis{}, false, fmt.Errorf("read genesis: %w", err)
	}
	return g, true, nil
}
