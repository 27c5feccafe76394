package profile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/selfscope/selfscope/internal/store"
)

// Store provides SQLite persistence for profiles and their transition log.
type Store struct {
	db *sql.DB
}

// NewStore initializes the profile tables on the given database. The users
// table (internal/account) must be initialized first: profiles carry a
// foreign key to it.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS profiles (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id           INTEGER NOT NULL UNIQUE REFERENCES users(id) ON DELETE CASCADE,
		key               TEXT NOT NULL UNIQUE,
		state             TEXT NOT NULL DEFAULT 'stranger',
		experimental_flag INTEGER NOT NULL DEFAULT 0,
		subscription_id   TEXT NOT NULL DEFAULT '',
		product_id        TEXT NOT NULL DEFAULT '',
		customer_id       TEXT NOT NULL DEFAULT '',
		created_at        INTEGER NOT NULL,
		updated_at        INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_profiles_customer_id ON profiles(customer_id);
	CREATE INDEX IF NOT EXISTS idx_profiles_state ON profiles(state);

	CREATE TABLE IF NOT EXISTS state_transitions (
		seq               INTEGER PRIMARY KEY AUTOINCREMENT,
		profile_id        INTEGER REFERENCES profiles(id) ON DELETE SET NULL,
		from_state        TEXT NOT NULL,
		to_state          TEXT NOT NULL,
		backup_profile_id INTEGER NOT NULL,
		metadata          TEXT,
		created_at        INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transitions_profile ON state_transitions(profile_id, created_at, seq);
	CREATE INDEX IF NOT EXISTS idx_transitions_backup ON state_transitions(backup_profile_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init profile schema: %w", err)
	}
	return nil
}

const profileColumns = `id, user_id, key, state, experimental_flag,
	subscription_id, product_id, customer_id, created_at, updated_at`

// Create inserts a new profile record and assigns its ID.
func (s *Store) Create(ctx context.Context, p *Profile) error {
	if p == nil {
		return fmt.Errorf("profile is nil")
	}
	if p.Key == "" {
		return fmt.Errorf("profile key is required")
	}
	if p.State == "" {
		p.State = StateStranger
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, key, state, experimental_flag,
			subscription_id, product_id, customer_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.UserID, p.Key, string(p.State), boolToInt(p.ExperimentalFlag),
		p.SubscriptionID, p.ProductID, p.CustomerID, p.CreatedAt.Unix(), p.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create profile id: %w", err)
	}
	p.ID = id
	return nil
}

// GetByID retrieves a profile by numeric ID. Returns (nil, nil) when missing.
func (s *Store) GetByID(ctx context.Context, id int64) (*Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = ?`, id)
	return scanProfile(row)
}

// GetByKey retrieves a profile by its public key.
func (s *Store) GetByKey(ctx context.Context, key string) (*Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE key = ?`, key)
	return scanProfile(row)
}

// GetByUserID retrieves the profile linked to a user identity.
func (s *Store) GetByUserID(ctx context.Context, userID int64) (*Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE user_id = ?`, userID)
	return scanProfile(row)
}

// GetByCustomerID retrieves the profile holding a Stripe customer reference.
func (s *Store) GetByCustomerID(ctx context.Context, customerID string) (*Profile, error) {
	if customerID == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE customer_id = ?`, customerID)
	return scanProfile(row)
}

// SetCustomerID persists a Stripe customer reference. Last write wins; there
// is no locking across concurrent billing jobs.
func (s *Store) SetCustomerID(ctx context.Context, id int64, customerID string) error {
	return s.exec(ctx, "set customer id",
		`UPDATE profiles SET customer_id = ?, updated_at = ? WHERE id = ?`,
		customerID, time.Now().UTC().Unix(), id)
}

// SetBillingRefs persists the subscription/product/customer references in one
// write.
func (s *Store) SetBillingRefs(ctx context.Context, id int64, subscriptionID, productID, customerID string) error {
	return s.exec(ctx, "set billing refs",
		`UPDATE profiles SET subscription_id = ?, product_id = ?, customer_id = ?, updated_at = ? WHERE id = ?`,
		subscriptionID, productID, customerID, time.Now().UTC().Unix(), id)
}

// SetState refreshes the cached state column.
func (s *Store) SetState(ctx context.Context, id int64, state State) error {
	return s.exec(ctx, "set state",
		`UPDATE profiles SET state = ?, updated_at = ? WHERE id = ?`,
		string(state), time.Now().UTC().Unix(), id)
}

// SetExperimentalFlag toggles the experimental flag.
func (s *Store) SetExperimentalFlag(ctx context.Context, id int64, flag bool) error {
	return s.exec(ctx, "set experimental flag",
		`UPDATE profiles SET experimental_flag = ?, updated_at = ? WHERE id = ?`,
		boolToInt(flag), time.Now().UTC().Unix(), id)
}

func (s *Store) exec(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%s: profile not found", op)
	}
	return nil
}

// Delete removes a profile. Its transitions survive with profile_id nulled
// and backup_profile_id intact.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM profiles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("delete profile: not found")
	}
	return nil
}

// List returns profiles, optionally filtered by cached state.
func (s *Store) List(ctx context.Context, stateFilter State) ([]*Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles ORDER BY created_at DESC`
	args := []any{}
	if stateFilter != "" {
		query = `SELECT ` + profileColumns + ` FROM profiles WHERE state = ? ORDER BY created_at DESC`
		args = append(args, string(stateFilter))
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// CountByState returns a map of cached state -> count.
func (s *Store) CountByState(ctx context.Context) (map[State]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM profiles GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("count profiles by state: %w", err)
	}
	defer rows.Close()

	counts := make(map[State]int)
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[State(state)] = count
	}
	return counts, rows.Err()
}

// InsertTransition appends one row to the transition log.
func (s *Store) InsertTransition(ctx context.Context, t *StateTransition) error {
	if t == nil {
		return fmt.Errorf("transition is nil")
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	var metadata any
	if t.Metadata != nil {
		raw, err := json.Marshal(t.Metadata)
		if err != nil {
			return fmt.Errorf("marshal transition metadata: %w", err)
		}
		metadata = string(raw)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO state_transitions (profile_id, from_state, to_state, backup_profile_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ProfileID, string(t.FromState), string(t.ToState), t.BackupProfileID, metadata, t.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert transition seq: %w", err)
	}
	t.Seq = seq
	return nil
}

// CurrentState derives the lifecycle state from the transition log: the
// to_state of the row with the latest (created_at, seq), or stranger when the
// log is empty. Seq breaks created_at ties deterministically in favor of the
// later insert.
func (s *Store) CurrentState(ctx context.Context, profileID int64) (State, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT to_state FROM state_transitions
		WHERE profile_id = ?
		ORDER BY created_at DESC, seq DESC
		LIMIT 1`, profileID)

	var toState string
	if err := row.Scan(&toState); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return StateStranger, nil
		}
		return "", fmt.Errorf("resolve current state: %w", err)
	}
	return State(toState), nil
}

// ListTransitions returns the full log for a profile in insertion order,
// keyed by backup_profile_id so the history of a deleted profile remains
// reachable.
func (s *Store) ListTransitions(ctx context.Context, profileID int64) ([]*StateTransition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, profile_id, from_state, to_state, backup_profile_id, metadata, created_at
		FROM state_transitions
		WHERE backup_profile_id = ?
		ORDER BY created_at ASC, seq ASC`, profileID)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	var transitions []*StateTransition
	for rows.Next() {
		t, err := scanTransition(rows)
		if err != nil {
			return nil, err
		}
		transitions = append(transitions, t)
	}
	return transitions, rows.Err()
}

func scanProfile(s store.Scanner) (*Profile, error) {
	var p Profile
	var state string
	var flag int
	var createdAt, updatedAt int64

	err := s.Scan(&p.ID, &p.UserID, &p.Key, &state, &flag,
		&p.SubscriptionID, &p.ProductID, &p.CustomerID, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan profile: %w", err)
	}

	p.State = State(state)
	p.ExperimentalFlag = flag != 0
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	p.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &p, nil
}

func scanTransition(s store.Scanner) (*StateTransition, error) {
	var t StateTransition
	var profileID sql.NullInt64
	var fromState, toState string
	var metadata sql.NullString
	var createdAt int64

	err := s.Scan(&t.Seq, &profileID, &fromState, &toState, &t.BackupProfileID, &metadata, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("scan transition: %w", err)
	}

	if profileID.Valid {
		id := profileID.Int64
		t.ProfileID = &id
	}
	t.FromState = State(fromState)
	t.ToState = State(toState)
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &t.Metadata); err != nil {
			return nil, fmt.Errorf("decode transition metadata: %w", err)
		}
	}
	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
