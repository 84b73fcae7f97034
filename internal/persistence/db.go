// Package persistence stores game instances: the world, its nations, and the
// tick audit trail. DB is the SQLite store; RedisStore is the alternative.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/talgya/cli-mmo/internal/engine"
	"github.com/talgya/cli-mmo/internal/social"
	"github.com/talgya/cli-mmo/internal/world"
)

var (
	ErrPersistence      = eris.New("persistence error")
	ErrInstanceNotFound = eris.New("game instance not found")
)

// Instance describes a stored game instance.
type Instance struct {
	ID        string    `json:"id"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Seed      int64     `json:"seed"`
	CreatedAt time.Time `json:"created_at"`
}

// DB wraps a SQLite connection for game instance persistence.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, eris.Wrapf(ErrPersistence, "open db: %v", err)
	}
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, eris.Wrapf(ErrPersistence, "migrate: %v", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS game_instances (
		id TEXT PRIMARY KEY,
		width INTEGER NOT NULL,
		height INTEGER NOT NULL,
		seed INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS territories (
		instance_id TEXT NOT NULL REFERENCES game_instances(id) ON DELETE CASCADE,
		id TEXT NOT NULL,
		q INTEGER NOT NULL,
		r INTEGER NOT NULL,
		biome TEXT NOT NULL,
		claimed INTEGER NOT NULL,
		claimed_by TEXT NOT NULL,
		max_bc INTEGER NOT NULL,
		current_bc INTEGER NOT NULL,
		claim_history_json TEXT NOT NULL,
		PRIMARY KEY (instance_id, id),
		UNIQUE (instance_id, q, r)
	);

	CREATE TABLE IF NOT EXISTS territory_resources (
		instance_id TEXT NOT NULL,
		territory_id TEXT NOT NULL,
		resource TEXT NOT NULL,
		amount INTEGER NOT NULL,
		PRIMARY KEY (instance_id, territory_id, resource)
	);

	CREATE TABLE IF NOT EXISTS territory_claims (
		instance_id TEXT NOT NULL,
		territory_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		claim_json TEXT NOT NULL,
		PRIMARY KEY (instance_id, territory_id, position)
	);

	CREATE TABLE IF NOT EXISTS nations (
		instance_id TEXT NOT NULL REFERENCES game_instances(id) ON DELETE CASCADE,
		id TEXT NOT NULL,
		name TEXT NOT NULL,
		code TEXT NOT NULL,
		leader_id TEXT NOT NULL,
		PRIMARY KEY (instance_id, id)
	);

	CREATE TABLE IF NOT EXISTS nation_territories (
		instance_id TEXT NOT NULL,
		nation_id TEXT NOT NULL,
		territory_id TEXT NOT NULL,
		PRIMARY KEY (instance_id, territory_id)
	);

	CREATE TABLE IF NOT EXISTS nation_resources (
		instance_id TEXT NOT NULL,
		nation_id TEXT NOT NULL,
		resource TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		amount INTEGER NOT NULL,
		PRIMARY KEY (instance_id, nation_id, resource)
	);

	CREATE TABLE IF NOT EXISTS tick_records (
		instance_id TEXT NOT NULL,
		tick INTEGER NOT NULL,
		id TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		status TEXT NOT NULL,
		completed_json TEXT NOT NULL,
		failed_json TEXT NOT NULL,
		PRIMARY KEY (instance_id, tick)
	);

	CREATE TABLE IF NOT EXISTS world_meta (
		instance_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (instance_id, key)
	);

	CREATE INDEX IF NOT EXISTS idx_nation_territories_nation ON nation_territories(instance_id, nation_id);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// HasInstance reports whether an instance has been created.
func (db *DB) HasInstance(ctx context.Context, id string) (bool, error) {
	var n int
	if err := db.conn.GetContext(ctx, &n, "SELECT COUNT(*) FROM game_instances WHERE id = ?", id); err != nil {
		return false, eris.Wrapf(ErrPersistence, "lookup instance %s: %v", id, err)
	}
	return n > 0, nil
}

// GetInstance returns the stored instance description.
func (db *DB) GetInstance(ctx context.Context, id string) (Instance, error) {
	var row struct {
		ID        string `db:"id"`
		Width     int    `db:"width"`
		Height    int    `db:"height"`
		Seed      int64  `db:"seed"`
		CreatedAt int64  `db:"created_at"`
	}
	err := db.conn.GetContext(ctx, &row, "SELECT id, width, height, seed, created_at FROM game_instances WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return Instance{}, eris.Wrapf(ErrInstanceNotFound, "instance %s", id)
	}
	if err != nil {
		return Instance{}, eris.Wrapf(ErrPersistence, "get instance %s: %v", id, err)
	}
	return Instance{ID: row.ID, Width: row.Width, Height: row.Height, Seed: row.Seed,
		CreatedAt: time.Unix(row.CreatedAt, 0).UTC()}, nil
}

// CreateInstance registers a new instance.
func (db *DB) CreateInstance(ctx context.Context, inst Instance) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO game_instances (id, width, height, seed, created_at) VALUES (?, ?, ?, ?, ?)",
		inst.ID, inst.Width, inst.Height, inst.Seed, inst.CreatedAt.Unix(),
	)
	if err != nil {
		return eris.Wrapf(ErrPersistence, "create instance %s: %v", inst.ID, err)
	}
	return nil
}

type territoryRow struct {
	ID               string `db:"id"`
	Q                int    `db:"q"`
	R                int    `db:"r"`
	Biome            string `db:"biome"`
	Claimed          bool   `db:"claimed"`
	ClaimedBy        string `db:"claimed_by"`
	MaxBC            int    `db:"max_bc"`
	CurrentBC        int    `db:"current_bc"`
	ClaimHistoryJSON string `db:"claim_history_json"`
}

// SaveWorld writes every territory of the instance (full replace).
func (db *DB) SaveWorld(ctx context.Context, instanceID string, m *world.Map) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return eris.Wrapf(ErrPersistence, "begin: %v", err)
	}
	defer tx.Rollback()

	if err := writeWorld(ctx, tx, instanceID, m); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return eris.Wrapf(ErrPersistence, "commit world: %v", err)
	}
	return nil
}

// SaveSnapshot replaces the world and the nations and records tick as the
// last completed tick, all in one transaction.
func (db *DB) SaveSnapshot(ctx context.Context, instanceID string, m *world.Map, nations []*social.Nation, tick uint64) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return eris.Wrapf(ErrPersistence, "begin: %v", err)
	}
	defer tx.Rollback()

	if err := writeWorld(ctx, tx, instanceID, m); err != nil {
		return err
	}
	if err := writeNations(ctx, tx, instanceID, nations); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO world_meta (instance_id, key, value) VALUES (?, ?, ?)",
		instanceID, MetaLastTick, FormatTick(tick)); err != nil {
		return eris.Wrapf(ErrPersistence, "save meta %s: %v", MetaLastTick, err)
	}
	if err := tx.Commit(); err != nil {
		return eris.Wrapf(ErrPersistence, "commit snapshot: %v", err)
	}
	return nil
}

func writeWorld(ctx context.Context, tx *sqlx.Tx, instanceID string, m *world.Map) error {
	set := world.Flatten(m, instanceID)
	for _, table := range []string{"territories", "territory_resources", "territory_claims"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE instance_id = ?", instanceID); err != nil {
			return eris.Wrapf(ErrPersistence, "clear %s: %v", table, err)
		}
	}

	terrStmt, err := tx.PreparexContext(ctx, `INSERT INTO territories
		(instance_id, id, q, r, biome, claimed, claimed_by, max_bc, current_bc, claim_history_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrapf(ErrPersistence, "prepare territories: %v", err)
	}
	defer terrStmt.Close()

	for _, t := range set.Territories {
		history, err := json.Marshal(t.ClaimHistory)
		if err != nil {
			return eris.Wrapf(ErrPersistence, "encode claim history %s: %v", t.ID, err)
		}
		_, err = terrStmt.ExecContext(ctx, instanceID, t.ID, t.Q, t.R, string(t.Biome),
			t.Claimed, t.ClaimedBy, t.MaxBC, t.CurrentBC, string(history))
		if err != nil {
			return eris.Wrapf(ErrPersistence, "insert territory %s: %v", t.ID, err)
		}
	}

	resStmt, err := tx.PreparexContext(ctx,
		"INSERT INTO territory_resources (instance_id, territory_id, resource, amount) VALUES (?, ?, ?, ?)")
	if err != nil {
		return eris.Wrapf(ErrPersistence, "prepare resources: %v", err)
	}
	defer resStmt.Close()
	for _, r := range set.Resources {
		if _, err := resStmt.ExecContext(ctx, instanceID, r.TerritoryID, string(r.Resource), r.Amount); err != nil {
			return eris.Wrapf(ErrPersistence, "insert resource %s/%s: %v", r.TerritoryID, r.Resource, err)
		}
	}

	for _, c := range set.Claims {
		claim, err := json.Marshal(c.Claim)
		if err != nil {
			return eris.Wrapf(ErrPersistence, "encode claim %s: %v", c.Claim.ID, err)
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO territory_claims (instance_id, territory_id, position, claim_json) VALUES (?, ?, ?, ?)",
			instanceID, c.TerritoryID, c.Position, string(claim))
		if err != nil {
			return eris.Wrapf(ErrPersistence, "insert claim %s: %v", c.Claim.ID, err)
		}
	}
	return nil
}

// LoadWorld rebuilds the instance's world.
func (db *DB) LoadWorld(ctx context.Context, instanceID string) (*world.Map, error) {
	inst, err := db.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	set := world.RecordSet{InstanceID: instanceID, Width: inst.Width, Height: inst.Height}

	var rows []territoryRow
	if err := db.conn.SelectContext(ctx, &rows, `SELECT id, q, r, biome, claimed, claimed_by,
		max_bc, current_bc, claim_history_json FROM territories WHERE instance_id = ? ORDER BY q, r`, instanceID); err != nil {
		return nil, eris.Wrapf(ErrPersistence, "load territories: %v", err)
	}
	for _, row := range rows {
		rec := world.TerritoryRecord{
			ID: row.ID, InstanceID: instanceID, Q: row.Q, R: row.R,
			Biome: world.BiomeType(row.Biome), Claimed: row.Claimed, ClaimedBy: row.ClaimedBy,
			MaxBC: row.MaxBC, CurrentBC: row.CurrentBC,
		}
		if err := json.Unmarshal([]byte(row.ClaimHistoryJSON), &rec.ClaimHistory); err != nil {
			return nil, eris.Wrapf(ErrPersistence, "decode claim history %s: %v", row.ID, err)
		}
		set.Territories = append(set.Territories, rec)
	}

	if err := db.conn.SelectContext(ctx, &set.Resources,
		"SELECT territory_id, resource, amount FROM territory_resources WHERE instance_id = ?", instanceID); err != nil {
		return nil, eris.Wrapf(ErrPersistence, "load resources: %v", err)
	}

	var claimRows []struct {
		TerritoryID string `db:"territory_id"`
		Position    int    `db:"position"`
		ClaimJSON   string `db:"claim_json"`
	}
	if err := db.conn.SelectContext(ctx, &claimRows,
		"SELECT territory_id, position, claim_json FROM territory_claims WHERE instance_id = ? ORDER BY position", instanceID); err != nil {
		return nil, eris.Wrapf(ErrPersistence, "load claims: %v", err)
	}
	for _, row := range claimRows {
		cr := world.ClaimRecord{TerritoryID: row.TerritoryID, Position: row.Position}
		if err := json.Unmarshal([]byte(row.ClaimJSON), &cr.Claim); err != nil {
			return nil, eris.Wrapf(ErrPersistence, "decode claim on %s: %v", row.TerritoryID, err)
		}
		set.Claims = append(set.Claims, cr)
	}

	m, err := world.FromRecords(set)
	if err != nil {
		return nil, eris.Wrapf(ErrPersistence, "rebuild world %s: %v", instanceID, err)
	}
	return m, nil
}

// CreateNation stores a single new nation.
func (db *DB) CreateNation(ctx context.Context, instanceID string, n *social.Nation) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return eris.Wrapf(ErrPersistence, "begin: %v", err)
	}
	defer tx.Rollback()
	if err := insertNation(ctx, tx, instanceID, n); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return eris.Wrapf(ErrPersistence, "commit nation %s: %v", n.ID, err)
	}
	return nil
}

// SaveNations writes every nation of the instance (full replace).
func (db *DB) SaveNations(ctx context.Context, instanceID string, nations []*social.Nation) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return eris.Wrapf(ErrPersistence, "begin: %v", err)
	}
	defer tx.Rollback()

	if err := writeNations(ctx, tx, instanceID, nations); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return eris.Wrapf(ErrPersistence, "commit nations: %v", err)
	}
	return nil
}

func writeNations(ctx context.Context, tx *sqlx.Tx, instanceID string, nations []*social.Nation) error {
	for _, table := range []string{"nations", "nation_territories", "nation_resources"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE instance_id = ?", instanceID); err != nil {
			return eris.Wrapf(ErrPersistence, "clear %s: %v", table, err)
		}
	}
	for _, n := range nations {
		if err := insertNation(ctx, tx, instanceID, n); err != nil {
			return err
		}
	}
	return nil
}

func insertNation(ctx context.Context, tx *sqlx.Tx, instanceID string, n *social.Nation) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO nations (instance_id, id, name, code, leader_id) VALUES (?, ?, ?, ?, ?)",
		instanceID, n.ID, n.Name, n.Code, n.LeaderID)
	if err != nil {
		return eris.Wrapf(ErrPersistence, "insert nation %s: %v", n.ID, err)
	}
	for _, tid := range n.TerritoryIDs() {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO nation_territories (instance_id, nation_id, territory_id) VALUES (?, ?, ?)",
			instanceID, n.ID, tid); err != nil {
			return eris.Wrapf(ErrPersistence, "insert nation territory %s/%s: %v", n.ID, tid, err)
		}
	}
	for res, amt := range n.OwnedResources {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO nation_resources (instance_id, nation_id, resource, resource_id, amount) VALUES (?, ?, ?, ?, ?)",
			instanceID, n.ID, string(res), amt.ResourceID, amt.Amount); err != nil {
			return eris.Wrapf(ErrPersistence, "insert nation resource %s/%s: %v", n.ID, res, err)
		}
	}
	return nil
}

// LoadNations returns every nation of the instance ordered by id.
func (db *DB) LoadNations(ctx context.Context, instanceID string) ([]*social.Nation, error) {
	var rows []struct {
		ID       string `db:"id"`
		Name     string `db:"name"`
		Code     string `db:"code"`
		LeaderID string `db:"leader_id"`
	}
	if err := db.conn.SelectContext(ctx, &rows,
		"SELECT id, name, code, leader_id FROM nations WHERE instance_id = ? ORDER BY id", instanceID); err != nil {
		return nil, eris.Wrapf(ErrPersistence, "load nations: %v", err)
	}
	byID := make(map[string]*social.Nation, len(rows))
	out := make([]*social.Nation, 0, len(rows))
	for _, row := range rows {
		n := &social.Nation{
			ID: row.ID, Name: row.Name, Code: row.Code, LeaderID: row.LeaderID,
			Territories:    make(map[string]bool),
			OwnedResources: make(map[world.ResourceType]*social.ResourceAmount),
		}
		byID[n.ID] = n
		out = append(out, n)
	}

	var terrs []struct {
		NationID    string `db:"nation_id"`
		TerritoryID string `db:"territory_id"`
	}
	if err := db.conn.SelectContext(ctx, &terrs,
		"SELECT nation_id, territory_id FROM nation_territories WHERE instance_id = ?", instanceID); err != nil {
		return nil, eris.Wrapf(ErrPersistence, "load nation territories: %v", err)
	}
	for _, t := range terrs {
		if n, ok := byID[t.NationID]; ok {
			n.Territories[t.TerritoryID] = true
		}
	}

	var res []struct {
		NationID   string `db:"nation_id"`
		Resource   string `db:"resource"`
		ResourceID string `db:"resource_id"`
		Amount     int    `db:"amount"`
	}
	if err := db.conn.SelectContext(ctx, &res,
		"SELECT nation_id, resource, resource_id, amount FROM nation_resources WHERE instance_id = ?", instanceID); err != nil {
		return nil, eris.Wrapf(ErrPersistence, "load nation resources: %v", err)
	}
	for _, r := range res {
		if n, ok := byID[r.NationID]; ok {
			n.OwnedResources[world.ResourceType(r.Resource)] = &social.ResourceAmount{Amount: r.Amount, ResourceID: r.ResourceID}
		}
	}
	return out, nil
}

// SaveTickRecord appends one tick record.
func (db *DB) SaveTickRecord(ctx context.Context, instanceID string, rec engine.TickRecord) error {
	completed, err := json.Marshal(rec.JobRequestsCompleted)
	if err != nil {
		return eris.Wrapf(ErrPersistence, "encode tick %d: %v", rec.Tick, err)
	}
	failed, err := json.Marshal(rec.JobRequestsFailed)
	if err != nil {
		return eris.Wrapf(ErrPersistence, "encode tick %d: %v", rec.Tick, err)
	}
	_, err = db.conn.ExecContext(ctx, `INSERT OR REPLACE INTO tick_records
		(instance_id, tick, id, timestamp, status, completed_json, failed_json) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		instanceID, rec.Tick, rec.ID, rec.Timestamp.UnixNano(), string(rec.Status), string(completed), string(failed))
	if err != nil {
		return eris.Wrapf(ErrPersistence, "insert tick %d: %v", rec.Tick, err)
	}
	return nil
}

// TickRecords returns the most recent limit records, oldest first.
func (db *DB) TickRecords(ctx context.Context, instanceID string, limit int) ([]engine.TickRecord, error) {
	var rows []struct {
		Tick          uint64 `db:"tick"`
		ID            string `db:"id"`
		Timestamp     int64  `db:"timestamp"`
		Status        string `db:"status"`
		CompletedJSON string `db:"completed_json"`
		FailedJSON    string `db:"failed_json"`
	}
	err := db.conn.SelectContext(ctx, &rows, `SELECT tick, id, timestamp, status, completed_json, failed_json
		FROM tick_records WHERE instance_id = ? ORDER BY tick DESC LIMIT ?`, instanceID, limit)
	if err != nil {
		return nil, eris.Wrapf(ErrPersistence, "load tick records: %v", err)
	}
	out := make([]engine.TickRecord, len(rows))
	for i, row := range rows {
		rec := engine.TickRecord{
			Tick: row.Tick, ID: row.ID, Timestamp: time.Unix(0, row.Timestamp).UTC(),
			Status: engine.TickStatus(row.Status),
		}
		if err := json.Unmarshal([]byte(row.CompletedJSON), &rec.JobRequestsCompleted); err != nil {
			return nil, eris.Wrapf(ErrPersistence, "decode tick %d: %v", row.Tick, err)
		}
		if err := json.Unmarshal([]byte(row.FailedJSON), &rec.JobRequestsFailed); err != nil {
			return nil, eris.Wrapf(ErrPersistence, "decode tick %d: %v", row.Tick, err)
		}
		out[len(rows)-1-i] = rec
	}
	return out, nil
}

// SaveMeta stores a key-value pair in the instance metadata.
func (db *DB) SaveMeta(ctx context.Context, instanceID, key, value string) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT OR REPLACE INTO world_meta (instance_id, key, value) VALUES (?, ?, ?)",
		instanceID, key, value,
	)
	if err != nil {
		return eris.Wrapf(ErrPersistence, "save meta %s: %v", key, err)
	}
	return nil
}

// GetMeta retrieves a metadata value. A missing key returns "" and no error.
func (db *DB) GetMeta(ctx context.Context, instanceID, key string) (string, error) {
	var value string
	err := db.conn.GetContext(ctx, &value, "SELECT value FROM world_meta WHERE instance_id = ? AND key = ?", instanceID, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrapf(ErrPersistence, "get meta %s: %v", key, err)
	}
	return value, nil
}

// MetaLastTick is the meta key holding the last completed tick.
const MetaLastTick = "last_tick"

// FormatTick and ParseTick convert tick numbers for meta storage.
func FormatTick(tick uint64) string { return strconv.FormatUint(tick, 10) }

func ParseTick(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, eris.Wrapf(ErrPersistence, "parse tick %q: %v", s, err)
	}
	return v, nil
}
