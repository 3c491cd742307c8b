// Package indexdb mirrors the space directory into a local SQLite database
// so operators can query it offline. Writes flow through a single writer
// goroutine; the journal and snapshots remain the source of truth.
package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"pixelcove.gg/internal/protocol"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

type reqKind int

const (
	reqUpsert reqKind = iota + 1
	reqReplace
	reqSnapshot
)

type req struct {
	kind reqKind

	space    spaceRow
	all      []spaceRow
	snapshot snapshotRow
}

type spaceRow struct {
	ID            string
	Name          string
	OwnerWallet   string
	OwnerUsername string
	AccessPolicy  string
	TokenID       string
	TokenSymbol   string
	TokenMinimum  float64
	FeeAmount     float64
	FeeTokenID    string
	FeeSymbol     string
	RentalStatus  string
	RentDue       string
	Mine          bool
	RawJSON       string
}

type snapshotRow struct {
	Path    string
	Spaces  int
	Mine    int
	TakenAt string
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL lets spacectl read while the agent writes.
	// NORMAL is a decent durability/perf tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS spaces (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			owner_wallet TEXT NOT NULL,
			owner_username TEXT,
			access_policy TEXT NOT NULL,
			token_id TEXT,
			token_symbol TEXT,
			token_minimum REAL NOT NULL DEFAULT 0,
			fee_amount REAL NOT NULL DEFAULT 0,
			fee_token_id TEXT,
			fee_symbol TEXT,
			rental_status TEXT,
			rent_due TEXT,
			mine INTEGER NOT NULL DEFAULT 0,
			raw_json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_spaces_owner ON spaces(owner_wallet);`,
		`CREATE INDEX IF NOT EXISTS idx_spaces_policy ON spaces(access_policy);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			path TEXT PRIMARY KEY,
			spaces INTEGER NOT NULL,
			mine INTEGER NOT NULL,
			taken_at TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	if _, err := db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// UpsertSpace mirrors one broadcast patch. The mine flag is left untouched;
// ownership is only known from directory refreshes.
func (s *SQLiteIndex) UpsertSpace(sp protocol.Space) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqUpsert, space: rowFromSpace(sp, false)}:
	default:
		// Drop if the indexer falls behind; the journal remains authoritative.
	}
}

// ReplaceDirectory mirrors a full refresh: rows not in spaces are removed.
func (s *SQLiteIndex) ReplaceDirectory(spaces []protocol.Space, mine map[string]bool) {
	if s == nil || s.closed.Load() {
		return
	}
	rows := make([]spaceRow, 0, len(spaces))
	for _, sp := range spaces {
		rows = append(rows, rowFromSpace(sp, mine[sp.ID]))
	}
	select {
	case s.ch <- req{kind: reqReplace, all: rows}:
	default:
	}
}

// RecordSnapshot notes a directory snapshot written to disk.
func (s *SQLiteIndex) RecordSnapshot(path string, spaces, mine int, takenAt time.Time) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRow{
		Path:    path,
		Spaces:  spaces,
		Mine:    mine,
		TakenAt: takenAt.UTC().Format(time.RFC3339Nano),
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
	}
}

func rowFromSpace(sp protocol.Space, mine bool) spaceRow {
	raw, _ := json.Marshal(sp)
	r := spaceRow{
		ID:            sp.ID,
		Name:          sp.Name,
		OwnerWallet:   sp.OwnerIdentity,
		OwnerUsername: sp.OwnerUsername,
		AccessPolicy:  string(sp.AccessPolicy),
		RentalStatus:  string(sp.RentalStatus),
		Mine:          mine,
		RawJSON:       string(raw),
	}
	if sp.TokenGate != nil {
		r.TokenID = sp.TokenGate.TokenID
		r.TokenSymbol = sp.TokenGate.TokenSymbol
		r.TokenMinimum = sp.TokenGate.MinimumBalance
	}
	if sp.EntryFee != nil {
		r.FeeAmount = sp.EntryFee.Amount
		r.FeeTokenID = sp.EntryFee.TokenID
		r.FeeSymbol = sp.EntryFee.TokenSymbol
	}
	if sp.RentDueDate != nil {
		r.RentDue = sp.RentDueDate.UTC().Format(time.RFC3339Nano)
	}
	return r
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	upsert, _ := s.db.Prepare(`INSERT INTO spaces(
			id,name,owner_wallet,owner_username,access_policy,
			token_id,token_symbol,token_minimum,
			fee_amount,fee_token_id,fee_symbol,
			rental_status,rent_due,mine,raw_json,updated_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name,
			owner_wallet=excluded.owner_wallet,
			owner_username=excluded.owner_username,
			access_policy=excluded.access_policy,
			token_id=excluded.token_id,
			token_symbol=excluded.token_symbol,
			token_minimum=excluded.token_minimum,
			fee_amount=excluded.fee_amount,
			fee_token_id=excluded.fee_token_id,
			fee_symbol=excluded.fee_symbol,
			rental_status=excluded.rental_status,
			rent_due=excluded.rent_due,
			raw_json=excluded.raw_json,
			updated_at=excluded.updated_at`)
	insert, _ := s.db.Prepare(`INSERT OR REPLACE INTO spaces(
			id,name,owner_wallet,owner_username,access_policy,
			token_id,token_symbol,token_minimum,
			fee_amount,fee_token_id,fee_symbol,
			rental_status,rent_due,mine,raw_json,updated_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(path,spaces,mine,taken_at) VALUES(?,?,?,?)`)
	defer func() {
		if upsert != nil {
			_ = upsert.Close()
		}
		if insert != nil {
			_ = insert.Close()
		}
		if insertSnapshot != nil {
			_ = insertSnapshot.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	execRow := func(stmt *sql.Stmt, r spaceRow) error {
		_, err := tx.Stmt(stmt).Exec(
			r.ID, r.Name, r.OwnerWallet, r.OwnerUsername, r.AccessPolicy,
			r.TokenID, r.TokenSymbol, r.TokenMinimum,
			r.FeeAmount, r.FeeTokenID, r.FeeSymbol,
			r.RentalStatus, r.RentDue, boolToInt(r.Mine), r.RawJSON,
			time.Now().UTC().Format(time.RFC3339Nano),
		)
		return err
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqUpsert:
			if upsert == nil {
				continue
			}
			if err := execRow(upsert, r.space); err != nil {
				rollback()
				continue
			}
			opCount++

		case reqReplace:
			if insert == nil {
				continue
			}
			if _, err := tx.Exec(`DELETE FROM spaces`); err != nil {
				rollback()
				continue
			}
			opCount++
			failed := false
			for _, row := range r.all {
				if err := execRow(insert, row); err != nil {
					rollback()
					failed = true
					break
				}
				opCount++
			}
			if failed {
				continue
			}

		case reqSnapshot:
			sn := r.snapshot
			if insertSnapshot == nil {
				continue
			}
			if _, err := tx.Stmt(insertSnapshot).Exec(sn.Path, sn.Spaces, sn.Mine, sn.TakenAt); err != nil {
				rollback()
				continue
			}
			opCount++
		}

		// Directory traffic is sparse; commit as soon as the queue drains so
		// spacectl sees fresh rows, and batch only under bursts.
		if len(s.ch) == 0 || opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	commit()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
