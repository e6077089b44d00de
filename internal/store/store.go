// Recdeck - Ranked Recommendation Delivery Service
// Copyright 2026 Recdeck Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recdeck/recdeck

package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/recdeck/recdeck/internal/logging"
	"github.com/recdeck/recdeck/internal/metrics"
	"github.com/recdeck/recdeck/internal/rank"
)

const (
	// queueSize bounds the write-behind queue. Tasks beyond the bound are
	// dropped with a logged warning, never blocked on.
	queueSize = 1024

	dbFilename     = "recommendations.db"
	markerFilename = "initial_ranking_applied"
)

type task struct {
	op string
	fn func() error
}

// Store is the SQLite-backed persistence layer. It implements rank.Store.
type Store struct {
	db     *sql.DB
	params rank.Params

	markerPath  string
	initApplied atomic.Bool
	mostRecent  atomic.Int64

	tasks chan task
}

// Open opens (or creates) the database inside the data directory dir and
// prepares the schema. The out-of-box marker lives in the same directory.
// The returned Store does not apply queued writes until Serve runs.
func Open(dir string, params rank.Params) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", dir, err)
	}

	dsn := filepath.Join(dir, dbFilename) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping store: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	s := &Store{
		db:         db,
		params:     params,
		markerPath: filepath.Join(dir, markerFilename),
		tasks:      make(chan task, queueSize),
	}
	if _, err := os.Stat(s.markerPath); err == nil {
		s.initApplied.Store(true)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Serve runs the write-behind worker until ctx is cancelled. Implements
// suture.Service; queued tasks that fail are logged and dropped.
func (s *Store) Serve(ctx context.Context) error {
	logging.Info().Msg("store worker started")
	for {
		select {
		case <-ctx.Done():
			s.drain()
			return ctx.Err()
		case t := <-s.tasks:
			s.run(t)
		}
	}
}

// drain applies whatever is already queued so a clean shutdown loses as
// little as possible.
func (s *Store) drain() {
	for {
		select {
		case t := <-s.tasks:
			s.run(t)
		default:
			return
		}
	}
}

func (s *Store) run(t task) {
	metrics.StoreQueueDepth.Set(float64(len(s.tasks)))
	if err := t.fn(); err != nil {
		metrics.StoreWriteErrors.WithLabelValues(t.op).Inc()
		logging.Warn().Err(err).Str("operation", t.op).Msg("store write failed, dropping")
		return
	}
	metrics.StoreWrites.WithLabelValues(t.op).Inc()
}

func (s *Store) enqueue(op string, fn func() error) {
	select {
	case s.tasks <- task{op: op, fn: fn}:
		metrics.StoreQueueDepth.Set(float64(len(s.tasks)))
	default:
		metrics.StoreQueueDropped.Inc()
		logging.Warn().Str("operation", op).Msg("store queue full, dropping write")
	}
}

// SaveEntity queues an entity snapshot for persistence.
func (s *Store) SaveEntity(snap rank.EntitySnapshot) {
	if snap.Key == "" {
		return
	}
	s.enqueue("save", func() error { return s.saveEntitySync(snap) })
}

// RemoveEntity queues removal of an entity's rows. A full removal deletes
// everything including the entity row; a partial removal only zeroes the
// bonus columns, keeping scores and engagement history.
func (s *Store) RemoveEntity(key string, full bool) {
	if key == "" {
		return
	}
	s.enqueue("remove", func() error { return s.removeEntitySync(key, full) })
}

// RemoveGroupData queues deletion of one group's bucket and day rows.
func (s *Store) RemoveGroupData(key, group string) {
	if key == "" {
		return
	}
	s.enqueue("remove_group", func() error {
		if _, err := s.db.Exec(`DELETE FROM buckets WHERE key=? AND group_id=?`, key, group); err != nil {
			return err
		}
		_, err := s.db.Exec(`DELETE FROM buffer_scores WHERE key=? AND group_id=?`, key, group)
		return err
	})
}

// MostRecentTimestamp returns the largest last-opened timestamp seen by
// the bulk load, used for monotonic clock correction.
func (s *Store) MostRecentTimestamp() int64 { return s.mostRecent.Load() }

// InitialRankingApplied reports whether out-of-box seeding already ran.
func (s *Store) InitialRankingApplied() bool { return s.initApplied.Load() }

// SetInitialRankingApplied records the one-shot seeding marker on disk.
func (s *Store) SetInitialRankingApplied(applied bool) {
	s.initApplied.Store(applied)
	if applied {
		if err := os.WriteFile(s.markerPath, []byte(time.Now().UTC().Format(time.RFC3339)+"\n"), 0o600); err != nil {
			logging.Warn().Err(err).Msg("failed to write initial ranking marker")
		}
		return
	}
	if err := os.Remove(s.markerPath); err != nil && !os.IsNotExist(err) {
		logging.Warn().Err(err).Msg("failed to remove initial ranking marker")
	}
}

// LoadEntities runs the bulk load on the worker and hands the result to cb
// exactly once. Malformed rows are skipped, never fatal.
func (s *Store) LoadEntities(cb func(entities map[string]*rank.Entity, blacklist []string)) {
	s.enqueue("load", func() error {
		start := time.Now()
		entities := s.loadEntitiesSync()
		blacklist, err := s.loadBlacklistSync()
		if err != nil {
			logging.Warn().Err(err).Msg("blacklist load failed, starting empty")
			blacklist = nil
		}
		metrics.StoreLoadDuration.Observe(time.Since(start).Seconds())
		cb(entities, blacklist)
		return nil
	})
}

// SaveBlacklist replaces the blacklist table in one transaction. Unlike
// entity writes this is synchronous: the caller needs to know the new list
// is durable before acknowledging the client.
func (s *Store) SaveBlacklist(keys []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin blacklist transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM rec_blacklist`); err != nil {
		return fmt.Errorf("clear blacklist: %w", err)
	}
	for _, key := range keys {
		if key == "" {
			continue
		}
		if _, err := tx.Exec(`INSERT OR IGNORE INTO rec_blacklist (key) VALUES (?)`, key); err != nil {
			return fmt.Errorf("insert blacklist key %s: %w", key, err)
		}
	}
	return tx.Commit()
}

// LoadSourcesWithRecs returns the keys of sources that have ever posted a
// recommendation, ordered by key.
func (s *Store) LoadSourcesWithRecs() ([]string, error) {
	rows, err := s.db.Query(`SELECT key FROM entity WHERE key IS NOT NULL AND has_recs=1 ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("query sources with recs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			continue
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *Store) saveEntitySync(snap rank.EntitySnapshot) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var oobOrder int64
	for _, sc := range snap.Scores {
		if sc.Component == "" {
			oobOrder = sc.Order
		}
	}

	hasRecs := 0
	if snap.HasPosted {
		hasRecs = 1
	}
	if _, err := tx.Exec(
		`INSERT INTO entity (key, notif_bonus, bonus_timestamp, oob_order, has_recs) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET notif_bonus=excluded.notif_bonus,
			bonus_timestamp=excluded.bonus_timestamp, oob_order=excluded.oob_order, has_recs=excluded.has_recs`,
		snap.Key, snap.Bonus, snap.BonusTimestamp, oobOrder, hasRecs,
	); err != nil {
		return err
	}

	for _, sc := range snap.Scores {
		if _, err := tx.Exec(
			`INSERT INTO entity_scores (key, component, entity_score, last_opened) VALUES (?, ?, ?, ?)
			 ON CONFLICT (key, component) DO UPDATE SET entity_score=excluded.entity_score,
				last_opened=excluded.last_opened`,
			snap.Key, sc.Component, sc.Order, sc.LastOpened,
		); err != nil {
			return err
		}
	}

	for _, g := range snap.Groups {
		if _, err := tx.Exec(
			`INSERT INTO buckets (key, group_id, last_updated) VALUES (?, ?, ?)
			 ON CONFLICT (key, group_id) DO UPDATE SET last_updated=excluded.last_updated`,
			snap.Key, g.ID, g.LastUpdated,
		); err != nil {
			return err
		}
		for i, ds := range g.Days {
			if _, err := tx.Exec(
				`INSERT INTO buffer_scores (_id, key, group_id, day, clicks, impressions) VALUES (?, ?, ?, ?, ?, ?)
				 ON CONFLICT (_id, group_id, key) DO UPDATE SET day=excluded.day,
					clicks=excluded.clicks, impressions=excluded.impressions`,
				i, snap.Key, g.ID, ds.Day, ds.Signals.Clicks, ds.Signals.Impressions,
			); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

func (s *Store) removeEntitySync(key string, full bool) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if full {
		for _, stmt := range []string{
			`DELETE FROM entity WHERE key=?`,
			`DELETE FROM entity_scores WHERE key=?`,
			`DELETE FROM buckets WHERE key=?`,
			`DELETE FROM buffer_scores WHERE key=?`,
			`DELETE FROM rec_blacklist WHERE key=?`,
		} {
			if _, err := tx.Exec(stmt, key); err != nil {
				return err
			}
		}
		return tx.Commit()
	}

	// Partial removal keeps scores and engagement history; only the bonus
	// is cleared.
	if _, err := tx.Exec(`UPDATE entity SET notif_bonus=0, bonus_timestamp=0 WHERE key=?`, key); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) loadEntitiesSync() map[string]*rank.Entity {
	entities := make(map[string]*rank.Entity)

	rows, err := s.db.Query(`SELECT key, notif_bonus, bonus_timestamp, oob_order, has_recs FROM entity`)
	if err != nil {
		logging.Error().Err(err).Msg("entity load failed, starting empty")
		return entities
	}
	func() {
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var key string
			var bonus sql.NullFloat64
			var bonusTime, oobOrder, hasRecs sql.NullInt64
			if err := rows.Scan(&key, &bonus, &bonusTime, &oobOrder, &hasRecs); err != nil {
				logging.Warn().Err(err).Msg("skipping malformed entity row")
				continue
			}
			if key == "" {
				continue
			}
			e := rank.NewSeededEntity(s, s.params, key, oobOrder.Int64, hasRecs.Int64 == 1)
			if bonusTime.Int64 != 0 && bonus.Float64 > 0 {
				e.SetBonus(bonus.Float64, bonusTime.Int64)
			}
			entities[key] = e
		}
	}()

	s.loadScores(entities)
	s.loadBuckets(entities)
	s.loadBufferScores(entities)
	return entities
}

func (s *Store) loadScores(entities map[string]*rank.Entity) {
	rows, err := s.db.Query(`SELECT key, component, entity_score, last_opened FROM entity_scores`)
	if err != nil {
		logging.Warn().Err(err).Msg("entity score load failed")
		return
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var key, component string
		var order sql.NullInt64
		var lastOpened sql.NullInt64
		if err := rows.Scan(&key, &component, &order, &lastOpened); err != nil {
			logging.Warn().Err(err).Msg("skipping malformed score row")
			continue
		}
		for {
			recent := s.mostRecent.Load()
			if lastOpened.Int64 <= recent || s.mostRecent.CompareAndSwap(recent, lastOpened.Int64) {
				break
			}
		}
		if e, ok := entities[key]; ok {
			e.SetOrder(component, order.Int64)
			e.SetLastOpened(component, lastOpened.Int64)
		}
	}
}

func (s *Store) loadBuckets(entities map[string]*rank.Entity) {
	rows, err := s.db.Query(`SELECT key, group_id, last_updated FROM buckets ORDER BY key, last_updated`)
	if err != nil {
		logging.Warn().Err(err).Msg("bucket load failed")
		return
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var key, group string
		var lastUpdated int64
		if err := rows.Scan(&key, &group, &lastUpdated); err != nil {
			logging.Warn().Err(err).Msg("skipping malformed bucket row")
			continue
		}
		if e, ok := entities[key]; ok {
			e.AddBucket(group, lastUpdated)
		}
	}
}

func (s *Store) loadBufferScores(entities map[string]*rank.Entity) {
	rows, err := s.db.Query(`SELECT key, group_id, day, clicks, impressions FROM buffer_scores ORDER BY key, group_id, _id`)
	if err != nil {
		logging.Warn().Err(err).Msg("buffer score load failed")
		return
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var key, group string
		var day sql.NullInt64
		var clicks, impressions sql.NullInt64
		if err := rows.Scan(&key, &group, &day, &clicks, &impressions); err != nil {
			logging.Warn().Err(err).Msg("skipping malformed buffer row")
			continue
		}
		if day.Int64 < 0 {
			continue
		}
		e, ok := entities[key]
		if !ok {
			continue
		}
		if buf := e.Buffer(group); buf != nil {
			buf.Set(int(day.Int64), rank.Signals{
				Clicks:      uint32(clicks.Int64),
				Impressions: uint32(impressions.Int64),
			})
		}
	}
}

func (s *Store) loadBlacklistSync() ([]string, error) {
	rows, err := s.db.Query(`SELECT key FROM rec_blacklist WHERE key IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			continue
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
