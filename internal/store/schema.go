// Recdeck - Ranked Recommendation Delivery Service
// Copyright 2026 Recdeck Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recdeck/recdeck

package store

import "database/sql"

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS entity (
		key TEXT PRIMARY KEY,
		notif_bonus REAL,
		bonus_timestamp INTEGER,
		oob_order INTEGER,
		has_recs INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS entity_scores (
		key TEXT NOT NULL,
		component TEXT NOT NULL,
		entity_score INTEGER NOT NULL,
		last_opened INTEGER,
		PRIMARY KEY (key, component),
		FOREIGN KEY (key) REFERENCES entity (key)
	)`,
	`CREATE TABLE IF NOT EXISTS rec_blacklist (
		key TEXT PRIMARY KEY
	)`,
	`CREATE TABLE IF NOT EXISTS buckets (
		key TEXT NOT NULL,
		group_id TEXT NOT NULL,
		last_updated INTEGER NOT NULL,
		PRIMARY KEY (key, group_id)
	)`,
	`CREATE TABLE IF NOT EXISTS buffer_scores (
		_id INTEGER NOT NULL,
		key TEXT NOT NULL,
		group_id TEXT NOT NULL,
		day INTEGER NOT NULL,
		clicks INTEGER,
		impressions INTEGER,
		PRIMARY KEY (_id, group_id, key)
	)`,
}

func initSchema(db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
