// File: internal/storage/migrations.go
package storage

// Migration represents one schema migration step
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// Monetary amounts are stored as decimal strings, never as floating
// point; the TEXT columns below are deliberate.
func migrations() []Migration {
	return []Migration{
		{
			Version:     "001",
			Description: "Create bridge_transfers table",
			SQL: `
				CREATE TABLE IF NOT EXISTS bridge_transfers (
					id TEXT PRIMARY KEY,
					source_chain_id BIGINT NOT NULL,
					dest_chain_id BIGINT NOT NULL,
					source_tx_hash TEXT NOT NULL DEFAULT '',
					dest_tx_hash TEXT NOT NULL DEFAULT '',
					asset_id TEXT NOT NULL DEFAULT '',
					asset_address TEXT NOT NULL DEFAULT '',
					amount TEXT NOT NULL,
					sender_address TEXT NOT NULL,
					recipient_address TEXT NOT NULL,
					status TEXT NOT NULL,
					lock_timestamp TIMESTAMP,
					mint_timestamp TIMESTAMP,
					created_at TIMESTAMP NOT NULL,
					completed_at TIMESTAMP,
					error_message TEXT NOT NULL DEFAULT ''
				);
				CREATE INDEX IF NOT EXISTS idx_transfers_status ON bridge_transfers(status);
				CREATE INDEX IF NOT EXISTS idx_transfers_sender ON bridge_transfers(sender_address);
				CREATE INDEX IF NOT EXISTS idx_transfers_created ON bridge_transfers(created_at);
			`,
		},
		{
			Version:     "002",
			Description: "Create bridge_relay_tasks table",
			SQL: `
				CREATE TABLE IF NOT EXISTS bridge_relay_tasks (
					request_id TEXT PRIMARY KEY,
					source_chain_id BIGINT NOT NULL,
					dest_chain_id BIGINT NOT NULL,
					source_tx_hash TEXT NOT NULL DEFAULT '',
					dest_tx_hash TEXT NOT NULL DEFAULT '',
					asset_address TEXT NOT NULL DEFAULT '',
					recipient TEXT NOT NULL,
					amount TEXT NOT NULL,
					status TEXT NOT NULL,
					retry_count INTEGER NOT NULL DEFAULT 0,
					relayer_fee TEXT NOT NULL DEFAULT '0',
					created_at TIMESTAMP NOT NULL,
					completed_at TIMESTAMP,
					error_message TEXT NOT NULL DEFAULT ''
				);
				CREATE INDEX IF NOT EXISTS idx_relay_tasks_status ON bridge_relay_tasks(status);
				CREATE INDEX IF NOT EXISTS idx_relay_tasks_source_chain ON bridge_relay_tasks(source_chain_id);
			`,
		},
		{
			Version:     "003",
			Description: "Create bridge_security_events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS bridge_security_events (
					id TEXT PRIMARY KEY,
					event_type TEXT NOT NULL,
					severity TEXT NOT NULL,
					address TEXT NOT NULL DEFAULT '',
					amount TEXT NOT NULL DEFAULT '',
					chain_id BIGINT NOT NULL DEFAULT 0,
					details TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL
				);
				CREATE INDEX IF NOT EXISTS idx_security_events_type ON bridge_security_events(event_type);
				CREATE INDEX IF NOT EXISTS idx_security_events_severity ON bridge_security_events(severity);
				CREATE INDEX IF NOT EXISTS idx_security_events_created ON bridge_security_events(created_at);
			`,
		},
		{
			Version:     "004",
			Description: "Create bridge_blacklist table",
			SQL: `
				CREATE TABLE IF NOT EXISTS bridge_blacklist (
					address TEXT PRIMARY KEY,
					reason TEXT NOT NULL DEFAULT '',
					added_at TIMESTAMP NOT NULL
				);
			`,
		},
		{
			Version:     "005",
			Description: "Create bridge_multisig_txs table",
			SQL: `
				CREATE TABLE IF NOT EXISTS bridge_multisig_txs (
					tx_id TEXT PRIMARY KEY,
					payload TEXT NOT NULL,
					required_signatures INTEGER NOT NULL,
					signatures TEXT NOT NULL DEFAULT '[]',
					status TEXT NOT NULL,
					created_at TIMESTAMP NOT NULL,
					expires_at TIMESTAMP NOT NULL
				);
				CREATE INDEX IF NOT EXISTS idx_multisig_status ON bridge_multisig_txs(status);
			`,
		},
		{
			Version:     "006",
			Description: "Create bridge_scan_cursors table",
			SQL: `
				CREATE TABLE IF NOT EXISTS bridge_scan_cursors (
					chain_id BIGINT PRIMARY KEY,
					last_processed_block BIGINT NOT NULL DEFAULT 0,
					updated_at TIMESTAMP NOT NULL
				);
			`,
		},
		{
			Version:     "007",
			Description: "Index relay tasks by creation time",
			SQL: `
				CREATE INDEX IF NOT EXISTS idx_relay_tasks_created ON bridge_relay_tasks(created_at);
			`,
		},
	}
}
