// File: internal/storage/sqlstore.go
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"


	"github.com/crosslane/bridge-coordinator/internal/models"
	"github.com/crosslane/bridge-coordinator/pkg/utils"
)

// dialect captures the differences between the supported engines
type dialect struct {
	name       string
	driver     string
	rebindable bool // convert ? placeholders to $N
}

// SQLStorage implements Storage over database/sql. SQLite and PostgreSQL
// share the query text; the dialect rebinds placeholders for postgres.
type SQLStorage struct {
	db      *sql.DB
	config  *StorageConfig
	dialect dialect
	logger  *utils.Logger
}

// rebind converts ? placeholders to the dialect's positional style
func (s *SQLStorage) rebind(query string) string {
	if !s.dialect.rebindable {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Connect opens the database and configures the connection pool
func (s *SQLStorage) Connect() error {
	db, err := sql.Open(s.dialect.driver, s.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open database", err.Error())
	}

	maxConns := s.config.MaxConnections
	if maxConns <= 0 {
		maxConns = 25
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns / 2)
	db.SetConnMaxIdleTime(s.config.MaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to ping database", err.Error())
	}

	s.db = db
	s.logger.Info("Storage connected", "type", s.dialect.name)
	return nil
}

// Close closes the database
func (s *SQLStorage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping verifies the connection
func (s *SQLStorage) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Storage not connected")
	}
	return s.db.Ping()
}

// Migrate applies pending schema migrations
func (s *SQLStorage) Migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL
		)`)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create migrations table", err.Error())
	}

	for _, m := range migrations() {
		var count int
		err := s.db.QueryRow(s.rebind(`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`), m.Version).Scan(&count)
		if err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to check migration", err.Error())
		}
		if count > 0 {
			continue
		}

		if _, err := s.db.Exec(m.SQL); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Migration %s failed", m.Version), err.Error())
		}
		_, err = s.db.Exec(s.rebind(`INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)`),
			m.Version, m.Description, time.Now().UTC())
		if err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to record migration", err.Error())
		}
		s.logger.Info("Migration applied", "version", m.Version, "description", m.Description)
	}
	return nil
}

// --- Transfer operations ---

func (s *SQLStorage) SaveTransfer(ctx context.Context, t *models.BridgeTransfer) error {
	query := s.rebind(`
		INSERT INTO bridge_transfers (
			id, source_chain_id, dest_chain_id, source_tx_hash, dest_tx_hash,
			asset_id, asset_address, amount, sender_address, recipient_address,
			status, lock_timestamp, mint_timestamp, created_at, completed_at, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		t.ID, t.SourceChainID, t.DestChainID, t.SourceTxHash, t.DestTxHash,
		t.AssetID, t.AssetAddress, t.Amount.String(), t.SenderAddress, t.RecipientAddress,
		string(t.Status), t.LockTimestamp, t.MintTimestamp, t.CreatedAt, t.CompletedAt, t.ErrorMessage)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save transfer", err.Error())
	}
	return nil
}

func (s *SQLStorage) UpdateTransfer(ctx context.Context, t *models.BridgeTransfer) error {
	query := s.rebind(`
		UPDATE bridge_transfers SET
			source_tx_hash = ?, dest_tx_hash = ?, status = ?,
			lock_timestamp = ?, mint_timestamp = ?, completed_at = ?, error_message = ?
		WHERE id = ?`)

	result, err := s.db.ExecContext(ctx, query,
		t.SourceTxHash, t.DestTxHash, string(t.Status),
		t.LockTimestamp, t.MintTimestamp, t.CompletedAt, t.ErrorMessage, t.ID)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to update transfer", err.Error())
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return utils.NewAppError(utils.ErrCodeNotFound, "Transfer not found", t.ID)
	}
	return nil
}

func (s *SQLStorage) GetTransfer(ctx context.Context, id string) (*models.BridgeTransfer, error) {
	query := s.rebind(`
		SELECT id, source_chain_id, dest_chain_id, source_tx_hash, dest_tx_hash,
			asset_id, asset_address, amount, sender_address, recipient_address,
			status, lock_timestamp, mint_timestamp, created_at, completed_at, error_message
		FROM bridge_transfers WHERE id = ?`)

	return s.scanTransfer(s.db.QueryRowContext(ctx, query, id))
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *SQLStorage) scanTransfer(row rowScanner) (*models.BridgeTransfer, error) {
	var t models.BridgeTransfer
	var amount, status string
	err := row.Scan(&t.ID, &t.SourceChainID, &t.DestChainID, &t.SourceTxHash, &t.DestTxHash,
		&t.AssetID, &t.AssetAddress, &amount, &t.SenderAddress, &t.RecipientAddress,
		&status, &t.LockTimestamp, &t.MintTimestamp, &t.CreatedAt, &t.CompletedAt, &t.ErrorMessage)
	if err == sql.ErrNoRows {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Transfer not found")
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan transfer", err.Error())
	}

	t.Status = models.TransferStatus(status)
	if t.Amount, err = utils.ParseAmount(amount); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Corrupt transfer amount", err.Error())
	}
	return &t, nil
}

func (s *SQLStorage) GetTransfers(ctx context.Context, filter models.TransferFilter) ([]*models.BridgeTransfer, error) {
	query := `
		SELECT id, source_chain_id, dest_chain_id, source_tx_hash, dest_tx_hash,
			asset_id, asset_address, amount, sender_address, recipient_address,
			status, lock_timestamp, mint_timestamp, created_at, completed_at, error_message
		FROM bridge_transfers WHERE 1=1`
	var args []interface{}

	if filter.SourceChainID != nil {
		query += " AND source_chain_id = ?"
		args = append(args, *filter.SourceChainID)
	}
	if filter.DestChainID != nil {
		query += " AND dest_chain_id = ?"
		args = append(args, *filter.DestChainID)
	}
	if filter.Sender != nil {
		query += " AND sender_address = ?"
		args = append(args, utils.NormalizeAddress(*filter.Sender))
	}
	if filter.Status != nil {
		query += " AND status = ?"
		args = append(args, string(*filter.Status))
	}
	if filter.FromTime != nil {
		query += " AND created_at >= ?"
		args = append(args, *filter.FromTime)
	}
	if filter.ToTime != nil {
		query += " AND created_at <= ?"
		args = append(args, *filter.ToTime)
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query transfers", err.Error())
	}
	defer rows.Close()

	var transfers []*models.BridgeTransfer
	for rows.Next() {
		t, err := s.scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}

// --- Relay task operations ---

func (s *SQLStorage) SaveRelayTask(ctx context.Context, task *models.RelayTask) error {
	query := s.rebind(`
		INSERT INTO bridge_relay_tasks (
			request_id, source_chain_id, dest_chain_id, source_tx_hash, dest_tx_hash,
			asset_address, recipient, amount, status, retry_count, relayer_fee,
			created_at, completed_at, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		task.RequestID, task.SourceChainID, task.DestChainID, task.SourceTxHash, task.DestTxHash,
		task.AssetAddress, task.Recipient, task.Amount.String(), string(task.Status),
		task.RetryCount, task.RelayerFee.String(), task.CreatedAt, task.CompletedAt, task.ErrorMessage)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save relay task", err.Error())
	}
	return nil
}

func (s *SQLStorage) UpdateRelayTask(ctx context.Context, task *models.RelayTask) error {
	query := s.rebind(`
		UPDATE bridge_relay_tasks SET
			dest_tx_hash = ?, status = ?, retry_count = ?, completed_at = ?, error_message = ?
		WHERE request_id = ?`)

	result, err := s.db.ExecContext(ctx, query,
		task.DestTxHash, string(task.Status), task.RetryCount, task.CompletedAt, task.ErrorMessage, task.RequestID)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to update relay task", err.Error())
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return utils.NewAppError(utils.ErrCodeNotFound, "Relay task not found", task.RequestID)
	}
	return nil
}

func (s *SQLStorage) GetRelayTask(ctx context.Context, requestID string) (*models.RelayTask, error) {
	query := s.rebind(`
		SELECT request_id, source_chain_id, dest_chain_id, source_tx_hash, dest_tx_hash,
			asset_address, recipient, amount, status, retry_count, relayer_fee,
			created_at, completed_at, error_message
		FROM bridge_relay_tasks WHERE request_id = ?`)

	return s.scanRelayTask(s.db.QueryRowContext(ctx, query, requestID))
}

func (s *SQLStorage) scanRelayTask(row rowScanner) (*models.RelayTask, error) {
	var task models.RelayTask
	var amount, fee, status string
	err := row.Scan(&task.RequestID, &task.SourceChainID, &task.DestChainID, &task.SourceTxHash, &task.DestTxHash,
		&task.AssetAddress, &task.Recipient, &amount, &status, &task.RetryCount, &fee,
		&task.CreatedAt, &task.CompletedAt, &task.ErrorMessage)
	if err == sql.ErrNoRows {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Relay task not found")
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan relay task", err.Error())
	}

	task.Status = models.RelayTaskStatus(status)
	if task.Amount, err = utils.ParseAmount(amount); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Corrupt relay amount", err.Error())
	}
	if task.RelayerFee, err = utils.ParseAmount(fee); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Corrupt relay fee", err.Error())
	}
	return &task, nil
}

func (s *SQLStorage) GetRelayTasks(ctx context.Context, filter models.RelayTaskFilter) ([]*models.RelayTask, error) {
	query := `
		SELECT request_id, source_chain_id, dest_chain_id, source_tx_hash, dest_tx_hash,
			asset_address, recipient, amount, status, retry_count, relayer_fee,
			created_at, completed_at, error_message
		FROM bridge_relay_tasks WHERE 1=1`
	var args []interface{}

	if filter.SourceChainID != nil {
		query += " AND source_chain_id = ?"
		args = append(args, *filter.SourceChainID)
	}
	if filter.DestChainID != nil {
		query += " AND dest_chain_id = ?"
		args = append(args, *filter.DestChainID)
	}
	if filter.Status != nil {
		query += " AND status = ?"
		args = append(args, string(*filter.Status))
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query relay tasks", err.Error())
	}
	defer rows.Close()

	var tasks []*models.RelayTask
	for rows.Next() {
		task, err := s.scanRelayTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// --- Security audit operations ---

func (s *SQLStorage) SaveSecurityEvent(ctx context.Context, event *models.SecurityEvent) error {
	amount := ""
	if event.Amount != nil {
		amount = event.Amount.String()
	}

	query := s.rebind(`
		INSERT INTO bridge_security_events (id, event_type, severity, address, amount, chain_id, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		event.ID, event.EventType, string(event.Severity), event.Address, amount,
		event.ChainID, event.Details, event.CreatedAt)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save security event", err.Error())
	}
	return nil
}

func (s *SQLStorage) GetSecurityEvents(ctx context.Context, filter models.SecurityEventFilter) ([]*models.SecurityEvent, error) {
	query := `
		SELECT id, event_type, severity, address, amount, chain_id, details, created_at
		FROM bridge_security_events WHERE 1=1`
	var args []interface{}

	if filter.EventType != nil {
		query += " AND event_type = ?"
		args = append(args, *filter.EventType)
	}
	if filter.Severity != nil {
		query += " AND severity = ?"
		args = append(args, string(*filter.Severity))
	}
	if filter.Address != nil {
		query += " AND address = ?"
		args = append(args, utils.NormalizeAddress(*filter.Address))
	}
	if filter.FromTime != nil {
		query += " AND created_at >= ?"
		args = append(args, *filter.FromTime)
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query security events", err.Error())
	}
	defer rows.Close()

	var eventsOut []*models.SecurityEvent
	for rows.Next() {
		var ev models.SecurityEvent
		var severity, amount string
		if err := rows.Scan(&ev.ID, &ev.EventType, &severity, &ev.Address, &amount, &ev.ChainID, &ev.Details, &ev.CreatedAt); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan security event", err.Error())
		}
		ev.Severity = models.SecuritySeverity(severity)
		if amount != "" {
			if ev.Amount, err = utils.ParseAmount(amount); err != nil {
				return nil, utils.NewAppError(utils.ErrCodeDatabase, "Corrupt event amount", err.Error())
			}
		}
		eventsOut = append(eventsOut, &ev)
	}
	return eventsOut, rows.Err()
}

// --- Blacklist operations ---

func (s *SQLStorage) AddBlacklistEntry(ctx context.Context, entry *models.BlacklistEntry) error {
	var query string
	if s.dialect.rebindable {
		query = s.rebind(`
			INSERT INTO bridge_blacklist (address, reason, added_at) VALUES (?, ?, ?)
			ON CONFLICT (address) DO UPDATE SET reason = EXCLUDED.reason, added_at = EXCLUDED.added_at`)
	} else {
		query = `
			INSERT INTO bridge_blacklist (address, reason, added_at) VALUES (?, ?, ?)
			ON CONFLICT (address) DO UPDATE SET reason = excluded.reason, added_at = excluded.added_at`
	}

	_, err := s.db.ExecContext(ctx, query,
		utils.NormalizeAddress(entry.Address), entry.Reason, entry.AddedAt)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to add blacklist entry", err.Error())
	}
	return nil
}

func (s *SQLStorage) RemoveBlacklistEntry(ctx context.Context, address string) error {
	query := s.rebind(`DELETE FROM bridge_blacklist WHERE address = ?`)
	_, err := s.db.ExecContext(ctx, query, utils.NormalizeAddress(address))
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to remove blacklist entry", err.Error())
	}
	return nil
}

func (s *SQLStorage) GetBlacklist(ctx context.Context) ([]*models.BlacklistEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT address, reason, added_at FROM bridge_blacklist ORDER BY added_at`)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query blacklist", err.Error())
	}
	defer rows.Close()

	var entries []*models.BlacklistEntry
	for rows.Next() {
		var e models.BlacklistEntry
		if err := rows.Scan(&e.Address, &e.Reason, &e.AddedAt); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan blacklist entry", err.Error())
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// --- Multi-signature operations ---

func (s *SQLStorage) SaveMultiSigTransaction(ctx context.Context, tx *models.MultiSigTransaction) error {
	sigs, err := json.Marshal(tx.Signatures)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeInternal, "Failed to marshal signatures", err.Error())
	}

	query := s.rebind(`
		INSERT INTO bridge_multisig_txs (tx_id, payload, required_signatures, signatures, status, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)

	_, err = s.db.ExecContext(ctx, query,
		tx.TxID, tx.Payload, tx.RequiredSignatures, string(sigs), string(tx.Status), tx.CreatedAt, tx.ExpiresAt)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save multisig transaction", err.Error())
	}
	return nil
}

func (s *SQLStorage) UpdateMultiSigTransaction(ctx context.Context, tx *models.MultiSigTransaction) error {
	sigs, err := json.Marshal(tx.Signatures)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeInternal, "Failed to marshal signatures", err.Error())
	}

	query := s.rebind(`UPDATE bridge_multisig_txs SET signatures = ?, status = ? WHERE tx_id = ?`)
	result, err := s.db.ExecContext(ctx, query, string(sigs), string(tx.Status), tx.TxID)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to update multisig transaction", err.Error())
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return utils.NewAppError(utils.ErrCodeNotFound, "Multisig transaction not found", tx.TxID)
	}
	return nil
}

func (s *SQLStorage) GetMultiSigTransaction(ctx context.Context, txID string) (*models.MultiSigTransaction, error) {
	query := s.rebind(`
		SELECT tx_id, payload, required_signatures, signatures, status, created_at, expires_at
		FROM bridge_multisig_txs WHERE tx_id = ?`)

	var tx models.MultiSigTransaction
	var sigs, status string
	err := s.db.QueryRowContext(ctx, query, txID).Scan(
		&tx.TxID, &tx.Payload, &tx.RequiredSignatures, &sigs, &status, &tx.CreatedAt, &tx.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Multisig transaction not found", txID)
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan multisig transaction", err.Error())
	}

	tx.Status = models.MultiSigStatus(status)
	if err := json.Unmarshal([]byte(sigs), &tx.Signatures); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Corrupt signature list", err.Error())
	}
	return &tx, nil
}

func (s *SQLStorage) ExpireMultiSigTransactions(ctx context.Context, now time.Time) (int, error) {
	query := s.rebind(`UPDATE bridge_multisig_txs SET status = ? WHERE status = ? AND expires_at <= ?`)
	result, err := s.db.ExecContext(ctx, query,
		string(models.MultiSigStatusExpired), string(models.MultiSigStatusPending), now)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to expire multisig transactions", err.Error())
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}

// --- Relayer scan cursor operations ---

func (s *SQLStorage) GetScanCursor(ctx context.Context, chainID uint64) (uint64, error) {
	query := s.rebind(`SELECT last_processed_block FROM bridge_scan_cursors WHERE chain_id = ?`)

	var block uint64
	err := s.db.QueryRowContext(ctx, query, chainID).Scan(&block)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to read scan cursor", err.Error())
	}
	return block, nil
}

func (s *SQLStorage) SetScanCursor(ctx context.Context, chainID uint64, block uint64) error {
	var query string
	if s.dialect.rebindable {
		query = s.rebind(`
			INSERT INTO bridge_scan_cursors (chain_id, last_processed_block, updated_at) VALUES (?, ?, ?)
			ON CONFLICT (chain_id) DO UPDATE SET last_processed_block = EXCLUDED.last_processed_block, updated_at = EXCLUDED.updated_at`)
	} else {
		query = `
			INSERT INTO bridge_scan_cursors (chain_id, last_processed_block, updated_at) VALUES (?, ?, ?)
			ON CONFLICT (chain_id) DO UPDATE SET last_processed_block = excluded.last_processed_block, updated_at = excluded.updated_at`
	}

	_, err := s.db.ExecContext(ctx, query, chainID, block, time.Now().UTC())
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to set scan cursor", err.Error())
	}
	return nil
}

// --- Statistics ---

func (s *SQLStorage) GetStorageStats(ctx context.Context) (*StorageStats, error) {
	stats := &StorageStats{}

	counts := []struct {
		query string
		dest  *int64
	}{
		{`SELECT COUNT(*) FROM bridge_transfers`, &stats.TotalTransfers},
		{`SELECT COUNT(*) FROM bridge_transfers WHERE status = 'completed'`, &stats.CompletedTransfers},
		{`SELECT COUNT(*) FROM bridge_transfers WHERE status = 'failed'`, &stats.FailedTransfers},
		{`SELECT COUNT(*) FROM bridge_relay_tasks`, &stats.TotalRelayTasks},
		{`SELECT COUNT(*) FROM bridge_relay_tasks WHERE status = 'pending'`, &stats.PendingRelayTasks},
		{`SELECT COUNT(*) FROM bridge_security_events`, &stats.TotalSecurityEvents},
		{`SELECT COUNT(*) FROM bridge_blacklist`, &stats.BlacklistedCount},
	}

	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to collect storage stats", err.Error())
		}
	}
	return stats, nil
}
