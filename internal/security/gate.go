// File: internal/security/gate.go
package security

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crosslane/bridge-coordinator/internal/config"
	"github.com/crosslane/bridge-coordinator/internal/events"
	"github.com/crosslane/bridge-coordinator/internal/models"
	"github.com/crosslane/bridge-coordinator/internal/storage"
	"github.com/crosslane/bridge-coordinator/pkg/utils"
)

// historyRetention bounds how long per-address transfer timestamps are
// kept; the daily volume check needs at most one calendar day.
const historyRetention = 24 * time.Hour

// Gate enforces the transfer admission rules. Checks run in a fixed
// order and the first failure wins: pause, blacklist, per-transfer
// amount, hourly rate, daily volume, rapid-fire heuristic. A transfer
// is recorded against the sender's history only after every check
// passed.
type Gate struct {
	config  *config.SecurityConfig
	storage storage.Storage
	bus     *events.Bus
	logger  *utils.Logger

	maxAmount  *big.Int
	maxDaily   *big.Int
	suspicious *big.Int

	mu          sync.Mutex
	paused      bool
	pauseReason string
	resumeAt    time.Time // zero means manual resume only
	blacklist   map[string]string
	history     map[string][]time.Time
	volume      map[string]*big.Int // sender|YYYY-MM-DD, UTC

	validated int64
	rejected  int64

	running  bool
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// GateStats is a point-in-time snapshot of gate state
type GateStats struct {
	Validated       int64      `json:"validated"`
	Rejected        int64      `json:"rejected"`
	Paused          bool       `json:"paused"`
	PauseReason     string     `json:"pause_reason,omitempty"`
	ResumeAt        *time.Time `json:"resume_at,omitempty"`
	BlacklistedSize int        `json:"blacklisted_size"`
	TrackedSenders  int        `json:"tracked_senders"`
}

// NewGate creates a security gate from configuration
func NewGate(cfg *config.SecurityConfig, store storage.Storage, bus *events.Bus) (*Gate, error) {
	maxAmount, err := utils.ParseAmount(cfg.MaxAmountPerTransfer)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Invalid max amount per transfer", err.Error())
	}
	maxDaily, err := utils.ParseAmount(cfg.MaxDailyVolume)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Invalid max daily volume", err.Error())
	}
	suspicious, err := utils.ParseAmount(cfg.SuspiciousAmountThreshold)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Invalid suspicious amount threshold", err.Error())
	}

	return &Gate{
		config:     cfg,
		storage:    store,
		bus:        bus,
		logger:     utils.GetLogger(),
		maxAmount:  maxAmount,
		maxDaily:   maxDaily,
		suspicious: suspicious,
		blacklist:  make(map[string]string),
		history:    make(map[string][]time.Time),
		volume:     make(map[string]*big.Int),
		stopChan:   make(chan struct{}),
	}, nil
}

// Start loads the persisted blacklist and begins the periodic cleanup
func (g *Gate) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return nil
	}
	g.running = true
	g.mu.Unlock()

	entries, err := g.storage.GetBlacklist(ctx)
	if err != nil {
		return err
	}
	g.mu.Lock()
	for _, entry := range entries {
		g.blacklist[utils.NormalizeAddress(entry.Address)] = entry.Reason
	}
	g.mu.Unlock()

	g.wg.Add(1)
	go g.cleanupLoop()

	g.logger.Info("Security gate started", "blacklisted", len(entries))
	return nil
}

// Stop stops the cleanup loop
func (g *Gate) Stop() {
	g.stopOnce.Do(func() { close(g.stopChan) })
	g.wg.Wait()
}

// ValidateTransfer runs the admission checks for one transfer and, when
// all pass, records it against the sender's rate and volume windows.
func (g *Gate) ValidateTransfer(ctx context.Context, sender, recipient string, amount *big.Int, chainID uint64) error {
	if amount == nil || amount.Sign() <= 0 {
		return utils.NewAppError(utils.ErrCodeValidation, "Transfer amount must be positive")
	}

	sender = utils.NormalizeAddress(sender)
	recipient = utils.NormalizeAddress(recipient)
	now := time.Now().UTC()

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.pausedLocked(now) {
		g.rejected++
		return utils.NewAppError(utils.ErrCodePaused, "Bridge is paused", g.pauseReason)
	}

	for _, addr := range []string{sender, recipient} {
		if reason, ok := g.blacklist[addr]; ok {
			g.rejected++
			g.recordEvent(ctx, "blacklist_attempt", models.SeverityCritical, addr, amount, chainID,
				fmt.Sprintf("Blacklisted address in transfer: %s", reason))
			return utils.NewAppError(utils.ErrCodeBlacklisted, "Address is blacklisted", addr)
		}
	}

	if amount.Cmp(g.maxAmount) > 0 {
		g.rejected++
		g.recordEvent(ctx, "amount_limit_exceeded", models.SeverityHigh, sender, amount, chainID,
			fmt.Sprintf("Transfer exceeds per-transfer limit of %s", g.maxAmount))
		return utils.NewAppError(utils.ErrCodeVolumeLimit, "Amount exceeds per-transfer limit")
	}

	recent := g.pruneHistoryLocked(sender, now)
	hourly := 0
	for _, ts := range recent {
		if now.Sub(ts) < time.Hour {
			hourly++
		}
	}
	if hourly >= g.config.MaxTransfersPerHour {
		g.rejected++
		g.recordEvent(ctx, "rate_limit_exceeded", models.SeverityMedium, sender, amount, chainID,
			fmt.Sprintf("%d transfers in the last hour", hourly))
		return utils.NewAppError(utils.ErrCodeRateLimit, "Hourly transfer limit reached")
	}

	dayKey := sender + "|" + now.Format("2006-01-02")
	used := g.volume[dayKey]
	if used == nil {
		used = new(big.Int)
	}
	projected := new(big.Int).Add(used, amount)
	if projected.Cmp(g.maxDaily) > 0 {
		g.rejected++
		g.recordEvent(ctx, "daily_volume_exceeded", models.SeverityHigh, sender, amount, chainID,
			fmt.Sprintf("Daily volume %s would exceed limit %s", projected, g.maxDaily))
		return utils.NewAppError(utils.ErrCodeVolumeLimit, "Daily volume limit reached")
	}

	// Suspicious patterns are flagged for audit but never block: the
	// burst alert below and the large-transfer alert both admit the
	// transfer.
	rapid := 0
	for _, ts := range recent {
		if now.Sub(ts) < g.config.RapidWindow {
			rapid++
		}
	}
	if rapid >= g.config.MaxRapidTransfers {
		g.recordEvent(ctx, "rapid_transfers", models.SeverityHigh, sender, amount, chainID,
			fmt.Sprintf("%d transfers within %s", rapid, g.config.RapidWindow))
	}

	if amount.Cmp(g.suspicious) >= 0 {
		g.recordEvent(ctx, "large_transfer", models.SeverityMedium, sender, amount, chainID,
			"Transfer at or above the large-transfer threshold")
	}

	g.history[sender] = append(recent, now)
	g.volume[dayKey] = projected
	g.validated++
	return nil
}

// RequiresMultiSig reports whether a transfer of this size needs
// operator signatures before execution.
func (g *Gate) RequiresMultiSig(amount *big.Int) bool {
	return amount != nil && amount.Cmp(g.suspicious) >= 0
}

// Pause halts all transfer validation. A zero autoResume pauses until
// Resume is called explicitly.
func (g *Gate) Pause(reason string, autoResume time.Duration) {
	g.mu.Lock()
	g.paused = true
	g.pauseReason = reason
	if autoResume > 0 {
		g.resumeAt = time.Now().UTC().Add(autoResume)
	} else {
		g.resumeAt = time.Time{}
	}
	g.mu.Unlock()

	g.logger.Warn("Bridge paused", "reason", reason, "auto_resume", autoResume.String())
	g.bus.Publish(events.TypeBridgePaused, map[string]interface{}{"reason": reason})
	g.recordEvent(context.Background(), "bridge_paused", models.SeverityHigh, "", nil, 0, reason)
}

// Resume lifts a pause
func (g *Gate) Resume() {
	g.mu.Lock()
	wasPaused := g.paused
	g.paused = false
	g.pauseReason = ""
	g.resumeAt = time.Time{}
	g.mu.Unlock()

	if wasPaused {
		g.logger.Info("Bridge resumed")
		g.bus.Publish(events.TypeBridgeResumed, nil)
	}
}

// IsPaused reports the current pause state, honoring auto-resume
func (g *Gate) IsPaused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pausedLocked(time.Now().UTC())
}

func (g *Gate) pausedLocked(now time.Time) bool {
	if g.paused && !g.resumeAt.IsZero() && now.After(g.resumeAt) {
		g.paused = false
		g.pauseReason = ""
		g.resumeAt = time.Time{}
		g.logger.Info("Bridge auto-resumed")
		g.bus.Publish(events.TypeBridgeResumed, nil)
	}
	return g.paused
}

// AddToBlacklist blocks an address and persists the entry
func (g *Gate) AddToBlacklist(ctx context.Context, address, reason string) error {
	if !utils.IsValidAddress(address) {
		return utils.NewAppError(utils.ErrCodeValidation, "Invalid address", address)
	}
	address = utils.NormalizeAddress(address)

	err := g.storage.AddBlacklistEntry(ctx, &models.BlacklistEntry{
		Address: address,
		Reason:  reason,
		AddedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	g.mu.Lock()
	g.blacklist[address] = reason
	g.mu.Unlock()

	g.logger.Warn("Address blacklisted", "address", address, "reason", reason)
	g.recordEvent(ctx, "address_blacklisted", models.SeverityHigh, address, nil, 0, reason)
	return nil
}

// RemoveFromBlacklist unblocks an address
func (g *Gate) RemoveFromBlacklist(ctx context.Context, address string) error {
	address = utils.NormalizeAddress(address)

	if err := g.storage.RemoveBlacklistEntry(ctx, address); err != nil {
		return err
	}

	g.mu.Lock()
	delete(g.blacklist, address)
	g.mu.Unlock()

	g.logger.Info("Address removed from blacklist", "address", address)
	return nil
}

// IsBlacklisted reports whether an address is blocked
func (g *Gate) IsBlacklisted(address string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.blacklist[utils.NormalizeAddress(address)]
	return ok
}

// GetBlacklist returns the persisted blacklist
func (g *Gate) GetBlacklist(ctx context.Context) ([]*models.BlacklistEntry, error) {
	return g.storage.GetBlacklist(ctx)
}

// GetStats returns a snapshot of gate state
func (g *Gate) GetStats() GateStats {
	g.mu.Lock()
	defer g.mu.Unlock()

	stats := GateStats{
		Validated:       g.validated,
		Rejected:        g.rejected,
		Paused:          g.paused,
		PauseReason:     g.pauseReason,
		BlacklistedSize: len(g.blacklist),
		TrackedSenders:  len(g.history),
	}
	if !g.resumeAt.IsZero() {
		resumeAt := g.resumeAt
		stats.ResumeAt = &resumeAt
	}
	return stats
}

// pruneHistoryLocked drops timestamps beyond the retention window and
// returns the surviving slice. Callers must hold g.mu.
func (g *Gate) pruneHistoryLocked(sender string, now time.Time) []time.Time {
	old := g.history[sender]
	kept := old[:0]
	for _, ts := range old {
		if now.Sub(ts) < historyRetention {
			kept = append(kept, ts)
		}
	}
	if len(kept) == 0 {
		delete(g.history, sender)
		return nil
	}
	g.history[sender] = kept
	return kept
}

// recordEvent persists an audit record and publishes it on the bus.
// Persistence failures are logged, never propagated: an audit write
// must not change a gate decision.
func (g *Gate) recordEvent(ctx context.Context, eventType string, severity models.SecuritySeverity, address string, amount *big.Int, chainID uint64, details string) {
	event := &models.SecurityEvent{
		ID:        uuid.New().String(),
		EventType: eventType,
		Severity:  severity,
		Address:   address,
		Amount:    amount,
		ChainID:   chainID,
		Details:   details,
		CreatedAt: time.Now().UTC(),
	}

	if err := g.storage.SaveSecurityEvent(ctx, event); err != nil {
		g.logger.Error("Failed to persist security event", "type", eventType, "error", err)
	}

	g.bus.Publish(events.TypeSecurityEvent, map[string]interface{}{
		"event_type": eventType,
		"severity":   string(severity),
		"address":    address,
		"details":    details,
	})
}

// cleanupLoop periodically prunes stale windows, expires pending
// multi-signature transactions and applies scheduled auto-resumes.
func (g *Gate) cleanupLoop() {
	defer g.wg.Done()

	interval := g.config.CleanupInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stopChan:
			return
		case <-ticker.C:
			g.cleanup()
		}
	}
}

func (g *Gate) cleanup() {
	now := time.Now().UTC()
	today := now.Format("2006-01-02")
	yesterday := now.Add(-24 * time.Hour).Format("2006-01-02")

	g.mu.Lock()
	for sender := range g.history {
		g.pruneHistoryLocked(sender, now)
	}
	for key := range g.volume {
		day := key[len(key)-len(today):]
		if day != today && day != yesterday {
			delete(g.volume, key)
		}
	}
	g.pausedLocked(now)
	g.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if n, err := g.storage.ExpireMultiSigTransactions(ctx, now); err != nil {
		g.logger.Error("Failed to expire multisig transactions", "error", err)
	} else if n > 0 {
		g.logger.Info("Expired multisig transactions", "count", n)
	}
}
