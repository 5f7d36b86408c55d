// File: internal/relayer/relayer.go
package relayer

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/crosslane/bridge-coordinator/internal/chains"
	"github.com/crosslane/bridge-coordinator/internal/config"
	"github.com/crosslane/bridge-coordinator/internal/events"
	"github.com/crosslane/bridge-coordinator/internal/models"
	"github.com/crosslane/bridge-coordinator/internal/storage"
	"github.com/crosslane/bridge-coordinator/internal/wallet"
	"github.com/crosslane/bridge-coordinator/pkg/utils"
)

// maxBackoffShift bounds the exponential retry delay at
// RetryDelay * 2^maxBackoffShift.
const maxBackoffShift = 10

// RelayerStats is a point-in-time snapshot of relayer activity
type RelayerStats struct {
	Running        bool    `json:"running"`
	TasksDetected  int64   `json:"tasks_detected"`
	TasksCompleted int64   `json:"tasks_completed"`
	TasksFailed    int64   `json:"tasks_failed"`
	Retries        int64   `json:"retries"`
	QueueDepth     int     `json:"queue_depth"`
	TotalFees      string  `json:"total_fees"`
	AvgLatencyMs   float64 `json:"avg_latency_ms"`
}

// Relayer autonomously completes the destination side of the bridge: it
// scans every chain for confirmed AssetLocked events, derives a relay
// task per lock and mints on the target chain. Tasks are keyed by the
// lock transaction hash, the same key the orchestrator mints under, so
// a lock is credited at most once no matter who observed it.
type Relayer struct {
	config  *config.RelayerConfig
	chains  *chains.Registry
	storage storage.Storage
	bus     *events.Bus
	signer  wallet.Signer
	logger  *utils.Logger

	minFee      *big.Int
	maxGasPrice *big.Int

	mu      sync.Mutex
	running bool
	seen    map[string]bool
	queue   chan *models.RelayTask

	tasksDetected  int64
	tasksCompleted int64
	tasksFailed    int64
	retries        int64
	totalFees      *big.Int
	avgLatencyMs   float64

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewRelayer creates a relayer. The signer is injected by the caller and
// pays for every mint it submits.
func NewRelayer(cfg *config.RelayerConfig, registry *chains.Registry, store storage.Storage, bus *events.Bus, signer wallet.Signer) (*Relayer, error) {
	minFee, err := utils.ParseAmount(cfg.MinFeeWei)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Invalid minimum relayer fee", err.Error())
	}
	maxGasPrice, err := utils.ParseAmount(cfg.MaxGasPriceWei)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Invalid max gas price", err.Error())
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}

	return &Relayer{
		config:      cfg,
		chains:      registry,
		storage:     store,
		bus:         bus,
		signer:      signer,
		logger:      utils.GetLogger(),
		minFee:      minFee,
		maxGasPrice: maxGasPrice,
		seen:        make(map[string]bool),
		queue:       make(chan *models.RelayTask, queueSize),
		totalFees:   new(big.Int),
	}, nil
}

// Start rebuilds in-memory state from storage and launches the scan and
// processing loops. A stopped relayer can be started again.
func (r *Relayer) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return utils.NewAppError(utils.ErrCodeInternal, "Relayer already running")
	}
	r.running = true
	r.stopChan = make(chan struct{})
	stop := r.stopChan
	r.mu.Unlock()

	if err := r.recover(ctx); err != nil {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		return err
	}

	r.wg.Add(2)
	go r.scanLoop(stop)
	go r.processLoop(stop)

	r.logger.Info("Relayer started",
		"poll_interval", r.config.PollInterval.String(), "max_retries", r.config.MaxRetries)
	return nil
}

// Stop halts both loops and waits for them to exit
func (r *Relayer) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	stop := r.stopChan
	r.mu.Unlock()

	close(stop)
	r.wg.Wait()
	r.logger.Info("Relayer stopped")
}

// IsRunning reports whether the loops are active
func (r *Relayer) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// recover rebuilds the dedup index and re-enqueues interrupted tasks.
// A task caught mid-processing by a crash goes back to the queue; the
// on-chain request ID keeps a double mint impossible.
func (r *Relayer) recover(ctx context.Context) error {
	tasks, err := r.storage.GetRelayTasks(ctx, models.RelayTaskFilter{})
	if err != nil {
		return err
	}

	requeued := 0
	r.mu.Lock()
	for _, task := range tasks {
		r.seen[task.RequestID] = true
	}
	r.mu.Unlock()

	for _, task := range tasks {
		if task.Status == models.RelayTaskStatusPending || task.Status == models.RelayTaskStatusProcessing {
			select {
			case r.queue <- task:
				requeued++
			default:
				r.logger.Warn("Relay queue full during recovery", "request_id", task.RequestID)
			}
		}
	}

	if requeued > 0 {
		r.logger.Info("Recovered interrupted relay tasks", "count", requeued)
	}
	return nil
}

// scanLoop polls every chain for new lock events
func (r *Relayer) scanLoop(stop <-chan struct{}) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.config.PollInterval)
			for _, chain := range r.chains.All() {
				if !chain.HasBridgeContract() {
					continue
				}
				if err := r.scanChain(ctx, chain); err != nil {
					r.logger.Error("Chain scan failed", "chain_id", chain.ChainID, "error", err)
				}
			}
			cancel()
		}
	}
}

// scanChain advances one chain's cursor over the confirmed block range.
// The cursor moves to the end of the scanned window even when individual
// events fail to enqueue; a lock that was seen is persisted before the
// cursor passes it.
func (r *Relayer) scanChain(ctx context.Context, chain *chains.Chain) error {
	head, err := chain.Backend.BlockNumber(ctx)
	if err != nil {
		return err
	}

	confirmations := r.config.ConfirmationBlocks
	if head < confirmations {
		return nil
	}
	safeHead := head - confirmations

	cursor, err := r.storage.GetScanCursor(ctx, chain.ChainID)
	if err != nil {
		return err
	}
	if cursor == 0 {
		// First run: start at the current safe head instead of replaying
		// the whole chain.
		return r.storage.SetScanCursor(ctx, chain.ChainID, safeHead)
	}
	if cursor >= safeHead {
		return nil
	}

	from := cursor + 1
	to := safeHead
	if r.config.MaxBlocksPerScan > 0 && to-from+1 > r.config.MaxBlocksPerScan {
		to = from + r.config.MaxBlocksPerScan - 1
	}

	locks, err := chain.Backend.FilterLockEvents(ctx, from, to)
	if err != nil {
		return err
	}

	for _, lock := range locks {
		if err := r.handleLockEvent(ctx, chain, lock); err != nil {
			r.logger.Error("Failed to enqueue lock event",
				"chain_id", chain.ChainID, "tx_hash", lock.TxHash.Hex(), "error", err)
		}
	}

	return r.storage.SetScanCursor(ctx, chain.ChainID, to)
}

// handleLockEvent turns one lock into a relay task unless it is already
// known.
func (r *Relayer) handleLockEvent(ctx context.Context, source *chains.Chain, lock chains.LockEvent) error {
	requestID := lock.TxHash.Hex()

	r.mu.Lock()
	if r.seen[requestID] {
		r.mu.Unlock()
		return nil
	}
	r.seen[requestID] = true
	r.mu.Unlock()

	if _, err := r.chains.Get(lock.TargetChainID); err != nil {
		r.logger.Warn("Lock targets an unknown chain",
			"source_chain_id", source.ChainID, "target_chain_id", lock.TargetChainID, "tx_hash", requestID)
		return nil
	}

	task := &models.RelayTask{
		RequestID:     requestID,
		SourceChainID: source.ChainID,
		DestChainID:   lock.TargetChainID,
		SourceTxHash:  requestID,
		AssetAddress:  utils.NormalizeAddress(lock.Asset.Hex()),
		Recipient:     utils.NormalizeAddress(lock.Sender.Hex()),
		Amount:        lock.Amount,
		Status:        models.RelayTaskStatusPending,
		RelayerFee:    r.calculateFee(lock.Amount),
		CreatedAt:     time.Now().UTC(),
	}

	if err := r.storage.SaveRelayTask(ctx, task); err != nil {
		// The row may exist from a previous run whose in-memory index was
		// lost; treat that as already handled.
		if existing, getErr := r.storage.GetRelayTask(ctx, requestID); getErr == nil && existing != nil {
			return nil
		}
		r.mu.Lock()
		delete(r.seen, requestID)
		r.mu.Unlock()
		return err
	}

	r.mu.Lock()
	r.tasksDetected++
	r.mu.Unlock()

	r.logger.Info("Lock event detected",
		"request_id", requestID, "source_chain_id", source.ChainID,
		"target_chain_id", lock.TargetChainID, "amount", lock.Amount.String())
	r.bus.Publish(events.TypeLockDetected, map[string]interface{}{
		"request_id":      requestID,
		"source_chain_id": source.ChainID,
		"dest_chain_id":   lock.TargetChainID,
	})

	select {
	case r.queue <- task:
	default:
		r.logger.Warn("Relay queue full, task stays pending for recovery", "request_id", requestID)
	}
	return nil
}

// calculateFee returns the larger of the proportional fee and the flat
// minimum.
func (r *Relayer) calculateFee(amount *big.Int) *big.Int {
	fee := new(big.Int).Mul(amount, big.NewInt(r.config.FeeBasisPoints))
	fee.Div(fee, big.NewInt(10_000))
	if fee.Cmp(r.minFee) < 0 {
		return new(big.Int).Set(r.minFee)
	}
	return fee
}

// processLoop consumes tasks in FIFO order
func (r *Relayer) processLoop(stop <-chan struct{}) {
	defer r.wg.Done()

	for {
		select {
		case <-stop:
			return
		case task := <-r.queue:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			r.processTask(ctx, task)
			cancel()
		}
	}
}

// processTask verifies the source lock and mints on the destination
func (r *Relayer) processTask(ctx context.Context, task *models.RelayTask) {
	// Terminal tasks are never picked up again
	if task.Status == models.RelayTaskStatusCompleted || task.Status == models.RelayTaskStatusFailed {
		return
	}

	task.Status = models.RelayTaskStatusProcessing
	if err := r.storage.UpdateRelayTask(ctx, task); err != nil {
		r.logger.Error("Failed to mark task processing", "request_id", task.RequestID, "error", err)
		return
	}

	source, err := r.chains.Get(task.SourceChainID)
	if err != nil {
		r.failTask(ctx, task, err)
		return
	}
	dest, err := r.chains.Get(task.DestChainID)
	if err != nil {
		r.failTask(ctx, task, err)
		return
	}

	// The lock must still be confirmed on the source chain; a reorg past
	// the confirmation depth turns into a retry, not a mint.
	_, confirmed, err := source.Backend.TransactionConfirmed(ctx,
		common.HexToHash(task.SourceTxHash), r.config.ConfirmationBlocks)
	if err != nil {
		r.retryTask(ctx, task, err)
		return
	}
	if !confirmed {
		r.retryTask(ctx, task, utils.NewAppError(utils.ErrCodeChain, "Lock not confirmed on source chain", task.SourceTxHash))
		return
	}

	gasPrice, err := r.gasPrice(ctx, dest)
	if err != nil {
		r.retryTask(ctx, task, err)
		return
	}

	payout := new(big.Int).Sub(task.Amount, task.RelayerFee)
	if payout.Sign() <= 0 {
		r.failTask(ctx, task, utils.NewAppError(utils.ErrCodeValidation, "Amount does not cover the relayer fee"))
		return
	}

	mintHash, err := dest.Backend.MintAsset(ctx, r.signer,
		common.HexToHash(task.RequestID), common.HexToAddress(task.Recipient),
		common.HexToAddress(task.AssetAddress), payout, task.SourceChainID, gasPrice)
	if err != nil {
		r.retryTask(ctx, task, err)
		return
	}

	if _, err := dest.Backend.WaitForConfirmations(ctx, mintHash, dest.ConfirmationBlocks); err != nil {
		r.retryTask(ctx, task, err)
		return
	}

	now := time.Now().UTC()
	task.Status = models.RelayTaskStatusCompleted
	task.DestTxHash = mintHash.Hex()
	task.CompletedAt = &now
	task.ErrorMessage = ""
	if err := r.storage.UpdateRelayTask(ctx, task); err != nil {
		r.logger.Error("Failed to persist completed task", "request_id", task.RequestID, "error", err)
	}

	latency := float64(now.Sub(task.CreatedAt).Milliseconds())
	r.mu.Lock()
	r.tasksCompleted++
	r.totalFees.Add(r.totalFees, task.RelayerFee)
	// Exponential moving average over the last ~10 completions
	if r.avgLatencyMs == 0 {
		r.avgLatencyMs = latency
	} else {
		r.avgLatencyMs = r.avgLatencyMs*0.9 + latency*0.1
	}
	r.mu.Unlock()

	r.logger.Info("Relay completed",
		"request_id", task.RequestID, "mint_tx", task.DestTxHash, "fee", task.RelayerFee.String())
	r.bus.Publish(events.TypeRelayCompleted, map[string]interface{}{
		"request_id": task.RequestID,
		"mint_tx":    task.DestTxHash,
		"fee":        task.RelayerFee.String(),
		"latency_ms": latency,
	})
}

// gasPrice returns the destination gas price scaled by the configured
// multiplier and capped at the configured maximum.
func (r *Relayer) gasPrice(ctx context.Context, dest *chains.Chain) (*big.Int, error) {
	suggested, err := dest.Backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeRPC, "Failed to fetch gas price", err.Error())
	}

	multiplied := new(big.Float).Mul(new(big.Float).SetInt(suggested), big.NewFloat(r.config.GasPriceMultiplier))
	scaled, _ := multiplied.Int(nil)
	if scaled.Cmp(r.maxGasPrice) > 0 {
		return new(big.Int).Set(r.maxGasPrice), nil
	}
	return scaled, nil
}

// retryTask schedules another attempt, or fails the task for good once
// the retry budget is exhausted.
func (r *Relayer) retryTask(ctx context.Context, task *models.RelayTask, cause error) {
	task.RetryCount++
	task.ErrorMessage = cause.Error()

	// RetryCount never exceeds MaxRetries: the attempt that reaches the
	// budget is the terminal one.
	if task.RetryCount >= r.config.MaxRetries {
		r.failTask(ctx, task, cause)
		return
	}

	task.Status = models.RelayTaskStatusPending
	if err := r.storage.UpdateRelayTask(ctx, task); err != nil {
		r.logger.Error("Failed to persist retry state", "request_id", task.RequestID, "error", err)
	}

	r.mu.Lock()
	r.retries++
	stop := r.stopChan
	r.mu.Unlock()

	delay := r.backoffDelay(task.RetryCount)
	r.logger.Warn("Relay attempt failed, retrying",
		"request_id", task.RequestID, "retry", task.RetryCount, "delay", delay.String(), "error", cause)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-stop:
		case <-timer.C:
			select {
			case r.queue <- task:
			case <-stop:
			}
		}
	}()
}

// backoffDelay returns the wait before the given retry attempt
func (r *Relayer) backoffDelay(retry int) time.Duration {
	if !r.config.ExponentialBackoff || retry <= 1 {
		return r.config.RetryDelay
	}
	shift := retry - 1
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	return r.config.RetryDelay * time.Duration(1<<shift)
}

// failTask marks a task terminally failed
func (r *Relayer) failTask(ctx context.Context, task *models.RelayTask, cause error) {
	now := time.Now().UTC()
	task.Status = models.RelayTaskStatusFailed
	task.ErrorMessage = cause.Error()
	task.CompletedAt = &now
	if err := r.storage.UpdateRelayTask(ctx, task); err != nil {
		r.logger.Error("Failed to persist failed task", "request_id", task.RequestID, "error", err)
	}

	r.mu.Lock()
	r.tasksFailed++
	r.mu.Unlock()

	r.logger.Error("Relay task failed permanently",
		"request_id", task.RequestID, "retries", task.RetryCount, "error", cause)
	r.bus.Publish(events.TypeRelayFailed, map[string]interface{}{
		"request_id": task.RequestID,
		"error":      cause.Error(),
	})
}

// GetStats returns a snapshot of relayer counters
func (r *Relayer) GetStats() RelayerStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return RelayerStats{
		Running:        r.running,
		TasksDetected:  r.tasksDetected,
		TasksCompleted: r.tasksCompleted,
		TasksFailed:    r.tasksFailed,
		Retries:        r.retries,
		QueueDepth:     len(r.queue),
		TotalFees:      r.totalFees.String(),
		AvgLatencyMs:   r.avgLatencyMs,
	}
}

// GetTasks returns relay tasks matching the filter
func (r *Relayer) GetTasks(ctx context.Context, filter models.RelayTaskFilter) ([]*models.RelayTask, error) {
	return r.storage.GetRelayTasks(ctx, filter)
}
