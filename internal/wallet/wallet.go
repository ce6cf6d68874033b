// Package wallet guards generations behind a balance check and records token
// spend after each request.
package wallet

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/deco-cx/agent-runtime/pkg/models"
)

// Record captures the spend of a single generation.
type Record struct {
	ID          string       `json:"id"`
	Principal   string       `json:"principal"`
	AgentID     string       `json:"agent_id,omitempty"`
	ThreadID    string       `json:"thread_id,omitempty"`
	Model       string       `json:"model"`
	Usage       models.Usage `json:"usage"`
	Cost        float64      `json:"cost,omitempty"`
	GeneratedBy string       `json:"generated_by,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

// Wallet decides whether a principal may start a generation and records
// usage once a generation finishes.
type Wallet interface {
	// CanProceed reports whether the principal has funds for another
	// generation. A returned error means the balance could not be checked
	// at all, not that funds are missing.
	CanProceed(ctx context.Context, principal string) (bool, error)

	// RecordUsage persists a spend record. Callers treat failures as
	// non-fatal: the generation already happened.
	RecordUsage(ctx context.Context, record Record) error
}

// Cost is per-million-token pricing for a model.
type Cost struct {
	Input  float64 `json:"input" yaml:"input"`
	Output float64 `json:"output" yaml:"output"`
}

// Estimate calculates the estimated cost for the given usage. Reasoning
// tokens bill at the output rate.
func (c *Cost) Estimate(usage models.Usage) float64 {
	total := float64(usage.InputTokens)*c.Input +
		float64(usage.OutputTokens+usage.ReasoningTokens)*c.Output
	return total / 1_000_000
}

// LedgerWallet is an in-memory Wallet backed by per-principal balances.
// Balances go negative rather than interrupting an in-flight generation;
// the next CanProceed call rejects.
type LedgerWallet struct {
	mu       sync.RWMutex
	balances map[string]float64
	records  []Record
	pricing  map[string]Cost
	fallback Cost
}

// LedgerOptions configures a LedgerWallet.
type LedgerOptions struct {
	// Pricing maps model names to their per-million-token cost. Models
	// without an entry use Fallback.
	Pricing  map[string]Cost
	Fallback Cost
}

// NewLedgerWallet creates an empty ledger. Principals start at zero balance
// and must be funded with Deposit before CanProceed admits them.
func NewLedgerWallet(opts LedgerOptions) *LedgerWallet {
	return &LedgerWallet{
		balances: map[string]float64{},
		pricing:  opts.Pricing,
		fallback: opts.Fallback,
	}
}

// Deposit credits a principal's balance.
func (w *LedgerWallet) Deposit(principal string, amount float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balances[principal] += amount
}

// Balance returns a principal's current balance.
func (w *LedgerWallet) Balance(principal string) float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.balances[principal]
}

func (w *LedgerWallet) CanProceed(ctx context.Context, principal string) (bool, error) {
	if principal == "" {
		return false, errors.New("principal is required")
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.balances[principal] > 0, nil
}

func (w *LedgerWallet) RecordUsage(ctx context.Context, record Record) error {
	if record.Principal == "" {
		return errors.New("principal is required")
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	if record.Cost == 0 {
		cost := w.costFor(record.Model)
		record.Cost = cost.Estimate(record.Usage)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.balances[record.Principal] -= record.Cost
	w.records = append(w.records, record)
	return nil
}

// Records returns a copy of all spend records, oldest first.
func (w *LedgerWallet) Records() []Record {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]Record(nil), w.records...)
}

func (w *LedgerWallet) costFor(model string) Cost {
	if cost, ok := w.pricing[model]; ok {
		return cost
	}
	return w.fallback
}
