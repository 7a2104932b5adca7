// Package billing drives a session's cart through bill generation and the
// atomic commit that decrements stock and stores the bill.
package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/toko-pos/internal/archive"
	"github.com/noah-isme/toko-pos/internal/cart"
	"github.com/noah-isme/toko-pos/internal/catalog"
	"github.com/noah-isme/toko-pos/internal/docstore"
	"github.com/noah-isme/toko-pos/internal/events"
	"github.com/noah-isme/toko-pos/internal/obs"
	"github.com/noah-isme/toko-pos/internal/pricing"
	"github.com/noah-isme/toko-pos/internal/resilience"
)

var (
	// ErrInvalidInput is returned for rejected customer details or an empty cart.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNoBill is returned by Commit when no bill has been generated.
	ErrNoBill = errors.New("no generated bill")
	// ErrCommitExhausted is returned when every commit attempt hit a conflict.
	ErrCommitExhausted = errors.New("commit retries exhausted")

	errNumberTaken = errors.New("bill number taken")
)

// WarningArchiveWrite marks a committed bill whose archive copy failed.
const WarningArchiveWrite = "ARCHIVE_WRITE_FAILURE"

// State is the engine's position in the billing flow.
type State string

const (
	StateEmpty     State = "empty"
	StateBuilding  State = "building"
	StateGenerated State = "generated"
	StateCommitted State = "committed"
)

// Archiver stores committed bills outside the document store.
type Archiver interface {
	Write(ctx context.Context, e archive.Entry) error
}

// Emitter publishes domain events.
type Emitter interface {
	Emit(ctx context.Context, topic, aggregateID string, payload any) (events.Event, error)
}

// Config wires a Service.
type Config struct {
	Store      docstore.Store
	Numbers    *Numberer
	Archive    Archiver
	Events     Emitter
	Header     ReceiptHeader
	MaxRetries int
	RetryBase  time.Duration
	Logger     zerolog.Logger
}

// Service holds what every session's Engine shares.
type Service struct {
	store      docstore.Store
	numbers    *Numberer
	archive    Archiver
	events     Emitter
	header     ReceiptHeader
	maxRetries int
	retryBase  time.Duration
	logger     zerolog.Logger
}

// NewService validates cfg.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("billing: store is required")
	}
	if cfg.Numbers == nil {
		cfg.Numbers = &Numberer{}
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 20 * time.Millisecond
	}
	return &Service{
		store:      cfg.Store,
		numbers:    cfg.Numbers,
		archive:    cfg.Archive,
		events:     cfg.Events,
		header:     cfg.Header,
		maxRetries: cfg.MaxRetries,
		retryBase:  cfg.RetryBase,
		logger:     cfg.Logger,
	}, nil
}

// NewEngine returns an empty engine whose cart validates against stock.
func (s *Service) NewEngine(stock cart.StockReader) *Engine {
	return &Engine{svc: s, cart: cart.New(stock), state: StateEmpty}
}

// Record returns the stored document for a committed bill.
func (s *Service) Record(ctx context.Context, number string) (Record, bool, error) {
	var rec Record
	found, err := s.store.Get(ctx, BillKey(number), &rec)
	return rec, found, err
}

// Warning is a non-fatal problem reported alongside a committed bill.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CommitResult is the outcome of a successful commit.
type CommitResult struct {
	Bill     Bill      `json:"bill"`
	Warnings []Warning `json:"warnings,omitempty"`
}

// Snapshot is the engine state shown to the cashier.
type Snapshot struct {
	State  State           `json:"state"`
	Lines  []cart.Line     `json:"items"`
	Totals pricing.Summary `json:"totals"`
	Bill   *Bill           `json:"bill,omitempty"`
}

// Engine is owned by one session. Its methods are serialised.
type Engine struct {
	mu    sync.Mutex
	svc   *Service
	cart  *cart.Cart
	state State
	bill  *Bill
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// AddOrUpdate sets a cart line. A generated bill is discarded.
func (e *Engine) AddOrUpdate(ctx context.Context, productID, name string, unitPrice pricing.Money, qty int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.cart.AddOrUpdate(ctx, productID, name, unitPrice, qty); err != nil {
		return err
	}
	e.bill = nil
	e.state = StateBuilding
	return nil
}

// Remove drops a product from the cart and reports whether it was present.
func (e *Engine) Remove(productID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	removed := e.cart.Remove(productID)
	if removed {
		e.bill = nil
		e.settle()
	}
	return removed
}

// Clear empties the cart and drops any generated bill.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cart.Clear()
	e.bill = nil
	e.state = StateEmpty
}

func (e *Engine) settle() {
	if e.cart.Len() == 0 {
		e.state = StateEmpty
		return
	}
	e.state = StateBuilding
}

// Snapshot returns a copy of the engine state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	lines := e.cart.Lines()
	snap := Snapshot{State: e.state, Lines: lines, Totals: cart.Totals(lines)}
	if e.bill != nil {
		b := *e.bill
		snap.Bill = &b
	}
	return snap
}

// GenerateBill prices the cart for the given customer and renders the
// receipt. Nothing is written to the store.
func (e *Engine) GenerateBill(customerName, customerContact string) (Bill, error) {
	customerName = strings.TrimSpace(customerName)
	customerContact = strings.TrimSpace(customerContact)

	e.mu.Lock()
	defer e.mu.Unlock()

	lines := e.cart.Lines()
	switch {
	case len(lines) == 0:
		return Bill{}, fmt.Errorf("cart empty: %w", ErrInvalidInput)
	case customerName == "":
		return Bill{}, fmt.Errorf("customer name required: %w", ErrInvalidInput)
	case customerContact == "":
		return Bill{}, fmt.Errorf("customer contact required: %w", ErrInvalidInput)
	case !validContact(customerContact):
		return Bill{}, fmt.Errorf("customer contact must be 10 digits: %w", ErrInvalidInput)
	}

	number, at := e.svc.numbers.Next()
	bill := Bill{
		Number:          number,
		Timestamp:       at,
		CustomerName:    customerName,
		CustomerContact: customerContact,
		Lines:           lines,
		Totals:          cart.Totals(lines),
		DiscountBps:     pricing.DiscountBps,
	}
	bill.Receipt = RenderReceipt(e.svc.header, bill)
	e.bill = &bill
	e.state = StateGenerated
	return bill, nil
}

func validContact(s string) bool {
	if len(s) != 10 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Commit atomically decrements stock for every line and stores the bill.
// On failure the cart and generated bill are left as they were. A failed
// archive write does not undo the commit; it is reported as a warning.
func (e *Engine) Commit(ctx context.Context) (CommitResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateGenerated || e.bill == nil {
		return CommitResult{}, ErrNoBill
	}

	ctx, span := obs.StartSpan(ctx, "billing.commit",
		attribute.String("toko.bill_number", e.bill.Number),
		attribute.Int("toko.bill_lines", len(e.bill.Lines)),
	)
	committed, err := e.svc.commit(ctx, *e.bill)
	obs.EndSpan(span, err)
	if err != nil {
		obs.IncBillOutcome(outcomeOf(err))
		return CommitResult{}, err
	}
	e.state = StateCommitted
	obs.IncBillOutcome("committed")
	obs.ObserveBillNet(pricing.Float(committed.Totals.Net))

	result := CommitResult{Bill: committed}
	e.svc.publish(ctx, events.TopicBillCommitted, committed)
	if warn, ok := e.svc.archiveBill(ctx, committed); !ok {
		result.Warnings = append(result.Warnings, warn)
	}

	e.cart.Clear()
	e.bill = nil
	e.state = StateEmpty
	return result, nil
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, cart.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrCommitExhausted):
		return "conflict"
	default:
		return "error"
	}
}

func (s *Service) commit(ctx context.Context, bill Bill) (Bill, error) {
	logger := s.loggerFrom(ctx)
	policy := resilience.RetryPolicy{
		MaxRetries: s.maxRetries,
		Base:       s.retryBase,
		Jitter:     0.2,
		Retryable: func(err error) bool {
			return errors.Is(err, docstore.ErrConflict) || errors.Is(err, errNumberTaken)
		},
		OnRetry: func(attempt int, err error) {
			obs.IncCommitRetry()
			logger.Debug().Err(err).Int("attempt", attempt).Str("bill_number", bill.Number).Msg("retrying bill commit")
		},
	}

	err := resilience.Retry(ctx, policy, func(int) error {
		err := s.store.Update(ctx, []string{catalog.ProductsKey, BillKey(bill.Number)}, func(tx docstore.Tx) error {
			return applyBill(tx, bill)
		})
		if errors.Is(err, errNumberTaken) {
			taken := bill.Number
			bill.Number = s.numbers.After(taken)
			bill.Receipt = RenderReceipt(s.header, bill)
			logger.Info().Str("taken", taken).Str("bill_number", bill.Number).Msg("bill number renumbered")
		}
		return err
	})
	switch {
	case err == nil:
		return bill, nil
	case errors.Is(err, docstore.ErrConflict), errors.Is(err, errNumberTaken):
		return Bill{}, fmt.Errorf("%w: %w", ErrCommitExhausted, err)
	default:
		return Bill{}, err
	}
}

// applyBill runs inside the store transaction.
func applyBill(tx docstore.Tx, bill Bill) error {
	if _, found, err := LoadRecord(tx, bill.Number); err != nil {
		return err
	} else if found {
		return errNumberTaken
	}

	products, err := catalog.LoadProducts(tx)
	if err != nil {
		return err
	}
	index := make(map[string]int, len(products))
	for i, p := range products {
		index[p.PID] = i
	}

	wanted := make(map[string]int, len(bill.Lines))
	for _, l := range bill.Lines {
		wanted[l.ProductID] += l.Quantity
	}
	for _, l := range bill.Lines {
		qty, pending := wanted[l.ProductID]
		if !pending {
			continue
		}
		delete(wanted, l.ProductID)
		i, ok := index[l.ProductID]
		if !ok {
			return &cart.StockError{PID: l.ProductID, Name: l.Name, Requested: qty, Available: 0}
		}
		if qty > products[i].QTY {
			return &cart.StockError{PID: l.ProductID, Name: products[i].Name, Requested: qty, Available: products[i].QTY}
		}
		products[i].QTY -= qty
	}

	if err := catalog.SaveProducts(tx, products); err != nil {
		return err
	}
	return tx.Set(BillKey(bill.Number), recordOf(bill))
}

func (s *Service) publish(ctx context.Context, topic string, bill Bill) {
	if s.events == nil {
		return
	}
	payload := map[string]any{
		"bill_number": bill.Number,
		"net":         bill.Totals.Net,
		"items":       len(bill.Lines),
	}
	if _, err := s.events.Emit(ctx, topic, bill.Number, payload); err != nil {
		s.loggerFrom(ctx).Warn().Err(err).Str("topic", topic).Str("bill_number", bill.Number).Msg("emit event failed")
	}
}

func (s *Service) archiveBill(ctx context.Context, bill Bill) (Warning, bool) {
	if s.archive == nil {
		return Warning{}, true
	}
	err := s.archive.Write(ctx, archive.Entry{
		Number:          bill.Number,
		Timestamp:       bill.Timestamp,
		CustomerName:    bill.CustomerName,
		CustomerContact: bill.CustomerContact,
		Subtotal:        bill.Totals.Subtotal,
		Discount:        bill.Totals.Discount,
		Net:             bill.Totals.Net,
		Receipt:         bill.Receipt,
	})
	if err == nil {
		return Warning{}, true
	}
	obs.IncArchiveFailure()
	s.loggerFrom(ctx).Error().Err(err).Str("bill_number", bill.Number).Msg("archive bill failed")
	s.publish(ctx, events.TopicBillArchiveFailed, bill)
	return Warning{Code: WarningArchiveWrite, Message: "bill committed but the local archive copy failed: " + err.Error()}, false
}

func (s *Service) loggerFrom(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.logger
}
