// Package cart holds the per-session list of pending purchase lines and
// enforces that no product is requested beyond its live stock.
package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/noah-isme/toko-pos/internal/catalog"
	"github.com/noah-isme/toko-pos/internal/pricing"
)

var (
	// ErrInvalidInput is returned when the provided line is invalid.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnknownProduct is returned when the product is not in the catalog.
	ErrUnknownProduct = errors.New("unknown product")
	// ErrInsufficientStock is matched by every *StockError.
	ErrInsufficientStock = errors.New("insufficient stock")
)

// StockError names the product whose stock cannot cover a request.
type StockError struct {
	PID       string
	Name      string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.PID, e.Requested, e.Available)
}

// Unwrap lets errors.Is match ErrInsufficientStock.
func (e *StockError) Unwrap() error { return ErrInsufficientStock }

// StockReader returns the live catalog entry for a product.
type StockReader interface {
	Get(ctx context.Context, pid string) (catalog.Product, error)
}

// Line is one product in the cart.
type Line struct {
	ProductID string        `json:"pid"`
	Name      string        `json:"name"`
	UnitPrice pricing.Money `json:"unit_price"`
	Quantity  int           `json:"qty"`
	LineTotal pricing.Money `json:"line_total"`
}

// Cart is owned by one session. It is safe for concurrent use.
type Cart struct {
	mu    sync.Mutex
	stock StockReader
	lines []Line
}

// New returns an empty cart validating against stock.
func New(stock StockReader) *Cart {
	return &Cart{stock: stock}
}

// AddOrUpdate sets the line for productID to quantity, replacing any existing
// line. The request fails with a *StockError when quantity plus what other
// lines already hold for the same product exceeds the live stock.
func (c *Cart) AddOrUpdate(ctx context.Context, productID, name string, unitPrice pricing.Money, quantity int) error {
	productID = strings.TrimSpace(productID)
	switch {
	case productID == "":
		return fmt.Errorf("product id required: %w", ErrInvalidInput)
	case unitPrice <= 0:
		return fmt.Errorf("unit price must be positive: %w", ErrInvalidInput)
	case quantity <= 0:
		return fmt.Errorf("qty must be positive: %w", ErrInvalidInput)
	}
	if c.stock == nil {
		return errors.New("cart: stock reader not configured")
	}

	product, err := c.stock.Get(ctx, productID)
	if errors.Is(err, catalog.ErrNotFound) {
		return fmt.Errorf("%s: %w", productID, ErrUnknownProduct)
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	held := 0
	idx := -1
	for i, l := range c.lines {
		if l.ProductID != productID {
			continue
		}
		if idx < 0 {
			idx = i
			continue
		}
		held += l.Quantity
	}
	if quantity+held > product.QTY {
		return &StockError{PID: productID, Name: product.Name, Requested: quantity + held, Available: product.QTY}
	}

	if strings.TrimSpace(name) == "" {
		name = product.Name
	}
	line := Line{
		ProductID: productID,
		Name:      name,
		UnitPrice: unitPrice,
		Quantity:  quantity,
		LineTotal: unitPrice * pricing.Money(quantity),
	}
	if idx >= 0 {
		c.lines[idx] = line
	} else {
		c.lines = append(c.lines, line)
	}
	return nil
}

// Remove drops every line for productID and reports whether one existed.
func (c *Cart) Remove(productID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.lines[:0]
	removed := false
	for _, l := range c.lines {
		if l.ProductID == productID {
			removed = true
			continue
		}
		kept = append(kept, l)
	}
	c.lines = kept
	return removed
}

// Clear empties the cart.
func (c *Cart) Clear() {
	c.mu.Lock()
	c.lines = nil
	c.mu.Unlock()
}

// Lines returns a copy of the current lines in insertion order.
func (c *Cart) Lines() []Line {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	return out
}

// Len returns the number of lines.
func (c *Cart) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lines)
}

// Totals computes subtotal, discount and net for the current lines.
func (c *Cart) Totals() pricing.Summary {
	return Totals(c.Lines())
}

// Totals computes bill totals for lines.
func Totals(lines []Line) pricing.Summary {
	items := make([]pricing.Item, 0, len(lines))
	for _, l := range lines {
		items = append(items, pricing.Item{Qty: l.Quantity, UnitPrice: l.UnitPrice})
	}
	return pricing.ComputeBill(items)
}
