package cart_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pos/internal/cart"
	"github.com/noah-isme/toko-pos/internal/catalog"
	"github.com/noah-isme/toko-pos/internal/pricing"
)

type stubStock map[string]catalog.Product

func (s stubStock) Get(_ context.Context, pid string) (catalog.Product, error) {
	p, ok := s[pid]
	if !ok {
		return catalog.Product{}, catalog.ErrNotFound
	}
	return p, nil
}

type failingStock struct{ err error }

func (f failingStock) Get(context.Context, string) (catalog.Product, error) {
	return catalog.Product{}, f.err
}

func TestAddOrUpdateReplacesLineWithinStock(t *testing.T) {
	stock := stubStock{"P001": {PID: "P001", Name: "Pen", Price: 10000, QTY: 10}}
	c := cart.New(stock)
	ctx := context.Background()

	require.NoError(t, c.AddOrUpdate(ctx, "P001", "Pen", 10000, 5))
	require.NoError(t, c.AddOrUpdate(ctx, "P001", "Pen", 10000, 8))
	require.Equal(t, []cart.Line{{ProductID: "P001", Name: "Pen", UnitPrice: 10000, Quantity: 8, LineTotal: 80000}}, c.Lines())

	err := c.AddOrUpdate(ctx, "P001", "Pen", 10000, 11)
	require.ErrorIs(t, err, cart.ErrInsufficientStock)
	var stockErr *cart.StockError
	require.True(t, errors.As(err, &stockErr))
	require.Equal(t, "P001", stockErr.PID)
	require.Equal(t, 11, stockErr.Requested)
	require.Equal(t, 10, stockErr.Available)

	require.Equal(t, 8, c.Lines()[0].Quantity, "failed update leaves the line untouched")
}

func TestAddOrUpdateValidation(t *testing.T) {
	stock := stubStock{"P001": {PID: "P001", Name: "Pen", Price: 100, QTY: 1}}
	c := cart.New(stock)
	ctx := context.Background()

	require.ErrorIs(t, c.AddOrUpdate(ctx, "P001", "Pen", 100, 0), cart.ErrInvalidInput)
	require.ErrorIs(t, c.AddOrUpdate(ctx, "P001", "Pen", 0, 1), cart.ErrInvalidInput)
	require.ErrorIs(t, c.AddOrUpdate(ctx, "", "Pen", 100, 1), cart.ErrInvalidInput)
	require.ErrorIs(t, c.AddOrUpdate(ctx, "P404", "Ghost", 100, 1), cart.ErrUnknownProduct)
	require.Zero(t, c.Len())
}

func TestAddOrUpdatePropagatesStoreErrors(t *testing.T) {
	boom := errors.New("store down")
	c := cart.New(failingStock{err: boom})
	require.ErrorIs(t, c.AddOrUpdate(context.Background(), "P001", "Pen", 100, 1), boom)
}

func TestRemoveAndClearResetTotals(t *testing.T) {
	stock := stubStock{
		"P001": {PID: "P001", Name: "Pen", QTY: 10},
		"P002": {PID: "P002", Name: "Ink", QTY: 10},
	}
	c := cart.New(stock)
	ctx := context.Background()
	require.NoError(t, c.AddOrUpdate(ctx, "P001", "Pen", 10000, 2))
	require.NoError(t, c.AddOrUpdate(ctx, "P002", "", 5000, 1))
	require.Equal(t, "Ink", c.Lines()[1].Name, "name falls back to the catalog")

	require.Equal(t, pricing.Summary{Subtotal: 25000, Discount: 1250, Net: 23750}, c.Totals())

	require.True(t, c.Remove("P002"))
	require.False(t, c.Remove("P002"))
	require.Equal(t, pricing.Money(20000), c.Totals().Subtotal)

	c.Clear()
	require.Zero(t, c.Len())
	require.Equal(t, pricing.Summary{}, c.Totals())
}

func TestLinesReturnsCopy(t *testing.T) {
	c := cart.New(stubStock{"P001": {PID: "P001", QTY: 5}})
	require.NoError(t, c.AddOrUpdate(context.Background(), "P001", "Pen", 100, 1))
	lines := c.Lines()
	lines[0].Quantity = 99
	require.Equal(t, 1, c.Lines()[0].Quantity)
}
