package billing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pos/internal/billing"
	"github.com/noah-isme/toko-pos/internal/cart"
	"github.com/noah-isme/toko-pos/internal/pricing"
)

func TestRenderReceipt(t *testing.T) {
	lines := []cart.Line{{ProductID: "P001", Name: "Pen", UnitPrice: 10000, Quantity: 2, LineTotal: 20000}}
	bill := billing.Bill{
		Number:          "BILL20240102150405",
		Timestamp:       time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC),
		CustomerName:    "Alice",
		CustomerContact: "9876543210",
		Lines:           lines,
		Totals:          pricing.ComputeBill([]pricing.Item{{Qty: 2, UnitPrice: 10000}}),
	}
	header := billing.ReceiptHeader{StoreName: "XYZ-Inventory", PhoneLine: "Phone No. 98725*****, Gujarat-360001"}

	want := "" +
		"XYZ-Inventory\n" +
		"Phone No. 98725*****, Gujarat-360001\n" +
		"===============================================\n" +
		" Bill No.      : BILL20240102150405\n" +
		" Customer Name : Alice\n" +
		" Ph no.        : 9876543210\n" +
		" Date          : 02/01/2024\n" +
		" Time          : 15:04:05\n" +
		"===============================================\n" +
		" Product Name            QTY     Price\n" +
		"===============================================\n" +
		" Pen                     2       Rs. 200.00\n" +
		"===============================================\n" +
		" Bill Amount             Rs. 200.00\n" +
		" Discount                Rs. 10.00\n" +
		" Net Pay                 Rs. 190.00\n" +
		"===============================================\n"
	require.Equal(t, want, billing.RenderReceipt(header, bill))
}

func TestNumbererIsMonotonic(t *testing.T) {
	now := time.Date(2024, 1, 2, 15, 4, 5, 400, time.UTC)
	n := &billing.Numberer{Now: func() time.Time { return now }, Location: time.UTC}

	first, at := n.Next()
	require.Equal(t, "BILL20240102150405", first)
	require.Equal(t, now.Truncate(time.Second), at)

	second, _ := n.Next()
	require.Equal(t, "BILL20240102150406", second)

	require.Equal(t, "BILL20240102150500", n.After("BILL20240102150459"))
	third, _ := n.Next()
	require.Equal(t, "BILL20240102150501", third)

	now = now.Add(time.Hour)
	later, _ := n.Next()
	require.Equal(t, "BILL20240102160405", later)
}
