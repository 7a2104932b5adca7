package billing

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/noah-isme/toko-pos/internal/pricing"
)

const (
	ruleWidth  = 47
	nameWidth  = 24
	qtyWidth   = 8
	labelWidth = 24
)

// ReceiptHeader is printed above every receipt.
type ReceiptHeader struct {
	StoreName string
	PhoneLine string
}

// RenderReceipt renders the fixed-width receipt text for b.
func RenderReceipt(h ReceiptHeader, b Bill) string {
	rule := strings.Repeat("=", ruleWidth)
	var sb strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&sb, format, args...)
		sb.WriteByte('\n')
	}

	line("%s", h.StoreName)
	if h.PhoneLine != "" {
		line("%s", h.PhoneLine)
	}
	line("%s", rule)
	line(" Bill No.      : %s", b.Number)
	line(" Customer Name : %s", b.CustomerName)
	line(" Ph no.        : %s", b.CustomerContact)
	line(" Date          : %s", b.Timestamp.Format("02/01/2006"))
	line(" Time          : %s", b.Timestamp.Format("15:04:05"))
	line("%s", rule)
	line(" %-*s%-*s%s", nameWidth, "Product Name", qtyWidth, "QTY", "Price")
	line("%s", rule)
	for _, l := range b.Lines {
		line(" %-*s%-*s%s", nameWidth, l.Name, qtyWidth, strconv.Itoa(l.Quantity), pricing.Format(l.LineTotal))
	}
	line("%s", rule)
	line(" %-*s%s", labelWidth, "Bill Amount", pricing.Format(b.Totals.Subtotal))
	line(" %-*s%s", labelWidth, "Discount", pricing.Format(b.Totals.Discount))
	line(" %-*s%s", labelWidth, "Net Pay", pricing.Format(b.Totals.Net))
	line("%s", rule)
	return sb.String()
}
