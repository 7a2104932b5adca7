package billing

import (
	"time"

	"github.com/noah-isme/toko-pos/internal/cart"
	"github.com/noah-isme/toko-pos/internal/docstore"
	"github.com/noah-isme/toko-pos/internal/pricing"
)

// TimestampLayout is the stored bill timestamp format.
const TimestampLayout = "2006-01-02 15:04:05"

// Bill is a generated or committed bill.
type Bill struct {
	Number          string          `json:"bill_number"`
	Timestamp       time.Time       `json:"timestamp"`
	CustomerName    string          `json:"customer_name"`
	CustomerContact string          `json:"customer_contact"`
	Lines           []cart.Line     `json:"items"`
	Totals          pricing.Summary `json:"totals"`
	DiscountBps     int             `json:"discount_bps"`
	Receipt         string          `json:"receipt"`
}

// BillKey is the document key of a committed bill.
func BillKey(number string) string {
	return "Bills/" + number
}

// Record is the stored bill document.
type Record struct {
	BillNumber      string         `json:"bill_number"`
	Timestamp       string         `json:"timestamp"`
	CustomerName    string         `json:"customer_name"`
	CustomerContact string         `json:"customer_contact"`
	Items           []RecordItem   `json:"items"`
	BillAmount      pricing.Amount `json:"bill_amount"`
	Discount        pricing.Amount `json:"discount"`
	NetPay          pricing.Amount `json:"net_pay"`
}

// RecordItem is one purchased line inside Record.
type RecordItem struct {
	PID   string         `json:"pid"`
	Name  string         `json:"name"`
	Qty   int            `json:"qty"`
	Price pricing.Amount `json:"price"`
	Total pricing.Amount `json:"total"`
}

func recordOf(b Bill) Record {
	items := make([]RecordItem, 0, len(b.Lines))
	for _, l := range b.Lines {
		items = append(items, RecordItem{
			PID:   l.ProductID,
			Name:  l.Name,
			Qty:   l.Quantity,
			Price: pricing.Amount(l.UnitPrice),
			Total: pricing.Amount(l.LineTotal),
		})
	}
	return Record{
		BillNumber:      b.Number,
		Timestamp:       b.Timestamp.Format(TimestampLayout),
		CustomerName:    b.CustomerName,
		CustomerContact: b.CustomerContact,
		Items:           items,
		BillAmount:      pricing.Amount(b.Totals.Subtotal),
		Discount:        pricing.Amount(b.Totals.Discount),
		NetPay:          pricing.Amount(b.Totals.Net),
	}
}

// LoadRecord reads a committed bill document.
func LoadRecord(tx docstore.Tx, number string) (Record, bool, error) {
	var rec Record
	found, err := tx.Get(BillKey(number), &rec)
	return rec, found, err
}
