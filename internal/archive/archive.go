// Package archive keeps the local record of committed bills: one receipt
// text file per bill plus an append-only CSV ledger.
package archive

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/noah-isme/toko-pos/internal/lock"
	"github.com/noah-isme/toko-pos/internal/pricing"
)

// ErrNotFound is returned when no receipt exists for a bill number.
var ErrNotFound = errors.New("archive: bill not found")

// ErrInvalidNumber is returned for bill numbers that cannot name a file.
var ErrInvalidNumber = errors.New("archive: invalid bill number")

// DateLayout is used for the ledger's Date column.
const DateLayout = "2006-01-02 15:04:05"

const ledgerLockKey = "archive:ledger"

var header = []string{"Bill Number", "Date", "Customer Name", "Customer Contact", "Total Amount", "Discount", "Net Pay"}

var validNumber = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Entry is what Write needs to archive one bill.
type Entry struct {
	Number          string
	Timestamp       time.Time
	CustomerName    string
	CustomerContact string
	Subtotal        pricing.Money
	Discount        pricing.Money
	Net             pricing.Money
	Receipt         string
}

// Row is one ledger line as stored.
type Row struct {
	Number          string `json:"bill_number"`
	Date            string `json:"date"`
	CustomerName    string `json:"customer_name"`
	CustomerContact string `json:"customer_contact"`
	TotalAmount     string `json:"total_amount"`
	Discount        string `json:"discount"`
	NetPay          string `json:"net_pay"`
}

// File describes one archived receipt.
type File struct {
	Number  string    `json:"bill_number"`
	ModTime time.Time `json:"modified_at"`
	Size    int64     `json:"size"`
}

// Archive writes under Dir/bills. Locker guards ledger appends; when nil an
// in-process lock is used.
type Archive struct {
	Dir     string
	Locker  lock.Locker
	LockTTL time.Duration

	local lock.Local
}

// New prepares the directory layout.
func New(dir string, locker lock.Locker) (*Archive, error) {
	a := &Archive{Dir: dir, Locker: locker}
	if err := os.MkdirAll(a.csvDir(), 0o755); err != nil {
		return nil, fmt.Errorf("archive: create dirs: %w", err)
	}
	return a, nil
}

func (a *Archive) billsDir() string   { return filepath.Join(a.Dir, "bills") }
func (a *Archive) csvDir() string     { return filepath.Join(a.billsDir(), "csv") }
func (a *Archive) ledgerPath() string { return filepath.Join(a.csvDir(), "bills.csv") }

func (a *Archive) locker() lock.Locker {
	if a.Locker != nil {
		return a.Locker
	}
	return &a.local
}

// Write stores the receipt text and appends the ledger row. Both are
// attempted; failures are joined.
func (a *Archive) Write(ctx context.Context, e Entry) error {
	if !validNumber.MatchString(e.Number) {
		return fmt.Errorf("%w: %q", ErrInvalidNumber, e.Number)
	}
	if err := os.MkdirAll(a.csvDir(), 0o755); err != nil {
		return fmt.Errorf("archive: create dirs: %w", err)
	}
	receiptErr := a.writeReceipt(e)
	ttl := a.LockTTL
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	ledgerErr := a.locker().WithLock(ctx, ledgerLockKey, ttl, func(context.Context) error {
		return a.appendRow(e)
	})
	if ledgerErr != nil {
		ledgerErr = fmt.Errorf("archive: ledger: %w", ledgerErr)
	}
	return errors.Join(receiptErr, ledgerErr)
}

func (a *Archive) writeReceipt(e Entry) error {
	path := filepath.Join(a.billsDir(), e.Number+".txt")
	tmp, err := os.CreateTemp(a.billsDir(), "."+e.Number+"-*.tmp")
	if err != nil {
		return fmt.Errorf("archive: receipt: %w", err)
	}
	if _, err := io.WriteString(tmp, e.Receipt); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("archive: receipt: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("archive: receipt: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("archive: receipt: %w", err)
	}
	return nil
}

func (a *Archive) appendRow(e Entry) error {
	f, err := os.OpenFile(a.ledgerPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(header); err != nil {
			return err
		}
	}
	if err := w.Write(rowOf(e).record()); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func rowOf(e Entry) Row {
	return Row{
		Number:          e.Number,
		Date:            e.Timestamp.Format(DateLayout),
		CustomerName:    e.CustomerName,
		CustomerContact: e.CustomerContact,
		TotalAmount:     pricing.Format(e.Subtotal),
		Discount:        pricing.Format(e.Discount),
		NetPay:          pricing.Format(e.Net),
	}
}

func (r Row) record() []string {
	return []string{r.Number, r.Date, r.CustomerName, r.CustomerContact, r.TotalAmount, r.Discount, r.NetPay}
}

// List returns archived receipts, newest first.
func (a *Archive) List() ([]File, error) {
	entries, err := os.ReadDir(a.billsDir())
	if errors.Is(err, os.ErrNotExist) {
		return []File{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("archive: list: %w", err)
	}
	files := make([]File, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".txt" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, File{
			Number:  strings.TrimSuffix(name, ".txt"),
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
	}
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].ModTime.Equal(files[j].ModTime) {
			return files[i].Number > files[j].Number
		}
		return files[i].ModTime.After(files[j].ModTime)
	})
	return files, nil
}

// Read returns the receipt text for number.
func (a *Archive) Read(number string) (string, error) {
	if !validNumber.MatchString(number) {
		return "", fmt.Errorf("%w: %q", ErrInvalidNumber, number)
	}
	raw, err := os.ReadFile(filepath.Join(a.billsDir(), number+".txt"))
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("archive: read: %w", err)
	}
	return string(raw), nil
}

// Search returns ledger rows whose contact or bill number equals query.
func (a *Archive) Search(query string) ([]Row, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Row{}, nil
	}
	rows, err := a.rows()
	if err != nil {
		return nil, err
	}
	out := make([]Row, 0)
	for _, r := range rows {
		if r.CustomerContact == query || strings.EqualFold(r.Number, query) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (a *Archive) rows() ([]Row, error) {
	f, err := os.Open(a.ledgerPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("archive: ledger: %w", err)
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("archive: ledger: %w", err)
	}
	rows := make([]Row, 0, len(records))
	for i, rec := range records {
		if i == 0 && len(rec) > 0 && rec[0] == header[0] {
			continue
		}
		if len(rec) < len(header) {
			continue
		}
		rows = append(rows, Row{
			Number:          rec[0],
			Date:            rec[1],
			CustomerName:    rec[2],
			CustomerContact: rec[3],
			TotalAmount:     rec[4],
			Discount:        rec[5],
			NetPay:          rec[6],
		})
	}
	return rows, nil
}
