package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pos/internal/docstore"
	"github.com/noah-isme/toko-pos/internal/events"
	"github.com/noah-isme/toko-pos/internal/pricing"
)

var (
	// ErrNotFound indicates the requested product does not exist.
	ErrNotFound = errors.New("product not found")
	// ErrInvalidInput is returned when a product payload is invalid.
	ErrInvalidInput = errors.New("invalid input")
	// ErrDuplicate is returned when a PID is already in use.
	ErrDuplicate = errors.New("product already exists")
)

// Product is a catalog entry. Price is in paise.
type Product struct {
	PID   string        `json:"pid"`
	Name  string        `json:"name"`
	Price pricing.Money `json:"price"`
	QTY   int           `json:"qty"`
}

// SearchMode selects how Search matches products.
type SearchMode int

const (
	// MatchPrefix matches PID or name prefixes, case-insensitively.
	MatchPrefix SearchMode = iota
	// MatchNameContains matches a name substring, case-insensitively.
	MatchNameContains
)

// NewProduct is the input to Create. An empty PID is generated.
type NewProduct struct {
	PID   string
	Name  string
	Price pricing.Money
	QTY   int
}

// Patch lists the fields Update changes; nil fields are left as they are.
type Patch struct {
	Name  *string
	Price *pricing.Money
	QTY   *int
}

// Service owns the product document.
type Service struct {
	store docstore.Store
	cache *Cache
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Store docstore.Store
	Cache *Cache
}

// NewService constructs a catalog Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("catalog: store is required")
	}
	return &Service{store: cfg.Store, cache: cfg.Cache}, nil
}

// List returns all products, served from cache when possible.
func (s *Service) List(ctx context.Context) ([]Product, error) {
	return s.cache.Products(ctx, s.load)
}

// Get returns the current product straight from the store, bypassing the
// listing cache so callers always see live stock.
func (s *Service) Get(ctx context.Context, pid string) (Product, error) {
	products, err := s.load(ctx)
	if err != nil {
		return Product{}, err
	}
	if i := indexOf(products, pid); i >= 0 {
		return products[i], nil
	}
	return Product{}, fmt.Errorf("%s: %w", pid, ErrNotFound)
}

// Search filters the listing. An empty query returns everything.
func (s *Service) Search(ctx context.Context, query string, mode SearchMode) ([]Product, error) {
	products, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return products, nil
	}
	out := make([]Product, 0, len(products))
	for _, p := range products {
		name := strings.ToLower(p.Name)
		switch mode {
		case MatchNameContains:
			if strings.Contains(name, q) {
				out = append(out, p)
			}
		default:
			if strings.HasPrefix(strings.ToLower(p.PID), q) || strings.HasPrefix(name, q) {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

// Create appends a product. Without an explicit PID the next PID<n> is used.
func (s *Service) Create(ctx context.Context, in NewProduct) (Product, error) {
	in.PID = strings.TrimSpace(in.PID)
	in.Name = strings.TrimSpace(in.Name)
	if err := validate(in.Name, in.Price, in.QTY); err != nil {
		return Product{}, err
	}
	var created Product
	err := s.store.Update(ctx, []string{ProductsKey}, func(tx docstore.Tx) error {
		products, err := LoadProducts(tx)
		if err != nil {
			return err
		}
		pid := in.PID
		if pid == "" {
			pid = NextPID(products)
		} else if indexOf(products, pid) >= 0 {
			return fmt.Errorf("%s: %w", pid, ErrDuplicate)
		}
		created = Product{PID: pid, Name: in.Name, Price: in.Price, QTY: in.QTY}
		return SaveProducts(tx, append(products, created))
	})
	if err != nil {
		return Product{}, err
	}
	s.Invalidate(ctx)
	return created, nil
}

// Update applies patch to the product identified by pid.
func (s *Service) Update(ctx context.Context, pid string, patch Patch) (Product, error) {
	var updated Product
	err := s.store.Update(ctx, []string{ProductsKey}, func(tx docstore.Tx) error {
		products, err := LoadProducts(tx)
		if err != nil {
			return err
		}
		i := indexOf(products, pid)
		if i < 0 {
			return fmt.Errorf("%s: %w", pid, ErrNotFound)
		}
		p := products[i]
		if patch.Name != nil {
			p.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.Price != nil {
			p.Price = *patch.Price
		}
		if patch.QTY != nil {
			p.QTY = *patch.QTY
		}
		if err := validate(p.Name, p.Price, p.QTY); err != nil {
			return err
		}
		products[i] = p
		updated = p
		return SaveProducts(tx, products)
	})
	if err != nil {
		return Product{}, err
	}
	s.Invalidate(ctx)
	return updated, nil
}

// Delete removes the product identified by pid.
func (s *Service) Delete(ctx context.Context, pid string) error {
	err := s.store.Update(ctx, []string{ProductsKey}, func(tx docstore.Tx) error {
		products, err := LoadProducts(tx)
		if err != nil {
			return err
		}
		i := indexOf(products, pid)
		if i < 0 {
			return fmt.Errorf("%s: %w", pid, ErrNotFound)
		}
		return SaveProducts(tx, append(products[:i], products[i+1:]...))
	})
	if err != nil {
		return err
	}
	s.Invalidate(ctx)
	return nil
}

// Invalidate drops the cached listing.
func (s *Service) Invalidate(ctx context.Context) {
	if err := s.cache.Invalidate(ctx); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("catalog cache invalidate failed")
	}
}

func (s *Service) load(ctx context.Context) ([]Product, error) {
	var doc productsDocument
	if _, err := s.store.Get(ctx, ProductsKey, &doc); err != nil {
		return nil, err
	}
	return toProducts(doc), nil
}

// NextPID returns "PID<n>" where n is one more than the largest numeric
// suffix among existing PID-prefixed identifiers.
func NextPID(products []Product) string {
	maxN := 0
	for _, p := range products {
		if !strings.HasPrefix(p.PID, "PID") {
			continue
		}
		if n, err := strconv.Atoi(p.PID[3:]); err == nil && n > maxN {
			maxN = n
		}
	}
	return "PID" + strconv.Itoa(maxN+1)
}

// SortByPID orders products by PID in place.
func SortByPID(products []Product) {
	sort.SliceStable(products, func(i, j int) bool { return products[i].PID < products[j].PID })
}

func indexOf(products []Product, pid string) int {
	for i, p := range products {
		if p.PID == pid {
			return i
		}
	}
	return -1
}

func validate(name string, price pricing.Money, qty int) error {
	switch {
	case name == "":
		return fmt.Errorf("name required: %w", ErrInvalidInput)
	case price <= 0:
		return fmt.Errorf("price must be positive: %w", ErrInvalidInput)
	case qty < 0:
		return fmt.Errorf("qty must not be negative: %w", ErrInvalidInput)
	}
	return nil
}

// Notify implements events.Notifier: a committed bill changes stock, so the
// cached listing is dropped.
func (s *Service) Notify(ctx context.Context, ev events.Event) error {
	if ev.Topic != events.TopicBillCommitted {
		return nil
	}
	return s.cache.Invalidate(ctx)
}
