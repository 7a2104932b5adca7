package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/noah-isme/toko-pos/internal/docstore"
	"github.com/noah-isme/toko-pos/internal/pricing"
)

// ProductsKey addresses the single document holding the product list.
const ProductsKey = "All-Products/Products-List"

type productsDocument struct {
	Products []productRecord `json:"Products"`
}

type productRecord struct {
	PID   string         `json:"PID"`
	Name  string         `json:"Name"`
	Price pricing.Amount `json:"Price"`
	QTY   flexInt        `json:"QTY"`
}

// flexInt is a stock quantity. Some writers store it as a string, so both
// "5" and 5 decode.
type flexInt int

func (n flexInt) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Itoa(int(n))), nil
}

func (n *flexInt) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(bytes.Trim(bytes.TrimSpace(data), `"`)))
	if raw == "" || raw == "null" {
		*n = 0
		return nil
	}
	if v, err := strconv.Atoi(raw); err == nil {
		*n = flexInt(v)
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f != math.Trunc(f) {
		return fmt.Errorf("qty: not an integer: %q", raw)
	}
	*n = flexInt(int(f))
	return nil
}

func toProducts(doc productsDocument) []Product {
	out := make([]Product, 0, len(doc.Products))
	for _, r := range doc.Products {
		out = append(out, Product{PID: r.PID, Name: r.Name, Price: pricing.Money(r.Price), QTY: int(r.QTY)})
	}
	return out
}

func toDocument(products []Product) productsDocument {
	doc := productsDocument{Products: make([]productRecord, 0, len(products))}
	for _, p := range products {
		doc.Products = append(doc.Products, productRecord{PID: p.PID, Name: p.Name, Price: pricing.Amount(p.Price), QTY: flexInt(p.QTY)})
	}
	return doc
}

// LoadProducts reads the product list inside a store transaction. A missing
// document is an empty catalog.
func LoadProducts(tx docstore.Tx) ([]Product, error) {
	var doc productsDocument
	if _, err := tx.Get(ProductsKey, &doc); err != nil {
		return nil, err
	}
	return toProducts(doc), nil
}

// SaveProducts stages the product list inside a store transaction.
func SaveProducts(tx docstore.Tx, products []Product) error {
	return tx.Set(ProductsKey, toDocument(products))
}

// EncodeProducts renders products in the stored document shape.
func EncodeProducts(products []Product) ([]byte, error) {
	return json.Marshal(toDocument(products))
}
