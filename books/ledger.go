/*
ledger.go - Inventory: supply, sale and stock

PURPOSE:
  Products carry a running quantity; the Transactions table records every
  change. Supply adds stock, Sale removes it and never below zero.

TWO-PHASE SALE:
  1. Validate: every item must match a product by normalized (name, size),
     and the sum requested per product must fit its quantity. The first
     failure aborts the call before anything is written.
  2. Commit: one row write per touched product, then one ledger row per
     item, all sharing the call's timestamp.

  A crash in the middle of phase 2 leaves a partial write. The ledger
  shows which items went through; reconciling is manual.

MATCHING:
  Names and sizes compare by normalize.Name and normalize.Size. First
  matching row wins.

SEE ALSO:
  - undo.go: reverses the last sale or supply
  - normalize/normalize.go: matching keys
*/
package books

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/voicestock/normalize"
	"github.com/warp/voicestock/sheet"
)

// maxSuggestions caps ProductNotFoundError.Suggestions.
const maxSuggestions = 5

// =============================================================================
// STOCK PLAN - Products read once, changed in memory, written once each
// =============================================================================

type productKey struct{ name, size string }

func keyOf(name, size string) productKey {
	return productKey{normalize.Name(name), normalize.Size(size)}
}

type stockPlan struct {
	table    *sheet.Table
	products []*Product
	keys     []productKey
	touched  []*Product
}

func (b *Books) planStock(ctx context.Context) (*stockPlan, error) {
	t, products, err := b.loadProducts(ctx)
	if err != nil {
		return nil, err
	}
	p := &stockPlan{table: t}
	for i := range products {
		p.products = append(p.products, &products[i])
		p.keys = append(p.keys, keyOf(products[i].Name, products[i].Size))
	}
	return p, nil
}

func (p *stockPlan) find(name, size string) *Product {
	k := keyOf(name, size)
	for i, have := range p.keys {
		if have == k {
			return p.products[i]
		}
	}
	return nil
}

// add registers a product that has no row yet.
func (p *stockPlan) add(prod Product) *Product {
	ptr := &prod
	p.products = append(p.products, ptr)
	p.keys = append(p.keys, keyOf(prod.Name, prod.Size))
	return ptr
}

func (p *stockPlan) touch(prod *Product) {
	for _, t := range p.touched {
		if t == prod {
			return
		}
	}
	p.touched = append(p.touched, prod)
}

// suggestions returns up to maxSuggestions distinct "Name (Size)" labels.
func (p *stockPlan) suggestions() []string {
	seen := make(map[string]bool)
	var out []string
	for _, prod := range p.products {
		if prod.Row == 0 {
			continue
		}
		l := label(prod.Name, prod.Size)
		if !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	sort.Strings(out)
	if len(out) > maxSuggestions {
		out = out[:maxSuggestions]
	}
	return out
}

func (p *stockPlan) commit(ctx context.Context, b *Books, ts string) error {
	for _, prod := range p.touched {
		prod.LastUpdated = ts
		if err := b.put(ctx, p.table, prod.Row, prod.fields()); err != nil {
			return err
		}
	}
	return nil
}

func levelOf(p *Product) StockLevel {
	return StockLevel{Name: p.Name, Size: p.Size, Quantity: p.Quantity}
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Supply adds stock. Unknown products are created. A positive unit price
// replaces the stored price. Levels are returned per item, in input order.
func (b *Books) Supply(ctx context.Context, items []SupplyItem) ([]StockLevel, error) {
	if err := validateSupply(items); err != nil {
		return nil, err
	}
	plan, err := b.planStock(ctx)
	if err != nil {
		return nil, err
	}
	ts := b.now().Format(TimestampLayout)

	matched := make([]*Product, len(items))
	entries := make([]Transaction, len(items))
	for i, it := range items {
		prod := plan.find(it.Name, it.Size)
		if prod == nil {
			prod = plan.add(Product{
				Name: strings.TrimSpace(it.Name),
				Size: strings.TrimSpace(it.Size),
			})
		}
		prod.Quantity += it.Quantity
		if it.UnitPrice.IsPositive() {
			prod.UnitPrice = it.UnitPrice
		}
		plan.touch(prod)
		matched[i] = prod
		entries[i] = Transaction{
			Type:        TxSupply,
			ItemName:    prod.Name,
			Size:        prod.Size,
			UnitPrice:   it.UnitPrice,
			Quantity:    it.Quantity,
			TotalAmount: it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))),
		}
	}

	if err := plan.commit(ctx, b, ts); err != nil {
		return nil, err
	}
	if err := b.record(ctx, ts, entries...); err != nil {
		b.log.WithError(err).Error("supply: stock written but ledger append failed")
		return nil, err
	}

	levels := make([]StockLevel, len(matched))
	for i, prod := range matched {
		levels[i] = levelOf(prod)
	}
	b.log.WithFields(logrus.Fields{"op": "supply", "items": len(items)}).Info("supply recorded")
	return levels, nil
}

// Sell removes stock for every item or for none of them.
func (b *Books) Sell(ctx context.Context, items []SaleItem) ([]StockLevel, error) {
	if err := validateSale(items); err != nil {
		return nil, err
	}
	plan, err := b.planStock(ctx)
	if err != nil {
		return nil, err
	}

	// Phase 1: validate against the quantities as read.
	matched := make([]*Product, len(items))
	requested := make(map[*Product]int)
	for i, it := range items {
		prod := plan.find(it.Name, it.Size)
		if prod == nil {
			return nil, &ProductNotFoundError{
				Item:        strings.TrimSpace(it.Name),
				Size:        strings.TrimSpace(it.Size),
				Suggestions: plan.suggestions(),
			}
		}
		requested[prod] += it.Quantity
		if requested[prod] > prod.Quantity {
			return nil, &InsufficientStockError{
				Item:      prod.Name,
				Size:      prod.Size,
				Available: prod.Quantity,
				Requested: requested[prod],
			}
		}
		matched[i] = prod
	}

	// Phase 2: commit.
	ts := b.now().Format(TimestampLayout)
	entries := make([]Transaction, len(items))
	for i, it := range items {
		prod := matched[i]
		prod.Quantity -= it.Quantity
		plan.touch(prod)
		entries[i] = Transaction{
			Type:        TxSale,
			ClientName:  strings.TrimSpace(it.ClientName),
			ItemName:    prod.Name,
			Size:        prod.Size,
			UnitPrice:   it.UnitPrice,
			Quantity:    it.Quantity,
			TotalAmount: it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))),
		}
	}
	if err := plan.commit(ctx, b, ts); err != nil {
		b.log.WithError(err).Error("sale: commit interrupted, check Transactions against Products")
		return nil, err
	}
	if err := b.record(ctx, ts, entries...); err != nil {
		b.log.WithError(err).Error("sale: stock written but ledger append failed")
		return nil, err
	}

	levels := make([]StockLevel, len(matched))
	for i, prod := range matched {
		levels[i] = levelOf(prod)
	}
	b.log.WithFields(logrus.Fields{"op": "sale", "items": len(items)}).Info("sale recorded")
	return levels, nil
}

// Stock lists every size of products matching name.
func (b *Books) Stock(ctx context.Context, name string) ([]Product, error) {
	_, products, err := b.loadProducts(ctx)
	if err != nil {
		return nil, err
	}
	var out []Product
	for _, p := range products {
		if normalize.SameName(p.Name, name) {
			out = append(out, p)
		}
	}
	return out, nil
}

// Products returns the whole catalogue in sheet order.
func (b *Books) Products(ctx context.Context) ([]Product, error) {
	_, products, err := b.loadProducts(ctx)
	return products, err
}

// Ledger returns every Transactions row in sheet order.
func (b *Books) Ledger(ctx context.Context) ([]Transaction, error) {
	return b.loadLedger(ctx)
}

// =============================================================================
// VALIDATION
// =============================================================================

func validateSupply(items []SupplyItem) error {
	if len(items) == 0 {
		return Malformed("items", "at least one item is required")
	}
	fields := make(map[string]string)
	for i, it := range items {
		checkItem(fields, i, it.Name, it.Quantity)
		if it.UnitPrice.IsNegative() {
			fields[itemField(i, "unit_price")] = "must not be negative"
		}
	}
	if len(fields) > 0 {
		return &MalformedIntentError{Fields: fields}
	}
	return nil
}

func validateSale(items []SaleItem) error {
	if len(items) == 0 {
		return Malformed("items", "at least one item is required")
	}
	fields := make(map[string]string)
	for i, it := range items {
		checkItem(fields, i, it.Name, it.Quantity)
		if !it.UnitPrice.IsPositive() {
			fields[itemField(i, "unit_price")] = "must be positive"
		}
	}
	if len(fields) > 0 {
		return &MalformedIntentError{Fields: fields}
	}
	return nil
}

func checkItem(fields map[string]string, i int, name string, qty int) {
	if strings.TrimSpace(name) == "" {
		fields[itemField(i, "name")] = "is required"
	}
	if qty <= 0 {
		fields[itemField(i, "quantity")] = "must be positive"
	}
}

func itemField(i int, name string) string {
	return "items[" + strconv.Itoa(i) + "]." + name
}
