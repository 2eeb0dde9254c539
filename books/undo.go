/*
undo.go - UndoEngine: single-level, ledger-derived undo

PURPOSE:
  Reverses the most recent action of a kind, found by scanning the
  Transactions table backward. No undo stack is kept in memory, so undo
  works the same after a restart.

RULES:
  - Sale:   every Sale row sharing the last sale's timestamp is one action.
            Quantities are added back, then the rows are deleted from the
            highest row number down.
  - Supply: only the single most recent Supply row. Quantity is reduced,
            floored at zero. The product row itself stays.
  - Client field: the last line of anamnesis or notes is removed. The field
            comes from the client's last ClientEdit entry; notes when none.

  Undo is not idempotent: a second call reverses the action before.
  Products are validated before anything is written, like a sale.

SEE ALSO:
  - ledger.go: stockPlan, shared with Supply and Sell
*/
package books

import (
	"context"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/warp/voicestock/normalize"
)

// UndoLastSale restores stock for the most recent sale and removes its
// ledger rows.
func (b *Books) UndoLastSale(ctx context.Context) (UndoResult, error) {
	ledger, err := b.loadLedger(ctx)
	if err != nil {
		return UndoResult{}, err
	}
	last := -1
	for i := len(ledger) - 1; i >= 0; i-- {
		if ledger[i].Type == TxSale {
			last = i
			break
		}
	}
	if last < 0 {
		return UndoResult{}, ErrNothingToUndo
	}
	ts := ledger[last].Timestamp

	var group []Transaction
	for _, e := range ledger {
		if e.Type == TxSale && e.Timestamp == ts {
			group = append(group, e)
		}
	}

	plan, err := b.planStock(ctx)
	if err != nil {
		return UndoResult{}, err
	}
	matched := make([]*Product, len(group))
	for i, e := range group {
		prod := plan.find(e.ItemName, e.Size)
		if prod == nil {
			return UndoResult{}, &ProductNotFoundError{Item: e.ItemName, Size: e.Size, Suggestions: plan.suggestions()}
		}
		matched[i] = prod
	}
	for i, e := range group {
		matched[i].Quantity += e.Quantity
		plan.touch(matched[i])
	}

	if err := plan.commit(ctx, b, b.now().Format(TimestampLayout)); err != nil {
		return UndoResult{}, err
	}
	if err := b.deleteEntries(ctx, group); err != nil {
		b.log.WithError(err).Error("undo sale: stock restored but ledger rows remain")
		return UndoResult{}, err
	}

	res := UndoResult{Entries: group, Levels: make([]StockLevel, len(matched))}
	for i, prod := range matched {
		res.Levels[i] = levelOf(prod)
	}
	b.log.WithFields(logrus.Fields{"op": "undo_sale", "items": len(group)}).Info("sale reverted")
	return res, nil
}

// UndoLastSupply reverses the most recent single Supply row.
func (b *Books) UndoLastSupply(ctx context.Context) (UndoResult, error) {
	ledger, err := b.loadLedger(ctx)
	if err != nil {
		return UndoResult{}, err
	}
	var entry *Transaction
	for i := len(ledger) - 1; i >= 0; i-- {
		if ledger[i].Type == TxSupply {
			entry = &ledger[i]
			break
		}
	}
	if entry == nil {
		return UndoResult{}, ErrNothingToUndo
	}

	plan, err := b.planStock(ctx)
	if err != nil {
		return UndoResult{}, err
	}
	prod := plan.find(entry.ItemName, entry.Size)
	if prod == nil {
		return UndoResult{}, &ProductNotFoundError{Item: entry.ItemName, Size: entry.Size, Suggestions: plan.suggestions()}
	}
	prod.Quantity -= entry.Quantity
	if prod.Quantity < 0 {
		prod.Quantity = 0
	}
	plan.touch(prod)

	if err := plan.commit(ctx, b, b.now().Format(TimestampLayout)); err != nil {
		return UndoResult{}, err
	}
	if err := b.deleteEntries(ctx, []Transaction{*entry}); err != nil {
		b.log.WithError(err).Error("undo supply: stock reduced but ledger row remains")
		return UndoResult{}, err
	}
	b.log.WithField("op", "undo_supply").Info("supply reverted")
	return UndoResult{Entries: []Transaction{*entry}, Levels: []StockLevel{levelOf(prod)}}, nil
}

// UndoLastClientFieldEdit drops the last line of the client's most
// recently edited free-text field. Contact edits cannot be undone. The
// ClientEdit entry is deleted only when the dropped line is the one it
// appended; a later session or reminder line leaves it in place.
func (b *Books) UndoLastClientFieldEdit(ctx context.Context, name string) (ClientEditUndo, error) {
	if strings.TrimSpace(name) == "" {
		return ClientEditUndo{}, Malformed("client", "is required")
	}
	t, clients, err := b.loadClients(ctx)
	if err != nil {
		return ClientEditUndo{}, err
	}
	c, ok := findExact(clients, name)
	if !ok {
		return ClientEditUndo{}, &EntityNotFoundError{Entity: "client", Name: strings.TrimSpace(name)}
	}

	ledger, err := b.loadLedger(ctx)
	if err != nil {
		return ClientEditUndo{}, err
	}
	field := FieldNotes
	var edit *Transaction
	want := normalize.Fold(name)
	for i := len(ledger) - 1; i >= 0; i-- {
		e := ledger[i]
		if e.Type != TxClientEdit || normalize.Fold(e.ClientName) != want {
			continue
		}
		if f := ClientField(e.ItemName); f == FieldAnamnesis || f == FieldNotes {
			field = f
			edit = &ledger[i]
			break
		}
	}

	current := c.Notes
	if field == FieldAnamnesis {
		current = c.Anamnesis
	}
	if strings.TrimSpace(current) == "" {
		return ClientEditUndo{}, ErrNothingToUndo
	}
	rest, removed := dropLastLine(current)
	if field == FieldAnamnesis {
		c.Anamnesis = rest
	} else {
		c.Notes = rest
	}

	if err := b.put(ctx, t, c.Row, c.fields()); err != nil {
		return ClientEditUndo{}, err
	}
	// The ledger entry goes only with the line it wrote. Entries without a
	// ref predate it and are assumed to match.
	if edit != nil && (edit.Size == "" || edit.Size == lineRef(removed)) {
		if err := b.deleteEntries(ctx, []Transaction{*edit}); err != nil {
			return ClientEditUndo{}, err
		}
	}
	b.log.WithFields(logrus.Fields{"op": "undo_client_edit", "field": field}).Info("client edit reverted")
	return ClientEditUndo{Client: c, Field: field, Removed: removed}, nil
}

// deleteEntries removes ledger rows from the highest row number down so
// earlier deletions do not shift later ones.
func (b *Books) deleteEntries(ctx context.Context, entries []Transaction) error {
	rows := make([]int, len(entries))
	for i, e := range entries {
		rows[i] = e.Row
	}
	sort.Sort(sort.Reverse(sort.IntSlice(rows)))
	for _, r := range rows {
		if err := b.doc.DeleteRow(ctx, TransactionsSchema.Name, r); err != nil {
			return err
		}
	}
	return nil
}
