package inmemdb

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/trezcool/downline/core/matrix"
)

type ledger struct {
	sales *saleTable
	nodes *nodeTable
}

var _ matrix.Ledger = (*ledger)(nil) // interface compliance check

func NewLedger(db *DB) *ledger {
	return &ledger{sales: db.sale, nodes: db.node}
}

// RecordSale holds the sale lock while crediting so a sale id is never credited twice.
func (l *ledger) RecordSale(_ context.Context, sale matrix.Sale, records []matrix.Record) (bool, error) {
	l.sales.Lock()
	defer l.sales.Unlock()

	if _, ok := l.sales.table[sale.ID]; ok {
		return false, nil
	}

	l.nodes.Lock()
	for _, r := range records {
		if n, ok := l.nodes.table[r.RecipientID]; ok {
			n.Credit(r)
		}
	}
	l.nodes.Unlock()

	l.sales.table[sale.ID] = &saleRow{sale: sale, records: append([]matrix.Record(nil), records...)}
	return true, nil
}

func (l *ledger) GetSale(_ context.Context, saleID string) (matrix.Sale, error) {
	l.sales.RLock()
	defer l.sales.RUnlock()

	row, ok := l.sales.table[saleID]
	if !ok {
		return matrix.Sale{}, matrix.ErrSaleNotFound
	}
	return row.sale, nil
}

func (l *ledger) SalesVolume(_ context.Context, buyerIDs []string) (decimal.Decimal, error) {
	buyers := make(map[string]struct{}, len(buyerIDs))
	for _, id := range buyerIDs {
		buyers[id] = struct{}{}
	}

	l.sales.RLock()
	defer l.sales.RUnlock()

	total := decimal.Zero
	for _, row := range l.sales.table {
		if _, ok := buyers[row.sale.BuyerID]; ok {
			total = total.Add(row.sale.Amount)
		}
	}
	return total, nil
}

func (l *ledger) SaleRecords(_ context.Context, saleID string) ([]matrix.Record, error) {
	l.sales.RLock()
	defer l.sales.RUnlock()

	row, ok := l.sales.table[saleID]
	if !ok {
		return nil, matrix.ErrSaleNotFound
	}
	return append([]matrix.Record{}, row.records...), nil
}
