package sqlxrepos

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/downline/core"
	"github.com/trezcool/downline/core/matrix"
)

var errSaleRecorded = errors.New("sale already recorded")

type (
	recordRow struct {
		RecipientID string          `db:"recipient_id"`
		Type        string          `db:"type"`
		Generation  int             `db:"generation"`
		Rate        decimal.Decimal `db:"rate"`
		Amount      decimal.Decimal `db:"amount"`
		BuyerID     string          `db:"buyer_id"`
	}

	saleRow struct {
		ID         string          `db:"id"`
		BuyerID    string          `db:"buyer_id"`
		Amount     decimal.Decimal `db:"amount"`
		PointValue decimal.Decimal `db:"point_value"`
		CreatedAt  time.Time       `db:"created_at"`
	}

	earningsRow struct {
		ISPTotal     decimal.Decimal `db:"isp_total"`
		ISPThisMonth decimal.Decimal `db:"isp_this_month"`
		TSCTotal     decimal.Decimal `db:"tsc_total"`
		TSCThisMonth decimal.Decimal `db:"tsc_this_month"`
	}
)

type ledger struct {
	db core.DB
}

var _ matrix.Ledger = (*ledger)(nil) // interface compliance check

func NewLedger(db core.DB) *ledger {
	return &ledger{db: db}
}

// RecordSale inserts the sale, its records and the recipients' credits in one transaction.
// The sale's primary key makes a second attempt fail before anything is credited.
func (repo ledger) RecordSale(ctx context.Context, sale matrix.Sale, records []matrix.Record) (bool, error) {
	err := core.InTx(ctx, repo.db, func(tx core.DBTransactor) error {
		q := tx.Rebind(`INSERT INTO commission_sale (id, buyer_id, amount, point_value, created_at) VALUES (?, ?, ?, ?, ?)`)
		if _, err := tx.ExecContext(ctx, q, sale.ID, sale.BuyerID, sale.Amount, sale.PointValue, sale.CreatedAt.UTC()); err != nil {
			if isUniqueViolation(err) {
				return errSaleRecorded
			}
			return errors.Wrap(err, "inserting sale")
		}

		q = tx.Rebind(`INSERT INTO commission_record (sale_id, seq, recipient_id, type, generation, rate, amount, buyer_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		for i, r := range records {
			if _, err := tx.ExecContext(ctx, q, sale.ID, i+1, r.RecipientID, string(r.Type), r.Generation, r.Rate, r.Amount, r.BuyerID); err != nil {
				return errors.Wrap(err, "inserting record")
			}
		}
		return repo.credit(ctx, tx, records)
	})
	if err != nil {
		if errors.Cause(err) == errSaleRecorded {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// credit applies records to the recipients' totals, locking recipients in id order.
func (repo ledger) credit(ctx context.Context, tx core.DBTransactor, records []matrix.Record) error {
	byRecipient := make(map[string][]matrix.Record)
	for _, r := range records {
		byRecipient[r.RecipientID] = append(byRecipient[r.RecipientID], r)
	}
	ids := make([]string, 0, len(byRecipient))
	for id := range byRecipient {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		var row earningsRow
		q := tx.Rebind(`SELECT isp_total, isp_this_month, tsc_total, tsc_this_month
			FROM matrix_node WHERE user_id = ?` + forUpdate(repo.db))
		if err := tx.GetContext(ctx, &row, q, id); err != nil {
			if err == sql.ErrNoRows {
				continue // the recipient left the matrix
			}
			return errors.Wrap(err, "selecting recipient")
		}

		node := matrix.Node{Commissions: matrix.CommissionTotals{
			ISP: matrix.Earnings{TotalEarned: row.ISPTotal, ThisMonth: row.ISPThisMonth},
			TSC: matrix.Earnings{TotalEarned: row.TSCTotal, ThisMonth: row.TSCThisMonth},
		}}
		for _, r := range byRecipient[id] {
			node.Credit(r)
			if r.Type == matrix.CommissionTSC {
				if err := repo.creditGeneration(ctx, tx, id, r.Generation, r.Amount); err != nil {
					return err
				}
			}
		}

		c := node.Commissions
		q = tx.Rebind(`UPDATE matrix_node SET isp_total = ?, isp_this_month = ?, tsc_total = ?, tsc_this_month = ?
			WHERE user_id = ?`)
		if _, err := tx.ExecContext(ctx, q, c.ISP.TotalEarned, c.ISP.ThisMonth, c.TSC.TotalEarned, c.TSC.ThisMonth, id); err != nil {
			return errors.Wrap(err, "crediting recipient")
		}
	}
	return nil
}

func (repo ledger) creditGeneration(ctx context.Context, tx core.DBTransactor, userID string, gen int, amount decimal.Decimal) error {
	var current decimal.Decimal
	q := tx.Rebind(`SELECT amount FROM tsc_generation WHERE user_id = ? AND generation = ?`)
	err := tx.GetContext(ctx, &current, q, userID, gen)
	switch {
	case err == sql.ErrNoRows:
		q = tx.Rebind(`INSERT INTO tsc_generation (user_id, generation, amount) VALUES (?, ?, ?)`)
		_, err = tx.ExecContext(ctx, q, userID, gen, amount)
	case err == nil:
		q = tx.Rebind(`UPDATE tsc_generation SET amount = ? WHERE user_id = ? AND generation = ?`)
		_, err = tx.ExecContext(ctx, q, current.Add(amount), userID, gen)
	}
	return errors.Wrapf(err, "crediting generation %d", gen)
}

func (repo ledger) GetSale(ctx context.Context, saleID string) (matrix.Sale, error) {
	var row saleRow
	q := repo.db.Rebind(`SELECT id, buyer_id, amount, point_value, created_at FROM commission_sale WHERE id = ?`)
	if err := repo.db.GetContext(ctx, &row, q, saleID); err != nil {
		if err == sql.ErrNoRows {
			return matrix.Sale{}, matrix.ErrSaleNotFound
		}
		return matrix.Sale{}, errors.Wrap(err, "selecting sale")
	}
	return matrix.Sale{
		ID:         row.ID,
		BuyerID:    row.BuyerID,
		Amount:     row.Amount,
		PointValue: row.PointValue,
		CreatedAt:  row.CreatedAt.UTC(),
	}, nil
}

// volumeBatch keeps IN lists under sqlite's bound parameter limit.
const volumeBatch = 500

// SalesVolume adds amounts up in Go; sqlite would sum NUMERIC columns as floats.
func (repo ledger) SalesVolume(ctx context.Context, buyerIDs []string) (decimal.Decimal, error) {
	total := decimal.Zero
	for len(buyerIDs) > 0 {
		batch := buyerIDs
		if len(batch) > volumeBatch {
			batch = batch[:volumeBatch]
		}
		buyerIDs = buyerIDs[len(batch):]

		q, args, err := sqlx.In(`SELECT amount FROM commission_sale WHERE buyer_id IN (?)`, batch)
		if err != nil {
			return decimal.Zero, errors.Wrap(err, "building volume query")
		}
		var amounts []decimal.Decimal
		if err := repo.db.SelectContext(ctx, &amounts, repo.db.Rebind(q), args...); err != nil {
			return decimal.Zero, errors.Wrap(err, "selecting sale amounts")
		}
		for _, amt := range amounts {
			total = total.Add(amt)
		}
	}
	return total, nil
}

func (repo ledger) SaleRecords(ctx context.Context, saleID string) ([]matrix.Record, error) {
	var n int
	if err := repo.db.GetContext(ctx, &n, repo.db.Rebind(`SELECT COUNT(*) FROM commission_sale WHERE id = ?`), saleID); err != nil {
		return nil, errors.Wrap(err, "selecting sale")
	}
	if n == 0 {
		return nil, matrix.ErrSaleNotFound
	}

	var rows []recordRow
	q := repo.db.Rebind(`SELECT recipient_id, type, generation, rate, amount, buyer_id
		FROM commission_record WHERE sale_id = ? ORDER BY seq`)
	if err := repo.db.SelectContext(ctx, &rows, q, saleID); err != nil {
		return nil, errors.Wrap(err, "selecting records")
	}
	records := make([]matrix.Record, 0, len(rows))
	for _, r := range rows {
		records = append(records, matrix.Record{
			RecipientID: r.RecipientID,
			Type:        matrix.CommissionType(r.Type),
			Generation:  r.Generation,
			Rate:        r.Rate,
			Amount:      r.Amount,
			BuyerID:     r.BuyerID,
		})
	}
	return records, nil
}
