package purchases

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loomcart/loomcart/internal/barcodes"
	"github.com/loomcart/loomcart/internal/ledger"
	"github.com/loomcart/loomcart/internal/platform/db"
	"github.com/loomcart/loomcart/internal/shared"
)

// Repository persists purchases in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
	seq  *shared.Sequences
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, seq *shared.Sequences) *Repository {
	return &Repository{pool: pool, seq: seq}
}

// TxRepository is the write surface of one purchase transaction. It embeds the
// ledger surface so purchase rows, lots, stock and barcode flips all land (or
// roll back) together.
type TxRepository interface {
	ledger.Tx
	NextNumber(ctx context.Context, locationID int64) (int64, error)
	InsertPurchase(ctx context.Context, p *Purchase) error
	GetForUpdate(ctx context.Context, id int64) (Purchase, error)
	ReplaceItems(ctx context.Context, purchaseID int64, items []PurchaseItem, expenses []Expense, totalCost float64) error
	SetItemLot(ctx context.Context, itemID, lotID int64) error
	SetStatus(ctx context.Context, id int64, status Status) error
	DeletePurchase(ctx context.Context, id int64) error
	LockUnusedBarcodes(ctx context.Context, codes []string) ([]barcodes.Barcode, error)
	MarkBarcodesUsed(ctx context.Context, codes []string, lotID, stockID int64, entry barcodes.UpdatedLog) error
}

type txRepository struct {
	ledger.Tx
	barcodes barcodes.Tx
	tx       pgx.Tx
	seq      *shared.Sequences
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("purchases repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{Tx: ledger.NewTx(tx), barcodes: barcodes.NewTx(tx), tx: tx, seq: r.seq})
	})
}

// NextNumber hands out the location-scoped purchase number inside the same
// transaction that writes the purchase.
func (r *txRepository) NextNumber(ctx context.Context, locationID int64) (int64, error) {
	return r.seq.Next(ctx, r.tx, shared.PurchaseKey(locationID))
}

func (r *txRepository) InsertPurchase(ctx context.Context, p *Purchase) error {
	err := r.tx.QueryRow(ctx, `INSERT INTO purchases (purchase_number, location_id, created_by, received_by, received_at, purchase_date, supplier, total_cost, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW(),NOW())
RETURNING id, created_at, updated_at`,
		p.PurchaseNumber, p.LocationID, p.CreatedBy, p.ReceivedBy, p.ReceivedAt, p.PurchaseDate, p.Supplier, p.TotalCost, string(p.Status)).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return err
	}
	for i := range p.Items {
		p.Items[i].PurchaseID = p.ID
		if err := r.insertItem(ctx, &p.Items[i]); err != nil {
			return err
		}
	}
	for _, expense := range p.Expenses {
		if _, err := r.tx.Exec(ctx, `INSERT INTO purchase_expenses (purchase_id, type, amount, note) VALUES ($1,$2,$3,$4)`,
			p.ID, expense.Type, expense.Amount, expense.Note); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) insertItem(ctx context.Context, item *PurchaseItem) error {
	return r.tx.QueryRow(ctx, `INSERT INTO purchase_items (purchase_id, variant_id, product_id, qty, unit_cost, discount, tax, lot_number, expiry_date, effective_unit_cost, lot_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
RETURNING id`,
		item.PurchaseID, item.VariantID, item.ProductID, item.Qty, item.UnitCost, item.Discount, item.Tax, item.LotNumber, item.ExpiryDate, item.EffectiveUnitCost, nullID(item.LotID)).
		Scan(&item.ID)
}

func (r *txRepository) GetForUpdate(ctx context.Context, id int64) (Purchase, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id=$1 FOR UPDATE`, id)
	p, err := scanPurchase(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Purchase{}, ErrNotFound
		}
		return Purchase{}, err
	}
	if err := loadLines(ctx, r.tx, &p); err != nil {
		return Purchase{}, err
	}
	return p, nil
}

// ReplaceItems rewrites the document's lines after an edit reconciliation.
func (r *txRepository) ReplaceItems(ctx context.Context, purchaseID int64, items []PurchaseItem, expenses []Expense, totalCost float64) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM purchase_items WHERE purchase_id=$1`, purchaseID); err != nil {
		return err
	}
	if _, err := r.tx.Exec(ctx, `DELETE FROM purchase_expenses WHERE purchase_id=$1`, purchaseID); err != nil {
		return err
	}
	for i := range items {
		items[i].PurchaseID = purchaseID
		if err := r.insertItem(ctx, &items[i]); err != nil {
			return err
		}
	}
	for _, expense := range expenses {
		if _, err := r.tx.Exec(ctx, `INSERT INTO purchase_expenses (purchase_id, type, amount, note) VALUES ($1,$2,$3,$4)`,
			purchaseID, expense.Type, expense.Amount, expense.Note); err != nil {
			return err
		}
	}
	_, err := r.tx.Exec(ctx, `UPDATE purchases SET total_cost=$2, updated_at=NOW() WHERE id=$1`, purchaseID, totalCost)
	return err
}

func (r *txRepository) SetItemLot(ctx context.Context, itemID, lotID int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE purchase_items SET lot_id=$2 WHERE id=$1`, itemID, lotID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) SetStatus(ctx context.Context, id int64, status Status) error {
	tag, err := r.tx.Exec(ctx, `UPDATE purchases SET status=$2, updated_at=NOW() WHERE id=$1`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) DeletePurchase(ctx context.Context, id int64) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM purchase_items WHERE purchase_id=$1`, id); err != nil {
		return err
	}
	if _, err := r.tx.Exec(ctx, `DELETE FROM purchase_expenses WHERE purchase_id=$1`, id); err != nil {
		return err
	}
	tag, err := r.tx.Exec(ctx, `DELETE FROM purchases WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) LockUnusedBarcodes(ctx context.Context, codes []string) ([]barcodes.Barcode, error) {
	return r.barcodes.LockUnusedByCodes(ctx, codes)
}

func (r *txRepository) MarkBarcodesUsed(ctx context.Context, codes []string, lotID, stockID int64, entry barcodes.UpdatedLog) error {
	return r.barcodes.MarkUsed(ctx, codes, lotID, stockID, entry)
}

const purchaseColumns = `id, purchase_number, location_id, created_by, received_by, received_at, purchase_date, supplier, total_cost, status, created_at, updated_at`

func scanPurchase(row pgx.Row) (Purchase, error) {
	var p Purchase
	err := row.Scan(&p.ID, &p.PurchaseNumber, &p.LocationID, &p.CreatedBy, &p.ReceivedBy, &p.ReceivedAt, &p.PurchaseDate, &p.Supplier, &p.TotalCost, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadLines(ctx context.Context, q querier, p *Purchase) error {
	rows, err := q.Query(ctx, `SELECT id, purchase_id, variant_id, product_id, qty, unit_cost, discount, tax, lot_number, expiry_date, effective_unit_cost, COALESCE(lot_id, 0)
FROM purchase_items WHERE purchase_id=$1 ORDER BY id ASC`, p.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var item PurchaseItem
		if err := rows.Scan(&item.ID, &item.PurchaseID, &item.VariantID, &item.ProductID, &item.Qty, &item.UnitCost, &item.Discount, &item.Tax, &item.LotNumber, &item.ExpiryDate, &item.EffectiveUnitCost, &item.LotID); err != nil {
			return err
		}
		p.Items = append(p.Items, item)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	expenseRows, err := q.Query(ctx, `SELECT type, amount, COALESCE(note, '') FROM purchase_expenses WHERE purchase_id=$1 ORDER BY id ASC`, p.ID)
	if err != nil {
		return err
	}
	defer expenseRows.Close()
	for expenseRows.Next() {
		var expense Expense
		if err := expenseRows.Scan(&expense.Type, &expense.Amount, &expense.Note); err != nil {
			return err
		}
		p.Expenses = append(p.Expenses, expense)
	}
	return expenseRows.Err()
}

// GetByID fetches one purchase with lines.
func (r *Repository) GetByID(ctx context.Context, id int64) (Purchase, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id=$1`, id)
	p, err := scanPurchase(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Purchase{}, ErrNotFound
		}
		return Purchase{}, err
	}
	if err := loadLines(ctx, r.pool, &p); err != nil {
		return Purchase{}, err
	}
	return p, nil
}

// List returns purchases matching the filter plus the total count. Lines are
// loaded per page row.
func (r *Repository) List(ctx context.Context, filter Filter) ([]Purchase, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	argCount := 0
	if filter.LocationID != 0 {
		argCount++
		where += ` AND location_id = $` + strconv.Itoa(argCount)
		args = append(args, filter.LocationID)
	}
	if filter.Status != "" {
		argCount++
		where += ` AND status = $` + strconv.Itoa(argCount)
		args = append(args, string(filter.Status))
	}
	if filter.Supplier != "" {
		argCount++
		where += ` AND supplier = $` + strconv.Itoa(argCount)
		args = append(args, filter.Supplier)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchases`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	argCount++
	limit := ` LIMIT $` + strconv.Itoa(argCount)
	args = append(args, perPage)
	argCount++
	limit += ` OFFSET $` + strconv.Itoa(argCount)
	args = append(args, (page-1)*perPage)

	rows, err := r.pool.Query(ctx, `SELECT `+purchaseColumns+` FROM purchases`+where+` ORDER BY id DESC`+limit, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for i := range out {
		if err := loadLines(ctx, r.pool, &out[i]); err != nil {
			return nil, 0, err
		}
	}
	return out, total, nil
}

func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
