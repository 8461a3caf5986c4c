package transfers

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loomcart/loomcart/internal/ledger"
	"github.com/loomcart/loomcart/internal/platform/db"
)

// Repository persists transfers in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository is the write surface of one transfer transaction: the ledger
// surface plus the transfer document itself.
type TxRepository interface {
	ledger.Tx
	InsertTransfer(ctx context.Context, t *Transfer) error
}

type txRepository struct {
	ledger.Tx
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("transfers repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{Tx: ledger.NewTx(tx), tx: tx})
	})
}

func (r *txRepository) InsertTransfer(ctx context.Context, t *Transfer) error {
	err := r.tx.QueryRow(ctx, `INSERT INTO transfers (from_location_id, to_location_id, transfer_by, created_at)
VALUES ($1,$2,$3,NOW())
RETURNING id, created_at`, t.FromLocationID, t.ToLocationID, t.TransferBy).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return err
	}
	for i := range t.Items {
		item := &t.Items[i]
		item.TransferID = t.ID
		err := r.tx.QueryRow(ctx, `INSERT INTO transfer_items (transfer_id, variant_id, product_id, qty)
VALUES ($1,$2,$3,$4)
RETURNING id`, t.ID, item.VariantID, item.ProductID, item.Qty).Scan(&item.ID)
		if err != nil {
			return err
		}
		for j := range item.Allocations {
			alloc := &item.Allocations[j]
			alloc.ItemID = item.ID
			err := r.tx.QueryRow(ctx, `INSERT INTO transfer_allocations (item_id, source_lot_id, dest_lot_id, qty, cost_per_unit, received_at)
VALUES ($1,$2,$3,$4,$5,$6)
RETURNING id`, item.ID, alloc.SourceLotID, alloc.DestLotID, alloc.Qty, alloc.CostPerUnit, alloc.ReceivedAt).Scan(&alloc.ID)
			if err != nil {
				return err
			}
		}
	}
	for _, expense := range t.Expenses {
		if _, err := r.tx.Exec(ctx, `INSERT INTO transfer_expenses (transfer_id, type, amount, note) VALUES ($1,$2,$3,$4)`,
			t.ID, expense.Type, expense.Amount, expense.Note); err != nil {
			return err
		}
	}
	return nil
}

// GetByID fetches one transfer with items and allocations.
func (r *Repository) GetByID(ctx context.Context, id int64) (Transfer, error) {
	var t Transfer
	err := r.pool.QueryRow(ctx, `SELECT id, from_location_id, to_location_id, transfer_by, created_at FROM transfers WHERE id=$1`, id).
		Scan(&t.ID, &t.FromLocationID, &t.ToLocationID, &t.TransferBy, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transfer{}, ErrNotFound
		}
		return Transfer{}, err
	}

	rows, err := r.pool.Query(ctx, `SELECT id, transfer_id, variant_id, product_id, qty FROM transfer_items WHERE transfer_id=$1 ORDER BY id ASC`, id)
	if err != nil {
		return Transfer{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var item TransferItem
		if err := rows.Scan(&item.ID, &item.TransferID, &item.VariantID, &item.ProductID, &item.Qty); err != nil {
			return Transfer{}, err
		}
		t.Items = append(t.Items, item)
	}
	if err := rows.Err(); err != nil {
		return Transfer{}, err
	}

	for i := range t.Items {
		allocRows, err := r.pool.Query(ctx, `SELECT id, item_id, source_lot_id, dest_lot_id, qty, cost_per_unit, received_at
FROM transfer_allocations WHERE item_id=$1 ORDER BY received_at ASC, id ASC`, t.Items[i].ID)
		if err != nil {
			return Transfer{}, err
		}
		for allocRows.Next() {
			var alloc Allocation
			if err := allocRows.Scan(&alloc.ID, &alloc.ItemID, &alloc.SourceLotID, &alloc.DestLotID, &alloc.Qty, &alloc.CostPerUnit, &alloc.ReceivedAt); err != nil {
				allocRows.Close()
				return Transfer{}, err
			}
			t.Items[i].Allocations = append(t.Items[i].Allocations, alloc)
		}
		allocRows.Close()
		if err := allocRows.Err(); err != nil {
			return Transfer{}, err
		}
	}

	expenseRows, err := r.pool.Query(ctx, `SELECT type, amount, COALESCE(note, '') FROM transfer_expenses WHERE transfer_id=$1 ORDER BY id ASC`, id)
	if err != nil {
		return Transfer{}, err
	}
	defer expenseRows.Close()
	for expenseRows.Next() {
		var expense Expense
		if err := expenseRows.Scan(&expense.Type, &expense.Amount, &expense.Note); err != nil {
			return Transfer{}, err
		}
		t.Expenses = append(t.Expenses, expense)
	}
	return t, expenseRows.Err()
}

// List returns transfer headers matching the filter plus the total count.
func (r *Repository) List(ctx context.Context, filter Filter) ([]Transfer, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	argCount := 0
	if filter.FromLocationID != 0 {
		argCount++
		where += ` AND from_location_id = $` + strconv.Itoa(argCount)
		args = append(args, filter.FromLocationID)
	}
	if filter.ToLocationID != 0 {
		argCount++
		where += ` AND to_location_id = $` + strconv.Itoa(argCount)
		args = append(args, filter.ToLocationID)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transfers`+where, args...).Scan(&total); err != nil {
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

	rows, err := r.pool.Query(ctx, `SELECT id, from_location_id, to_location_id, transfer_by, created_at FROM transfers`+where+` ORDER BY id DESC`+limit, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Transfer
	for rows.Next() {
		var t Transfer
		if err := rows.Scan(&t.ID, &t.FromLocationID, &t.ToLocationID, &t.TransferBy, &t.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}
