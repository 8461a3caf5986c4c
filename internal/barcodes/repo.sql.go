package barcodes

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists barcodes in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Tx is the in-transaction surface the purchase conversion needs: locking a
// set of unused barcodes and marking them used exactly once inside the same
// transaction that writes the purchase, lots and stock.
type Tx interface {
	LockUnusedByCodes(ctx context.Context, codes []string) ([]Barcode, error)
	MarkUsed(ctx context.Context, codes []string, lotID, stockID int64, entry UpdatedLog) error
}

type txRepository struct {
	tx pgx.Tx
}

// NewTx grafts the barcode write surface onto an existing transaction.
func NewTx(tx pgx.Tx) Tx {
	return &txRepository{tx: tx}
}

const barcodeColumns = `id, barcode, sku, variant_id, product_id, lot_id, stock_id, status, conditions, is_used_barcode, updated_logs, created_at, updated_at`

func scanBarcode(row pgx.Row) (Barcode, error) {
	var b Barcode
	var logs []byte
	err := row.Scan(&b.ID, &b.Code, &b.SKU, &b.VariantID, &b.ProductID, &b.LotID, &b.StockID, &b.Status, &b.Condition, &b.IsUsed, &logs, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return Barcode{}, err
	}
	if len(logs) > 0 {
		if err := json.Unmarshal(logs, &b.UpdatedLogs); err != nil {
			return Barcode{}, err
		}
	}
	return b, nil
}

// InsertBatch registers freshly generated codes. A code collision maps to
// ErrDuplicate and aborts the whole batch.
func (r *Repository) InsertBatch(ctx context.Context, items []Barcode) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	for _, item := range items {
		logs, err := json.Marshal(item.UpdatedLogs)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `INSERT INTO barcodes (barcode, sku, variant_id, product_id, status, conditions, is_used_barcode, updated_logs, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,false,$7,NOW(),NOW())`,
			item.Code, item.SKU, item.VariantID, item.ProductID, string(item.Status), string(item.Condition), logs)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return ErrDuplicate
			}
			return err
		}
	}
	return tx.Commit(ctx)
}

// GetByCode fetches one barcode.
func (r *Repository) GetByCode(ctx context.Context, code string) (Barcode, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+barcodeColumns+` FROM barcodes WHERE barcode=$1`, code)
	b, err := scanBarcode(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Barcode{}, ErrNotFound
		}
		return Barcode{}, err
	}
	return b, nil
}

// SaveStatus persists a status/condition change together with the full log
// history. Logs are written whole since entries are only ever prepended.
func (r *Repository) SaveStatus(ctx context.Context, code string, status Status, condition Condition, logs []UpdatedLog) (Barcode, error) {
	encoded, err := json.Marshal(logs)
	if err != nil {
		return Barcode{}, err
	}
	row := r.pool.QueryRow(ctx, `UPDATE barcodes
SET status=$2, conditions=$3, updated_logs=$4, updated_at=NOW()
WHERE barcode=$1
RETURNING `+barcodeColumns, code, string(status), string(condition), encoded)
	b, err := scanBarcode(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Barcode{}, ErrNotFound
		}
		return Barcode{}, err
	}
	return b, nil
}

// List returns barcodes matching the filter plus the total count.
func (r *Repository) List(ctx context.Context, filter Filter) ([]Barcode, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	argCount := 0
	if filter.SKU != "" {
		argCount++
		where += ` AND sku = $` + strconv.Itoa(argCount)
		args = append(args, filter.SKU)
	}
	if filter.Code != "" {
		argCount++
		where += ` AND barcode = $` + strconv.Itoa(argCount)
		args = append(args, filter.Code)
	}
	if filter.Status != "" {
		argCount++
		where += ` AND status = $` + strconv.Itoa(argCount)
		args = append(args, string(filter.Status))
	}
	if filter.IsUsed != nil {
		argCount++
		where += ` AND is_used_barcode = $` + strconv.Itoa(argCount)
		args = append(args, *filter.IsUsed)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM barcodes`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 50
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

	rows, err := r.pool.Query(ctx, `SELECT `+barcodeColumns+` FROM barcodes`+where+` ORDER BY id ASC`+limit, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []Barcode
	for rows.Next() {
		b, err := scanBarcode(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, b)
	}
	return items, total, rows.Err()
}

// LockUnusedByCodes locks the requested codes for conversion. Every code must
// exist and be unused; a missing code maps to ErrNotFound, a used one to
// ErrAlreadyUsed.
func (r *txRepository) LockUnusedByCodes(ctx context.Context, codes []string) ([]Barcode, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+barcodeColumns+` FROM barcodes WHERE barcode = ANY($1) ORDER BY id ASC FOR UPDATE`, codes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	found := make(map[string]Barcode, len(codes))
	for rows.Next() {
		b, err := scanBarcode(rows)
		if err != nil {
			return nil, err
		}
		found[b.Code] = b
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]Barcode, 0, len(codes))
	for _, code := range codes {
		b, ok := found[code]
		if !ok {
			return nil, ErrNotFound
		}
		if b.IsUsed {
			return nil, ErrAlreadyUsed
		}
		out = append(out, b)
	}
	return out, nil
}

// MarkUsed flips the single-use flag and links lot and stock, prepending the
// conversion log entry. Rows already used are skipped by the predicate, which
// surfaces as a row-count mismatch.
func (r *txRepository) MarkUsed(ctx context.Context, codes []string, lotID, stockID int64, entry UpdatedLog) error {
	if entry.Date.IsZero() {
		entry.Date = time.Now().UTC()
	}
	encoded, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	tag, err := r.tx.Exec(ctx, `UPDATE barcodes
SET is_used_barcode = true,
    status = 'in_stock',
    lot_id = $2,
    stock_id = $3,
    updated_logs = $4::jsonb || updated_logs,
    updated_at = NOW()
WHERE barcode = ANY($1) AND is_used_barcode = false`, codes, lotID, stockID, encoded)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != int64(len(codes)) {
		return ErrAlreadyUsed
	}
	return nil
}
