package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/loomcart/loomcart/internal/platform/db"
)

// Repository persists lots and stocks in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Tx is the single write surface for lots and stocks. Every module that
// mutates inventory does so through this interface inside one transaction,
// which is what keeps Stock.available_quantity equal to the sum of active
// lot availability by construction.
type Tx interface {
	CreateLot(ctx context.Context, input NewLot) (Lot, error)
	LockActiveLots(ctx context.Context, variantID, locationID int64) ([]Lot, error)
	LockSourceLots(ctx context.Context, source LotSourceType, refID, variantID, locationID int64) ([]Lot, error)
	LockNewestLot(ctx context.Context, variantID, locationID int64) (Lot, error)
	LockExpiredLots(ctx context.Context, asOf time.Time) ([]Lot, error)
	SetLotAvailability(ctx context.Context, lotID, qtyAvailable int64, status LotStatus) error
	SetLotCost(ctx context.Context, lotID int64, costPerUnit float64) error
	ReceiveIntoLot(ctx context.Context, lotID, qty int64) (Lot, error)
	SetLotStatus(ctx context.Context, lotID int64, status LotStatus) error
	GetStockForUpdate(ctx context.Context, variantID, locationID int64) (Stock, error)
	GetStockByIDForUpdate(ctx context.Context, stockID int64) (Stock, error)
	ApplyStockDelta(ctx context.Context, delta StockDelta) (Stock, error)
}

type txRepository struct {
	tx pgx.Tx
}

// NewTx grafts the ledger write surface onto an existing transaction so
// sibling modules (purchases, transfers) update lots and stocks inside their
// own transaction boundary.
func NewTx(tx pgx.Tx) Tx {
	return &txRepository{tx: tx}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const lotColumns = `id, stock_id, variant_id, product_id, location_id, lot_number, received_at, cost_per_unit, qty_total, qty_available, source_type, source_ref_id, expiry_date, status, created_at`

func scanLot(row pgx.Row) (Lot, error) {
	var lot Lot
	err := row.Scan(&lot.ID, &lot.StockID, &lot.VariantID, &lot.ProductID, &lot.LocationID, &lot.LotNumber, &lot.ReceivedAt, &lot.CostPerUnit, &lot.QtyTotal, &lot.QtyAvailable, &lot.SourceType, &lot.SourceRefID, &lot.ExpiryDate, &lot.Status, &lot.CreatedAt)
	return lot, err
}

func collectLots(rows pgx.Rows) ([]Lot, error) {
	defer rows.Close()
	var lots []Lot
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

func (r *txRepository) CreateLot(ctx context.Context, input NewLot) (Lot, error) {
	if input.Qty <= 0 {
		return Lot{}, ErrInvalidQuantity
	}
	stock, err := r.GetStockForUpdate(ctx, input.VariantID, input.LocationID)
	if errors.Is(err, ErrStockNotFound) {
		// First layer for this (variant, location): materialise the summary
		// row so every lot is bound to a stock id. Quantities land via the
		// caller's ApplyStockDelta.
		stock, err = r.ApplyStockDelta(ctx, StockDelta{
			ProductID:  input.ProductID,
			VariantID:  input.VariantID,
			LocationID: input.LocationID,
		})
	}
	if err != nil {
		return Lot{}, err
	}
	row := r.tx.QueryRow(ctx, `INSERT INTO lots (stock_id, variant_id, product_id, location_id, lot_number, received_at, cost_per_unit, qty_total, qty_available, source_type, source_ref_id, expiry_date, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8,$9,$10,$11,'active',NOW())
RETURNING `+lotColumns,
		stock.ID, input.VariantID, input.ProductID, input.LocationID, input.LotNumber, input.ReceivedAt, input.CostPerUnit, input.Qty, string(input.SourceType), input.SourceRefID, input.ExpiryDate)
	return scanLot(row)
}

func (r *txRepository) LockActiveLots(ctx context.Context, variantID, locationID int64) ([]Lot, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+lotColumns+` FROM lots
WHERE variant_id=$1 AND location_id=$2 AND status='active' AND qty_available > 0
ORDER BY received_at ASC, id ASC
FOR UPDATE`, variantID, locationID)
	if err != nil {
		return nil, err
	}
	return collectLots(rows)
}

func (r *txRepository) LockSourceLots(ctx context.Context, source LotSourceType, refID, variantID, locationID int64) ([]Lot, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+lotColumns+` FROM lots
WHERE source_type=$1 AND source_ref_id=$2 AND variant_id=$3 AND location_id=$4
ORDER BY received_at DESC, id DESC
FOR UPDATE`, string(source), refID, variantID, locationID)
	if err != nil {
		return nil, err
	}
	return collectLots(rows)
}

func (r *txRepository) LockNewestLot(ctx context.Context, variantID, locationID int64) (Lot, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+lotColumns+` FROM lots
WHERE variant_id=$1 AND location_id=$2 AND status IN ('active','closed')
ORDER BY received_at DESC, id DESC
LIMIT 1
FOR UPDATE`, variantID, locationID)
	lot, err := scanLot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Lot{}, ErrNoLotForAddition
		}
		return Lot{}, err
	}
	return lot, nil
}

func (r *txRepository) LockExpiredLots(ctx context.Context, asOf time.Time) ([]Lot, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+lotColumns+` FROM lots
WHERE status='active' AND expiry_date IS NOT NULL AND expiry_date < $1
ORDER BY id ASC
FOR UPDATE`, asOf)
	if err != nil {
		return nil, err
	}
	return collectLots(rows)
}

func (r *txRepository) SetLotAvailability(ctx context.Context, lotID, qtyAvailable int64, status LotStatus) error {
	tag, err := r.tx.Exec(ctx, `UPDATE lots SET qty_available=$2, status=$3 WHERE id=$1`, lotID, qtyAvailable, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLotNotFound
	}
	return nil
}

func (r *txRepository) SetLotCost(ctx context.Context, lotID int64, costPerUnit float64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE lots SET cost_per_unit=$2 WHERE id=$1`, lotID, costPerUnit)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLotNotFound
	}
	return nil
}

// ReceiveIntoLot lands additive quantity on an existing lot, reopening it
// when closed. qty_total is lifted when the addition would push availability
// past it so the lot invariant holds.
func (r *txRepository) ReceiveIntoLot(ctx context.Context, lotID, qty int64) (Lot, error) {
	if qty <= 0 {
		return Lot{}, ErrInvalidQuantity
	}
	row := r.tx.QueryRow(ctx, `UPDATE lots
SET qty_available = qty_available + $2,
    qty_total = GREATEST(qty_total, qty_available + $2),
    status = 'active'
WHERE id = $1
RETURNING `+lotColumns, lotID, qty)
	lot, err := scanLot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Lot{}, ErrLotNotFound
		}
		return Lot{}, err
	}
	return lot, nil
}

func (r *txRepository) SetLotStatus(ctx context.Context, lotID int64, status LotStatus) error {
	tag, err := r.tx.Exec(ctx, `UPDATE lots SET status=$2 WHERE id=$1`, lotID, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLotNotFound
	}
	return nil
}

const stockColumns = `id, product_id, variant_id, location_id, available_quantity, total_sold, total_received, qty_reserved, updated_at`

func scanStock(row pgx.Row) (Stock, error) {
	var s Stock
	err := row.Scan(&s.ID, &s.ProductID, &s.VariantID, &s.LocationID, &s.AvailableQuantity, &s.TotalSold, &s.TotalReceived, &s.QtyReserved, &s.UpdatedAt)
	return s, err
}

func (r *txRepository) GetStockForUpdate(ctx context.Context, variantID, locationID int64) (Stock, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+stockColumns+` FROM stocks WHERE variant_id=$1 AND location_id=$2 FOR UPDATE`, variantID, locationID)
	stock, err := scanStock(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Stock{}, ErrStockNotFound
		}
		return Stock{}, err
	}
	return stock, nil
}

func (r *txRepository) GetStockByIDForUpdate(ctx context.Context, stockID int64) (Stock, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+stockColumns+` FROM stocks WHERE id=$1 FOR UPDATE`, stockID)
	stock, err := scanStock(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Stock{}, ErrStockNotFound
		}
		return Stock{}, err
	}
	return stock, nil
}

// ApplyStockDelta upserts the summary row with atomic increments.
func (r *txRepository) ApplyStockDelta(ctx context.Context, delta StockDelta) (Stock, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO stocks (product_id, variant_id, location_id, available_quantity, total_sold, total_received, qty_reserved, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,0,NOW())
ON CONFLICT (variant_id, location_id) DO UPDATE SET
  available_quantity = stocks.available_quantity + EXCLUDED.available_quantity,
  total_sold = stocks.total_sold + EXCLUDED.total_sold,
  total_received = stocks.total_received + EXCLUDED.total_received,
  updated_at = NOW()
RETURNING `+stockColumns,
		delta.ProductID, delta.VariantID, delta.LocationID, delta.Available, delta.Sold, delta.Received)
	return scanStock(row)
}

// Read-side queries below run outside the transactional write path.

// GetStock fetches one stock row.
func (r *Repository) GetStock(ctx context.Context, id int64) (Stock, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+stockColumns+` FROM stocks WHERE id=$1`, id)
	stock, err := scanStock(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Stock{}, ErrStockNotFound
		}
		return Stock{}, err
	}
	return stock, nil
}

// ListStocks returns stock rows matching the filter plus the total count.
func (r *Repository) ListStocks(ctx context.Context, filter StockFilter) ([]Stock, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	argCount := 0
	if filter.LocationID != 0 {
		argCount++
		where += ` AND location_id = $` + strconv.Itoa(argCount)
		args = append(args, filter.LocationID)
	}
	if filter.VariantID != 0 {
		argCount++
		where += ` AND variant_id = $` + strconv.Itoa(argCount)
		args = append(args, filter.VariantID)
	}
	if filter.ProductID != 0 {
		argCount++
		where += ` AND product_id = $` + strconv.Itoa(argCount)
		args = append(args, filter.ProductID)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stocks`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + stockColumns + ` FROM stocks` + where + ` ORDER BY id ASC`
	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	argCount++
	query += ` LIMIT $` + strconv.Itoa(argCount)
	args = append(args, perPage)
	argCount++
	query += ` OFFSET $` + strconv.Itoa(argCount)
	args = append(args, (page-1)*perPage)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var stocks []Stock
	for rows.Next() {
		stock, err := scanStock(rows)
		if err != nil {
			return nil, 0, err
		}
		stocks = append(stocks, stock)
	}
	return stocks, total, rows.Err()
}

// GetStocksByProductSlug returns every location's stock row for a product.
func (r *Repository) GetStocksByProductSlug(ctx context.Context, slug string) ([]Stock, error) {
	rows, err := r.pool.Query(ctx, `SELECT s.id, s.product_id, s.variant_id, s.location_id, s.available_quantity, s.total_sold, s.total_received, s.qty_reserved, s.updated_at
FROM stocks s
JOIN products p ON p.id = s.product_id
WHERE p.slug = $1
ORDER BY s.variant_id ASC, s.location_id ASC`, slug)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var stocks []Stock
	for rows.Next() {
		stock, err := scanStock(rows)
		if err != nil {
			return nil, err
		}
		stocks = append(stocks, stock)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(stocks) == 0 {
		return nil, ErrStockNotFound
	}
	return stocks, nil
}

// UpdateStock patches caller-editable fields.
func (r *Repository) UpdateStock(ctx context.Context, id int64, patch StockPatch) (Stock, error) {
	if patch.QtyReserved == nil {
		return r.GetStock(ctx, id)
	}
	row := r.pool.QueryRow(ctx, `UPDATE stocks SET qty_reserved=$2, updated_at=NOW() WHERE id=$1 RETURNING `+stockColumns, id, *patch.QtyReserved)
	stock, err := scanStock(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Stock{}, ErrStockNotFound
		}
		return Stock{}, err
	}
	return stock, nil
}

// DeleteStock removes an empty stock row and its drained lots.
func (r *Repository) DeleteStock(ctx context.Context, id int64) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var available int64
	var variantID, locationID int64
	err = tx.QueryRow(ctx, `SELECT available_quantity, variant_id, location_id FROM stocks WHERE id=$1 FOR UPDATE`, id).Scan(&available, &variantID, &locationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrStockNotFound
		}
		return err
	}
	if available != 0 {
		return ErrStockNotEmpty
	}
	if _, err := tx.Exec(ctx, `DELETE FROM lots WHERE variant_id=$1 AND location_id=$2`, variantID, locationID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM stocks WHERE id=$1`, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// FullStockReport joins stocks with lot aggregates. Count and page queries
// run concurrently; both hit the pool directly.
func (r *Repository) FullStockReport(ctx context.Context, filter ReportFilter) ([]ReportRow, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	argCount := 0
	if filter.SKU != "" {
		argCount++
		where += ` AND v.sku = $` + strconv.Itoa(argCount)
		args = append(args, filter.SKU)
	}
	if filter.Threshold > 0 {
		argCount++
		where += ` AND s.available_quantity <= $` + strconv.Itoa(argCount)
		args = append(args, filter.Threshold)
	}

	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 50
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}

	countQuery := `SELECT COUNT(*) FROM stocks s JOIN variants v ON v.id = s.variant_id` + where
	pageQuery := fmt.Sprintf(`SELECT s.id, v.sku, s.product_id, s.variant_id, s.location_id, s.available_quantity, s.total_received, s.total_sold,
  COUNT(l.id) FILTER (WHERE l.status = 'active') AS lot_count,
  COALESCE(SUM(l.cost_per_unit * l.qty_available) FILTER (WHERE l.status = 'active'), 0) AS layer_cost,
  COALESCE(SUM(l.qty_available) FILTER (WHERE l.status = 'active'), 0) AS layer_qty
FROM stocks s
JOIN variants v ON v.id = s.variant_id
LEFT JOIN lots l ON l.variant_id = s.variant_id AND l.location_id = s.location_id
%s
GROUP BY s.id, v.sku
ORDER BY v.sku ASC, s.location_id ASC
LIMIT %d OFFSET %d`, where, perPage, (page-1)*perPage)

	var total int
	var rowsOut []ReportRow

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.pool.QueryRow(gctx, countQuery, args...).Scan(&total)
	})
	g.Go(func() error {
		rows, err := r.pool.Query(gctx, pageQuery, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var row ReportRow
			var layerCost float64
			var layerQty int64
			if err := rows.Scan(&row.StockID, &row.SKU, &row.ProductID, &row.VariantID, &row.LocationID, &row.AvailableQuantity, &row.TotalReceived, &row.TotalSold, &row.LotCount, &layerCost, &layerQty); err != nil {
				return err
			}
			if layerQty > 0 {
				row.AvgCost = layerCost / float64(layerQty)
			}
			rowsOut = append(rowsOut, row)
		}
		return rows.Err()
	})
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return rowsOut, total, nil
}

// LowStock lists stock rows at or under the threshold.
func (r *Repository) LowStock(ctx context.Context, threshold int64, page, perPage int) ([]ReportRow, int, error) {
	return r.FullStockReport(ctx, ReportFilter{Threshold: threshold, Page: page, PerPage: perPage})
}

// ListLotsByStock lists a stock row's lots for inspection, oldest first.
func (r *Repository) ListLotsByStock(ctx context.Context, variantID, locationID int64) ([]Lot, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+lotColumns+` FROM lots WHERE variant_id=$1 AND location_id=$2 ORDER BY received_at ASC, id ASC`, variantID, locationID)
	if err != nil {
		return nil, err
	}
	return collectLots(rows)
}
