// Package repo persists product definitions and loads the immutable
// snapshots the evaluation engine consumes.
//
// A product row plus its child rows (underlyings, barriers, observation
// schedule) map to one types.Product. Products that were authored in the
// old drag-and-drop editor additionally carry a legacy_components JSON
// column; LegacyComponents exposes it parsed so callers can feed it through
// the translator.
package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianwm/structprod/internal/core/db"
	"github.com/meridianwm/structprod/internal/payoff"
	"github.com/meridianwm/structprod/internal/types"
)

// Repository is the persistence layer for products. All reads return full
// snapshots; there is no partial-load mode, because the engine needs the
// whole definition anyway and the child tables are small.
type Repository struct {
	queries *db.Queries
}

// NewRepository creates a product repository over the shared named-query set.
func NewRepository(queries *db.Queries) *Repository {
	return &Repository{queries: queries}
}

type productRow struct {
	ID               string          `db:"id"`
	Name             string          `db:"name"`
	Template         string          `db:"template"`
	TradeDate        time.Time       `db:"trade_date"`
	MaturityDate     time.Time       `db:"maturity_date"`
	CouponRate       decimal.Decimal `db:"coupon_rate"`
	MemoryCoupon     bool            `db:"memory_coupon"`
	Participation    decimal.Decimal `db:"participation"`
	LegacyComponents sql.NullString  `db:"legacy_components"`
}

type underlyingRow struct {
	Ticker       string          `db:"ticker"`
	Name         string          `db:"name"`
	InitialPrice decimal.Decimal `db:"initial_price"`
	Weight       decimal.Decimal `db:"weight"`
}

type barrierRow struct {
	Kind     string          `db:"kind"`
	Level    decimal.Decimal `db:"level"`
	Operator string          `db:"operator"`
}

type observationRow struct {
	ObservedOn time.Time `db:"observed_on"`
	Role       string    `db:"role"`
}

// Create stores a product and its children in one transaction. The legacy
// component tree is optional; when present it is stored verbatim as JSON so
// the original authoring intent survives round-trips.
func (r *Repository) Create(ctx context.Context, p *types.Product, legacy *payoff.LegacyComponent) error {
	if err := p.Schedule.Validate(); err != nil {
		return fmt.Errorf("product %s: %w", p.ID, err)
	}
	if len(p.Underlyings) == 0 {
		return fmt.Errorf("product %s: %w", p.ID, types.ErrEmptyBasket)
	}
	if len(p.Underlyings) > types.MaxUnderlyings {
		return fmt.Errorf("product %s: %w", p.ID, types.ErrTooManyUnderlyings)
	}

	var legacyJSON sql.NullString
	if legacy != nil {
		raw, err := json.Marshal(legacy)
		if err != nil {
			return fmt.Errorf("marshal legacy components: %w", err)
		}
		legacyJSON = sql.NullString{String: string(raw), Valid: true}
	}

	tx, err := r.queries.DB().BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create product: %w", err)
	}
	defer tx.Rollback()

	err = r.queries.ExecTx(ctx, tx, "insert-product",
		string(p.ID), p.Name, string(p.Template),
		p.TradeDate.Format("2006-01-02"), p.MaturityDate.Format("2006-01-02"),
		p.CouponRate.String(), p.MemoryCoupon, p.Participation.String(),
		legacyJSON, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert product %s: %w", p.ID, err)
	}
	for _, u := range p.Underlyings {
		err = r.queries.ExecTx(ctx, tx, "insert-underlying",
			string(p.ID), u.Ticker, u.Name, u.InitialPrice.String(), u.Weight.String())
		if err != nil {
			return fmt.Errorf("insert underlying %s: %w", u.Ticker, err)
		}
	}
	for _, b := range p.Barriers {
		err = r.queries.ExecTx(ctx, tx, "insert-barrier",
			string(p.ID), string(b.Kind), b.Level.String(), b.Operator)
		if err != nil {
			return fmt.Errorf("insert barrier %s: %w", b.Kind, err)
		}
	}
	for _, o := range p.Schedule {
		err = r.queries.ExecTx(ctx, tx, "insert-observation",
			string(p.ID), o.Date.Format("2006-01-02"), string(o.Role))
		if err != nil {
			return fmt.Errorf("insert observation %s: %w", o.Date.Format("2006-01-02"), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create product: %w", err)
	}
	return nil
}

// Get loads one product snapshot including underlyings, barriers and the
// observation schedule. Returns types.ErrProductNotFound when the id does
// not exist.
func (r *Repository) Get(ctx context.Context, id types.ProductID) (*types.Product, error) {
	var row productRow
	err := r.queries.Get(ctx, "get-product", &row, string(id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("product %s: %w", id, types.ErrProductNotFound)
		}
		return nil, fmt.Errorf("load product %s: %w", id, err)
	}
	return r.assemble(ctx, row)
}

// List loads every product snapshot, ordered by id. UUIDv7 ids make that
// creation order.
func (r *Repository) List(ctx context.Context) ([]*types.Product, error) {
	var rows []productRow
	if err := r.queries.Select(ctx, "list-products", &rows); err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	products := make([]*types.Product, 0, len(rows))
	for _, row := range rows {
		p, err := r.assemble(ctx, row)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, nil
}

// LegacyComponents returns the parsed legacy component tree for a product,
// or ok=false when the product was authored natively and has none.
func (r *Repository) LegacyComponents(ctx context.Context, id types.ProductID) (*payoff.LegacyComponent, bool, error) {
	var row productRow
	err := r.queries.Get(ctx, "get-product", &row, string(id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, fmt.Errorf("product %s: %w", id, types.ErrProductNotFound)
		}
		return nil, false, fmt.Errorf("load product %s: %w", id, err)
	}
	if !row.LegacyComponents.Valid || row.LegacyComponents.String == "" {
		return nil, false, nil
	}
	var legacy payoff.LegacyComponent
	if err := json.Unmarshal([]byte(row.LegacyComponents.String), &legacy); err != nil {
		return nil, false, fmt.Errorf("parse legacy components for %s: %w", id, err)
	}
	return &legacy, true, nil
}

func (r *Repository) assemble(ctx context.Context, row productRow) (*types.Product, error) {
	p := &types.Product{
		ID:            types.ProductID(row.ID),
		Name:          row.Name,
		Template:      types.TemplateKind(row.Template),
		TradeDate:     row.TradeDate,
		MaturityDate:  row.MaturityDate,
		CouponRate:    row.CouponRate,
		MemoryCoupon:  row.MemoryCoupon,
		Participation: row.Participation,
	}

	var underlyings []underlyingRow
	if err := r.queries.Select(ctx, "list-underlyings", &underlyings, row.ID); err != nil {
		return nil, fmt.Errorf("load underlyings for %s: %w", row.ID, err)
	}
	for _, u := range underlyings {
		p.Underlyings = append(p.Underlyings, types.Underlying{
			Ticker:       u.Ticker,
			Name:         u.Name,
			InitialPrice: u.InitialPrice,
			Weight:       u.Weight,
		})
	}

	var barriers []barrierRow
	if err := r.queries.Select(ctx, "list-barriers", &barriers, row.ID); err != nil {
		return nil, fmt.Errorf("load barriers for %s: %w", row.ID, err)
	}
	for _, b := range barriers {
		p.Barriers = append(p.Barriers, types.Barrier{
			Kind:     types.BarrierKind(b.Kind),
			Level:    b.Level,
			Operator: b.Operator,
		})
	}

	var observations []observationRow
	if err := r.queries.Select(ctx, "list-observations", &observations, row.ID); err != nil {
		return nil, fmt.Errorf("load observations for %s: %w", row.ID, err)
	}
	for _, o := range observations {
		p.Schedule = append(p.Schedule, types.ObservationDate{
			Date: o.ObservedOn,
			Role: types.ObservationRole(o.Role),
		})
	}

	return p, nil
}
