package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"wtbooking/internal/domain"
	"wtbooking/internal/models"

	"github.com/google/uuid"
)

const unitColumns = `id, rooms, accommodation_type, floor, is_available, cost, markup_percent, description, created_at`

// sortColumns maps the public sort keys onto SQL expressions. Money is stored
// as decimal text, so it is compared numerically.
var sortColumns = map[string]string{
	"id":                 "id",
	"cost":               "CAST(cost AS NUMERIC)",
	"rooms":              "rooms",
	"floor":              "floor",
	"accommodation_type": "accommodation_type",
	"created_at":         "created_at",
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUnit(row rowScanner) (*models.Unit, error) {
	var (
		unit     models.Unit
		unitType string
	)
	err := row.Scan(
		&unit.ID,
		&unit.Rooms,
		&unitType,
		&unit.Floor,
		&unit.IsAvailable,
		&unit.Cost,
		&unit.MarkupPercent,
		&unit.Description,
		&unit.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	unit.AccommodationType = models.AccommodationType(unitType)
	return &unit, nil
}

func (q *queries) GetUnit(ctx context.Context, id uuid.UUID) (*models.Unit, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+unitColumns+` FROM units WHERE id = ?`, id.String())
	unit, err := scanUnit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnitNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get unit: %w", err)
	}
	return unit, nil
}

func (q *queries) CreateUnit(ctx context.Context, unit *models.Unit) error {
	if unit.ID == uuid.Nil {
		unit.ID = uuid.New()
	}
	if unit.CreatedAt.IsZero() {
		unit.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO units (` + unitColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := q.q.ExecContext(ctx, query,
		unit.ID.String(),
		unit.Rooms,
		string(unit.AccommodationType),
		unit.Floor,
		unit.IsAvailable,
		unit.Cost.String(),
		unit.MarkupPercent.String(),
		unit.Description,
		unit.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateUnit, unit.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to create unit: %w", err)
	}
	return nil
}

func (q *queries) SetUnitAvailability(ctx context.Context, id uuid.UUID, available bool) error {
	result, err := q.q.ExecContext(ctx, `UPDATE units SET is_available = ? WHERE id = ?`, available, id.String())
	if err != nil {
		return fmt.Errorf("failed to update unit availability: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", domain.ErrUnitNotFound, id)
	}
	return nil
}

func (q *queries) CountAvailableUnits(ctx context.Context) (int64, error) {
	var count int64
	err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM units WHERE is_available = 1`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count available units: %w", err)
	}
	return count, nil
}

// SearchUnits returns one page of available units. The filter is expected to
// be normalized already; an unknown sort field is still rejected here.
func (q *queries) SearchUnits(ctx context.Context, filter models.UnitFilter) (*models.Page, error) {
	orderExpr, ok := sortColumns[filter.SortField]
	if !ok {
		return nil, fmt.Errorf("%w: unknown sort field %q", domain.ErrValidation, filter.SortField)
	}
	dir := "ASC"
	if filter.SortDir == models.SortDesc {
		dir = "DESC"
	}
	if filter.PageSize <= 0 {
		filter.PageSize = models.DefaultPageSize
	}
	if filter.Page < 0 {
		filter.Page = 0
	}

	where := []string{"is_available = 1"}
	var args []interface{}
	if filter.MinCost != nil {
		where = append(where, "CAST(cost AS NUMERIC) >= CAST(? AS NUMERIC)")
		args = append(args, filter.MinCost.String())
	}
	if filter.MaxCost != nil {
		where = append(where, "CAST(cost AS NUMERIC) <= CAST(? AS NUMERIC)")
		args = append(args, filter.MaxCost.String())
	}
	whereClause := strings.Join(where, " AND ")

	var total int64
	if err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM units WHERE `+whereClause, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count units: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM units WHERE %s ORDER BY %s %s, id ASC LIMIT ? OFFSET ?`,
		unitColumns, whereClause, orderExpr, dir)
	pageArgs := append(append([]interface{}{}, args...), filter.PageSize, filter.Page*filter.PageSize)

	rows, err := q.q.QueryContext(ctx, query, pageArgs...)
	if err != nil {
		return nil, fmt.Errorf("failed to search units: %w", err)
	}
	defer rows.Close()

	items := make([]*models.Unit, 0, filter.PageSize)
	for rows.Next() {
		unit, err := scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan unit: %w", err)
		}
		items = append(items, unit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating units: %w", err)
	}

	totalPages := int((total + int64(filter.PageSize) - 1) / int64(filter.PageSize))

	return &models.Page{
		Items:         items,
		Page:          filter.Page,
		PageSize:      filter.PageSize,
		TotalPages:    totalPages,
		TotalElements: total,
	}, nil
}
