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
	"github.com/shopspring/decimal"
)

const bookingColumns = `id, unit_id, user_id, start_date, end_date, total_cost, status, created_at, updated_at`

func scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		booking    models.Booking
		userID     uuid.NullUUID
		start, end string
		status     string
	)
	err := row.Scan(
		&booking.ID,
		&booking.UnitID,
		&userID,
		&start,
		&end,
		&booking.TotalCost,
		&status,
		&booking.CreatedAt,
		&booking.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if userID.Valid {
		booking.UserID = userID.UUID
	}
	if booking.StartDate, err = models.ParseDate(start); err != nil {
		return nil, fmt.Errorf("invalid start_date %q: %w", start, err)
	}
	if booking.EndDate, err = models.ParseDate(end); err != nil {
		return nil, fmt.Errorf("invalid end_date %q: %w", end, err)
	}
	booking.Status = models.BookingStatus(status)
	return &booking, nil
}

func (q *queries) queryBookings(ctx context.Context, query string, args ...interface{}) ([]*models.Booking, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	bookings := make([]*models.Booking, 0)
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, booking)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bookings: %w", err)
	}
	return bookings, nil
}

func (q *queries) GetBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id.String())
	booking, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrBookingNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return booking, nil
}

func (q *queries) CreateBooking(ctx context.Context, booking *models.Booking) error {
	if booking.ID == uuid.Nil {
		booking.ID = uuid.New()
	}
	if booking.Status == "" {
		booking.Status = models.StatusCreated
	}
	now := time.Now().UTC()
	if booking.CreatedAt.IsZero() {
		booking.CreatedAt = now
	}
	booking.UpdatedAt = booking.CreatedAt

	userID := uuid.NullUUID{UUID: booking.UserID, Valid: booking.UserID != uuid.Nil}

	query := `INSERT INTO bookings (` + bookingColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := q.q.ExecContext(ctx, query,
		booking.ID.String(),
		booking.UnitID.String(),
		userID,
		booking.StartDate.Format(models.DateLayout),
		booking.EndDate.Format(models.DateLayout),
		booking.TotalCost.String(),
		string(booking.Status),
		booking.CreatedAt,
		booking.UpdatedAt,
	)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("%w: booking references a missing unit or user", domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}
	return nil
}

// UpdateBookingStatus moves a booking from one status to another only if it is
// still in the expected status.
func (q *queries) UpdateBookingStatus(ctx context.Context, id uuid.UUID, from, to models.BookingStatus) error {
	result, err := q.q.ExecContext(ctx,
		`UPDATE bookings SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), time.Now().UTC(), id.String(), string(from),
	)
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	var exists int
	err = q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM bookings WHERE id = ?`, id.String()).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check booking: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", domain.ErrBookingNotFound, id)
	}
	return fmt.Errorf("%w: booking %s is no longer %s", domain.ErrConcurrentModification, id, from)
}

// GetUnitBookings lists bookings of a unit in the given statuses whose end date
// is on or after endFrom. A zero endFrom disables the date bound.
func (q *queries) GetUnitBookings(ctx context.Context, unitID uuid.UUID, statuses []models.BookingStatus, endFrom time.Time) ([]*models.Booking, error) {
	where := []string{"unit_id = ?"}
	args := []interface{}{unitID.String()}

	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, s := range statuses {
			placeholders[i] = "?"
			args = append(args, string(s))
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if !endFrom.IsZero() {
		where = append(where, "end_date >= ?")
		args = append(args, models.DateOnly(endFrom).Format(models.DateLayout))
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE ` + strings.Join(where, " AND ") + ` ORDER BY start_date`
	return q.queryBookings(ctx, query, args...)
}

func (q *queries) GetStaleBookings(ctx context.Context, status models.BookingStatus, createdBefore time.Time) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE status = ? AND created_at < ? ORDER BY created_at`
	return q.queryBookings(ctx, query, string(status), createdBefore.UTC())
}

// GetBookingsByDateRange returns every booking whose stay shares a day with
// [start, end].
func (q *queries) GetBookingsByDateRange(ctx context.Context, start, end time.Time) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
		WHERE start_date <= ? AND end_date >= ?
		ORDER BY start_date, created_at`
	return q.queryBookings(ctx, query,
		models.DateOnly(end).Format(models.DateLayout),
		models.DateOnly(start).Format(models.DateLayout),
	)
}

func (q *queries) CountBookings(ctx context.Context) (int64, error) {
	var count int64
	if err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM bookings`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count bookings: %w", err)
	}
	return count, nil
}

// SumBookingAmountsMinor adds up the charged minor amount of every booking
// with the status. Each total is truncated to cents on its own, as when it was
// charged; SQLite would sum the decimal text as floating point.
func (q *queries) SumBookingAmountsMinor(ctx context.Context, status models.BookingStatus) (int64, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT total_cost FROM bookings WHERE status = ?`, string(status))
	if err != nil {
		return 0, fmt.Errorf("failed to query booking totals: %w", err)
	}
	defer rows.Close()

	var sum int64
	for rows.Next() {
		var total decimal.Decimal
		if err := rows.Scan(&total); err != nil {
			return 0, fmt.Errorf("failed to scan booking total: %w", err)
		}
		sum += models.AmountMinor(total)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("error iterating booking totals: %w", err)
	}
	return sum, nil
}
