package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the slice of pgxpool.Pool the repository needs; tests substitute a
// mock pool.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PgRepository struct {
	db DB
}

func NewPgRepository(db DB) *PgRepository {
	return &PgRepository{db: db}
}

// Helpers

func scanClient(row pgx.Row) (*Client, error) {
	var c Client
	err := row.Scan(&c.ID, &c.Name, &c.Email, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, err
	}
	return &c, nil
}

func scanProfessional(row pgx.Row) (*Professional, error) {
	var p Professional
	err := row.Scan(&p.ID, &p.Name, &p.Specialty, &p.Timezone, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfessionalNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	err := row.Scan(
		&s.ID,
		&s.ProfessionalID,
		&s.RuleID,
		&s.StartTime,
		&s.EndTime,
		&s.LocalStart,
		&s.LocalEnd,
		&s.Timezone,
		&s.Status,
		&s.BookedBy,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}
	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.SlotID,
		&a.ClientID,
		&a.ProfessionalID,
		&a.StartTime,
		&a.EndTime,
		&a.Status,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func scanRule(row pgx.Row) (*AvailabilityRule, error) {
	var (
		r            AvailabilityRule
		startMins    int
		endMins      int
		durationMins int
		bufferMins   int
		weekdays     []int32
	)
	err := row.Scan(
		&r.ID,
		&r.ProfessionalID,
		&startMins,
		&endMins,
		&durationMins,
		&bufferMins,
		&r.Recurrence,
		&weekdays,
		&r.IncludeDates,
		&r.ExcludeDates,
		&r.ValidFrom,
		&r.ValidUntil,
		&r.Timezone,
		&r.DSTPolicy,
		&r.Active,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}

	r.Start = TimeOfDay(startMins)
	r.End = TimeOfDay(endMins)
	r.SlotDuration = time.Duration(durationMins) * time.Minute
	r.Buffer = time.Duration(bufferMins) * time.Minute
	for _, wd := range weekdays {
		r.Weekdays = append(r.Weekdays, time.Weekday(wd))
	}
	return &r, nil
}

const ruleColumns = `id, professional_id, start_minutes, end_minutes, slot_duration_minutes,
		buffer_minutes, recurrence, weekdays, include_dates, exclude_dates,
		valid_from, valid_until, timezone, dst_policy, active, created_at, updated_at`

const slotColumns = `id, professional_id, rule_id, start_time, end_time, local_start, local_end,
		timezone, status, booked_by, created_at, updated_at`

const appointmentColumns = `id, slot_id, client_id, professional_id, start_time, end_time,
		status, notes, created_at, updated_at`

// Interface methods

func (r *PgRepository) GetClientByID(ctx context.Context, id uuid.UUID) (*Client, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM clients
		WHERE id = $1
	`, id)
	return scanClient(row)
}

func (r *PgRepository) GetProfessionalByID(ctx context.Context, id uuid.UUID) (*Professional, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, specialty, timezone, created_at, updated_at
		FROM professionals
		WHERE id = $1
	`, id)
	return scanProfessional(row)
}

func (r *PgRepository) CreateRule(ctx context.Context, rule *AvailabilityRule) error {
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	weekdays := make([]int32, 0, len(rule.Weekdays))
	for _, wd := range rule.Weekdays {
		weekdays = append(weekdays, int32(wd))
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO availability_rules (
			id, professional_id, start_minutes, end_minutes, slot_duration_minutes,
			buffer_minutes, recurrence, weekdays, include_dates, exclude_dates,
			valid_from, valid_until, timezone, dst_policy, active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, now(), now())
	`,
		rule.ID, rule.ProfessionalID, int(rule.Start), int(rule.End),
		int(rule.SlotDuration/time.Minute), int(rule.Buffer/time.Minute),
		rule.Recurrence, weekdays, rule.IncludeDates, rule.ExcludeDates,
		rule.ValidFrom, rule.ValidUntil, rule.Timezone, rule.DSTPolicy, rule.Active,
	)
	if err != nil {
		return fmt.Errorf("insert availability rule: %w", err)
	}
	return nil
}

func (r *PgRepository) GetRule(ctx context.Context, id uuid.UUID) (*AvailabilityRule, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+ruleColumns+`
		FROM availability_rules
		WHERE id = $1
	`, id)
	return scanRule(row)
}

func (r *PgRepository) ListActiveRules(ctx context.Context) ([]AvailabilityRule, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+ruleColumns+`
		FROM availability_rules
		WHERE active = true
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AvailabilityRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rule)
	}
	return result, rows.Err()
}

func (r *PgRepository) GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (r *PgRepository) ListSlotsInRange(ctx context.Context, professionalID uuid.UUID, from, to time.Time) ([]Slot, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE professional_id = $1
		  AND status <> 'cancelled'
		  AND start_time < $3
		  AND end_time > $2
	`, professionalID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSlots(rows)
}

func (r *PgRepository) ListOpenSlots(ctx context.Context, professionalID uuid.UUID, from, to time.Time) ([]Slot, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE professional_id = $1
		  AND status = 'available'
		  AND start_time < $3
		  AND end_time > $2
		ORDER BY start_time
	`, professionalID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSlots(rows)
}

func collectSlots(rows pgx.Rows) ([]Slot, error) {
	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	return result, rows.Err()
}

func (r *PgRepository) ListAppointmentsInRange(ctx context.Context, professionalID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE professional_id = $1
		  AND status <> 'cancelled'
		  AND start_time < $3
		  AND end_time > $2
	`, professionalID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func (r *PgRepository) ListClientAppointmentsInRange(ctx context.Context, clientID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE client_id = $1
		  AND status <> 'cancelled'
		  AND start_time < $3
		  AND end_time > $2
	`, clientID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (r *PgRepository) ListBlocksInRange(ctx context.Context, professionalID uuid.UUID, from, to time.Time) ([]BlockedPeriod, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, professional_id, start_time, end_time, reason, created_at
		FROM blocked_periods
		WHERE professional_id = $1
		  AND start_time < $3
		  AND end_time > $2
	`, professionalID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []BlockedPeriod
	for rows.Next() {
		var b BlockedPeriod
		if err := rows.Scan(&b.ID, &b.ProfessionalID, &b.StartTime, &b.EndTime, &b.Reason, &b.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

func (r *PgRepository) DeleteUnbookedGeneratedSlots(ctx context.Context, ruleID uuid.UUID, from, to time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM slots
		WHERE rule_id = $1
		  AND status = 'available'
		  AND start_time >= $2
		  AND start_time < $3
	`, ruleID, from, to)
	if err != nil {
		return 0, fmt.Errorf("delete unbooked slots: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PgRepository) InsertSlots(ctx context.Context, slots []Slot) error {
	for i := range slots {
		s := &slots[i]
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		_, err := r.db.Exec(ctx, `
			INSERT INTO slots (
				id, professional_id, rule_id, start_time, end_time,
				local_start, local_end, timezone, status, booked_by, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULL, now(), now())
		`,
			s.ID, s.ProfessionalID, s.RuleID, s.StartTime, s.EndTime,
			s.LocalStart, s.LocalEnd, s.Timezone, s.Status,
		)
		if err != nil {
			return fmt.Errorf("insert slot %s: %w", s.ID, err)
		}
	}
	return nil
}

func (r *PgRepository) DeleteSlots(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx, `
		DELETE FROM slots
		WHERE id = ANY($1)
		  AND status = 'available'
	`, ids)
	if err != nil {
		return 0, fmt.Errorf("delete slots: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PgRepository) CreateAppointmentForSlot(ctx context.Context, slot *Slot, clientID uuid.UUID, notes string) (*Appointment, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin booking tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Compare-and-swap on the slot row: anyone who changed its status since
	// the caller's re-check makes this affect zero rows.
	tag, err := tx.Exec(ctx, `
		UPDATE slots
		SET status = 'booked',
		    booked_by = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'available'
	`, slot.ID, clientID)
	if err != nil {
		return nil, fmt.Errorf("flip slot status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrSlotStale
	}

	id := uuid.New()
	row := tx.QueryRow(ctx, `
		INSERT INTO appointments (
			id, slot_id, client_id, professional_id, start_time, end_time,
			status, notes, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, 'scheduled', $7, now(), now())
		RETURNING `+appointmentColumns+`
	`, id, slot.ID, clientID, slot.ProfessionalID, slot.StartTime, slot.EndTime, notes)

	appt, err := scanAppointment(row)
	if err != nil {
		return nil, fmt.Errorf("insert appointment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit booking tx: %w", err)
	}
	return appt, nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, to, from)
	return scanAppointment(row)
}

func (r *PgRepository) CancelAppointment(ctx context.Context, id uuid.UUID, now time.Time) (*Appointment, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin cancel tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
		    updated_at = now()
		WHERE id = $1
		  AND status NOT IN ('completed', 'cancelled')
		RETURNING `+appointmentColumns+`
	`, id)

	appt, err := scanAppointment(row)
	if err != nil {
		return nil, err
	}

	// Reopen the slot only when it has not started yet.
	if appt.StartTime.After(now) {
		_, err = tx.Exec(ctx, `
			UPDATE slots
			SET status = 'available',
			    booked_by = NULL,
			    updated_at = now()
			WHERE id = $1
			  AND status = 'booked'
		`, appt.SlotID)
		if err != nil {
			return nil, fmt.Errorf("reopen slot: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit cancel tx: %w", err)
	}
	return appt, nil
}

func (r *PgRepository) CreateBlock(ctx context.Context, block *BlockedPeriod) error {
	if block.ID == uuid.Nil {
		block.ID = uuid.New()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO blocked_periods (id, professional_id, start_time, end_time, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
	`, block.ID, block.ProfessionalID, block.StartTime, block.EndTime, block.Reason)
	if err != nil {
		return fmt.Errorf("insert blocked period: %w", err)
	}
	return nil
}

func (r *PgRepository) DeleteBlock(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM blocked_periods
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("delete blocked period: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBlockNotFound
	}
	return nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev BookingEvent) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO booking_events (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert booking event: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
