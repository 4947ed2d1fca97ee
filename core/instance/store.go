package instance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var (
	ErrNotFound    = errors.New("enrolment instance not found")
	ErrUnavailable = errors.New("enrolment instance is outside its enrolment window")
)

func Create(ctx context.Context, db sqlx.ExtContext, in Instance) error {
	const q = `
	INSERT INTO enrol_instances
		(instance_id, course_id, name, enabled, sort_order, cost, discount_type, discount_amount, currency,
		enrol_start, enrol_end, enrol_period, role, instructions, groups, availability, created_at, updated_at)
	VALUES
		(:instance_id, :course_id, :name, :enabled, :sort_order, :cost, :discount_type, :discount_amount, :currency,
		:enrol_start, :enrol_end, :enrol_period, :role, :instructions, :groups, :availability, :created_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, in); err != nil {
		return fmt.Errorf("inserting enrolment instance: %w", err)
	}
	return nil
}

func Update(ctx context.Context, db sqlx.ExtContext, in Instance) error {
	const q = `
	UPDATE enrol_instances SET
		name = :name,
		enabled = :enabled,
		sort_order = :sort_order,
		cost = :cost,
		discount_type = :discount_type,
		discount_amount = :discount_amount,
		currency = :currency,
		enrol_start = :enrol_start,
		enrol_end = :enrol_end,
		enrol_period = :enrol_period,
		role = :role,
		instructions = :instructions,
		groups = :groups,
		availability = :availability,
		updated_at = :updated_at
	WHERE instance_id = :instance_id`

	if _, err := sqlx.NamedExecContext(ctx, db, q, in); err != nil {
		return fmt.Errorf("updating enrolment instance[%s]: %w", in.ID, err)
	}
	return nil
}

func Delete(ctx context.Context, db sqlx.ExtContext, id string) error {
	const q = `DELETE FROM enrol_instances WHERE instance_id = $1`

	if _, err := db.ExecContext(ctx, q, id); err != nil {
		return fmt.Errorf("deleting enrolment instance[%s]: %w", id, err)
	}
	return nil
}

// Fetch returns the instance whatever its status.
func Fetch(ctx context.Context, db sqlx.ExtContext, id string) (Instance, error) {
	const q = `SELECT * FROM enrol_instances WHERE instance_id = $1`

	var in Instance
	if err := sqlx.GetContext(ctx, db, &in, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Instance{}, ErrNotFound
		}
		return Instance{}, fmt.Errorf("selecting enrolment instance[%s]: %w", id, err)
	}
	return in, nil
}

func FetchEnabled(ctx context.Context, db sqlx.ExtContext, id string) (Instance, error) {
	const q = `SELECT * FROM enrol_instances WHERE instance_id = $1 AND enabled`

	var in Instance
	if err := sqlx.GetContext(ctx, db, &in, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Instance{}, ErrNotFound
		}
		return Instance{}, fmt.Errorf("selecting enrolment instance[%s]: %w", id, err)
	}
	return in, nil
}

func ListByCourse(ctx context.Context, db sqlx.ExtContext, courseID string) ([]Instance, error) {
	const q = `
	SELECT * FROM enrol_instances
	WHERE course_id = $1 AND enabled
	ORDER BY sort_order, created_at`

	ins := []Instance{}
	if err := sqlx.SelectContext(ctx, db, &ins, q, courseID); err != nil {
		return nil, fmt.Errorf("selecting enrolment instances of course[%s]: %w", courseID, err)
	}
	return ins, nil
}

// FirstByCourse returns the id of the first enabled instance of the course.
func FirstByCourse(ctx context.Context, db sqlx.ExtContext, courseID string) (string, error) {
	const q = `
	SELECT instance_id FROM enrol_instances
	WHERE course_id = $1 AND enabled
	ORDER BY sort_order, created_at
	LIMIT 1`

	var id string
	if err := sqlx.GetContext(ctx, db, &id, q, courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("selecting enrolment instance of course[%s]: %w", courseID, err)
	}
	return id, nil
}
