// Package enrolment grants course access bought through the cart.
package enrolment

import (
	"context"
	"fmt"
	"time"

	"github.com/irsalhamdi/course-cart/core/instance"
	"github.com/irsalhamdi/course-cart/database"
	"github.com/jmoiron/sqlx"
)

type Enrolment struct {
	InstanceID string    `json:"instanceId" db:"instance_id"`
	UserID     string    `json:"userId" db:"user_id"`
	CourseID   string    `json:"courseId" db:"course_id"`
	Role       string    `json:"role" db:"role"`
	TimeStart  int64     `json:"timeStart" db:"time_start"`
	TimeEnd    int64     `json:"timeEnd" db:"time_end"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}

type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// IsEnrolled reports whether the user is enrolled in the course the instance belongs to.
func (s *Store) IsEnrolled(ctx context.Context, instanceID, userID string) (bool, error) {
	const q = `
	SELECT EXISTS (
		SELECT 1 FROM user_enrolments e
		JOIN enrol_instances i ON i.course_id = e.course_id
		WHERE i.instance_id = $1 AND e.user_id = $2
	)`

	var ok bool
	if err := sqlx.GetContext(ctx, database.Ext(ctx, s.db), &ok, q, instanceID, userID); err != nil {
		return false, fmt.Errorf("checking enrolment of user[%s] in instance[%s]: %w", userID, instanceID, err)
	}
	return ok, nil
}

func (s *Store) IsEnrolledInCourse(ctx context.Context, courseID, userID string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM user_enrolments WHERE course_id = $1 AND user_id = $2)`

	var ok bool
	if err := sqlx.GetContext(ctx, database.Ext(ctx, s.db), &ok, q, courseID, userID); err != nil {
		return false, fmt.Errorf("checking enrolment of user[%s] in course[%s]: %w", userID, courseID, err)
	}
	return ok, nil
}

// Enrol creates the enrolment or refreshes its window and role.
func (s *Store) Enrol(ctx context.Context, in instance.Instance, userID string, start, end int64) error {
	const q = `
	INSERT INTO user_enrolments
		(instance_id, user_id, course_id, role, time_start, time_end, created_at)
	VALUES
		(:instance_id, :user_id, :course_id, :role, :time_start, :time_end, :created_at)
	ON CONFLICT (instance_id, user_id) DO UPDATE SET
		role = EXCLUDED.role,
		time_start = EXCLUDED.time_start,
		time_end = EXCLUDED.time_end`

	e := Enrolment{
		InstanceID: in.ID,
		UserID:     userID,
		CourseID:   in.CourseID,
		Role:       in.Role,
		TimeStart:  start,
		TimeEnd:    end,
		CreatedAt:  s.now().UTC(),
	}

	if _, err := sqlx.NamedExecContext(ctx, database.Ext(ctx, s.db), q, e); err != nil {
		return fmt.Errorf("enrolling user[%s] in instance[%s]: %w", userID, in.ID, err)
	}
	return nil
}

func (s *Store) AddToGroup(ctx context.Context, groupID, userID string) error {
	const q = `
	INSERT INTO group_members (group_id, user_id, created_at)
	VALUES ($1, $2, $3)
	ON CONFLICT DO NOTHING`

	if _, err := database.Ext(ctx, s.db).ExecContext(ctx, q, groupID, userID, s.now().UTC()); err != nil {
		return fmt.Errorf("adding user[%s] to group[%s]: %w", userID, groupID, err)
	}
	return nil
}

func (s *Store) ListByUser(ctx context.Context, userID string) ([]Enrolment, error) {
	const q = `SELECT * FROM user_enrolments WHERE user_id = $1 ORDER BY created_at`

	es := []Enrolment{}
	if err := sqlx.SelectContext(ctx, database.Ext(ctx, s.db), &es, q, userID); err != nil {
		return nil, fmt.Errorf("selecting enrolments of user[%s]: %w", userID, err)
	}
	return es, nil
}
