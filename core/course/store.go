package course

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var ErrNotFound = errors.New("course not found")

func Create(ctx context.Context, db sqlx.ExtContext, c Course) error {
	const q = `
	INSERT INTO courses
		(course_id, name, description, image_url, created_at, updated_at, version)
	VALUES
		(:course_id, :name, :description, :image_url, :created_at, :updated_at, :version)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, c); err != nil {
		return fmt.Errorf("inserting course: %w", err)
	}
	return nil
}

func Update(ctx context.Context, db sqlx.ExtContext, c Course) error {
	const q = `
	UPDATE courses SET
		name = :name,
		description = :description,
		image_url = :image_url,
		updated_at = :updated_at,
		version = version + 1
	WHERE course_id = :course_id`

	if _, err := sqlx.NamedExecContext(ctx, db, q, c); err != nil {
		return fmt.Errorf("updating course[%s]: %w", c.ID, err)
	}
	return nil
}

func Fetch(ctx context.Context, db sqlx.ExtContext, id string) (Course, error) {
	const q = `SELECT * FROM courses WHERE course_id = $1`

	var c Course
	if err := sqlx.GetContext(ctx, db, &c, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Course{}, ErrNotFound
		}
		return Course{}, fmt.Errorf("selecting course[%s]: %w", id, err)
	}
	return c, nil
}

func FetchAll(ctx context.Context, db sqlx.ExtContext) ([]Course, error) {
	const q = `SELECT * FROM courses ORDER BY name`

	cs := []Course{}
	if err := sqlx.SelectContext(ctx, db, &cs, q); err != nil {
		return nil, fmt.Errorf("selecting courses: %w", err)
	}
	return cs, nil
}

// FetchOwned returns the courses the user holds an enrolment for.
func FetchOwned(ctx context.Context, db sqlx.ExtContext, userID string) ([]Course, error) {
	const q = `
	SELECT DISTINCT c.* FROM courses c
	JOIN user_enrolments e ON e.course_id = c.course_id
	WHERE e.user_id = $1
	ORDER BY c.name`

	cs := []Course{}
	if err := sqlx.SelectContext(ctx, db, &cs, q, userID); err != nil {
		return nil, fmt.Errorf("selecting courses owned by user[%s]: %w", userID, err)
	}
	return cs, nil
}

func CreateGroup(ctx context.Context, db sqlx.ExtContext, g Group) error {
	const q = `
	INSERT INTO course_groups (group_id, course_id, name, created_at)
	VALUES (:group_id, :course_id, :name, :created_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, g); err != nil {
		return fmt.Errorf("inserting group: %w", err)
	}
	return nil
}

func FetchGroups(ctx context.Context, db sqlx.ExtContext, courseID string) ([]Group, error) {
	const q = `SELECT * FROM course_groups WHERE course_id = $1 ORDER BY name`

	gs := []Group{}
	if err := sqlx.SelectContext(ctx, db, &gs, q, courseID); err != nil {
		return nil, fmt.Errorf("selecting groups of course[%s]: %w", courseID, err)
	}
	return gs, nil
}
