package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const testColumns = `id, name, test_case, secret, api, push_url, validator, complete, state, created_at, updated_at, data_at`

// Tests persists test definitions.
type Tests struct {
	db *sqlx.DB
}

func NewTests(db *sqlx.DB) *Tests {
	return &Tests{db: db}
}

func (s *Tests) Insert(ctx context.Context, t Test) error {
	_, err := s.db.NamedExecContext(ctx,
		`insert into tests (`+testColumns+`)
		 values (:id, :name, :test_case, :secret, :api, :push_url, :validator, :complete, :state, :created_at, :updated_at, :data_at)`,
		t)
	if err != nil {
		return fmt.Errorf("insert test: %w", err)
	}
	return nil
}

func (s *Tests) Get(ctx context.Context, id string) (Test, error) {
	var t Test
	err := s.db.GetContext(ctx, &t, s.db.Rebind(`select `+testColumns+` from tests where id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return Test{}, ErrNotFound
	}
	if err != nil {
		return Test{}, fmt.Errorf("get test %s: %w", id, err)
	}
	t.normalize()
	return t, nil
}

// List returns every test in creation order.
func (s *Tests) List(ctx context.Context) ([]Test, error) {
	tests := make([]Test, 0)
	if err := s.db.SelectContext(ctx, &tests, `select `+testColumns+` from tests order by created_at, id`); err != nil {
		return nil, fmt.Errorf("list tests: %w", err)
	}
	for i := range tests {
		tests[i].normalize()
	}
	return tests, nil
}

// Update writes the operator-editable fields together with state and
// updated_at.
func (s *Tests) Update(ctx context.Context, t Test) error {
	res, err := s.db.NamedExecContext(ctx,
		`update tests set name = :name, test_case = :test_case, secret = :secret, validator = :validator,
		 complete = :complete, state = :state, updated_at = :updated_at
		 where id = :id`,
		t)
	if err != nil {
		return fmt.Errorf("update test %s: %w", t.ID, err)
	}
	return expectOne(res)
}

// RecordPost writes the fields an inbound post may change.
func (s *Tests) RecordPost(ctx context.Context, t Test) error {
	res, err := s.db.NamedExecContext(ctx,
		`update tests set state = :state, api = :api, complete = :complete, data_at = :data_at, updated_at = :updated_at
		 where id = :id`,
		t)
	if err != nil {
		return fmt.Errorf("record post for test %s: %w", t.ID, err)
	}
	return expectOne(res)
}

func (s *Tests) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`delete from tests where id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete test %s: %w", id, err)
	}
	return expectOne(res)
}

// Ping checks the connection; used by the health endpoint.
func (s *Tests) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
