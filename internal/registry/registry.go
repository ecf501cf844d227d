// Package registry manages test definitions: validation, defaults and the
// server-side timestamps that callers may not supply.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"autocmx/internal/config"
	"autocmx/internal/db"
)

const (
	maxNameLength = 30
	maxCaseLength = 20
)

// TestInput carries the operator-supplied fields of a test.
type TestInput struct {
	Name      string `json:"name"`
	Case      string `json:"case"`
	Secret    string `json:"secret"`
	Validator string `json:"validator"`
	Complete  bool   `json:"complete"`
}

// ValidationError lists every field that failed validation.
type ValidationError struct {
	Fields validation.Errors
}

func (e *ValidationError) Error() string {
	return "invalid test: " + e.Fields.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Fields
}

var notBlank = validation.By(func(v interface{}) error {
	s, _ := v.(string)
	if s != "" && strings.TrimSpace(s) == "" {
		return errors.New("cannot be blank")
	}
	return nil
})

// Validate checks required fields and length bounds.
func (in TestInput) Validate() error {
	err := validation.ValidateStruct(&in,
		validation.Field(&in.Name, validation.Required, notBlank, validation.RuneLength(0, maxNameLength)),
		validation.Field(&in.Case, validation.Required, notBlank, validation.RuneLength(0, maxCaseLength)),
		validation.Field(&in.Secret, validation.Required, notBlank),
		validation.Field(&in.Validator, validation.Required, notBlank),
	)
	var fields validation.Errors
	if errors.As(err, &fields) {
		return &ValidationError{Fields: fields}
	}
	return err
}

// Registry is the CRUD surface over stored tests.
type Registry struct {
	tests *db.Tests
	cfg   config.Config
	now   func() time.Time
	newID func() string
}

func New(tests *db.Tests, cfg config.Config) *Registry {
	return &Registry{
		tests: tests,
		cfg:   cfg,
		now:   db.Now,
		newID: uuid.NewString,
	}
}

// Create stores a new test. An empty secret is replaced by the configured
// default before validation.
func (r *Registry) Create(ctx context.Context, in TestInput) (db.Test, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Case = strings.TrimSpace(in.Case)
	if in.Secret == "" {
		in.Secret = r.cfg.Secret
	}
	if err := in.Validate(); err != nil {
		return db.Test{}, err
	}

	now := r.now()
	id := r.newID()
	t := db.Test{
		ID:        id,
		Name:      in.Name,
		Case:      in.Case,
		Secret:    in.Secret,
		PushURL:   r.cfg.PushURL(id),
		Validator: in.Validator,
		Complete:  false,
		State:     db.StateNoData,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.tests.Insert(ctx, t); err != nil {
		return db.Test{}, err
	}
	return t, nil
}

func (r *Registry) Get(ctx context.Context, id string) (db.Test, error) {
	return r.tests.Get(ctx, id)
}

func (r *Registry) List(ctx context.Context) ([]db.Test, error) {
	return r.tests.List(ctx)
}

// Update replaces the editable fields and resets the test to await fresh data.
// An unknown id is reported before any validation error.
func (r *Registry) Update(ctx context.Context, id string, in TestInput) (db.Test, error) {
	t, err := r.tests.Get(ctx, id)
	if err != nil {
		return db.Test{}, err
	}

	in.Name = strings.TrimSpace(in.Name)
	in.Case = strings.TrimSpace(in.Case)
	if err := in.Validate(); err != nil {
		return db.Test{}, err
	}
	t.Name = in.Name
	t.Case = in.Case
	t.Secret = in.Secret
	t.Validator = in.Validator
	t.Complete = in.Complete
	t.State = db.StateNoData
	t.UpdatedAt = r.now()

	if err := r.tests.Update(ctx, t); err != nil {
		return db.Test{}, err
	}
	return t, nil
}

// Delete removes a test. Its observations are left in place.
func (r *Registry) Delete(ctx context.Context, id string) error {
	return r.tests.Delete(ctx, id)
}

// MarkComplete is the operator override: state becomes complete and the
// complete flag is toggled.
func (r *Registry) MarkComplete(ctx context.Context, id string) (db.Test, error) {
	t, err := r.tests.Get(ctx, id)
	if err != nil {
		return db.Test{}, err
	}
	t.State = db.StateComplete
	t.Complete = !t.Complete
	t.UpdatedAt = r.now()

	if err := r.tests.Update(ctx, t); err != nil {
		return db.Test{}, err
	}
	return t, nil
}

// RecordPost persists the outcome of an inbound post. No validation runs:
// only system-owned fields change.
func (r *Registry) RecordPost(ctx context.Context, t db.Test) error {
	t.UpdatedAt = r.now()
	if err := r.tests.RecordPost(ctx, t); err != nil {
		return fmt.Errorf("record post: %w", err)
	}
	return nil
}

func (r *Registry) Ping(ctx context.Context) error {
	return r.tests.Ping(ctx)
}
