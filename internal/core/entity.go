// Package core ties the layers together: entities describe tables,
// the client owns pools, engine and schema manager, and repositories
// run CRUD, pagination and eager loading on top of them.
package core

import (
	"fmt"

	"github.com/coregx/tabula/internal/config"
	"github.com/coregx/tabula/internal/driver"
	"github.com/coregx/tabula/internal/errs"
	"github.com/coregx/tabula/internal/schema"
)

// softDeleteColumn is the timestamp column that marks a row deleted
// without removing it. Entities whose schema declares it get soft
// deletes automatically.
const softDeleteColumn = "deleted_at"

// Entity couples a table schema with the repository behavior for its
// rows: execution mode, soft-delete handling and, optionally, its own
// connection settings.
type Entity struct {
	def        *schema.Definition
	mode       driver.Mode
	softDelete string
	cfg        *config.Config
}

// EntityOption adjusts an Entity at construction.
type EntityOption func(*Entity)

// WithTable rebinds the entity to another table name, so one schema
// can serve several tables.
func WithTable(table string) EntityOption {
	return func(e *Entity) { e.def = e.def.CopyAs(table) }
}

// WithMode pins the entity's execution mode instead of the client
// default.
func WithMode(mode driver.Mode) EntityOption {
	return func(e *Entity) { e.mode = mode }
}

// WithSoftDeleteColumn marks deletions in column instead of the
// detected default.
func WithSoftDeleteColumn(column string) EntityOption {
	return func(e *Entity) { e.softDelete = column }
}

// WithoutSoftDelete disables soft deletes even when the schema has a
// deleted_at column; Delete then removes rows outright.
func WithoutSoftDelete() EntityOption {
	return func(e *Entity) { e.softDelete = "" }
}

// WithConnection gives the entity its own connection settings. The
// client opens dedicated pools for it on first use.
func WithConnection(cfg config.Config) EntityOption {
	return func(e *Entity) { e.cfg = &cfg }
}

// NewEntity describes the rows of def. A timestamp field named
// deleted_at enables soft deletes unless an option says otherwise.
func NewEntity(def *schema.Definition, opts ...EntityOption) *Entity {
	e := &Entity{def: def}
	if f, ok := def.FieldByName(softDeleteColumn); ok && f.Type.Kind == schema.KindTimestamp {
		e.softDelete = softDeleteColumn
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Definition returns the entity's schema.
func (e *Entity) Definition() *schema.Definition { return e.def }

// Table returns the table the entity reads and writes.
func (e *Entity) Table() string { return e.def.Table() }

// Mode returns the entity's execution mode, falling back to def when
// none was pinned.
func (e *Entity) Mode(def driver.Mode) driver.Mode {
	if e.mode != "" {
		return e.mode
	}
	return def
}

// SoftDeleteColumn returns the deletion-marker column, empty when the
// entity hard-deletes.
func (e *Entity) SoftDeleteColumn() string { return e.softDelete }

func (e *Entity) primary() (schema.Field, error) {
	pk, ok := e.def.Primary()
	if !ok {
		return schema.Field{}, errs.New(errs.ErrSchema, fmt.Sprintf("table %q has no primary key", e.Table()))
	}
	return pk, nil
}
