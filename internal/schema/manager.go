package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/coregx/tabula/internal/driver"
	"github.com/coregx/tabula/internal/engine"
	"github.com/coregx/tabula/internal/errs"
	"github.com/coregx/tabula/internal/logger"
)

const tableExistsQuery = `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1) AS present`

const columnsQuery = `SELECT column_name, data_type, character_maximum_length, is_nullable, column_default
FROM information_schema.columns
WHERE table_schema = 'public' AND table_name = $1
ORDER BY ordinal_position`

// Manager applies schema definitions to the live database. DDL runs on
// the sync pool through the engine, so statements share its retry and
// instrumentation path.
type Manager struct {
	engine *engine.Engine
	log    logger.Logger
}

// NewManager wires a manager over the engine.
func NewManager(e *engine.Engine, log logger.Logger) *Manager {
	if log == nil {
		log = &logger.NoopLogger{}
	}
	return &Manager{engine: e, log: log}
}

// TableExists checks information_schema for the table in the public schema.
func (m *Manager) TableExists(ctx context.Context, table string) (bool, error) {
	res, err := m.engine.Execute(ctx, driver.ModeSync, tableExistsQuery, []any{table})
	if err != nil {
		return false, errs.Wrap(errs.ErrSchema, err, fmt.Sprintf("check table %q", table))
	}
	if len(res.Rows) == 0 {
		return false, nil
	}
	return parseBool(res.Rows[0].String("present")), nil
}

// Columns introspects the live columns of a table in declaration order.
// Varchar sizes are folded into DataType so it compares against
// generated DDL types.
func (m *Manager) Columns(ctx context.Context, table string) ([]Column, error) {
	res, err := m.engine.Execute(ctx, driver.ModeSync, columnsQuery, []any{table})
	if err != nil {
		return nil, errs.Wrap(errs.ErrSchema, err, fmt.Sprintf("introspect table %q", table))
	}
	cols := make([]Column, 0, len(res.Rows))
	for _, row := range res.Rows {
		dataType := row.String("data_type")
		if maxLen := row.String("character_maximum_length"); maxLen != "" {
			dataType = fmt.Sprintf("%s(%s)", dataType, maxLen)
		}
		cols = append(cols, Column{
			Name:     row.String("column_name"),
			DataType: dataType,
			Nullable: strings.EqualFold(row.String("is_nullable"), "YES"),
			Default:  row.String("column_default"),
		})
	}
	return cols, nil
}

// ApplyMigrations creates the table when absent, otherwise diffs the
// live columns and applies each ALTER in order. A failing statement
// aborts the remaining ones; statements already applied stay applied.
func (m *Manager) ApplyMigrations(ctx context.Context, def *Definition) error {
	exists, err := m.TableExists(ctx, def.Table())
	if err != nil {
		return err
	}

	if !exists {
		return m.createTable(ctx, def)
	}

	current, err := m.Columns(ctx, def.Table())
	if err != nil {
		return err
	}
	stmts, err := AlterTableSQL(def, current)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if isDestructive(stmt) {
			m.log.Warn("applying destructive migration", "table", def.Table(), "ddl", stmt)
		} else {
			m.log.Info("applying migration", "table", def.Table(), "ddl", stmt)
		}
		if _, err := m.engine.Execute(ctx, driver.ModeSync, stmt, nil); err != nil {
			return errs.Wrap(errs.ErrSchema, err, fmt.Sprintf("alter table %q", def.Table()))
		}
	}
	return nil
}

func (m *Manager) createTable(ctx context.Context, def *Definition) error {
	ddl, indexes, err := CreateTableSQL(def)
	if err != nil {
		return err
	}
	m.log.Info("creating table", "table", def.Table())
	if _, err := m.engine.Execute(ctx, driver.ModeSync, ddl, nil); err != nil {
		return errs.Wrap(errs.ErrSchema, err, fmt.Sprintf("create table %q", def.Table()))
	}
	for _, idx := range indexes {
		if _, err := m.engine.Execute(ctx, driver.ModeSync, idx, nil); err != nil {
			return errs.Wrap(errs.ErrSchema, err, fmt.Sprintf("create index on %q", def.Table()))
		}
	}
	return nil
}

// DropTable drops the table, optionally cascading to dependents.
func (m *Manager) DropTable(ctx context.Context, table string, cascade bool) error {
	if _, err := m.engine.Execute(ctx, driver.ModeSync, DropTableSQL(table, cascade), nil); err != nil {
		return errs.Wrap(errs.ErrSchema, err, fmt.Sprintf("drop table %q", table))
	}
	return nil
}

// isDestructive flags statements that can lose data.
func isDestructive(stmt string) bool {
	return strings.Contains(stmt, " DROP COLUMN ") || strings.Contains(stmt, " TYPE ")
}

// parseBool decodes a Postgres text-format boolean.
func parseBool(s string) bool {
	return s == "t" || strings.EqualFold(s, "true")
}
