package schema

import (
	"strings"
)

// Column is one live column as reported by information_schema, with the
// varchar size already folded into DataType.
type Column struct {
	Name     string
	DataType string
	Nullable bool
	Default  string
}

// implicitColumns are lifecycle columns the differ never drops, so a
// model that omits them does not destroy audit or soft-delete state.
var implicitColumns = map[string]bool{
	"created_at": true,
	"updated_at": true,
	"deleted_at": true,
}

// AlterTableSQL diffs the definition against the live columns and
// returns the ALTER TABLE statements bringing the table in line:
// missing columns are added, diverging types retyped, nullability and
// defaults adjusted, and columns absent from the definition dropped.
// Constraints, indexes and foreign keys are not examined. Against an
// unchanged table the result is empty.
func AlterTableSQL(def *Definition, current []Column) ([]string, error) {
	if err := def.validate(); err != nil {
		return nil, err
	}

	live := make(map[string]Column, len(current))
	for _, c := range current {
		live[c.Name] = c
	}

	var stmts []string
	table := quote(def.table)

	for _, f := range def.fields {
		cur, ok := live[f.Name]
		if !ok {
			col, err := columnDef(f)
			if err != nil {
				return nil, err
			}
			stmts = append(stmts, "ALTER TABLE "+table+" ADD COLUMN "+col)
			continue
		}

		if normalizeType(sqlType(f)) != normalizeType(cur.DataType) {
			stmts = append(stmts, "ALTER TABLE "+table+" ALTER COLUMN "+f.Name+" TYPE "+sqlType(f))
		}

		// Primary keys are NOT NULL by construction and never relaxed.
		wantNotNull := f.NotNull || f.PrimaryKey
		if wantNotNull && cur.Nullable {
			stmts = append(stmts, "ALTER TABLE "+table+" ALTER COLUMN "+f.Name+" SET NOT NULL")
		} else if !wantNotNull && !cur.Nullable && !f.PrimaryKey {
			stmts = append(stmts, "ALTER TABLE "+table+" ALTER COLUMN "+f.Name+" DROP NOT NULL")
		}

		alter, err := diffDefault(table, f, cur)
		if err != nil {
			return nil, err
		}
		if alter != "" {
			stmts = append(stmts, alter)
		}
	}

	for _, c := range current {
		if !def.HasField(c.Name) && !implicitColumns[c.Name] {
			stmts = append(stmts, "ALTER TABLE "+table+" DROP COLUMN "+c.Name)
		}
	}
	return stmts, nil
}

// diffDefault compares the declared default with the live one.
// Sequence-backed defaults (nextval) are left alone unless the model
// explicitly declares a different default over them.
func diffDefault(table string, f Field, cur Column) (string, error) {
	isSequence := strings.Contains(strings.ToLower(cur.Default), "nextval(")

	if !f.HasDefault {
		if cur.Default != "" && !isSequence {
			return "ALTER TABLE " + table + " ALTER COLUMN " + f.Name + " DROP DEFAULT", nil
		}
		return "", nil
	}

	lit, err := DefaultLiteral(f.Default)
	if err != nil {
		return "", err
	}
	if normalizeDefault(lit) != normalizeDefault(cur.Default) {
		return "ALTER TABLE " + table + " ALTER COLUMN " + f.Name + " SET DEFAULT " + lit, nil
	}
	return "", nil
}

// normalizeType maps information_schema spellings and our DDL spellings
// onto one comparable form.
func normalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	switch {
	case t == "serial":
		return "integer"
	case t == "timestamp without time zone":
		return "timestamp"
	case strings.HasPrefix(t, "character varying"):
		return "varchar" + strings.TrimPrefix(t, "character varying")
	}
	return t
}

// normalizeDefault strips the ::type cast Postgres appends to stored
// defaults and folds now() onto CURRENT_TIMESTAMP.
func normalizeDefault(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "::"); i >= 0 {
		s = s[:i]
	}
	s = strings.ToLower(s)
	if s == "now()" {
		s = "current_timestamp"
	}
	return s
}
