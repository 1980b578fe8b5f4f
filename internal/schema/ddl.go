package schema

import (
	"fmt"
	"strings"

	"github.com/coregx/tabula/internal/dialects"
	"github.com/coregx/tabula/internal/errs"
)

// defaultKeywords are emitted unquoted as DEFAULT expressions,
// matched case-insensitively.
var defaultKeywords = map[string]bool{
	"CURRENT_TIMESTAMP": true,
	"NOW()":             true,
	"NULL":              true,
	"TRUE":              true,
	"FALSE":             true,
}

// CreateTableSQL renders the CREATE TABLE statement and the separate
// CREATE INDEX statements for the definition.
func CreateTableSQL(def *Definition) (string, []string, error) {
	if err := def.validate(); err != nil {
		return "", nil, err
	}

	parts := make([]string, 0, len(def.fields)+len(def.uniqueTogether)+len(def.foreignKeys))
	for _, f := range def.fields {
		col, err := columnDef(f)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, col)
	}
	for _, ut := range def.uniqueTogether {
		parts = append(parts, "UNIQUE ("+strings.Join(ut, ", ")+")")
	}
	for _, fk := range def.foreignKeys {
		parts = append(parts, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)",
			strings.Join(fk.columns, ", "), fk.refTable, strings.Join(fk.refColumns, ", ")))
	}

	ddl := fmt.Sprintf("CREATE TABLE %s (%s)", quote(def.table), strings.Join(parts, ", "))
	return ddl, indexSQL(def), nil
}

// indexSQL renders the definition's secondary indexes. Names derive
// from the table and columns so reruns collide instead of duplicating.
func indexSQL(def *Definition) []string {
	stmts := make([]string, 0, len(def.indexes))
	for _, idx := range def.indexes {
		prefix, unique := "idx", ""
		if idx.unique {
			prefix, unique = "uniq", "UNIQUE "
		}
		name := fmt.Sprintf("%s_%s_%s", prefix, def.table, strings.Join(idx.columns, "_"))
		stmts = append(stmts, fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)",
			unique, name, quote(def.table), strings.Join(idx.columns, ", ")))
	}
	return stmts
}

// DropTableSQL renders a DROP TABLE statement.
func DropTableSQL(table string, cascade bool) string {
	ddl := "DROP TABLE IF EXISTS " + quote(table)
	if cascade {
		ddl += " CASCADE"
	}
	return ddl
}

// columnDef renders one column definition.
func columnDef(f Field) (string, error) {
	parts := []string{f.Name, sqlType(f)}
	if f.PrimaryKey {
		parts = append(parts, "PRIMARY KEY")
	}
	if f.Unique && !f.PrimaryKey {
		parts = append(parts, "UNIQUE")
	}
	if f.NotNull && !f.PrimaryKey {
		parts = append(parts, "NOT NULL")
	}
	if f.HasDefault {
		lit, err := DefaultLiteral(f.Default)
		if err != nil {
			return "", err
		}
		parts = append(parts, "DEFAULT "+lit)
	}
	if f.RefTable != "" {
		parts = append(parts, fmt.Sprintf("REFERENCES %s(%s)", f.RefTable, f.RefColumn))
	}
	return strings.Join(parts, " "), nil
}

// sqlType maps a field type to its column type. Integer primary keys
// become SERIAL.
func sqlType(f Field) string {
	if f.PrimaryKey && f.Type.Kind == KindInteger {
		return "SERIAL"
	}
	switch f.Type.Kind {
	case KindInteger:
		return "INTEGER"
	case KindText:
		return "TEXT"
	case KindTimestamp:
		return "TIMESTAMP"
	case KindBoolean:
		return "BOOLEAN"
	case KindFloat:
		return "DOUBLE PRECISION"
	case KindVarChar:
		return fmt.Sprintf("VARCHAR(%d)", f.Type.Size)
	default:
		return "VARCHAR(255)"
	}
}

// DefaultLiteral renders a default value as a DDL literal. Keyword
// strings pass through unquoted, other strings are single-quoted with
// embedded quotes doubled, and unsupported types are ErrSchema.
func DefaultLiteral(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "NULL", nil
	case string:
		if defaultKeywords[strings.ToUpper(x)] {
			return x, nil
		}
		return "'" + strings.ReplaceAll(x, "'", "''") + "'", nil
	case bool:
		if x {
			return "TRUE", nil
		}
		return "FALSE", nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(x), nil
	default:
		return "", errs.New(errs.ErrSchema, fmt.Sprintf("unsupported default value type %T", v))
	}
}

func quote(name string) string {
	return dialects.Default().QuoteIdentifier(name)
}
