// Package schema describes tables and generates their DDL.
//
// A Definition lists fields in declaration order with a tagged type and
// per-field attributes. From it the package renders CREATE TABLE and
// index statements, and diffs against a live table's columns to produce
// minimal ALTER statements. Diffing covers columns only; constraint and
// index changes on an existing table need manual DDL.
package schema

import (
	"fmt"
	"strings"

	"github.com/coregx/tabula/internal/errs"
)

// FieldKind is the tagged variant of supported column types.
type FieldKind int

const (
	// KindString maps to VARCHAR(255).
	KindString FieldKind = iota
	KindInteger
	KindText
	KindTimestamp
	KindBoolean
	KindFloat
	// KindVarChar carries its size in FieldType.Size.
	KindVarChar
)

// FieldType pairs a kind with its optional size.
type FieldType struct {
	Kind FieldKind
	Size int
}

// Integer is a 32-bit integer column; as a primary key it becomes SERIAL.
func Integer() FieldType { return FieldType{Kind: KindInteger} }

// String is shorthand for VarChar(255).
func String() FieldType { return FieldType{Kind: KindString} }

// Text is an unbounded text column.
func Text() FieldType { return FieldType{Kind: KindText} }

// Timestamp is a timestamp without time zone.
func Timestamp() FieldType { return FieldType{Kind: KindTimestamp} }

// Boolean is a boolean column.
func Boolean() FieldType { return FieldType{Kind: KindBoolean} }

// Float is a double-precision column.
func Float() FieldType { return FieldType{Kind: KindFloat} }

// VarChar is a bounded varchar column.
func VarChar(size int) FieldType { return FieldType{Kind: KindVarChar, Size: size} }

// Field is one column of a table definition.
type Field struct {
	Name       string
	Type       FieldType
	PrimaryKey bool
	Unique     bool
	NotNull    bool
	HasDefault bool
	Default    any
	RefTable   string
	RefColumn  string
}

// Attr modifies a field definition.
type Attr func(*Field)

// PrimaryKey marks the field as the table's primary key.
func PrimaryKey() Attr { return func(f *Field) { f.PrimaryKey = true } }

// Unique adds a single-column UNIQUE constraint.
func Unique() Attr { return func(f *Field) { f.Unique = true } }

// NotNull forbids NULL values.
func NotNull() Attr { return func(f *Field) { f.NotNull = true } }

// Default sets the column default. Strings matching recognized SQL
// keywords (CURRENT_TIMESTAMP, NOW(), NULL, TRUE, FALSE) are emitted
// unquoted; other strings are quoted; numbers and bools are literals.
func Default(v any) Attr {
	return func(f *Field) {
		f.Default = v
		f.HasDefault = true
	}
}

// References adds an inline foreign key to table(column) and makes the
// field the source of a derived relation for eager loading.
func References(table, column string) Attr {
	return func(f *Field) {
		f.RefTable = table
		f.RefColumn = column
	}
}

// Relation links a foreign-key field to its target table. The name is
// the field name minus its _id suffix, falling back to the target table
// name, and doubles as the eager-load alias prefix.
type Relation struct {
	Name       string
	Target     string
	LocalKey   string
	ForeignKey string
	JoinType   string
}

// foreignKey is a table-level FOREIGN KEY constraint.
type foreignKey struct {
	columns    []string
	refTable   string
	refColumns []string
}

// index is a secondary index created separately from the table.
type index struct {
	columns []string
	unique  bool
}

// Definition describes one table.
type Definition struct {
	table          string
	fields         []Field
	pk             string
	uniqueTogether [][]string
	foreignKeys    []foreignKey
	indexes        []index
	err            error
}

// New starts a definition for table.
func New(table string) *Definition {
	return &Definition{table: table}
}

// Table returns the table name.
func (d *Definition) Table() string { return d.table }

// CopyAs returns a copy of the definition bound to another table name.
// The copy shares field and constraint data with the original, which
// must not be mutated afterwards.
func (d *Definition) CopyAs(table string) *Definition {
	clone := *d
	clone.table = table
	return &clone
}

// Fields returns the fields in declaration order.
func (d *Definition) Fields() []Field { return d.fields }

// Err returns the first error recorded while defining, if any.
func (d *Definition) Err() error { return d.err }

func (d *Definition) fail(message string) {
	if d.err == nil {
		d.err = errs.New(errs.ErrSchema, message)
	}
}

// Field appends a column. Declaring a second primary key is an error.
func (d *Definition) Field(name string, t FieldType, attrs ...Attr) *Definition {
	if _, ok := d.FieldByName(name); ok {
		d.fail(fmt.Sprintf("duplicate field %q on table %q", name, d.table))
		return d
	}
	f := Field{Name: name, Type: t}
	for _, attr := range attrs {
		attr(&f)
	}
	if f.PrimaryKey && !d.setPrimary(name) {
		return d
	}
	d.fields = append(d.fields, f)
	return d
}

// PrimaryKeyOn marks an already declared field as the primary key.
func (d *Definition) PrimaryKeyOn(name string) *Definition {
	for i := range d.fields {
		if d.fields[i].Name == name {
			if d.setPrimary(name) {
				d.fields[i].PrimaryKey = true
			}
			return d
		}
	}
	d.fail(fmt.Sprintf("primary key on unknown field %q", name))
	return d
}

func (d *Definition) setPrimary(name string) bool {
	if d.pk != "" && d.pk != name {
		d.fail(fmt.Sprintf("table %q already has primary key %q", d.table, d.pk))
		return false
	}
	d.pk = name
	return true
}

// UniqueTogether adds a multi-column UNIQUE constraint, emitted after
// the column definitions.
func (d *Definition) UniqueTogether(columns ...string) *Definition {
	d.uniqueTogether = append(d.uniqueTogether, columns)
	return d
}

// ForeignKey adds a table-level FOREIGN KEY constraint, for composite
// keys that cannot be expressed inline with References.
func (d *Definition) ForeignKey(columns []string, refTable string, refColumns []string) *Definition {
	d.foreignKeys = append(d.foreignKeys, foreignKey{columns: columns, refTable: refTable, refColumns: refColumns})
	return d
}

// Index adds a secondary index, generated separately from CREATE TABLE.
func (d *Definition) Index(columns ...string) *Definition {
	d.indexes = append(d.indexes, index{columns: columns})
	return d
}

// UniqueIndex adds a unique secondary index.
func (d *Definition) UniqueIndex(columns ...string) *Definition {
	d.indexes = append(d.indexes, index{columns: columns, unique: true})
	return d
}

// FieldByName looks a field up by column name.
func (d *Definition) FieldByName(name string) (Field, bool) {
	for _, f := range d.fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// HasField reports whether the definition declares the column.
func (d *Definition) HasField(name string) bool {
	_, ok := d.FieldByName(name)
	return ok
}

// Primary returns the primary-key field.
func (d *Definition) Primary() (Field, bool) {
	if d.pk == "" {
		return Field{}, false
	}
	return d.FieldByName(d.pk)
}

// Relations derives the eager-load relations from fields declared with
// References.
func (d *Definition) Relations() []Relation {
	var rels []Relation
	for _, f := range d.fields {
		if f.RefTable == "" {
			continue
		}
		name := strings.TrimSuffix(f.Name, "_id")
		if name == f.Name {
			name = f.RefTable
		}
		rels = append(rels, Relation{
			Name:       name,
			Target:     f.RefTable,
			LocalKey:   f.Name,
			ForeignKey: f.RefColumn,
			JoinType:   "LEFT",
		})
	}
	return rels
}

// Relation looks a derived relation up by name.
func (d *Definition) Relation(name string) (Relation, bool) {
	for _, r := range d.Relations() {
		if r.Name == name {
			return r, true
		}
	}
	return Relation{}, false
}

// validate gates DDL generation: any sticky definition error surfaces
// here, and a table without a primary key is rejected.
func (d *Definition) validate() error {
	if d.err != nil {
		return d.err
	}
	if d.pk == "" {
		return errs.New(errs.ErrSchema, fmt.Sprintf("table %q has no primary key", d.table))
	}
	return nil
}
