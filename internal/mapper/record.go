package mapper

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/coregx/tabula/internal/driver"
	"github.com/coregx/tabula/internal/schema"
)

// Record is one mapped row: its own fields plus related records
// attached by relation name. Values stay in Postgres text format until
// a typed getter or Bind decodes them.
type Record struct {
	def       *schema.Definition
	fields    driver.Row
	relations map[string]*Record
}

// NewRecord wraps an already demultiplexed row.
func NewRecord(def *schema.Definition, fields driver.Row) *Record {
	if fields == nil {
		fields = driver.Row{}
	}
	return &Record{def: def, fields: fields, relations: make(map[string]*Record)}
}

// Definition returns the definition the record was mapped against.
func (r *Record) Definition() *schema.Definition { return r.def }

// Fields returns the raw field map.
func (r *Record) Fields() driver.Row { return r.fields }

// Has reports whether the column arrived at all, null or not.
func (r *Record) Has(name string) bool {
	_, ok := r.fields[name]
	return ok
}

// IsNull reports whether the column is absent or SQL NULL.
func (r *Record) IsNull(name string) bool {
	ns, ok := r.fields[name]
	return !ok || !ns.Valid
}

// Get returns the raw nullable value and whether the column arrived.
func (r *Record) Get(name string) (sql.NullString, bool) {
	ns, ok := r.fields[name]
	return ns, ok
}

// String returns the column as text; ok is false for absent or NULL.
func (r *Record) String(name string) (string, bool) {
	ns, ok := r.fields[name]
	if !ok || !ns.Valid {
		return "", false
	}
	return ns.String, true
}

// Int decodes the column as an integer; ok is false for absent, NULL
// or non-numeric text.
func (r *Record) Int(name string) (int64, bool) {
	s, ok := r.String(name)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Float decodes the column as a float.
func (r *Record) Float(name string) (float64, bool) {
	s, ok := r.String(name)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Bool decodes the column from Postgres text booleans (t/f) or their
// common spellings.
func (r *Record) Bool(name string) (bool, bool) {
	s, ok := r.String(name)
	if !ok {
		return false, false
	}
	return parseBool(s)
}

// Time decodes the column from the timestamp text formats Postgres emits.
func (r *Record) Time(name string) (time.Time, bool) {
	s, ok := r.String(name)
	if !ok {
		return time.Time{}, false
	}
	ts, err := parseTime(s)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// Relation returns the related record attached under name, if the join
// produced one.
func (r *Record) Relation(name string) (*Record, bool) {
	rel, ok := r.relations[name]
	return rel, ok
}

// Relations returns all attached related records.
func (r *Record) Relations() map[string]*Record { return r.relations }

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "t", "true", "1":
		return true, true
	case "f", "false", "0":
		return false, true
	}
	return false, false
}

// timeFormats are the text layouts Postgres emits for timestamp,
// timestamptz and date columns. Fractional seconds are optional.
var timeFormats = []string{
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05.999999-07",
	time.RFC3339Nano,
	"2006-01-02",
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeFormats {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}
