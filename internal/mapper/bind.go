package mapper

import (
	"database/sql"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coregx/tabula/internal/errs"
)

// binder caches per-type struct metadata for Bind.
type binder struct {
	mu    sync.RWMutex
	cache map[reflect.Type]*structInfo
}

type structInfo struct {
	fields []*boundField
}

// boundField maps a record column onto a struct field, with the index
// path reaching through embedded structs.
type boundField struct {
	index  []int
	column string
}

var globalBinder = &binder{cache: make(map[reflect.Type]*structInfo)}

func (b *binder) structInfo(typ reflect.Type) (*structInfo, error) {
	b.mu.RLock()
	info, ok := b.cache[typ]
	b.mu.RUnlock()
	if ok {
		return info, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if info, ok := b.cache[typ]; ok {
		return info, nil
	}

	info, err := buildStructInfo(typ, nil)
	if err != nil {
		return nil, err
	}
	b.cache[typ] = info
	return info, nil
}

func buildStructInfo(typ reflect.Type, index []int) (*structInfo, error) {
	if typ.Kind() != reflect.Struct {
		return nil, errs.New(errs.ErrValidation, fmt.Sprintf("bind target must be a struct, got %s", typ.Kind()))
	}

	info := &structInfo{}
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if !field.IsExported() {
			continue
		}

		fieldIndex := append(append([]int{}, index...), i)

		if field.Anonymous && field.Type.Kind() == reflect.Struct {
			nested, err := buildStructInfo(field.Type, fieldIndex)
			if err != nil {
				return nil, err
			}
			info.fields = append(info.fields, nested.fields...)
			continue
		}

		column := strings.ToLower(field.Name)
		if tag, ok := field.Tag.Lookup("db"); ok {
			if tag == "-" {
				continue
			}
			column = tag
		}

		info.fields = append(info.fields, &boundField{index: fieldIndex, column: column})
	}
	return info, nil
}

// Bind decodes the record's fields into a db-tagged struct. Columns
// without a matching field are ignored and fields without a matching
// column keep their zero value. NULL clears pointer fields and zeroes
// the rest.
func (r *Record) Bind(dest any) error {
	v := reflect.ValueOf(dest)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return errs.New(errs.ErrValidation, fmt.Sprintf("bind target must be a struct pointer, got %T", dest))
	}

	elem := v.Elem()
	info, err := globalBinder.structInfo(elem.Type())
	if err != nil {
		return err
	}

	for _, f := range info.fields {
		ns, ok := r.fields[f.column]
		if !ok {
			continue
		}
		target := elem
		for _, idx := range f.index {
			target = target.Field(idx)
		}
		if err := setValue(target, ns); err != nil {
			return errs.Wrap(errs.ErrValidation, err, fmt.Sprintf("bind column %q", f.column))
		}
	}
	return nil
}

var (
	nullStringType = reflect.TypeOf(sql.NullString{})
	timeType       = reflect.TypeOf(time.Time{})
)

func setValue(v reflect.Value, ns sql.NullString) error {
	if v.Type() == nullStringType {
		v.Set(reflect.ValueOf(ns))
		return nil
	}
	if v.Kind() == reflect.Pointer {
		if !ns.Valid {
			v.Set(reflect.Zero(v.Type()))
			return nil
		}
		p := reflect.New(v.Type().Elem())
		if err := setValue(p.Elem(), ns); err != nil {
			return err
		}
		v.Set(p)
		return nil
	}
	if !ns.Valid {
		v.Set(reflect.Zero(v.Type()))
		return nil
	}

	s := ns.String
	switch v.Kind() {
	case reflect.String:
		v.SetString(s)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return err
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return err
		}
		v.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		v.SetFloat(f)
	case reflect.Bool:
		b, ok := parseBool(s)
		if !ok {
			return fmt.Errorf("invalid boolean %q", s)
		}
		v.SetBool(b)
	default:
		if v.Type() == timeType {
			ts, err := parseTime(s)
			if err != nil {
				return err
			}
			v.Set(reflect.ValueOf(ts))
			return nil
		}
		return fmt.Errorf("unsupported field type %s", v.Type())
	}
	return nil
}
