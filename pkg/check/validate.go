package check

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Validatable is implemented by anything that has fields that should be validated.
type Validatable interface {
	Validate() []error
}

// Validate walks v and every struct field, slice element and map value reachable from it, and
// calls Validate on each one that is Validatable. It returns every failure combined, each
// prefixed with the path where it was found, or nil if there were none.
func Validate(v interface{}) error {
	var merr *multierror.Error
	walk(reflect.ValueOf(v), "config", func(err error) {
		merr = multierror.Append(merr, err)
	})
	if merr == nil {
		return nil
	}
	merr.ErrorFormat = validationFormat
	return merr.ErrorOrNil()
}

func validationFormat(errs []error) string {
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	sort.Strings(msgs)
	return fmt.Sprintf("invalid configuration, %d errors found:\n\t%s",
		len(errs), strings.Join(msgs, "\n\t"))
}

func walk(v reflect.Value, path string, report func(error)) {
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface:
		if !v.IsNil() {
			walk(v.Elem(), path, report)
		}
		return
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			walk(v.Index(i), fmt.Sprintf("%s[%d]", path, i), report)
		}
	case reflect.Map:
		for _, key := range v.MapKeys() {
			walk(v.MapIndex(key), fmt.Sprintf("%s[%v]", path, key.Interface()), report)
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if v.Field(i).CanInterface() {
				walk(v.Field(i), path+"."+v.Type().Field(i).Name, report)
			}
		}
	}

	if !v.IsValid() || !v.CanInterface() {
		return
	}
	// Copy into an addressable value so that pointer-receiver Validate methods are found too.
	ptr := reflect.New(v.Type())
	ptr.Elem().Set(v)
	if validatable, ok := ptr.Interface().(Validatable); ok {
		for _, err := range validatable.Validate() {
			if err != nil {
				report(errors.Wrapf(err, "at %s", path))
			}
		}
	}
}
