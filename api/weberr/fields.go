package weberr

import "errors"

type fielder interface {
	Fields() map[string]interface{}
}

// Fields collects the log fields attached anywhere in the chain of err.
// Outer fields win over inner ones with the same key.
func Fields(err error) (fields map[string]interface{}, ok bool) {
	var layers []map[string]interface{}
	for e := err; e != nil; e = errors.Unwrap(e) {
		if fe, is := e.(fielder); is {
			layers = append(layers, fe.Fields())
		}
	}
	if len(layers) == 0 {
		return nil, false
	}

	fields = make(map[string]interface{})
	for i := len(layers) - 1; i >= 0; i-- {
		for k, v := range layers[i] {
			fields[k] = v
		}
	}
	return fields, true
}

type fieldsError struct {
	error
	fields map[string]interface{}
}

func (e *fieldsError) Fields() map[string]interface{} { return e.fields }

func (e *fieldsError) Unwrap() error { return e.error }
