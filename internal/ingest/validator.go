// Package ingest also validates inbound operation batches before they are
// published, enforcing the same shape the op-log codec requires.
package ingest

import (
	"fmt"
	"strings"
)

const maxTermsPerDocument = 4096

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s:%s", field, msg))
	}
	return strings.Join(parts, "; ")
}

// ValidateBatchRequest checks that every operation in req is well-formed
// and returns a ValidationError describing every problem found, if any.
func ValidateBatchRequest(req *BatchRequest) error {
	errs := make(map[string]string)
	if len(req.Ops) == 0 {
		errs["ops"] = "batch must contain at least one operation"
	}
	for i, op := range req.Ops {
		switch op.Kind {
		case "insert":
			if len(op.Terms) == 0 {
				errs[fmt.Sprintf("ops[%d].terms", i)] = "insert requires a non-empty term set"
			} else if len(op.Terms) > maxTermsPerDocument {
				errs[fmt.Sprintf("ops[%d].terms", i)] = fmt.Sprintf("insert must have at most %d terms", maxTermsPerDocument)
			}
		case "delete":
			// DocID zero is a valid document id; nothing further to check.
		case "set_attribute":
			if strings.TrimSpace(op.AttrName) == "" {
				errs[fmt.Sprintf("ops[%d].attr_name", i)] = "attribute name is required"
			}
		default:
			errs[fmt.Sprintf("ops[%d].kind", i)] = fmt.Sprintf("unknown operation kind %q", op.Kind)
		}
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
