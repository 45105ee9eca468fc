package rest

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/shopspring/decimal"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func decodeJSON(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// toDecimal accepts a JSON number or numeric string; money amounts arrive
// both ways from clients.
func toDecimal(v interface{}, field string) (decimal.Decimal, error) {
	switch t := v.(type) {
	case nil:
		return decimal.Zero, &ValidationError{Field: field, Message: field + " is required"}
	case float64:
		return decimal.NewFromFloat(t), nil
	case string:
		if t == "" {
			return decimal.Zero, &ValidationError{Field: field, Message: field + " is required"}
		}
		d, err := decimal.NewFromString(t)
		if err != nil {
			return decimal.Zero, &ValidationError{Field: field, Message: field + " must be a number"}
		}
		return d, nil
	default:
		return decimal.Zero, &ValidationError{Field: field, Message: field + " must be a number"}
	}
}

func toPositiveDecimal(v interface{}, field string) (decimal.Decimal, error) {
	d, err := toDecimal(v, field)
	if err != nil {
		return decimal.Zero, err
	}
	if !d.IsPositive() {
		return decimal.Zero, &ValidationError{Field: field, Message: field + " must be positive"}
	}
	return d, nil
}

func toNonNegativeDecimal(v interface{}, field string) (decimal.Decimal, error) {
	d, err := toDecimal(v, field)
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, &ValidationError{Field: field, Message: field + " must not be negative"}
	}
	return d, nil
}

func toInt(v interface{}, field string) (int, error) {
	switch t := v.(type) {
	case nil:
		return 0, &ValidationError{Field: field, Message: field + " is required"}
	case float64:
		if t != float64(int(t)) {
			return 0, &ValidationError{Field: field, Message: field + " must be an integer"}
		}
		return int(t), nil
	default:
		return 0, &ValidationError{Field: field, Message: field + " must be an integer"}
	}
}

func requireString(s, field string) (string, error) {
	if s == "" {
		return "", &ValidationError{Field: field, Message: field + " is required"}
	}
	return s, nil
}
