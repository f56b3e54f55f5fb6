package analytics

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// FieldError описывает нарушенное правило одного параметра запроса.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// ValidationError — запрос отклонён до выполнения.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Rule
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// ErrChannelNotFound — канала нет в измерении каналов.
var ErrChannelNotFound = errors.New("channel not found")

const dateLayout = time.DateOnly

// NewValidator создаёт валидатор, который читает теги binding и называет поля по тегу form,
// как это делает gin при разборе query-параметров.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.SetTagName("binding")
	v.RegisterTagNameFunc(FormFieldName)
	return v
}

// FormFieldName возвращает имя параметра из тега form.
func FormFieldName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("form"), ",")
	if name == "" || name == "-" {
		return f.Name
	}
	return name
}

var validate = NewValidator()

// FromValidator переводит ошибки validator в список нарушенных правил.
func FromValidator(err error) (*ValidationError, bool) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil, false
	}
	out := &ValidationError{Fields: make([]FieldError, 0, len(verrs))}
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		out.Fields = append(out.Fields, FieldError{Field: fe.Field(), Rule: rule})
	}
	return out, true
}

func check(q any) error {
	if err := validate.Struct(q); err != nil {
		if ve, ok := FromValidator(err); ok {
			return ve
		}
		return fmt.Errorf("validate query: %w", err)
	}
	return nil
}

// dateRange разбирает границы периода. Граница date_to включает весь день.
func dateRange(from, to string) (start, end *time.Time, err error) {
	var fields []FieldError
	parse := func(field, v string) *time.Time {
		if v == "" {
			return nil
		}
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			fields = append(fields, FieldError{Field: field, Rule: "datetime=" + dateLayout})
			return nil
		}
		return &t
	}
	start = parse("date_from", from)
	end = parse("date_to", to)
	if start != nil && end != nil && start.After(*end) {
		fields = append(fields, FieldError{Field: "date_from", Rule: "ltefield=date_to"})
	}
	if len(fields) > 0 {
		return nil, nil, &ValidationError{Fields: fields}
	}
	if end != nil {
		next := end.AddDate(0, 0, 1)
		end = &next
	}
	return start, end, nil
}

func inRange(t time.Time, start, end *time.Time) bool {
	if start != nil && t.Before(*start) {
		return false
	}
	if end != nil && !t.Before(*end) {
		return false
	}
	return true
}
