package apiclient

import (
	"fmt"
	"math"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/erp/syncengine/internal/domain/integration"
	"github.com/shopspring/decimal"
)

// Query limits
const (
	MinLimit = 1
	MaxLimit = 10000
)

var (
	identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)
	projectionPattern = regexp.MustCompile(`(?is)^(\s*SELECT\s+)(.*?)(\s+FROM\s+.*)$`)
	wherePattern      = regexp.MustCompile(`(?i)\bWHERE\b`)
	orderByPattern    = regexp.MustCompile(`(?i)\bORDER\s+BY\b`)
	limitPattern      = regexp.MustCompile(`(?i)\bLIMIT\b`)
	offsetPattern     = regexp.MustCompile(`(?i)\bOFFSET\b`)
	tailPattern       = regexp.MustCompile(`(?i)\s+(ORDER\s+BY|LIMIT|OFFSET)\b`)
)

// Comparison is a condition value with an explicit operator
type Comparison struct {
	Operator string
	Value    any
}

// After builds a "column > value" condition
func After(v any) Comparison { return Comparison{Operator: ">", Value: v} }

var allowedOperators = map[string]bool{
	"=": true, "!=": true, "<>": true, "<": true, "<=": true, ">": true, ">=": true,
}

// QueryOptions refines a built query
type QueryOptions struct {
	// Select replaces the base projection
	Select []string
	// OrderBy is "field [ASC|DESC]", comma separated for several fields
	OrderBy string
	// Limit is clamped to [MinLimit, MaxLimit]; nil adds no LIMIT
	Limit *int
	// Offset is clamped to >= 0; ignored without Limit
	Offset int
}

// Dialect holds literal rendering rules of a query language
type Dialect struct {
	TrueLiteral  string
	FalseLiteral string
	FormatTime   func(time.Time) string
}

// SuiteQLDialect renders booleans as 'T'/'F' and times via TO_TIMESTAMP
var SuiteQLDialect = Dialect{
	TrueLiteral:  "'T'",
	FalseLiteral: "'F'",
	FormatTime: func(t time.Time) string {
		return fmt.Sprintf("TO_TIMESTAMP('%s', 'YYYY-MM-DD HH24:MI:SS')", t.UTC().Format("2006-01-02 15:04:05"))
	},
}

// Limit returns a pointer for QueryOptions.Limit
func Limit(n int) *int { return &n }

// ValidateIdentifier checks a table or column name
func ValidateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return integration.NewValidationError("identifier", fmt.Sprintf("invalid identifier %q", name))
	}
	return nil
}

// EscapeString renders s as a single-quoted literal
func EscapeString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// ClampLimit clamps n to [MinLimit, MaxLimit]
func ClampLimit(n int) int {
	switch {
	case n < MinLimit:
		return MinLimit
	case n > MaxLimit:
		return MaxLimit
	default:
		return n
	}
}

// BuildQuery renders a query with the SuiteQL dialect
func BuildQuery(base string, conditions map[string]any, opts QueryOptions) (string, error) {
	return SuiteQLDialect.BuildQuery(base, conditions, opts)
}

// BuildQuery appends conditions and options to base. Conditions are joined
// with AND in key order.
func (d Dialect) BuildQuery(base string, conditions map[string]any, opts QueryOptions) (string, error) {
	q := strings.TrimSpace(base)
	if q == "" {
		return "", integration.NewValidationError("query", "base query is empty")
	}
	// clause presence is decided on the base text, never on rendered literals
	hasWhere := wherePattern.MatchString(q)
	hasOrderBy := orderByPattern.MatchString(q)
	hasLimit := limitPattern.MatchString(q)
	hasOffset := offsetPattern.MatchString(q)

	if len(opts.Select) > 0 {
		for _, col := range opts.Select {
			if err := ValidateIdentifier(col); err != nil {
				return "", err
			}
		}
		m := projectionPattern.FindStringSubmatch(q)
		if m == nil {
			return "", integration.NewValidationError("select", "base query has no SELECT ... FROM projection")
		}
		q = m[1] + strings.Join(opts.Select, ", ") + m[3]
	}

	// conditions and ordering go ahead of any ORDER BY, LIMIT or OFFSET
	// already in the base
	var tail string
	if loc := tailPattern.FindStringIndex(q); loc != nil {
		q, tail = q[:loc[0]], q[loc[0]:]
	}

	if len(conditions) > 0 {
		keys := make([]string, 0, len(conditions))
		for k := range conditions {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		clauses := make([]string, 0, len(keys))
		for _, k := range keys {
			clause, err := d.renderCondition(k, conditions[k])
			if err != nil {
				return "", err
			}
			clauses = append(clauses, clause)
		}
		joiner := " WHERE "
		if hasWhere {
			joiner = " AND "
		}
		q += joiner + strings.Join(clauses, " AND ")
	}

	if opts.OrderBy != "" {
		orderBy, err := validateOrderBy(opts.OrderBy)
		if err != nil {
			return "", err
		}
		if !hasOrderBy {
			q += " ORDER BY " + orderBy
		}
	}
	q += tail

	if opts.Limit != nil && !hasLimit {
		q += " LIMIT " + strconv.Itoa(ClampLimit(*opts.Limit))
		if !hasOffset {
			offset := opts.Offset
			if offset < 0 {
				offset = 0
			}
			q += " OFFSET " + strconv.Itoa(offset)
		}
	}
	return q, nil
}

func validateOrderBy(orderBy string) (string, error) {
	parts := strings.Split(orderBy, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		fields := strings.Fields(part)
		if len(fields) == 0 || len(fields) > 2 {
			return "", integration.NewValidationError("order_by", fmt.Sprintf("invalid order by %q", orderBy))
		}
		if err := ValidateIdentifier(fields[0]); err != nil {
			return "", err
		}
		term := fields[0]
		if len(fields) == 2 {
			dir := strings.ToUpper(fields[1])
			if dir != "ASC" && dir != "DESC" {
				return "", integration.NewValidationError("order_by", fmt.Sprintf("invalid direction %q", fields[1]))
			}
			term += " " + dir
		}
		out = append(out, term)
	}
	return strings.Join(out, ", "), nil
}

func (d Dialect) renderCondition(column string, value any) (string, error) {
	if err := ValidateIdentifier(column); err != nil {
		return "", err
	}
	op := "="
	if cmp, ok := value.(Comparison); ok {
		if !allowedOperators[cmp.Operator] {
			return "", integration.NewValidationError(column, fmt.Sprintf("unsupported operator %q", cmp.Operator))
		}
		op, value = cmp.Operator, cmp.Value
	}

	if value == nil {
		switch op {
		case "=":
			return column + " IS NULL", nil
		case "!=", "<>":
			return column + " IS NOT NULL", nil
		default:
			return "", integration.NewValidationError(column, "null only supports equality")
		}
	}

	if rv := reflect.ValueOf(value); rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8 {
		if op != "=" {
			return "", integration.NewValidationError(column, "list values only support equality")
		}
		if rv.Len() == 0 {
			return "", integration.NewValidationError(column, "empty list")
		}
		items := make([]string, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			lit, err := d.Literal(rv.Index(i).Interface())
			if err != nil {
				return "", integration.NewValidationError(column, err.Error())
			}
			items[i] = lit
		}
		return column + " IN (" + strings.Join(items, ", ") + ")", nil
	}

	lit, err := d.Literal(value)
	if err != nil {
		return "", integration.NewValidationError(column, err.Error())
	}
	return column + " " + op + " " + lit, nil
}

// Literal renders a scalar value
func (d Dialect) Literal(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return EscapeString(v), nil
	case bool:
		if v {
			return d.TrueLiteral, nil
		}
		return d.FalseLiteral, nil
	case int:
		return strconv.Itoa(v), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case float32:
		if err := checkFinite(float64(v)); err != nil {
			return "", err
		}
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case float64:
		if err := checkFinite(v); err != nil {
			return "", err
		}
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case decimal.Decimal:
		return v.String(), nil
	case time.Time:
		if d.FormatTime == nil {
			return EscapeString(v.UTC().Format(time.RFC3339)), nil
		}
		return d.FormatTime(v), nil
	case fmt.Stringer:
		return EscapeString(v.String()), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", value)
	}
}

func checkFinite(f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("non-finite number %v", f)
	}
	return nil
}
