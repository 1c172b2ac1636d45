package executors

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/shaiso/Nodeflow/internal/engine"
)

// Операторы условий фильтра.
const (
	OpEquals       = "equals"
	OpNotEquals    = "not_equals"
	OpContains     = "contains"
	OpNotContains  = "not_contains"
	OpStartsWith   = "starts_with"
	OpEndsWith     = "ends_with"
	OpGreaterThan  = "greater_than"
	OpLessThan     = "less_than"
	OpGreaterEqual = "greater_equal"
	OpLessEqual    = "less_equal"
	OpIn           = "in"
	OpNotIn        = "not_in"
	OpIsEmpty      = "is_empty"
	OpIsNotEmpty   = "is_not_empty"
	OpIsNull       = "is_null"
	OpIsNotNull    = "is_not_null"
	OpRegex        = "regex"
)

var operators = map[string]bool{
	OpEquals: true, OpNotEquals: true, OpContains: true, OpNotContains: true,
	OpStartsWith: true, OpEndsWith: true, OpGreaterThan: true, OpLessThan: true,
	OpGreaterEqual: true, OpLessEqual: true, OpIn: true, OpNotIn: true,
	OpIsEmpty: true, OpIsNotEmpty: true, OpIsNull: true, OpIsNotNull: true, OpRegex: true,
}

// Condition — одно условие простого режима фильтра.
type Condition struct {
	Field         string `json:"field"`
	Operator      string `json:"operator"`
	Value         any    `json:"value"`
	CaseSensitive bool   `json:"caseSensitive"`
}

// regexCache хранит скомпилированные шаблоны regex-условий.
var regexCache sync.Map

func compileRegex(pattern string, caseSensitive bool) (*regexp.Regexp, error) {
	key := pattern
	if !caseSensitive {
		key = "(?i)" + pattern
	}
	if re, ok := regexCache.Load(key); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(key)
	if err != nil {
		return nil, err
	}
	regexCache.Store(key, re)
	return re, nil
}

// validate проверяет оператор и regex до обработки элементов.
func (c *Condition) validate() error {
	if !operators[c.Operator] {
		return fmt.Errorf("%w: operator %q", ErrUnsupportedMode, c.Operator)
	}
	if c.Field == "" {
		return fmt.Errorf("%w: condition field", ErrMissingField)
	}
	if c.Operator == OpRegex {
		pattern, ok := c.Value.(string)
		if !ok {
			return fmt.Errorf("regex condition on %q needs a string pattern", c.Field)
		}
		if !engine.HasPlaceholders(pattern) {
			if _, err := compileRegex(pattern, c.CaseSensitive); err != nil {
				return fmt.Errorf("invalid regex %q: %w", pattern, err)
			}
		}
	}
	return nil
}

// Eval проверяет условие для элемента. data — контекст шаблонов значения.
func (c *Condition) Eval(item any, data map[string]any) (bool, error) {
	actual, found := engine.LookupPath(item, c.Field)
	if !found {
		actual = nil
	}
	expected := c.Value
	if s, ok := expected.(string); ok {
		expected = engine.ResolveRaw(s, data)
	}

	switch c.Operator {
	case OpIsNull:
		return actual == nil, nil
	case OpIsNotNull:
		return actual != nil, nil
	case OpIsEmpty:
		return isEmpty(actual), nil
	case OpIsNotEmpty:
		return !isEmpty(actual), nil
	case OpEquals:
		return c.equal(actual, expected), nil
	case OpNotEquals:
		return !c.equal(actual, expected), nil
	case OpContains:
		return c.contains(actual, expected), nil
	case OpNotContains:
		return !c.contains(actual, expected), nil
	case OpStartsWith:
		if actual == nil {
			return false, nil
		}
		a, e := c.fold(engine.Stringify(actual)), c.fold(engine.Stringify(expected))
		return strings.HasPrefix(a, e), nil
	case OpEndsWith:
		if actual == nil {
			return false, nil
		}
		a, e := c.fold(engine.Stringify(actual)), c.fold(engine.Stringify(expected))
		return strings.HasSuffix(a, e), nil
	case OpGreaterThan, OpLessThan, OpGreaterEqual, OpLessEqual:
		if actual == nil || expected == nil {
			return false, nil
		}
		cmp := c.compare(actual, expected)
		switch c.Operator {
		case OpGreaterThan:
			return cmp > 0, nil
		case OpLessThan:
			return cmp < 0, nil
		case OpGreaterEqual:
			return cmp >= 0, nil
		default:
			return cmp <= 0, nil
		}
	case OpIn:
		return c.in(actual, expected), nil
	case OpNotIn:
		return !c.in(actual, expected), nil
	case OpRegex:
		if actual == nil {
			return false, nil
		}
		re, err := compileRegex(engine.Stringify(expected), c.CaseSensitive)
		if err != nil {
			return false, fmt.Errorf("invalid regex: %w", err)
		}
		return re.MatchString(engine.Stringify(actual)), nil
	}
	return false, fmt.Errorf("%w: operator %q", ErrUnsupportedMode, c.Operator)
}

func (c *Condition) fold(s string) string {
	if c.CaseSensitive {
		return s
	}
	return strings.ToLower(s)
}

// equal сравнивает числа численно, остальное — по строковому виду.
func (c *Condition) equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			_, aBool := a.(bool)
			_, bBool := b.(bool)
			if aBool == bBool {
				return fa == fb
			}
		}
	}
	return c.fold(engine.Stringify(a)) == c.fold(engine.Stringify(b))
}

// compare возвращает -1, 0, 1. Числа сравниваются численно, иначе строки.
func (c *Condition) compare(a, b any) int {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(c.fold(engine.Stringify(a)), c.fold(engine.Stringify(b)))
}

// contains: подстрока для строк, элемент для массивов, ключ для объектов.
func (c *Condition) contains(actual, expected any) bool {
	switch val := actual.(type) {
	case nil:
		return false
	case map[string]any:
		_, ok := val[engine.Stringify(expected)]
		return ok
	}
	if items, ok := asSlice(actual); ok {
		for _, item := range items {
			if c.equal(item, expected) {
				return true
			}
		}
		return false
	}
	return strings.Contains(c.fold(engine.Stringify(actual)), c.fold(engine.Stringify(expected)))
}

// in: actual входит в список expected (массив или "a, b, c").
func (c *Condition) in(actual, expected any) bool {
	if actual == nil {
		return false
	}
	items, ok := asSlice(expected)
	if !ok {
		for _, s := range stringList(expected) {
			items = append(items, s)
		}
	}
	for _, item := range items {
		if c.equal(actual, item) {
			return true
		}
	}
	return false
}

// evalConditions объединяет условия по logic (and/or). Пустой список — true.
func evalConditions(conds []Condition, logic string, item any, data map[string]any) (bool, error) {
	if len(conds) == 0 {
		return true, nil
	}
	or := logic == "or"
	for i := range conds {
		ok, err := conds[i].Eval(item, data)
		if err != nil {
			return false, err
		}
		if or && ok {
			return true, nil
		}
		if !or && !ok {
			return false, nil
		}
	}
	return !or, nil
}
