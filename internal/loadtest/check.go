package loadtest

import "fmt"

// Check is a boolean assertion on a response status code.
type Check struct {
	Name      string
	Condition string // eq, ne, lt, lte, gt, gte
	Value     int
}

// StatusIs returns the check "status <code>".
func StatusIs(code int) Check {
	return Check{Name: fmt.Sprintf("status %d", code), Condition: "eq", Value: code}
}

// Evaluate reports whether status satisfies the check. A transport error is
// reported as status 0, which fails every check except "ne" and "lt".
func (c Check) Evaluate(status int) bool {
	switch c.Condition {
	case "", "eq":
		return status == c.Value
	case "ne":
		return status != c.Value
	case "lt":
		return status < c.Value
	case "lte":
		return status <= c.Value
	case "gt":
		return status > c.Value
	case "gte":
		return status >= c.Value
	}
	return false
}
