package agent

import (
	"fmt"
	"regexp"
	"strings"
)

// batchCodePattern matches codes like VDT-052025-A.
var batchCodePattern = regexp.MustCompile(`\b([A-Z]{3}-\d{6}-[A-Z])\b`)

// Planner turns a question into a SQL statement over the batch-tracking schema.
type Planner interface {
	Plan(question string) (sql string, ok bool)
}

// PlannerFunc adapts a function to Planner.
type PlannerFunc func(question string) (string, bool)

// Plan implements Planner.
func (f PlannerFunc) Plan(question string) (string, bool) { return f(question) }

// RulePlanner resolves a fixed set of question shapes by keyword.
type RulePlanner struct{}

const trackingJoin = `FROM batch_tracking t
JOIN batches b ON b.id = t.batch_id
JOIN departments d ON d.id = t.department_id
JOIN employees e ON e.id = t.employee_id`

var (
	trackingStatuses = []string{"Packed", "Inspected", "Stored", "Dispatched"}
	departmentNames  = []string{"Packaging", "Quality Control", "Storage", "Delivery"}
)

// Plan implements Planner. Literals are only ever batch codes matched by
// batchCodePattern or names from the fixed lists above.
func (RulePlanner) Plan(question string) (string, bool) {
	lower := strings.ToLower(question)

	if code := batchCodePattern.FindString(question); code != "" {
		switch {
		case containsAny(lower, "who", "employee", "staff"):
			return fmt.Sprintf(`SELECT e.name AS employee, d.name AS department, t.status
%s
WHERE b.batch_code = '%s'
ORDER BY t.id`, trackingJoin, code), true
		case containsAny(lower, "product"):
			return fmt.Sprintf(`SELECT p.name AS product, p.code
FROM batches b
JOIN products p ON p.id = b.product_id
WHERE b.batch_code = '%s'`, code), true
		case containsAny(lower, "where", "status", "current", "now", "latest"):
			return fmt.Sprintf(`SELECT b.batch_code, d.name AS department, t.status
%s
WHERE b.batch_code = '%s'
ORDER BY t.id DESC
LIMIT 1`, trackingJoin, code), true
		default:
			return fmt.Sprintf(`SELECT d.name AS department, e.name AS employee, t.status
%s
WHERE b.batch_code = '%s'
ORDER BY t.id`, trackingJoin, code), true
		}
	}

	for _, status := range trackingStatuses {
		if strings.Contains(lower, strings.ToLower(status)) {
			return fmt.Sprintf(`SELECT DISTINCT b.batch_code
FROM batch_tracking t
JOIN batches b ON b.id = t.batch_id
WHERE t.status = '%s'
ORDER BY b.batch_code`, status), true
		}
	}

	if containsAny(lower, "employee", "staff", "who works") {
		for _, dept := range departmentNames {
			if strings.Contains(lower, strings.ToLower(dept)) {
				return fmt.Sprintf(`SELECT e.name AS employee
FROM employees e
JOIN departments d ON d.id = e.department_id
WHERE d.name = '%s'
ORDER BY e.id`, dept), true
			}
		}
		return `SELECT e.name AS employee, d.name AS department
FROM employees e
JOIN departments d ON d.id = e.department_id
ORDER BY e.id`, true
	}

	switch {
	case containsAny(lower, "product"):
		return `SELECT name, code FROM products ORDER BY id`, true
	case containsAny(lower, "batch"):
		return `SELECT b.batch_code, p.name AS product
FROM batches b
JOIN products p ON p.id = b.product_id
ORDER BY b.id`, true
	case containsAny(lower, "department"):
		return `SELECT name FROM departments ORDER BY id`, true
	}
	return "", false
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
