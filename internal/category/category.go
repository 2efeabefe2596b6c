package category

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidCategory = errors.New("invalid category")

// Category is the closed classification tag of a notification.
type Category string

const (
	Emergency   Category = "emergency"
	Security    Category = "security"
	Critical    Category = "critical"
	Error       Category = "error"
	Failure     Category = "failure"
	Warning     Category = "warning"
	Maintenance Category = "maintenance"
	Resource    Category = "resource"
	Inventory   Category = "inventory"
	Staff       Category = "staff"
	Schedule    Category = "schedule"
	Budget      Category = "budget"
	Recipe      Category = "recipe"
	Completion  Category = "completion"
	Sync        Category = "sync"
	Update      Category = "update"
	Success     Category = "success"
	Info        Category = "info"
	System      Category = "system"
)

// Wildcard matches every category in rule definitions. It is never a valid
// notification category.
const Wildcard Category = "*"

// All lists every category in default-priority order (most urgent first).
var All = []Category{
	Emergency, Security, Critical, Error, Failure, Warning, Maintenance,
	Resource, Inventory, Staff, Schedule, Budget, Recipe, Completion,
	Sync, Update, Success, Info, System,
}

func (c Category) String() string { return string(c) }

// Valid reports whether c is one of the closed set.
func (c Category) Valid() bool {
	for _, k := range All {
		if k == c {
			return true
		}
	}
	return false
}

// Exempt reports whether c bypasses quiet hours and rate limiting.
// Exempt categories also escalate when left unacknowledged and are never suppressed.
func (c Category) Exempt() bool {
	switch c {
	case Emergency, Security, Critical:
		return true
	default:
		return false
	}
}

// Parse resolves a category name case-insensitively.
func Parse(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidCategory, s)
	}
	return c, nil
}

// ParseRuleTarget is like Parse but also accepts the wildcard (and an empty string as wildcard).
func ParseRuleTarget(s string) (Category, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == string(Wildcard) {
		return Wildcard, nil
	}
	return Parse(s)
}
