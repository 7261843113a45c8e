// Package snapshot implements the Snapshot → Refs → Action contract from
// spec §4.8: accessibility-tree line parsing, ref annotation, ref
// resolution back to a locator, and response windowing/pagination. The
// line-regex parser is brittle by design — spec §9 calls this out
// explicitly — and must be reproduced exactly, skip rules included.
package snapshot

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/redf0x1/camofox-browser/internal/apperr"
	"github.com/redf0x1/camofox-browser/internal/engine"
	"github.com/redf0x1/camofox-browser/pkg/models"
)

// MaxRefs is the hard cap on accepted nodes per snapshot pass.
const MaxRefs = 500

// interactiveRoles is the fixed set of roles eligible for a ref.
var interactiveRoles = map[string]bool{
	"button": true, "link": true, "textbox": true, "checkbox": true,
	"radio": true, "menuitem": true, "tab": true, "searchbox": true,
	"slider": true, "spinbutton": true, "switch": true,
}

var excludedNamePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)date`),
	regexp.MustCompile(`(?i)calendar`),
	regexp.MustCompile(`(?i)picker`),
	regexp.MustCompile(`(?i)datepicker`),
}

// lineRe matches "  - role" or "  - role \"name\"", with any leading
// whitespace (indentation) preserved in group 0 but not captured.
var lineRe = regexp.MustCompile(`^\s*-\s+([A-Za-z]+)(?:\s+"([^"]*)")?`)

// RefTable maps refId -> RefInfo for one page's current accessibility tree.
// It is invalidated wholesale on navigation (spec §4.9).
type RefTable struct {
	refs map[string]models.RefInfo
}

// NewRefTable returns an empty table.
func NewRefTable() *RefTable {
	return &RefTable{refs: make(map[string]models.RefInfo)}
}

// Clear empties the table in place, used on navigation per spec §4.9.
func (t *RefTable) Clear() {
	t.refs = make(map[string]models.RefInfo)
}

// Len reports how many refs are currently resolvable.
func (t *RefTable) Len() int { return len(t.refs) }

func (t *RefTable) lookup(ref string) (models.RefInfo, bool) {
	info, ok := t.refs[ref]
	return info, ok
}

// eligible applies the skip rules from spec §4.8 to one candidate line.
func eligible(role, name string) bool {
	roleLower := strings.ToLower(role)
	if roleLower == "combobox" {
		return false
	}
	if !interactiveRoles[roleLower] {
		return false
	}
	for _, re := range excludedNamePatterns {
		if re.MatchString(name) {
			return false
		}
	}
	return true
}

// BuildResult is the output of one extraction+annotation pass.
type BuildResult struct {
	Table     *RefTable
	Annotated string
	RefCount  int
}

// Build walks the raw accessibility-tree text line by line, assigns refIds
// to eligible interactive nodes (spec §4.8 "Ref extraction"), and produces
// an annotated copy with "[eN]" markers inserted after each eligible line's
// name token (spec §4.8 "Annotation") — both derived from one traversal so
// the refId assignment and the nth counters are guaranteed consistent.
func Build(ariaText string) BuildResult {
	table := NewRefTable()
	nthCounts := make(map[string]int)
	counter := 0

	lines := strings.Split(ariaText, "\n")
	annotated := make([]string, len(lines))

	for i, line := range lines {
		annotated[i] = line

		if counter >= MaxRefs {
			continue
		}

		m := lineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		role := m[1]
		name := m[2]
		roleLower := strings.ToLower(role)

		if !eligible(role, name) {
			continue
		}

		key := roleLower + "\x00" + name
		nth := nthCounts[key]
		nthCounts[key] = nth + 1

		counter++
		refID := fmt.Sprintf("e%d", counter)
		table.refs[refID] = models.RefInfo{Role: roleLower, Name: name, Nth: nth}

		annotated[i] = insertMarker(line, m, refID)
	}

	return BuildResult{Table: table, Annotated: strings.Join(annotated, "\n"), RefCount: counter}
}

// insertMarker places "[eN]" right after the matched name token (or after
// the role token when there is no quoted name), matching the annotation
// pass's "insert after the name token" rule.
func insertMarker(line string, m []string, refID string) string {
	full := m[0]
	insertAt := strings.Index(line, full) + len(full)
	marker := fmt.Sprintf(" [%s]", refID)
	return line[:insertAt] + marker + line[insertAt:]
}

// ResolveRef implements refToLocator(ref) from spec §4.8: look up
// (role, name, nth) and build getByRole(role, {name}).nth(nth). Unknown
// refs fail with a validation error naming the valid range and telling the
// caller to take a fresh snapshot, since refs do not survive navigation.
func ResolveRef(page engine.Page, table *RefTable, ref string) (engine.Locator, error) {
	info, ok := table.lookup(ref)
	if !ok {
		return nil, apperr.Validation(
			"unknown ref %q (valid refs: e1-e%d); refs do not survive navigation, take a fresh snapshot",
			ref, len(table.refs))
	}
	return page.GetByRole(info.Role, info.Name).Nth(info.Nth), nil
}
