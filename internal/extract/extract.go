// Package extract pulls structure out of SQL and PL/SQL source with regex
// pattern matching: called procedures, referenced tables, field usage,
// parameters, variables, and control structures. No parsing, no AST — the
// patterns trade precision for robustness on messy legacy code.
package extract

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/dbgraph/procgraph-mcp/internal/graph"
)

// contextLimit caps the stored source snippet per field occurrence.
const contextLimit = 100

// maxParameterScan bounds how far into the source the signature scan looks.
const maxParameterScan = 500

// sqlKeywords are built-in functions filtered out of procedure-call and
// field-name candidates.
var sqlKeywords = map[string]bool{
	"TO_DATE": true, "TO_CHAR": true, "TO_NUMBER": true, "NVL": true,
	"NVL2": true, "COALESCE": true, "DECODE": true, "CASE": true,
	"CAST": true, "CONVERT": true, "COUNT": true, "SUM": true, "AVG": true,
	"MAX": true, "MIN": true, "SUBSTR": true, "SUBSTRING": true,
	"TRIM": true, "LTRIM": true, "RTRIM": true, "UPPER": true,
	"LOWER": true, "INITCAP": true, "LENGTH": true, "CONCAT": true,
	"REPLACE": true, "INSTR": true, "POSITION": true, "LPAD": true,
	"RPAD": true, "ROUND": true, "TRUNC": true, "FLOOR": true,
	"CEIL": true, "ABS": true, "MOD": true, "POWER": true, "SQRT": true,
	"SYSDATE": true, "CURRENT_DATE": true, "CURRENT_TIMESTAMP": true,
	"NOW": true, "GETDATE": true, "ADD_MONTHS": true,
	"MONTHS_BETWEEN": true, "NEXT_DAY": true, "LAST_DAY": true,
	"EXTRACT": true, "DATEPART": true, "DATEDIFF": true,
	"ROW_NUMBER": true, "RANK": true, "DENSE_RANK": true, "LAG": true,
	"LEAD": true, "FIRST_VALUE": true, "LAST_VALUE": true,
	"LISTAGG": true, "STRING_AGG": true, "GROUP_CONCAT": true,
}

const ident = `[a-z_][a-z0-9_]*`
const qualifiedIdent = ident + `(?:\.` + ident + `)?`

var (
	procedurePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:EXECUTE|EXEC|CALL)\s+(` + qualifiedIdent + `)`),
		regexp.MustCompile(`(?i)(` + qualifiedIdent + `)\s*\(`),
		regexp.MustCompile(`(?i)(` + ident + `\.` + ident + `)\s*\(`),
	}

	tablePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)FROM\s+(` + qualifiedIdent + `)`),
		regexp.MustCompile(`(?i)JOIN\s+(` + qualifiedIdent + `)`),
		regexp.MustCompile(`(?i)INTO\s+(` + qualifiedIdent + `)`),
		regexp.MustCompile(`(?i)UPDATE\s+(` + qualifiedIdent + `)`),
		regexp.MustCompile(`(?i)DELETE\s+FROM\s+(` + qualifiedIdent + `)`),
		regexp.MustCompile(`(?i)MERGE\s+INTO\s+(` + qualifiedIdent + `)`),
	}

	selectPattern = regexp.MustCompile(`(?is)SELECT\s+(.*?)\s+FROM`)
	insertPattern = regexp.MustCompile(`(?i)INSERT\s+INTO\s+\w+\s*\(([^)]*)\)`)
	updatePattern = regexp.MustCompile(`(?is)UPDATE\s+.*?SET\s+(.*?)(?:WHERE|$)`)

	transformFuncs = []string{"UPPER", "LOWER", "TRIM", "SUBSTR", "CONCAT", "REPLACE", "CAST"}
	transformRes   = func() map[string]*regexp.Regexp {
		res := make(map[string]*regexp.Regexp, len(transformFuncs))
		for _, fn := range transformFuncs {
			res[fn] = regexp.MustCompile(`(?i)` + fn + `\s*\(\s*(` + ident + `)`)
		}
		return res
	}()

	signaturePattern = regexp.MustCompile(`(?i)\(\s*([^)]+)\s*\)`)
	variablePattern  = regexp.MustCompile(`(?i)((?:v_|l_)\w+)\s+[\w()]+;`)
	innerFieldRe     = regexp.MustCompile(`\(([^)]+)\)`)
	identRe          = regexp.MustCompile(`^[A-Z_][A-Z0-9_]*$`)

	controlPatterns = []struct {
		re   *regexp.Regexp
		kind string
	}{
		{regexp.MustCompile(`(?i)\bIF\b`), "IF"},
		{regexp.MustCompile(`(?i)\bLOOP\b`), "LOOP"},
		{regexp.MustCompile(`(?i)\bFOR\b`), "FOR"},
		{regexp.MustCompile(`(?i)\bWHILE\b`), "WHILE"},
		{regexp.MustCompile(`(?i)\bCASE\b`), "CASE"},
		{regexp.MustCompile(`(?i)\bEXCEPTION\b`), "EXCEPTION"},
	}

	ifRe        = regexp.MustCompile(`(?i)\bIF\b`)
	loopRe      = regexp.MustCompile(`(?i)\bLOOP\b`)
	cursorRe    = regexp.MustCompile(`(?i)\bCURSOR\b`)
	exceptionRe = regexp.MustCompile(`(?i)\bEXCEPTION\b`)
)

// Result is everything the static pass extracts from one source body.
type Result struct {
	Procedures        []string
	Tables            []string
	Fields            map[string]*graph.FieldUse
	Parameters        []graph.Parameter
	Variables         []string
	ControlStructures []string
}

// Analyze runs the full static pass over one procedure body.
func Analyze(code string) *Result {
	return &Result{
		Procedures:        Procedures(code),
		Tables:            Tables(code),
		Fields:            FieldUsage(code),
		Parameters:        Parameters(code),
		Variables:         variables(code),
		ControlStructures: controlStructures(code),
	}
}

// Procedures extracts called procedure names. Unqualified names are kept
// unless they are SQL built-ins; package.procedure names are always kept.
func Procedures(code string) []string {
	set := map[string]bool{}
	for _, re := range procedurePatterns {
		for _, m := range re.FindAllStringSubmatch(code, -1) {
			name := strings.ToUpper(m[1])
			if strings.Contains(name, ".") || !sqlKeywords[name] {
				set[name] = true
			}
		}
	}
	return sortedKeys(set)
}

// Tables extracts table names from FROM/JOIN/INTO/UPDATE/DELETE/MERGE
// clauses.
func Tables(code string) []string {
	set := map[string]bool{}
	for _, re := range tablePatterns {
		for _, m := range re.FindAllStringSubmatch(code, -1) {
			set[strings.ToUpper(m[1])] = true
		}
	}
	return sortedKeys(set)
}

// FieldUsage aggregates read/write/transform operations per field across
// SELECT, INSERT, UPDATE statements and transformation function calls.
func FieldUsage(code string) map[string]*graph.FieldUse {
	fields := map[string]*graph.FieldUse{}
	use := func(name string) *graph.FieldUse {
		u, ok := fields[name]
		if !ok {
			u = &graph.FieldUse{}
			fields[name] = u
		}
		return u
	}

	for _, m := range selectPattern.FindAllStringSubmatch(code, -1) {
		context := truncate(m[0], contextLimit)
		for _, expr := range splitByComma(m[1]) {
			name := fieldName(expr)
			if name == "" || name == "*" {
				continue
			}
			u := use(name)
			u.Operations = append(u.Operations, "read")
			u.Contexts = append(u.Contexts, graph.UseContext{Type: "select", Context: context})
		}
	}

	for _, m := range insertPattern.FindAllStringSubmatch(code, -1) {
		context := truncate(m[0], contextLimit)
		for _, raw := range strings.Split(m[1], ",") {
			name := strings.ToUpper(strings.TrimSpace(raw))
			if name == "" {
				continue
			}
			u := use(name)
			u.Operations = append(u.Operations, "write")
			u.Contexts = append(u.Contexts, graph.UseContext{Type: "insert", Context: context})
		}
	}

	for _, m := range updatePattern.FindAllStringSubmatch(code, -1) {
		context := truncate(m[0], contextLimit)
		for _, assignment := range strings.Split(m[1], ",") {
			name, _, ok := strings.Cut(assignment, "=")
			if !ok {
				continue
			}
			name = strings.ToUpper(strings.TrimSpace(name))
			if i := strings.LastIndex(name, "."); i >= 0 {
				name = name[i+1:]
			}
			if name == "" {
				continue
			}
			u := use(name)
			u.Operations = append(u.Operations, "write")
			u.Contexts = append(u.Contexts, graph.UseContext{Type: "update", Context: context})
		}
	}

	for _, fn := range transformFuncs {
		for _, m := range transformRes[fn].FindAllStringSubmatch(code, -1) {
			name := strings.ToUpper(m[1])
			u := use(name)
			u.Transformations = append(u.Transformations, fmt.Sprintf("%s(%s)", fn, name))
			u.Operations = append(u.Operations, "transform")
		}
	}

	return fields
}

// Parameters extracts the signature parameter list from the first
// parenthesized group near the top of the source. Direction defaults to IN;
// position is 1-based.
func Parameters(code string) []graph.Parameter {
	if len(code) > maxParameterScan {
		code = code[:maxParameterScan]
	}
	m := signaturePattern.FindStringSubmatch(code)
	if m == nil {
		return nil
	}

	var params []graph.Parameter
	for idx, raw := range splitByComma(m[1]) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		parts := strings.Fields(raw)
		if len(parts) < 2 {
			continue
		}

		upper := strings.ToUpper(raw)
		direction := "IN"
		if strings.Contains(upper, "OUT") {
			direction = "OUT"
			if strings.Contains(upper, "IN") {
				direction = "IN_OUT"
			}
		}

		typ := strings.Join(parts[1:], " ")
		typ = strings.ReplaceAll(typ, "IN", "")
		typ = strings.ReplaceAll(typ, "OUT", "")
		typ = strings.TrimSpace(typ)

		params = append(params, graph.Parameter{
			Name:      parts[0],
			Type:      typ,
			Direction: direction,
			Position:  idx + 1,
		})
	}
	return params
}

func variables(code string) []string {
	set := map[string]bool{}
	for _, m := range variablePattern.FindAllStringSubmatch(code, -1) {
		set[strings.ToUpper(m[1])] = true
	}
	return sortedKeys(set)
}

func controlStructures(code string) []string {
	var structures []string
	for _, p := range controlPatterns {
		for range p.re.FindAllString(code, -1) {
			structures = append(structures, p.kind)
		}
	}
	return structures
}

// ComplexityScore is the heuristic complexity estimate: line count plus
// weighted control-structure counts, clamped to 1..10.
func ComplexityScore(code string) int {
	score := 1.0

	lines := strings.Count(code, "\n") + 1
	bonus := lines / 50
	if bonus > 3 {
		bonus = 3
	}
	score += float64(bonus)

	score += float64(len(ifRe.FindAllString(code, -1))) * 0.5
	score += float64(len(loopRe.FindAllString(code, -1))) * 0.7
	score += float64(len(cursorRe.FindAllString(code, -1))) * 0.8
	score += float64(len(exceptionRe.FindAllString(code, -1))) * 0.3

	if score > 10 {
		return 10
	}
	return int(score)
}

// fieldName reduces a select-list expression to a bare column name: strips
// AS aliases, table prefixes, and function wrappers. Returns "" for
// literals, keywords, and anything that is not a plain identifier.
func fieldName(expr string) string {
	upper := strings.ToUpper(expr)
	if i := strings.Index(upper, " AS "); i >= 0 {
		expr = expr[:i]
	} else if strings.Contains(expr, " ") && !containsKeyword(upper) {
		expr = strings.Fields(expr)[0]
	}

	if i := strings.LastIndex(expr, "."); i >= 0 {
		expr = expr[i+1:]
	}

	if strings.Contains(expr, "(") {
		if inner := innerFieldRe.FindStringSubmatch(expr); inner != nil {
			expr = inner[1]
			if i := strings.LastIndex(expr, "."); i >= 0 {
				expr = expr[i+1:]
			}
		}
	}

	name := strings.ToUpper(strings.TrimSpace(expr))
	if name == "" || sqlKeywords[name] || !identRe.MatchString(name) {
		return ""
	}
	return name
}

func containsKeyword(upper string) bool {
	for kw := range sqlKeywords {
		if strings.Contains(upper, kw) {
			return true
		}
	}
	return false
}

// splitByComma splits on top-level commas, leaving parenthesized groups
// intact.
func splitByComma(text string) []string {
	var parts []string
	var current strings.Builder
	depth := 0

	for _, ch := range text {
		switch {
		case ch == '(':
			depth++
			current.WriteRune(ch)
		case ch == ')':
			depth--
			current.WriteRune(ch)
		case ch == ',' && depth == 0:
			parts = append(parts, strings.TrimSpace(current.String()))
			current.Reset()
		default:
			current.WriteRune(ch)
		}
	}
	if current.Len() > 0 {
		parts = append(parts, strings.TrimSpace(current.String()))
	}
	return parts
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
