// Package analyzer inspects query execution plans through EXPLAIN.
// Plans are fetched in JSON form over the engine and condensed into a
// QueryPlan carrying the figures callers act on: cost, row estimates,
// index usage and buffer traffic. Suggest turns a plan into concrete
// follow-ups such as missing-index DDL.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/coregx/tabula/internal/driver"
	"github.com/coregx/tabula/internal/engine"
	"github.com/coregx/tabula/internal/errs"
)

// DefaultSlowThreshold is the execution time above which Suggest flags
// a query as slow.
const DefaultSlowThreshold = 100 * time.Millisecond

// minBufferSample is the smallest buffer count worth judging a cache
// hit ratio on; below it the ratio is noise.
const minBufferSample = 100

// QueryPlan is the condensed form of one EXPLAIN output.
type QueryPlan struct {
	// Cost is the planner's total cost estimate for the root node.
	Cost float64
	// EstimatedRows is the planner's row estimate for the root node.
	EstimatedRows int64
	// ActualRows is the measured root row count; zero unless the plan
	// came from ExplainAnalyze.
	ActualRows int64
	// PlanningTime is the time the planner spent.
	PlanningTime time.Duration
	// ExecutionTime is the measured run time; zero unless the plan came
	// from ExplainAnalyze.
	ExecutionTime time.Duration
	// UsesIndex reports whether any node scans an index.
	UsesIndex bool
	// IndexName is the first index the plan touches, when any.
	IndexName string
	// FullScan reports whether any node reads a table sequentially.
	FullScan bool
	// SeqScans lists every sequential scan in the plan tree.
	SeqScans []SeqScan
	// BuffersHit and BuffersMiss count shared buffer hits and reads
	// across all nodes; populated by ExplainAnalyze only.
	BuffersHit  int64
	BuffersMiss int64
	// Raw is the unparsed EXPLAIN output.
	Raw string
}

// SeqScan describes one sequential scan node.
type SeqScan struct {
	// Table is the scanned relation.
	Table string
	// Filter is the condition applied during the scan, empty for a
	// plain full read.
	Filter string
	// Rows is the planner's row estimate for the scan.
	Rows int64
}

// Analyzer fetches and interprets execution plans. Plans always run on
// the sync pool; analysis is an interactive activity.
type Analyzer struct {
	engine *engine.Engine
	slow   time.Duration
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithSlowThreshold overrides the execution time above which Suggest
// flags a query as slow.
func WithSlowThreshold(d time.Duration) Option {
	return func(a *Analyzer) {
		if d > 0 {
			a.slow = d
		}
	}
}

// New creates an Analyzer executing over e.
func New(e *engine.Engine, opts ...Option) *Analyzer {
	a := &Analyzer{engine: e, slow: DefaultSlowThreshold}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Explain fetches the plan for sqlText without executing it.
func (a *Analyzer) Explain(ctx context.Context, sqlText string, params ...any) (*QueryPlan, error) {
	return a.explain(ctx, "EXPLAIN (FORMAT JSON) "+sqlText, params, false)
}

// ExplainAnalyze executes sqlText and fetches the plan together with
// measured row counts, timings and buffer traffic. The statement runs
// for real, side effects included.
func (a *Analyzer) ExplainAnalyze(ctx context.Context, sqlText string, params ...any) (*QueryPlan, error) {
	return a.explain(ctx, "EXPLAIN (ANALYZE, FORMAT JSON, BUFFERS) "+sqlText, params, true)
}

func (a *Analyzer) explain(ctx context.Context, explainSQL string, params []any, analyzed bool) (*QueryPlan, error) {
	res, err := a.engine.Execute(ctx, driver.ModeSync, explainSQL, params)
	if err != nil {
		return nil, err
	}
	if len(res.Rows) == 0 {
		return nil, errs.New(errs.ErrQuery, "empty explain output")
	}

	// JSON format arrives as a single row with one text column.
	col := "QUERY PLAN"
	if len(res.Columns) > 0 {
		col = res.Columns[0]
	}
	raw := res.Rows[0].String(col)

	plan, err := parsePlan(raw, analyzed)
	if err != nil {
		return nil, err
	}
	plan.Raw = raw
	return plan, nil
}

// planRoot mirrors the top level of EXPLAIN (FORMAT JSON) output.
type planRoot struct {
	Plan          planNode `json:"Plan"`
	PlanningTime  float64  `json:"Planning Time"`
	ExecutionTime float64  `json:"Execution Time"`
}

// planNode mirrors one node of the plan tree. Actual figures are
// present only under ANALYZE.
type planNode struct {
	NodeType         string     `json:"Node Type"`
	RelationName     string     `json:"Relation Name"`
	IndexName        string     `json:"Index Name"`
	Filter           string     `json:"Filter"`
	TotalCost        float64    `json:"Total Cost"`
	PlanRows         int64      `json:"Plan Rows"`
	ActualRows       int64      `json:"Actual Rows"`
	ActualLoops      int64      `json:"Actual Loops"`
	SharedHitBlocks  int64      `json:"Shared Hit Blocks"`
	SharedReadBlocks int64      `json:"Shared Read Blocks"`
	Plans            []planNode `json:"Plans"`
}

func parsePlan(raw string, analyzed bool) (*QueryPlan, error) {
	// The output is an array with a single element.
	var roots []planRoot
	if err := json.Unmarshal([]byte(raw), &roots); err != nil {
		return nil, errs.Wrap(errs.ErrQuery, err, "parse explain output")
	}
	if len(roots) == 0 {
		return nil, errs.New(errs.ErrQuery, "empty explain output")
	}

	root := roots[0]
	plan := &QueryPlan{
		Cost:          root.Plan.TotalCost,
		EstimatedRows: root.Plan.PlanRows,
		PlanningTime:  time.Duration(root.PlanningTime * float64(time.Millisecond)),
	}
	if analyzed {
		loops := root.Plan.ActualLoops
		if loops < 1 {
			loops = 1
		}
		plan.ActualRows = root.Plan.ActualRows * loops
		plan.ExecutionTime = time.Duration(root.ExecutionTime * float64(time.Millisecond))
	}

	walkPlan(&root.Plan, plan, analyzed)
	return plan, nil
}

// walkPlan gathers scan and buffer figures across the whole tree.
func walkPlan(node *planNode, plan *QueryPlan, analyzed bool) {
	switch {
	case node.NodeType == "Seq Scan":
		plan.FullScan = true
		plan.SeqScans = append(plan.SeqScans, SeqScan{
			Table:  node.RelationName,
			Filter: node.Filter,
			Rows:   node.PlanRows,
		})
	case strings.Contains(node.NodeType, "Index Scan"),
		strings.Contains(node.NodeType, "Index Only Scan"),
		strings.Contains(node.NodeType, "Bitmap Index Scan"):
		plan.UsesIndex = true
		if plan.IndexName == "" {
			plan.IndexName = node.IndexName
		}
	}

	if analyzed {
		plan.BuffersHit += node.SharedHitBlocks
		plan.BuffersMiss += node.SharedReadBlocks
	}

	for i := range node.Plans {
		walkPlan(&node.Plans[i], plan, analyzed)
	}
}

// SuggestionType categorizes follow-ups derived from a plan.
type SuggestionType string

const (
	// SuggestionSlowQuery flags execution time over the threshold.
	SuggestionSlowQuery SuggestionType = "slow_query"
	// SuggestionFullScan flags an unfiltered sequential read.
	SuggestionFullScan SuggestionType = "full_scan"
	// SuggestionIndexMissing flags a filtered sequential scan an index
	// would avoid.
	SuggestionIndexMissing SuggestionType = "index_missing"
	// SuggestionCacheHit flags a low shared buffer hit ratio.
	SuggestionCacheHit SuggestionType = "cache_hit"
	// SuggestionStaleStats flags planner estimates far off the
	// measured row counts.
	SuggestionStaleStats SuggestionType = "stale_statistics"
)

// Severity ranks how urgent a suggestion is.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Suggestion is one actionable follow-up for a plan.
type Suggestion struct {
	Type     SuggestionType
	Severity Severity
	Message  string
	// SQL is a ready-to-run fix, empty when none applies.
	SQL string
}

// String formats the suggestion for display.
func (s Suggestion) String() string {
	if s.SQL != "" {
		return fmt.Sprintf("%s: %s\n  fix: %s", s.Severity, s.Message, s.SQL)
	}
	return fmt.Sprintf("%s: %s", s.Severity, s.Message)
}

// Suggest derives follow-ups from plan. Timing, buffer and estimate
// checks only fire for plans fetched with ExplainAnalyze; plain
// Explain plans still yield scan and index advice.
func (a *Analyzer) Suggest(plan *QueryPlan) []Suggestion {
	suggestions := make([]Suggestion, 0, 3)

	if plan.ExecutionTime > a.slow {
		suggestions = append(suggestions, Suggestion{
			Type:     SuggestionSlowQuery,
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("query took %v, threshold is %v", plan.ExecutionTime, a.slow),
		})
	}

	for _, scan := range plan.SeqScans {
		cols := filterColumns(scan.Filter)
		if len(cols) == 0 {
			suggestions = append(suggestions, Suggestion{
				Type:     SuggestionFullScan,
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("sequential scan over %q", scan.Table),
			})
			continue
		}
		suggestions = append(suggestions, Suggestion{
			Type:     SuggestionIndexMissing,
			Severity: SeverityWarning,
			Message: fmt.Sprintf("sequential scan over %q filtered on %s",
				scan.Table, strings.Join(cols, ", ")),
			SQL: createIndexSQL(scan.Table, cols),
		})
	}

	if total := plan.BuffersHit + plan.BuffersMiss; total >= minBufferSample {
		if ratio := float64(plan.BuffersHit) / float64(total); ratio < 0.9 {
			suggestions = append(suggestions, Suggestion{
				Type:     SuggestionCacheHit,
				Severity: SeverityInfo,
				Message:  fmt.Sprintf("shared buffer hit ratio %.0f%%, most blocks come from disk", ratio*100),
			})
		}
	}

	if skewed(plan.EstimatedRows, plan.ActualRows) {
		fix := "ANALYZE;"
		if len(plan.SeqScans) == 1 {
			fix = fmt.Sprintf("ANALYZE %s;", plan.SeqScans[0].Table)
		}
		suggestions = append(suggestions, Suggestion{
			Type:     SuggestionStaleStats,
			Severity: SeverityInfo,
			Message: fmt.Sprintf("planner estimated %d rows, query produced %d",
				plan.EstimatedRows, plan.ActualRows),
			SQL: fix,
		})
	}

	return suggestions
}

// skewed reports whether the estimate misses the measured count by a
// factor of ten or more in either direction.
func skewed(estimated, actual int64) bool {
	if estimated <= 0 || actual <= 0 {
		return false
	}
	return estimated >= actual*10 || actual >= estimated*10
}

var (
	literalRe = regexp.MustCompile(`'(?:[^']|'')*'`)
	castRe    = regexp.MustCompile(`::[a-z_ ]+(?:\[\])?`)
	identRe   = regexp.MustCompile(`[a-zA-Z_][a-zA-Z0-9_.]*`)
)

// filterKeywords are words that appear in filter conditions without
// naming a column.
var filterKeywords = map[string]bool{
	"and": true, "or": true, "not": true, "is": true, "null": true,
	"true": true, "false": true, "like": true, "ilike": true,
	"any": true, "all": true, "in": true, "between": true,
	"case": true, "when": true, "then": true, "else": true, "end": true,
}

// filterColumns extracts the column names a scan filter references.
// Literals, casts, keywords and function names are dropped; order of
// first appearance is kept.
func filterColumns(filter string) []string {
	if filter == "" {
		return nil
	}
	s := literalRe.ReplaceAllString(filter, "")
	s = castRe.ReplaceAllString(s, "")

	seen := make(map[string]bool)
	var cols []string
	for _, loc := range identRe.FindAllStringIndex(s, -1) {
		ident := s[loc[0]:loc[1]]
		if strings.HasPrefix(strings.TrimLeft(s[loc[1]:], " "), "(") {
			continue // function call
		}
		if i := strings.LastIndexByte(ident, '.'); i >= 0 {
			ident = ident[i+1:]
		}
		ident = strings.ToLower(ident)
		if ident == "" || filterKeywords[ident] || seen[ident] {
			continue
		}
		seen[ident] = true
		cols = append(cols, ident)
	}
	return cols
}

func createIndexSQL(table string, cols []string) string {
	name := fmt.Sprintf("idx_%s_%s", table, strings.Join(cols, "_"))
	return fmt.Sprintf("CREATE INDEX %s ON %s (%s);", name, table, strings.Join(cols, ", "))
}
