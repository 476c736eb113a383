package query

import (
	"fmt"
	"strings"
	"time"

	"github.com/xlab/treeprint"

	"github.com/kronosdb/kronosdb/cql"
	"github.com/kronosdb/kronosdb/models"
)

// executeExplain renders the execution plan of a select statement as a
// tree, one line per row.
func (e *Executor) executeExplain(s *cql.ExplainStatement, opt ExecutionOptions) ([]*models.Row, error) {
	stmt := s.Statement
	min, max := timeRangeOf(stmt.Condition, opt)

	tree := treeprint.New()
	tree.SetValue("select")

	src := tree.AddBranch("source")
	switch t := stmt.Source.(type) {
	case *cql.Series:
		src.AddNode(fmt.Sprintf("series %s", t.Name))
	case *cql.Merge:
		b := src.AddBranch("merge")
		b.AddNode(fmt.Sprintf("series %s", t.LHS.Name))
		b.AddNode(fmt.Sprintf("series %s", t.RHS.Name))
	case *cql.InnerJoin:
		b := src.AddBranch("inner join")
		b.AddNode(fmt.Sprintf("series %s", t.LHS.Name))
		b.AddNode(fmt.Sprintf("series %s", t.RHS.Name))
	}

	tree.AddNode(fmt.Sprintf("time range [%s, %s]",
		time.Unix(0, min).UTC().Format(time.RFC3339Nano),
		time.Unix(0, max).UTC().Format(time.RFC3339Nano)))

	if stmt.Condition != nil && hasValueCondition(stmt.Condition) {
		tree.AddNode(fmt.Sprintf("filter %s", stmt.Condition.String()))
	}
	if stmt.HasAggregates() {
		agg := tree.AddBranch("aggregate")
		for _, f := range stmt.Fields {
			agg.AddNode(f.String())
		}
		if g := stmt.GroupBy; g != nil {
			tree.AddNode(fmt.Sprintf("group by %s", g.String()))
		}
	} else {
		proj := tree.AddBranch("project")
		for _, f := range stmt.Fields {
			proj.AddNode(f.String())
		}
	}

	order := "desc"
	if stmt.Order == cql.Ascending {
		order = "asc"
	}
	tree.AddNode(fmt.Sprintf("order %s limit %d", order, stmt.Limit))

	row := &models.Row{Name: "explain", Columns: []string{"plan"}}
	for _, line := range strings.Split(strings.TrimRight(tree.String(), "\n"), "\n") {
		row.Values = append(row.Values, []interface{}{line})
	}
	return []*models.Row{row}, nil
}
