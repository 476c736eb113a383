package models

// Row represents one series of query results.
type Row struct {
	Name    string          `json:"series"`
	Columns []string        `json:"columns"`
	Values  [][]interface{} `json:"datapoints"`
	Partial bool            `json:"partial,omitempty"`
}

// SameSeries reports whether r and o describe the same result series.
func (r *Row) SameSeries(o *Row) bool {
	return r.Name == o.Name
}

// Rows is a collection of result rows, sortable by series name.
type Rows []*Row

func (rs Rows) Len() int           { return len(rs) }
func (rs Rows) Less(i, j int) bool { return rs[i].Name < rs[j].Name }
func (rs Rows) Swap(i, j int)      { rs[i], rs[j] = rs[j], rs[i] }

// Statistic holds a named bag of counters for the /status endpoint.
type Statistic struct {
	Name   string                 `json:"name"`
	Tags   map[string]string      `json:"tags,omitempty"`
	Values map[string]interface{} `json:"values"`
}
