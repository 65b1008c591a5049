// Package toon implements TOON (Token-Oriented Object Notation) encoding of
// reconciliation and attribution results.
package toon

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/phobologic/mendpatch/internal/defmap"
	"github.com/phobologic/mendpatch/internal/model"
	"github.com/phobologic/mendpatch/internal/pipeline"
	"github.com/phobologic/mendpatch/internal/ranking"
)

var (
	needsQuoting = regexp.MustCompile(`[,:"\\{}\[\]]`)
	looksNumeric = regexp.MustCompile(`^-?(?:0|[1-9]\d*)(?:\.\d+)?$`)
	keywords     = map[string]struct{}{
		"true":  {},
		"false": {},
		"null":  {},
	}
)

// Field is a top-level scalar.
type Field struct {
	Key   string
	Value string
}

// Section is a named table with uniform rows.
type Section struct {
	Name    string
	Columns []string
	Rows    [][]string
}

// Document is an ordered set of fields followed by tables. It renders as
// TOON through String and as JSON through MarshalJSON.
type Document struct {
	Fields   []Field
	Sections []Section
}

func (d *Document) String() string {
	var parts []string
	for _, f := range d.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Key, encodeValue(f.Value)))
	}
	for _, s := range d.Sections {
		parts = append(parts, formatTabular(s.Name, s.Columns, s.Rows))
	}
	return strings.Join(parts, "\n")
}

// MarshalJSON renders fields as string members and every section as an array
// of objects keyed by column.
func (d *Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Fields)+len(d.Sections))
	for _, f := range d.Fields {
		out[f.Key] = f.Value
	}
	for _, s := range d.Sections {
		rows := make([]map[string]string, 0, len(s.Rows))
		for _, r := range s.Rows {
			obj := make(map[string]string, len(s.Columns))
			for i, c := range s.Columns {
				if i < len(r) {
					obj[c] = r[i]
				}
			}
			rows = append(rows, obj)
		}
		out[s.Name] = rows
	}
	return json.Marshal(out)
}

// Reconcile describes the outcome of a reconcile run.
func Reconcile(results []pipeline.FileResult) *Document {
	files := Section{Name: "files", Columns: []string{"path", "restored", "unmapped", "newly_async", "error"}}
	restored := Section{Name: "restored", Columns: []string{"path", "hunk", "lines"}}
	unmapped := Section{Name: "unmapped", Columns: []string{"path", "name", "line"}}
	async := Section{Name: "newly_async", Columns: []string{"path", "name", "line"}}

	for i := range results {
		r := &results[i]
		var errText string
		if r.Err != nil {
			errText = r.Err.Error()
		}
		files.Rows = append(files.Rows, []string{
			r.Path,
			strconv.Itoa(len(r.Restored)),
			strconv.Itoa(len(r.Unmapped)),
			strconv.Itoa(len(r.NewlyAsync)),
			errText,
		})
		for _, h := range r.Restored {
			restored.Rows = append(restored.Rows, []string{r.Path, h.Header(), strconv.Itoa(h.SourceLen)})
		}
		for _, m := range r.Unmapped {
			unmapped.Rows = append(unmapped.Rows, []string{r.Path, m.Name, strconv.Itoa(m.Before.Line)})
		}
		for _, m := range r.NewlyAsync {
			async.Rows = append(async.Rows, []string{r.Path, m.Name, strconv.Itoa(m.After.Line)})
		}
	}
	return &Document{Sections: []Section{files, restored, unmapped, async}}
}

// Mappings describes the definition alignment of one file. Unmapped
// definitions have an empty after column.
func Mappings(path string, mappings []defmap.Mapping) *Document {
	s := Section{Name: "mappings", Columns: []string{"name", "before", "after", "async", "duplicates"}}
	for _, m := range mappings {
		var before, after, async string
		if m.Before != nil {
			before = strconv.Itoa(m.Before.Line)
		}
		if m.After != nil {
			after = strconv.Itoa(m.After.Line)
			if m.Before != nil && defmap.BecameAsync(*m.Before, *m.After) {
				async = "became"
			}
		}
		s.Rows = append(s.Rows, []string{m.Name, before, after, async, strconv.Itoa(len(m.Candidates))})
	}
	return &Document{
		Fields:   []Field{{Key: "file", Value: path}},
		Sections: []Section{s},
	}
}

// Attribution describes regressed tests and the client files they reach.
func Attribution(regressions model.TestReportDiff, files []ranking.RankedFile) *Document {
	tests := Section{Name: "regressions", Columns: []string{"test", "before", "after"}}
	for _, e := range regressions {
		tests.Rows = append(tests.Rows, []string{
			e.Before.Key(),
			string(e.Before.Status),
			string(e.After.Status),
		})
	}

	ranked := Section{Name: "files", Columns: []string{"path", "tests", "rank", "kind"}}
	for i := range files {
		f := &files[i]
		kind := "client"
		if f.Test {
			kind = "test"
		}
		ranked.Rows = append(ranked.Rows, []string{
			f.Path,
			strconv.Itoa(f.Tests),
			fmt.Sprintf("%.4f", f.Rank),
			kind,
		})
	}
	return &Document{Sections: []Section{tests, ranked}}
}

func formatTabular(name string, columns []string, rows [][]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%d]{%s}:", name, len(rows), strings.Join(columns, ","))
	for _, row := range rows {
		encoded := make([]string, len(row))
		for i, cell := range row {
			encoded[i] = encodeValue(cell)
		}
		fmt.Fprintf(&b, "\n  %s", strings.Join(encoded, ","))
	}
	return b.String()
}

func encodeValue(value string) string {
	if value == "" {
		return `""`
	}

	if value != strings.TrimSpace(value) {
		return quote(value)
	}

	if strings.ContainsAny(value, "\n\r\t") {
		return quote(value)
	}

	if _, ok := keywords[strings.ToLower(value)]; ok {
		return quote(value)
	}

	if looksNumeric.MatchString(value) {
		return value
	}

	if needsQuoting.MatchString(value) {
		return quote(value)
	}

	if strings.HasPrefix(value, "-") {
		return quote(value)
	}

	return value
}

func quote(value string) string {
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	escaped = strings.ReplaceAll(escaped, "\n", `\n`)
	escaped = strings.ReplaceAll(escaped, "\r", `\r`)
	escaped = strings.ReplaceAll(escaped, "\t", `\t`)
	return `"` + escaped + `"`
}
