package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/arthur-debert/diagstore/diagstore/document"
	"github.com/arthur-debert/diagstore/diagstore/entity"
	"github.com/arthur-debert/diagstore/diagstore/history"
	"github.com/tidwall/pretty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// tabular is implemented by every value the CLI prints. JSON and YAML output
// encode the value itself; table output uses header and rows.
type tabular interface {
	header() []string
	rows() [][]string
}

// OutputFormatter renders command results in the configured format
type OutputFormatter struct {
	format string
	w      io.Writer
}

// NewOutputFormatter creates a new output formatter
func NewOutputFormatter(format string, w io.Writer) *OutputFormatter {
	return &OutputFormatter{format: format, w: w}
}

// Write formats data according to the configured format
func (of *OutputFormatter) Write(data tabular) error {
	switch of.format {
	case "json":
		return of.writeJSON(data)
	case "yaml":
		return of.writeYAML(data)
	default:
		return of.writeTable(data)
	}
}

func (of *OutputFormatter) writeJSON(data tabular) error {
	out, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	_, err = of.w.Write(pretty.Pretty(out))
	return err
}

func (of *OutputFormatter) writeYAML(data tabular) error {
	out, err := yaml.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	_, err = of.w.Write(out)
	return err
}

func (of *OutputFormatter) writeTable(data tabular) error {
	tw := tabwriter.NewWriter(of.w, 0, 4, 2, ' ', 0)
	if h := data.header(); len(h) > 0 {
		upper := cases.Upper(language.English)
		for i := range h {
			h[i] = upper.String(h[i])
		}
		fmt.Fprintln(tw, strings.Join(h, "\t"))
	}
	for _, row := range data.rows() {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

func (cli *CLI) output(w io.Writer, data tabular) error {
	return NewOutputFormatter(cli.viperInst.GetString("format"), w).Write(data)
}

// kindTitle renders a kind for people: "node" becomes "Node"
func kindTitle(kind fmt.Stringer) string {
	return cases.Title(language.English).String(kind.String())
}

// compact renders raw JSON on one line
func compact(raw json.RawMessage) string {
	return string(pretty.Ugly(raw))
}

type entityView struct {
	ID    int    `json:"id" yaml:"id"`
	Kind  string `json:"kind" yaml:"kind"`
	State any    `json:"state" yaml:"state"`

	raw json.RawMessage
}

func viewOf(e entity.Entity) entityView {
	raw := e.Save()
	var state any
	_ = json.Unmarshal(raw, &state)
	return entityView{ID: e.ID().N, Kind: e.Kind().String(), State: state, raw: raw}
}

func (v entityView) header() []string { return []string{"property", "value"} }

func (v entityView) rows() [][]string {
	rows := [][]string{
		{"id", strconv.Itoa(v.ID)},
		{"kind", v.Kind},
	}
	m, _ := v.State.(map[string]any)
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		value, _ := entity.PropertyOf(v.raw, name)
		rows = append(rows, []string{name, compact(value)})
	}
	return rows
}

type entityList []entityView

func listOf(doc *document.Document) entityList {
	list := make(entityList, 0, doc.Len())
	for _, id := range doc.IDs() {
		e, _ := doc.Entity(id)
		list = append(list, viewOf(e))
	}
	return list
}

func (l entityList) header() []string { return []string{"id", "kind", "state"} }

func (l entityList) rows() [][]string {
	rows := make([][]string, len(l))
	for i, v := range l {
		rows[i] = []string{strconv.Itoa(v.ID), v.Kind, compact(v.raw)}
	}
	return rows
}

// result reports the outcome of a command that changed the document
type result struct {
	Message string      `json:"message" yaml:"message"`
	DryRun  bool        `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`
	Entity  *entityView `json:"entity,omitempty" yaml:"entity,omitempty"`
	Undo    int         `json:"undo_depth" yaml:"undo_depth"`
	Redo    int         `json:"redo_depth" yaml:"redo_depth"`
}

func (cli *CLI) resultOf(doc *document.Document, message string, e entity.Entity) result {
	r := result{
		Message: message,
		DryRun:  cli.viperInst.GetBool("dry-run"),
		Undo:    doc.History().UndoCount(),
		Redo:    doc.History().RedoCount(),
	}
	if e != nil {
		v := viewOf(e)
		r.Entity = &v
	}
	return r
}

func (r result) header() []string { return nil }

func (r result) rows() [][]string {
	msg := r.Message
	if r.DryRun {
		msg += " (dry run, nothing written)"
	}
	rows := [][]string{{msg}}
	if r.Entity != nil {
		rows = append(rows, []string{"  " + r.Entity.Kind + " " + strconv.Itoa(r.Entity.ID) + "\t" + compact(r.Entity.raw)})
	}
	return rows
}

type historyView struct {
	Stack       string    `json:"stack" yaml:"stack"`
	Step        int       `json:"step" yaml:"step"`
	Description string    `json:"description" yaml:"description"`
	CommittedAt time.Time `json:"committed_at,omitzero" yaml:"committed_at,omitempty"`
	UndoItems   int       `json:"undo_items" yaml:"undo_items"`
	RedoItems   int       `json:"redo_items" yaml:"redo_items"`
}

type historyList struct {
	Undo  []historyView `json:"undo" yaml:"undo"`
	Redo  []historyView `json:"redo" yaml:"redo"`
	Clean bool          `json:"clean" yaml:"clean"`
}

// historyOf lists both stacks with the next step to undo or redo first
func historyOf(m *history.Manager) historyList {
	list := historyList{
		Undo:  stackOf("undo", m.UndoInfo()),
		Redo:  stackOf("redo", m.RedoInfo()),
		Clean: m.IsClean(),
	}
	return list
}

func stackOf(name string, infos []history.GroupInfo) []historyView {
	views := make([]historyView, 0, len(infos))
	for i := len(infos) - 1; i >= 0; i-- {
		info := infos[i]
		views = append(views, historyView{
			Stack:       name,
			Step:        len(infos) - i,
			Description: info.Description,
			CommittedAt: info.CommittedAt,
			UndoItems:   info.UndoItems,
			RedoItems:   info.RedoItems,
		})
	}
	return views
}

func (l historyList) header() []string {
	return []string{"stack", "step", "description", "committed", "items"}
}

func (l historyList) rows() [][]string {
	var rows [][]string
	for _, v := range append(append([]historyView{}, l.Redo...), l.Undo...) {
		committed := "-"
		if !v.CommittedAt.IsZero() {
			committed = v.CommittedAt.Local().Format(time.DateTime)
		}
		rows = append(rows, []string{
			v.Stack,
			strconv.Itoa(v.Step),
			v.Description,
			committed,
			fmt.Sprintf("%d/%d", v.UndoItems, v.RedoItems),
		})
	}
	return rows
}

type kindView struct {
	Kind       string   `json:"kind" yaml:"kind"`
	Title      string   `json:"title" yaml:"title"`
	Properties []string `json:"properties" yaml:"properties"`
}

type kindList []kindView

func (l kindList) header() []string { return []string{"kind", "title", "properties"} }

func (l kindList) rows() [][]string {
	rows := make([][]string, len(l))
	for i, v := range l {
		rows[i] = []string{v.Kind, v.Title, strings.Join(v.Properties, ", ")}
	}
	return rows
}

// valueView is a single JSON value picked out of an entity
type valueView struct {
	ID    int    `json:"id" yaml:"id"`
	Path  string `json:"path" yaml:"path"`
	Value any    `json:"value" yaml:"value"`

	raw string
}

func (v valueView) header() []string { return nil }
func (v valueView) rows() [][]string { return [][]string{{v.raw}} }

type validationReport struct {
	File     string `json:"file" yaml:"file"`
	Valid    bool   `json:"valid" yaml:"valid"`
	Entities int    `json:"entities" yaml:"entities"`
	Undo     int    `json:"undo_depth" yaml:"undo_depth"`
	Redo     int    `json:"redo_depth" yaml:"redo_depth"`
	Version  string `json:"version" yaml:"version"`
}

func (r validationReport) header() []string { return nil }

func (r validationReport) rows() [][]string {
	return [][]string{{fmt.Sprintf("%s is valid: version %s, %d entities, %d undo and %d redo steps",
		r.File, r.Version, r.Entities, r.Undo, r.Redo)}}
}
