package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/arthur-debert/diagstore/diagstore/history"
	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"
)

// isolate points every location the CLI reads from or logs to at a temp dir
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CACHE_HOME", filepath.Join(dir, "cache"))
	return filepath.Join(dir, "flow.json")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cli := NewCLI()
	var out, errOut bytes.Buffer
	cli.rootCmd.SetOut(&out)
	cli.rootCmd.SetErr(&errOut)
	cli.rootCmd.SetArgs(args)
	err := cli.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	if err != nil {
		t.Fatalf("diagstore %s failed: %v", strings.Join(args, " "), err)
	}
	return out
}

func decodeJSON[T any](t *testing.T, out string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	return v
}

type entityOut struct {
	ID    int            `json:"id"`
	Kind  string         `json:"kind"`
	State map[string]any `json:"state"`
}

type historyOut struct {
	Undo []struct {
		Description string `json:"description"`
		UndoItems   int    `json:"undo_items"`
	} `json:"undo"`
	Redo []struct {
		Description string `json:"description"`
	} `json:"redo"`
	Clean bool `json:"clean"`
}

func TestCreateAndList(t *testing.T) {
	file := isolate(t)

	out := mustRun(t, "-f", file, "create", "node", "--text", "Start", "--pos", "0,0", "--style", "bold")
	if !strings.Contains(out, "Created Node 0") {
		t.Errorf("unexpected create output:\n%s", out)
	}
	mustRun(t, "-f", file, "create", "ellipse", "--pos", "50,50")

	list := decodeJSON[[]entityOut](t, mustRun(t, "-f", file, "--format", "json", "list"))
	want := []entityOut{
		{ID: 0, Kind: "node", State: map[string]any{
			"pos": map[string]any{"x": 0.0, "y": 0.0}, "style": "bold", "text": "Start",
		}},
		{ID: 1, Kind: "ellipse", State: map[string]any{
			"pos": map[string]any{"x": 50.0, "y": 50.0}, "rx": 1.0, "ry": 1.0,
		}},
	}
	if diff := cmp.Diff(want, list); diff != "" {
		t.Errorf("list mismatch (-want +got):\n%s", diff)
	}

	// Properties set by flags belong to the creation step
	h := decodeJSON[historyOut](t, mustRun(t, "-f", file, "--format", "json", "history"))
	if len(h.Undo) != 2 || len(h.Redo) != 0 {
		t.Fatalf("expected 2 undo steps, got %+v", h)
	}
	if h.Undo[0].Description != "Create ellipse" || h.Undo[1].Description != "Create node" {
		t.Errorf("unexpected history order: %+v", h.Undo)
	}
	if !h.Clean {
		t.Error("stored document must be clean")
	}

	t.Run("unknown kind", func(t *testing.T) {
		_, err := run(t, "-f", file, "create", "triangle")
		var cliErr *CLIError
		if !errors.As(err, &cliErr) {
			t.Fatalf("expected CLIError, got %v", err)
		}
		if !strings.Contains(cliErr.Error(), "Known kinds: edge, ellipse, node, path, style") {
			t.Errorf("missing kind suggestion:\n%s", cliErr)
		}
	})

	t.Run("property the kind lacks", func(t *testing.T) {
		_, err := run(t, "-f", file, "create", "path", "--pos", "1,1")
		if err == nil {
			t.Fatal("expected error")
		}
		list := decodeJSON[[]entityOut](t, mustRun(t, "-f", file, "--format", "json", "list"))
		if len(list) != 2 {
			t.Errorf("failed create must not be stored, got %d entities", len(list))
		}
	})
}

func TestMoveUndoRedo(t *testing.T) {
	file := isolate(t)
	mustRun(t, "-f", file, "create", "node")

	out := mustRun(t, "-f", file, "move", "0", "10,0", "20,0", "30,5")
	if !strings.Contains(out, "Moved Node 0 to 30,5") {
		t.Errorf("unexpected move output:\n%s", out)
	}
	if got := mustRun(t, "-f", file, "show", "0", "pos"); got != `{"x":30,"y":5}`+"\n" {
		t.Errorf("expected final position, got %q", got)
	}

	// Three moves merge into one step holding the original position
	h := decodeJSON[historyOut](t, mustRun(t, "-f", file, "--format", "json", "history"))
	if len(h.Undo) != 2 || h.Undo[0].Description != "Move Node 0" || h.Undo[0].UndoItems != 1 {
		t.Fatalf("unexpected history: %+v", h)
	}

	out = mustRun(t, "-f", file, "undo")
	if !strings.Contains(out, "Undid: Move Node 0") {
		t.Errorf("unexpected undo output:\n%s", out)
	}
	if got := mustRun(t, "-f", file, "show", "0", "pos.x"); got != "0\n" {
		t.Errorf("expected x back at 0, got %q", got)
	}

	h = decodeJSON[historyOut](t, mustRun(t, "-f", file, "--format", "json", "history"))
	if len(h.Undo) != 1 || len(h.Redo) != 1 || h.Redo[0].Description != "Move Node 0" {
		t.Fatalf("unexpected history after undo: %+v", h)
	}

	mustRun(t, "-f", file, "redo")
	if got := mustRun(t, "-f", file, "show", "0", "pos.x"); got != "30\n" {
		t.Errorf("expected x at 30 after redo, got %q", got)
	}

	t.Run("entity without position", func(t *testing.T) {
		mustRun(t, "-f", file, "create", "style")
		_, err := run(t, "-f", file, "move", "1", "5,5")
		var cliErr *CLIError
		if !errors.As(err, &cliErr) || !strings.Contains(cliErr.Cause, "has no position") {
			t.Errorf("expected position error, got %v", err)
		}
	})

	t.Run("bad position", func(t *testing.T) {
		_, err := run(t, "-f", file, "move", "0", "5;5")
		if err == nil || !strings.Contains(err.Error(), "invalid position") {
			t.Errorf("expected invalid position, got %v", err)
		}
	})
}

func TestSet(t *testing.T) {
	file := isolate(t)
	mustRun(t, "-f", file, "create", "node")

	mustRun(t, "-f", file, "set", "0", "text", `"hello"`)
	mustRun(t, "-f", file, "set", "0", "pos.y", "7")
	mustRun(t, "-f", file, "set", "0", "pos", `{"x": 3, "y": 7}`)

	e := decodeJSON[entityOut](t, mustRun(t, "-f", file, "--format", "json", "show", "0"))
	want := map[string]any{
		"pos":   map[string]any{"x": 3.0, "y": 7.0},
		"style": "",
		"text":  "hello",
	}
	if diff := cmp.Diff(want, e.State); diff != "" {
		t.Errorf("state mismatch (-want +got):\n%s", diff)
	}

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"not JSON", []string{"0", "text", "hello"}, "invalid JSON value"},
		{"unknown property", []string{"0", "color", `"red"`}, `invalid property: "color"`},
		{"unknown entity", []string{"9", "text", `"x"`}, `entity with ID "9" not found`},
		{"bad id", []string{"x", "text", `"x"`}, `invalid entity id: "x"`},
		{"wrong type", []string{"0", "pos", `"here"`}, "invalid value for pos"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, append([]string{"-f", file, "set"}, tt.args...)...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}

	h := decodeJSON[historyOut](t, mustRun(t, "-f", file, "--format", "json", "history"))
	if len(h.Undo) != 4 {
		t.Errorf("failed sets must not add history, got %d steps", len(h.Undo))
	}
}

func TestDeleteAndValidate(t *testing.T) {
	file := isolate(t)
	mustRun(t, "-f", file, "create", "node", "--text", "a")
	mustRun(t, "-f", file, "create", "node", "--text", "b")

	out := mustRun(t, "-f", file, "delete", "0")
	if !strings.Contains(out, "Deleted Node 0") {
		t.Errorf("unexpected delete output:\n%s", out)
	}
	out = mustRun(t, "-f", file, "validate")
	if !strings.Contains(out, "version 1.0, 1 entities, 3 undo and 0 redo steps") {
		t.Errorf("unexpected validate output:\n%s", out)
	}

	mustRun(t, "-f", file, "undo")
	e := decodeJSON[entityOut](t, mustRun(t, "-f", file, "--format", "json", "show", "0"))
	if e.State["text"] != "a" {
		t.Errorf("undo must restore the deleted entity, got %v", e.State)
	}

	t.Run("corrupt file", func(t *testing.T) {
		if err := os.WriteFile(file, []byte(`{"data": {"next_id": -1}}`), 0644); err != nil {
			t.Fatal(err)
		}
		_, err := run(t, "-f", file, "validate")
		var cliErr *CLIError
		if !errors.As(err, &cliErr) || cliErr.Cause != "document file is invalid" {
			t.Errorf("expected invalid file error, got %v", err)
		}
	})
}

func TestUndoRedoEmpty(t *testing.T) {
	file := isolate(t)
	mustRun(t, "-f", file, "create", "node")

	_, err := run(t, "-f", file, "redo")
	if !errors.Is(err, history.ErrNothingToRedo) {
		t.Fatalf("expected ErrNothingToRedo, got %v", err)
	}
	mustRun(t, "-f", file, "undo")
	_, err = run(t, "-f", file, "undo")
	if !errors.Is(err, history.ErrNothingToUndo) {
		t.Fatalf("expected ErrNothingToUndo, got %v", err)
	}
	var cliErr *CLIError
	if !errors.As(err, &cliErr) {
		t.Fatalf("expected CLIError, got %T", err)
	}
	if diff := cmp.Diff([]string{CommonSuggestions.CheckHistory}, cliErr.Suggestions); diff != "" {
		t.Errorf("suggestions mismatch (-want +got):\n%s", diff)
	}
}

func TestDryRun(t *testing.T) {
	file := isolate(t)
	mustRun(t, "-f", file, "create", "node")
	before, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}

	out := mustRun(t, "-f", file, "--dry-run", "create", "node")
	if !strings.Contains(out, "Created Node 1 (dry run, nothing written)") {
		t.Errorf("unexpected dry run output:\n%s", out)
	}
	after, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(before, after) {
		t.Error("dry run must not write the document")
	}

	t.Run("missing file", func(t *testing.T) {
		missing := filepath.Join(filepath.Dir(file), "new.json")
		mustRun(t, "-f", missing, "--dry-run", "create", "node")
		if _, err := os.Stat(missing); !os.IsNotExist(err) {
			t.Errorf("dry run must not create the file, stat: %v", err)
		}
	})
}

func TestPropertyHistory(t *testing.T) {
	file := isolate(t)
	mustRun(t, "-f", file, "--property-history", "create", "node")
	mustRun(t, "-f", file, "--property-history", "move", "0", "1,1", "2,2")

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	for _, tag := range []string{`"node-create"`, `"node-delete"`, `"node-set-pos"`} {
		if !bytes.Contains(data, []byte(tag)) {
			t.Errorf("expected %s items in the stored history", tag)
		}
	}

	// Documents written in either mode load in the other
	mustRun(t, "-f", file, "undo")
	if got := mustRun(t, "-f", file, "show", "0", "pos"); got != `{"x":0,"y":0}`+"\n" {
		t.Errorf("expected original position, got %q", got)
	}
}

func TestConfiguration(t *testing.T) {
	t.Run("missing file flag", func(t *testing.T) {
		isolate(t)
		_, err := run(t, "list")
		var cliErr *CLIError
		if !errors.As(err, &cliErr) || !strings.Contains(cliErr.Cause, "no document file given") {
			t.Errorf("expected config error, got %v", err)
		}
	})

	t.Run("missing document", func(t *testing.T) {
		file := isolate(t)
		_, err := run(t, "-f", file, "list")
		var cliErr *CLIError
		if !errors.As(err, &cliErr) || cliErr.Cause != "document file is missing or empty" {
			t.Errorf("expected missing document error, got %v", err)
		}
	})

	t.Run("config file", func(t *testing.T) {
		file := isolate(t)
		config := filepath.Join(filepath.Dir(file), "custom.json")
		content := `{"file": "` + filepath.ToSlash(file) + `", "format": "json"}`
		if err := os.WriteFile(config, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		t.Setenv("DIAGSTORE_CONFIG", config)

		res := decodeJSON[struct {
			Message string    `json:"message"`
			Entity  entityOut `json:"entity"`
			Undo    int       `json:"undo_depth"`
		}](t, mustRun(t, "create", "edge"))
		if res.Message != "Created Edge 0" || res.Entity.Kind != "edge" || res.Undo != 1 {
			t.Errorf("unexpected result: %+v", res)
		}
	})

	t.Run("environment", func(t *testing.T) {
		file := isolate(t)
		t.Setenv("DIAGSTORE_FILE", file)
		t.Setenv("DIAGSTORE_FORMAT", "yaml")
		mustRun(t, "create", "node", "--text", "from env")

		var list []map[string]any
		if err := yaml.Unmarshal([]byte(mustRun(t, "list")), &list); err != nil {
			t.Fatalf("output is not YAML: %v", err)
		}
		if len(list) != 1 || list[0]["kind"] != "node" {
			t.Errorf("unexpected list: %v", list)
		}
	})

	t.Run("invalid format", func(t *testing.T) {
		file := isolate(t)
		_, err := run(t, "-f", file, "--format", "xml", "list")
		if err == nil || !strings.Contains(err.Error(), `invalid output format: "xml"`) {
			t.Errorf("expected format error, got %v", err)
		}
	})

	t.Run("log file", func(t *testing.T) {
		file := isolate(t)
		mustRun(t, "-f", file, "--log-level", "debug", "create", "node")
		data, err := os.ReadFile(filepath.Join(os.Getenv("XDG_CACHE_HOME"), "diagstore", "diagstore.log"))
		if err != nil {
			t.Fatalf("log file not written: %v", err)
		}
		if !bytes.Contains(data, []byte(`"msg":"operation"`)) {
			t.Errorf("expected operation record in log:\n%s", data)
		}
	})
}

func TestKinds(t *testing.T) {
	isolate(t)
	var kinds []kindView
	if err := json.Unmarshal([]byte(mustRun(t, "--format", "json", "kinds")), &kinds); err != nil {
		t.Fatal(err)
	}
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.Kind
	}
	if diff := cmp.Diff([]string{"edge", "ellipse", "node", "path", "style"}, names); diff != "" {
		t.Errorf("kinds mismatch (-want +got):\n%s", diff)
	}
	i := slices.IndexFunc(kinds, func(k kindView) bool { return k.Kind == "node" })
	if diff := cmp.Diff(kindView{Kind: "node", Title: "Node", Properties: []string{"pos", "style", "text"}}, kinds[i]); diff != "" {
		t.Errorf("node mismatch (-want +got):\n%s", diff)
	}

	out := mustRun(t, "kinds")
	if !strings.HasPrefix(out, "KIND") {
		t.Errorf("expected table heading, got:\n%s", out)
	}
}
