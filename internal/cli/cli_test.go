package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"
)

const workflowYAML = `
id: wf-yaml
name: Nightly
nodes:
  - id: tick
    type: schedule
    data:
      mode: interval
      interval: 1
      unit: minutes
connections: []
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func runCmd(t *testing.T, cmd *cobra.Command, args ...string) error {
	t.Helper()
	cmd.SetArgs(args)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	return cmd.Execute()
}

func TestParseDefinition(t *testing.T) {
	def, err := ParseDefinition([]byte(workflowYAML))
	if err != nil {
		t.Fatalf("ParseDefinition() error = %v", err)
	}
	if def.ID != "wf-yaml" || len(def.Nodes) != 1 {
		t.Fatalf("def = %+v", def)
	}
	node := def.Nodes[0]
	if node.Type != "schedule" {
		t.Errorf("node.Type = %q", node.Type)
	}
	if node.Data["interval"] != 1.0 {
		t.Errorf("interval = %#v, want float64 1", node.Data["interval"])
	}

	jsonDef, err := ParseDefinition([]byte(`{"id":"wf-json","nodes":[{"id":"a","type":"schedule"}],"connections":[]}`))
	if err != nil {
		t.Fatalf("ParseDefinition(json) error = %v", err)
	}
	if jsonDef.ID != "wf-json" {
		t.Errorf("ID = %q", jsonDef.ID)
	}

	if _, err := ParseDefinition([]byte(`nodes: []`)); err == nil {
		t.Error("definition without id must fail")
	}
}

func TestParsePayload(t *testing.T) {
	file := writeFile(t, "payload.yaml", "order: 42\ntags: [a, b]\n")

	tests := []struct {
		name string
		in   string
		want any
	}{
		{name: "empty", in: "", want: nil},
		{name: "json", in: `{"a": 1}`, want: map[string]any{"a": 1}},
		{name: "plain string", in: "hello", want: "hello"},
		{name: "file", in: "@" + file, want: map[string]any{"order": 42, "tags": []any{"a", "b"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePayload(tt.in)
			if err != nil {
				t.Fatalf("ParsePayload() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParsePayload() mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if _, err := ParsePayload("@" + filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("missing payload file must fail")
	}
}

func TestValidateCmd(t *testing.T) {
	var stdout, stderr bytes.Buffer
	outputFn := func() *Output { return NewOutputTo(&stdout, &stderr, false) }

	valid := writeFile(t, "ok.yaml", workflowYAML)
	if err := runCmd(t, NewValidateCmd(outputFn), valid); err != nil {
		t.Fatalf("validate valid workflow: %v", err)
	}
	if !strings.Contains(stderr.String(), "wf-yaml is valid") {
		t.Errorf("stderr = %q", stderr.String())
	}

	stdout.Reset()
	invalid := writeFile(t, "bad.json", `{"id":"wf-bad","nodes":[{"id":"x","type":"no-such-type"}],"connections":[]}`)
	if err := runCmd(t, NewValidateCmd(outputFn), invalid); err == nil {
		t.Fatal("validate invalid workflow must fail")
	}
	if !strings.Contains(stdout.String(), "x") || !strings.Contains(stdout.String(), "MESSAGE") {
		t.Errorf("stdout = %q", stdout.String())
	}
}

func TestRunLocalCmd(t *testing.T) {
	var stdout bytes.Buffer
	outputFn := func() *Output { return NewOutputTo(&stdout, io.Discard, true) }

	path := writeFile(t, "wf.yaml", workflowYAML)
	if err := runCmd(t, NewRunLocalCmd(outputFn), path, "--payload", `{"n": 1}`); err != nil {
		t.Fatalf("run: %v", err)
	}

	var exec struct {
		Status        string `json:"status"`
		TriggerNodeID string `json:"trigger_node_id"`
		Nodes         map[string]struct {
			Status string `json:"status"`
		} `json:"nodes"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &exec); err != nil {
		t.Fatalf("decode output: %v\n%s", err, stdout.String())
	}
	if exec.Status != "COMPLETED" {
		t.Errorf("status = %q", exec.Status)
	}
	if exec.TriggerNodeID != "tick" {
		t.Errorf("trigger = %q, want first trigger", exec.TriggerNodeID)
	}
	if exec.Nodes["tick"].Status != "SUCCEEDED" {
		t.Errorf("tick status = %q", exec.Nodes["tick"].Status)
	}
}

func TestExecutorsCmd(t *testing.T) {
	var stdout bytes.Buffer
	outputFn := func() *Output { return NewOutputTo(&stdout, io.Discard, false) }

	if err := runCmd(t, NewExecutorsCmd(outputFn)); err != nil {
		t.Fatal(err)
	}
	for _, typ := range []string{"schedule", "webhook", "filter", "code"} {
		if !strings.Contains(stdout.String(), typ) {
			t.Errorf("output misses %q:\n%s", typ, stdout.String())
		}
	}
}

func TestClient(t *testing.T) {
	var gotBody map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/workflows/{id}/executions", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusAccepted)
		io.WriteString(w, `{"data":{"execution_id":"e-1","workflow_id":"`+r.PathValue("id")+`","status":"PENDING"}}`)
	})
	mux.HandleFunc("GET /api/v1/workflows/{id}/executions", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "5" {
			t.Errorf("limit = %q", r.URL.Query().Get("limit"))
		}
		io.WriteString(w, `{"data":[{"id":"e-1","status":"COMPLETED","duration_ms":12}],"total":1}`)
	})
	mux.HandleFunc("GET /api/v1/executions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":{"code":"NOT_FOUND","message":"execution not found"}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(srv.URL)

	accepted, err := client.Trigger("wf-1", TriggerRequest{NodeID: "hook", Payload: map[string]any{"a": 1}})
	if err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}
	want := &ExecutionAccepted{ExecutionID: "e-1", WorkflowID: "wf-1", Status: "PENDING"}
	if diff := cmp.Diff(want, accepted); diff != "" {
		t.Errorf("Trigger() mismatch (-want +got):\n%s", diff)
	}
	if gotBody["node_id"] != "hook" {
		t.Errorf("request body = %v", gotBody)
	}

	execs, err := client.ListExecutions("wf-1", 5)
	if err != nil {
		t.Fatalf("ListExecutions() error = %v", err)
	}
	if len(execs) != 1 || execs[0].DurationMs != 12 {
		t.Errorf("execs = %+v", execs)
	}

	_, err = client.GetExecution("missing")
	if err == nil || !strings.Contains(err.Error(), "NOT_FOUND") {
		t.Errorf("GetExecution() error = %v, want NOT_FOUND", err)
	}
}

func TestTriggerCmd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		io.WriteString(w, `{"data":{"execution_id":"e-9","workflow_id":"wf-1","status":"PENDING"}}`)
	}))
	defer srv.Close()

	var stderr bytes.Buffer
	clientFn := func() *Client { return NewClient(srv.URL) }
	outputFn := func() *Output { return NewOutputTo(io.Discard, &stderr, false) }

	if err := runCmd(t, NewTriggerCmd(clientFn, outputFn), "wf-1", "--payload", "x: 1"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stderr.String(), "e-9 queued") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"abcdefgh", 6, "abc..."},
		{"данные узла", 8, "да..."},
		{"данные узла", 9, "дан..."},
	}
	for _, tt := range tests {
		got := truncate(tt.in, tt.n)
		if got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("truncate produced invalid UTF-8: %q", got)
		}
	}
}
