package executors

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/gzip"

	"github.com/shaiso/Nodeflow/internal/domain"
	"github.com/shaiso/Nodeflow/internal/services"
)

func TestWebhookOutput_SendsTemplatedRequest(t *testing.T) {
	var (
		gotPath   string
		gotQuery  string
		gotAuth   string
		gotHeader string
		gotBody   []any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("region")
		gotAuth = r.Header.Get("Authorization")
		gotHeader = r.Header.Get("X-Workflow")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	nctx := testContext(TypeWebhookOutput, map[string]any{
		"url":     srv.URL + "/hooks/{{workflow.id}}",
		"query":   map[string]any{"region": "{{env.REGION}}"},
		"headers": map[string]any{"X-Workflow": "{{workflow.id}}"},
		"auth":    map[string]any{"type": "bearer", "secret": "API_TOKEN"},
	}, []any{map[string]any{"id": 1.0, "name": "A"}})
	nctx.Services.Secrets = services.MapSecrets{"API_TOKEN": "t0k"}

	res := NewWebhookOutput().Execute(context.Background(), nctx)
	if !res.Success {
		t.Fatalf("unexpected failure: %s", res.Error)
	}

	if gotPath != "/hooks/wf-1" {
		t.Errorf("path = %q", gotPath)
	}
	if gotQuery != "eu" {
		t.Errorf("query region = %q", gotQuery)
	}
	if gotAuth != "Bearer t0k" {
		t.Errorf("authorization = %q", gotAuth)
	}
	if gotHeader != "wf-1" {
		t.Errorf("X-Workflow = %q", gotHeader)
	}
	if diff := cmp.Diff([]any{map[string]any{"id": 1.0, "name": "A"}}, gotBody); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}

	resp := res.Data.(*httpResponse)
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if diff := cmp.Diff(map[string]any{"ok": true}, resp.Body); diff != "" {
		t.Errorf("response body mismatch (-want +got):\n%s", diff)
	}
}

func TestWebhookOutput_Auth(t *testing.T) {
	tests := []struct {
		name  string
		auth  map[string]any
		check func(r *http.Request) bool
	}{
		{
			name:  "basic",
			auth:  map[string]any{"type": "basic", "username": "u", "password": "p"},
			check: func(r *http.Request) bool { u, p, ok := r.BasicAuth(); return ok && u == "u" && p == "p" },
		},
		{
			name:  "apikey header",
			auth:  map[string]any{"type": "apikey", "apiKey": "k1"},
			check: func(r *http.Request) bool { return r.Header.Get("X-API-Key") == "k1" },
		},
		{
			name:  "apikey query",
			auth:  map[string]any{"type": "apikey", "in": "query", "param": "key", "apiKey": "k2"},
			check: func(r *http.Request) bool { return r.URL.Query().Get("key") == "k2" },
		},
		{
			name:  "none",
			auth:  map[string]any{"type": "none"},
			check: func(r *http.Request) bool { return r.Header.Get("Authorization") == "" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok := false
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ok = tt.check(r)
			}))
			defer srv.Close()

			nctx := testContext(TypeWebhookOutput, map[string]any{"url": srv.URL, "auth": tt.auth}, map[string]any{})
			res := NewWebhookOutput().Execute(context.Background(), nctx)
			if !res.Success {
				t.Fatalf("unexpected failure: %s", res.Error)
			}
			if !ok {
				t.Error("auth check failed")
			}
		})
	}
}

func TestWebhookOutput_Failures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	t.Run("non-success status", func(t *testing.T) {
		res := NewWebhookOutput().Execute(context.Background(),
			testContext(TypeWebhookOutput, map[string]any{"url": srv.URL}, map[string]any{}))
		if res.Success {
			t.Fatal("expected failure")
		}
		if res.ErrorKind != domain.KindExecution {
			t.Errorf("expected execution error, got %s", res.ErrorKind)
		}
		if res.ErrorDetails["statusCode"] != http.StatusBadGateway {
			t.Errorf("details = %v", res.ErrorDetails)
		}
	})

	t.Run("custom success codes", func(t *testing.T) {
		res := NewWebhookOutput().Execute(context.Background(),
			testContext(TypeWebhookOutput, map[string]any{"url": srv.URL, "successCodes": []any{502}}, map[string]any{}))
		if !res.Success {
			t.Errorf("502 listed in successCodes should succeed: %s", res.Error)
		}
	})

	t.Run("malformed json body", func(t *testing.T) {
		res := NewWebhookOutput().Execute(context.Background(),
			testContext(TypeWebhookOutput, map[string]any{"url": srv.URL, "body": `{"id": {{input.id}`}, map[string]any{"id": 1.0}))
		if res.Success || res.ErrorKind != domain.KindConfiguration {
			t.Errorf("expected configuration error, got %+v", res)
		}
	})

	t.Run("unresolved url", func(t *testing.T) {
		res := NewWebhookOutput().Execute(context.Background(),
			testContext(TypeWebhookOutput, map[string]any{"url": srv.URL + "/{{input.missing}}"}, map[string]any{}))
		if res.Success || res.ErrorKind != domain.KindConfiguration {
			t.Errorf("expected configuration error, got %+v", res)
		}
	})

	t.Run("missing secret", func(t *testing.T) {
		nctx := testContext(TypeWebhookOutput, map[string]any{
			"url":  srv.URL,
			"auth": map[string]any{"type": "bearer", "secret": "NOPE_NOT_SET"},
		}, map[string]any{})
		nctx.Services.Secrets = services.MapSecrets{}
		res := NewWebhookOutput().Execute(context.Background(), nctx)
		if res.Success || res.ErrorKind != domain.KindConfiguration {
			t.Errorf("expected configuration error, got %+v", res)
		}
	})
}

func TestDatabaseOutput(t *testing.T) {
	docs := services.NewMemoryDocuments()
	bundle := services.NewMemoryBundle()
	bundle.Documents = map[string]services.DocumentStore{"memory": docs}

	run := func(data map[string]any, input any) *domain.NodeResult {
		data["store"] = "memory"
		nctx := testContext(TypeDatabase, data, input)
		nctx.Services = bundle
		return NewDatabaseOutput().Execute(context.Background(), nctx)
	}

	res := run(map[string]any{"collection": "people", "operation": "insert"}, people())
	if !res.Success {
		t.Fatalf("insert failed: %s", res.Error)
	}
	if got := res.Data.(services.WriteResult).Inserted; got != 2 {
		t.Errorf("inserted = %d, want 2", got)
	}

	res = run(map[string]any{
		"collection": "people",
		"operation":  "update",
		"document":   map[string]any{"status": "adult"},
		"filter":     map[string]any{"name": "{{input.name}}"},
	}, map[string]any{"name": "A"})
	if !res.Success {
		t.Fatalf("update failed: %s", res.Error)
	}
	if got := res.Data.(services.WriteResult).Modified; got != 1 {
		t.Errorf("modified = %d, want 1", got)
	}

	res = run(map[string]any{
		"collection": "people",
		"operation":  "upsert",
		"document":   map[string]any{"id": "3", "name": "C"},
	}, nil)
	if !res.Success {
		t.Fatalf("upsert failed: %s", res.Error)
	}

	want := []map[string]any{
		{"id": "1", "age": 20.0, "name": "A", "status": "adult"},
		{"id": "2", "age": 15.0, "name": "B"},
		{"id": "3", "name": "C"},
	}
	if diff := cmp.Diff(want, docs.Find("people", nil)); diff != "" {
		t.Errorf("documents mismatch (-want +got):\n%s", diff)
	}

	res = run(map[string]any{"collection": "people", "operation": "delete", "filter": map[string]any{"age": "{{input.age}}"}},
		map[string]any{"age": 15.0})
	if !res.Success {
		t.Fatalf("delete failed: %s", res.Error)
	}
	if got := len(docs.Find("people", nil)); got != 2 {
		t.Errorf("expected 2 documents after delete, got %d", got)
	}

	t.Run("malformed document", func(t *testing.T) {
		res := run(map[string]any{"collection": "people", "document": `{"x": `}, map[string]any{})
		if res.Success || res.ErrorKind != domain.KindConfiguration {
			t.Errorf("expected configuration error, got %+v", res)
		}
	})

	t.Run("unknown store", func(t *testing.T) {
		nctx := testContext(TypeDatabase, map[string]any{"collection": "x", "store": "mongo"}, map[string]any{})
		res := NewDatabaseOutput().Execute(context.Background(), nctx)
		if res.Success || !errors.Is(res.Err(), domain.ErrConfiguration) {
			t.Errorf("expected configuration error, got %+v", res)
		}
	})
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []*services.MailMessage
}

func (f *fakeMailer) Send(_ context.Context, msg *services.MailMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return "msg-1", nil
}

func TestEmailOutput(t *testing.T) {
	mailer := &fakeMailer{}
	e := NewEmailOutput()
	e.newMailer = func(*EmailConfig, *services.Bundle) (services.Mailer, error) { return mailer, nil }

	nctx := testContext(TypeEmail, map[string]any{
		"from":    "bot@example.com",
		"to":      "{{input.email}}",
		"cc":      []any{"a@example.com", "b@example.com"},
		"bcc":     "audit@example.com",
		"subject": "Order {{input.id}}",
		"text":    "Hello {{input.name}}",
		"smtp":    map[string]any{"host": "smtp.example.com"},
	}, map[string]any{"id": 5.0, "name": "Ann", "email": "ann@example.com"})

	res := e.Execute(context.Background(), nctx)
	if !res.Success {
		t.Fatalf("unexpected failure: %s", res.Error)
	}
	if len(mailer.sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(mailer.sent))
	}
	want := &services.MailMessage{
		From:    "bot@example.com",
		To:      []string{"ann@example.com"},
		Cc:      []string{"a@example.com", "b@example.com"},
		Bcc:     []string{"audit@example.com"},
		Subject: "Order 5",
		Text:    "Hello Ann",
	}
	if diff := cmp.Diff(want, mailer.sent[0]); diff != "" {
		t.Errorf("message mismatch (-want +got):\n%s", diff)
	}
	if res.Data.(map[string]any)["messageId"] != "msg-1" {
		t.Errorf("unexpected data: %v", res.Data)
	}

	t.Run("invalid address", func(t *testing.T) {
		nctx := testContext(TypeEmail, map[string]any{
			"from": "bot@example.com", "to": "{{input.email}}", "subject": "s", "text": "t",
		}, map[string]any{"email": "not-an-address"})
		res := e.Execute(context.Background(), nctx)
		if res.Success || res.ErrorKind != domain.KindConfiguration {
			t.Errorf("expected configuration error, got %+v", res)
		}
	})
}

func TestEmailOutput_APIProvider(t *testing.T) {
	var got services.MailMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer mail-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"id": "api-1"}`))
	}))
	defer srv.Close()

	nctx := testContext(TypeEmail, map[string]any{
		"provider": "api",
		"from":     "bot@example.com",
		"to":       "ann@example.com",
		"subject":  "Hi",
		"html":     "<b>Hi</b>",
		"api":      map[string]any{"endpoint": srv.URL, "apiKeySecret": "MAIL_KEY"},
	}, nil)
	nctx.Services.Secrets = services.MapSecrets{"MAIL_KEY": "mail-key"}

	res := NewEmailOutput().Execute(context.Background(), nctx)
	if !res.Success {
		t.Fatalf("unexpected failure: %s", res.Error)
	}
	if res.Data.(map[string]any)["messageId"] != "api-1" {
		t.Errorf("unexpected data: %v", res.Data)
	}
	if got.HTML != "<b>Hi</b>" {
		t.Errorf("html = %q", got.HTML)
	}
}

type fakeObjects struct {
	puts      []fakePut
	multipart int
	versions  []services.ObjectVersion
	deleted   []string
}

type fakePut struct {
	key  string
	body []byte
	opts services.PutOptions
}

func (f *fakeObjects) Put(_ context.Context, bucket, key string, body []byte, opts services.PutOptions) (services.ObjectInfo, error) {
	f.puts = append(f.puts, fakePut{key: key, body: body, opts: opts})
	return services.ObjectInfo{Bucket: bucket, Key: key, Size: int64(len(body))}, nil
}

func (f *fakeObjects) PutMultipart(ctx context.Context, bucket, key string, body []byte, partSize int64, opts services.PutOptions) (services.ObjectInfo, error) {
	f.multipart++
	info, err := f.Put(ctx, bucket, key, body, opts)
	info.Parts = int((int64(len(body)) + partSize - 1) / partSize)
	return info, err
}

func (f *fakeObjects) ListVersions(_ context.Context, _, prefix string) ([]services.ObjectVersion, error) {
	var out []services.ObjectVersion
	for _, v := range f.versions {
		if strings.HasPrefix(v.Key, prefix) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakeObjects) DeleteVersion(_ context.Context, _, _, versionID string) error {
	f.deleted = append(f.deleted, versionID)
	return nil
}

func TestObjectStorageOutput(t *testing.T) {
	objects := &fakeObjects{versions: []services.ObjectVersion{
		{Key: "out/report.json", VersionID: "v4", IsLatest: true},
		{Key: "out/report.json", VersionID: "v3"},
		{Key: "out/report.json.bak", VersionID: "x1"},
		{Key: "out/report.json", VersionID: "v2"},
		{Key: "out/report.json", VersionID: "v1"},
	}}

	nctx := testContext(TypeObjectStorage, map[string]any{
		"bucket":       "exports",
		"key":          "out/report.json",
		"compression":  "gzip",
		"keepVersions": 2,
	}, map[string]any{"total": 3.0})
	nctx.Services.Objects = objects

	res := NewObjectStorageOutput().Execute(context.Background(), nctx)
	if !res.Success {
		t.Fatalf("unexpected failure: %s", res.Error)
	}
	if len(objects.puts) != 1 || objects.multipart != 0 {
		t.Fatalf("expected a single-shot upload, got %d puts, %d multipart", len(objects.puts), objects.multipart)
	}

	put := objects.puts[0]
	if put.opts.ContentEncoding != "gzip" || put.opts.ContentType != "application/json" {
		t.Errorf("unexpected options: %+v", put.opts)
	}
	zr, err := gzip.NewReader(bytes.NewReader(put.body))
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	raw, _ := io.ReadAll(zr)
	if string(raw) != `{"total":3}` {
		t.Errorf("body = %s", raw)
	}

	if diff := cmp.Diff([]string{"v2", "v1"}, objects.deleted); diff != "" {
		t.Errorf("pruned versions mismatch (-want +got):\n%s", diff)
	}
	if res.Metadata["prunedVersions"] != 2 {
		t.Errorf("metadata = %v", res.Metadata)
	}
}

func TestObjectStorageOutput_Multipart(t *testing.T) {
	objects := &fakeObjects{}
	nctx := testContext(TypeObjectStorage, map[string]any{
		"bucket":             "exports",
		"key":                "big.txt",
		"format":             "text",
		"compression":        "zstd",
		"multipartThreshold": 10,
	}, strings.Repeat("abcdefghij", 100))
	nctx.Services.Objects = objects

	res := NewObjectStorageOutput().Execute(context.Background(), nctx)
	if !res.Success {
		t.Fatalf("unexpected failure: %s", res.Error)
	}
	if objects.multipart != 1 {
		t.Errorf("expected multipart upload above threshold")
	}
	if objects.puts[0].opts.ContentEncoding != "zstd" {
		t.Errorf("expected zstd encoding, got %q", objects.puts[0].opts.ContentEncoding)
	}
}

func TestGraphOutput_MergeNodes(t *testing.T) {
	var req struct {
		Statements []cypherStatement `json:"statements"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/db/neo4j/tx/commit" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if u, p, ok := r.BasicAuth(); !ok || u != "neo4j" || p != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"columns":["n"],"data":[{"row":[{"name":"A"}]}]},{"columns":["n"],"data":[{"row":[{"name":"B"}]}]}],"errors":[]}`))
	}))
	defer srv.Close()

	nctx := testContext(TypeGraphDatabase, map[string]any{
		"url":            srv.URL,
		"username":       "neo4j",
		"passwordSecret": "NEO4J_PASSWORD",
		"operation":      "merge",
		"label":          "Person",
		"match":          map[string]any{"id": "{{id}}"},
		"properties":     map[string]any{"name": "{{name}}"},
	}, people())
	nctx.Services.Secrets = services.MapSecrets{"NEO4J_PASSWORD": "secret"}

	res := NewGraphOutput().Execute(context.Background(), nctx)
	if !res.Success {
		t.Fatalf("unexpected failure: %s", res.Error)
	}
	if len(req.Statements) != 2 {
		t.Fatalf("expected 2 statements, got %d", len(req.Statements))
	}
	wantStmt := "MERGE (n:`Person` {`id`: $match.`id`}) SET n += $props RETURN n"
	if req.Statements[0].Statement != wantStmt {
		t.Errorf("statement = %q", req.Statements[0].Statement)
	}
	wantParams := map[string]any{"match": map[string]any{"id": 1.0}, "props": map[string]any{"name": "A"}}
	if diff := cmp.Diff(wantParams, req.Statements[0].Parameters); diff != "" {
		t.Errorf("parameters mismatch (-want +got):\n%s", diff)
	}
	if res.Metadata["statements"] != 2 {
		t.Errorf("metadata = %v", res.Metadata)
	}
}

func TestBuildCypher(t *testing.T) {
	tests := []struct {
		name    string
		cfg     GraphConfig
		want    string
		wantErr bool
	}{
		{
			name: "create node",
			cfg:  GraphConfig{Operation: GraphCreate, Entity: "node", Label: "Tag"},
			want: "CREATE (n:`Tag`) SET n = $props RETURN n",
		},
		{
			name: "delete node",
			cfg:  GraphConfig{Operation: GraphDelete, Entity: "node", Label: "Tag", Match: map[string]any{"slug": "x"}},
			want: "MATCH (n:`Tag`) WHERE n.`slug` = $match.`slug` DETACH DELETE n RETURN count(n) AS deleted",
		},
		{
			name: "merge relationship",
			cfg: GraphConfig{
				Operation:        GraphMerge,
				Entity:           "relationship",
				RelationshipType: "FOLLOWS",
				From:             GraphEndpoint{Label: "User", Match: map[string]any{"id": 1.0}},
				To:               GraphEndpoint{Label: "User", Match: map[string]any{"id": 2.0}},
			},
			want: "MATCH (a:`User`), (b:`User`) WHERE a.`id` = $from.`id` AND b.`id` = $to.`id` MERGE (a)-[r:`FOLLOWS`]->(b) SET r += $props RETURN r",
		},
		{
			name:    "injection in label",
			cfg:     GraphConfig{Operation: GraphCreate, Entity: "node", Label: "X) DETACH DELETE (m"},
			wantErr: true,
		},
		{
			name:    "update without match",
			cfg:     GraphConfig{Operation: GraphUpdate, Entity: "node", Label: "X"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := buildCypher(&tt.cfg, map[string]any{})
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %q", st.Statement)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if st.Statement != tt.want {
				t.Errorf("statement:\n got %q\nwant %q", st.Statement, tt.want)
			}
		})
	}
}

func TestVectorOutput(t *testing.T) {
	var (
		mu       sync.Mutex
		batches  [][]any
		upserted []map[string]any
		deletes  int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.URL.Path == "/v1/embeddings":
			var body struct {
				Input []any `json:"input"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			batches = append(batches, body.Input)
			data := make([]map[string]any, len(body.Input))
			for i := range body.Input {
				data[i] = map[string]any{"index": i, "embedding": []float32{float32(i), 1}}
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"data": data})

		case r.URL.Path == "/collections/docs/points" && r.Method == http.MethodPut:
			var body struct {
				Points []map[string]any `json:"points"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			upserted = append(upserted, body.Points...)
			_, _ = w.Write([]byte(`{"status":"ok"}`))

		case r.URL.Path == "/collections/docs/points/delete":
			deletes++
			_, _ = w.Write([]byte(`{"status":"ok"}`))

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	input := []any{
		map[string]any{"id": "a", "body": "first", "title": "T1"},
		map[string]any{"id": "b", "body": "second", "title": "T2"},
		map[string]any{"id": "c", "body": "", "title": "empty"},
		map[string]any{"body": "third", "title": "T3"},
	}
	nctx := testContext(TypeVectorDatabase, map[string]any{
		"embedding":      map[string]any{"provider": "openai", "url": srv.URL + "/v1"},
		"store":          map[string]any{"provider": "qdrant", "url": srv.URL, "collection": "docs"},
		"textField":      "body",
		"metadataFields": []any{"title"},
		"mode":           "replace",
		"batchSize":      2,
	}, input)

	res := NewVectorOutput().Execute(context.Background(), nctx)
	if !res.Success {
		t.Fatalf("unexpected failure: %s", res.Error)
	}

	if deletes != 1 {
		t.Errorf("replace mode should clear the collection once, got %d", deletes)
	}
	if diff := cmp.Diff([][]any{{"first", "second"}, {"third"}}, batches); diff != "" {
		t.Errorf("embedding batches mismatch (-want +got):\n%s", diff)
	}
	if len(upserted) != 3 {
		t.Fatalf("expected 3 points, got %d", len(upserted))
	}
	payload := upserted[0]["payload"].(map[string]any)
	if payload["_id"] != "a" || payload["title"] != "T1" || payload["text"] != "first" {
		t.Errorf("unexpected payload: %v", payload)
	}
	if upserted[0]["id"] != services.QdrantID("a") {
		t.Errorf("point id = %v", upserted[0]["id"])
	}
	if res.Metadata["batches"] != 2 {
		t.Errorf("metadata = %v", res.Metadata)
	}

	t.Run("update requires ids", func(t *testing.T) {
		nctx := testContext(TypeVectorDatabase, map[string]any{
			"embedding": map[string]any{"provider": "openai", "url": srv.URL + "/v1"},
			"store":     map[string]any{"provider": "qdrant", "url": srv.URL, "collection": "docs"},
			"mode":      "update",
		}, []any{map[string]any{"text": "no id"}})
		res := NewVectorOutput().Execute(context.Background(), nctx)
		if res.Success {
			t.Error("expected failure for record without id")
		}
	})
}

func TestNewMailer_ProcessDefault(t *testing.T) {
	bundle := services.NewMemoryBundle()
	if _, err := newMailer(&EmailConfig{Provider: ProviderSMTP}, bundle); err == nil {
		t.Fatal("smtp without host and without default mailer must fail")
	}

	def := &fakeMailer{}
	bundle.Mailer = def
	got, err := newMailer(&EmailConfig{Provider: ProviderSMTP}, bundle)
	if err != nil {
		t.Fatalf("newMailer() error = %v", err)
	}
	if got != def {
		t.Errorf("newMailer() = %T, want process default", got)
	}
}

func TestTruncate_RuneBoundary(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", "ok", 10, "ok"},
		{"ascii", "abcdef", 3, "abc..."},
		{"cyrillic split", "привет", 3, "п..."},
		{"cyrillic exact", "привет", 4, "пр..."},
		{"emoji", "a😀b", 3, "a..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.in, tt.n)
			if got != tt.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("truncate produced invalid UTF-8: %q", got)
			}
		})
	}
}
