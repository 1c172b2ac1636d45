package executors

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"github.com/shaiso/Nodeflow/internal/domain"
	"github.com/shaiso/Nodeflow/internal/engine"
)

// TypeGraphDatabase — запись в графовую БД (Neo4j HTTP API).
const TypeGraphDatabase = "graph-database"

// Операции graph-database.
const (
	GraphCreate = "create"
	GraphMerge  = "merge"
	GraphUpdate = "update"
	GraphDelete = "delete"
	GraphQuery  = "query"
)

// identRe — допустимые метки, типы связей и ключи свойств.
var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// GraphEndpoint — узел связи: метка и свойства для поиска.
type GraphEndpoint struct {
	Label string `json:"label"`
	Match any    `json:"match"`
}

// GraphConfig — конфигурация graph-database.
//
//	{
//	    "url": "http://neo4j:7474",
//	    "username": "neo4j",
//	    "passwordSecret": "NEO4J_PASSWORD",
//	    "operation": "merge",
//	    "entity": "node",
//	    "label": "Customer",
//	    "match": {"email": "{{input.email}}"},
//	    "properties": {"name": "{{input.name}}"}
//	}
//
// Для entity=relationship задаются relationshipType, from и to.
// operation=query выполняет query с parameters как есть.
type GraphConfig struct {
	URL              string        `json:"url"`
	Database         string        `json:"database"`
	Username         string        `json:"username"`
	PasswordSecret   string        `json:"passwordSecret"`
	Operation        string        `json:"operation"`
	Entity           string        `json:"entity"`
	Label            string        `json:"label"`
	Match            any           `json:"match"`
	Properties       any           `json:"properties"`
	RelationshipType string        `json:"relationshipType"`
	From             GraphEndpoint `json:"from"`
	To               GraphEndpoint `json:"to"`
	Query            string        `json:"query"`
	Parameters       any           `json:"parameters"`
}

var graphMeta = domain.ExecutorMetadata{
	Type:           TypeGraphDatabase,
	Category:       domain.CategoryOutput,
	AllowedInputs:  []string{domain.AnyCapability},
	AllowedOutputs: []string{},
	MaxInputs:      1,
	MaxOutputs:     0,
	IsAsync:        true,
	RequiresAuth:   true,
	DefaultData: map[string]any{
		"database":   "neo4j",
		"operation":  GraphCreate,
		"entity":     "node",
		"properties": "{{input}}",
		"retryCount": 2,
		"retryDelay": 1000,
	},
	Schema: `{
		"type": "object",
		"required": ["url"],
		"properties": {
			"url": {"type": "string", "minLength": 1},
			"operation": {"enum": ["create", "merge", "update", "delete", "query"]},
			"entity": {"enum": ["node", "relationship"]},
			"label": {"type": "string", "pattern": "^[A-Za-z_][A-Za-z0-9_]*$"},
			"relationshipType": {"type": "string", "pattern": "^[A-Za-z_][A-Za-z0-9_]*$"},
			"query": {"type": "string"}
		},
		"allOf": [
			{
				"if": {"properties": {"operation": {"const": "query"}}, "required": ["operation"]},
				"then": {"required": ["query"]}
			},
			{
				"if": {"properties": {"entity": {"const": "relationship"}}, "required": ["entity"]},
				"then": {"required": ["relationshipType", "from", "to"]}
			}
		]
	}`,
}

// cypherStatement — один запрос транзакции.
type cypherStatement struct {
	Statement  string         `json:"statement"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// cypherResponse — ответ /tx/commit.
type cypherResponse struct {
	Results []struct {
		Columns []string `json:"columns"`
		Data    []struct {
			Row []any `json:"row"`
		} `json:"data"`
	} `json:"results"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// GraphOutput — executor graph-database.
type GraphOutput struct {
	base
}

// NewGraphOutput создаёт executor graph-database.
func NewGraphOutput() *GraphOutput {
	return &GraphOutput{base: base{meta: graphMeta}}
}

// Execute выполняет все запросы одной транзакцией.
func (e *GraphOutput) Execute(ctx context.Context, nctx *NodeContext) *domain.NodeResult {
	var cfg GraphConfig
	if err := decodeConfig(nctx.Node, e.meta, &cfg); err != nil {
		return domain.Failed(err, nil)
	}

	var contexts []map[string]any
	if arr, ok := asSlice(nctx.Input); ok && cfg.Operation != GraphQuery {
		for i, item := range arr {
			contexts = append(contexts, nctx.ItemData(item, i))
		}
	} else {
		contexts = append(contexts, nctx.TemplateData())
	}

	statements := make([]cypherStatement, 0, len(contexts))
	for _, data := range contexts {
		st, err := buildCypher(&cfg, data)
		if err != nil {
			return configFailure("graph-database: %w", err)
		}
		statements = append(statements, st)
	}

	headers := map[string]string{}
	if cfg.Username != "" {
		password := ""
		if cfg.PasswordSecret != "" {
			p, err := nctx.Services.Secret(cfg.PasswordSecret)
			if err != nil {
				return configFailure("graph-database: %w", err)
			}
			password = p
		}
		headers["Authorization"] = "Basic " + base64.StdEncoding.EncodeToString([]byte(cfg.Username+":"+password))
	}

	endpoint := strings.TrimRight(cfg.URL, "/") + "/db/" + cfg.Database + "/tx/commit"
	var resp cypherResponse
	err := doJSON(ctx, nctx.Services.Client(), http.MethodPost, endpoint, headers,
		map[string]any{"statements": statements}, &resp)
	if err != nil {
		return execFailure(ctx, err, httpDetails(err))
	}
	if len(resp.Errors) > 0 {
		return execFailure(ctx, fmt.Errorf("%s: %s", resp.Errors[0].Code, resp.Errors[0].Message),
			map[string]any{"errors": resp.Errors})
	}

	results := make([]any, 0, len(resp.Results))
	for _, r := range resp.Results {
		rows := make([]any, 0, len(r.Data))
		for _, d := range r.Data {
			row := make(map[string]any, len(r.Columns))
			for i, col := range r.Columns {
				if i < len(d.Row) {
					row[col] = d.Row[i]
				}
			}
			rows = append(rows, row)
		}
		results = append(results, rows)
	}

	var data any = results
	if len(results) == 1 {
		data = results[0]
	}
	return domain.Succeeded(data, map[string]any{
		"operation":  cfg.Operation,
		"entity":     cfg.Entity,
		"statements": len(statements),
	})
}

// buildCypher строит запрос для одного элемента.
// Значения передаются только параметрами; метки и ключи проверяются identRe.
func buildCypher(cfg *GraphConfig, data map[string]any) (cypherStatement, error) {
	if cfg.Operation == GraphQuery {
		if strings.TrimSpace(cfg.Query) == "" {
			return cypherStatement{}, fmt.Errorf("%w: query", ErrMissingField)
		}
		params, _ := engine.ResolveValue(cfg.Parameters, data).(map[string]any)
		return cypherStatement{Statement: cfg.Query, Parameters: params}, nil
	}

	props, _ := engine.ResolveValue(cfg.Properties, data).(map[string]any)
	if props == nil {
		props = map[string]any{}
	}

	if cfg.Entity == "relationship" {
		return buildRelationship(cfg, props, data)
	}

	label, err := ident(cfg.Label, "label")
	if err != nil {
		return cypherStatement{}, err
	}
	match, _ := engine.ResolveValue(cfg.Match, data).(map[string]any)
	params := map[string]any{"props": props, "match": match}

	var q string
	switch cfg.Operation {
	case GraphCreate:
		q = fmt.Sprintf("CREATE (n:%s) SET n = $props RETURN n", label)
	case GraphMerge:
		pattern, err := matchPattern("match", match)
		if err != nil {
			return cypherStatement{}, err
		}
		q = fmt.Sprintf("MERGE (n:%s %s) SET n += $props RETURN n", label, pattern)
	case GraphUpdate, GraphDelete:
		where, err := whereClause("n", "match", match)
		if err != nil {
			return cypherStatement{}, err
		}
		if cfg.Operation == GraphUpdate {
			q = fmt.Sprintf("MATCH (n:%s) WHERE %s SET n += $props RETURN n", label, where)
		} else {
			q = fmt.Sprintf("MATCH (n:%s) WHERE %s DETACH DELETE n RETURN count(n) AS deleted", label, where)
		}
	default:
		return cypherStatement{}, fmt.Errorf("%w: operation %q", ErrUnsupportedMode, cfg.Operation)
	}
	return cypherStatement{Statement: q, Parameters: params}, nil
}

func buildRelationship(cfg *GraphConfig, props map[string]any, data map[string]any) (cypherStatement, error) {
	relType, err := ident(cfg.RelationshipType, "relationshipType")
	if err != nil {
		return cypherStatement{}, err
	}
	fromLabel, err := ident(cfg.From.Label, "from.label")
	if err != nil {
		return cypherStatement{}, err
	}
	toLabel, err := ident(cfg.To.Label, "to.label")
	if err != nil {
		return cypherStatement{}, err
	}
	from, _ := engine.ResolveValue(cfg.From.Match, data).(map[string]any)
	to, _ := engine.ResolveValue(cfg.To.Match, data).(map[string]any)

	fromWhere, err := whereClause("a", "from", from)
	if err != nil {
		return cypherStatement{}, err
	}
	toWhere, err := whereClause("b", "to", to)
	if err != nil {
		return cypherStatement{}, err
	}
	params := map[string]any{"props": props, "from": from, "to": to}

	var q string
	switch cfg.Operation {
	case GraphCreate, GraphMerge:
		verb := "CREATE"
		if cfg.Operation == GraphMerge {
			verb = "MERGE"
		}
		q = fmt.Sprintf("MATCH (a:%s), (b:%s) WHERE %s AND %s %s (a)-[r:%s]->(b) SET r += $props RETURN r",
			fromLabel, toLabel, fromWhere, toWhere, verb, relType)
	case GraphUpdate:
		q = fmt.Sprintf("MATCH (a:%s)-[r:%s]->(b:%s) WHERE %s AND %s SET r += $props RETURN r",
			fromLabel, relType, toLabel, fromWhere, toWhere)
	case GraphDelete:
		q = fmt.Sprintf("MATCH (a:%s)-[r:%s]->(b:%s) WHERE %s AND %s DELETE r RETURN count(r) AS deleted",
			fromLabel, relType, toLabel, fromWhere, toWhere)
	default:
		return cypherStatement{}, fmt.Errorf("%w: operation %q", ErrUnsupportedMode, cfg.Operation)
	}
	return cypherStatement{Statement: q, Parameters: params}, nil
}

// ident проверяет идентификатор и заключает его в обратные кавычки.
func ident(name, field string) (string, error) {
	if !identRe.MatchString(name) {
		return "", fmt.Errorf("invalid %s %q", field, name)
	}
	return "`" + name + "`", nil
}

// matchPattern строит {k: $param.k, ...} с ключами в стабильном порядке.
func matchPattern(param string, match map[string]any) (string, error) {
	keys, err := matchKeys(match)
	if err != nil {
		return "", err
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("`%s`: $%s.`%s`", k, param, k)
	}
	return "{" + strings.Join(parts, ", ") + "}", nil
}

// whereClause строит v.k = $param.k AND ...
func whereClause(v, param string, match map[string]any) (string, error) {
	keys, err := matchKeys(match)
	if err != nil {
		return "", err
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s.`%s` = $%s.`%s`", v, k, param, k)
	}
	return strings.Join(parts, " AND "), nil
}

func matchKeys(match map[string]any) ([]string, error) {
	if len(match) == 0 {
		return nil, fmt.Errorf("%w: match", ErrMissingField)
	}
	keys := make([]string, 0, len(match))
	for k := range match {
		if !identRe.MatchString(k) {
			return nil, fmt.Errorf("invalid property key %q", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
