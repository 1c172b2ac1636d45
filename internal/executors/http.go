package executors

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/shaiso/Nodeflow/internal/engine"
	"github.com/shaiso/Nodeflow/internal/services"
)

// maxResponseBody — предел читаемого тела ответа.
const maxResponseBody = 10 * 1024 * 1024 // 10 MB

// Схемы аутентификации исходящих запросов.
const (
	AuthNone   = "none"
	AuthBasic  = "basic"
	AuthBearer = "bearer"
	AuthAPIKey = "apikey"
)

// AuthConfig — аутентификация исходящего запроса.
//
// Secret — имя секрета в services.Secrets; если задан, его значение
// заменяет password (basic), token (bearer) или apiKey (apikey).
//
//	{"type": "bearer", "secret": "CRM_TOKEN"}
//	{"type": "apikey", "header": "X-API-Key", "apiKey": "{{env.KEY}}"}
//	{"type": "apikey", "in": "query", "param": "key", "secret": "MAPS_KEY"}
type AuthConfig struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Password string `json:"password"`
	Token    string `json:"token"`
	APIKey   string `json:"apiKey"`
	Header   string `json:"header"`
	In       string `json:"in"`
	Param    string `json:"param"`
	Secret   string `json:"secret"`
}

// validate проверяет тип аутентификации.
func (a *AuthConfig) validate() error {
	switch a.Type {
	case "", AuthNone, AuthBasic, AuthBearer, AuthAPIKey:
		return nil
	}
	return fmt.Errorf("%w: auth type %q", ErrUnsupportedMode, a.Type)
}

// credential возвращает значение учётных данных: секрет или шаблон.
func (a *AuthConfig) credential(fallback string, bundle *services.Bundle, data any) (string, error) {
	if a.Secret != "" {
		return bundle.Secret(a.Secret)
	}
	return engine.Resolve(fallback, data), nil
}

// apply добавляет аутентификацию к запросу.
func (a *AuthConfig) apply(req *http.Request, bundle *services.Bundle, data any) error {
	switch a.Type {
	case "", AuthNone:
		return nil

	case AuthBasic:
		password, err := a.credential(a.Password, bundle, data)
		if err != nil {
			return err
		}
		user := engine.Resolve(a.Username, data)
		token := base64.StdEncoding.EncodeToString([]byte(user + ":" + password))
		req.Header.Set("Authorization", "Basic "+token)

	case AuthBearer:
		token, err := a.credential(a.Token, bundle, data)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)

	case AuthAPIKey:
		key, err := a.credential(a.APIKey, bundle, data)
		if err != nil {
			return err
		}
		if a.In == "query" {
			param := a.Param
			if param == "" {
				param = "api_key"
			}
			q := req.URL.Query()
			q.Set(param, key)
			req.URL.RawQuery = q.Encode()
			return nil
		}
		header := a.Header
		if header == "" {
			header = "X-API-Key"
		}
		req.Header.Set(header, key)
	}
	return nil
}

// withQuery добавляет параметры к URL.
func withQuery(raw string, query map[string]string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("url %q: scheme must be http or https", raw)
	}
	if len(query) == 0 {
		return u.String(), nil
	}
	q := u.Query()
	for k, v := range query {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// errInvalidJSONBody — строковое тело не является JSON при bodyType=json.
var errInvalidJSONBody = errors.New("body is not valid JSON")

// serializeBody сериализует тело запроса и возвращает Content-Type.
//
// Для bodyType=json строка должна быть валидным JSON, иначе
// errInvalidJSONBody. Для text объекты сериализуются в JSON.
func serializeBody(body any, bodyType string) ([]byte, string, error) {
	switch v := body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return v, "application/octet-stream", nil
	case string:
		if bodyType == "text" {
			return []byte(v), "text/plain; charset=utf-8", nil
		}
		if !json.Valid([]byte(v)) {
			return nil, "", errInvalidJSONBody
		}
		return []byte(v), "application/json", nil
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, "", fmt.Errorf("encode body: %w", err)
	}
	if bodyType == "text" {
		return raw, "text/plain; charset=utf-8", nil
	}
	return raw, "application/json", nil
}

// httpResponse — разобранный ответ.
type httpResponse struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers"`
	Body       any               `json:"body"`
}

// parseResponse читает тело (не больше maxResponseBody).
// JSON разбирается, остальное возвращается строкой.
func parseResponse(resp *http.Response) (*httpResponse, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	var body any
	if strings.Contains(resp.Header.Get("Content-Type"), "json") && len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			body = string(raw)
		}
	} else {
		body = string(raw)
	}

	return &httpResponse{StatusCode: resp.StatusCode, Headers: headers, Body: body}, nil
}

// doJSON отправляет JSON-запрос и декодирует JSON-ответ в out (если не nil).
// Статус вне 2xx — *HTTPError.
func doJSON(ctx context.Context, client *http.Client, method, endpoint string, headers map[string]string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{StatusCode: resp.StatusCode, Status: http.StatusText(resp.StatusCode), Body: truncate(string(raw), 2048)}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// httpDetails — errorDetails для *HTTPError.
func httpDetails(err error) map[string]any {
	var herr *HTTPError
	if !errors.As(err, &herr) {
		return nil
	}
	return map[string]any{"statusCode": herr.StatusCode, "body": herr.Body}
}

// truncate обрезает s до n байт, не разрывая UTF-8 символ.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
