package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/shaiso/Nodeflow/internal/engine"
)

// hostPath — import path хост-пакета внутри интерпретатора.
const hostPath = "nodeflow/wf"

// ConsoleEntry — одна запись консоли.
type ConsoleEntry struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Console собирает вызовы console.* в упорядоченный лог и
// дублирует их в slog хоста.
type Console struct {
	mu      sync.Mutex
	entries []ConsoleEntry
	limit   int
	dropped int
	logger  *slog.Logger
}

func newConsole(limit int, logger *slog.Logger) *Console {
	return &Console{limit: limit, logger: logger}
}

// Log пишет запись уровня log.
func (c *Console) Log(args ...interface{}) { c.add("log", args) }

// Info пишет запись уровня info.
func (c *Console) Info(args ...interface{}) { c.add("info", args) }

// Warn пишет запись уровня warn.
func (c *Console) Warn(args ...interface{}) { c.add("warn", args) }

// Error пишет запись уровня error.
func (c *Console) Error(args ...interface{}) { c.add("error", args) }

// Debug пишет запись уровня debug.
func (c *Console) Debug(args ...interface{}) { c.add("debug", args) }

func (c *Console) add(kind string, args []interface{}) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = engine.Stringify(a)
	}
	c.write(kind, strings.Join(parts, " "))
}

func (c *Console) write(kind, msg string) {
	entry := ConsoleEntry{Type: kind, Message: msg, Timestamp: time.Now().UTC()}

	c.mu.Lock()
	if c.limit > 0 && len(c.entries) >= c.limit {
		c.dropped++
	} else {
		c.entries = append(c.entries, entry)
	}
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Log(context.Background(), consoleLevel(kind), "sandbox console",
			"type", kind,
			"message", msg,
		)
	}
}

// Entries возвращает копию записей.
func (c *Console) Entries() []ConsoleEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ConsoleEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Dropped возвращает число записей, не попавших в лог из-за лимита.
func (c *Console) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

func consoleLevel(kind string) slog.Level {
	switch kind {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// lineWriter превращает вывод println/fmt.Print в записи консоли.
type lineWriter struct {
	console *Console
	kind    string
	mu      sync.Mutex
	buf     strings.Builder
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, b := range p {
		if b == '\n' {
			w.console.write(w.kind, w.buf.String())
			w.buf.Reset()
			continue
		}
		w.buf.WriteByte(b)
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.console.write(w.kind, w.buf.String())
		w.buf.Reset()
	}
}

// Group — асинхронные задачи кода. Все задачи ожидаются в пределах
// того же таймаута, что и сам код.
type Group struct {
	wg     sync.WaitGroup
	mu     sync.Mutex
	errors []string
}

// Go запускает fn в отдельной горутине.
func (g *Group) Go(fn func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				g.mu.Lock()
				g.errors = append(g.errors, fmt.Sprint(r))
				g.mu.Unlock()
			}
		}()
		fn()
	}()
}

func (g *Group) wait() {
	g.wg.Wait()
}

func (g *Group) failure() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.errors) == 0 {
		return nil
	}
	return &ThrownError{Message: strings.Join(g.errors, "; "), Panic: true}
}

// CallResult — результат одного вызова пользовательской функции.
type CallResult struct {
	Value any
	Err   error
}

// run — состояние одного запуска, доступное коду через хост-пакет.
type run struct {
	ctx     context.Context
	calls   [][]any
	results []CallResult
	console *Console
	tasks   *Group
}

func (r *run) arg(call, i int) interface{} {
	if call < 0 || call >= len(r.calls) || i < 0 || i >= len(r.calls[call]) {
		return nil
	}
	return r.calls[call][i]
}

func (r *run) ret(call int, v interface{}, err error) {
	if call < 0 || call >= len(r.results) {
		return
	}
	if err != nil {
		r.results[call] = CallResult{Err: &ThrownError{Message: err.Error()}}
		return
	}
	r.results[call] = CallResult{Value: v}
}

// sleep приостанавливает код на ms миллисекунд. Прерывается по таймауту
// или отмене запуска и возвращает ошибку контекста.
func (r *run) sleep(ms float64) error {
	t := time.NewTimer(time.Duration(ms * float64(time.Millisecond)))
	defer t.Stop()
	select {
	case <-r.ctx.Done():
		return r.ctx.Err()
	case <-t.C:
		return nil
	}
}

func (r *run) fail(call int, rec interface{}) {
	if call < 0 || call >= len(r.results) {
		return
	}
	r.results[call] = CallResult{Err: &ThrownError{Message: fmt.Sprint(rec), Panic: true}}
}

// exports описывает хост-пакет "nodeflow/wf" для этого запуска.
func (r *run) exports() map[string]map[string]reflect.Value {
	return map[string]map[string]reflect.Value{
		hostPath + "/wf": {
			"Console": reflect.ValueOf((*Console)(nil)),
			"Group":   reflect.ValueOf((*Group)(nil)),

			"Calls":  reflect.ValueOf(func() int { return len(r.calls) }),
			"Arg":    reflect.ValueOf(r.arg),
			"Return": reflect.ValueOf(r.ret),
			"Fail":   reflect.ValueOf(r.fail),
			"Log":    reflect.ValueOf(func() *Console { return r.console }),
			"Tasks":  reflect.ValueOf(func() *Group { return r.tasks }),
			"Wait":   reflect.ValueOf(r.tasks.wait),
			"Sleep":  reflect.ValueOf(r.sleep),

			"Error": reflect.ValueOf(hostError),
			"Get":   reflect.ValueOf(hostGet),
			"Map":   reflect.ValueOf(hostMap),
			"Items": reflect.ValueOf(hostItems),
			"Str":   reflect.ValueOf(engine.Stringify),
			"Num":   reflect.ValueOf(hostNum),
			"Bool":  reflect.ValueOf(hostBool),
		},
	}
}

func hostError(msg string) error {
	return errors.New(msg)
}

// hostGet достаёт значение по пути "a.b[0]".
func hostGet(v interface{}, path string) interface{} {
	out, _ := engine.LookupPath(v, path)
	return out
}

func hostMap(v interface{}) map[string]interface{} {
	if m, ok := v.(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{}
}

func hostItems(v interface{}) []interface{} {
	switch val := v.(type) {
	case []interface{}:
		return val
	case nil:
		return []interface{}{}
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]interface{}, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out
	}
	return []interface{}{v}
}

func hostNum(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case int32:
		return float64(n)
	case uint:
		return float64(n)
	case uint64:
		return float64(n)
	case bool:
		if n {
			return 1
		}
		return 0
	case string:
		var f float64
		if _, err := fmt.Sscan(strings.TrimSpace(n), &f); err == nil {
			return f
		}
	}
	return 0
}

func hostBool(v interface{}) bool {
	switch b := v.(type) {
	case nil:
		return false
	case bool:
		return b
	case string:
		s := strings.ToLower(strings.TrimSpace(b))
		return s != "" && s != "false" && s != "0"
	case map[string]interface{}, []interface{}:
		return true
	}
	return hostNum(v) != 0
}
