package sandbox

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// Специальные параметры, которые заполняются хостом, а не аргументами вызова.
const (
	ParamConsole = "console"
	ParamTasks   = "tasks"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// returnRe ищет оператор return как отдельное слово.
var returnRe = regexp.MustCompile(`\breturn\b`)

// buildSource собирает программу для интерпретатора:
//
//	package main
//	import (...)                       // только используемые разрешённые пакеты
//	func nfUser(params...) (interface{}, error) { <code> }
//	func nfCall(n int) { ... }          // вызов с recover
//	func nfInvoke() { ... }             // все вызовы, затем ожидание задач
func buildSource(code string, params []string, allowed []string) (string, error) {
	body := strings.TrimSpace(code)
	if body == "" {
		return "", &CompileError{Err: fmt.Errorf("empty code")}
	}
	// Однострочное выражение без return считаем возвращаемым значением.
	// Значение сначала присваивается переменной interface{}: интерпретатор
	// не умеет возвращать нетипизированный bool сравнения через interface{}.
	if !returnRe.MatchString(body) && !strings.Contains(body, "\n") {
		body = "var nfV interface{} = " + body + "\nreturn nfV, nil"
	} else {
		body = rewriteReturns(body)
	}

	seen := make(map[string]bool, len(params))
	for _, p := range params {
		if !identRe.MatchString(p) {
			return "", &CompileError{Err: fmt.Errorf("invalid parameter name %q", p)}
		}
		if seen[p] {
			return "", &CompileError{Err: fmt.Errorf("duplicate parameter %q", p)}
		}
		seen[p] = true
	}

	var b strings.Builder
	b.WriteString("package main\n\nimport (\n")
	fmt.Fprintf(&b, "\t%q\n", hostPath)
	for _, p := range usedPackages(body, allowed) {
		fmt.Fprintf(&b, "\t%q\n", p)
	}
	b.WriteString(")\n\n")

	decl := make([]string, len(params))
	args := make([]string, len(params))
	pos := 0
	for i, p := range params {
		switch p {
		case ParamConsole:
			decl[i] = p + " *wf.Console"
			args[i] = "wf.Log()"
		case ParamTasks:
			decl[i] = p + " *wf.Group"
			args[i] = "wf.Tasks()"
		default:
			decl[i] = p + " interface{}"
			args[i] = fmt.Sprintf("wf.Arg(n, %d)", pos)
			pos++
		}
	}

	fmt.Fprintf(&b, "func nfUser(%s) (interface{}, error) {\n%s\n}\n\n", strings.Join(decl, ", "), body)
	b.WriteString("func nfCall(n int) {\n")
	b.WriteString("\tdefer func() {\n\t\tif r := recover(); r != nil {\n\t\t\twf.Fail(n, r)\n\t\t}\n\t}()\n")
	fmt.Fprintf(&b, "\tv, err := nfUser(%s)\n", strings.Join(args, ", "))
	b.WriteString("\twf.Return(n, v, err)\n}\n\n")
	b.WriteString("func nfInvoke() {\n\tfor n := 0; n < wf.Calls(); n++ {\n\t\tnfCall(n)\n\t}\n\twf.Wait()\n}\n")
	return b.String(), nil
}

// rewriteReturns переписывает строки вида "return <a> op <b>, <err>",
// где первое значение — логическое выражение, в
// "{ var nfV interface{} = <expr>; return nfV, <err> }".
// Выражения, занимающие несколько строк, не переписываются: их нужно
// присвоить переменной до return.
func rewriteReturns(body string) string {
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "return ") {
			continue
		}
		parts, ok := splitTopLevel(strings.TrimPrefix(trimmed, "return "))
		if !ok || len(parts) != 2 || !isBoolExpr(parts[0]) {
			continue
		}
		indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		lines[i] = fmt.Sprintf("%s{ var nfV interface{} = %s; return nfV, %s }", indent, parts[0], parts[1])
	}
	return strings.Join(lines, "\n")
}

// splitTopLevel делит список выражений по запятым вне скобок и литералов.
// ok=false, если скобки не сбалансированы или строка содержит комментарий.
func splitTopLevel(s string) ([]string, bool) {
	var parts []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '"', '\'', '`':
			for i++; i < len(s) && s[i] != c; i++ {
				if s[i] == '\\' && c != '`' {
					i++
				}
			}
			if i >= len(s) {
				return nil, false
			}
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
			if depth < 0 {
				return nil, false
			}
		case '/':
			if i+1 < len(s) && (s[i+1] == '/' || s[i+1] == '*') {
				return nil, false
			}
		case ',':
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, false
	}
	return append(parts, strings.TrimSpace(s[start:])), true
}

// boolOpRe — операторы, дающие нетипизированный bool.
var boolOpRe = regexp.MustCompile(`==|!=|<=|>=|&&|\|\||[<>!]`)

func isBoolExpr(expr string) bool {
	return boolOpRe.MatchString(stripLiterals(expr))
}

// usedPackages возвращает пакеты из allowed, на которые ссылается код ("pkg.").
func usedPackages(body string, allowed []string) []string {
	stripped := stripLiterals(body)
	var out []string
	for _, p := range allowed {
		name := path.Base(p)
		re := regexp.MustCompile(`\b` + regexp.QuoteMeta(name) + `\.`)
		if re.MatchString(stripped) {
			out = append(out, p)
		}
	}
	return out
}

// stripLiterals убирает строковые литералы и комментарии,
// чтобы "strings." внутри строки не считался импортом.
func stripLiterals(src string) string {
	var b strings.Builder
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case c == '"' || c == '\'':
			for i++; i < len(src) && src[i] != c; i++ {
				if src[i] == '\\' {
					i++
				}
			}
			b.WriteString(`""`)
		case c == '`':
			for i++; i < len(src) && src[i] != '`'; i++ {
			}
			b.WriteString(`""`)
		case c == '/' && i+1 < len(src) && src[i+1] == '/':
			for i < len(src) && src[i] != '\n' {
				i++
			}
			b.WriteByte('\n')
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
