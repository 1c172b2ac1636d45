package sandbox

import (
	"fmt"
	"path"
	"reflect"
	"sort"
	"strings"

	"github.com/traefik/yaegi/stdlib"
)

// libraries — разрешённые библиотеки и пакеты, которые они открывают.
var libraries = map[string][]string{
	"strings": {"strings", "unicode"},
	"strconv": {"strconv"},
	"math":    {"math"},
	"sort":    {"sort"},
	"time":    {"time"},
	"json":    {"encoding/json"},
	"regexp":  {"regexp"},
	"hash":    {"crypto/sha256", "crypto/sha1", "crypto/md5", "encoding/hex", "encoding/base64"},
	"fmt":     {"fmt"},
}

// aliases — альтернативные имена библиотек.
var aliases = map[string]string{
	"date":   "time",
	"crypto": "hash",
}

// Libraries возвращает отсортированный список имён разрешённых библиотек.
func Libraries() []string {
	out := make([]string, 0, len(libraries))
	for name := range libraries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// resolveLibraries возвращает import paths для набора библиотек.
func resolveLibraries(names []string) ([]string, error) {
	seen := make(map[string]bool)
	var paths []string
	for _, name := range names {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		if alias, ok := aliases[key]; ok {
			key = alias
		}
		pkgs, ok := libraries[key]
		if !ok {
			return nil, fmt.Errorf("%w: %s (allowed: %s)", ErrUnknownLibrary, name, strings.Join(Libraries(), ", "))
		}
		for _, p := range pkgs {
			if !seen[p] {
				seen[p] = true
				paths = append(paths, p)
			}
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// hiddenSymbols — функции разрешённых пакетов, блокирующие без учёта
// таймаута запуска. Вместо time.Sleep код вызывает wf.Sleep.
var hiddenSymbols = map[string]map[string]bool{
	"time": {"Sleep": true, "After": true, "Tick": true},
}

// symbols выбирает из stdlib.Symbols только указанные пакеты.
// Ключи yaegi имеют вид "encoding/json/json".
func symbols(paths []string) map[string]map[string]reflect.Value {
	out := make(map[string]map[string]reflect.Value, len(paths))
	for _, p := range paths {
		key := p + "/" + path.Base(p)
		syms, ok := stdlib.Symbols[key]
		if !ok {
			continue
		}
		if hidden := hiddenSymbols[p]; len(hidden) > 0 {
			filtered := make(map[string]reflect.Value, len(syms))
			for name, v := range syms {
				if !hidden[name] {
					filtered[name] = v
				}
			}
			syms = filtered
		}
		out[key] = syms
	}
	return out
}
