package services

import (
	"os"
	"strings"
)

// Secrets — поиск секретов по имени в стиле переменной окружения.
type Secrets interface {
	Lookup(name string) (string, bool)
}

// EnvSecrets читает секреты из переменных окружения.
// Prefix ограничивает видимые переменные: при Prefix = "NODEFLOW_SECRET_"
// имя "API_KEY" ищется как NODEFLOW_SECRET_API_KEY.
type EnvSecrets struct {
	Prefix string
}

// Lookup реализует Secrets.
func (s EnvSecrets) Lookup(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}
	return os.LookupEnv(s.Prefix + name)
}

// MapSecrets — секреты из map (для тестов и локального запуска).
type MapSecrets map[string]string

// Lookup реализует Secrets.
func (s MapSecrets) Lookup(name string) (string, bool) {
	v, ok := s[name]
	return v, ok
}
