package domain

// Category — семейство executor'а.
type Category string

const (
	CategoryTrigger   Category = "trigger"
	CategoryTransform Category = "transform"
	CategoryOutput    Category = "output"
)

// Unlimited — значение MaxInputs/MaxOutputs без ограничения.
const Unlimited = -1

// AnyCapability совпадает с любой возможностью.
const AnyCapability = "*"

// ExecutorMetadata — статическое описание типа узла.
//
// Используется при валидации графа (MaxInputs/MaxOutputs, совместимость
// возможностей, Schema) и как подсказки для редактора.
type ExecutorMetadata struct {
	// Type — ключ в реестре.
	Type string `json:"type"`

	// Category — trigger, transform или output.
	Category Category `json:"category"`

	// AllowedInputs — возможности, которые узел принимает на вход (["*"] = любые).
	AllowedInputs []string `json:"allowedInputs"`

	// AllowedOutputs — возможности, которые узел выдаёт.
	AllowedOutputs []string `json:"allowedOutputs"`

	// MaxInputs — максимум входящих соединений (0 = запрещены, -1 = без ограничения).
	MaxInputs int `json:"maxInputs"`

	// MaxOutputs — максимум исходящих соединений (0 = терминальный узел).
	MaxOutputs int `json:"maxOutputs"`

	// IsAsync — executor выполняет сетевой I/O или ждёт.
	IsAsync bool `json:"isAsync"`

	// RequiresAuth — executor требует учётные данные.
	RequiresAuth bool `json:"requiresAuth"`

	// MultiInput — executor получает упорядоченный массив inputs[]
	// вместо одного input (только merge).
	MultiInput bool `json:"multiInput,omitempty"`

	// DefaultData — значения конфигурации по умолчанию.
	DefaultData map[string]any `json:"defaultData,omitempty"`

	// Schema — JSON Schema для Node.Data.
	Schema string `json:"schema,omitempty"`
}

// IsTrigger возвращает true для триггеров.
func (m ExecutorMetadata) IsTrigger() bool {
	return m.Category == CategoryTrigger
}

// Accepts проверяет, принимает ли узел хотя бы одну из возможностей источника.
func (m ExecutorMetadata) Accepts(outputs []string) bool {
	if len(m.AllowedInputs) == 0 || len(outputs) == 0 {
		return false
	}
	for _, in := range m.AllowedInputs {
		if in == AnyCapability {
			return true
		}
		for _, out := range outputs {
			if out == AnyCapability || out == in {
				return true
			}
		}
	}
	return false
}
