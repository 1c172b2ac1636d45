package executors

import (
	"time"

	"github.com/shaiso/Nodeflow/internal/domain"
)

// Значения errorHandling.
const (
	ErrorFail     = "fail"
	ErrorContinue = "continue"
	ErrorRetry    = "retry"
)

// Параметры повторов.
const (
	DefaultRetryCount = 3
	DefaultRetryDelay = time.Second
	MaxRetryDelay     = 5 * time.Minute
)

// Policy — политика повторов и обработки ошибок узла.
type Policy struct {
	// RetryCount — число повторов после первой попытки.
	RetryCount int

	// RetryDelay — базовая задержка; задержка перед повтором n
	// равна RetryDelay * 2^(n-1).
	RetryDelay time.Duration

	// ErrorHandling — fail, continue или retry.
	ErrorHandling string
}

// PolicyFor читает retryCount, retryDelay (мс) и errorHandling из data узла,
// затем из DefaultData executor'а.
//
// errorHandling=retry без retryCount даёт DefaultRetryCount повторов.
// retryCount > 0 включает повторы при любом errorHandling.
func PolicyFor(node *domain.Node, meta domain.ExecutorMetadata) Policy {
	get := func(key string) (any, bool) {
		if node != nil {
			if v, ok := node.Data[key]; ok && v != nil {
				return v, true
			}
		}
		v, ok := meta.DefaultData[key]
		return v, ok && v != nil
	}

	p := Policy{ErrorHandling: ErrorFail}
	if v, ok := get("errorHandling"); ok {
		if s, isStr := v.(string); isStr {
			switch s {
			case ErrorContinue, ErrorRetry, ErrorFail:
				p.ErrorHandling = s
			}
		}
	}
	if v, ok := get("retryCount"); ok {
		if n, isNum := toFloat(v); isNum && n > 0 {
			p.RetryCount = int(n)
		}
	}
	if v, ok := get("retryDelay"); ok {
		if n, isNum := toFloat(v); isNum && n > 0 {
			p.RetryDelay = time.Duration(n) * time.Millisecond
		}
	}

	if p.ErrorHandling == ErrorRetry && p.RetryCount == 0 {
		p.RetryCount = DefaultRetryCount
	}
	if p.RetryCount > 0 && p.RetryDelay == 0 {
		p.RetryDelay = DefaultRetryDelay
	}
	return p
}

// Attempts возвращает максимальное число попыток.
func (p Policy) Attempts() int {
	return 1 + p.RetryCount
}

// Backoff возвращает задержку перед повтором retry (начиная с 1).
func (p Policy) Backoff(retry int) time.Duration {
	if retry < 1 || p.RetryDelay <= 0 {
		return 0
	}
	delay := p.RetryDelay
	for i := 1; i < retry; i++ {
		delay *= 2
		if delay >= MaxRetryDelay {
			return MaxRetryDelay
		}
	}
	return delay
}

// ContinueOnError — зависимые узлы получают payload ошибки.
func (p Policy) ContinueOnError() bool {
	return p.ErrorHandling == ErrorContinue
}
