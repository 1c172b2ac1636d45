package executors

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// limiters — rate limiter'ы исходящих запросов по ключу узла.
// Лимитер живёт дольше одного run: повторные запуски workflow делят
// один бюджет запросов.
type limiters struct {
	mu sync.Mutex
	m  map[string]*rate.Limiter
}

func newLimiters() *limiters {
	return &limiters{m: make(map[string]*rate.Limiter)}
}

// wait блокируется, пока лимитер perSecond для key не выдаст токен.
// perSecond <= 0 отключает ограничение.
func (l *limiters) wait(ctx context.Context, key string, perSecond float64) error {
	if perSecond <= 0 {
		return nil
	}
	l.mu.Lock()
	lim, ok := l.m[key]
	if !ok || float64(lim.Limit()) != perSecond {
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(perSecond), burst)
		l.m[key] = lim
	}
	l.mu.Unlock()
	return lim.Wait(ctx)
}
