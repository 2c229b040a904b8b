// Package ratelimit: kullanıcı bazlı istek limiti (davet spam koruması, token istekleri).
//
// Tasarım:
//   - Window içinde maxEvents kadar istek → izin verilir.
//   - Bir sonraki istekte cooldown başlar → cooldown boyunca tüm istekler reddedilir.
//   - Cooldown bitince window sıfırlanır.
//   - Background goroutine süresi dolmuş bucket'ları temizler (memory leak engeli).
//
// pkg/ratelimit hiçbir proje içi pakete bağımlı değildir (leaf dependency).
package ratelimit

import (
	"sync"
	"time"
)

// bucket, bir anahtar için sayaç ve cooldown bilgisi.
type bucket struct {
	count         int
	windowStart   time.Time
	cooldownUntil time.Time // zero value = cooldown yok
}

// Limiter, anahtar (genelde userID) bazlı window + cooldown limiti.
//
//	limiter := ratelimit.New(5, 30*time.Second, time.Minute)
//	defer limiter.Stop()
//	if !limiter.Allow(userID) { ... }
type Limiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	maxEvents int
	window    time.Duration
	cooldown  time.Duration
	now       func() time.Time

	stopOnce    sync.Once
	stopCleanup chan struct{}
}

// New, limiter oluşturur ve temizleme goroutine'ini başlatır.
// maxEvents <= 0 ise limit uygulanmaz.
func New(maxEvents int, window, cooldown time.Duration) *Limiter {
	l := &Limiter{
		buckets:     make(map[string]*bucket),
		maxEvents:   maxEvents,
		window:      window,
		cooldown:    cooldown,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow, key için bir istek daha kabul edilebilir mi? Kabul edilirse sayılır.
func (l *Limiter) Allow(key string) bool {
	if l.maxEvents <= 0 {
		return true
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, exists := l.buckets[key]
	if !exists {
		l.buckets[key] = &bucket{count: 1, windowStart: now}
		return true
	}

	if !b.cooldownUntil.IsZero() {
		if now.Before(b.cooldownUntil) {
			return false
		}
		// Cooldown bitti: yeni pencere
		b.count = 1
		b.windowStart = now
		b.cooldownUntil = time.Time{}
		return true
	}

	if now.Sub(b.windowStart) > l.window {
		b.count = 1
		b.windowStart = now
		return true
	}

	b.count++
	if b.count > l.maxEvents {
		b.cooldownUntil = now.Add(l.cooldown)
		return false
	}
	return true
}

// RetryAfter, cooldown'daki key için kalan süre (saniye, yukarı yuvarlanmış).
// Cooldown yoksa 0. HTTP Retry-After header değeri olarak kullanılır.
func (l *Limiter) RetryAfter(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, exists := l.buckets[key]
	if !exists || b.cooldownUntil.IsZero() {
		return 0
	}
	remaining := b.cooldownUntil.Sub(l.now())
	if remaining <= 0 {
		return 0
	}
	return int(remaining.Seconds()) + 1
}

// Stop, temizleme goroutine'ini durdurur. Birden fazla çağrılabilir.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCleanup) })
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCleanup:
			return
		}
	}
}

// cleanup: hem window hem cooldown bitmiş bucket'lar silinir.
func (l *Limiter) cleanup() {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, b := range l.buckets {
		windowExpired := now.Sub(b.windowStart) > l.window
		cooldownExpired := b.cooldownUntil.IsZero() || now.After(b.cooldownUntil)
		if windowExpired && cooldownExpired {
			delete(l.buckets, key)
		}
	}
}
