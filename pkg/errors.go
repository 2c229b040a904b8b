// Package pkg, server ve client tarafının paylaştığı küçük yardımcıları barındırır.
// Bu dosya domain-level error tanımlarını içerir.
//
// Karşılaştırma her zaman errors.Is ile yapılır:
//
//	if errors.Is(err, pkg.ErrNotFound) { ... }
package pkg

import "errors"

// Domain-level error'lar.
// Service katmanı bunları fmt.Errorf("%w: ...") ile sarar,
// handler katmanı mapErrorToStatus ile HTTP status'a çevirir.
var (
	ErrNotFound      = errors.New("not found")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrAlreadyExists = errors.New("already exists")
	ErrBadRequest    = errors.New("bad request")
	ErrInternal      = errors.New("internal error")
	ErrRateLimited   = errors.New("too many requests")
	ErrUnavailable   = errors.New("service unavailable")
)
