package blobstore

import (
	"context"
	"fmt"
	"time"
)

// readinessProbeKey — ключ, по которому проверяется доступность хранилища.
// Объект по нему не создаётся.
const readinessProbeKey = ".readiness-probe"

// ReadinessChecker — проверка доступности блобового хранилища для health endpoint.
type ReadinessChecker struct {
	gw      Gateway
	bucket  string
	timeout time.Duration
}

// NewReadinessChecker создаёт проверку: запрос наличия служебного ключа в bucket.
func NewReadinessChecker(gw Gateway, bucket string, timeout time.Duration) *ReadinessChecker {
	return &ReadinessChecker{gw: gw, bucket: bucket, timeout: timeout}
}

// Name возвращает имя проверяемой зависимости.
func (c *ReadinessChecker) Name() string { return "blobstore" }

// CheckReady возвращает "ok", если хранилище отвечает, иначе "fail".
func (c *ReadinessChecker) CheckReady() (status, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if _, err := c.gw.Exists(ctx, c.bucket, readinessProbeKey); err != nil {
		return "fail", fmt.Sprintf("блобовое хранилище недоступно: %v", err)
	}
	return "ok", "хранилище отвечает"
}
