package afya

import (
	"github.com/Josephat-Onkoba/healthwise-afya-siri/pkg/core"
)

// SDK-level error surface re-exported from the core taxonomy.
type Error = core.Error

// Error types
const (
	ErrInvalidRequest = core.ErrInvalidRequest
	ErrRateLimit      = core.ErrRateLimit
	ErrAPI            = core.ErrAPI
	ErrTransport      = core.ErrTransport
	ErrJobFailed      = core.ErrJobFailed
	ErrMalformed      = core.ErrMalformed
)

// Helpers
var (
	Classify   = core.Classify
	IsCanceled = core.IsCanceled
)
