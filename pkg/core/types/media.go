// Package types holds the wire payload types exchanged with the remote
// inference service and the media kinds the client understands.
package types

import (
	"path/filepath"
	"strings"
	"sync"
)

// Kind identifies the modality of a submission.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
)

// allowedExtensions mirrors the server's accepted upload formats so bad
// files are rejected before any bytes leave the client.
var allowedExtensions = map[Kind]map[string]struct{}{
	KindImage: set("png", "jpg", "jpeg", "gif", "webp"),
	KindVideo: set("mp4", "webm", "mov", "avi"),
	KindAudio: set("wav", "mp3", "ogg", "m4a", "webm", "aac", "flac"),
}

func set(exts ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		m[e] = struct{}{}
	}
	return m
}

// ExtensionAllowed reports whether the file name carries an extension the
// service accepts for the given kind. Text has no file payload and always
// reports false.
func ExtensionAllowed(name string, kind Kind) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if ext == "" {
		return false
	}
	_, ok := allowedExtensions[kind][ext]
	return ok
}

// MediaRef is a locally-owned, revocable handle to media pending upload or
// display. The release hook runs exactly once, no matter how many paths
// (success, error, dismissal) try to release it.
type MediaRef struct {
	Path string
	Name string
	Kind Kind

	once    sync.Once
	release func()
	done    bool
	mu      sync.Mutex
}

// NewMediaRef creates a media handle. release may be nil.
func NewMediaRef(path string, kind Kind, release func()) *MediaRef {
	return &MediaRef{
		Path:    path,
		Name:    filepath.Base(path),
		Kind:    kind,
		release: release,
	}
}

// Release revokes the handle. Safe to call from racing completion paths.
func (r *MediaRef) Release() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		r.mu.Lock()
		r.done = true
		r.mu.Unlock()
		if r.release != nil {
			r.release()
		}
	})
}

// Released reports whether the handle has been revoked.
func (r *MediaRef) Released() bool {
	if r == nil {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}
