package auth

import (
	"context"
	"strconv"
	"strings"
)

type contextKey string

const viewerKey contextKey = "viewer"

// CapabilityModerate lets a viewer see entries that are still awaiting approval.
const CapabilityModerate = "moderate"

// Viewer is the identity a request acts as. The zero value is an anonymous
// visitor without capabilities.
type Viewer struct {
	ID           int64
	Capabilities []string
}

// Anonymous reports whether the viewer is not signed in.
func (v Viewer) Anonymous() bool {
	return v.ID == 0
}

// Can reports whether the viewer holds a capability.
func (v Viewer) Can(capability string) bool {
	for _, held := range v.Capabilities {
		if strings.EqualFold(held, capability) {
			return true
		}
	}
	return false
}

// ParseViewer builds a viewer from header-style values: a numeric id and a
// comma-separated capability list. A malformed id yields an anonymous viewer.
func ParseViewer(id, capabilities string) Viewer {
	var viewer Viewer
	if parsed, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64); err == nil && parsed > 0 {
		viewer.ID = parsed
	}
	for _, capability := range strings.Split(capabilities, ",") {
		if capability = strings.TrimSpace(capability); capability != "" {
			viewer.Capabilities = append(viewer.Capabilities, strings.ToLower(capability))
		}
	}
	return viewer
}

// ContextWithViewer returns a new context that carries the requesting viewer.
func ContextWithViewer(ctx context.Context, viewer Viewer) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, viewerKey, viewer)
}

// ViewerFromContext retrieves the requesting viewer from the context, if any.
func ViewerFromContext(ctx context.Context) (Viewer, bool) {
	if ctx == nil {
		return Viewer{}, false
	}
	viewer, ok := ctx.Value(viewerKey).(Viewer)
	return viewer, ok
}
