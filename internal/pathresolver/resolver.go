package pathresolver

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Registry supplies the category roots and file classification the
// resolver works against. The worker's model registry implements it;
// the resolver never mutates registry state.
type Registry interface {
	// Root maps a category name (case-insensitive, aliases allowed)
	// to its absolute directory.
	Root(category string) (string, bool)
	// Roots lists the canonical categories and their directories.
	Roots() map[string]string
	// IsModelFile classifies a filename as a model artifact.
	IsModelFile(name string) bool
}

// ResolveError describes why a target path was rejected. Its message
// travels verbatim in the job's ERROR report.
type ResolveError struct {
	Target string
	Reason string
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("invalid target path %q: %s", e.Target, e.Reason)
}

// Resolver maps logical target paths ("models/lora/styles") onto
// sandboxed directories under the configured category roots.
type Resolver struct {
	registry Registry
}

func New(registry Registry) *Resolver {
	return &Resolver{registry: registry}
}

// unsafe characters rejected in any path segment. Path separators are
// handled by the split; the rest are shell/windows hazards.
const unsafeChars = "<>:\"|?*\x00"

// Resolve validates a logical target path and returns the absolute
// directory it denotes. It fails before any disk I/O: the result may
// not exist yet.
func (r *Resolver) Resolve(target string) (string, error) {
	cleaned := strings.ReplaceAll(target, "\\", "/")
	var segments []string
	for _, seg := range strings.Split(cleaned, "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	if len(segments) == 0 {
		return "", &ResolveError{Target: target, Reason: "empty path"}
	}

	// Tolerate a leading "models/" prefix; the hub includes it in some
	// job payloads and omits it in others.
	if strings.EqualFold(segments[0], "models") && len(segments) > 1 {
		segments = segments[1:]
	}

	root, ok := r.registry.Root(segments[0])
	if !ok {
		return "", &ResolveError{Target: target, Reason: fmt.Sprintf("unknown model category %q", segments[0])}
	}

	rest := segments[1:]
	for _, seg := range rest {
		if err := checkSegment(seg); err != "" {
			return "", &ResolveError{Target: target, Reason: err}
		}
	}

	dir := filepath.Join(append([]string{root}, rest...)...)

	// Segment validation already forbids traversal; this guards the
	// invariant directly in case the rules above ever loosen.
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &ResolveError{Target: target, Reason: "path escapes category root"}
	}
	return dir, nil
}

func checkSegment(seg string) string {
	if seg == "." || seg == ".." {
		return "path traversal rejected"
	}
	if strings.ContainsAny(seg, unsafeChars) {
		return fmt.Sprintf("unsafe characters in segment %q", seg)
	}
	for _, r := range seg {
		if r < 0x20 {
			return fmt.Sprintf("unsafe characters in segment %q", seg)
		}
	}
	if strings.HasPrefix(seg, " ") || strings.HasSuffix(seg, " ") || strings.HasSuffix(seg, ".") {
		return fmt.Sprintf("unsafe segment %q", seg)
	}
	return ""
}
