package processor

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// installName derives the filename to install from the fetch address.
// The hub's storage prepends a random dedup token to uploaded names;
// that token must not leak into the installed filename.
func installName(u *url.URL) string {
	name := path.Base(u.Path)
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	if name == "" || name == "." || name == "/" {
		return "download"
	}
	return stripDedupPrefix(name)
}

// stripDedupPrefix removes a leading UUID (dashed or bare-hex) token
// from the name. The raw name stands when stripping would empty it.
func stripDedupPrefix(name string) string {
	if len(name) > 37 && (name[36] == '_' || name[36] == '-') {
		if _, err := uuid.Parse(name[:36]); err == nil && name[37:] != "" {
			return name[37:]
		}
	}
	if len(name) > 33 && (name[32] == '_' || name[32] == '-') && isHex(name[:32]) && name[33:] != "" {
		return name[33:]
	}
	return name
}

func isHex(s string) bool {
	for _, r := range s {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f' || r >= 'A' && r <= 'F') {
			return false
		}
	}
	return true
}

// uniqueFilename picks a destination inside dir that collides with
// neither an existing file nor an in-progress .part temp, appending
// _1, _2, ... before the extension as needed.
func uniqueFilename(dir, name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for i := 0; ; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s_%d%s", stem, i, ext)
		}
		dest := filepath.Join(dir, candidate)
		if exists(dest) || exists(dest+partSuffix) {
			continue
		}
		return dest, nil
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
