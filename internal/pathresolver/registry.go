package pathresolver

import (
	"path/filepath"
	"strings"
)

// modelExtensions classifies which files count as model artifacts for
// inventory scans.
var modelExtensions = map[string]bool{
	".safetensors": true,
	".ckpt":        true,
	".pt":          true,
	".pth":         true,
	".bin":         true,
	".gguf":        true,
	".onnx":        true,
}

// categoryAliases maps every accepted category spelling onto the
// canonical directory name under the models dir.
var categoryAliases = map[string]string{
	"checkpoint":       "checkpoints",
	"checkpoints":      "checkpoints",
	"lora":             "loras",
	"loras":            "loras",
	"locon":            "loras",
	"lycoris":          "loras",
	"vae":              "vae",
	"embedding":        "embeddings",
	"embeddings":       "embeddings",
	"textualinversion": "embeddings",
	"controlnet":       "controlnet",
	"upscaler":         "upscale_models",
	"upscalers":        "upscale_models",
	"hypernetwork":     "hypernetworks",
	"hypernetworks":    "hypernetworks",
}

// DirRegistry is the file-based model registry: every category lives in
// a fixed subdirectory of a single models dir.
type DirRegistry struct {
	baseDir string
}

func NewDirRegistry(baseDir string) *DirRegistry {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		abs = baseDir
	}
	return &DirRegistry{baseDir: abs}
}

func (r *DirRegistry) Root(category string) (string, bool) {
	dir, ok := categoryAliases[strings.ToLower(category)]
	if !ok {
		return "", false
	}
	return filepath.Join(r.baseDir, dir), true
}

func (r *DirRegistry) Roots() map[string]string {
	roots := make(map[string]string)
	for _, dir := range categoryAliases {
		roots[dir] = filepath.Join(r.baseDir, dir)
	}
	return roots
}

func (r *DirRegistry) IsModelFile(name string) bool {
	return modelExtensions[strings.ToLower(filepath.Ext(name))]
}
