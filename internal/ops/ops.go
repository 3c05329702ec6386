// Package ops provides the built-in operation handlers: the pluggable
// per-item work functions the task runner invokes. Each handler decodes
// its own payload shape and reports failure through the returned error;
// the runner records it as an item failure without aborting siblings.
package ops

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cinelog/cinelog-api/internal/domain"
)

// resolveInRoot joins rel onto root and rejects paths that escape it.
// All filesystem handlers go through this so a crafted payload cannot
// touch files outside the library.
func resolveInRoot(root, rel string) (string, error) {
	if strings.TrimSpace(rel) == "" {
		return "", fmt.Errorf("%w: path is required", domain.ErrInvalidPayload)
	}
	abs := filepath.Join(root, filepath.Clean("/"+rel))
	cleanRoot := filepath.Clean(root)
	if abs != cleanRoot && !strings.HasPrefix(abs, cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path escapes library root", domain.ErrInvalidPayload)
	}
	return abs, nil
}
