//go:build !unix

package engine

import (
	"context"

	"github.com/rcarmo/go-nxsh/pkg/shell/mir"
	"github.com/rcarmo/go-nxsh/pkg/shell/shellerr"
)

func (h *shell) processSubst(context.Context, *mir.Frame, *mir.Program, mir.FuncID, bool) (string, error) {
	return "", shellerr.Runtimef(shellerr.Unsupported, "process substitution needs named pipes")
}
