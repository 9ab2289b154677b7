package app

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/storeweave/internal/compiler"
	"github.com/roach88/storeweave/internal/ir"
	"github.com/roach88/storeweave/internal/plugin"
)

// ErrReservedNamespace is returned when ejecting the runtime's own model.
var ErrReservedNamespace = errors.New("app: the internal model cannot be ejected")

// InvalidModelError reports a compiled record that failed validation.
type InvalidModelError struct {
	Namespace string
	Errors    []compiler.ValidationError
}

func (e *InvalidModelError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		msgs[i] = ve.Error()
	}
	return fmt.Sprintf("model %q is invalid: %s", e.Namespace, strings.Join(msgs, "; "))
}

// newErrorFunnel builds the single handler every runtime error goes
// through. It calls each installed OnError hook, read at call time so hooks
// installed after start still receive errors. Without hooks the error is
// logged. The funnel never panics: a panicking hook is logged and the
// remaining hooks still run.
func newErrorFunnel(p *plugin.Plugin, logger *slog.Logger) ir.ErrorFunc {
	return func(err error) {
		if err == nil {
			return
		}
		handlers := p.ErrorHandlers()
		if len(handlers) == 0 {
			logger.Error("runtime error", "code", string(ir.CodeOf(err)), "error", err)
			return
		}
		for _, h := range handlers {
			callErrorHook(h, err, logger)
		}
	}
}

func callErrorHook(h ir.ErrorFunc, err error, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("error hook panicked",
				"panic", fmt.Sprint(r),
				"code", string(ir.CodeOf(err)),
				"error", err)
		}
	}()
	h(err)
}
