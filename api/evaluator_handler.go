package api

import (
	"encoding/binary"
	"fmt"
	"net/http"
	"strings"

	"github.com/memcore-dev/memcore/coreerr"
	"github.com/memcore-dev/memcore/evaluator"
)

type evaluateExpressionRequest struct {
	PID        uint32 `json:"pid"`
	Expression string `json:"expression"`
}

// handleEvaluateExpression resolves "module.dll"+offset / [addr]+offset
// style expressions against pid's loaded modules and live memory, mirroring
// mcp_handlers_eval.cpp's callback-injection pattern: the evaluator package
// itself knows nothing about processes or modules.
func (s *Server) handleEvaluateExpression(w http.ResponseWriter, r *http.Request) {
	var req evaluateExpressionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Expression == "" {
		writeError(w, coreerr.New(coreerr.InvalidInput, "evaluate_expression", "expression"))
		return
	}

	mem := s.memSource(req.PID)

	resolve := func(name string) (uint64, bool) {
		modules, err := s.session.Reader().ListModules(req.PID)
		if err != nil {
			return 0, false
		}
		for _, m := range modules {
			if strings.EqualFold(m.Name, name) {
				return m.BaseAddress, true
			}
		}
		return 0, false
	}
	read := func(va uint64) (uint64, bool) {
		data := mem(va, 8)
		if len(data) < 8 {
			return 0, false
		}
		return binary.LittleEndian.Uint64(data), true
	}

	ev := evaluator.New(resolve, read)
	value, err := ev.Evaluate(req.Expression)
	if err != nil {
		writeError(w, coreerr.Wrap(coreerr.InvalidInput, "evaluate_expression", "expression", err))
		return
	}

	writeData(w, map[string]interface{}{"value": fmt.Sprintf("0x%X", value), "decimal": value})
}
