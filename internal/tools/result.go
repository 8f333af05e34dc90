// Package tools implements the ToolRegistry and ToolExecutor spec.md
// §4.3/§4.4 describe: a merged built-in + DB-tool catalog exposed to
// the model, and dispatch of model-requested calls to FLOW/WEBHOOK/
// BUILTIN implementations.
//
// Grounded on the teacher's internal/tools package shape (a Result type
// unifying what goes back to the model vs. the user) — generalized from
// the teacher's single-process-agent tool set to this package's
// DB-registered, per-bot tool catalog.
package tools

// Result is the unified return type from tool execution: ForLLM is
// always fed back into the next model turn; ForUser, when non-empty, is
// the content actually delivered to the end user when that differs
// from what the model sees (spec.md §4.4's reply_to_message/
// send_followup_message tools need this split).
type Result struct {
	ForLLM      string
	ForUser     string
	Silent      bool // suppress sending ForUser even if set
	IsError     bool
	IsDuplicate bool // this call was short-circuited as an already-replied duplicate
}

func NewResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM}
}

func SilentResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM, Silent: true}
}

func ErrorResult(message string) *Result {
	return &Result{ForLLM: message, IsError: true}
}

func UserResult(content string) *Result {
	return &Result{ForLLM: content, ForUser: content}
}
