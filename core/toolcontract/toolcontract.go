// Package toolcontract adapts runtime/agent/tools and runtime/agent/toolerrors
// into the Tool-executor contract (spec §6): list() -> []ToolDescriptor and
// execute(name, args) -> {result, error}. The core treats a tool as an opaque
// named invocation with a latency and a success/failure/timeout outcome; it
// never inspects tool implementation details beyond the declared schema.
package toolcontract

import (
	"context"
	"encoding/json"
	"time"

	"github.com/goa-ai-labs/synapsecore/runtime/agent/toolerrors"
	"github.com/goa-ai-labs/synapsecore/runtime/agent/tools"
)

// ToolDescriptor is what list() returns: enough to advertise a tool to the
// model and to validate a proposed call before it is executed.
type ToolDescriptor struct {
	Name        tools.Ident
	Description string
	Spec        tools.ToolSpec
	Async       bool
}

// ExecuteResult is what execute() returns. No exception propagates across
// this boundary; tool failures are carried as Error, never as a Go error
// from Executor.Execute for tool-level failures (Go errors from Execute
// itself indicate the executor could not even attempt the call).
type ExecuteResult struct {
	Result  string
	Error   string
	Latency time.Duration
}

// Executor is the contract the core depends on for running a tool call. The
// external collaborator owns the implementation; the core only sees
// outcomes.
type Executor interface {
	List(ctx context.Context) ([]ToolDescriptor, error)
	Execute(ctx context.Context, name tools.Ident, argsJSON json.RawMessage) (ExecuteResult, error)
}

// Outcome classifies the result of one tool call for the weight engine and
// reputation system.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
	OutcomeTimeout
)

// Classify derives an Outcome from an ExecuteResult and executor-level
// error, applying the same three-way split the weight engine's rank table
// expects (§9 open question iii: failure=0, timeout=1, success=4).
func Classify(res ExecuteResult, err error) Outcome {
	if err != nil {
		if err == context.DeadlineExceeded {
			return OutcomeTimeout
		}
		return OutcomeFailure
	}
	if res.Error != "" {
		return OutcomeFailure
	}
	return OutcomeSuccess
}

// ValidatedExecutor wraps an Executor with JSON-Schema validation of the
// call payload before dispatch, using the shared tools.Validator.
type ValidatedExecutor struct {
	next      Executor
	validator *tools.Validator
	specs     map[tools.Ident]tools.ToolSpec
}

// NewValidatedExecutor wraps next, validating calls against the payload
// schemas declared in descriptors.
func NewValidatedExecutor(next Executor, descriptors []ToolDescriptor) *ValidatedExecutor {
	specs := make(map[tools.Ident]tools.ToolSpec, len(descriptors))
	for _, d := range descriptors {
		specs[d.Name] = d.Spec
	}
	return &ValidatedExecutor{next: next, validator: tools.NewValidator(), specs: specs}
}

func (v *ValidatedExecutor) List(ctx context.Context) ([]ToolDescriptor, error) {
	return v.next.List(ctx)
}

// Execute validates argsJSON against the tool's declared payload schema
// before delegating. A schema violation is reported as a tool-level error
// (ExecuteResult.Error) rather than executing the call, consistent with the
// no-exception contract.
func (v *ValidatedExecutor) Execute(ctx context.Context, name tools.Ident, argsJSON json.RawMessage) (ExecuteResult, error) {
	if spec, ok := v.specs[name]; ok {
		issues, err := v.validator.ValidatePayload(spec, argsJSON)
		if err != nil {
			return ExecuteResult{}, err
		}
		if len(issues) > 0 {
			return ExecuteResult{Error: toolerrors.New(issuesSummary(issues)).Error()}, nil
		}
	}
	return v.next.Execute(ctx, name, argsJSON)
}

func issuesSummary(issues []tools.FieldIssue) string {
	if len(issues) == 0 {
		return "invalid tool payload"
	}
	msg := "invalid tool payload: "
	for i, issue := range issues {
		if i > 0 {
			msg += "; "
		}
		msg += issue.Field + " " + issue.Constraint
	}
	return msg
}
