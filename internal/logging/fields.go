package logging

const (
	// FieldComponent names the subsystem that emitted the record.
	FieldComponent = "component"
	// FieldEventType is a stable, greppable identifier for the event.
	FieldEventType = "event_type"
	// FieldErrorHint tells the operator what to check next.
	FieldErrorHint = "error_hint"
	// FieldImpact describes the user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldRunID is the recording run identifier assigned at controller start.
	FieldRunID = "run_id"
	// FieldState carries a pipeline state name.
	FieldState = "state"
)
