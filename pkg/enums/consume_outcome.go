package enums

// ConsumeOutcome is the terminal result recorded for a processed event.
// A consumption record is written exactly once per (event, consumer) and
// never updated afterwards.
type ConsumeOutcome string

const (
	ConsumeOutcomeSucceeded    ConsumeOutcome = "succeeded"
	ConsumeOutcomeDeadLettered ConsumeOutcome = "dead_lettered"
)
