package resolve

import (
	"fmt"
	"strings"
)

// Outcome records what one consulted source yielded, for diagnostics.
type Outcome struct {
	Source Source
	Detail string
}

func (o Outcome) String() string {
	return fmt.Sprintf("%s: %s", o.Source, o.Detail)
}

// AdapterUndeterminedError reports that no source named an adapter. Fatal
// only for operations that need one (install, execute).
type AdapterUndeterminedError struct {
	Reason string
}

func (e *AdapterUndeterminedError) Error() string {
	return fmt.Sprintf("could not determine dbt adapter: %s", e.Reason)
}

// ResolutionFailedError reports that no source yielded a usable version.
// Outcomes enumerates every source consulted and why it yielded nothing.
type ResolutionFailedError struct {
	Outcomes []Outcome
	// ConflictingRequirements is set when version requirements ruled out
	// every candidate, even after package-level requirements were relaxed.
	ConflictingRequirements bool
}

func (e *ResolutionFailedError) Error() string {
	var b strings.Builder
	b.WriteString("could not resolve a dbt version")
	if e.ConflictingRequirements {
		b.WriteString(" (conflicting version requirements)")
	}
	for _, outcome := range e.Outcomes {
		b.WriteString("\n  ")
		b.WriteString(outcome.String())
	}
	return b.String()
}
