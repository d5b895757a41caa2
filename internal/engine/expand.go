package engine

import (
	"fmt"

	"parcelfetch/internal/config"
	"parcelfetch/internal/domain"
)

// Expand turns spec into Steps ordered by TMS insertion order, then doc type.
// Pairs that cannot run in the TMS's assigned county are returned as skipped.
func Expand(cfg *config.Config, spec domain.WorkflowSpec) ([]domain.Step, []domain.Skipped) {
	var (
		steps   []domain.Step
		skipped []domain.Skipped
		seen    = map[domain.StepKey]bool{}
		seenTMS = map[string]bool{}
	)
	for _, tms := range spec.TMSNumbers {
		if seenTMS[tms] {
			continue
		}
		seenTMS[tms] = true
		assigned, ok := spec.Assignments[tms]
		for _, county := range spec.Counties {
			if county != assigned {
				reason := "tms is not assigned to any county"
				if ok {
					reason = fmt.Sprintf("tms belongs to %s", assigned)
				}
				skipped = append(skipped, domain.Skipped{TMS: tms, County: county, Reason: reason})
			}
		}
		if !ok {
			continue
		}
		for _, dt := range spec.DocTypes {
			key := domain.StepKey{TMS: tms, DocType: dt}
			if seen[key] {
				continue
			}
			seen[key] = true
			if !cfg.Supports(assigned, dt) {
				skipped = append(skipped, domain.Skipped{
					TMS: tms, DocType: dt, County: assigned,
					Reason: fmt.Sprintf("%s does not provide %s", assigned, dt),
				})
				continue
			}
			steps = append(steps, domain.Step{
				County:  assigned,
				TMS:     tms,
				DocType: dt,
				Status:  domain.StepPending,
			})
		}
	}
	return steps, skipped
}

func ensureStepTransition(from, to domain.StepStatus) error {
	switch from {
	case domain.StepPending:
		if to == domain.StepInProgress || to == domain.StepFailed {
			return nil
		}
	case domain.StepInProgress:
		if to == domain.StepSucceeded || to == domain.StepFailed {
			return nil
		}
	}
	return fmt.Errorf("invalid step status transition %s -> %s", from, to)
}
