package progress

// ResolveStage returns the stage ordinal of the most recent record. Records
// with equal timestamps resolve to the first one in input order. Empty input
// and unknown labels resolve to stage 1.
func ResolveStage(records []Record) int {
	if len(records) == 0 {
		return MinStage
	}
	latest := 0
	latestAt := timestampMillis(records[0].RecordedAt)
	for i := 1; i < len(records); i++ {
		if at := timestampMillis(records[i].RecordedAt); at > latestAt {
			latest, latestAt = i, at
		}
	}
	if stage := StageOrdinal(records[latest].StageLabel); stage != 0 {
		return stage
	}
	return MinStage
}

// ProgressPercent maps a stage ordinal onto a 0-100 progress bar.
func ProgressPercent(stage int) float64 {
	if stage <= MinStage {
		return 0
	}
	if stage >= MaxStage {
		return 100
	}
	return float64(stage-MinStage) * 100 / float64(MaxStage-MinStage)
}
