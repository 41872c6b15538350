package hermes

const (
	SubjectWeightsRequest = "climwip.weights.request"
	SubjectRunStats       = "climwip.run.stats"

	StreamName   = "CLIMWIP_EVENTS"
	StreamMaxAge = "720h" // 30 days
)

// StreamSubjects are captured by StreamName.
var StreamSubjects = []string{"climwip.weights.>", "climwip.run.>"}

// Run lifecycle subjects
func SubjectRunStarted(runID string) string   { return "climwip.run." + runID + ".started" }
func SubjectRunCompleted(runID string) string { return "climwip.run." + runID + ".completed" }
func SubjectRunDegraded(runID string) string  { return "climwip.run." + runID + ".degraded" }
func SubjectRunFailed(runID string) string    { return "climwip.run." + runID + ".failed" }
