package reconciler

import (
	"github.com/Sh00ty/cloud-rollout/internal/models"
	"github.com/Sh00ty/cloud-rollout/pkg/probe"
)

type eventKind uint8

const (
	evUnknown eventKind = iota
	evAdoptService
	evDropService
	evFingerprint
	evStaged
	evStageFailed
	evProbeResult
	evWindowExpired
	evPromoteDone
	evPromoteFailed
	evRollbackDone
	evRecovered
	evOperatorRollback
	evClearPoison
)

// recoveryOutcome is what the recovery worker concluded after inspecting
// the runtime and the proxy binding for an interrupted deployment.
type recoveryOutcome struct {
	// stable is the instance that is (or should be) serving traffic.
	stable models.Instance
	// finishedCommit means the interrupted promote had already taken
	// effect, so the candidate becomes current.
	finishedCommit bool
	// failedCandidate means the interrupted cycle counts as a failed
	// deployment of the candidate fingerprint.
	failedCandidate bool
	// restageCurrent means no instance serves the current fingerprint
	// anymore and a fresh deployment of it must be staged.
	restageCurrent bool
	reason         string
}

// event is the single message type of the machine loop. Which fields are
// set depends on kind; cycleID guards against events from abandoned
// cycles.
type event struct {
	kind     eventKind
	service  string
	cycleID  string
	fp       models.Fingerprint
	inst     models.Instance
	res      probe.Result
	err      error
	spec     models.ServiceSpec
	record   models.DeploymentRecord
	recovery recoveryOutcome
	teardown bool
	resp     chan error
}
