package monitor

// Role selects which monitoring loop runs.
type Role string

const (
    RolePrimary Role = "primary"
    RoleStandby Role = "standby"
    RoleWitness Role = "witness"
)

type MonitoringState int

const (
    StateNormal MonitoringState = iota
    StateDegraded
)

func (s MonitoringState) String() string {
    if s == StateDegraded { return "degraded" }
    return "normal"
}

type ElectionResult int

const (
    // ElectionNone means no election was run in the episode.
    ElectionNone ElectionResult = iota
    ElectionNotCandidate
    ElectionWon
    ElectionLost
    ElectionCancelled
)

var electionNames = [...]string{"none", "not_candidate", "won", "lost", "cancelled"}

func (r ElectionResult) String() string {
    if int(r) < len(electionNames) { return electionNames[r] }
    return "invalid"
}

// FailoverState is the outcome of one failure episode. It is never
// persisted.
type FailoverState int

const (
    FailoverNone FailoverState = iota
    FailoverWaitingNewPrimary
    FailoverPromoted
    FailoverPromotionFailed
    FailoverPrimaryReappeared
    FailoverLocalNodeFailure
    FailoverRequiresManualFailover
    FailoverFollowedNewPrimary
    FailoverFollowingOriginalPrimary
    FailoverNoNewPrimary
    FailoverFollowFail
    FailoverNodeNotificationError
    FailoverUnknown
)

var failoverNames = [...]string{
    "none", "waiting_new_primary", "promoted", "promotion_failed", "primary_reappeared",
    "local_node_failure", "requires_manual_failover", "followed_new_primary",
    "following_original_primary", "no_new_primary", "follow_fail", "node_notification_error",
    "unknown",
}

func (s FailoverState) String() string {
    if s >= 0 && int(s) < len(failoverNames) { return failoverNames[s] }
    return "invalid"
}

// Outcome is what runFailoverEpisode hands to resolve.
type Outcome struct {
    Election     ElectionResult
    State        FailoverState
    NewPrimaryID int
}

type ActionKind int

const (
    ActionContinueNormal ActionKind = iota
    ActionContinueDegraded
    ActionResumeAs
    ActionTerminate
)

// Action is the next step of the loop driver after one iteration.
type Action struct {
    Kind ActionKind
    Role Role
    Code ExitCode
}

var (
    continueNormal   = Action{Kind: ActionContinueNormal}
    continueDegraded = Action{Kind: ActionContinueDegraded}
)

func resumeAs(r Role) Action        { return Action{Kind: ActionResumeAs, Role: r} }
func terminate(c ExitCode) Action   { return Action{Kind: ActionTerminate, Code: c} }
