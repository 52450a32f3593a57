package cycle

// Routers for the coder and architect graphs. They read only s.Err, the
// counters and the recorded outcomes; nodes do the bookkeeping.

func routeOrFail(next Node) Router {
	return func(s *State) Node {
		if s.Err != nil {
			return NodeFailed
		}
		return next
	}
}

func routeAfterInitBranch(s *State) Node {
	switch {
	case s.Err != nil:
		return NodeFailed
	case s.PlanAttempt > 0:
		return NodePlanner
	default:
		return NodeAlignContracts
	}
}

func routeAfterTester(s *State) Node {
	switch {
	case s.Err != nil:
		return NodeFailed
	case s.TestExitCode != 0:
		return NodeCoderSession
	default:
		return NodeAuditor
	}
}

func routeAfterAuditor(s *State) Node {
	if s.Err != nil {
		return NodeFailed
	}
	switch s.AuditOutcome {
	case OutcomeNextAuditor:
		return NodeAuditor
	case OutcomeCycleApproved:
		return NodeUATEvaluate
	case OutcomeRetryFix, OutcomeOptimize:
		return NodeCoderSession
	default:
		return NodeFailed
	}
}

func routeAfterUAT(s *State) Node {
	switch {
	case s.Err != nil:
		return NodeFailed
	case s.UATAnalysis != nil && s.UATAnalysis.Passed():
		return NodeCommit
	default:
		return NodeCoderSession
	}
}
