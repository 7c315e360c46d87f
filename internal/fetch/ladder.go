package fetch

// decision is the outcome of one escalation-ladder transition.
type decision int

const (
	decideRetry decision = iota
	decideEscalate
	decideFail
)

// attemptState is the fetch attempt state machine: current tier, attempts
// spent on that tier, and the last failure kind. The transition function is
// pure so the escalation policy is testable without any network calls.
type attemptState struct {
	tier     Tier
	attempts int
	lastKind ErrorKind
}

// retriesPerTier is how many attempts a single tier gets before the ladder
// either escalates or gives up.
const retriesPerTier = 2

// next decides what to do after a failure with the given kind. maxTier is
// the most expensive tier available.
func (s attemptState) next(kind ErrorKind, maxTier Tier) (attemptState, decision) {
	s.lastKind = kind
	s.attempts++

	// DNS failures are not solvable by any tier: the host does not resolve
	// for the gateway or a browser either.
	if kind == KindDNSFailure {
		return s, decideFail
	}

	if escalatable(kind) && s.tier < maxTier {
		s.tier++
		s.attempts = 0
		return s, decideEscalate
	}

	if kind == KindTimeout && s.attempts < retriesPerTier {
		return s, decideRetry
	}

	return s, decideFail
}

// escalatable reports whether a higher tier is known to resolve failures of
// this kind. Bot challenges and 403s yield to rendering gateways and real
// browser sessions; TLS interception setups often pass for server-side
// fetchers; timeouts on JS-heavy pages resolve once something renders them.
func escalatable(kind ErrorKind) bool {
	switch kind {
	case KindBotChallenge, KindForbidden, KindTLSError, KindTimeout:
		return true
	default:
		return false
	}
}
