package triage

import "time"

// RetryAction is the terminal decision for a failed job attempt.
type RetryAction string

const (
	ActionRetry   RetryAction = "retry"
	ActionDiscard RetryAction = "discard"
)

// RetryRule describes how one error kind is handled by the job runtime.
type RetryRule struct {
	Action      RetryAction
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

// RetryDecision is the outcome of consulting the policy for one failed attempt.
type RetryDecision struct {
	Retry bool
	Delay time.Duration
	Kind  ErrorKind
}

// RetryPolicy maps error kinds to retry rules. Kinds without a rule are discarded.
type RetryPolicy struct {
	rules map[ErrorKind]RetryRule
}

// DefaultRetryPolicy returns the production retry table.
func DefaultRetryPolicy() *RetryPolicy {
	return NewRetryPolicy(map[ErrorKind]RetryRule{
		KindAPIConnection: {Action: ActionRetry, MaxAttempts: 3, BaseDelay: 5 * time.Second, Multiplier: 2, MaxDelay: 5 * time.Minute},
		KindAPIServer:     {Action: ActionRetry, MaxAttempts: 2, BaseDelay: 10 * time.Second, Multiplier: 2, MaxDelay: 5 * time.Minute},
		KindTemporary:     {Action: ActionRetry, MaxAttempts: 3, BaseDelay: 15 * time.Second, Multiplier: 2, MaxDelay: 5 * time.Minute},
		KindParse:         {Action: ActionDiscard, MaxAttempts: 1},
		KindValidation:    {Action: ActionDiscard, MaxAttempts: 1},
		KindConfiguration: {Action: ActionDiscard, MaxAttempts: 1},
		KindUnknown:       {Action: ActionDiscard, MaxAttempts: 1},
	})
}

func NewRetryPolicy(rules map[ErrorKind]RetryRule) *RetryPolicy {
	copied := make(map[ErrorKind]RetryRule, len(rules))
	for k, v := range rules {
		copied[k] = v
	}
	return &RetryPolicy{rules: copied}
}

// Rule returns the rule for kind, defaulting to a single-attempt discard.
func (p *RetryPolicy) Rule(kind ErrorKind) RetryRule {
	if p != nil {
		if rule, ok := p.rules[kind]; ok {
			return rule
		}
	}
	return RetryRule{Action: ActionDiscard, MaxAttempts: 1}
}

// Decide reports whether the attempt that just failed with err should be retried.
// attempt is 1-based.
func (p *RetryPolicy) Decide(err error, attempt int) RetryDecision {
	kind := KindOf(err)
	rule := p.Rule(kind)
	if rule.Action != ActionRetry || attempt >= rule.MaxAttempts {
		return RetryDecision{Kind: kind}
	}
	return RetryDecision{Retry: true, Delay: rule.delay(attempt), Kind: kind}
}

func (r RetryRule) delay(attempt int) time.Duration {
	d := r.BaseDelay
	mult := r.Multiplier
	if mult < 1 {
		mult = 1
	}
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * mult)
		if r.MaxDelay > 0 && d >= r.MaxDelay {
			return r.MaxDelay
		}
	}
	if r.MaxDelay > 0 && d > r.MaxDelay {
		return r.MaxDelay
	}
	return d
}
