package dispatch

import (
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

type BackoffType string

const (
	BackoffExp       BackoffType = "exp"
	BackoffExpJitter BackoffType = "exp-jitter"
	BackoffFixed     BackoffType = "fixed"
	BackoffNone      BackoffType = "none"
)

// ParseBackoffType accepts exp|exp-jitter|fixed|none, empty meaning exp.
func ParseBackoffType(s string) (BackoffType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "exp":
		return BackoffExp, nil
	case "exp-jitter":
		return BackoffExpJitter, nil
	case "fixed":
		return BackoffFixed, nil
	case "none":
		return BackoffNone, nil
	}
	return "", errors.Newf("invalid backoff type %q; use exp|exp-jitter|fixed|none", s)
}

// RetryPolicy bounds delivery attempts of one transaction. MaxAttempts counts
// the first send.
type RetryPolicy struct {
	Type        BackoffType
	Base        time.Duration
	Cap         time.Duration
	Factor      float64
	MaxAttempts uint32
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Type: BackoffExp, Base: 200 * time.Millisecond, Cap: 30 * time.Second, Factor: 2.0, MaxAttempts: 5}
}

// Backoff returns the delay before attempt+1, given attempt failed sends.
func (p RetryPolicy) Backoff(attempt uint32) time.Duration {
	if attempt == 0 {
		attempt = 1
	}
	switch p.Type {
	case BackoffNone:
		return 0
	case BackoffFixed:
		if p.Base <= 0 {
			return 0
		}
		if p.Cap > 0 && p.Base > p.Cap {
			return p.Cap
		}
		return p.Base
	case BackoffExp, BackoffExpJitter, "":
		base := p.Base
		if base <= 0 {
			base = 200 * time.Millisecond
		}
		factor := p.Factor
		if factor <= 0 {
			factor = 2.0
		}
		delay := float64(base) * math.Pow(factor, float64(attempt-1))
		d := time.Duration(delay)
		if delay > float64(math.MaxInt64) || (p.Cap > 0 && d > p.Cap) {
			d = p.Cap
		}
		if p.Type == BackoffExpJitter {
			if d <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(d)))
		}
		return d
	}
	return 0
}

// State is a transaction's delivery state.
type State int

const (
	Pending State = iota
	Sending
	Retrying
	Confirmed
	Failed
)

var stateNames = [...]string{"pending", "sending", "retrying", "confirmed", "failed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool { return s == Confirmed || s == Failed }

// Machine drives one transaction through
//
//	Pending -> Sending -> {Confirmed | Retrying -> Sending | Failed}
//
// It decides, it does not send or sleep.
type Machine struct {
	policy   RetryPolicy
	state    State
	attempts uint32
	err      error
}

func NewMachine(policy RetryPolicy) *Machine {
	if policy.MaxAttempts == 0 {
		policy.MaxAttempts = 1
	}
	return &Machine{policy: policy}
}

func (m *Machine) State() State     { return m.state }
func (m *Machine) Attempts() uint32 { return m.attempts }
func (m *Machine) Err() error       { return m.err }

// Begin moves Pending or Retrying to Sending and counts the attempt.
func (m *Machine) Begin() error {
	if m.state != Pending && m.state != Retrying {
		return errors.Newf("cannot send from state %s", m.state)
	}
	m.state = Sending
	m.attempts++
	return nil
}

// Succeed confirms the transaction.
func (m *Machine) Succeed() error {
	if m.state != Sending {
		return errors.Newf("cannot confirm from state %s", m.state)
	}
	m.state = Confirmed
	m.err = nil
	return nil
}

// Fail records a failed send. Transient failures move to Retrying while
// attempts remain and return the delay to wait; anything else moves to Failed.
func (m *Machine) Fail(err error, transient bool) (time.Duration, error) {
	if m.state != Sending {
		return 0, errors.Newf("cannot fail from state %s", m.state)
	}
	m.err = err
	if !transient || m.attempts >= m.policy.MaxAttempts {
		m.state = Failed
		return 0, nil
	}
	m.state = Retrying
	return m.policy.Backoff(m.attempts), nil
}
