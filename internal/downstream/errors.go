package downstream

import (
	"context"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// ErrTransient marks errors a retry can fix.
var ErrTransient = errors.New("transient downstream error")

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, ErrTransient)
}

// IsTransient reports whether err was marked by Transient.
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }

// replica, loading and cluster states clear up on their own
var transientReplyPrefixes = []string{
	"LOADING", "BUSY", "TRYAGAIN", "READONLY", "MASTERDOWN", "CLUSTERDOWN",
}

// classify marks err transient unless it is a reply the server will repeat
// for the same input (WRONGTYPE, unknown command, auth, EXECABORT) or the
// caller gave up.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return Transient(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient(err)
	}
	var reply redis.Error
	if errors.As(err, &reply) {
		msg := reply.Error()
		for _, p := range transientReplyPrefixes {
			if strings.HasPrefix(msg, p) {
				return Transient(err)
			}
		}
		return err
	}
	// Unrecognized client-side failures are most often connection trouble.
	return Transient(err)
}
