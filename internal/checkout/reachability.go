package checkout

import (
	"context"
	"sync/atomic"
	"time"
)

// Reachability reports whether the remote store can be reached right now.
type Reachability interface {
	Online(ctx context.Context) bool
}

// Static always reports the same answer.
type Static bool

func (s Static) Online(context.Context) bool {
	return bool(s)
}

// Switch is a reachability flag that can be flipped at runtime.
type Switch struct {
	online atomic.Bool
}

func NewSwitch(online bool) *Switch {
	s := &Switch{}
	s.online.Store(online)
	return s
}

func (s *Switch) Set(online bool) {
	s.online.Store(online)
}

func (s *Switch) Online(context.Context) bool {
	return s.online.Load()
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Probe pings the remote store under a short timeout.
type Probe struct {
	pinger  Pinger
	timeout time.Duration
	gate    *Switch
}

// NewProbe builds a probe. While gate reports offline the store is not pinged.
func NewProbe(pinger Pinger, timeout time.Duration, gate *Switch) *Probe {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Probe{pinger: pinger, timeout: timeout, gate: gate}
}

func (p *Probe) Online(ctx context.Context) bool {
	if p.gate != nil && !p.gate.Online(ctx) {
		return false
	}
	pingCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.pinger.Ping(pingCtx) == nil
}
