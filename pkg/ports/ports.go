package ports

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/containerd/errdefs"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/cuemby/magpie/pkg/log"
)

// reservationTTL bounds how long an allocated port stays off-limits when
// the caller never releases it (crashed mid-start)
const reservationTTL = 60 * time.Second

// Prober answers the two questions allocation needs, straight from the
// live host. pkg/hostdriver.Driver satisfies it.
type Prober interface {
	ProbePortListening(ctx context.Context, port int) (bool, error)
	ListPublishedPorts(ctx context.Context) (map[int]string, error)
}

// Allocator hands out host ports from a fixed range. The live host is the
// authoritative record: a port is free when no container publishes it and
// nothing listens on it. A short-lived in-process reservation covers the
// window between allocation and the container becoming visible, so
// parallel starts in one process cannot pick the same port.
type Allocator struct {
	min      int
	max      int
	prober   Prober
	reserved *gocache.Cache
	logger   zerolog.Logger
}

// NewAllocator creates an allocator over [min, max] inclusive
func NewAllocator(min, max int, prober Prober) (*Allocator, error) {
	if min <= 0 || max > 65535 || min > max {
		return nil, fmt.Errorf("invalid port range [%d, %d]: %w", min, max, errdefs.ErrInvalidArgument)
	}
	return &Allocator{
		min:      min,
		max:      max,
		prober:   prober,
		reserved: gocache.New(reservationTTL, reservationTTL),
		logger:   log.WithComponent("ports"),
	}, nil
}

// Allocate returns a free port from the range. Candidates are probed in
// random order to spread concurrent allocators across the range. Range
// exhaustion is an errdefs.ErrResourceExhausted wrap; probe failures
// propagate so the caller can retry at its own cadence.
func (a *Allocator) Allocate(ctx context.Context) (int, error) {
	published, err := a.prober.ListPublishedPorts(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list published ports: %w", err)
	}

	size := a.max - a.min + 1
	for _, offset := range rand.Perm(size) {
		port := a.min + offset

		if _, taken := published[port]; taken {
			continue
		}

		listening, err := a.prober.ProbePortListening(ctx, port)
		if err != nil {
			return 0, err
		}
		if listening {
			continue
		}

		// Add is atomic: the loser of a same-process race moves on
		if err := a.reserved.Add(strconv.Itoa(port), true, reservationTTL); err != nil {
			continue
		}

		a.logger.Debug().
			Int("port", port).
			Msg("Allocated host port")
		return port, nil
	}

	return 0, fmt.Errorf("no free port in range [%d, %d]: %w", a.min, a.max, errdefs.ErrResourceExhausted)
}

// Release clears the in-process reservation. The host keeps the truth:
// once the owning container is gone, the next Allocate probe sees the
// port free whether or not Release was called.
func (a *Allocator) Release(port int) {
	a.reserved.Delete(strconv.Itoa(port))
}

// Range reports the configured bounds
func (a *Allocator) Range() (int, int) {
	return a.min, a.max
}
