// Package parity rebuilds chunks of degraded raid4/5/6 segments from the
// surviving members.
package parity

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/sigreer/raidview/internal/mlog"
	"github.com/sigreer/raidview/internal/volume"
)

// ErrDualFailure is returned when more members are gone than XOR parity can
// rebuild.
var ErrDualFailure = errors.New("too many failed members for xor recovery")

// XOR rebuilds a lost chunk by XOR-ing the surviving chunks of its stripe.
// It serves raid4/5 and single data-member failures of raid6 while P is
// readable.
type XOR struct {
	log *logrus.Entry
}

// NewXOR returns an XOR recoverer logging to the package logger
func NewXOR() *XOR {
	return &XOR{log: mlog.GetPackageLogger("parity")}
}

// RecoverRAID5 implements volume.RAID5Recoverer
func (x *XOR) RecoverRAID5(r volume.NodeReader, seg *volume.Segment, failed int, buf []byte, sector uint64) error {
	skip := func(i int) bool { return i == failed }
	return x.rebuild(r, seg, skip, failed, buf, sector)
}

// RecoverRAID6 implements volume.RAID6Recoverer. Q sits on the member after
// P and isn't needed for a single data failure.
func (x *XOR) RecoverRAID6(r volume.NodeReader, seg *volume.Segment, failed, parity int, buf []byte, sector uint64) error {
	q := (parity + 1) % len(seg.Nodes)
	if failed == parity || failed == q {
		return fmt.Errorf("%w: parity member %d requested", ErrDualFailure, failed)
	}
	skip := func(i int) bool { return i == failed || i == q }
	return x.rebuild(r, seg, skip, failed, buf, sector)
}

func (x *XOR) rebuild(r volume.NodeReader, seg *volume.Segment, skip func(int) bool, failed int, buf []byte, sector uint64) error {
	clear(buf)
	tmp := make([]byte, len(buf))

	for i, n := range seg.Nodes {
		if skip(i) {
			continue
		}
		if err := r.ReadNode(n, sector, tmp); err != nil {
			return fmt.Errorf("%w: member %d and %d: %w", ErrDualFailure, failed, i, err)
		}
		xorInto(buf, tmp)
	}

	x.logger().WithFields(logrus.Fields{
		"member": failed,
		"sector": sector,
		"bytes":  len(buf),
	}).Debug("rebuilt chunk")
	return nil
}

func (x *XOR) logger() *logrus.Entry {
	if x.log == nil {
		x.log = mlog.GetPackageLogger("parity")
	}
	return x.log
}

func xorInto(dst, src []byte) {
	for i := range dst {
		dst[i] ^= src[i]
	}
}
