package telemetry

import (
	"fmt"

	"github.com/wincmesh/winc-go/pkg/mesh"
)

// Node is the slice of the mesh node the telemetry layer drives.
// *mesh.Node satisfies it.
type Node interface {
	Poll() error
	Send(dst uint8, data []byte) error
	SetReceiveCallback(fn mesh.ReceiveFunc)
}

// Sender frames payloads and hands them to the mesh. Critical sends go
// out Redundancy times with distinct copy tags so the far end can vote
// when the medium mangles one.
type Sender struct {
	node  Node
	stats *Stats
}

// NewSender wraps node. Counters land in stats; a nil stats gets a
// private set.
func NewSender(node Node, stats *Stats) *Sender {
	if stats == nil {
		stats = &Stats{}
	}
	return &Sender{node: node, stats: stats}
}

// Send frames data and transmits it to dst. A critical send emits
// Redundancy copies and stops at the first transmit error, so a failed
// send may still have put earlier copies on the air.
func (s *Sender) Send(dst uint8, data []byte, critical bool) error {
	copies := 1
	if critical {
		copies = Redundancy
	}
	for i := 0; i < copies; i++ {
		var flags uint8
		if critical {
			flags = FlagCritical | uint8(i)<<copyShift
		}
		frame, err := EncodeFrame(flags, data)
		if err != nil {
			return err
		}
		if err := s.node.Send(dst, frame); err != nil {
			return fmt.Errorf("copy %d of %d: %w", i+1, copies, err)
		}
		s.stats.addSent(1)
	}
	return nil
}
