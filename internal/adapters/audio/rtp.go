// Package audio holds the default audio step applied to call frames.
package audio

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/talkie/internal/core"
	"github.com/pion/rtp"
)

var (
	ErrEmptyFrame  = errors.New("empty audio frame")
	ErrNoPayload   = errors.New("rtp packet has no payload")
	ErrFrameTooBig = errors.New("audio frame too big")
)

// MaxFrameSize bounds a single frame. Matches a typical path MTU.
const MaxFrameSize = 1500

// RTPProcessor accepts frames that parse as RTP packets and forwards them
// normalized: padding and header extensions are stripped.
type RTPProcessor struct {
	// PayloadTypes restricts accepted payload types when non-empty.
	PayloadTypes map[uint8]struct{}
}

var _ core.AudioProcessor = (*RTPProcessor)(nil)

func NewRTPProcessor(payloadTypes ...uint8) *RTPProcessor {
	p := &RTPProcessor{}
	if len(payloadTypes) > 0 {
		p.PayloadTypes = make(map[uint8]struct{}, len(payloadTypes))
		for _, pt := range payloadTypes {
			p.PayloadTypes[pt] = struct{}{}
		}
	}
	return p
}

func (p *RTPProcessor) Process(ctx context.Context, raw []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch {
	case len(raw) == 0:
		return nil, ErrEmptyFrame
	case len(raw) > MaxFrameSize:
		return nil, ErrFrameTooBig
	}

	var pkt rtp.Packet
	if err := pkt.Unmarshal(raw); err != nil {
		return nil, fmt.Errorf("unmarshal rtp: %w", err)
	}
	if len(pkt.Payload) == 0 {
		return nil, ErrNoPayload
	}
	if p.PayloadTypes != nil {
		if _, ok := p.PayloadTypes[pkt.PayloadType]; !ok {
			return nil, fmt.Errorf("payload type %d not accepted", pkt.PayloadType)
		}
	}

	pkt.Padding = false
	pkt.PaddingSize = 0
	pkt.Extension = false
	pkt.Extensions = nil
	pkt.ExtensionProfile = 0

	out, err := pkt.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal rtp: %w", err)
	}
	return out, nil
}
