package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/echoline-ai/echoline/pkg/audio"
)

// captureLoop converts microphone frames to 16-bit PCM and hands them to the
// background sender through a bounded queue. The audio thread never blocks:
// when the queue is full the frame is dropped and counted. The loop owns the
// queue and closes it on exit.
func (s *Session) captureLoop(res *resources) {
	defer close(res.sendQ)
	ctx := context.Background()

	for frame := range res.stream.Frames() {
		// Frames that arrive while the session is tearing down are not
		// drops, they are discarded without counting.
		if s.State() != StateConnected {
			continue
		}
		pcm := audio.Float32ToPCM16(frame)
		s.meter.Observe(pcm)

		select {
		case res.sendQ <- pcm:
		default:
			s.cfg.Metrics.RecordFrameDropped(ctx, s.cfg.ProviderName, "queue_full")
		}
	}

	if err := res.stream.Err(); err != nil {
		go s.finalize(fmt.Errorf("session: microphone: %w", err))
	}
}

// senderLoop drains the send queue into the provider. Sends are
// fire-and-forget: a failed frame is counted and logged, never retried, and
// never stops the flow.
func (s *Session) senderLoop(res *resources) {
	ctx := context.Background()

	for pcm := range res.sendQ {
		if s.State() != StateConnected {
			continue
		}
		if err := res.handle.SendFrame(pcm); err != nil {
			s.cfg.Metrics.RecordFrameDropped(ctx, s.cfg.ProviderName, "send_failed")
			s.log.Debug("sending frame failed", slog.Any("error", err))
			continue
		}
		s.cfg.Metrics.RecordFrameSent(ctx, s.cfg.ProviderName)
	}
}
