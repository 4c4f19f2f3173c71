package pipert

import (
	"context"
	"errors"
	"fmt"
)

// FanOut pushes the packet into every channel without copying its payload:
// each channel receives its own handle to the same store.
//
// FanOut always takes the ownership of the packet. The handle of a failed push
// is released, and the errors are joined together.
func FanOut[T any](ctx context.Context, packet *Packet[T], channels ...*Channel[T]) error {
	if len(channels) == 0 {
		packet.Release()
		return nil
	}

	var errs []error

	for idx, ch := range channels {
		handle := packet
		if idx < len(channels)-1 {
			handle = packet.Clone()
		}

		if err := ch.Push(ctx, handle); err != nil {
			handle.Release()
			errs = append(errs, fmt.Errorf("channel %q: %w", ch.Name(), err))
		}
	}

	return errors.Join(errs...)
}
