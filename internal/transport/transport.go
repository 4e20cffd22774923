// Package transport provides the asynchronous, funnel-through-one-
// goroutine frame transmitter shared by internal/serialhal and
// internal/socketcanhal, adapted from the teacher's internal/transport
// package of the same name.
package transport

import "github.com/grapple-robotics/grplcan-go/internal/can"

// FrameSink is a generic CAN frame transmission target.
type FrameSink interface {
	SendFrame(can.Frame) error
}
