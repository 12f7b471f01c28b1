package presence

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPermissionDenied is returned by a Camera when the user refused access.
	ErrPermissionDenied = errors.New("camera permission denied")
	// ErrCameraUnavailable covers missing or busy devices.
	ErrCameraUnavailable = errors.New("camera unavailable")
)

// Constraints requested when opening the camera.
type Constraints struct {
	Width      int
	Height     int
	FacingMode string
}

// DefaultConstraints is a small front-facing capture, enough for face presence.
var DefaultConstraints = Constraints{Width: 320, Height: 240, FacingMode: "user"}

// Frame is one captured image. Data must not be modified after capture.
type Frame struct {
	Seq        uint64
	Width      int
	Height     int
	Data       []byte
	CapturedAt time.Time
}

type Camera interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is an open capture. Frame returns false until the first frame is ready.
type Stream interface {
	Frame() (Frame, bool)
	Close() error
}

// Sink is an optional preview surface the stream is attached to while tracking.
type Sink interface {
	Attach(s Stream)
	Detach()
}
