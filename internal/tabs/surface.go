package tabs

import (
	"context"
	"errors"
)

// ErrSurfaceGone reports an operation on a surface that was already removed
// or is mid-teardown. Callers treat it as success.
var ErrSurfaceGone = errors.New("tabs: surface gone")

// Bounds is a rectangle in window coordinates.
type Bounds struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Surface is the rendering resource backing one loaded tab.
type Surface interface {
	Load(ctx context.Context, html string) error
	Content(ctx context.Context) (string, error)
	Attach(ctx context.Context) error
	Detach(ctx context.Context) error
	SetBounds(ctx context.Context, b Bounds) error
	Destroy(ctx context.Context) error
}

// SurfaceFactory creates surfaces on demand.
type SurfaceFactory interface {
	NewSurface(ctx context.Context, id int) (Surface, error)
}

type WindowEventKind int

const (
	WindowResized WindowEventKind = iota
	WindowEnterFullscreen
	WindowLeaveFullscreen
)

func (k WindowEventKind) String() string {
	switch k {
	case WindowResized:
		return "resize"
	case WindowEnterFullscreen:
		return "enter-fullscreen"
	case WindowLeaveFullscreen:
		return "leave-fullscreen"
	default:
		return "unknown"
	}
}

type WindowEvent struct {
	Kind WindowEventKind
}

// Window is the host window the active surface is laid out in.
type Window interface {
	ContentBounds() Bounds
	// Subscribe registers fn for window lifecycle events and returns a
	// function that removes it.
	Subscribe(fn func(WindowEvent)) func()
}

// IDAllocator hands out tab ids. *idalloc.Allocator satisfies it.
type IDAllocator interface {
	Allocate() int
	Release(id int)
	Reserve(id int) bool
}

// Invalidator drops cached data for a tab id. *snapshot.Store satisfies it.
type Invalidator interface {
	Delete(id int) error
}
