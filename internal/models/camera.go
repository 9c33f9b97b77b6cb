package models

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Size is a 2D extent in pixels.
type Size struct {
	Width  int
	Height int
}

// Empty reports whether either dimension is non-positive.
func (s Size) Empty() bool {
	return s.Width <= 0 || s.Height <= 0
}

// Camera is the per-frame viewing input supplied by the host. The engine does
// not keep it beyond a single render.
type Camera struct {
	// Position is the eye position in world space
	Position mgl32.Vec3

	// Target is the look-at point in world space
	Target mgl32.Vec3

	// Up is the camera up vector
	Up mgl32.Vec3

	// FovY is the vertical field of view in degrees
	FovY float32

	// Viewport is the output image size
	Viewport Size
}

const (
	cameraNear = 0.01
	cameraFar  = 100.0
)

// View returns the world-to-camera matrix.
func (c Camera) View() mgl32.Mat4 {
	up := c.Up
	if up.Len() == 0 {
		up = mgl32.Vec3{0, 1, 0}
	}
	return mgl32.LookAtV(c.Position, c.Target, up)
}

// Projection returns the perspective projection for the viewport aspect.
func (c Camera) Projection() mgl32.Mat4 {
	aspect := float32(1)
	if c.Viewport.Height > 0 {
		aspect = float32(c.Viewport.Width) / float32(c.Viewport.Height)
	}
	fov := c.FovY
	if fov <= 0 || fov >= 180 {
		fov = 45
	}
	return mgl32.Perspective(mgl32.DegToRad(fov), aspect, cameraNear, cameraFar)
}

// ViewProjection returns Projection * View.
func (c Camera) ViewProjection() mgl32.Mat4 {
	return c.Projection().Mul4(c.View())
}

// DefaultCamera returns a camera looking at the origin from +z at the given
// distance.
func DefaultCamera(viewport Size, distance float32) Camera {
	return Camera{
		Position: mgl32.Vec3{0, 0, distance},
		Target:   mgl32.Vec3{0, 0, 0},
		Up:       mgl32.Vec3{0, 1, 0},
		FovY:     45,
		Viewport: viewport,
	}
}
