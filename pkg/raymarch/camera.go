package raymarch

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"volumerender/internal/models"
)

// CameraUniform carries the per-frame ray generation inputs.
type CameraUniform struct {
	// InvViewProj maps normalized device coordinates to world space
	InvViewProj mgl32.Mat4

	// InvModel maps world space to volume-local unit cube coordinates
	InvModel mgl32.Mat4

	// Position is the camera position in volume-local coordinates
	Position mgl32.Vec3

	// Frame seeds the jitter hash
	Frame uint32

	Width  int32
	Height int32
}

// ModelMatrix places the unit cube centred at the origin, scaled so the
// longest physical axis has length 1.
func ModelMatrix(extent [3]float64) mgl32.Mat4 {
	longest := max(extent[0], extent[1], extent[2])
	if longest <= 0 {
		longest = 1
	}
	scale := mgl32.Vec3{
		float32(extent[0] / longest),
		float32(extent[1] / longest),
		float32(extent[2] / longest),
	}
	for i := range scale {
		if scale[i] <= 0 {
			scale[i] = 1
		}
	}
	return mgl32.Scale3D(scale[0], scale[1], scale[2]).Mul4(mgl32.Translate3D(-0.5, -0.5, -0.5))
}

// NewCameraUniform derives the uniform from a host camera and the volume
// model matrix.
func NewCameraUniform(cam models.Camera, model mgl32.Mat4, frame uint32) CameraUniform {
	invModel := model.Inv()
	pos := invModel.Mul4x1(cam.Position.Vec4(1))
	if pos[3] != 0 {
		pos = pos.Mul(1 / pos[3])
	}
	return CameraUniform{
		InvViewProj: cam.ViewProjection().Inv(),
		InvModel:    invModel,
		Position:    pos.Vec3(),
		Frame:       frame,
		Width:       int32(cam.Viewport.Width),
		Height:      int32(cam.Viewport.Height),
	}
}

// Ray returns the volume-local ray direction through the centre of pixel
// (x, y). The direction is not finite when the matrices are degenerate.
func (c CameraUniform) Ray(x, y int) mgl32.Vec3 {
	w, h := float32(max(c.Width, 1)), float32(max(c.Height, 1))
	ndcX := 2*(float32(x)+0.5)/w - 1
	ndcY := 1 - 2*(float32(y)+0.5)/h

	far := c.InvViewProj.Mul4x1(mgl32.Vec4{ndcX, ndcY, 1, 1})
	if far[3] != 0 {
		far = far.Mul(1 / far[3])
	}
	local := c.InvModel.Mul4x1(far.Vec3().Vec4(1))
	return local.Vec3().Sub(c.Position).Normalize()
}

type cameraBlock struct {
	InvViewProj [16]float32
	InvModel    [16]float32
	Position    [3]float32
	Frame       uint32
	Width       int32
	Height      int32
}

// CameraSize is the encoded size of CameraUniform.
var CameraSize = binary.Size(cameraBlock{})

// MarshalBinary encodes the uniform as little-endian bytes.
func (c CameraUniform) MarshalBinary() ([]byte, error) {
	b := cameraBlock{
		InvViewProj: c.InvViewProj,
		InvModel:    c.InvModel,
		Position:    c.Position,
		Frame:       c.Frame,
		Width:       c.Width,
		Height:      c.Height,
	}
	var buf bytes.Buffer
	buf.Grow(CameraSize)
	if err := binary.Write(&buf, binary.LittleEndian, &b); err != nil {
		return nil, fmt.Errorf("encode camera: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes bytes written by MarshalBinary.
func (c *CameraUniform) UnmarshalBinary(data []byte) error {
	if len(data) != CameraSize {
		return fmt.Errorf("camera block is %d bytes, want %d", len(data), CameraSize)
	}
	var b cameraBlock
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &b); err != nil {
		return fmt.Errorf("decode camera: %w", err)
	}
	*c = CameraUniform{
		InvViewProj: b.InvViewProj,
		InvModel:    b.InvModel,
		Position:    b.Position,
		Frame:       b.Frame,
		Width:       b.Width,
		Height:      b.Height,
	}
	return nil
}
