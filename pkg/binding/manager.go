// Package binding tracks the resources bound to the ray-marching pipeline.
//
// Every slot carries a dirty bit which starts set. Encode issues only dirty
// slots into the pipeline's argument table and clears them, so a render
// with an unchanged camera, volume and transfer tables re-binds nothing.
// Uniform data is compared byte-for-byte before it is rewritten.
package binding

import (
	"bytes"
	"fmt"
	"math"

	"github.com/gogpu/gputypes"

	"volumerender/internal/models"
	"volumerender/pkg/device"
	"volumerender/pkg/logging"
)

// Manager owns the bindings of one pipeline, the output texture and the
// compatibility buffer that mirrors the output as BGRA8.
//
// Thread safety: Manager is not safe for concurrent use; the engine
// serializes access.
type Manager struct {
	device *device.Device

	dirty    slotSet
	textures [slotCount]*device.Texture
	buffers  [slotCount]*device.Buffer
	samplers [slotCount]*device.Sampler

	// pipeline is the identity of the pipeline last encoded against
	pipeline uint64

	outputSize models.Size
	compat     *device.Buffer

	stats Stats
}

// Stats counts binding activity.
type Stats struct {
	// Issued is the number of slots written into an argument table
	Issued uint64

	// UniformWrites is the number of uniform uploads that changed bytes
	UniformWrites uint64

	// UniformSkips is the number of uniform uploads skipped as unchanged
	UniformSkips uint64

	// OutputAllocations is the number of output textures created
	OutputAllocations uint64
}

// NewManager creates a manager with every slot dirty.
func NewManager(d *device.Device) *Manager {
	return &Manager{device: d, dirty: allSlots}
}

func checkKind(slot Slot, want Kind) error {
	if !slot.Valid() {
		return fmt.Errorf("unknown binding slot %v", slot)
	}
	if slot.Kind() != want {
		return fmt.Errorf("slot %v holds a %v, not a %v", slot, slot.Kind(), want)
	}
	return nil
}

// SetTexture binds t to slot, marking the slot dirty when t differs from
// the current binding.
func (m *Manager) SetTexture(slot Slot, t *device.Texture) error {
	if err := checkKind(slot, KindTexture); err != nil {
		return err
	}
	if m.textures[slot] != t {
		m.textures[slot] = t
		m.dirty.add(slot)
	}
	return nil
}

// SetBuffer binds b to slot, marking the slot dirty when b differs from the
// current binding.
func (m *Manager) SetBuffer(slot Slot, b *device.Buffer) error {
	if err := checkKind(slot, KindBuffer); err != nil {
		return err
	}
	if m.buffers[slot] != b {
		m.buffers[slot] = b
		m.dirty.add(slot)
	}
	return nil
}

// SetSampler binds s to slot, marking the slot dirty when s differs from
// the current binding.
func (m *Manager) SetSampler(slot Slot, s *device.Sampler) error {
	if err := checkKind(slot, KindSampler); err != nil {
		return err
	}
	if m.samplers[slot] != s {
		m.samplers[slot] = s
		m.dirty.add(slot)
	}
	return nil
}

// SetUniform uploads data into the buffer bound at slot. A missing or
// differently sized buffer is replaced. When the slot is clean the bytes
// are compared first and an identical upload is skipped. It reports
// whether the slot is dirty afterwards.
func (m *Manager) SetUniform(slot Slot, data []byte) (bool, error) {
	if err := checkKind(slot, KindBuffer); err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, fmt.Errorf("empty uniform for slot %v", slot)
	}

	current := m.buffers[slot]
	if current == nil || current.Len() != len(data) {
		b, err := m.device.NewBufferWithBytes(slot.String(), data,
			gputypes.BufferUsageUniform|gputypes.BufferUsageCopyDst)
		if err != nil {
			return false, fmt.Errorf("allocate %v buffer: %w", slot, err)
		}
		m.buffers[slot] = b
		m.dirty.add(slot)
		m.stats.UniformWrites++
		return true, nil
	}

	if !m.dirty.has(slot) && bytes.Equal(current.Contents(), data) {
		m.stats.UniformSkips++
		return false, nil
	}

	if err := current.Write(0, data); err != nil {
		return false, err
	}
	m.dirty.add(slot)
	m.stats.UniformWrites++
	return true, nil
}

// Texture returns the texture bound at slot.
func (m *Manager) Texture(slot Slot) *device.Texture {
	if !slot.Valid() {
		return nil
	}
	return m.textures[slot]
}

// Buffer returns the buffer bound at slot.
func (m *Manager) Buffer(slot Slot) *device.Buffer {
	if !slot.Valid() {
		return nil
	}
	return m.buffers[slot]
}

// Sampler returns the sampler bound at slot.
func (m *Manager) Sampler(slot Slot) *device.Sampler {
	if !slot.Valid() {
		return nil
	}
	return m.samplers[slot]
}

// IsDirty reports whether slot will be issued by the next Encode.
func (m *Manager) IsDirty(slot Slot) bool {
	return m.dirty.has(slot)
}

// DirtySlots returns the dirty slots in binding order.
func (m *Manager) DirtySlots() []Slot {
	var out []Slot
	for _, s := range Slots() {
		if m.dirty.has(s) {
			out = append(out, s)
		}
	}
	return out
}

// Invalidate marks slots dirty so the next Encode re-issues them.
func (m *Manager) Invalidate(slots ...Slot) {
	for _, s := range slots {
		if s.Valid() {
			m.dirty.add(s)
		}
	}
}

// InvalidateAll marks every slot dirty.
func (m *Manager) InvalidateAll() {
	m.dirty = allSlots
}

// Reset drops every resource and marks all slots dirty. Used after an
// execution failure so the next render re-resolves all device state.
func (m *Manager) Reset() {
	m.textures = [slotCount]*device.Texture{}
	m.buffers = [slotCount]*device.Buffer{}
	m.samplers = [slotCount]*device.Sampler{}
	m.compat = nil
	m.outputSize = models.Size{}
	m.pipeline = 0
	m.dirty = allSlots
}

// Encode issues the dirty slots into the argument table of the encoder's
// pipeline and clears them. Switching to another pipeline re-issues every
// slot. It returns the number of slots issued.
func (m *Manager) Encode(enc *device.ComputeEncoder) (int, error) {
	p := enc.Pipeline()
	if p == nil {
		return 0, fmt.Errorf("%w: encode bindings without a pipeline", device.ErrEncoding)
	}
	if p.ID() != m.pipeline {
		m.pipeline = p.ID()
		m.dirty = allSlots
	}
	args := enc.Arguments()

	issued := 0
	for _, s := range Slots() {
		if !m.dirty.has(s) {
			continue
		}
		var err error
		switch s.Kind() {
		case KindTexture:
			err = args.SetTexture(s.Index(), m.textures[s])
		case KindBuffer:
			err = args.SetBuffer(s.Index(), m.buffers[s])
		case KindSampler:
			err = args.SetSampler(s.Index(), m.samplers[s])
		}
		if err != nil {
			return issued, fmt.Errorf("encode slot %v: %w", s, err)
		}
		m.dirty.remove(s)
		issued++
	}

	m.stats.Issued += uint64(issued)
	logging.Logger().Debug("bindings encoded", "pipeline", p.Label(), "issued", issued)
	return issued, nil
}

// EnsureOutput returns an RGBA32Float output texture of the requested size,
// creating it and the compatibility buffer only when the size changed. The
// second result reports whether new storage was allocated.
func (m *Manager) EnsureOutput(size models.Size) (*device.Texture, bool, error) {
	if size.Empty() {
		return nil, false, fmt.Errorf("%w: empty output size %dx%d", device.ErrAllocation, size.Width, size.Height)
	}
	if out := m.textures[SlotOutput]; out != nil && size == m.outputSize {
		return out, false, nil
	}

	out, err := m.device.NewTexture(gputypes.TextureDescriptor{
		Label:         "output",
		Size:          gputypes.NewExtent2D(uint32(size.Width), uint32(size.Height)),
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        gputypes.TextureFormatRGBA32Float,
		Usage:         gputypes.TextureUsageStorageBinding | gputypes.TextureUsageCopySrc,
	})
	if err != nil {
		return nil, false, fmt.Errorf("allocate output texture: %w", err)
	}
	compat, err := m.device.NewBuffer(gputypes.BufferDescriptor{
		Label: "output-bgra8",
		Size:  uint64(size.Width) * uint64(size.Height) * 4,
		Usage: gputypes.BufferUsageCopyDst | gputypes.BufferUsageMapRead,
	})
	if err != nil {
		return nil, false, fmt.Errorf("allocate compatibility buffer: %w", err)
	}

	m.textures[SlotOutput] = out
	m.compat = compat
	m.outputSize = size
	m.dirty.add(SlotOutput)
	m.stats.OutputAllocations++

	logging.Logger().Debug("output allocated", "width", size.Width, "height", size.Height)
	return out, true, nil
}

// Output returns the current output texture, or nil.
func (m *Manager) Output() *device.Texture {
	return m.textures[SlotOutput]
}

// Compat returns the BGRA8 compatibility buffer, or nil.
func (m *Manager) Compat() *device.Buffer {
	return m.compat
}

// SyncCompat converts the output texture into the compatibility buffer as
// 8-bit BGRA.
func (m *Manager) SyncCompat() error {
	out := m.textures[SlotOutput]
	if out == nil || m.compat == nil {
		return fmt.Errorf("no output allocated")
	}
	data := m.compat.Contents()
	src := out.Data()
	for i := 0; i < out.Width()*out.Height(); i++ {
		s, d := i*4, i*4
		data[d+0] = unorm8(src[s+2])
		data[d+1] = unorm8(src[s+1])
		data[d+2] = unorm8(src[s+0])
		data[d+3] = unorm8(src[s+3])
	}
	return nil
}

// Stats returns the binding counters.
func (m *Manager) Stats() Stats {
	return m.stats
}

func unorm8(v float32) uint8 {
	if v != v || v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(math.Round(float64(v) * 255))
}
