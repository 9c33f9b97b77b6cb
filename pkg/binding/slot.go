package binding

import "fmt"

// Slot names one binding of the ray-marching pipeline.
type Slot uint8

const (
	SlotVolume Slot = iota
	SlotTransfer0
	SlotTransfer1
	SlotTransfer2
	SlotTransfer3
	SlotTone0
	SlotTone1
	SlotTone2
	SlotTone3
	SlotParameters
	SlotCamera
	SlotSampler
	SlotOutput

	slotCount
)

// MaxChannels is the number of transfer-function channels.
const MaxChannels = 4

// Kind is the resource type a slot holds.
type Kind uint8

const (
	KindTexture Kind = iota
	KindBuffer
	KindSampler
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindTexture:
		return "texture"
	case KindBuffer:
		return "buffer"
	default:
		return "sampler"
	}
}

var slotNames = [slotCount]string{
	"volume",
	"transfer0", "transfer1", "transfer2", "transfer3",
	"tone0", "tone1", "tone2", "tone3",
	"parameters", "camera", "sampler", "output",
}

// String returns the slot name.
func (s Slot) String() string {
	if s < slotCount {
		return slotNames[s]
	}
	return fmt.Sprintf("slot(%d)", uint8(s))
}

// Valid reports whether s is a known slot.
func (s Slot) Valid() bool {
	return s < slotCount
}

// Kind returns the resource type of the slot.
func (s Slot) Kind() Kind {
	switch {
	case s == SlotSampler:
		return KindSampler
	case s >= SlotTone0 && s <= SlotCamera:
		return KindBuffer
	default:
		return KindTexture
	}
}

// Index returns the argument-table index of the slot within its kind.
//
//	textures: volume 0, transfer 1-4, output 5
//	buffers:  tone 0-3, parameters 4, camera 5
//	samplers: sampler 0
func (s Slot) Index() int {
	switch {
	case s == SlotVolume:
		return 0
	case s >= SlotTransfer0 && s <= SlotTransfer3:
		return 1 + int(s-SlotTransfer0)
	case s == SlotOutput:
		return 5
	case s >= SlotTone0 && s <= SlotTone3:
		return int(s - SlotTone0)
	case s == SlotParameters:
		return 4
	case s == SlotCamera:
		return 5
	default:
		return 0
	}
}

// TransferSlot returns the transfer-table slot of a channel in [0,3].
func TransferSlot(channel int) Slot {
	return SlotTransfer0 + Slot(channel)
}

// ToneSlot returns the tone-curve slot of a channel in [0,3].
func ToneSlot(channel int) Slot {
	return SlotTone0 + Slot(channel)
}

// Slots returns every slot in binding order.
func Slots() []Slot {
	out := make([]Slot, slotCount)
	for i := range out {
		out[i] = Slot(i)
	}
	return out
}

// slotSet is a bitset over all slots.
type slotSet uint32

const allSlots = slotSet(1<<slotCount - 1)

func (s slotSet) has(slot Slot) bool { return s&(1<<slot) != 0 }

func (s *slotSet) add(slot Slot) { *s |= 1 << slot }

func (s *slotSet) remove(slot Slot) { *s &^= 1 << slot }
