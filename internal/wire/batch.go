package wire

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/san-kum/physync/internal/pose"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	HeaderSize = 12
	RecordSize = 44
	MaxRecords = math.MaxInt16
)

type Header struct {
	ServerTimeMillis int32
	SenderID         int16
	FrameIndex       int32
}

// StateFlags mirror the body flags of the sending peer.
type StateFlags uint8

const (
	FlagSleeping StateFlags = 1 << iota
	FlagKinematic
)

// Record is one object's state. Values are narrowed to float32 on the wire.
// Extended records also carry flags and angular velocity in the trailer.
type Record struct {
	ID              pose.ObjectID
	Position        mgl64.Vec3
	Velocity        mgl64.Vec3
	Rotation        mgl64.Quat
	AngularVelocity mgl64.Vec3
	Flags           StateFlags
	Extended        bool
}

// RecordFrom builds an extended record from a body.
func RecordFrom(id pose.ObjectID, b pose.Body) Record {
	r := Record{
		ID:              id,
		Position:        b.Pose.Position,
		Velocity:        b.Pose.LinearVelocity,
		Rotation:        b.Pose.Rotation,
		AngularVelocity: b.Pose.AngularVelocity,
		Extended:        true,
	}
	if b.Sleeping {
		r.Flags |= FlagSleeping
	}
	if b.Kinematic {
		r.Flags |= FlagKinematic
	}
	return r
}

func (r Record) Sleeping() bool  { return r.Flags&FlagSleeping != 0 }
func (r Record) Kinematic() bool { return r.Flags&FlagKinematic != 0 }

// Pose returns the record as a pose with a normalized rotation. Angular
// velocity is zero unless the record is extended.
func (r Record) Pose() pose.Pose {
	p := pose.Pose{Position: r.Position, LinearVelocity: r.Velocity, Rotation: r.Rotation}
	if r.Extended {
		p.AngularVelocity = r.AngularVelocity
	}
	return p.Normalized()
}

// trailer is the msgpack tail after the fixed records. States, when
// present, hold one entry per record in record order.
type trailer struct {
	Commands []Command    `msgpack:"c,omitempty"`
	States   []stateEntry `msgpack:"s,omitempty"`
}

type stateEntry struct {
	_msgpack struct{} `msgpack:",as_array"`

	Flags StateFlags
	Spin  [3]float32
}

type Batch struct {
	Header   Header
	Records  []Record
	Commands []Command
}

// Size is the encoded length without the trailer.
func (b *Batch) Size() int {
	return HeaderSize + len(b.Records)*RecordSize
}

func (b *Batch) Encode() ([]byte, error) {
	if len(b.Records) > MaxRecords {
		return nil, fmt.Errorf("%w: %d", ErrTooManyRecords, len(b.Records))
	}

	buf := make([]byte, 0, b.Size())
	le := binary.LittleEndian
	buf = le.AppendUint32(buf, uint32(b.Header.ServerTimeMillis))
	buf = le.AppendUint16(buf, uint16(b.Header.SenderID))
	buf = le.AppendUint32(buf, uint32(b.Header.FrameIndex))
	buf = le.AppendUint16(buf, uint16(len(b.Records)))

	for _, r := range b.Records {
		buf = le.AppendUint32(buf, uint32(r.ID))
		buf = appendFloats(buf, r.Position[:]...)
		buf = appendFloats(buf, r.Velocity[:]...)
		buf = appendFloats(buf, r.Rotation.V[0], r.Rotation.V[1], r.Rotation.V[2], r.Rotation.W)
	}

	t := trailer{Commands: b.Commands}
	if b.extended() {
		t.States = make([]stateEntry, len(b.Records))
		for i, r := range b.Records {
			w := r.AngularVelocity
			t.States[i] = stateEntry{Flags: r.Flags, Spin: [3]float32{float32(w[0]), float32(w[1]), float32(w[2])}}
		}
	}
	if len(t.Commands) == 0 && len(t.States) == 0 {
		return buf, nil
	}
	tail, err := msgpack.Marshal(&t)
	if err != nil {
		return nil, fmt.Errorf("encode trailer: %w", err)
	}
	return append(buf, tail...), nil
}

func (b *Batch) extended() bool {
	for _, r := range b.Records {
		if r.Extended {
			return true
		}
	}
	return false
}

// Decode parses a batch. Any error means the whole batch must be dropped.
func Decode(data []byte) (*Batch, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes, header needs %d", ErrShortPayload, len(data), HeaderSize)
	}

	le := binary.LittleEndian
	b := &Batch{Header: Header{
		ServerTimeMillis: int32(le.Uint32(data[0:])),
		SenderID:         int16(le.Uint16(data[4:])),
		FrameIndex:       int32(le.Uint32(data[6:])),
	}}
	count := int(int16(le.Uint16(data[10:])))
	if count < 0 {
		return nil, fmt.Errorf("%w: %d", ErrCountMismatch, count)
	}

	end := HeaderSize + count*RecordSize
	if len(data) < end {
		return nil, fmt.Errorf("%w: %d bytes, %d records need %d", ErrShortPayload, len(data), count, end)
	}

	b.Records = make([]Record, count)
	off := HeaderSize
	for i := range b.Records {
		r := &b.Records[i]
		r.ID = pose.ObjectID(int32(le.Uint32(data[off:])))
		off += 4
		for j := 0; j < 3; j++ {
			r.Position[j] = readFloat(data[off:])
			off += 4
		}
		for j := 0; j < 3; j++ {
			r.Velocity[j] = readFloat(data[off:])
			off += 4
		}
		for j := 0; j < 3; j++ {
			r.Rotation.V[j] = readFloat(data[off:])
			off += 4
		}
		r.Rotation.W = readFloat(data[off:])
		off += 4
	}

	if off == len(data) {
		return b, nil
	}
	var t trailer
	if err := msgpack.Unmarshal(data[off:], &t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTrailer, err)
	}
	b.Commands = t.Commands
	if len(t.States) == 0 {
		return b, nil
	}
	if len(t.States) != count {
		return nil, fmt.Errorf("%w: %d states for %d records", ErrMalformedTrailer, len(t.States), count)
	}
	for i, st := range t.States {
		r := &b.Records[i]
		r.Flags = st.Flags
		r.AngularVelocity = mgl64.Vec3{float64(st.Spin[0]), float64(st.Spin[1]), float64(st.Spin[2])}
		r.Extended = true
	}
	return b, nil
}

func appendFloats(buf []byte, vs ...float64) []byte {
	for _, v := range vs {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(v)))
	}
	return buf
}

func readFloat(b []byte) float64 {
	return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
}
