package wire

import (
	"errors"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/san-kum/physync/internal/pose"
)

func sampleBatch() *Batch {
	return &Batch{
		Header: Header{ServerTimeMillis: -5, SenderID: 7, FrameIndex: 1234},
		Records: []Record{
			{ID: 1, Position: mgl64.Vec3{1, 2, 3}, Velocity: mgl64.Vec3{0.5, 0, -0.5}, Rotation: mgl64.QuatIdent()},
			{ID: 42, Position: mgl64.Vec3{-1, 0.25, 8}, Rotation: mgl64.Quat{W: 0, V: mgl64.Vec3{0, 1, 0}}},
		},
	}
}

func TestEncode_Layout(t *testing.T) {
	b := sampleBatch()
	data, err := b.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if len(data) != HeaderSize+2*RecordSize {
		t.Fatalf("expected %d bytes, got %d", HeaderSize+2*RecordSize, len(data))
	}

	header := []byte{
		0xfb, 0xff, 0xff, 0xff, // -5
		0x07, 0x00, // sender
		0xd2, 0x04, 0x00, 0x00, // 1234
		0x02, 0x00, // count
	}
	for i, want := range header {
		if data[i] != want {
			t.Errorf("header byte %d: got %#x, want %#x", i, data[i], want)
		}
	}

	// second record id, little-endian
	off := HeaderSize + RecordSize
	if data[off] != 42 || data[off+1] != 0 {
		t.Errorf("unexpected record id bytes % x", data[off:off+4])
	}
	// rotation w is the last float of the first record: 1.0f = 0x3f800000
	w := data[HeaderSize+RecordSize-4 : HeaderSize+RecordSize]
	if w[0] != 0 || w[1] != 0 || w[2] != 0x80 || w[3] != 0x3f {
		t.Errorf("unexpected w bytes % x", w)
	}
}

func TestDecode_RestoresRecords(t *testing.T) {
	b := sampleBatch()
	b.Commands = []Command{{Object: 42, Kind: CommandGrab, Actor: 7}}
	data, err := b.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Header != b.Header {
		t.Errorf("header: got %+v, want %+v", got.Header, b.Header)
	}
	if len(got.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got.Records))
	}
	if got.Records[1].ID != 42 || got.Records[1].Position != b.Records[1].Position {
		t.Errorf("record mismatch: %+v", got.Records[1])
	}
	if len(got.Commands) != 1 || got.Commands[0] != b.Commands[0] {
		t.Errorf("commands: got %+v", got.Commands)
	}
}

func TestDecode_Errors(t *testing.T) {
	valid, _ := sampleBatch().Encode()

	negative := append([]byte(nil), valid...)
	negative[10], negative[11] = 0xff, 0xff

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrShortPayload},
		{"partial header", valid[:7], ErrShortPayload},
		{"truncated record", valid[:len(valid)-1], ErrShortPayload},
		{"negative count", negative, ErrCountMismatch},
		{"garbage trailer", append(append([]byte(nil), valid...), 0xc1), ErrMalformedTrailer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestDecode_EmptyBatch(t *testing.T) {
	b := &Batch{Header: Header{FrameIndex: 3}}
	data, err := b.Encode()
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Records) != 0 || len(got.Commands) != 0 {
		t.Errorf("expected empty batch, got %+v", got)
	}
}

func TestEncode_TooManyRecords(t *testing.T) {
	b := &Batch{Records: make([]Record, MaxRecords+1)}
	if _, err := b.Encode(); !errors.Is(err, ErrTooManyRecords) {
		t.Errorf("expected ErrTooManyRecords, got %v", err)
	}
}

func TestRecord_Pose(t *testing.T) {
	r := Record{ID: 3, Position: mgl64.Vec3{1, 0, 0}, Rotation: mgl64.Quat{W: 2}, AngularVelocity: mgl64.Vec3{0, 5, 0}}
	p := r.Pose()
	if p.Rotation.W != 1 {
		t.Errorf("expected normalized rotation, got %v", p.Rotation)
	}
	if p.AngularVelocity != (mgl64.Vec3{}) {
		t.Error("plain record should not carry angular velocity")
	}

	r = RecordFrom(3, pose.Body{
		Pose:      pose.Pose{Rotation: mgl64.QuatIdent(), AngularVelocity: mgl64.Vec3{0, 5, 0}},
		Kinematic: true,
	})
	if p := r.Pose(); p.AngularVelocity != (mgl64.Vec3{0, 5, 0}) {
		t.Errorf("angular velocity: got %v", p.AngularVelocity)
	}
	if !r.Kinematic() || r.Sleeping() {
		t.Errorf("flags: got %08b", r.Flags)
	}
}

func TestDecode_RestoresState(t *testing.T) {
	b := sampleBatch()
	b.Records[0] = RecordFrom(1, pose.Body{
		Pose:     pose.Pose{Rotation: mgl64.QuatIdent(), AngularVelocity: mgl64.Vec3{0, 5, -1.5}},
		Sleeping: true,
	})
	b.Records[1] = RecordFrom(42, pose.Body{Pose: pose.Pose{Rotation: mgl64.QuatIdent()}, Kinematic: true})
	b.Commands = []Command{{Object: 42, Kind: CommandUngrab, Actor: 7}}

	data, err := b.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(data) <= b.Size() {
		t.Fatalf("expected a trailer after %d bytes, got %d", b.Size(), len(data))
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	first, second := got.Records[0], got.Records[1]
	if !first.Extended || !first.Sleeping() || first.Kinematic() {
		t.Errorf("first record state: %+v", first)
	}
	if first.AngularVelocity != (mgl64.Vec3{0, 5, -1.5}) {
		t.Errorf("angular velocity: got %v", first.AngularVelocity)
	}
	if !second.Kinematic() || second.Sleeping() {
		t.Errorf("second record flags: %08b", second.Flags)
	}
	if len(got.Commands) != 1 || got.Commands[0].Kind != CommandUngrab {
		t.Errorf("commands: got %+v", got.Commands)
	}
}

func TestDecode_StateCountMismatch(t *testing.T) {
	b := sampleBatch()
	b.Records[0].Extended = true
	data, err := b.Encode()
	if err != nil {
		t.Fatal(err)
	}

	// reuse the two-state trailer behind a single record
	short := &Batch{Header: b.Header, Records: b.Records[:1]}
	head, err := short.Encode()
	if err != nil {
		t.Fatal(err)
	}
	head = head[:short.Size()]
	forged := append(head, data[b.Size():]...)

	if _, err := Decode(forged); !errors.Is(err, ErrMalformedTrailer) {
		t.Errorf("expected ErrMalformedTrailer, got %v", err)
	}
}

func TestDeltaMillis(t *testing.T) {
	tests := []struct {
		a, b int32
		want int32
	}{
		{1000, 400, 600},
		{400, 1000, -600},
		{-2147483600, 2147483600, 96},
		{2147483600, -2147483600, -96},
	}
	for _, tt := range tests {
		if got := DeltaMillis(tt.a, tt.b); got != tt.want {
			t.Errorf("DeltaMillis(%d, %d) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestMillis_Wraps(t *testing.T) {
	if got := Millis(1.5); got != 1500 {
		t.Errorf("Millis(1.5) = %d", got)
	}
	big := Millis(float64(1<<31) / 1000)
	if big != -2147483648 {
		t.Errorf("expected wrap to MinInt32, got %d", big)
	}
}
