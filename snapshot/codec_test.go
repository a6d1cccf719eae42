package snapshot

import (
	"encoding/binary"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/luoyjx/lwwset/clock"
	"github.com/luoyjx/lwwset/lww"
)

func testSet() *lww.ElementSet[string] {
	s := lww.New[string]("replica-1", lww.WithClock(clock.NewLogical()))
	s.Add("string_b")
	s.Add("string_a")
	s.Remove("string_b")
	s.Remove("never_added")
	return s
}

func TestFromSet(t *testing.T) {
	got := FromSet(testSet())
	want := &Snapshot{
		ReplicaID: "replica-1",
		Added: []Entry{
			{Element: "string_a", Timestamp: 2},
			{Element: "string_b", Timestamp: 1},
		},
		Removed: []Entry{
			{Element: "never_added", Timestamp: 4},
			{Element: "string_b", Timestamp: 3},
		},
	}
	if !cmp.Equal(got, want) {
		t.Errorf("FromSet: -got +want\n%s", cmp.Diff(got, want))
	}
}

func TestToSet(t *testing.T) {
	snap := &Snapshot{
		ReplicaID: "peer",
		Added: []Entry{
			{Element: "x", Timestamp: 5},
			{Element: "x", Timestamp: 9},
			{Element: "x", Timestamp: 2},
			{Element: "y", Timestamp: 1},
		},
		Removed: []Entry{
			{Element: "y", Timestamp: 3},
		},
	}

	s := snap.ToSet(lww.WithClock(clock.NewLogical()))
	if s.ID() != "peer" {
		t.Errorf("Expected replica ID 'peer', got %s", s.ID())
	}
	if ts, _ := s.Added().Lookup("x"); ts != 9 {
		t.Errorf("Expected duplicate entries to keep timestamp 9, got %d", ts)
	}
	if !s.Query("x") || s.Query("y") {
		t.Errorf("Unexpected members: %v", s.Members())
	}
}

func TestRoundTrip(t *testing.T) {
	for _, format := range []Format{FormatBinary, FormatJSON} {
		t.Run(format.String(), func(t *testing.T) {
			original := testSet()

			data, err := Encode(FromSet(original), format)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if Format(data[0]) != format {
				t.Errorf("Expected format tag %d, got %d", format, data[0])
			}

			decoded, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if diff := cmp.Diff(FromSet(original), decoded, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("Round trip mismatch (-want +got):\n%s", diff)
			}

			restored := decoded.ToSet()
			if !original.Compare(restored) || !restored.Compare(original) {
				t.Error("Restored set is not equivalent to the original")
			}
		})
	}
}

func TestRoundTripEmptyAndNegative(t *testing.T) {
	snap := &Snapshot{Added: []Entry{{Element: "", Timestamp: -42}}}

	data, err := Encode(snap, FormatBinary)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if diff := cmp.Diff(snap, decoded, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("Round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeSkipsUnknownFields(t *testing.T) {
	var payload []byte
	payload = protowire.AppendTag(payload, 99, protowire.VarintType)
	payload = protowire.AppendVarint(payload, 7)
	payload = protowire.AppendTag(payload, fieldReplicaID, protowire.BytesType)
	payload = protowire.AppendString(payload, "r")

	frame := make([]byte, HeaderSize+len(payload))
	frame[0] = byte(FormatBinary)
	binary.BigEndian.PutUint32(frame[1:HeaderSize], uint32(len(payload)))
	copy(frame[HeaderSize:], payload)

	snap, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if snap.ReplicaID != "r" {
		t.Errorf("Expected replica ID 'r', got %q", snap.ReplicaID)
	}
}

func TestDecodeErrors(t *testing.T) {
	valid, err := Encode(FromSet(testSet()), FormatBinary)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	truncated := append([]byte(nil), valid[:len(valid)-1]...)
	binary.BigEndian.PutUint32(truncated[1:HeaderSize], uint32(len(truncated)-HeaderSize))

	unknown := append([]byte(nil), valid...)
	unknown[0] = 0x7f

	badJSON := []byte{byte(FormatJSON), 0, 0, 0, 1, '{'}

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"short header", []byte{1, 0}, ErrInvalidSnapshot},
		{"length mismatch", valid[:len(valid)-1], ErrInvalidSnapshot},
		{"truncated payload", truncated, ErrInvalidSnapshot},
		{"unknown format", unknown, ErrUnknownFormat},
		{"bad json", badJSON, ErrInvalidSnapshot},
		{"too large", []byte{1, 0xff, 0xff, 0xff, 0xff}, ErrSnapshotTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestEncodeErrors(t *testing.T) {
	if _, err := Encode(nil, FormatBinary); !errors.Is(err, ErrInvalidSnapshot) {
		t.Errorf("Expected ErrInvalidSnapshot for nil snapshot, got %v", err)
	}
	if _, err := Encode(&Snapshot{}, Format(0)); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("Expected ErrUnknownFormat, got %v", err)
	}

	small := NewCodec(HeaderSize + 4)
	if _, err := small.Encode(FromSet(testSet()), FormatJSON); !errors.Is(err, ErrSnapshotTooLarge) {
		t.Errorf("Expected ErrSnapshotTooLarge, got %v", err)
	}
}

func TestNewCodecTooSmallFallsBackToDefault(t *testing.T) {
	for _, size := range []int{-1, 0, 1, HeaderSize} {
		c := NewCodec(size)
		data, err := c.Encode(FromSet(testSet()), FormatBinary)
		if err != nil {
			t.Errorf("NewCodec(%d).Encode failed: %v", size, err)
			continue
		}
		if _, err := c.Decode(data); err != nil {
			t.Errorf("NewCodec(%d).Decode failed: %v", size, err)
		}
	}
}

func TestParseFormat(t *testing.T) {
	for name, want := range map[string]Format{"binary": FormatBinary, "JSON": FormatJSON, "protobuf": FormatBinary} {
		got, err := ParseFormat(name)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %v, %v; want %v", name, got, err, want)
		}
	}
	if _, err := ParseFormat("xml"); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("Expected ErrUnknownFormat, got %v", err)
	}
}

func TestRoundTripNonUTF8Elements(t *testing.T) {
	s := lww.New[string]("replica-1", lww.WithClock(clock.NewLogical()))
	s.Add("\xff\xfe")
	s.Add("plain")
	s.Remove("\xc3")

	for _, format := range []Format{FormatBinary, FormatJSON} {
		t.Run(format.String(), func(t *testing.T) {
			data, err := Encode(FromSet(s), format)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			decoded, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}

			restored := decoded.ToSet()
			if !restored.Query("\xff\xfe") || !restored.Query("plain") {
				t.Errorf("Restored set lost members: %q", restored.Members())
			}
			if _, ok := restored.Removed().Lookup("\xc3"); !ok {
				t.Error("Restored set lost a non-UTF-8 remove entry")
			}
			if !s.Compare(restored) || !restored.Compare(s) {
				t.Error("Restored set is not equivalent to the source")
			}
		})
	}
}

func TestJSONEntryEncoding(t *testing.T) {
	data, err := Encode(&Snapshot{Added: []Entry{{Element: "a", Timestamp: 1}, {Element: "\xff", Timestamp: 2}}}, FormatJSON)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	want := `{"replica_id":"","added":[{"element":"a","timestamp":1},{"element_base64":"/w==","timestamp":2}],"removed":null}`
	if got := string(data[HeaderSize:]); got != want {
		t.Errorf("Unexpected JSON payload:\n got %s\nwant %s", got, want)
	}
}
