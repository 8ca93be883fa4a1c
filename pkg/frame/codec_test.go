package frame

import (
	"bytes"
	"errors"
	"testing"

	"github.com/railcomm/trdp-pd/pkg/pderr"
)

func TestEncodeCheckV1RoundTrip(t *testing.T) {
	h := V1Header{
		ProtocolVersion: ProtocolVersion1,
		MsgType:         MsgPd,
		ComId:           10001,
		EtbTopoCnt:      100,
		OpTrnTopoCnt:    1,
		ReplyComId:      0,
		ReplyIPAddress:  0,
		SequenceCounter: 7,
	}
	payload := bytes.Repeat([]byte{0xAA}, 40)

	wire, err := EncodeV1(h, payload)
	if err != nil {
		t.Fatalf("EncodeV1: %v", err)
	}
	if len(wire) != HeaderSizeV1+len(payload) {
		t.Fatalf("wire length = %d, want %d", len(wire), HeaderSizeV1+len(payload))
	}

	f, err := Check(wire)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if f.IsV2() {
		t.Fatal("expected v1 frame")
	}
	if f.ComId() != 10001 || f.SequenceCounter() != 7 {
		t.Fatalf("unexpected header fields: %+v", f.V1)
	}
	if !bytes.Equal(f.Payload, payload) {
		t.Fatalf("payload mismatch: got %x want %x", f.Payload, payload)
	}
}

func TestEncodeCheckV2RoundTrip(t *testing.T) {
	h := V2Header{
		ProtocolVersion: ProtocolVersion2,
		MsgType:         MsgTsnPd,
		ComId:           20002,
		SequenceCounter: 3,
	}
	payload := []byte("tsn-payload")

	wire, err := EncodeV2(h, payload)
	if err != nil {
		t.Fatalf("EncodeV2: %v", err)
	}
	f, err := Check(wire)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !f.IsV2() {
		t.Fatal("expected v2 frame")
	}
	if f.ComId() != 20002 {
		t.Fatalf("ComId = %d, want 20002", f.ComId())
	}
	if !bytes.Equal(f.Payload, payload) {
		t.Fatalf("payload mismatch: got %q want %q", f.Payload, payload)
	}
}

func TestCheckDetectsCRCCorruption(t *testing.T) {
	h := V1Header{ProtocolVersion: ProtocolVersion1, MsgType: MsgPd, ComId: 1}
	wire, err := EncodeV1(h, []byte("hello"))
	if err != nil {
		t.Fatalf("EncodeV1: %v", err)
	}
	wire[0] ^= 0xFF // corrupt a header byte covered by the checksum

	_, err = Check(wire)
	if !errors.Is(err, pderr.ErrCrc) {
		t.Fatalf("Check() err = %v, want ErrCrc", err)
	}
}

func TestCheckRejectsOversizeDataset(t *testing.T) {
	h := V1Header{ProtocolVersion: ProtocolVersion1, MsgType: MsgPd}
	_, err := EncodeV1(h, make([]byte, MaxDatasetV1+1))
	if !errors.Is(err, pderr.ErrParam) {
		t.Fatalf("EncodeV1() err = %v, want ErrParam", err)
	}
}

func TestCheckNeverPanicsOnRandomInput(t *testing.T) {
	inputs := [][]byte{
		nil,
		{},
		{0x01},
		bytes.Repeat([]byte{0x00}, 39),
		bytes.Repeat([]byte{0xFF}, 2000),
		bytes.Repeat([]byte{0x01, 0x00}, 30),
	}
	for i, in := range inputs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Fatalf("input %d: Check panicked: %v", i, r)
				}
			}()
			_, err := Check(in)
			if err == nil {
				return
			}
			if !errors.Is(err, pderr.ErrWire) && !errors.Is(err, pderr.ErrCrc) {
				t.Fatalf("input %d: err = %v, want ErrWire or ErrCrc", i, err)
			}
		}()
	}
}

func TestMsgTypeString(t *testing.T) {
	cases := map[MsgType]string{MsgPd: "Pd", MsgPp: "Pp", MsgPr: "Pr", MsgPe: "Pe"}
	for mt, want := range cases {
		if got := mt.String(); got != want {
			t.Errorf("MsgType(%x).String() = %q, want %q", uint16(mt), got, want)
		}
	}
}
