package protocol

import (
    "bytes"
    "testing"

    "google.golang.org/protobuf/types/known/structpb"

    "ttxfer/pkg/protocol/codec"
)

func TestEncodeDecodeBodyJSON(t *testing.T) {
    reg := codec.NewRegistry()
    in := map[string]any{"x": 1, "y": "z"}
    b, err := EncodeBody(reg, FormatJSON, in)
    if err != nil { t.Fatalf("encode: %v", err) }
    if b[0] != byte(FormatJSON) { t.Fatalf("format prefix mismatch") }
    var out map[string]any
    f, err := DecodeBody(reg, b, &out)
    if err != nil { t.Fatalf("decode: %v", err) }
    if f != FormatJSON { t.Fatalf("format mismatch") }
}

func TestEncodeDecodeBodyCBORWithoutRegistry(t *testing.T) {
    buf := bytes.Repeat([]byte{0xAA}, 16)
    b, err := EncodeBody(nil, FormatCBOR, map[string]any{"buf": buf})
    if err != nil { t.Fatalf("encode: %v", err) }
    var out map[string]any
    if _, err := DecodeBody(nil, b, &out); err != nil { t.Fatalf("decode: %v", err) }
    if !bytes.Equal(out["buf"].([]byte), buf) { t.Fatalf("value mismatch: %#v", out) }
}

func TestEncodeDecodeBodyProto(t *testing.T) {
    reg := codec.NewRegistry()
    s, err := structpb.NewStruct(map[string]any{"k": "v"})
    if err != nil { t.Fatalf("struct: %v", err) }
    b, err := EncodeBody(reg, FormatProto, s)
    if err != nil { t.Fatalf("encode: %v", err) }
    var out structpb.Struct
    if _, err := DecodeBody(reg, b, &out); err != nil { t.Fatalf("decode: %v", err) }
    if out.Fields["k"].GetStringValue() != "v" { t.Fatalf("value mismatch") }
}

func TestDecodeBodyRejectsUnknownFormat(t *testing.T) {
    if _, err := DecodeBody(nil, []byte{0x7f, 1, 2}, new(map[string]any)); err == nil {
        t.Fatalf("expected error for unknown format byte")
    }
    if _, err := DecodeBody(nil, nil, new(map[string]any)); err == nil {
        t.Fatalf("expected error for empty payload")
    }
}

func TestParseFormat(t *testing.T) {
    for name, want := range map[string]Format{"json": FormatJSON, "cbor": FormatCBOR, "": FormatCBOR, "proto": FormatProto} {
        got, err := ParseFormat(name)
        if err != nil || got != want { t.Fatalf("ParseFormat(%q) = %v, %v", name, got, err) }
    }
    if _, err := ParseFormat("xml"); err == nil { t.Fatalf("expected error for xml") }
}
