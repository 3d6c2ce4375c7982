// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"strings"
	"testing"
)

type span struct {
	ChunkID   int64 `json:"chunk_id" cbor:"1,keyasint"`
	Offset    int64 `json:"offset" cbor:"2,keyasint"`
	RawLength int64 `json:"raw_length" cbor:"3,keyasint"`
}

type namedSpan struct {
	ChunkID   int64 `json:"chunk_id"`
	Offset    int64 `json:"offset"`
	RawLength int64 `json:"raw_length"`
}

// label implements encoding.TextMarshaler, like archive digests.
type label struct{ value string }

func (l label) MarshalText() ([]byte, error) { return []byte("label:" + l.value), nil }

func (l *label) UnmarshalText(text []byte) error {
	l.value = strings.TrimPrefix(string(text), "label:")
	return nil
}

func TestMarshalUnmarshalKeyAsInt(t *testing.T) {
	original := []span{
		{ChunkID: 1, Offset: 0, RawLength: 524288},
		{ChunkID: 1, Offset: 524288, RawLength: 524288},
		{ChunkID: 7, Offset: 1048576, RawLength: 12},
	}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded []span
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(decoded) != len(original) {
		t.Fatalf("decoded %d spans, want %d", len(decoded), len(original))
	}
	for i := range original {
		if decoded[i] != original[i] {
			t.Errorf("span %d: got %+v, want %+v", i, decoded[i], original[i])
		}
	}
}

func TestKeyAsIntIsSmallerThanNamedKeys(t *testing.T) {
	compact, err := Marshal(span{ChunkID: 3, Offset: 4096, RawLength: 4096})
	if err != nil {
		t.Fatal(err)
	}
	named, err := Marshal(namedSpan{ChunkID: 3, Offset: 4096, RawLength: 4096})
	if err != nil {
		t.Fatal(err)
	}
	if len(compact) >= len(named) {
		t.Errorf("keyasint encoding is %d bytes, named encoding %d", len(compact), len(named))
	}
}

func TestMarshalDeterministicMapOrder(t *testing.T) {
	first := map[string]int{}
	second := map[string]int{}
	keys := []string{"zstd", "none", "lz4", "zlib", "a", "bb"}
	for i, key := range keys {
		first[key] = i
	}
	for i := len(keys) - 1; i >= 0; i-- {
		second[keys[i]] = i
	}

	a, err := Marshal(first)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Marshal(second)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Errorf("map encoding depends on insertion order: %x != %x", a, b)
	}
}

func TestTextMarshalerEncodesAsText(t *testing.T) {
	type record struct {
		Label label `json:"label"`
	}

	data, err := Marshal(record{Label: label{value: "abc"}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	notation, err := Diagnose(data)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if !strings.Contains(notation, `"label:abc"`) {
		t.Errorf("notation %s does not carry the text form", notation)
	}

	var decoded record
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Label.value != "abc" {
		t.Errorf("decoded label = %q, want abc", decoded.Label.value)
	}
}

func TestUnmarshalAnyUsesStringKeys(t *testing.T) {
	data, err := Marshal(namedSpan{ChunkID: 9})
	if err != nil {
		t.Fatal(err)
	}
	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	fields, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded %T, want map[string]any", decoded)
	}
	if _, ok := fields["chunk_id"]; !ok {
		t.Errorf("decoded map %v lacks chunk_id", fields)
	}
}

func TestEncoderDecoderStream(t *testing.T) {
	spans := []span{{ChunkID: 1}, {ChunkID: 2, Offset: 10}, {ChunkID: 3, RawLength: 5}}

	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	for _, s := range spans {
		if err := encoder.Encode(s); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	decoder := NewDecoder(&buffer)
	for i, want := range spans {
		var got span
		if err := decoder.Decode(&got); err != nil {
			t.Fatalf("Decode %d: %v", i, err)
		}
		if got != want {
			t.Errorf("span %d: got %+v, want %+v", i, got, want)
		}
	}
}

func TestUnmarshalInvalidCBOR(t *testing.T) {
	var decoded span
	if err := Unmarshal([]byte{0xFF, 0xFE, 0xFD}, &decoded); err == nil {
		t.Error("Unmarshal accepted invalid CBOR")
	}
}

func BenchmarkMarshalPlan(b *testing.B) {
	spans := make([]span, 2048)
	for i := range spans {
		spans[i] = span{ChunkID: int64(i + 1), Offset: int64(i) * 524288, RawLength: 524288}
	}
	b.ReportAllocs()
	for b.Loop() {
		Marshal(spans)
	}
}
