package domain

import (
	"encoding/json"
	"testing"
)

func TestChangePayloadDefinedness(t *testing.T) {
	var undefined ChangePayload
	if undefined.Defined() || !undefined.IsEmpty() || undefined.Raw() != nil {
		t.Fatalf("zero payload should be undefined and empty")
	}
	raw := json.RawMessage(`{"numero":"ZACH-1"}`)
	payload := NewChangePayload(raw)
	raw[2] = 'X'
	if string(payload.Raw()) != `{"numero":"ZACH-1"}` {
		t.Fatalf("payload must not alias the caller's bytes: %s", payload.Raw())
	}
	fields, err := payload.Fields()
	if err != nil || string(fields["numero"]) != `"ZACH-1"` {
		t.Fatalf("fields = %v, %v", fields, err)
	}
}

func TestChangePayloadNullRoundTrip(t *testing.T) {
	type envelope struct {
		Base ChangePayload `json:"base"`
	}
	raw, err := json.Marshal(envelope{})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"base":null}` {
		t.Fatalf("undefined payload should encode as null, got %s", raw)
	}
	var decoded envelope
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Base.Defined() {
		t.Fatalf("null should decode as undefined")
	}
}

func TestDecodePayload(t *testing.T) {
	payload, err := NewChangePayloadFromValue(Fei{Numero: "ZACH-1", FeiCurrentOwnerRole: RoleETG})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	fei, ok := DecodePayload[Fei](payload)
	if !ok || fei.Numero != "ZACH-1" || fei.FeiCurrentOwnerRole != RoleETG {
		t.Fatalf("decode = %+v, %v", fei, ok)
	}
	if _, ok := DecodePayload[Fei](UndefinedChangePayload()); ok {
		t.Fatalf("undefined payload must not decode")
	}
	if _, ok := DecodePayload[Fei](NewChangePayload(json.RawMessage(`[1,2]`))); ok {
		t.Fatalf("mismatched payload must not decode")
	}
}
