package protocol

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/danmuck/pigeon/internal/testutil/testlog"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	testlog.Start(t)
	raw, err := Encode("app.ping", Data{"x": float64(1), "tag": "a"}, "")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := Envelope{MessageName: "app.ping", Data: Data{"x": float64(1), "tag": "a"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch: got=%+v want=%+v", got, want)
	}
}

func TestEncodeOmitsEmptyDataAndOrigin(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name   string
		data   Data
		origin string
		want   string
	}{
		{name: "nil data", data: nil, want: `{"messageName":"app.ping"}`},
		{name: "empty data", data: Data{}, want: `{"messageName":"app.ping"}`},
		{name: "origin set", data: nil, origin: "https://a.example", want: `{"messageName":"app.ping","origin":"https://a.example"}`},
		{name: "data set", data: Data{"k": "v"}, want: `{"messageName":"app.ping","data":{"k":"v"}}`},
	}
	for _, tc := range cases {
		raw, err := Encode("app.ping", tc.data, tc.origin)
		if err != nil {
			t.Fatalf("%s: encode: %v", tc.name, err)
		}
		if string(raw) != tc.want {
			t.Fatalf("%s: got=%s want=%s", tc.name, raw, tc.want)
		}
	}
}

func TestEncodeRequiresMessageName(t *testing.T) {
	testlog.Start(t)
	if _, err := Encode("  ", nil, ""); !errors.Is(err, ErrMissingMessageName) {
		t.Fatalf("expected ErrMissingMessageName, got %v", err)
	}
}

func TestDecodeMalformed(t *testing.T) {
	testlog.Start(t)
	inputs := []string{
		"not json",
		`"a string"`,
		`[1,2]`,
		`null`,
		`{}`,
		`{"messageName":"app.ping","data":5}`,
	}
	for _, in := range inputs {
		if _, err := Decode([]byte(in)); !errors.Is(err, ErrMalformedEnvelope) {
			t.Fatalf("expected ErrMalformedEnvelope for %q, got %v", in, err)
		}
	}
}

func TestDecodeKeepsOrigin(t *testing.T) {
	testlog.Start(t)
	env, err := Decode([]byte(`{"messageName":"app.x","origin":"https://b.example"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Origin != "https://b.example" || env.Data != nil {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestAckNaming(t *testing.T) {
	testlog.Start(t)
	name := Qualify("app", "ping")
	if name != "app.ping" {
		t.Fatalf("qualify got=%q", name)
	}
	ack := AckName(name, DefaultCompletionSignal)
	if ack != "app.ping.acknowledged" {
		t.Fatalf("ack name got=%q", ack)
	}
	if !(Envelope{MessageName: ack}).IsAcknowledgment(DefaultCompletionSignal) {
		t.Fatalf("expected %q to be an acknowledgment", ack)
	}
	if (Envelope{MessageName: name}).IsAcknowledgment(DefaultCompletionSignal) {
		t.Fatalf("expected %q not to be an acknowledgment", name)
	}
	if IsAckName("app.unacknowledged", DefaultCompletionSignal) {
		t.Fatalf("suffix match must respect the dot boundary")
	}
	if IsAckName("app.ping.done", "") {
		t.Fatalf("empty signal never matches")
	}
	if !strings.HasSuffix(AckName(name, "done"), ".done") {
		t.Fatalf("custom signal not applied")
	}
}
