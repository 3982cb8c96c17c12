package hl7v2

import (
	"strings"
	"testing"
)

func TestBuildACK_SwapsRouting(t *testing.T) {
	msg := parseTestMessage(t, testADT)
	ack := parseTestMessage(t, BuildACK(msg, AckAccept, ""))

	h := ack.Header()
	if h.Field(2).Value != "RecvApp" {
		t.Errorf("expected sending app 'RecvApp', got %q", h.Field(2).Value)
	}
	if h.Field(3).Value != "RecvFac" {
		t.Errorf("expected sending facility 'RecvFac', got %q", h.Field(3).Value)
	}
	if h.Field(4).Value != "SendApp" {
		t.Errorf("expected receiving app 'SendApp', got %q", h.Field(4).Value)
	}
	if h.Field(5).Value != "SendFac" {
		t.Errorf("expected receiving facility 'SendFac', got %q", h.Field(5).Value)
	}
	if ack.Type() != "ACK^A01" {
		t.Errorf("expected type 'ACK^A01', got %q", ack.Type())
	}
	if ack.Version() != "2.5.1" {
		t.Errorf("expected version '2.5.1', got %q", ack.Version())
	}

	msa := ack.Segment("MSA")
	if msa.Field(1).Value != "AA" {
		t.Errorf("expected MSA-1 'AA', got %q", msa.Field(1).Value)
	}
	if msa.Field(2).Value != "MSG001" {
		t.Errorf("expected MSA-2 'MSG001', got %q", msa.Field(2).Value)
	}
	if len(msa.Fields) != 3 {
		t.Errorf("expected no MSA-3 without text, got %d fields", len(msa.Fields))
	}
}

func TestBuildACK_ErrorText(t *testing.T) {
	msg := parseTestMessage(t, testADT)
	ack := parseTestMessage(t, BuildACK(msg, AckError, "template ADT_A01 failed: bad | input"))

	msa := ack.Segment("MSA")
	if msa.Field(1).Value != "AE" {
		t.Errorf("expected MSA-1 'AE', got %q", msa.Field(1).Value)
	}
	if got := msa.Field(3).Component(0).Value; got != "template ADT_A01 failed: bad | input" {
		t.Errorf("expected decoded error text, got %q", got)
	}
}

func TestBuildReject(t *testing.T) {
	ack := parseTestMessage(t, BuildReject("not hl7"))
	msa := ack.Segment("MSA")
	if msa.Field(1).Value != AckReject {
		t.Errorf("expected MSA-1 'AR', got %q", msa.Field(1).Value)
	}
	if msa.Field(2).Value != "" {
		t.Errorf("expected empty MSA-2, got %q", msa.Field(2).Value)
	}
	if !strings.HasPrefix(ack.Type(), "ACK") {
		t.Errorf("expected ACK type, got %q", ack.Type())
	}
}
