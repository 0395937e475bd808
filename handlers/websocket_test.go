package handlers

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"chatrelay/models"
)

func TestBuildRoutedStampsRoomAndSender(t *testing.T) {
	raw := []byte(`{"sender":"abc12","message":"hi","time":1000}`)

	data, err := buildRouted("abc12", raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var routed models.RoutedMessage
	if err := json.Unmarshal(data, &routed); err != nil {
		t.Fatalf("unmarshal routed: %v", err)
	}
	if routed.Room != "abc12" {
		t.Errorf("room = %q, want %q", routed.Room, "abc12")
	}
	if routed.Sender != "abc12" {
		t.Errorf("sender = %q, want %q", routed.Sender, "abc12")
	}
	if routed.Message != "hi" || routed.Time != 1000 {
		t.Errorf("message fields not preserved: %+v", routed)
	}
	if routed.ID == "" {
		t.Error("expected a server-assigned message id")
	}
}

func TestBuildRoutedOverwritesClientClaims(t *testing.T) {
	// Client lies about both its sender and room; the session wins.
	raw := []byte(`{"sender":"spoofed","message":"hi","time":1000,"room":"other"}`)

	data, err := buildRouted("abc12", raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var routed models.RoutedMessage
	if err := json.Unmarshal(data, &routed); err != nil {
		t.Fatalf("unmarshal routed: %v", err)
	}
	if routed.Room != "abc12" {
		t.Errorf("client-supplied room not overwritten: %q", routed.Room)
	}
	if routed.Sender != "abc12" {
		t.Errorf("client-supplied sender not overwritten: %q", routed.Sender)
	}
}

func TestBuildRoutedMalformedPayload(t *testing.T) {
	if _, err := buildRouted("abc12", []byte("not json")); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}

func TestSendAfterClose(t *testing.T) {
	logger := zerolog.Nop()
	client := NewClient(nil, nil, "abc12", &logger)

	close(client.DoneChan)

	if err := client.Send([]byte("late reply")); !errors.Is(err, ErrClientClosed) {
		t.Fatalf("expected ErrClientClosed, got %v", err)
	}
}

func TestSendQueuesPayload(t *testing.T) {
	logger := zerolog.Nop()
	client := NewClient(nil, nil, "abc12", &logger)

	if err := client.Send([]byte("reply")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case payload := <-client.SendChan:
		if string(payload) != "reply" {
			t.Fatalf("payload = %q", payload)
		}
	default:
		t.Fatal("payload not queued")
	}
}

func TestConnIDsAreUnique(t *testing.T) {
	logger := zerolog.Nop()
	a := NewClient(nil, nil, "abc12", &logger)
	b := NewClient(nil, nil, "abc12", &logger)

	if a.ConnID == b.ConnID {
		t.Fatal("two connections share a ConnID")
	}
}
