package chat_test

import (
	"testing"

	chatservice "github.com/ac-platform/chat-relay/internal/service/chat"
)

func TestSessionRegistryLifecycle(t *testing.T) {
	sessions := chatservice.NewSessionRegistry()

	sessions.Add("conn-1", nil)

	info, ok := sessions.Lookup("conn-1")
	if !ok {
		t.Fatal("expected session after Add")
	}
	if info.ChatID != "" || info.Username != "" {
		t.Fatalf("fresh connection already bound: %+v", info)
	}

	if _, ok := sessions.Bind("conn-1", "c1", "Alice"); !ok {
		t.Fatal("Bind failed for known connection")
	}
	info, _ = sessions.Lookup("conn-1")
	if info.ChatID != "c1" || info.Username != "Alice" {
		t.Fatalf("unexpected binding: %+v", info)
	}

	// Rebinding overwrites; no explicit leave required.
	if _, ok := sessions.Bind("conn-1", "c2", "Alice"); !ok {
		t.Fatal("rebind failed")
	}
	info, _ = sessions.Lookup("conn-1")
	if info.ChatID != "c2" {
		t.Fatalf("rebind did not overwrite: %+v", info)
	}

	removed, ok := sessions.Remove("conn-1")
	if !ok || removed.ChatID != "c2" {
		t.Fatalf("Remove = %+v, %v", removed, ok)
	}

	if _, ok := sessions.Lookup("conn-1"); ok {
		t.Fatal("session survived Remove")
	}
	if _, ok := sessions.Remove("conn-1"); ok {
		t.Fatal("second Remove reported a session")
	}
}

func TestSessionRegistryBindUnknownConnection(t *testing.T) {
	sessions := chatservice.NewSessionRegistry()

	if _, ok := sessions.Bind("ghost", "c1", "Alice"); ok {
		t.Fatal("Bind succeeded for unknown connection")
	}
}
