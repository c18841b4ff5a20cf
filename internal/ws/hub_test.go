package ws

import (
	"testing"

	"github.com/gorilla/websocket"
)

func TestHubAddAndRemoveClient(t *testing.T) {
	hub := NewHub()

	hub.AddClient("conv-1", nil, ConnInfo{ConnID: "c1", ParticipantID: "alice"})
	if len(hub.rooms) != 1 {
		t.Fatalf("expected conversation room to be created")
	}
	if info, ok := hub.getConnInfo("conv-1", nil); !ok || info.ParticipantID != "alice" {
		t.Fatalf("expected connection info to be tracked")
	}

	hub.RemoveClient("conv-1", nil)
	if len(hub.rooms) != 0 {
		t.Fatalf("expected conversation room to be removed")
	}
}

func TestHubRoomsAreIndependent(t *testing.T) {
	hub := NewHub()

	hub.AddClient("conv-1", nil, ConnInfo{ConnID: "c1"})
	hub.AddClient("conv-2", nil, ConnInfo{ConnID: "c2"})
	if len(hub.rooms) != 2 {
		t.Fatalf("expected two conversation rooms")
	}

	hub.RemoveClient("conv-1", nil)
	if len(hub.rooms) != 1 {
		t.Fatalf("expected the other room to survive")
	}
}

func TestHubTypingSkipsTyperConnections(t *testing.T) {
	hub := NewHub()

	aliceConn := new(websocket.Conn)
	bobConn := new(websocket.Conn)
	hub.AddClient("conv-1", aliceConn, ConnInfo{ConnID: "c1", ParticipantID: "alice"})
	hub.AddClient("conv-1", bobConn, ConnInfo{ConnID: "c2", ParticipantID: "bob"})

	targets := hub.snapshot("conv-1", "alice")
	if len(targets) != 1 {
		t.Fatalf("expected only bob's connection, got %d targets", len(targets))
	}
	if targets[0].cl.info.ParticipantID != "bob" {
		t.Fatalf("expected bob's connection to remain, got %q", targets[0].cl.info.ParticipantID)
	}

	if got := hub.snapshot("conv-1", ""); len(got) != 2 {
		t.Fatalf("expected message broadcasts to reach both connections, got %d", len(got))
	}
}
