package conversation

import (
	"testing"

	"github.com/ovelia/duplex/pkg/llm"
)

func TestHistoryStartsWithSystemMessage(t *testing.T) {
	h := NewHistory("You are a tutor.")
	msgs := h.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Role != llm.RoleSystem || msgs[0].Content != "You are a tutor." {
		t.Fatalf("unexpected system message: %+v", msgs[0])
	}
}

func TestHistoryAppendsInOrder(t *testing.T) {
	h := NewHistory("sys")
	h.AppendUser("What is photosynthesis")
	h.AppendAssistant("Plants convert light to energy.")
	h.AppendUser("Tell me more")

	msgs := h.Messages()
	wantRoles := []string{llm.RoleSystem, llm.RoleUser, llm.RoleAssistant, llm.RoleUser}
	if len(msgs) != len(wantRoles) {
		t.Fatalf("expected %d messages, got %d", len(wantRoles), len(msgs))
	}
	for i, role := range wantRoles {
		if msgs[i].Role != role {
			t.Fatalf("message %d: expected role %s, got %s", i, role, msgs[i].Role)
		}
	}
}

func TestHistoryMessagesReturnsCopy(t *testing.T) {
	h := NewHistory("sys")
	h.AppendUser("hello")
	msgs := h.Messages()
	msgs[0].Content = "mutated"
	if h.Messages()[0].Content != "sys" {
		t.Fatalf("external mutation leaked into history")
	}
}
