package model

import (
	"testing"
	"time"
)

func TestPin_Clone_DeepCopiesAuthorAndComments(t *testing.T) {
	orig := Pin{
		ID:        "pin-1",
		Author:    &User{ID: "u1", Name: "Alice"},
		CreatedAt: time.Now(),
		Comments: []Comment{
			{ID: "c1", AuthorID: "u2", Author: &User{ID: "u2", Name: "Bob"}, Text: "hi"},
		},
	}

	c := orig.Clone()
	c.Author.Name = "changed"
	c.Comments[0].Text = "changed"
	c.Comments[0].Author.Name = "changed"

	if orig.Author.Name != "Alice" {
		t.Errorf("orig.Author.Name = %q, want %q", orig.Author.Name, "Alice")
	}
	if orig.Comments[0].Text != "hi" {
		t.Errorf("orig.Comments[0].Text = %q, want %q", orig.Comments[0].Text, "hi")
	}
	if orig.Comments[0].Author.Name != "Bob" {
		t.Errorf("orig.Comments[0].Author.Name = %q, want %q", orig.Comments[0].Author.Name, "Bob")
	}
}

func TestEventKind_Valid(t *testing.T) {
	tests := []struct {
		kind EventKind
		want bool
	}{
		{EventPinAdded, true},
		{EventPinDeleted, true},
		{EventPinUpdated, true},
		{EventKind("pin_moved"), false},
		{EventKind(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := tt.kind.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAPIError_Error(t *testing.T) {
	err := NewPinNotFoundError("pin-9")
	want := "[PIN_NOT_FOUND] 指定されたピンが見つかりません: pin-9"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
