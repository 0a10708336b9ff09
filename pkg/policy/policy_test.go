package policy

import (
	"testing"

	"pressgate/pkg/auth"
)

func TestEvaluateTable(t *testing.T) {
	admin := &auth.Actor{ID: "u1", Role: "admin"}
	editor := &auth.Actor{ID: "u2", Role: "editor"}
	viewer := &auth.Actor{ID: "u3", Role: "viewer"}

	cases := []struct {
		name  string
		tool  string
		actor *auth.Actor
		want  Action
	}{
		{"nil actor denied", "blogs_list_blogs", nil, ActionDeny},
		{"empty actor denied", "blogs_list_blogs", &auth.Actor{}, ActionDeny},
		{"viewer denied", "blogs_list_blogs", viewer, ActionDeny},
		{"unknown tool denied", "blogs_drop_database", admin, ActionDeny},
		{"read tool allowed", "blogs_get_blog", editor, ActionAllow},
		{"draft write allowed", "blogs_update_draft", editor, ActionAllow},
		{"publish needs confirm", "blogs_publish_blog", editor, ActionConfirm},
		{"delete needs confirm", "blogs_delete_blog", admin, ActionConfirm},
		{"profile update needs confirm", "profile_update_profile", admin, ActionConfirm},
		{"project draft allowed", "projects_create_draft", admin, ActionAllow},
		{"media delete needs confirm", "media_delete_asset", editor, ActionConfirm},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Evaluate(tc.tool, tc.actor)
			if got.Action != tc.want {
				t.Fatalf("Evaluate(%q) = %s (%s), want %s", tc.tool, got.Action, got.Reason, tc.want)
			}
			if got.Reason == "" {
				t.Fatal("every decision must carry a reason")
			}
		})
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	editor := &auth.Actor{ID: "u2", Role: "editor"}
	first := Evaluate("blogs_publish_blog", editor)
	for i := 0; i < 100; i++ {
		if got := Evaluate("blogs_publish_blog", editor); got != first {
			t.Fatalf("non-deterministic decision: %v vs %v", got, first)
		}
	}
}

func TestEvaluateTotalOverToolUniverse(t *testing.T) {
	// every recognized tool maps to allow or confirm for privileged roles,
	// and unauthenticated callers always get deny
	for tool := range allowTools {
		if got := Evaluate(tool, &auth.Actor{ID: "u", Role: "admin"}); got.Action != ActionAllow {
			t.Fatalf("%s: expected allow, got %s", tool, got.Action)
		}
		if got := Evaluate(tool, nil); got.Action != ActionDeny {
			t.Fatalf("%s: expected deny for nil actor, got %s", tool, got.Action)
		}
	}
	for tool := range confirmTools {
		if got := Evaluate(tool, &auth.Actor{ID: "u", Role: "editor"}); got.Action != ActionConfirm {
			t.Fatalf("%s: expected confirm, got %s", tool, got.Action)
		}
		if got := Evaluate(tool, nil); got.Action != ActionDeny {
			t.Fatalf("%s: expected deny for nil actor, got %s", tool, got.Action)
		}
	}
}

func TestKnown(t *testing.T) {
	if !Known("blogs_publish_blog") || !Known("blogs_list_blogs") {
		t.Fatal("expected recognized tools to be known")
	}
	if Known("blogs_drop_database") {
		t.Fatal("expected unrecognized tool to be unknown")
	}
}
