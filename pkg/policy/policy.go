package policy

import "pressgate/pkg/auth"

type Action string

const (
	ActionAllow   Action = "allow"
	ActionConfirm Action = "confirm"
	ActionDeny    Action = "deny"
)

type Decision struct {
	Action Action `json:"action"`
	Reason string `json:"reason"`
}

var privilegedRoles = map[string]struct{}{
	"admin":  {},
	"editor": {},
}

// allowTools are read or draft-scoped: they never touch published content
// and run without confirmation.
var allowTools = map[string]struct{}{
	"blogs_list_blogs":        {},
	"blogs_get_blog":          {},
	"blogs_create_draft":      {},
	"blogs_update_draft":      {},
	"profile_get_profile":     {},
	"projects_list_projects":  {},
	"projects_get_project":    {},
	"projects_create_draft":   {},
	"projects_update_draft":   {},
	"media_list_assets":       {},
}

// confirmTools publish, overwrite or destroy visible content; they require
// an explicit confirmation round-trip.
var confirmTools = map[string]struct{}{
	"blogs_publish_blog":       {},
	"blogs_unpublish_blog":     {},
	"blogs_delete_blog":        {},
	"projects_publish_project": {},
	"projects_delete_project":  {},
	"profile_update_profile":   {},
	"media_delete_asset":       {},
}

// Evaluate classifies (tool, actor) into allow, confirm or deny. It is a
// pure total function: no I/O, no clock, deterministic for every input.
func Evaluate(toolName string, actor *auth.Actor) Decision {
	if actor == nil || actor.ID == "" {
		return Decision{Action: ActionDeny, Reason: "unauthenticated"}
	}
	if _, ok := privilegedRoles[actor.Role]; !ok {
		return Decision{Action: ActionDeny, Reason: "role " + actor.Role + " not permitted"}
	}
	if _, ok := allowTools[toolName]; ok {
		return Decision{Action: ActionAllow, Reason: "read or draft scope"}
	}
	if _, ok := confirmTools[toolName]; ok {
		return Decision{Action: ActionConfirm, Reason: "destructive action requires confirmation"}
	}
	return Decision{Action: ActionDeny, Reason: "unknown tool " + toolName}
}

// Known reports whether toolName is in the recognized tool set.
func Known(toolName string) bool {
	if _, ok := allowTools[toolName]; ok {
		return true
	}
	_, ok := confirmTools[toolName]
	return ok
}
