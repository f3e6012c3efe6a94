// Package access resolves what a user may do with a note based on their
// relationship to it.
package access

type Relationship string
type Action string

const (
	RelationshipOwner        Relationship = "owner"
	RelationshipCollaborator Relationship = "active_collaborator"
	RelationshipNone         Relationship = "no_access"
)

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionShare  Action = "share"
	ActionDelete Action = "delete"
	ActionRecuse Action = "recuse"
)

// Can reports whether the relationship permits the action. Collaborators are
// strictly read-only except for recusing themselves; everything that mutates
// the note or its sharing is owner-only.
func Can(relationship Relationship, action Action) bool {
	switch relationship {
	case RelationshipOwner:
		return action == ActionRead || action == ActionWrite || action == ActionShare || action == ActionDelete
	case RelationshipCollaborator:
		return action == ActionRead || action == ActionRecuse
	default:
		return false
	}
}

// Capabilities is the permission summary attached to note reads.
type Capabilities struct {
	Role     Relationship `json:"role"`
	CanEdit  bool         `json:"canEdit"`
	CanShare bool         `json:"canShare"`
}

func CapabilitiesFor(relationship Relationship) Capabilities {
	return Capabilities{
		Role:     relationship,
		CanEdit:  relationship == RelationshipOwner,
		CanShare: relationship == RelationshipOwner,
	}
}
