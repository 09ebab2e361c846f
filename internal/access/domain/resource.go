package domain

import "time"

// MaxDepth bounds the parent chain: comment -> issue -> project.
const MaxDepth = 3

type ResourceType string

const (
	ResourceProject ResourceType = "project"
	ResourceIssue   ResourceType = "issue"
	ResourceComment ResourceType = "comment"
)

func (t ResourceType) Valid() bool {
	switch t {
	case ResourceProject, ResourceIssue, ResourceComment:
		return true
	}
	return false
}

// ParentType returns the type a resource of type t must hang off. Projects
// have no parent.
func (t ResourceType) ParentType() (ResourceType, bool) {
	switch t {
	case ResourceIssue:
		return ResourceProject, true
	case ResourceComment:
		return ResourceIssue, true
	}
	return "", false
}

// ChildType is the inverse of ParentType.
func (t ResourceType) ChildType() (ResourceType, bool) {
	switch t {
	case ResourceProject:
		return ResourceIssue, true
	case ResourceIssue:
		return ResourceComment, true
	}
	return "", false
}

type Resource struct {
	ID        string
	Type      ResourceType
	OwnerID   string
	ParentID  string // empty for projects
	CreatedAt time.Time
}

type Action string

const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

func (a Action) Valid() bool {
	switch a {
	case ActionRead, ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}
