package service

import "github.com/maneesh/commonfiles/internal/models"

// Access is the relation of an actor to a file, decided once per call.
type Access int

const (
	AccessOther Access = iota
	AccessOwner
	AccessAdmin
)

func (a Access) String() string {
	switch a {
	case AccessOwner:
		return "owner"
	case AccessAdmin:
		return "admin"
	default:
		return "other"
	}
}

// CanDelete reports whether the access level permits deleting the file.
func (a Access) CanDelete() bool {
	return a == AccessOwner || a == AccessAdmin
}

// DecideAccess compares the actor with the file owner. Owner wins over admin.
func DecideAccess(file *models.FileRecord, actor models.Actor) Access {
	switch {
	case actor.Email != "" && actor.Email == file.Owner():
		return AccessOwner
	case actor.Admin:
		return AccessAdmin
	default:
		return AccessOther
	}
}
