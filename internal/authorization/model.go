package authorization

import "time"

// Role is a user's effective capability level on a repository. Levels are
// ordered; a higher role implies every lower one.
type Role int

const (
	RoleNone Role = iota
	RoleContributor
	RoleAdmin
	RoleOwner
)

// ParseRole maps the wire name of a role to its level.
func ParseRole(name string) (Role, bool) {
	switch name {
	case "none":
		return RoleNone, true
	case "contributor":
		return RoleContributor, true
	case "admin":
		return RoleAdmin, true
	case "owner":
		return RoleOwner, true
	}
	return RoleNone, false
}

func (r Role) String() string {
	switch r {
	case RoleContributor:
		return "contributor"
	case RoleAdmin:
		return "admin"
	case RoleOwner:
		return "owner"
	default:
		return "none"
	}
}

// CanRead reports whether the role grants read access to a private repository.
func (r Role) CanRead() bool {
	return r >= RoleContributor
}

// CanContribute reports whether the role may add examples and translations.
func (r Role) CanContribute() bool {
	return r >= RoleContributor
}

// CanAdminister reports whether the role may modify the repository and
// review access requests.
func (r Role) CanAdminister() bool {
	return r >= RoleAdmin
}

// Authorization is the lazily materialized (repository, user) role row. The
// uuid is an opaque external handle for the grant.
type Authorization struct {
	UUID           string    `gorm:"column:uuid;primaryKey;size:36"`
	RepositoryUUID string    `gorm:"column:repository_uuid;size:36;not null;uniqueIndex:idx_authorizations_repo_user,priority:1"`
	UserID         uint      `gorm:"column:user_id;not null;uniqueIndex:idx_authorizations_repo_user,priority:2"`
	Role           Role      `gorm:"column:role;not null;default:0"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Authorization) TableName() string {
	return "repository_authorizations"
}

// AccessRequest is a user's petition for a role on a private repository.
// Pending while approved_by is null; rejection deletes the row outright.
type AccessRequest struct {
	ID             uint      `gorm:"column:id;primaryKey"`
	RepositoryUUID string    `gorm:"column:repository_uuid;size:36;not null;uniqueIndex:idx_access_requests_repo_user,priority:1"`
	UserID         uint      `gorm:"column:user_id;not null;uniqueIndex:idx_access_requests_repo_user,priority:2"`
	Text           string    `gorm:"column:text;type:text;not null"`
	ApprovedByID   *uint     `gorm:"column:approved_by_id"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (AccessRequest) TableName() string {
	return "repository_access_requests"
}

// Pending reports whether the request still awaits review.
func (r *AccessRequest) Pending() bool {
	return r.ApprovedByID == nil
}
