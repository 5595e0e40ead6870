package user

// The Permission Engine. Pure decision functions: role + ownership + explicit
// grants in, allow/deny out. Every mutating service call goes through here
// before touching storage; client-side copies of these predicates are hints
// only and are never trusted.

// Permission is a fixed permission key.
type Permission string

const (
	// user management
	PermEditBuddyAll    Permission = "can_edit_buddy_all"
	PermEditOwnName     Permission = "can_edit_own_name"
	PermAssignMentor    Permission = "can_assign_mentor"
	PermManageUsers     Permission = "can_manage_users"
	PermViewBuddy       Permission = "can_view_buddy"
	PermDeactivateBuddy Permission = "can_deactivate_buddy"

	// curriculum management
	PermManageCurriculum Permission = "can_manage_curriculum"
	PermViewCurriculum   Permission = "can_view_curriculum"

	// enrollment & progress
	PermEnrollBuddy                 Permission = "can_enroll_buddy"
	PermUpdateAssignedBuddyProgress Permission = "can_update_assigned_buddy_progress"
	PermViewBuddyProgress           Permission = "can_view_buddy_progress"

	// assignments & reviews
	PermSubmitAssignment Permission = "can_submit_assignment"
	PermReviewSubmission Permission = "can_review_submission"
	PermAddFeedback      Permission = "can_add_feedback"
	PermModerateFeedback Permission = "can_moderate_feedback"
	PermViewReviewQueue  Permission = "can_view_review_queue"
	PermViewAnalytics    Permission = "can_view_analytics"
)

// Buddy record fields subject to field-level edit gating.
const (
	FieldName           = "name"
	FieldEmail          = "email"
	FieldDomainRole     = "domainRole"
	FieldStatus         = "status"
	FieldAssignedMentor = "assignedMentorId"
)

// Actor identifies who is requesting an action. The identity/session resolver
// supplies it; the engine never authenticates.
type Actor struct {
	ID   string
	Role string
}

// Owners carries the resource owner ids relevant to an ownership-sensitive
// decision. Unused fields are left empty.
type Owners struct {
	BuddyUserID          string
	AssignedMentorUserID string
	CreatorID            string
}

// Decision is the engine's verdict. Denial is a value, not an error; callers
// turn it into a core.KindPermissionDenied error when they need to abort.
type Decision struct {
	Allowed    bool
	Permission Permission
}

func allow(perm Permission) Decision { return Decision{Allowed: true, Permission: perm} }
func deny(perm Permission) Decision  { return Decision{Allowed: false, Permission: perm} }

// grant kinds: how a role holds a permission.
type grant int

const (
	grantNone           grant = iota
	grantAny                  // role holds the permission unconditionally
	grantOwnBuddy             // only when actor is the resource's buddy
	grantAssignedMentor       // only when actor is the resource's assigned mentor
)

// roleGrants is the authorization matrix. A manager holds the superset of
// management actions; mentors and buddies hold ownership-scoped grants only.
// PermUpdateAssignedBuddyProgress is deliberately NOT granted to managers:
// progress entry is reserved for the people closest to the work.
var roleGrants = map[string]map[Permission]grant{
	RoleManager: {
		PermEditBuddyAll:      grantAny,
		PermAssignMentor:      grantAny,
		PermManageUsers:       grantAny,
		PermViewBuddy:         grantAny,
		PermDeactivateBuddy:   grantAny,
		PermManageCurriculum:  grantAny,
		PermViewCurriculum:    grantAny,
		PermEnrollBuddy:       grantAny,
		PermViewBuddyProgress: grantAny,
		PermReviewSubmission:  grantAny,
		PermAddFeedback:       grantAny,
		PermModerateFeedback:  grantAny,
		PermViewReviewQueue:   grantAny,
		PermViewAnalytics:     grantAny,
	},
	RoleMentor: {
		PermViewBuddy:                   grantAssignedMentor,
		PermViewCurriculum:              grantAny,
		PermEnrollBuddy:                 grantAssignedMentor,
		PermUpdateAssignedBuddyProgress: grantAssignedMentor,
		PermViewBuddyProgress:           grantAssignedMentor,
		PermReviewSubmission:            grantAssignedMentor,
		PermAddFeedback:                 grantAny,
		PermViewReviewQueue:             grantAny,
	},
	RoleBuddy: {
		PermEditOwnName:                 grantOwnBuddy,
		PermViewBuddy:                   grantOwnBuddy,
		PermViewCurriculum:              grantAny,
		PermUpdateAssignedBuddyProgress: grantOwnBuddy,
		PermViewBuddyProgress:           grantOwnBuddy,
		PermSubmitAssignment:            grantOwnBuddy,
		PermAddFeedback:                 grantOwnBuddy,
	},
}

// Authorize evaluates actor role + ownership + grants for the requested
// permission. Pure function; no side effects.
func Authorize(actor Actor, perm Permission, owners Owners) Decision {
	grants, ok := roleGrants[actor.Role]
	if !ok {
		return deny(perm)
	}
	switch grants[perm] {
	case grantAny:
		return allow(perm)
	case grantOwnBuddy:
		if actor.ID != "" && actor.ID == owners.BuddyUserID {
			return allow(perm)
		}
	case grantAssignedMentor:
		if actor.ID != "" && actor.ID == owners.AssignedMentorUserID {
			return allow(perm)
		}
	}
	return deny(perm)
}

// CanEditBuddyField gates editing of a single Buddy record field.
// `email` is immutable for every role. A buddy may edit only their own name.
// Mentors cannot edit any buddy field; reassigning mentors or status is
// manager-only.
func CanEditBuddyField(actor Actor, field string, buddy User) Decision {
	switch field {
	case FieldEmail:
		return deny(PermEditBuddyAll)
	case FieldName:
		if actor.Role == RoleManager {
			return allow(PermEditBuddyAll)
		}
		return Authorize(actor, PermEditOwnName, Owners{BuddyUserID: buddy.ID})
	case FieldDomainRole:
		return Authorize(actor, PermEditBuddyAll, Owners{BuddyUserID: buddy.ID})
	case FieldStatus:
		return Authorize(actor, PermDeactivateBuddy, Owners{BuddyUserID: buddy.ID})
	case FieldAssignedMentor:
		return Authorize(actor, PermAssignMentor, Owners{BuddyUserID: buddy.ID})
	}
	return deny(PermEditBuddyAll)
}

// CanUpdateBuddyProgress returns true only for the assigned mentor of that
// specific buddy or for the buddy themself. Managers and unassigned mentors
// are denied even though managers pass the generic management checks
// elsewhere; this asymmetry is intentional.
func CanUpdateBuddyProgress(actor Actor, buddy User) Decision {
	return Authorize(actor, PermUpdateAssignedBuddyProgress, Owners{
		BuddyUserID:          buddy.ID,
		AssignedMentorUserID: buddy.AssignedMentorID,
	})
}
