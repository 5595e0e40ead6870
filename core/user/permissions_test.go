package user

import "testing"

func TestAuthorize(t *testing.T) {
	manager := Actor{ID: "m1", Role: RoleManager}
	mentor := Actor{ID: "t1", Role: RoleMentor}
	otherMentor := Actor{ID: "t2", Role: RoleMentor}
	buddy := Actor{ID: "b1", Role: RoleBuddy}
	otherBuddy := Actor{ID: "b2", Role: RoleBuddy}

	owners := Owners{BuddyUserID: "b1", AssignedMentorUserID: "t1"}

	tests := []struct {
		name  string
		actor Actor
		perm  Permission
		want  bool
	}{
		// manager superset
		{name: "manager manages users", actor: manager, perm: PermManageUsers, want: true},
		{name: "manager manages curriculum", actor: manager, perm: PermManageCurriculum, want: true},
		{name: "manager reviews any submission", actor: manager, perm: PermReviewSubmission, want: true},
		{name: "manager enrolls any buddy", actor: manager, perm: PermEnrollBuddy, want: true},

		// progress update asymmetry: managers denied by design
		{name: "manager denied progress update", actor: manager, perm: PermUpdateAssignedBuddyProgress, want: false},
		{name: "assigned mentor updates progress", actor: mentor, perm: PermUpdateAssignedBuddyProgress, want: true},
		{name: "unassigned mentor denied progress update", actor: otherMentor, perm: PermUpdateAssignedBuddyProgress, want: false},
		{name: "buddy updates own progress", actor: buddy, perm: PermUpdateAssignedBuddyProgress, want: true},
		{name: "other buddy denied progress update", actor: otherBuddy, perm: PermUpdateAssignedBuddyProgress, want: false},

		// review ownership
		{name: "assigned mentor reviews", actor: mentor, perm: PermReviewSubmission, want: true},
		{name: "unassigned mentor denied review", actor: otherMentor, perm: PermReviewSubmission, want: false},
		{name: "buddy denied review", actor: buddy, perm: PermReviewSubmission, want: false},

		// submissions are buddy-own only
		{name: "buddy submits own work", actor: buddy, perm: PermSubmitAssignment, want: true},
		{name: "other buddy denied submit", actor: otherBuddy, perm: PermSubmitAssignment, want: false},
		{name: "mentor denied submit", actor: mentor, perm: PermSubmitAssignment, want: false},
		{name: "manager denied submit", actor: manager, perm: PermSubmitAssignment, want: false},

		// curriculum management is manager-only
		{name: "mentor denied curriculum management", actor: mentor, perm: PermManageCurriculum, want: false},
		{name: "buddy denied curriculum management", actor: buddy, perm: PermManageCurriculum, want: false},

		// feedback
		{name: "any mentor adds feedback", actor: otherMentor, perm: PermAddFeedback, want: true},
		{name: "buddy adds feedback on own submission", actor: buddy, perm: PermAddFeedback, want: true},
		{name: "other buddy denied feedback", actor: otherBuddy, perm: PermAddFeedback, want: false},

		// unknown role
		{name: "unknown role denied", actor: Actor{ID: "x", Role: "intern"}, perm: PermViewCurriculum, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if d := Authorize(tt.actor, tt.perm, owners); d.Allowed != tt.want {
				t.Errorf("Authorize() = %v, want %v", d.Allowed, tt.want)
			}
		})
	}
}

func TestCanEditBuddyField(t *testing.T) {
	buddy := User{ID: "b1", Name: "B", Email: "b@test.cd", Roles: []string{RoleBuddy}, AssignedMentorID: "t1"}

	manager := Actor{ID: "m1", Role: RoleManager}
	mentor := Actor{ID: "t1", Role: RoleMentor}
	self := Actor{ID: "b1", Role: RoleBuddy}
	otherBuddy := Actor{ID: "b2", Role: RoleBuddy}

	tests := []struct {
		name  string
		actor Actor
		field string
		want  bool
	}{
		// email is immutable for every role
		{name: "manager cannot edit email", actor: manager, field: FieldEmail, want: false},
		{name: "buddy cannot edit own email", actor: self, field: FieldEmail, want: false},
		{name: "mentor cannot edit email", actor: mentor, field: FieldEmail, want: false},

		// name
		{name: "manager edits name", actor: manager, field: FieldName, want: true},
		{name: "buddy edits own name", actor: self, field: FieldName, want: true},
		{name: "other buddy cannot edit name", actor: otherBuddy, field: FieldName, want: false},
		{name: "mentor cannot edit name", actor: mentor, field: FieldName, want: false},

		// domain role, status, mentor reassignment are manager-only
		{name: "manager edits domain role", actor: manager, field: FieldDomainRole, want: true},
		{name: "buddy cannot edit own domain role", actor: self, field: FieldDomainRole, want: false},
		{name: "mentor cannot edit domain role", actor: mentor, field: FieldDomainRole, want: false},
		{name: "manager edits status", actor: manager, field: FieldStatus, want: true},
		{name: "assigned mentor cannot edit status", actor: mentor, field: FieldStatus, want: false},
		{name: "manager reassigns mentor", actor: manager, field: FieldAssignedMentor, want: true},
		{name: "mentor cannot reassign themselves", actor: mentor, field: FieldAssignedMentor, want: false},
		{name: "buddy cannot reassign mentor", actor: self, field: FieldAssignedMentor, want: false},

		// unknown field
		{name: "unknown field denied", actor: manager, field: "password_hash", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if d := CanEditBuddyField(tt.actor, tt.field, buddy); d.Allowed != tt.want {
				t.Errorf("CanEditBuddyField(%s) = %v, want %v", tt.field, d.Allowed, tt.want)
			}
		})
	}
}

func TestCanUpdateBuddyProgress(t *testing.T) {
	buddy := User{ID: "b1", Roles: []string{RoleBuddy}, AssignedMentorID: "t1"}

	tests := []struct {
		name  string
		actor Actor
		want  bool
	}{
		{name: "buddy themself", actor: Actor{ID: "b1", Role: RoleBuddy}, want: true},
		{name: "assigned mentor", actor: Actor{ID: "t1", Role: RoleMentor}, want: true},
		{name: "unassigned mentor", actor: Actor{ID: "t2", Role: RoleMentor}, want: false},
		{name: "manager", actor: Actor{ID: "m1", Role: RoleManager}, want: false},
		{name: "other buddy", actor: Actor{ID: "b2", Role: RoleBuddy}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if d := CanUpdateBuddyProgress(tt.actor, buddy); d.Allowed != tt.want {
				t.Errorf("CanUpdateBuddyProgress() = %v, want %v", d.Allowed, tt.want)
			}
		})
	}
}
