package tests

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/rafikidev/rafiki/core/assignment"
	"github.com/rafikidev/rafiki/core/curriculum"
	"github.com/rafikidev/rafiki/core/enroll"
	"github.com/rafikidev/rafiki/core/user"
	testutil "github.com/rafikidev/rafiki/tests"
)

// Drives a full enrollment and review cycle over HTTP: enroll, start, submit,
// send back for revision, resubmit, approve, then check the buddy dashboard
// and curriculum analytics.
func Test_assignmentApi_lifecycle(t *testing.T) {
	app, e := setup(t)

	manager := testutil.CreateManager(t, e.usrRepo, "Grace Manager", "gracem")
	mentor := testutil.CreateMentor(t, e.usrRepo, "Mark Mentor", "markmentor")
	stray := testutil.CreateMentor(t, e.usrRepo, "Sam Stray", "samstray")
	buddy := testutil.CreateBuddy(t, e.usrRepo, "Bree Buddy", "breebuddy", user.DomainBackend, mentor.ID)

	cur, _, tpls := testutil.CreateCurriculum(
		t, e.curRepo, "Backend Onboarding", user.DomainBackend, curriculum.StatusPublished, 1, 2)

	managerToken := getToken(t, e.conf, manager)
	mentorToken := getToken(t, e.conf, mentor)
	strayToken := getToken(t, e.conf, stray)
	buddyToken := getToken(t, e.conf, buddy)

	var bc enroll.BuddyCurriculum

	t.Run("manager enrolls buddy", func(t *testing.T) {
		body := []byte(fmt.Sprintf(`{"buddy_id": %q, "curriculum_id": %q}`, buddy.ID, cur.ID))
		req, rec := newAuthRequest(http.MethodPost, "/v1/enrollments", managerToken, body)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("enroll code = %d; want 201; body = %s", rec.Code, rec.Body.String())
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &bc); err != nil {
			t.Fatalf("decoding enrollment failed: %v", err)
		}
		if bc.Status != enroll.StatusActive {
			t.Errorf("enrollment status = %q; want %q", bc.Status, enroll.StatusActive)
		}

		// one active enrollment per buddy
		req, rec = newAuthRequest(http.MethodPost, "/v1/enrollments", managerToken, body)
		app.ServeHTTP(rec, req)
		tt := httpTest{
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "buddy already has an active enrollment"}),
		}
		checkCodeAndData(t, tt, rec)
	})
	if t.Failed() {
		t.FailNow()
	}

	// the fan-out created one assignment per template
	var a1, a2 assignment.TaskAssignment
	t.Run("assignments fanned out", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/assignments?buddy_id="+buddy.ID, buddyToken)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("query code = %d; want 200; body = %s", rec.Code, rec.Body.String())
		}
		var assignments []assignment.TaskAssignment
		if err := json.Unmarshal(rec.Body.Bytes(), &assignments); err != nil {
			t.Fatalf("decoding assignments failed: %v", err)
		}
		if len(assignments) != 2 {
			t.Fatalf("got %d assignments; want 2", len(assignments))
		}
		for _, a := range assignments {
			switch a.TaskTemplateID {
			case tpls[0].ID:
				a1 = a
			case tpls[1].ID:
				a2 = a
			}
			if a.Status != assignment.StatusNotStarted {
				t.Errorf("assignment status = %q; want %q", a.Status, assignment.StatusNotStarted)
			}
		}
		if a1.ID == "" || a2.ID == "" {
			t.Fatalf("assignments do not match the curriculum templates")
		}
	})
	if t.Failed() {
		t.FailNow()
	}

	t.Run("start", func(t *testing.T) {
		// managers observe, they do not drive progress
		req, rec := newAuthRequest(http.MethodPost, "/v1/assignments/"+a1.ID+"/start", managerToken)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		}, rec)

		req, rec = newAuthRequest(http.MethodPost, "/v1/assignments/"+a1.ID+"/start", buddyToken)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("start code = %d; want 200; body = %s", rec.Code, rec.Body.String())
		}
		var a assignment.TaskAssignment
		if err := json.Unmarshal(rec.Body.Bytes(), &a); err != nil {
			t.Fatalf("decoding assignment failed: %v", err)
		}
		if a.Status != assignment.StatusInProgress {
			t.Errorf("status = %q; want %q", a.Status, assignment.StatusInProgress)
		}
		if a.StartedAt.IsZero() {
			t.Error("StartedAt not stamped")
		}
	})

	t.Run("submit", func(t *testing.T) {
		// a2 was never started
		req, rec := newAuthRequest(
			http.MethodPost, "/v1/assignments/"+a2.ID+"/submit", buddyToken, []byte(`{"description": "done"}`))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusConflict,
			wantData: marchallObj(t, httpErr{Error: "assignment must be in progress or needing revision to accept a submission"}),
		}, rec)

		// the template requires a code resource
		req, rec = newAuthRequest(
			http.MethodPost, "/v1/assignments/"+a1.ID+"/submit", buddyToken, []byte(`{"description": "done"}`))
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("submit without resources code = %d; want 400; body = %s", rec.Code, rec.Body.String())
		}

		body := []byte(`{
			"description": "user CRUD endpoints",
			"resources": [{"type": "code", "label": "PR", "url": "https://git.rafiki.test/bree/crud/pull/1"}]
		}`)
		req, rec = newAuthRequest(http.MethodPost, "/v1/assignments/"+a1.ID+"/submit", buddyToken, body)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("submit code = %d; want 201; body = %s", rec.Code, rec.Body.String())
		}
		var sub assignment.Submission
		if err := json.Unmarshal(rec.Body.Bytes(), &sub); err != nil {
			t.Fatalf("decoding submission failed: %v", err)
		}
		if sub.Version != 1 {
			t.Errorf("version = %d; want 1", sub.Version)
		}
		if sub.ReviewStatus != assignment.ReviewPending {
			t.Errorf("review status = %q; want %q", sub.ReviewStatus, assignment.ReviewPending)
		}

		// mentors cannot submit on the buddy's behalf
		req, rec = newAuthRequest(http.MethodPost, "/v1/assignments/"+a1.ID+"/submit", mentorToken, body)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		}, rec)
	})
	if t.Failed() {
		t.FailNow()
	}

	var subID string
	t.Run("review queue", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/review-queue", buddyToken)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		}, rec)

		req, rec = newAuthRequest(http.MethodGet, "/v1/review-queue", mentorToken)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("review queue code = %d; want 200; body = %s", rec.Code, rec.Body.String())
		}
		var entries []assignment.ReviewQueueEntry
		if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
			t.Fatalf("decoding review queue failed: %v", err)
		}
		if len(entries) != 1 {
			t.Fatalf("got %d queue entries; want 1", len(entries))
		}
		if entries[0].Assignment.ID != a1.ID {
			t.Errorf("queued assignment = %q; want %q", entries[0].Assignment.ID, a1.ID)
		}
		subID = entries[0].Submission.ID
	})
	if t.Failed() {
		t.FailNow()
	}

	t.Run("request revision", func(t *testing.T) {
		// the buddy's assigned mentor only
		req, rec := newAuthRequest(http.MethodPost, "/v1/submissions/"+subID+"/begin-review", strayToken)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		}, rec)

		req, rec = newAuthRequest(http.MethodPost, "/v1/submissions/"+subID+"/begin-review", mentorToken)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("begin-review code = %d; want 200; body = %s", rec.Code, rec.Body.String())
		}

		req, rec = newAuthRequest(
			http.MethodPost, "/v1/submissions/"+subID+"/request-revision", mentorToken, []byte(`{"message": ""}`))
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("empty message code = %d; want 400; body = %s", rec.Code, rec.Body.String())
		}

		req, rec = newAuthRequest(
			http.MethodPost, "/v1/submissions/"+subID+"/request-revision", mentorToken,
			[]byte(`{"message": "handle the missing user case"}`))
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request-revision code = %d; want 200; body = %s", rec.Code, rec.Body.String())
		}
		var sub assignment.Submission
		if err := json.Unmarshal(rec.Body.Bytes(), &sub); err != nil {
			t.Fatalf("decoding submission failed: %v", err)
		}
		if sub.ReviewStatus != assignment.ReviewNeedsRevision {
			t.Errorf("review status = %q; want %q", sub.ReviewStatus, assignment.ReviewNeedsRevision)
		}

		// the verdict is final on this version
		req, rec = newAuthRequest(http.MethodPost, "/v1/submissions/"+subID+"/approve", mentorToken, []byte(`{}`))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusConflict,
			wantData: marchallObj(t, httpErr{Error: "submission already carries a review verdict"}),
		}, rec)

		// the reviewer's message landed as revision_request feedback
		req, rec = newAuthRequest(http.MethodGet, "/v1/submissions/"+subID+"/feedback", buddyToken)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("feedback code = %d; want 200; body = %s", rec.Code, rec.Body.String())
		}
		var fbs []assignment.Feedback
		if err := json.Unmarshal(rec.Body.Bytes(), &fbs); err != nil {
			t.Fatalf("decoding feedback failed: %v", err)
		}
		if len(fbs) != 1 || fbs[0].Message != "handle the missing user case" {
			t.Errorf("unexpected feedback: %+v", fbs)
		}
	})
	if t.Failed() {
		t.FailNow()
	}

	t.Run("resubmit and approve", func(t *testing.T) {
		body := []byte(`{
			"description": "user CRUD endpoints, round 2",
			"resources": [{"type": "code", "label": "PR", "url": "https://git.rafiki.test/bree/crud/pull/2"}]
		}`)
		req, rec := newAuthRequest(http.MethodPost, "/v1/assignments/"+a1.ID+"/submit", buddyToken, body)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("resubmit code = %d; want 201; body = %s", rec.Code, rec.Body.String())
		}
		var sub assignment.Submission
		if err := json.Unmarshal(rec.Body.Bytes(), &sub); err != nil {
			t.Fatalf("decoding submission failed: %v", err)
		}
		if sub.Version != 2 {
			t.Errorf("version = %d; want 2", sub.Version)
		}

		req, rec = newAuthRequest(
			http.MethodPost, "/v1/submissions/"+sub.ID+"/approve", mentorToken, []byte(`{"grade": "good"}`))
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("approve code = %d; want 200; body = %s", rec.Code, rec.Body.String())
		}
		var approved assignment.Submission
		if err := json.Unmarshal(rec.Body.Bytes(), &approved); err != nil {
			t.Fatalf("decoding submission failed: %v", err)
		}
		if approved.ReviewStatus != assignment.ReviewApproved {
			t.Errorf("review status = %q; want %q", approved.ReviewStatus, assignment.ReviewApproved)
		}
		if approved.Grade != assignment.GradeGood {
			t.Errorf("grade = %q; want %q", approved.Grade, assignment.GradeGood)
		}
		if approved.ReviewedBy != mentor.ID {
			t.Errorf("reviewed by = %q; want %q", approved.ReviewedBy, mentor.ID)
		}

		req, rec = newAuthRequest(http.MethodGet, "/v1/assignments/"+a1.ID, buddyToken)
		app.ServeHTTP(rec, req)
		var a assignment.TaskAssignment
		if err := json.Unmarshal(rec.Body.Bytes(), &a); err != nil {
			t.Fatalf("decoding assignment failed: %v", err)
		}
		if a.Status != assignment.StatusCompleted {
			t.Errorf("status = %q; want %q", a.Status, assignment.StatusCompleted)
		}
	})
	if t.Failed() {
		t.FailNow()
	}

	t.Run("dashboard", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/buddies/"+buddy.ID+"/dashboard", strayToken)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		}, rec)

		req, rec = newAuthRequest(http.MethodGet, "/v1/buddies/"+buddy.ID+"/dashboard", buddyToken)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("dashboard code = %d; want 200; body = %s", rec.Code, rec.Body.String())
		}
		var dash enroll.Dashboard
		if err := json.Unmarshal(rec.Body.Bytes(), &dash); err != nil {
			t.Fatalf("decoding dashboard failed: %v", err)
		}
		if dash.Enrollment.ID != bc.ID {
			t.Errorf("enrollment = %q; want %q", dash.Enrollment.ID, bc.ID)
		}
		want := enroll.OverallProgress{CompletedTasks: 1, TotalTasks: 2, Percentage: 50, CompletedWeeks: 0, TotalWeeks: 1}
		if dash.Overall != want {
			t.Errorf("overall = %+v; want %+v", dash.Overall, want)
		}
	})

	t.Run("analytics", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/curricula/"+cur.ID+"/analytics", mentorToken)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		}, rec)

		req, rec = newAuthRequest(http.MethodGet, "/v1/curricula/"+cur.ID+"/analytics", managerToken)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("analytics code = %d; want 200; body = %s", rec.Code, rec.Body.String())
		}
		var stats assignment.CurriculumAnalytics
		if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
			t.Fatalf("decoding analytics failed: %v", err)
		}
		if stats.TotalAssignments != 2 || stats.CompletedAssignments != 1 || stats.CompletionRate != 50 {
			t.Errorf("unexpected totals: %+v", stats)
		}
		if stats.TotalSubmissions != 2 || stats.GradeCounts[assignment.GradeGood] != 1 {
			t.Errorf("unexpected submission stats: %+v", stats)
		}
	})

	t.Run("completed work blocks template deletion", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/curricula/"+cur.ID+"/unpublish", managerToken)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("unpublish code = %d; want 200; body = %s", rec.Code, rec.Body.String())
		}

		// a1 is completed, yet its template still cannot be deleted
		req, rec = newAuthRequest(http.MethodDelete, "/v1/templates/"+tpls[0].ID, managerToken)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusConflict,
			wantData: marchallObj(t, httpErr{Error: "task template has assignments attached; archive it instead of deleting"}),
		}, rec)
	})
}
