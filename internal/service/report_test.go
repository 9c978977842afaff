package service

import (
	"errors"
	"testing"

	"roomchat/internal/models"
)

// postAs 以 sender 身份在房間送出一則訊息
func (f *fixture) postAs(room *models.Room, sender *models.User, text string) *models.Message {
	f.t.Helper()
	msg, err := f.svc.Room.PostMessage(f.ctx, room.Slug, sender, MessageInput{Text: text})
	if err != nil {
		f.t.Fatalf("PostMessage: %v", err)
	}
	return msg
}

func TestReportMessage(t *testing.T) {
	f := newFixture(t)
	owner := f.user("owner")
	room := f.room(owner, "General", models.RoomPublic)
	alice := f.user("alice")
	bob := f.user("bob")
	msg := f.postAs(room, alice, "buy cheap stuff")

	report, err := f.svc.Moderation.ReportMessage(f.ctx, bob, msg.ID, " spam ")
	if err != nil {
		t.Fatalf("ReportMessage: %v", err)
	}
	if report.Status != models.ReportPending || report.Reason != "spam" || report.RoomID != room.ID || report.ReporterID != bob.ID {
		t.Fatalf("report = %+v", report)
	}

	if _, err := f.svc.Moderation.ReportMessage(f.ctx, bob, msg.ID, "again"); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate pending report: err = %v, want ErrConflict", err)
	}
	if _, err := f.svc.Moderation.ReportMessage(f.ctx, alice, msg.ID, "mine"); !errors.Is(err, ErrValidation) {
		t.Fatalf("self report: err = %v, want ErrValidation", err)
	}
	if _, err := f.svc.Moderation.ReportMessage(f.ctx, bob, msg.ID, "  "); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty reason: err = %v, want ErrValidation", err)
	}
	if _, err := f.svc.Moderation.ReportMessage(f.ctx, bob, 999, "spam"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing message: err = %v, want ErrNotFound", err)
	}

	// 處理完之後可以再次檢舉
	if _, err := f.svc.Moderation.ReviewReport(f.ctx, owner, report.ID, models.ReportDismissed, ""); err != nil {
		t.Fatalf("ReviewReport: %v", err)
	}
	if _, err := f.svc.Moderation.ReportMessage(f.ctx, bob, msg.ID, "still spam"); err != nil {
		t.Fatalf("report after review: %v", err)
	}
}

func TestReportRequiresRoomAccess(t *testing.T) {
	f := newFixture(t)
	owner := f.user("owner")
	room := f.room(owner, "Secret", models.RoomPrivate)
	outsider := f.user("outsider")
	msg := f.postAs(room, owner, "members only")

	if _, err := f.svc.Moderation.ReportMessage(f.ctx, outsider, msg.ID, "spam"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("outsider report: err = %v, want ErrForbidden", err)
	}
	if reports, _ := f.svc.Moderation.ListReports(f.ctx, owner, room.Slug, "", 0); len(reports) != 0 {
		t.Fatalf("rejected report was stored: %+v", reports)
	}
}

func TestReviewReport(t *testing.T) {
	f := newFixture(t)
	owner := f.user("owner")
	room := f.room(owner, "General", models.RoomPublic)
	mod := f.moderator(room, "mod")
	alice := f.user("alice")
	bob := f.user("bob")
	msg := f.postAs(room, alice, "rude words")
	report, err := f.svc.Moderation.ReportMessage(f.ctx, bob, msg.ID, "rude")
	if err != nil {
		t.Fatalf("ReportMessage: %v", err)
	}

	if _, err := f.svc.Moderation.ReviewReport(f.ctx, bob, report.ID, models.ReportResolved, ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("member review: err = %v, want ErrForbidden", err)
	}
	if _, err := f.svc.Moderation.ReviewReport(f.ctx, mod, report.ID, models.ReportPending, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("review back to pending: err = %v, want ErrValidation", err)
	}
	if _, err := f.svc.Moderation.ReviewReport(f.ctx, mod, 999, models.ReportResolved, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing report: err = %v, want ErrNotFound", err)
	}

	reviewed, err := f.svc.Moderation.ReviewReport(f.ctx, mod, report.ID, models.ReportResolved, "deleted the message")
	if err != nil {
		t.Fatalf("ReviewReport: %v", err)
	}
	if reviewed.Status != models.ReportResolved || reviewed.ReviewedByID == nil || *reviewed.ReviewedByID != mod.ID ||
		reviewed.ReviewedAt == nil || !reviewed.ReviewedAt.Equal(f.clock.Now()) || reviewed.ResolutionNotes != "deleted the message" {
		t.Fatalf("reviewed = %+v", reviewed)
	}
	if _, err := f.svc.Moderation.ReviewReport(f.ctx, owner, report.ID, models.ReportDismissed, ""); !errors.Is(err, ErrConflict) {
		t.Fatalf("second review: err = %v, want ErrConflict", err)
	}

	pending, err := f.svc.Moderation.ListReports(f.ctx, mod, room.Slug, models.ReportPending, 0)
	if err != nil || len(pending) != 0 {
		t.Fatalf("pending reports = %+v, %v", pending, err)
	}
	resolved, err := f.svc.Moderation.ListReports(f.ctx, mod, room.Slug, models.ReportResolved, 0)
	if err != nil || len(resolved) != 1 || resolved[0].ID != report.ID {
		t.Fatalf("resolved reports = %+v, %v", resolved, err)
	}
	if _, err := f.svc.Moderation.ListReports(f.ctx, mod, "", "", 0); !errors.Is(err, ErrForbidden) {
		t.Fatalf("global list by room moderator: err = %v, want ErrForbidden", err)
	}
	if _, err := f.svc.Moderation.ListReports(f.ctx, mod, room.Slug, "bogus", 0); !errors.Is(err, ErrValidation) {
		t.Fatalf("bogus status: err = %v, want ErrValidation", err)
	}
}

func TestStaffReviewsReportOfDeletedRoom(t *testing.T) {
	f := newFixture(t)
	owner := f.user("owner")
	room := f.room(owner, "General", models.RoomPublic)
	alice := f.user("alice")
	bob := f.user("bob")
	staff := f.staff("staff", false)
	msg := f.postAs(room, alice, "hello")
	report, err := f.svc.Moderation.ReportMessage(f.ctx, bob, msg.ID, "spam")
	if err != nil {
		t.Fatalf("ReportMessage: %v", err)
	}
	if err := f.svc.Room.DeleteRoom(f.ctx, room.Slug, owner); err != nil {
		t.Fatalf("DeleteRoom: %v", err)
	}

	if _, err := f.svc.Moderation.ReviewReport(f.ctx, owner, report.ID, models.ReportDismissed, ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("owner review after delete: err = %v, want ErrForbidden", err)
	}
	if _, err := f.svc.Moderation.ReviewReport(f.ctx, staff, report.ID, models.ReportDismissed, "room gone"); err != nil {
		t.Fatalf("staff review: %v", err)
	}
	all, err := f.svc.Moderation.ListReports(f.ctx, staff, "", "", 0)
	if err != nil || len(all) != 1 || all[0].Status != models.ReportDismissed {
		t.Fatalf("all reports = %+v, %v", all, err)
	}
}
