package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"galleryaccess/internal/config"
	"galleryaccess/internal/db"
	"galleryaccess/internal/models"
	"galleryaccess/internal/notify"
	"galleryaccess/internal/rate"
	"galleryaccess/internal/store"
)

type recordingSender struct {
	mu      sync.Mutex
	notices []notify.PasswordRequestNotice
	err     error
}

func (r *recordingSender) NotifyPasswordRequest(ctx context.Context, n notify.PasswordRequestNotice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
	return r.err
}

func testConfig() config.Config {
	return config.Config{
		GrantSigningKey:  "test_signing_key_that_is_long_enough",
		SecretEncryptKey: "test_encrypt_key_that_is_long_enough",
		GrantTTLHours:    1,
		AttemptLimit:     3,
		AttemptWindowMin: 15,
		NotifyAdminEmail: "owner@example.com",
	}
}

func newTestService(t *testing.T) (*Service, *recordingSender) {
	t.Helper()
	sqdb, err := db.OpenSQLite(filepath.Join(t.TempDir(), "gallery.db"), 1, 1, time.Minute)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqdb.Close() })
	if err := db.ApplyMigrationFile(sqdb, filepath.Join("..", "..", "migrations", "001_init.sql")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	sender := &recordingSender{}
	svc := New(testConfig(), store.New(sqdb, "sqlite"), rate.NewMemory(), sender, nil)
	return svc, sender
}

func strPtr(v string) *string { return &v }

func createGallery(t *testing.T, svc *Service, code string, access AccessUpdate) models.Gallery {
	t.Helper()
	g, err := svc.CreateGallery(context.Background(), NewGallery{
		GalleryInput: GalleryInput{Code: code, Name: "Gallery " + code},
		Access:       access,
	})
	if err != nil {
		t.Fatalf("create gallery %s: %v", code, err)
	}
	return g
}

func TestQuestionText(t *testing.T) {
	location := models.QuestionLocation
	month := models.QuestionMonth
	custom := models.QuestionCustom
	other := models.SecurityQuestionType("color")
	cases := []struct {
		name string
		g    models.Gallery
		want string
	}{
		{name: "location", g: models.Gallery{SecurityQuestionType: &location}, want: "Dove si è svolto l'evento?"},
		{name: "month", g: models.Gallery{SecurityQuestionType: &month}, want: "In che mese si è svolto l'evento?"},
		{name: "custom", g: models.Gallery{SecurityQuestionType: &custom, SecurityQuestionCustom: strPtr("Nome del cane?")}, want: "Nome del cane?"},
		{name: "custom without text", g: models.Gallery{SecurityQuestionType: &custom}, want: "Rispondi alla domanda di sicurezza"},
		{name: "unknown", g: models.Gallery{SecurityQuestionType: &other}, want: "Rispondi alla domanda di sicurezza"},
		{name: "unset", g: models.Gallery{}, want: "Rispondi alla domanda di sicurezza"},
	}
	for _, tc := range cases {
		if got := QuestionText(tc.g); got != tc.want {
			t.Fatalf("%s: QuestionText=%q want=%q", tc.name, got, tc.want)
		}
	}
}

func TestWeddingGalleryEndToEnd(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	g := createGallery(t, svc, "G1", AccessUpdate{
		Password:                 strPtr("wed2024"),
		RequiresSecurityQuestion: true,
		SecurityQuestionType:     "month",
		SecurityAnswer:           "june",
	})

	info, err := svc.GetAccessInfo(ctx, g.ID)
	if err != nil {
		t.Fatalf("GetAccessInfo: %v", err)
	}
	want := models.AccessInfo{RequiresPassword: true, RequiresSecurityQuestion: true, SecurityQuestion: "In che mese si è svolto l'evento?"}
	if info != want {
		t.Fatalf("access info=%+v want=%+v", info, want)
	}

	grant, err := svc.VerifyAccess(ctx, VerifyRequest{GalleryID: g.ID, Password: "wed2024", SecurityAnswer: "June"})
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	if grant.Token == "" || grant.GalleryID != g.ID || !grant.ExpiresAt.After(time.Now()) {
		t.Fatalf("unexpected grant %+v", grant)
	}
	view, err := svc.OpenGallery(ctx, g.ID, grant.Token)
	if err != nil {
		t.Fatalf("OpenGallery with grant: %v", err)
	}
	if view.Code != "G1" {
		t.Fatalf("unexpected gallery view %+v", view)
	}
}

func TestVerifyAccessDistinguishesGates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	g := createGallery(t, svc, "BOTH", AccessUpdate{
		Password:                 strPtr("wed2024"),
		RequiresSecurityQuestion: true,
		SecurityQuestionType:     "location",
		SecurityAnswer:           "milano",
	})

	_, err := svc.VerifyAccess(ctx, VerifyRequest{GalleryID: g.ID, Password: "WED2024", SecurityAnswer: "milano", ClientKey: "a"})
	if !errors.Is(err, ErrWrongPassword) || !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected wrong password, got %v", err)
	}
	_, err = svc.VerifyAccess(ctx, VerifyRequest{GalleryID: g.ID, Password: "wed2024", SecurityAnswer: "roma", ClientKey: "b"})
	if !errors.Is(err, ErrWrongSecurityAnswer) || !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected wrong security answer, got %v", err)
	}
	for _, answer := range []string{"Milano", "milano", " Milano "} {
		if _, err := svc.VerifyAccess(ctx, VerifyRequest{GalleryID: g.ID, Password: "wed2024", SecurityAnswer: answer, ClientKey: "c"}); err != nil {
			t.Fatalf("answer %q should match: %v", answer, err)
		}
	}
}

func TestVerifyAccessOpenAndQuestionOnly(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	open := createGallery(t, svc, "OPEN", AccessUpdate{})
	if _, err := svc.VerifyAccess(ctx, VerifyRequest{GalleryID: open.ID}); err != nil {
		t.Fatalf("open gallery should verify: %v", err)
	}
	if _, err := svc.OpenGallery(ctx, open.ID, ""); err != nil {
		t.Fatalf("open gallery should be readable without grant: %v", err)
	}

	q := createGallery(t, svc, "QONLY", AccessUpdate{
		RequiresSecurityQuestion: true,
		SecurityQuestionType:     "custom",
		SecurityQuestionCustom:   "Come si chiama il cane?",
		SecurityAnswer:           "Fido",
	})
	info, err := svc.GetAccessInfo(ctx, q.ID)
	if err != nil {
		t.Fatalf("GetAccessInfo: %v", err)
	}
	if info.RequiresPassword || !info.RequiresSecurityQuestion || info.SecurityQuestion != "Come si chiama il cane?" {
		t.Fatalf("unexpected access info %+v", info)
	}
	if _, err := svc.VerifyAccess(ctx, VerifyRequest{GalleryID: q.ID, SecurityAnswer: "fido"}); err != nil {
		t.Fatalf("question-only gallery should verify: %v", err)
	}
	if _, err := svc.OpenGallery(ctx, q.ID, ""); !errors.Is(err, ErrGrantRequired) {
		t.Fatalf("expected grant required, got %v", err)
	}
	if _, err := svc.OpenGallery(ctx, q.ID, "not-a-token"); !errors.Is(err, ErrGrantRequired) {
		t.Fatalf("expected grant required for bad token, got %v", err)
	}
}

func TestVerifyAccessNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.GetAccessInfo(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.VerifyAccess(context.Background(), VerifyRequest{GalleryID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestVerifyAccessThrottlesPerClient(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	g := createGallery(t, svc, "LOCK", AccessUpdate{Password: strPtr("secret")})

	for i := 0; i < 3; i++ {
		if _, err := svc.VerifyAccess(ctx, VerifyRequest{GalleryID: g.ID, Password: "nope", ClientKey: "10.0.0.1"}); !errors.Is(err, ErrWrongPassword) {
			t.Fatalf("attempt %d: expected wrong password, got %v", i, err)
		}
	}
	if _, err := svc.VerifyAccess(ctx, VerifyRequest{GalleryID: g.ID, Password: "secret", ClientKey: "10.0.0.1"}); !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("expected throttling, got %v", err)
	}
	if _, err := svc.VerifyAccess(ctx, VerifyRequest{GalleryID: g.ID, Password: "secret", ClientKey: "10.0.0.2"}); err != nil {
		t.Fatalf("other client should not be throttled: %v", err)
	}
}

func TestPasswordRequestWithoutSecurityQuestion(t *testing.T) {
	svc, sender := newTestService(t)
	ctx := context.Background()
	g := createGallery(t, svc, "wed24", AccessUpdate{Password: strPtr("wed2024")})

	info, err := svc.GetGalleryInfo(ctx, " wed24 ")
	if err != nil {
		t.Fatalf("GetGalleryInfo: %v", err)
	}
	if info.ID != g.ID || info.RequiresSecurityQuestion {
		t.Fatalf("unexpected gallery info %+v", info)
	}

	res, err := svc.SubmitPasswordRequest(ctx, PasswordRequestInput{
		GalleryID: info.ID, FirstName: "Ada", LastName: "Rossi", Email: "Ada@Example.com", Relation: "amica",
	})
	if err != nil {
		t.Fatalf("SubmitPasswordRequest: %v", err)
	}
	if !res.Success || res.Password != "wed2024" {
		t.Fatalf("unexpected result %+v", res)
	}

	items, err := svc.ListPasswordRequests(ctx, models.PasswordRequestQuery{GalleryID: g.ID})
	if err != nil {
		t.Fatalf("ListPasswordRequests: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected one record, got %d", len(items))
	}
	rec := items[0]
	if rec.Status != models.PasswordRequestCompleted || rec.GalleryCode != "WED24" || rec.Email != "ada@example.com" || rec.SecurityQuestionAnswered {
		t.Fatalf("unexpected record %+v", rec)
	}
	if len(sender.notices) != 1 || sender.notices[0].AdminEmail != "owner@example.com" {
		t.Fatalf("expected one admin notice, got %+v", sender.notices)
	}
}

func TestPasswordRequestWithSecurityQuestion(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	g := createGallery(t, svc, "SQ", AccessUpdate{
		Password:                 strPtr("wed2024"),
		RequiresSecurityQuestion: true,
		SecurityQuestionType:     "month",
		SecurityAnswer:           "june",
	})
	in := PasswordRequestInput{GalleryID: g.ID, FirstName: "Ada", LastName: "Rossi", Email: "ada@example.com", ClientKey: "1.2.3.4"}

	res, err := svc.SubmitPasswordRequest(ctx, in)
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if res.Success || !res.RequiresSecurityQuestion || res.SecurityQuestion != "In che mese si è svolto l'evento?" || res.Password != "" {
		t.Fatalf("expected security question prompt, got %+v", res)
	}
	assertRequestCount(t, svc, g.ID, 0)

	in.SecurityAnswer = "july"
	if _, err := svc.SubmitPasswordRequest(ctx, in); !errors.Is(err, ErrWrongSecurityAnswer) {
		t.Fatalf("expected wrong answer, got %v", err)
	}
	assertRequestCount(t, svc, g.ID, 0)

	in.SecurityAnswer = " JUNE "
	res, err = svc.SubmitPasswordRequest(ctx, in)
	if err != nil {
		t.Fatalf("submit with answer: %v", err)
	}
	if !res.Success || res.Password != "wed2024" {
		t.Fatalf("unexpected result %+v", res)
	}
	assertRequestCount(t, svc, g.ID, 1)
}

func TestPasswordRequestValidationAndNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.GetGalleryInfo(ctx, "NOPE"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.GetGalleryInfo(ctx, "  "); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	_, err := svc.SubmitPasswordRequest(ctx, PasswordRequestInput{GalleryID: "x", FirstName: "Ada", LastName: "Rossi", Email: "not-an-email"})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for bad email, got %v", err)
	}
	_, err = svc.SubmitPasswordRequest(ctx, PasswordRequestInput{GalleryID: "missing", FirstName: "Ada", LastName: "Rossi", Email: "ada@example.com"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPasswordRequestNotifyFailureDoesNotFail(t *testing.T) {
	svc, sender := newTestService(t)
	sender.err = errors.New("smtp down")
	g := createGallery(t, svc, "NOTIFY", AccessUpdate{Password: strPtr("pw")})
	res, err := svc.SubmitPasswordRequest(context.Background(), PasswordRequestInput{
		GalleryID: g.ID, FirstName: "Ada", LastName: "Rossi", Email: "ada@example.com",
	})
	if err != nil || !res.Success {
		t.Fatalf("expected success despite notify failure, got %+v %v", res, err)
	}
}

func TestPasswordRequestForOpenGalleryReleasesNothing(t *testing.T) {
	svc, sender := newTestService(t)
	ctx := context.Background()
	g := createGallery(t, svc, "OPEN", AccessUpdate{})

	res, err := svc.SubmitPasswordRequest(ctx, PasswordRequestInput{
		GalleryID: g.ID, FirstName: "Ada", LastName: "Rossi", Email: "ada@example.com",
	})
	if err != nil {
		t.Fatalf("SubmitPasswordRequest: %v", err)
	}
	if res.Success || res.Password != "" || res.Message != "Questa galleria non è protetta da password" {
		t.Fatalf("unexpected result %+v", res)
	}
	assertRequestCount(t, svc, g.ID, 0)
	if len(sender.notices) != 0 {
		t.Fatalf("expected no admin notice, got %+v", sender.notices)
	}
}

type blockingSender struct{}

func (blockingSender) NotifyPasswordRequest(ctx context.Context, n notify.PasswordRequestNotice) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestPasswordRequestNotifyBoundByCallerContext(t *testing.T) {
	svc, _ := newTestService(t)
	svc.sender = blockingSender{}
	g := createGallery(t, svc, "SLOW", AccessUpdate{Password: strPtr("pw")})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	start := time.Now()
	res, err := svc.SubmitPasswordRequest(ctx, PasswordRequestInput{
		GalleryID: g.ID, FirstName: "Ada", LastName: "Rossi", Email: "ada@example.com",
	})
	if err != nil || !res.Success || res.Password != "pw" {
		t.Fatalf("expected password despite stalled notifier, got %+v %v", res, err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("request held for %s by the notifier", elapsed)
	}
}

func TestAllPasswordRequestsReadsEveryPage(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	prev := requestPageSize
	requestPageSize = 2
	t.Cleanup(func() { requestPageSize = prev })

	base := time.Date(2024, 6, 16, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		gid := "g1"
		if i == 4 {
			gid = "g2"
		}
		_, err := svc.Store().InsertPasswordRequest(ctx, models.PasswordRequest{
			GalleryID: gid, GalleryCode: "WED24", FirstName: "Ada", LastName: "Rossi",
			Email: "ada@example.com", Status: models.PasswordRequestCompleted,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	all, err := svc.AllPasswordRequests(ctx, "")
	if err != nil {
		t.Fatalf("AllPasswordRequests: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 records, got %d", len(all))
	}
	seen := map[string]bool{}
	for _, r := range all {
		if seen[r.ID] {
			t.Fatalf("record %s returned twice", r.ID)
		}
		seen[r.ID] = true
	}
	one, err := svc.AllPasswordRequests(ctx, "g1")
	if err != nil || len(one) != 4 {
		t.Fatalf("expected 4 records for g1, got %d err=%v", len(one), err)
	}
}

func TestUpdateGalleryAccessInvariants(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	g := createGallery(t, svc, "", AccessUpdate{
		Password:                 strPtr("pw"),
		RequiresSecurityQuestion: true,
		SecurityQuestionType:     "custom",
		SecurityQuestionCustom:   "Colore?",
		SecurityAnswer:           "blu",
	})
	if len(g.Code) != codeLength {
		t.Fatalf("expected generated code, got %q", g.Code)
	}

	if _, err := svc.UpdateGalleryAccess(ctx, g.ID, AccessUpdate{RequiresSecurityQuestion: true, SecurityQuestionType: "custom"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("custom question without text must fail, got %v", err)
	}
	if _, err := svc.UpdateGalleryAccess(ctx, g.ID, AccessUpdate{RequiresSecurityQuestion: true, SecurityQuestionType: "colour", SecurityAnswer: "x"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("unknown type must fail, got %v", err)
	}

	// Switching type keeps the stored answer when none is supplied.
	updated, err := svc.UpdateGalleryAccess(ctx, g.ID, AccessUpdate{RequiresSecurityQuestion: true, SecurityQuestionType: "location"})
	if err != nil {
		t.Fatalf("switch type: %v", err)
	}
	if updated.SecurityQuestionCustom != nil || updated.SecurityAnswerHash == nil || !updated.RequiresPassword() {
		t.Fatalf("unexpected gallery after type switch %+v", updated)
	}

	cleared, err := svc.UpdateGalleryAccess(ctx, g.ID, AccessUpdate{Password: strPtr("")})
	if err != nil {
		t.Fatalf("clear gates: %v", err)
	}
	if cleared.RequiresPassword() || cleared.RequiresSecurityQuestion || cleared.SecurityQuestionType != nil || cleared.SecurityAnswerHash != nil {
		t.Fatalf("expected open gallery, got %+v", cleared)
	}
	info, err := svc.GetAccessInfo(ctx, g.ID)
	if err != nil || !info.Open() {
		t.Fatalf("expected open access info, got %+v %v", info, err)
	}

	if _, err := svc.UpdateGalleryAccess(ctx, g.ID, AccessUpdate{RequiresSecurityQuestion: true, SecurityQuestionType: "month"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("enabling question without answer must fail, got %v", err)
	}
}

func TestCreateGalleryConflictAndDelete(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	g := createGallery(t, svc, "DUP", AccessUpdate{})
	if _, err := svc.CreateGallery(ctx, NewGallery{GalleryInput: GalleryInput{Code: "dup", Name: "again"}}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if _, err := svc.CreateGallery(ctx, NewGallery{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for missing name, got %v", err)
	}
	view, err := svc.AdminView(ctx, g)
	if err != nil || view.PasswordRequests != 0 || view.RequiresPassword {
		t.Fatalf("unexpected admin view %+v %v", view, err)
	}
	if err := svc.DeleteGallery(ctx, g.ID); err != nil {
		t.Fatalf("DeleteGallery: %v", err)
	}
	if err := svc.DeleteGallery(ctx, g.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestReady(t *testing.T) {
	svc, _ := newTestService(t)
	if err := svc.Ready(context.Background()); err != nil {
		t.Fatalf("Ready: %v", err)
	}
}

func assertRequestCount(t *testing.T, svc *Service, galleryID string, want int) {
	t.Helper()
	n, err := svc.Store().CountPasswordRequests(context.Background(), galleryID)
	if err != nil {
		t.Fatalf("CountPasswordRequests: %v", err)
	}
	if n != want {
		t.Fatalf("password request count=%d want=%d", n, want)
	}
}
