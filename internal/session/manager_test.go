package session

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/parlano/parlano/internal/model"
	storemock "github.com/parlano/parlano/internal/store/mock"
)

func TestCreateSession_Success(t *testing.T) {
	t.Parallel()

	st := storemock.New()
	m := NewManager(st, st)

	sess, err := m.CreateSession(context.Background(), "learner-1", 2, model.ModePractice)
	if err != nil {
		t.Fatalf("CreateSession() error: %v", err)
	}
	if sess.ID == "" {
		t.Error("session id is empty")
	}
	if sess.Status != model.StatusActive {
		t.Errorf("Status = %s, want active", sess.Status)
	}
	if sess.Level != 2 {
		t.Errorf("Level = %d, want 2", sess.Level)
	}
}

func TestCreateSession_DefaultsToPracticeMode(t *testing.T) {
	t.Parallel()

	st := storemock.New()
	m := NewManager(st, st)

	sess, err := m.CreateSession(context.Background(), "learner-1", 1, "")
	if err != nil {
		t.Fatalf("CreateSession() error: %v", err)
	}
	if sess.Mode != model.ModePractice {
		t.Errorf("Mode = %s, want practice", sess.Mode)
	}
}

func TestCreateSession_Validation(t *testing.T) {
	t.Parallel()

	st := storemock.New()
	m := NewManager(st, st)

	tests := []struct {
		name      string
		learnerID string
		level     int
		mode      model.SessionMode
	}{
		{"empty learner", "", 2, model.ModePractice},
		{"level too low", "l1", 0, model.ModePractice},
		{"level too high", "l1", 6, model.ModePractice},
		{"unknown mode", "l1", 2, "quiz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := m.CreateSession(context.Background(), tt.learnerID, tt.level, tt.mode)
			if !model.IsValidation(err) {
				t.Errorf("error = %v, want ValidationError", err)
			}
		})
	}
}

func TestCreateSession_ConflictWithIncompleteActiveSession(t *testing.T) {
	t.Parallel()

	st := storemock.New()
	m := NewManager(st, st)
	ctx := context.Background()

	first, err := m.CreateSession(ctx, "learner-1", 2, model.ModePractice)
	if err != nil {
		t.Fatalf("first CreateSession() error: %v", err)
	}
	for i := 1; i <= 4; i++ {
		if err := st.CreateRound(ctx, &model.Round{
			ID: fmt.Sprintf("r%d", i), SessionID: first.ID, RoundNumber: i,
			Prompt: "p", AudioRef: "a.wav",
		}); err != nil {
			t.Fatalf("CreateRound() error: %v", err)
		}
	}

	_, err = m.CreateSession(ctx, "learner-1", 3, model.ModePractice)
	var conflict *model.SessionConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("error = %v, want SessionConflictError", err)
	}
	if conflict.ExistingSessionID != first.ID {
		t.Errorf("ExistingSessionID = %s, want %s", conflict.ExistingSessionID, first.ID)
	}
	if conflict.RoundsRecorded != 4 {
		t.Errorf("RoundsRecorded = %d, want 4", conflict.RoundsRecorded)
	}
}

func TestCreateSession_FullActiveSessionDoesNotBlock(t *testing.T) {
	t.Parallel()

	st := storemock.New()
	m := NewManager(st, st)
	ctx := context.Background()

	first, err := m.CreateSession(ctx, "learner-1", 2, model.ModePractice)
	if err != nil {
		t.Fatalf("first CreateSession() error: %v", err)
	}
	for i := 1; i <= model.RoundsPerSession; i++ {
		_ = st.CreateRound(ctx, &model.Round{
			ID: fmt.Sprintf("r%d", i), SessionID: first.ID, RoundNumber: i,
			Prompt: "p", AudioRef: "a.wav",
		})
	}

	second, err := m.CreateSession(ctx, "learner-1", 2, model.ModePractice)
	if err != nil {
		t.Fatalf("second CreateSession() error: %v", err)
	}
	if second.ID == first.ID {
		t.Error("second session reused the first session's id")
	}
}

func TestCreateSession_OtherLearnerUnaffected(t *testing.T) {
	t.Parallel()

	st := storemock.New()
	m := NewManager(st, st)
	ctx := context.Background()

	if _, err := m.CreateSession(ctx, "learner-1", 2, model.ModePractice); err != nil {
		t.Fatalf("CreateSession() error: %v", err)
	}
	if _, err := m.CreateSession(ctx, "learner-2", 2, model.ModePractice); err != nil {
		t.Fatalf("CreateSession() for other learner error: %v", err)
	}
}

func TestGetSession_NotFound(t *testing.T) {
	t.Parallel()

	m := NewManager(storemock.New(), storemock.New())
	_, _, err := m.GetSession(context.Background(), "missing")
	if !errors.Is(err, model.ErrSessionNotFound) {
		t.Errorf("error = %v, want ErrSessionNotFound", err)
	}
}
