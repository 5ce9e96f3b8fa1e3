package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	s, err := New(sqlite.Open(dsn))
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	return s
}

func mustCreateMember(t *testing.T, s *GormStore, username, password string) int {
	t.Helper()
	m, err := s.CreateMember(context.Background(), username, password)
	if err != nil {
		t.Fatalf("create member %s: %v", username, err)
	}
	return m.ID
}

func TestCreateAudioAndFindById(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := mustCreateMember(t, s, "alice", "pw1")
	receiver := mustCreateMember(t, s, "bob", "pw2")

	created, err := s.CreateAudio(ctx, owner, receiver, "hi", "abc.m4a", "raw text", "processed text")
	if err != nil {
		t.Fatalf("create audio: %v", err)
	}
	if created.ID == 0 {
		t.Fatalf("expected generated audio id")
	}
	if created.Owner.ID != owner || created.Receiver.ID != receiver {
		t.Fatalf("unexpected owner/receiver: %+v", created)
	}
	if created.CreatedAt.IsZero() {
		t.Fatalf("expected server-assigned creation time")
	}

	got, found, err := s.GetAudio(ctx, created.ID)
	if err != nil || !found {
		t.Fatalf("get audio: found=%v err=%v", found, err)
	}
	if got.Title != "hi" || got.FileName != "abc.m4a" || got.Text != "raw text" || got.ProcessText != "processed text" {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
	if got.Owner.Username != "alice" || got.Receiver.Username != "bob" {
		t.Fatalf("expected resolved member snippets, got %+v", got)
	}
}

func TestCreateAudioMissingMembers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := mustCreateMember(t, s, "alice", "pw")

	if _, err := s.CreateAudio(ctx, 9999, owner, "t", "f.m4a", "", ""); !errors.Is(err, ErrMemberNotFound) {
		t.Fatalf("missing owner: expected ErrMemberNotFound, got %v", err)
	}
	if _, err := s.CreateAudio(ctx, owner, 9999, "t", "f.m4a", "", ""); !errors.Is(err, ErrMemberNotFound) {
		t.Fatalf("missing receiver: expected ErrMemberNotFound, got %v", err)
	}

	// Rollback means no partial rows.
	if list, err := s.ListAudioByOwner(ctx, owner); err != nil || len(list) != 0 {
		t.Fatalf("expected no audio rows after failed creates, got %d (err=%v)", len(list), err)
	}
}

func TestListAudioByOwnerAndReceiver(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := mustCreateMember(t, s, "a", "pw")
	b := mustCreateMember(t, s, "b", "pw")

	for i := 0; i < 3; i++ {
		if _, err := s.CreateAudio(ctx, a, b, fmt.Sprintf("letter %d", i), fmt.Sprintf("f%d.m4a", i), "", ""); err != nil {
			t.Fatalf("create audio %d: %v", i, err)
		}
	}
	if _, err := s.CreateAudio(ctx, b, a, "reply", "r.m4a", "", ""); err != nil {
		t.Fatalf("create reply: %v", err)
	}

	byOwner, err := s.ListAudioByOwner(ctx, a)
	if err != nil || len(byOwner) != 3 {
		t.Fatalf("expected 3 letters by owner, got %d (err=%v)", len(byOwner), err)
	}
	byReceiver, err := s.ListAudioByReceiver(ctx, a)
	if err != nil || len(byReceiver) != 1 {
		t.Fatalf("expected 1 letter for receiver, got %d (err=%v)", len(byReceiver), err)
	}
	if byReceiver[0].Title != "reply" {
		t.Fatalf("unexpected record: %+v", byReceiver[0])
	}
}

func TestCreateFollowIsSymmetricAndRejectsDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := mustCreateMember(t, s, "a", "pw")
	b := mustCreateMember(t, s, "b", "pw")

	if err := s.CreateFollow(ctx, a, b); err != nil {
		t.Fatalf("first follow: %v", err)
	}
	if err := s.CreateFollow(ctx, a, b); !errors.Is(err, ErrAlreadyFollowed) {
		t.Fatalf("duplicate follow: expected ErrAlreadyFollowed, got %v", err)
	}
	// The reverse direction was created by the first call, so it is a
	// duplicate too.
	if err := s.CreateFollow(ctx, b, a); !errors.Is(err, ErrAlreadyFollowed) {
		t.Fatalf("reverse follow: expected ErrAlreadyFollowed, got %v", err)
	}

	var count int64
	if err := s.db.Model(&FollowModel{}).Count(&count).Error; err != nil {
		t.Fatalf("count follows: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected exactly two follow rows, got %d", count)
	}
}

func TestCreateFollowMissingMember(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := mustCreateMember(t, s, "a", "pw")

	if err := s.CreateFollow(ctx, a, 4242); !errors.Is(err, ErrMemberNotFound) {
		t.Fatalf("expected ErrMemberNotFound, got %v", err)
	}
	var count int64
	if err := s.db.Model(&FollowModel{}).Count(&count).Error; err != nil {
		t.Fatalf("count follows: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no follow rows after failed create, got %d", count)
	}
}

func TestLoginMaterializesRelations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := mustCreateMember(t, s, "a", "secret")
	b := mustCreateMember(t, s, "b", "pw")
	c := mustCreateMember(t, s, "c", "pw")

	if err := s.CreateFollow(ctx, a, b); err != nil {
		t.Fatalf("follow a->b: %v", err)
	}
	if err := s.CreateFollow(ctx, c, a); err != nil {
		t.Fatalf("follow c->a: %v", err)
	}

	member, err := s.Login(ctx, a, "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if member.Username != "a" {
		t.Fatalf("unexpected member: %+v", member)
	}
	// Follows are symmetric, so both b and c appear on both sides.
	if len(member.Following) != 2 || len(member.Followers) != 2 {
		t.Fatalf("expected 2 following and 2 followers, got %d/%d",
			len(member.Following), len(member.Followers))
	}
	names := map[string]bool{}
	for _, ref := range member.Following {
		names[ref.Username] = true
	}
	if !names["b"] || !names["c"] {
		t.Fatalf("expected b and c in following, got %+v", member.Following)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := mustCreateMember(t, s, "a", "secret")

	if _, err := s.Login(ctx, a, "wrong"); !errors.Is(err, ErrLoginFailed) {
		t.Fatalf("wrong password: expected ErrLoginFailed, got %v", err)
	}
	if _, err := s.Login(ctx, 777, "secret"); !errors.Is(err, ErrLoginFailed) {
		t.Fatalf("unknown id: expected ErrLoginFailed, got %v", err)
	}
}
