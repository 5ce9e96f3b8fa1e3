package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"testing"

	"github.com/glebarez/sqlite"

	"voiceletter/internal/storage"
	"voiceletter/internal/store"
)

func newTestApp(t *testing.T) (*App, *store.GormStore, string) {
	t.Helper()
	st, err := store.New(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	dir := t.TempDir()
	blobs, err := storage.NewDiskStore(dir)
	if err != nil {
		t.Fatalf("open blob store: %v", err)
	}
	return New(st, blobs), st, dir
}

func buildMultipart(t *testing.T, fields map[string]string, fileField, fileName string, payload []byte) *multipart.Reader {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			t.Fatalf("write field %s: %v", name, err)
		}
	}
	if fileField != "" {
		part, err := w.CreateFormFile(fileField, fileName)
		if err != nil {
			t.Fatalf("create file part: %v", err)
		}
		if _, err := part.Write(payload); err != nil {
			t.Fatalf("write file part: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return multipart.NewReader(body, w.Boundary())
}

func TestSaveAudioPersistsRowAndBlob(t *testing.T) {
	a, st, _ := newTestApp(t)
	ctx := context.Background()
	owner, err := st.CreateMember(ctx, "alice", "pw")
	if err != nil {
		t.Fatalf("create owner: %v", err)
	}
	receiver, err := st.CreateMember(ctx, "bob", "pw")
	if err != nil {
		t.Fatalf("create receiver: %v", err)
	}

	payload := []byte("m4a bytes go here")
	mr := buildMultipart(t, map[string]string{
		"id":          fmt.Sprint(owner.ID),
		"receiverId":  fmt.Sprint(receiver.ID),
		"title":       "hi",
		"text":        "hello there",
		"processText": "Hello there.",
		"mood":        "ignored field",
	}, "file", "a.m4a", payload)

	record, err := a.SaveAudio(ctx, mr)
	if err != nil {
		t.Fatalf("save audio: %v", err)
	}
	if record.Title != "hi" || record.Owner.ID != owner.ID || record.Receiver.ID != receiver.ID {
		t.Fatalf("unexpected record: %+v", record)
	}

	got, rc, err := a.OpenAudioFile(ctx, record.ID)
	if err != nil {
		t.Fatalf("open audio file: %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read blob: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Fatalf("blob mismatch: got %q", data)
	}
	if got.ID != record.ID {
		t.Fatalf("metadata mismatch: %+v vs %+v", got, record)
	}
}

func TestSaveAudioMissingIDsIsInvalid(t *testing.T) {
	a, _, dir := newTestApp(t)

	mr := buildMultipart(t, map[string]string{"title": "hi"}, "file", "a.m4a", []byte("x"))
	if _, err := a.SaveAudio(context.Background(), mr); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	// The blob written before validation failed must be cleaned up.
	assertEmptyDir(t, dir)
}

func TestSaveAudioUnknownReceiverCleansUpBlob(t *testing.T) {
	a, st, dir := newTestApp(t)
	ctx := context.Background()
	owner, err := st.CreateMember(ctx, "alice", "pw")
	if err != nil {
		t.Fatalf("create owner: %v", err)
	}

	mr := buildMultipart(t, map[string]string{
		"id":         fmt.Sprint(owner.ID),
		"receiverId": "9999",
	}, "file", "a.m4a", []byte("x"))
	if _, err := a.SaveAudio(ctx, mr); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	assertEmptyDir(t, dir)

	// No orphan row either.
	letters, err := st.ListAudioByOwner(ctx, owner.ID)
	if err != nil || len(letters) != 0 {
		t.Fatalf("expected no rows, got %d (err=%v)", len(letters), err)
	}
}

func TestSaveAudioRejectsSecondFilePart(t *testing.T) {
	a, st, dir := newTestApp(t)
	ctx := context.Background()
	owner, _ := st.CreateMember(ctx, "alice", "pw")
	receiver, _ := st.CreateMember(ctx, "bob", "pw")

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	_ = w.WriteField("id", fmt.Sprint(owner.ID))
	_ = w.WriteField("receiverId", fmt.Sprint(receiver.ID))
	first, err := w.CreateFormFile("file", "a.m4a")
	if err != nil {
		t.Fatalf("create first file part: %v", err)
	}
	_, _ = first.Write([]byte("first recording"))
	second, err := w.CreateFormFile("file", "b.m4a")
	if err != nil {
		t.Fatalf("create second file part: %v", err)
	}
	_, _ = second.Write([]byte("second recording"))
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	mr := multipart.NewReader(body, w.Boundary())
	if _, err := a.SaveAudio(ctx, mr); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for second file part, got %v", err)
	}
	// The blob written for the first part must not linger.
	assertEmptyDir(t, dir)

	letters, err := st.ListAudioByOwner(ctx, owner.ID)
	if err != nil || len(letters) != 0 {
		t.Fatalf("expected no rows, got %d (err=%v)", len(letters), err)
	}
}

func TestOpenAudioFileReportsMissingBlobAsNotFound(t *testing.T) {
	a, st, dir := newTestApp(t)
	ctx := context.Background()
	owner, _ := st.CreateMember(ctx, "alice", "pw")
	receiver, _ := st.CreateMember(ctx, "bob", "pw")

	mr := buildMultipart(t, map[string]string{
		"id":         fmt.Sprint(owner.ID),
		"receiverId": fmt.Sprint(receiver.ID),
	}, "file", "a.m4a", []byte("x"))
	record, err := a.SaveAudio(ctx, mr)
	if err != nil {
		t.Fatalf("save audio: %v", err)
	}

	// Delete the blob behind the row's back.
	if err := os.Remove(dir + "/" + record.FileName); err != nil {
		t.Fatalf("remove blob: %v", err)
	}
	if _, _, err := a.OpenAudioFile(ctx, record.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing blob, got %v", err)
	}
}

func TestFollowValidation(t *testing.T) {
	a, st, _ := newTestApp(t)
	ctx := context.Background()
	alice, _ := st.CreateMember(ctx, "alice", "pw")
	bob, _ := st.CreateMember(ctx, "bob", "pw")

	if err := a.Follow(ctx, 0, bob.ID); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("zero follower: expected ErrInvalidRequest, got %v", err)
	}
	if err := a.Follow(ctx, alice.ID, alice.ID); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("self follow: expected ErrInvalidRequest, got %v", err)
	}
	if err := a.Follow(ctx, alice.ID, bob.ID); err != nil {
		t.Fatalf("follow: %v", err)
	}
	if err := a.Follow(ctx, alice.ID, bob.ID); !errors.Is(err, ErrAlreadyFollowing) {
		t.Fatalf("repeat follow: expected ErrAlreadyFollowing, got %v", err)
	}
	if err := a.Follow(ctx, alice.ID, 4040); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown followee: expected ErrNotFound, got %v", err)
	}
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Fatalf("expected empty blob dir, found %v", names)
	}
}
