package typing

import (
	"os"
	"path/filepath"
	"testing"
)

func openCache(t *testing.T, path string) *Cache {
	t.Helper()
	c, err := Open(path, 2)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drafts.json")
	c := openCache(t, path)

	if err := c.Save(Draft{Context: ChatContext(7), Text: "  half typed  ", Attachments: []string{"a.png"}}); err != nil {
		t.Fatal(err)
	}

	reloaded := openCache(t, path)
	d, ok := reloaded.Draft(ChatContext(7))
	if !ok {
		t.Fatal("draft not persisted")
	}
	if d.Text != "half typed" || len(d.Attachments) != 1 {
		t.Errorf("draft = %+v", d)
	}
	if _, ok := reloaded.Draft(Context{Kind: KindAgent, ID: 7}); ok {
		t.Error("agent context shares the chat draft")
	}
}

func TestEmptyDraftRemoves(t *testing.T) {
	c := openCache(t, filepath.Join(t.TempDir(), "drafts.json"))
	_ = c.Save(Draft{Context: ChatContext(1), Text: "x"})
	if err := c.Save(Draft{Context: ChatContext(1), Text: "   "}); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Draft(ChatContext(1)); ok {
		t.Error("empty draft kept")
	}
}

func TestAttachmentLimit(t *testing.T) {
	c := openCache(t, filepath.Join(t.TempDir(), "drafts.json"))
	err := c.Save(Draft{Context: ChatContext(1), Attachments: []string{"a", "b", "c"}})
	if err != ErrTooManyAttachments {
		t.Errorf("err = %v, want ErrTooManyAttachments", err)
	}
}

func TestResetInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drafts.json")
	c := openCache(t, path)
	_ = c.Save(Draft{Context: ChatContext(1), Text: "one"})
	_ = c.Save(Draft{Context: ChatContext(2), Text: "two"})

	if err := c.ResetInput(1); err != nil {
		t.Fatal(err)
	}
	if err := c.ResetInput(99); err != nil {
		t.Errorf("reset of unknown chat: %v", err)
	}

	reloaded := openCache(t, path)
	if _, ok := reloaded.Draft(ChatContext(1)); ok {
		t.Error("draft survived reset")
	}
	if _, ok := reloaded.Draft(ChatContext(2)); !ok {
		t.Error("other chat's draft was dropped")
	}
}

func TestOpenRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drafts.json")
	if err := os.WriteFile(path, []byte("{"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path, 0); err == nil {
		t.Error("corrupt file accepted")
	}
}
