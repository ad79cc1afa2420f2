package client

import (
	"context"
	"strings"
	"testing"

	"github.com/dappchat/dappchat-relay/internal/envelope"
	"github.com/dappchat/dappchat-relay/internal/gateway"
	"github.com/dappchat/dappchat-relay/internal/ledger"
	"go.uber.org/zap/zaptest"
)

type fakeUploader struct {
	result gateway.UploadResult
	calls  int
}

func (f *fakeUploader) Upload(context.Context, gateway.FileInput) gateway.UploadResult {
	f.calls++
	return f.result
}

func newTestService(t *testing.T, uploads Uploader) (*ChatService, *ledger.Memory) {
	t.Helper()
	mem := ledger.NewMemory()
	// The relay client stays unconnected: emits are best-effort and the
	// service must succeed on the ledger write alone.
	rc := New("ws://unused", zaptest.NewLogger(t))
	return NewChatService(mem, uploads, rc, zaptest.NewLogger(t)), mem
}

func TestSendMessagePersistsDespiteRelayOutage(t *testing.T) {
	svc, _ := newTestService(t, &fakeUploader{})

	if err := svc.SendMessage(context.Background(), "0xB", "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}

	items, err := svc.History(context.Background(), "0xB")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(items) != 1 || items[0].Body.Kind != envelope.KindPlain || items[0].Body.Text != "hello" {
		t.Fatalf("unexpected history: %+v", items)
	}
}

func TestReplyRoundTripsThroughHistory(t *testing.T) {
	svc, _ := newTestService(t, &fakeUploader{})

	if err := svc.Reply(context.Background(), "0xB", "0xB", "41", "what time works: 3 or 4?", "4 works"); err != nil {
		t.Fatalf("reply: %v", err)
	}

	items, err := svc.History(context.Background(), "0xB")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(items) != 1 || items[0].Body.Kind != envelope.KindReply {
		t.Fatalf("expected reply item, got %+v", items)
	}
	r := items[0].Body.Reply
	if r.OriginalMessageID != "41" || r.Text != "4 works" {
		t.Fatalf("unexpected reply fields: %+v", r)
	}
}

func TestSendFilePersistsEnvelope(t *testing.T) {
	uploads := &fakeUploader{result: gateway.UploadResult{
		Success:  true,
		IPFSHash: "QmHash",
		URL:      "https://gw.example/ipfs/QmHash",
	}}
	svc, _ := newTestService(t, uploads)

	res, err := svc.SendFile(context.Background(), "0xB", gateway.FileInput{
		Name:        "pic.png",
		ContentType: "image/png",
		Size:        9,
		Reader:      strings.NewReader("png bytes"),
	})
	if err != nil {
		t.Fatalf("send file: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected successful upload, got %+v", res)
	}

	items, err := svc.History(context.Background(), "0xB")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(items) != 1 || items[0].Body.Kind != envelope.KindFile {
		t.Fatalf("expected file item, got %+v", items)
	}
	f := items[0].Body.File
	if f.IPFSHash != "QmHash" || f.Name != "pic.png" || f.Size != 9 {
		t.Fatalf("unexpected file envelope: %+v", f)
	}
}

func TestSendFileSkipsSendOnFailedUpload(t *testing.T) {
	uploads := &fakeUploader{result: gateway.UploadResult{Success: false, Error: "gateway down"}}
	svc, _ := newTestService(t, uploads)

	res, err := svc.SendFile(context.Background(), "0xB", gateway.FileInput{Name: "pic.png", Reader: strings.NewReader("x")})
	if err != nil {
		t.Fatalf("send file: %v", err)
	}
	if res.Success || res.Error == "" {
		t.Fatalf("expected absorbed failure, got %+v", res)
	}

	items, err := svc.History(context.Background(), "0xB")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected nothing persisted after failed upload, got %+v", items)
	}
}

func TestGroupMessageAndHistory(t *testing.T) {
	svc, mem := newTestService(t, &fakeUploader{})
	groupID, err := mem.CreateGroupChat(context.Background(), "devs", []string{"0xA", "0xB"})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}

	if err := svc.SendGroupMessage(context.Background(), groupID, "standup in 5"); err != nil {
		t.Fatalf("send group message: %v", err)
	}
	if err := svc.SendGroupMessage(context.Background(), "missing-group", "?"); err == nil {
		t.Fatalf("expected error for unknown group")
	}

	items, err := svc.GroupHistory(context.Background(), groupID)
	if err != nil {
		t.Fatalf("group history: %v", err)
	}
	if len(items) != 1 || items[0].Body.Text != "standup in 5" {
		t.Fatalf("unexpected group history: %+v", items)
	}
}
