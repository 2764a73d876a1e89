package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/helpchat/internal/api"
	"github.com/matheus3301/helpchat/internal/config"
	"github.com/matheus3301/helpchat/internal/engine"
	"github.com/matheus3301/helpchat/internal/lock"
	"github.com/matheus3301/helpchat/internal/profile"
	"github.com/matheus3301/helpchat/internal/status"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// testHome points HELPCHAT_HOME at a short /tmp dir (unix socket paths are
// limited to ~104 chars on macOS).
func testHome(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "helpchat-d-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	t.Setenv("HELPCHAT_HOME", dir)
	return dir
}

func testParams() Params {
	return Params{
		ProfileName: "test",
		Settings: config.Profile{
			// Nothing listens here; the transport keeps redialing.
			Endpoint:          "ws://127.0.0.1:1/ws",
			UploadEndpoint:    "http://127.0.0.1:1/upload",
			ClientToken:       "token",
			ClientHash:        "hash",
			Locale:            "en",
			UploadConcurrency: 1,
			UploadLimitMB:     1,
			LogLevel:          "debug",
		},
	}
}

func dial(t *testing.T, socketPath string) *api.Client {
	t.Helper()
	c, err := api.Dial(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// TestFxModuleWiring verifies the fx dependency graph resolves without errors.
func TestFxModuleWiring(t *testing.T) {
	testHome(t)
	if err := fx.ValidateApp(Module(testParams()), fx.NopLogger); err != nil {
		t.Fatalf("ValidateApp() error = %v", err)
	}
}

func TestDaemonLifecycle(t *testing.T) {
	testHome(t)
	p := testParams()

	app := fx.New(Module(p), fx.NopLogger)
	startCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	stopped := false
	defer func() {
		if !stopped {
			_ = app.Stop(context.Background())
		}
	}()

	socketPath := profile.SocketPath(p.ProfileName)
	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatalf("socket not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("socket permission = %o, want 0600", perm)
	}

	// A second daemon on the same profile must not start.
	if _, err := lock.Acquire(profile.Dir(p.ProfileName), ""); err == nil {
		t.Error("profile lock not held")
	}
	if h, ok := lock.Current(profile.Dir(p.ProfileName)); !ok || h.Socket != socketPath {
		t.Errorf("lock holder = %+v, %v; want socket %s", h, ok, socketPath)
	}

	client := dial(t, socketPath)
	ctx, cancelCall := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelCall()

	// The transport enters CONNECTING from its own goroutine.
	var m map[string]any
	deadline := time.After(5 * time.Second)
	for {
		st, err := client.Call(ctx, api.MethodGetStatus, nil)
		if err != nil {
			t.Fatalf("GetStatus error = %v", err)
		}
		m = st.AsMap()
		if m["state"] == string(status.Connecting) {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("state = %v, want CONNECTING while the endpoint is down", m["state"])
		case <-time.After(20 * time.Millisecond):
		}
	}
	if m["profile"] != "test" {
		t.Errorf("profile = %v", m["profile"])
	}
	wantChat := float64(engine.Identity{ClientToken: "token"}.ChatID())
	if m["chat_id"] != wantChat {
		t.Errorf("chat_id = %v, want %v", m["chat_id"], wantChat)
	}

	if _, err := client.Call(ctx, api.MethodSendMessage, map[string]any{"text": "hello"}); err != nil {
		t.Fatalf("SendMessage error = %v", err)
	}

	deadline = time.After(5 * time.Second)
	for {
		out, err := client.Call(ctx, api.MethodListMessages, nil)
		if err != nil {
			t.Fatalf("ListMessages error = %v", err)
		}
		msgs, _ := out.AsMap()["messages"].([]any)
		if len(msgs) > 0 && msgs[0].(map[string]any)["text"] == "hello" {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("message not stored, got %v", msgs)
		case <-time.After(20 * time.Millisecond):
		}
	}

	if err := app.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	stopped = true

	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Errorf("socket left behind: %v", err)
	}
	lk, err := lock.Acquire(profile.Dir(p.ProfileName), "")
	if err != nil {
		t.Fatalf("lock not released: %v", err)
	}
	_ = lk.Release()
}

func TestNewServerReplacesStaleSocket(t *testing.T) {
	dir := testHome(t)
	socketPath := filepath.Join(dir, "d.sock")
	if err := os.WriteFile(socketPath, nil, 0600); err != nil {
		t.Fatal(err)
	}

	p := Params{ProfileName: "fxtest", SocketPath: socketPath}
	srv, err := NewServer(p, zap.NewNop(), api.NewChatService("fxtest", nil, nil, nil, nil, nil, nil))
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	if srv.SocketPath() != socketPath {
		t.Errorf("SocketPath() = %q", srv.SocketPath())
	}
	go func() { _ = srv.Start() }()
	srv.Stop(context.Background())

	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Errorf("socket not removed: %v", err)
	}
}
