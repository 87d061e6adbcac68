package ftp

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestParseFeatureLines_RFC2389(t *testing.T) {
	t.Parallel()
	// RFC 2389 format with space-prefixed feature lines
	lines := []string{
		"211-Extensions supported:",
		" MLST size*;create;modify*;perm;media-type",
		" SIZE",
		" COMPRESSION",
		" MDTM",
		"211 END",
	}

	features := parseFeatureLines(lines)

	expected := map[string]string{
		"MLST":        "size*;create;modify*;perm;media-type",
		"SIZE":        "",
		"COMPRESSION": "",
		"MDTM":        "",
	}

	if len(features) != len(expected) {
		t.Errorf("expected %d features, got %d", len(expected), len(features))
	}
	for name, params := range expected {
		if gotParams, ok := features[name]; !ok {
			t.Errorf("missing feature %s", name)
		} else if gotParams != params {
			t.Errorf("feature %s: expected params %q, got %q", name, params, gotParams)
		}
	}
}

func TestParseFeatureLines_Traditional(t *testing.T) {
	t.Parallel()
	lines := []string{
		"211-Features",
		"211-UTF8",
		"211-REST STREAM",
		"211 End",
	}

	features := parseFeatureLines(lines)
	if len(features) != 2 {
		t.Fatalf("expected 2 features, got %v", features)
	}
	if features["REST"] != "STREAM" {
		t.Errorf("REST params = %q, want STREAM", features["REST"])
	}
	if _, ok := features["UTF8"]; !ok {
		t.Error("missing UTF8")
	}
}

// bufferLogger returns a debug logger writing text records to buf.
func bufferLogger(buf *lockedBuffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestClient_ConnectIsLazy(t *testing.T) {
	t.Parallel()
	ms := newMockServer(t)
	ms.start()

	c, err := New(ms.addr)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if c.IsConnected() {
		t.Fatal("New must not connect")
	}
	if err := c.Noop(context.Background()); err != nil {
		t.Fatalf("Noop failed: %v", err)
	}
	if !c.IsConnected() {
		t.Error("expected the first command to connect")
	}
	if got := ms.connections(); got != 1 {
		t.Errorf("connections = %d, want 1", got)
	}
}

func TestClient_BadGreeting(t *testing.T) {
	t.Parallel()
	ms := newMockServer(t)
	ms.greeting = "421 Too many users"
	ms.start()

	_, err := Dial(context.Background(), ms.addr)
	var pe *ProtocolError
	if !errors.As(err, &pe) || pe.Code() != 421 {
		t.Fatalf("Dial error = %v, want *ProtocolError with code 421", err)
	}
}

func TestClient_Login(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		userCode string
		passCode string
		wantErr  bool
		wantPass bool
	}{
		{name: "user and password", userCode: "331 Password required", passCode: "230 Logged in", wantPass: true},
		{name: "no password needed", userCode: "230 Logged in"},
		{name: "superfluous password", userCode: "331 Password required", passCode: "202 Not needed", wantPass: true},
		{name: "bad password", userCode: "331 Password required", passCode: "530 Login incorrect", wantErr: true, wantPass: true},
		{name: "unknown user", userCode: "530 Not allowed", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ms := newMockServer(t)
			ms.reply("USER", tt.userCode)
			if tt.passCode != "" {
				ms.reply("PASS", tt.passCode)
			}
			ms.start()

			c, err := Dial(context.Background(), ms.addr)
			if err != nil {
				t.Fatal(err)
			}
			defer c.Close()

			err = c.Login(context.Background(), "alice", "s3cret")
			if (err != nil) != tt.wantErr {
				t.Fatalf("Login error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var pe *ProtocolError
				if !errors.As(err, &pe) {
					t.Errorf("Login error = %T, want *ProtocolError", err)
				}
				if strings.Contains(err.Error(), "s3cret") {
					t.Errorf("password leaked into error: %v", err)
				}
			}

			sentPass := false
			for _, line := range ms.received() {
				if line == "PASS s3cret" {
					sentPass = true
				}
			}
			if sentPass != tt.wantPass {
				t.Errorf("PASS sent = %v, want %v (%v)", sentPass, tt.wantPass, ms.received())
			}
		})
	}
}

func TestClient_ConnectURL(t *testing.T) {
	t.Parallel()
	ms := newMockServer(t)
	ms.start()

	c, err := ConnectURL(context.Background(), "ftp://bob:pw@"+ms.addr+"/pub/incoming")
	if err != nil {
		t.Fatalf("ConnectURL failed: %v", err)
	}
	defer c.Close()

	want := []string{"USER bob", "PASS pw", "CWD /pub/incoming"}
	got := ms.received()
	if len(got) < len(want) {
		t.Fatalf("received %v, want prefix %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("command %d = %q, want %q", i, got[i], want[i])
		}
	}

	if _, err := ConnectURL(context.Background(), "sftp://"+ms.addr); err == nil {
		t.Error("expected unsupported scheme error")
	}
}

func TestClient_CurrentDirCache(t *testing.T) {
	t.Parallel()
	ms := newMockServer(t)
	var cwd atomic.Value
	cwd.Store("/")
	ms.handle("PWD", func(s *mockSession, _ string) {
		_ = s.conn.PrintfLine(`257 "%s" is the current directory`, cwd.Load())
	})
	ms.handle("CWD", func(s *mockSession, args string) {
		if args == "/missing" {
			_ = s.conn.PrintfLine("550 No such directory.")
			return
		}
		cwd.Store(args)
		_ = s.conn.PrintfLine("250 Directory changed.")
	})
	ms.start()

	ctx := context.Background()
	c, err := Dial(ctx, ms.addr)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	pwdCount := func() int {
		n := 0
		for _, v := range ms.receivedVerbs() {
			if v == "PWD" {
				n++
			}
		}
		return n
	}

	for range 2 {
		if dir, err := c.CurrentDir(ctx); err != nil || dir != "/" {
			t.Fatalf("CurrentDir = %q, %v", dir, err)
		}
	}
	if got := pwdCount(); got != 1 {
		t.Errorf("PWD sent %d times, want 1", got)
	}

	// A successful CWD through the raw command path invalidates the cache.
	if reply, err := c.Execute("CWD /srv"); err != nil || !reply.Success() {
		t.Fatalf("CWD = %v, %v", reply, err)
	}
	if dir, err := c.CurrentDir(ctx); err != nil || dir != "/srv" {
		t.Fatalf("CurrentDir after CWD = %q, %v", dir, err)
	}
	if got := pwdCount(); got != 2 {
		t.Errorf("PWD sent %d times, want 2", got)
	}

	// A failed CWD leaves it alone.
	if err := c.ChangeDir(ctx, "/missing"); err == nil {
		t.Fatal("expected ChangeDir to fail")
	}
	if dir, err := c.CurrentDir(ctx); err != nil || dir != "/srv" {
		t.Fatalf("CurrentDir after failed CWD = %q, %v", dir, err)
	}
	if got := pwdCount(); got != 2 {
		t.Errorf("PWD sent %d times, want 2", got)
	}
}

func TestClient_Features(t *testing.T) {
	t.Parallel()
	ms := newMockServer(t)
	ms.handle("FEAT", func(s *mockSession, _ string) {
		_ = s.conn.PrintfLine("211-Features:")
		_ = s.conn.PrintfLine(" MLST type*;size*;")
		_ = s.conn.PrintfLine(" UTF8")
		_ = s.conn.PrintfLine("211 End")
	})
	ms.start()

	ctx := context.Background()
	c, err := Dial(ctx, ms.addr)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if !c.HasFeature(ctx, "mlst") {
		t.Error("expected MLST")
	}
	if c.HasFeature(ctx, "EPRT") {
		t.Error("did not expect EPRT")
	}

	feat := 0
	for _, v := range ms.receivedVerbs() {
		if v == "FEAT" {
			feat++
		}
	}
	if feat != 1 {
		t.Errorf("FEAT sent %d times, want 1", feat)
	}
}

func TestClient_Clone(t *testing.T) {
	t.Parallel()
	ms := newMockServer(t)
	ms.handle("FEAT", func(s *mockSession, _ string) {
		_ = s.conn.PrintfLine("211-Features:")
		_ = s.conn.PrintfLine(" SIZE")
		_ = s.conn.PrintfLine("211 End")
	})
	ms.start()

	ctx := context.Background()
	c, err := Dial(ctx, ms.addr, WithChunkSize(4096))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if err := c.Login(ctx, "alice", "s3cret"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Features(ctx); err != nil {
		t.Fatal(err)
	}

	clone := c.Clone()
	defer clone.Close()

	if clone.IsConnected() {
		t.Error("clone must start disconnected")
	}
	if clone.Session() == c.Session() {
		t.Error("clone must have its own session id")
	}
	if clone.Config().ChunkSize != 4096 {
		t.Errorf("clone ChunkSize = %d, want 4096", clone.Config().ChunkSize)
	}

	// Changing the clone's feature map must not affect the origin.
	clone.features["EXTRA"] = ""
	if _, ok := c.features["EXTRA"]; ok {
		t.Error("feature map shared between clone and origin")
	}

	if err := clone.Noop(ctx); err != nil {
		t.Fatalf("clone Noop failed: %v", err)
	}
	if got := ms.connections(); got != 2 {
		t.Errorf("connections = %d, want 2", got)
	}

	users, feats := 0, 0
	for _, line := range ms.received() {
		switch {
		case line == "USER alice":
			users++
		case line == "FEAT":
			feats++
		}
	}
	if users != 2 {
		t.Errorf("USER sent %d times, want 2 (clone logs in again)", users)
	}
	if feats != 1 {
		t.Errorf("FEAT sent %d times, want 1 (clone reuses features)", feats)
	}
}

func TestClient_CloneWithoutFeaturesWarns(t *testing.T) {
	t.Parallel()
	var logs lockedBuffer
	c, err := New("127.0.0.1:21", WithLogger(bufferLogger(&logs)))
	if err != nil {
		t.Fatal(err)
	}

	clone := c.Clone()
	if clone.features != nil {
		t.Error("expected clone without features")
	}
	if !strings.Contains(logs.String(), "level=WARN") {
		t.Errorf("expected a warning, got logs:\n%s", logs.String())
	}
}

func TestClient_Close(t *testing.T) {
	t.Parallel()
	ms := newMockServer(t)
	ms.start()

	ctx := context.Background()
	c, err := Dial(ctx, ms.addr)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			if err := c.Close(); err != nil {
				t.Errorf("Close returned %v", err)
			}
		})
	}
	wg.Wait()

	if err := c.Close(); err != nil {
		t.Errorf("second Close returned %v", err)
	}
	if c.IsConnected() {
		t.Error("client still connected after Close")
	}
	if _, err := c.Execute("NOOP"); !errors.Is(err, ErrClosed) {
		t.Errorf("Execute after Close = %v, want ErrClosed", err)
	}
	if err := c.Connect(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Connect after Close = %v, want ErrClosed", err)
	}

	quits := 0
	for _, v := range ms.receivedVerbs() {
		if v == "QUIT" {
			quits++
		}
	}
	if quits != 1 {
		t.Errorf("QUIT sent %d times, want 1", quits)
	}
}

func TestClient_CloseNeverConnected(t *testing.T) {
	t.Parallel()
	c, err := New("127.0.0.1:21")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close = %v", err)
	}
}

func TestClient_CloseUnresponsiveServer(t *testing.T) {
	t.Parallel()
	ms := newMockServer(t)
	ms.handle("QUIT", func(*mockSession, string) {})
	ms.start()

	c, err := Dial(context.Background(), ms.addr, WithTimeout(200*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if err := c.Close(); err != nil {
		t.Errorf("Close = %v, want nil even when QUIT times out", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Close took %v", elapsed)
	}
}

func TestClient_Disconnect(t *testing.T) {
	t.Parallel()
	ms := newMockServer(t)
	ms.start()

	ctx := context.Background()
	c, err := Dial(ctx, ms.addr)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if err := c.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if c.IsConnected() {
		t.Fatal("still connected")
	}
	if err := c.Disconnect(ctx); err != nil {
		t.Errorf("second Disconnect = %v", err)
	}

	if err := c.Noop(ctx); err != nil {
		t.Fatalf("Noop after Disconnect failed: %v", err)
	}
	if got := ms.connections(); got != 2 {
		t.Errorf("connections = %d, want 2", got)
	}
}
