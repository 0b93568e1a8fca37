package embedserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/grovekb/grove/internal/apperr"
	"github.com/grovekb/grove/internal/embedding"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// startTestServer runs a daemon with a deterministic lite backend on a
// per-test socket and waits until it answers status.
func startTestServer(t *testing.T, dims int) (ModelInfo, context.CancelFunc) {
	t.Helper()
	socket := filepath.Join(t.TempDir(), "embed.sock")
	t.Setenv("GROVE_EMBED_SOCKET", socket)

	model := ModelInfo{Alias: "test", Runtime: "test-model", Dimensions: dims}
	srv := NewServer(model, embedding.NewLite(dims), quiet())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("server did not shut down")
		}
	})

	client := NewClient(model)
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := client.Status(context.Background()); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("server never became ready")
		}
		time.Sleep(20 * time.Millisecond)
	}
	return model, cancel
}

func TestServerEmbedRoundTrip(t *testing.T) {
	model, _ := startTestServer(t, 16)
	client := NewClient(model)

	got, err := client.Embed(context.Background(), "MACD crossovers")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	want, _ := embedding.NewLite(16).Embed(context.Background(), "MACD crossovers")
	if len(got) != 16 {
		t.Fatalf("len = %d", len(got))
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("vector differs from backend at %d", i)
		}
	}
}

func TestServerBatchPreservesOrder(t *testing.T) {
	model, _ := startTestServer(t, 16)
	client := NewClient(model)

	texts := []string{"alpha", "beta", "gamma"}
	vecs, err := client.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("len = %d", len(vecs))
	}
	lite := embedding.NewLite(16)
	for i, text := range texts {
		want, _ := lite.Embed(context.Background(), text)
		for j := range want {
			if vecs[i][j] != want[j] {
				t.Fatalf("vecs[%d] out of order", i)
			}
		}
	}
}

func TestServerStatus(t *testing.T) {
	model, _ := startTestServer(t, 16)
	info, err := NewClient(model).Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if info.Alias != "test" || info.Dimensions != 16 {
		t.Errorf("status = %+v", info)
	}
}

func TestServerRejectsDimensionMismatch(t *testing.T) {
	model, _ := startTestServer(t, 16)
	wrong := model
	wrong.Dimensions = 32
	_, err := NewClient(wrong).Embed(context.Background(), "text")
	if !errors.Is(err, apperr.ErrDimensionMismatch) {
		t.Errorf("err = %v, want ErrDimensionMismatch", err)
	}
}

func TestServerRejectsOversizedBatch(t *testing.T) {
	model, _ := startTestServer(t, 16)
	texts := make([]string, maxBatchTexts+1)
	for i := range texts {
		texts[i] = fmt.Sprintf("text %d", i)
	}
	_, err := NewClient(model).EmbedBatch(context.Background(), texts)
	if !errors.Is(err, apperr.ErrRequestTooLarge) {
		t.Errorf("err = %v, want ErrRequestTooLarge", err)
	}
}

func TestServerUnknownCommand(t *testing.T) {
	_, _ = startTestServer(t, 16)

	conn, err := net.Dial("unix", SocketPath())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte(`{"cmd":"bogus"}`)); err != nil {
		t.Fatal(err)
	}
	_ = conn.(*net.UnixConn).CloseWrite()

	data, err := io.ReadAll(conn)
	if err != nil {
		t.Fatal(err)
	}
	var resp struct {
		OK   bool   `json:"ok"`
		Code string `json:"code"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("bad response %q: %v", data, err)
	}
	if resp.OK || resp.Code != "unknown_command" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestSecondServerFailsOnBoundSocket(t *testing.T) {
	model, _ := startTestServer(t, 16)

	second := NewServer(model, embedding.NewLite(16), quiet())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := second.Run(ctx)
	if !errors.Is(err, apperr.ErrServerStartFailure) {
		t.Errorf("err = %v, want ErrServerStartFailure", err)
	}
}

func TestStopCommandShutsDown(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "embed.sock")
	t.Setenv("GROVE_EMBED_SOCKET", socket)
	model := ModelInfo{Alias: "test", Runtime: "test-model", Dimensions: 8}
	srv := NewServer(model, embedding.NewLite(8), quiet())

	done := make(chan error, 1)
	go func() { done <- srv.Run(context.Background()) }()

	client := NewClient(model)
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := client.Status(context.Background()); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("server never became ready")
		}
		time.Sleep(20 * time.Millisecond)
	}

	if err := client.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	if _, err := os.Stat(socket); !os.IsNotExist(err) {
		t.Error("socket not cleaned up")
	}
}

func TestClientWithoutServer(t *testing.T) {
	t.Setenv("GROVE_EMBED_SOCKET", filepath.Join(t.TempDir(), "nothing.sock"))
	client := NewClient(ModelInfo{Alias: "test", Dimensions: 8})

	if _, err := client.Status(context.Background()); err == nil {
		t.Error("expected status to fail with no server")
	}
	if _, err := client.Embed(context.Background(), "text"); !errors.Is(err, apperr.ErrServerUnavailable) {
		t.Errorf("err = %v, want ErrServerUnavailable", err)
	}
}

func TestStopDaemonIdempotent(t *testing.T) {
	t.Setenv("GROVE_EMBED_SOCKET", filepath.Join(t.TempDir(), "nothing.sock"))
	if err := StopDaemon(context.Background()); err != nil {
		t.Errorf("StopDaemon on no daemon: %v", err)
	}
}

func TestResolveModel(t *testing.T) {
	m, err := ResolveModel("nomic")
	if err != nil {
		t.Fatalf("ResolveModel: %v", err)
	}
	if m.Dimensions != 768 {
		t.Errorf("nomic dims = %d, want 768", m.Dimensions)
	}
	if _, err := ResolveModel("made-up"); !errors.Is(err, apperr.ErrServerStartFailure) {
		t.Errorf("err = %v, want ErrServerStartFailure", err)
	}
}

func TestModelsSorted(t *testing.T) {
	models := Models()
	if len(models) < 4 {
		t.Fatalf("registry too small: %d", len(models))
	}
	for i := 1; i < len(models); i++ {
		if models[i-1].Alias >= models[i].Alias {
			t.Errorf("not sorted at %d: %s >= %s", i, models[i-1].Alias, models[i].Alias)
		}
	}
}
