package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user/agentloom/internal/agent"
	ctxengine "github.com/user/agentloom/internal/context"
	"github.com/user/agentloom/internal/dispatch"
	"github.com/user/agentloom/internal/event"
	"github.com/user/agentloom/internal/readmodel"
	"github.com/user/agentloom/internal/relay"
	"github.com/user/agentloom/internal/state"
	"github.com/user/agentloom/pkg/llm"
	"github.com/user/agentloom/pkg/llm/openai"
)

// fakeOpenAI answers every chat completion with the same assistant message.
func fakeOpenAI(t *testing.T, answer string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"` + answer + `"},"finish_reason":"stop"}],` +
			`"usage":{"prompt_tokens":12,"completion_tokens":4,"total_tokens":16}}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestEndToEndTurnOverWebSocket(t *testing.T) {
	llmServer, calls := fakeOpenAI(t, "Hello from the model")
	dir := t.TempDir()

	log := state.NewEventLog()
	models, err := readmodel.New(log, state.NewMetaContextFile(filepath.Join(dir, "metacontexts.json")), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(models.Close)

	bridge := agent.New(agent.Config{
		Provider:    openai.New(&llm.Config{BaseURL: llmServer.URL, APIKey: "test", Model: "test-model"}),
		Engine:      ctxengine.New("test-model", 100000, 1000, ctxengine.WithTokenCounter(func(s string) int { return len(s) })),
		Index:       state.NewTranscriptIndex(filepath.Join(dir, "transcripts")),
		Transcripts: state.NewTranscriptStore(filepath.Join(dir, "transcripts")),
		Replay:      log,
	})
	d := dispatch.New(log, models, bridge, dispatch.WithEpoch("epoch-e2e"))
	bridge.Attach(d)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := bridge.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(bridge.Stop)

	rl := relay.New(log, models, d, nil)
	t.Cleanup(rl.Close)
	ts := httptest.NewServer(New(Config{Log: log, Registry: models, Dispatcher: d, Relay: rl}))
	defer ts.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()

	hi := readUntil(t, ws, "hello")
	if hi.Epoch != "epoch-e2e" || hi.SessionID != "" {
		t.Fatalf("unexpected hello %+v", hi)
	}
	readUntil(t, ws, readmodel.SessionListType)

	if err := ws.WriteJSON(map[string]string{"type": "create_session"}); err != nil {
		t.Fatal(err)
	}
	created := readUntil(t, ws, string(event.TypeSessionCreated))
	if created.SessionID == "" {
		t.Fatal("created session has no id")
	}

	if err := ws.WriteJSON(map[string]string{"type": "submit_prompt", "text": "hi"}); err != nil {
		t.Fatal(err)
	}
	answer := readUntil(t, ws, string(event.TypeAgentText))
	if answer.Text != "Hello from the model" || answer.SessionID != created.SessionID {
		t.Errorf("unexpected answer %+v", answer)
	}
	readUntil(t, ws, string(event.TypeTurnCompleted))

	if n := calls.Load(); n != 1 {
		t.Errorf("expected 1 completion call, got %d", n)
	}
	if !bridge.WaitIdle(2 * time.Second) {
		t.Fatal("agent did not go idle")
	}
	entries, err := state.NewTranscriptStore(filepath.Join(dir, "transcripts")).Tail(ctx, created.SessionID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected user and assistant entries, got %d", len(entries))
	}
}
