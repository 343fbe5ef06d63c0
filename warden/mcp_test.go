package warden

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var testImpl = &mcp.Implementation{Name: "tabwarden-test", Version: "0.1.0"}

// mcpSession registers the warden tools and returns a connected client
// session that can call them end-to-end.
func mcpSession(t *testing.T, s *Service) *mcp.ClientSession {
	t.Helper()

	srv := mcp.NewServer(testImpl, nil)
	s.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()

	go func() {
		_ = srv.Run(ctx, serverT)
	}()

	client := mcp.NewClient(testImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

// callTool invokes a tool and returns the JSON text from the first TextContent.
func callTool(t *testing.T, session *mcp.ClientSession, name string, args any) string {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if err := result.GetError(); err != nil {
		t.Fatalf("CallTool(%s) tool error: %v", name, err)
	}
	if len(result.Content) == 0 {
		t.Fatalf("CallTool(%s): empty content", name)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent, got %T", name, result.Content[0])
	}
	return tc.Text
}

func TestMCPGetHistory(t *testing.T) {
	fake := newFakeHost()
	s := newTestService(t, fake)
	s.appendHistory(context.Background(), ClosedHistoryEntry{URL: "https://example.com/mcp", Title: "M", ClosedAt: time.Now()})

	session := mcpSession(t, s)
	text := callTool(t, session, "tabwarden_get_history", nil)

	var hist []ClosedHistoryEntry
	if err := json.Unmarshal([]byte(text), &hist); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if len(hist) != 1 || hist[0].URL != "https://example.com/mcp" {
		t.Fatalf("unexpected history %v", hist)
	}
}

func TestMCPRunCheckCloses(t *testing.T) {
	fake := newFakeHost()
	fake.addTab(httpTab("t1", "https://example.com/mcp-check"))
	fake.metrics["t1"] = unreadShortMetrics()

	s := newTestService(t, fake)
	setThreshold(t, s, Threshold{Minutes: 5})
	backdate(t, s, "t1", time.Hour)

	session := mcpSession(t, s)
	callTool(t, session, "tabwarden_run_check", nil)

	if closed := fake.closedTabs(); len(closed) != 1 {
		t.Fatalf("expected 1 close, got %v", closed)
	}
}

func TestMCPRestoreEntryErrorSurfaces(t *testing.T) {
	fake := newFakeHost()
	s := newTestService(t, fake)
	session := mcpSession(t, s)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "tabwarden_restore_entry",
		Arguments: map[string]any{"index": 3},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Fatal("expected a tool error for an out-of-range index")
	}
}
