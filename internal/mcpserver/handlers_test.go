package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/consultcredit/internal/auth"
	"github.com/mbd888/consultcredit/internal/usage"
)

// --- Test helpers ---

func newTestSetup(handler http.Handler) (*Handlers, func()) {
	ts := httptest.NewServer(handler)
	client := NewClient(Config{APIURL: ts.URL, APIKey: "sk_test_key"})
	return NewHandlers(client), ts.Close
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func jsonHandler(t *testing.T, wantMethod, wantPath string, body any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, wantMethod, r.Method)
		assert.Equal(t, wantPath, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}
}

// liveServer runs the real usage routes behind a fake key check.
func liveServer(t *testing.T) (*Handlers, func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ledger := usage.New(usage.NewMemoryStore())
	r := gin.New()
	v1 := r.Group("/v1", func(c *gin.Context) {
		if c.GetHeader("Authorization") == "Bearer sk_test_key" {
			c.Set(auth.ContextKeyUserID, "user_1")
		}
	}, auth.RequireAuth())
	usage.NewHandler(ledger).RegisterProtectedRoutes(v1)
	return newTestSetup(r)
}

// ============================================================
// Client tests
// ============================================================

func TestClient_DoRequest_AuthHeader(t *testing.T) {
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"rankings":[]}`))
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL, APIKey: "sk_secret123"})
	_, err := client.ListRankings(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk_secret123", gotAuth)
}

func TestClient_DoRequest_NoKeyNoHeader(t *testing.T) {
	var hadAuth bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hadAuth = r.Header["Authorization"]
		_, _ = w.Write([]byte(`{"rankings":[]}`))
	}))
	defer ts.Close()

	_, err := NewClient(Config{APIURL: ts.URL}).ListRankings(context.Background(), 0)
	require.NoError(t, err)
	assert.False(t, hadAuth)
}

func TestClient_DoRequest_HTTPError_WithAPIMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "unauthorized",
			"message": "API key required",
		})
	}))
	defer ts.Close()

	_, err := NewClient(Config{APIURL: ts.URL, APIKey: "bad"}).GetUsage(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "API key required")
}

func TestClient_DoRequest_HTTPError_NonJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream timeout"))
	}))
	defer ts.Close()

	_, err := NewClient(Config{APIURL: ts.URL, APIKey: "k"}).GetUsage(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream timeout")
}

func TestClient_DoRequest_MalformedBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"usage":`))
	}))
	defer ts.Close()

	_, err := NewClient(Config{APIURL: ts.URL, APIKey: "k"}).GetUsage(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode response")
}

func TestClient_DoRequest_ConnectionRefused(t *testing.T) {
	client := NewClient(Config{APIURL: "http://127.0.0.1:1", APIKey: "k"})
	_, err := client.GetUsage(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}

func TestClient_DoRequest_CancelledContext(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL, APIKey: "k"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately
	_, err := client.GetUsage(ctx)
	require.Error(t, err)
}

func TestClient_Consume_RequestBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/usage/consume", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"tokens":900,"precise":true}`, string(body))
		_, _ = w.Write([]byte(`{"result":{"requestedTokens":900,"spentTokens":1080,"precise":true}}`))
	}))
	defer ts.Close()

	res, err := NewClient(Config{APIURL: ts.URL, APIKey: "k"}).Consume(context.Background(), 900, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1080), res.SpentTokens)
}

func TestClient_QuoteSession_QueryParams(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/experts/exp_1/quote", r.URL.Path)
		assert.Equal(t, "30", r.URL.Query().Get("minutes"))
		_, _ = w.Write([]byte(`{"quote":{"expertId":"exp_1","minutes":30,"credits":3000}}`))
	}))
	defer ts.Close()

	q, err := NewClient(Config{APIURL: ts.URL}).QuoteSession(context.Background(), "exp_1", 30)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), q.Credits)
}

func TestClient_ListRankings_ZeroLimit(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query().Get("limit"), "zero limit should not be sent")
		_, _ = w.Write([]byte(`{"rankings":[],"count":0}`))
	}))
	defer ts.Close()

	entries, err := NewClient(Config{APIURL: ts.URL}).ListRankings(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestClient_MissingEnvelope(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL})
	_, err := client.GetUsage(context.Background())
	assert.Error(t, err)
	_, err = client.GetExpertLevel(context.Background(), "exp_1")
	assert.Error(t, err)
	_, err = client.QuoteSession(context.Background(), "exp_1", 10)
	assert.Error(t, err)
	_, err = client.Consume(context.Background(), 10, false)
	assert.Error(t, err)
}

// ============================================================
// Handler tests against the real usage routes
// ============================================================

func TestHandleCheckUsage_Live(t *testing.T) {
	h, cleanup := liveServer(t)
	defer cleanup()

	result, err := h.HandleCheckUsage(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	text := resultText(t, result)
	assert.Contains(t, text, "100% remaining")
	assert.Contains(t, text, "7300 tokens")
	assert.Contains(t, text, "about 8 turns")
}

func TestHandleRecordTurn_Live(t *testing.T) {
	h, cleanup := liveServer(t)
	defer cleanup()

	result, err := h.HandleRecordTurn(context.Background(), makeRequest(map[string]any{"tokens": float64(900)}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
	assert.Contains(t, resultText(t, result), "Recorded 900 tokens")
	assert.Contains(t, resultText(t, result), "88% remaining")

	result, err = h.HandleRecordTurn(context.Background(), makeRequest(map[string]any{"tokens": float64(900), "precise": true}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Recorded 1080 tokens (900 requested, precise mode)")
	assert.Contains(t, text, "Used this month: 1980")
}

func TestHandleRecordTurn_Overdraft(t *testing.T) {
	h, cleanup := liveServer(t)
	defer cleanup()

	result, err := h.HandleRecordTurn(context.Background(), makeRequest(map[string]any{"tokens": float64(7500)}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "From purchased:      200")
	assert.Contains(t, text, "overdrawn by 200 tokens")
}

func TestHandleRecordTurn_InvalidTokens(t *testing.T) {
	h := NewHandlers(NewClient(Config{APIURL: "http://unused"}))

	for _, args := range []map[string]any{nil, {"tokens": float64(0)}, {"tokens": float64(-3)}} {
		result, err := h.HandleRecordTurn(context.Background(), makeRequest(args))
		require.NoError(t, err)
		assert.True(t, result.IsError)
		assert.Contains(t, resultText(t, result), "positive integer")
	}
}

func TestHandleCheckUsage_PurchasedFirstDisplay(t *testing.T) {
	h, cleanup := newTestSetup(jsonHandler(t, http.MethodGet, "/v1/usage", map[string]any{
		"usage": map[string]any{
			"account": map[string]any{
				"userId": "user_1", "freeAllowanceTotal": 7300, "freeAllowanceUsed": 300,
				"purchasedTotal": 1000, "lastResetPeriod": "2026-10",
			},
			"summary": map[string]any{"period": "2026-10", "usedTotal": 300},
		},
	}))
	defer cleanup()

	result, err := h.HandleCheckUsage(context.Background(), makeRequest(map[string]any{"display": "purchased_first"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "Used this month: 300 (free 0, purchased 300)")

	result, err = h.HandleCheckUsage(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "Used this month: 300 (free 0, purchased 0)",
		"default display uses the summary the server returned")
}

// ============================================================
// Handler tests with canned responses
// ============================================================

func TestHandleGetExpertLevel(t *testing.T) {
	h, cleanup := newTestSetup(jsonHandler(t, http.MethodGet, "/v1/experts/exp_1/level", map[string]any{
		"expert": map[string]any{
			"expertId": "exp_1", "level": 4, "creditsPerMinute": 250, "tierLabel": "Rising Star",
			"rankingScore": 42.5, "ranking": 3, "totalExperts": 20,
		},
	}))
	defer cleanup()

	result, err := h.HandleGetExpertLevel(context.Background(), makeRequest(map[string]any{"expert_id": "exp_1"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Level: 4 (Rising Star)")
	assert.Contains(t, text, "250 credits/min")
	assert.Contains(t, text, "42.5 / 100")
	assert.Contains(t, text, "Rank:  3 of 20")
}

func TestHandleGetExpertLevel_Unranked(t *testing.T) {
	h, cleanup := newTestSetup(jsonHandler(t, http.MethodGet, "/v1/experts/exp_9/level", map[string]any{
		"expert": map[string]any{"expertId": "exp_9", "level": 1, "creditsPerMinute": 100, "tierLabel": "Fresh Mind"},
	}))
	defer cleanup()

	result, err := h.HandleGetExpertLevel(context.Background(), makeRequest(map[string]any{"expert_id": "exp_9"}))
	require.NoError(t, err)
	assert.NotContains(t, resultText(t, result), "Rank:")
}

func TestHandleGetExpertLevel_MissingID(t *testing.T) {
	h := NewHandlers(NewClient(Config{APIURL: "http://unused"}))

	result, err := h.HandleGetExpertLevel(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "expert_id is required")
}

func TestHandleQuoteSession(t *testing.T) {
	h, cleanup := newTestSetup(jsonHandler(t, http.MethodGet, "/v1/experts/exp_1/quote", map[string]any{
		"quote": map[string]any{
			"expertId": "exp_1", "level": 2, "tierLabel": "Curious Learner", "creditsPerMinute": 150,
			"minutes": 20, "credits": 3000, "won": 30,
		},
	}))
	defer cleanup()

	result, err := h.HandleQuoteSession(context.Background(), makeRequest(map[string]any{"expert_id": "exp_1", "minutes": float64(20)}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Total: 3000 credits (30 won)")
}

func TestHandleQuoteSession_Validation(t *testing.T) {
	h := NewHandlers(NewClient(Config{APIURL: "http://unused"}))

	result, err := h.HandleQuoteSession(context.Background(), makeRequest(map[string]any{"minutes": float64(10)}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "expert_id is required")

	result, err = h.HandleQuoteSession(context.Background(), makeRequest(map[string]any{"expert_id": "exp_1"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "minutes must be a positive integer")
}

func TestHandleListRankings(t *testing.T) {
	var gotLimit string
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLimit = r.URL.Query().Get("limit")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"rankings": []map[string]any{
				{"expertId": "exp_b", "ranking": 1, "level": 7, "tierLabel": "Master", "rankingScore": 71.2, "creditsPerMinute": 400},
				{"expertId": "exp_a", "ranking": 2, "level": 3, "tierLabel": "Rising Star", "rankingScore": 30, "creditsPerMinute": 200},
			},
			"count": 2,
		})
	}))
	defer cleanup()

	result, err := h.HandleListRankings(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, "10", gotLimit)

	text := resultText(t, result)
	assert.Contains(t, text, "Top 2 expert(s)")
	assert.Contains(t, text, "1. exp_b  Lv.7 Master  71.2 pts  400 credits/min")
	assert.True(t, strings.Index(text, "exp_b") < strings.Index(text, "exp_a"))
}

func TestHandleListRankings_Empty(t *testing.T) {
	h, cleanup := newTestSetup(jsonHandler(t, http.MethodGet, "/v1/rankings", map[string]any{"rankings": []any{}, "count": 0}))
	defer cleanup()

	result, err := h.HandleListRankings(context.Background(), makeRequest(map[string]any{"limit": float64(5)}))
	require.NoError(t, err)
	assert.Equal(t, "No ranked experts yet.", resultText(t, result))
}

// ============================================================
// Every handler degrades to an error result
// ============================================================

func TestHandlers_UnreachableServer(t *testing.T) {
	h := NewHandlers(NewClient(Config{APIURL: "http://127.0.0.1:1", APIKey: "k"}))

	tests := []struct {
		name string
		fn   func() (*mcp.CallToolResult, error)
	}{
		{"CheckUsage", func() (*mcp.CallToolResult, error) {
			return h.HandleCheckUsage(context.Background(), makeRequest(nil))
		}},
		{"RecordTurn", func() (*mcp.CallToolResult, error) {
			return h.HandleRecordTurn(context.Background(), makeRequest(map[string]any{"tokens": float64(900)}))
		}},
		{"GetExpertLevel", func() (*mcp.CallToolResult, error) {
			return h.HandleGetExpertLevel(context.Background(), makeRequest(map[string]any{"expert_id": "exp_1"}))
		}},
		{"QuoteSession", func() (*mcp.CallToolResult, error) {
			return h.HandleQuoteSession(context.Background(), makeRequest(map[string]any{"expert_id": "exp_1", "minutes": float64(5)}))
		}},
		{"ListRankings", func() (*mcp.CallToolResult, error) {
			return h.HandleListRankings(context.Background(), makeRequest(nil))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tt.fn()
			assert.NoError(t, err, "handler should never return Go error")
			assert.NotNil(t, result, "handler should always return a result")
			assert.True(t, result.IsError, "unreachable server should produce isError result")
		})
	}
}

func TestNewMCPServer(t *testing.T) {
	s := NewMCPServer(Config{APIURL: "http://localhost:8080", APIKey: "k"})
	require.NotNil(t, s)

	names := map[string]bool{}
	for _, tool := range []mcp.Tool{ToolCheckUsage, ToolRecordTurn, ToolGetExpertLevel, ToolQuoteSession, ToolListRankings} {
		names[tool.Name] = true
	}
	assert.Len(t, names, 5)
	assert.True(t, names["check_usage"])
	assert.True(t, names["record_turn"])
}

func TestNewClient_Timeout(t *testing.T) {
	assert.Equal(t, defaultTimeout, NewClient(Config{}).httpClient.Timeout)
	assert.Equal(t, 5*time.Second, NewClient(Config{Timeout: 5 * time.Second}).httpClient.Timeout)
}

func TestNewMCPServer_RegistersTools(t *testing.T) {
	assert.NotNil(t, NewMCPServer(Config{APIURL: "http://localhost:8080"}))
}
