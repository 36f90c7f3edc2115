package responder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/minutes/pkg/minutes"
	"go.uber.org/zap"
)

func TestReplyForwardsHistoryWithRoles(test *testing.T) {
	test.Parallel()
	var captured chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/chat/completions" {
			test.Errorf("unexpected path %s", request.URL.Path)
		}
		if request.Header.Get("Authorization") != "Bearer sk-test" {
			test.Errorf("missing bearer token")
		}
		if err := json.NewDecoder(request.Body).Decode(&captured); err != nil {
			test.Errorf("decode request: %v", err)
		}
		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  Breathe slowly.  "}}]}`))
	}))
	test.Cleanup(server.Close)

	client := New(Config{APIKey: "sk-test", BaseURL: server.URL + "/", Model: "test-model"}, zap.NewNop())
	reply, err := client.Reply(context.Background(), []minutes.Message{
		{Content: "I can't sleep", FromUser: true},
		{Content: "Tell me more.", FromUser: false},
		{Content: "My mind races", FromUser: true},
	})
	if err != nil {
		test.Fatalf("reply: %v", err)
	}
	if reply != "Breathe slowly." {
		test.Fatalf("unexpected reply %q", reply)
	}
	if captured.Model != "test-model" || len(captured.Messages) != 4 {
		test.Fatalf("unexpected request %+v", captured)
	}
	roles := []string{captured.Messages[0].Role, captured.Messages[1].Role, captured.Messages[2].Role, captured.Messages[3].Role}
	if !slices.Equal(roles, []string{roleSystem, roleUser, roleAssistant, roleUser}) {
		test.Fatalf("unexpected roles %v", roles)
	}
}

func TestReplyFallsBackOnUpstreamFailure(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name    string
		status  int
		payload string
	}{
		{name: "server error", status: http.StatusInternalServerError, payload: `{"error":{"message":"overloaded","type":"server_error"}}`},
		{name: "empty choices", status: http.StatusOK, payload: `{"choices":[]}`},
		{name: "malformed", status: http.StatusOK, payload: `not json`},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
				writer.WriteHeader(testCase.status)
				_, _ = writer.Write([]byte(testCase.payload))
			}))
			test.Cleanup(server.Close)
			client := New(Config{APIKey: "sk-test", BaseURL: server.URL}, zap.NewNop())
			client.pick = func(int) int { return 2 }
			reply, err := client.Reply(context.Background(), []minutes.Message{{Content: "hi", FromUser: true}})
			if err != nil {
				test.Fatalf("expected fallback without error, got %v", err)
			}
			if reply != FallbackReplies[2] {
				test.Fatalf("expected fallback reply, got %q", reply)
			}
		})
	}
}

func TestReplyWithoutAPIKeyServesFallback(test *testing.T) {
	test.Parallel()
	client := New(Config{}, nil)
	reply, err := client.Reply(context.Background(), nil)
	if err != nil {
		test.Fatalf("reply: %v", err)
	}
	if !slices.Contains(FallbackReplies, reply) {
		test.Fatalf("expected one of the fallback replies, got %q", reply)
	}
	if len(FallbackReplies) != 8 {
		test.Fatalf("expected 8 fallback replies, got %d", len(FallbackReplies))
	}
}

func TestReplyHonorsCanceledContext(test *testing.T) {
	test.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		<-request.Context().Done()
	}))
	test.Cleanup(server.Close)
	client := New(Config{APIKey: "sk-test", BaseURL: server.URL, RequestTimeout: 5 * time.Second}, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := client.Reply(ctx, []minutes.Message{{Content: "hi", FromUser: true}}); err == nil {
		test.Fatalf("expected context error")
	}
}
