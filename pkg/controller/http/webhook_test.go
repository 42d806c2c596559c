package http_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	controller "github.com/m-mizutani/drover/pkg/controller/http"

	githubcontroller "github.com/m-mizutani/drover/pkg/controller/github"
	"github.com/m-mizutani/drover/pkg/domain/model"
	"github.com/m-mizutani/drover/pkg/domain/types"
)

// generateSignature generates HMAC-SHA256 signature for testing
func generateSignature(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// mockWebhookUseCase records processed events
type mockWebhookUseCase struct {
	processEventFunc func(ctx context.Context, event *model.WebhookEvent, src *model.SourceRef) error
	calls            []mockWebhookCall
}

type mockWebhookCall struct {
	Event *model.WebhookEvent
	Src   *model.SourceRef
}

func (m *mockWebhookUseCase) ProcessEvent(ctx context.Context, event *model.WebhookEvent, src *model.SourceRef) error {
	m.calls = append(m.calls, mockWebhookCall{Event: event, Src: src})
	if m.processEventFunc != nil {
		return m.processEventFunc(ctx, event, src)
	}
	return nil
}

// stubRunUseCase satisfies RunUseCase for tests that never read runs
type stubRunUseCase struct{}

func (s *stubRunUseCase) ExecuteRun(ctx context.Context, run *model.Run, job *model.Job, src *model.SourceRef) error {
	return nil
}

func (s *stubRunUseCase) GetRun(ctx context.Context, id types.RunID) (*model.Run, error) {
	return nil, errors.New("not implemented")
}

func (s *stubRunUseCase) ListRuns(ctx context.Context, q *model.RunQuery) ([]*model.Run, error) {
	return nil, nil
}

func (s *stubRunUseCase) ListArtifacts(ctx context.Context, runID types.RunID) ([]*model.Artifact, error) {
	return nil, nil
}

func (s *stubRunUseCase) OpenArtifact(ctx context.Context, id types.ArtifactID) (*model.Artifact, io.ReadCloser, error) {
	return nil, nil, errors.New("not implemented")
}

func (s *stubRunUseCase) SweepExpiredArtifacts(ctx context.Context) (int, error) {
	return 0, nil
}

// pushPayload builds a minimal push event body that passes extraction
func pushPayload() map[string]interface{} {
	return map[string]interface{}{
		"ref":     "refs/heads/main",
		"after":   "abc123def4567890abc123def4567890abc123de",
		"deleted": false,
		"repository": map[string]interface{}{
			"name":      "widgets",
			"full_name": "octo/widgets",
			"owner": map[string]interface{}{
				"login": "octo",
			},
		},
		"sender": map[string]interface{}{
			"login": "dev",
		},
	}
}

func TestWebhookHandler_SignatureVerification(t *testing.T) {
	secret := "test-secret"

	validPayload, _ := json.Marshal(pushPayload())

	tests := []struct {
		name           string
		payload        []byte
		signature      string
		wantStatusCode int
	}{
		{
			name:           "Valid signature",
			payload:        validPayload,
			signature:      "", // Will be generated
			wantStatusCode: http.StatusOK,
		},
		{
			name:           "Invalid signature",
			payload:        []byte(`{"ref":"refs/heads/main"}`),
			signature:      "sha256=invalid",
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:           "Missing signature",
			payload:        []byte(`{"ref":"refs/heads/main"}`),
			signature:      "",
			wantStatusCode: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uc := &mockWebhookUseCase{}
			processor := githubcontroller.NewEventProcessor(uc)
			handler := controller.NewWebhookHandler(secret, processor)

			signature := tt.signature
			if signature == "" && tt.wantStatusCode == http.StatusOK {
				signature = generateSignature(secret, tt.payload)
			}

			req := httptest.NewRequest(http.MethodPost, "/hooks/github/app", bytes.NewReader(tt.payload))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-GitHub-Event", "push")
			req.Header.Set("X-GitHub-Delivery", "test-delivery")
			req.Header.Set("X-Hub-Signature-256", signature)

			w := httptest.NewRecorder()
			handler.Handle(w, req)

			if w.Code != tt.wantStatusCode {
				t.Errorf("Handle() status = %v, want %v", w.Code, tt.wantStatusCode)
			}
		})
	}
}

func TestWebhookHandler_EventParsing(t *testing.T) {
	secret := "test-secret"

	tests := []struct {
		name           string
		eventType      string
		payload        map[string]interface{}
		ucErr          error
		wantStatusCode int
		wantCalls      int
	}{
		{
			name:           "Push event",
			eventType:      "push",
			payload:        pushPayload(),
			wantStatusCode: http.StatusOK,
			wantCalls:      1,
		},
		{
			name:      "Ping event",
			eventType: "ping",
			payload: map[string]interface{}{
				"zen":     "Keep it logically awesome.",
				"hook_id": 1,
			},
			wantStatusCode: http.StatusOK,
			wantCalls:      0,
		},
		{
			name:           "Processing failure",
			eventType:      "push",
			payload:        pushPayload(),
			ucErr:          errors.New("boom"),
			wantStatusCode: http.StatusInternalServerError,
			wantCalls:      1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uc := &mockWebhookUseCase{}
			if tt.ucErr != nil {
				uc.processEventFunc = func(ctx context.Context, event *model.WebhookEvent, src *model.SourceRef) error {
					return tt.ucErr
				}
			}
			processor := githubcontroller.NewEventProcessor(uc)
			handler := controller.NewWebhookHandler(secret, processor)

			payloadBytes, _ := json.Marshal(tt.payload)
			signature := generateSignature(secret, payloadBytes)

			req := httptest.NewRequest(http.MethodPost, "/hooks/github/app", bytes.NewReader(payloadBytes))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-GitHub-Event", tt.eventType)
			req.Header.Set("X-GitHub-Delivery", "test-delivery")
			req.Header.Set("X-Hub-Signature-256", signature)

			w := httptest.NewRecorder()
			handler.Handle(w, req)

			if w.Code != tt.wantStatusCode {
				t.Errorf("Handle() status = %v, want %v, body = %s", w.Code, tt.wantStatusCode, w.Body.String())
			}

			if len(uc.calls) != tt.wantCalls {
				t.Errorf("ProcessEvent calls = %v, want %v", len(uc.calls), tt.wantCalls)
			}

			if tt.wantStatusCode == http.StatusOK {
				var response map[string]string
				if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
					t.Errorf("Failed to decode response: %v", err)
				}
				if response["status"] != "success" {
					t.Errorf("Response status = %v, want success", response["status"])
				}
			}
		})
	}
}

func TestWebhookHandler_MalformedPayload(t *testing.T) {
	secret := "test-secret"
	uc := &mockWebhookUseCase{}
	handler := controller.NewWebhookHandler(secret, githubcontroller.NewEventProcessor(uc))

	payload := []byte(`{"ref": "refs/heads/main"`)
	signature := generateSignature(secret, payload)

	req := httptest.NewRequest(http.MethodPost, "/hooks/github/app", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", "push")
	req.Header.Set("X-GitHub-Delivery", "test-delivery")
	req.Header.Set("X-Hub-Signature-256", signature)

	w := httptest.NewRecorder()
	handler.Handle(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Handle() status = %v, want %v", w.Code, http.StatusBadRequest)
	}

	if len(uc.calls) != 0 {
		t.Errorf("ProcessEvent calls = %v, want 0", len(uc.calls))
	}
}

func TestWebhookHandler_Integration(t *testing.T) {
	ctx := context.Background()
	secret := "integration-test-secret"
	uc := &mockWebhookUseCase{}
	processor := githubcontroller.NewEventProcessor(uc)

	server, err := controller.NewServer(
		ctx,
		processor,
		&stubRunUseCase{},
		controller.WithAddr("localhost:0"),
		controller.WithWebhookSecret(secret),
	)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	ts := httptest.NewServer(server.Handler)
	defer ts.Close()

	payloadBytes, _ := json.Marshal(pushPayload())
	signature := generateSignature(secret, payloadBytes)

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/hooks/github/app", bytes.NewReader(payloadBytes))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", "push")
	req.Header.Set("X-GitHub-Delivery", "integration-test")
	req.Header.Set("X-Hub-Signature-256", signature)

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}
	defer func() {
		_ = resp.Body.Close() // Error ignored in test
	}()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Status code = %v, want %v", resp.StatusCode, http.StatusOK)
	}

	if len(uc.calls) != 1 {
		t.Fatalf("ProcessEvent calls = %v, want 1", len(uc.calls))
	}
	if got := uc.calls[0].Event.Repository; got != "octo/widgets" {
		t.Errorf("Event repository = %v, want octo/widgets", got)
	}
	if got := uc.calls[0].Src.CommitSHA; got != "abc123def4567890abc123def4567890abc123de" {
		t.Errorf("Commit SHA = %v, want push head", got)
	}
}
