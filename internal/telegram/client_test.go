package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// newTestClient points a client at a fake Bot API server.
func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("test-token", discardLogger(), WithBaseURL(srv.URL))
}

func TestClient_SendMessage(t *testing.T) {
	t.Parallel()

	var gotPath string
	var gotParams sendMessageParams
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotParams)
		json.NewEncoder(w).Encode(map[string]any{
			"ok":     true,
			"result": map[string]any{"message_id": 42, "chat": map[string]any{"id": 100}},
		})
	})

	markup := InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{{
		{Text: "✅ Allow", CallbackData: "id:allow"},
	}}}
	messageID, err := client.SendMessage(context.Background(), 100, "<b>hi</b>", "HTML", markup)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if messageID != 42 {
		t.Errorf("message ID = %d, want 42", messageID)
	}
	if gotPath != "/bottest-token/sendMessage" {
		t.Errorf("path = %q", gotPath)
	}
	if gotParams.ChatID != 100 || gotParams.Text != "<b>hi</b>" || gotParams.ParseMode != "HTML" {
		t.Errorf("params = %+v", gotParams)
	}
}

func TestClient_APIError(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"ok":          false,
			"error_code":  400,
			"description": "Bad Request: message is too long",
		})
	})

	_, err := client.SendMessage(context.Background(), 1, "x", "", nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Code != 400 || !strings.Contains(apiErr.Description, "too long") {
		t.Errorf("apiErr = %+v", apiErr)
	}
	// The bot token must never leak into error strings.
	if strings.Contains(err.Error(), "test-token") {
		t.Errorf("token leaked into error: %v", err)
	}
}

func TestClient_GetUpdates(t *testing.T) {
	t.Parallel()

	var gotParams getUpdatesParams
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotParams)
		json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"result": []map[string]any{
				{
					"update_id": 7,
					"callback_query": map[string]any{
						"id":      "cb1",
						"data":    "payload",
						"message": map[string]any{"message_id": 5, "chat": map[string]any{"id": 100}},
					},
				},
				{
					"update_id": 8,
					"message":   map[string]any{"message_id": 6, "chat": map[string]any{"id": 100}, "text": "hello"},
				},
			},
		})
	})

	updates, err := client.GetUpdates(context.Background(), 3)
	if err != nil {
		t.Fatalf("GetUpdates: %v", err)
	}
	if gotParams.Offset != 3 {
		t.Errorf("offset = %d, want 3", gotParams.Offset)
	}
	if len(gotParams.AllowedUpdates) != 2 {
		t.Errorf("allowed_updates = %v", gotParams.AllowedUpdates)
	}
	if len(updates) != 2 {
		t.Fatalf("updates = %d, want 2", len(updates))
	}
	if updates[0].CallbackQuery == nil || updates[0].CallbackQuery.Data != "payload" {
		t.Errorf("first update = %+v", updates[0])
	}
	if updates[1].Message == nil || updates[1].Message.Text != "hello" {
		t.Errorf("second update = %+v", updates[1])
	}
}

func TestClient_EditAndDeleteAndAck(t *testing.T) {
	t.Parallel()

	var methods []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		methods = append(methods, parts[len(parts)-1])
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": true})
	})
	ctx := context.Background()

	if err := client.EditMessageText(ctx, 100, 5, "updated", "HTML"); err != nil {
		t.Errorf("EditMessageText: %v", err)
	}
	if err := client.DeleteMessage(ctx, 100, 5); err != nil {
		t.Errorf("DeleteMessage: %v", err)
	}
	if err := client.AnswerCallbackQuery(ctx, "cb1", "done", false); err != nil {
		t.Errorf("AnswerCallbackQuery: %v", err)
	}

	want := []string{"editMessageText", "deleteMessage", "answerCallbackQuery"}
	if len(methods) != len(want) {
		t.Fatalf("methods = %v, want %v", methods, want)
	}
	for i := range want {
		if methods[i] != want[i] {
			t.Errorf("method[%d] = %q, want %q", i, methods[i], want[i])
		}
	}
}
