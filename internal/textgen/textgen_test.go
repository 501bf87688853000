package textgen

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFallbackCompose(t *testing.T) {
	f := NewFallback()

	got, err := f.Compose(context.Background(), "Order #7 has been dispatched.")
	if err != nil {
		t.Fatalf("Compose error: %v", err)
	}
	if got != "Order #7 has been dispatched." {
		t.Fatalf("unexpected text: %q", got)
	}
}

func TestClientCompose_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/compose" {
			t.Fatalf("path = %s, want /api/compose", r.URL.Path)
		}

		var req composeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Prompt == "" {
			t.Fatal("empty prompt in request")
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(composeResponse{Text: "Dear customer, your order is on its way."}); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got, err := client.Compose(ctx, "Order #7 has been dispatched.")
	if err != nil {
		t.Fatalf("Compose error: %v", err)
	}
	if got != "Dear customer, your order is on its way." {
		t.Fatalf("unexpected text: %q", got)
	}
}

func TestClientCompose_DegradesToPrompt(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
		},
		{
			name: "empty text",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(composeResponse{Text: ""})
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte("not json"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(tt.handler)
			defer ts.Close()

			client := NewClient(ts.URL)

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()

			got, err := client.Compose(ctx, "Order #7 has been dispatched.")
			if err != nil {
				t.Fatalf("Compose error: %v", err)
			}
			if got != "Order #7 has been dispatched." {
				t.Fatalf("unexpected text: %q", got)
			}
		})
	}
}

func TestClientCompose_Unconfigured(t *testing.T) {
	client := NewClient("")

	got, err := client.Compose(context.Background(), "prompt text")
	if err != nil {
		t.Fatalf("Compose error: %v", err)
	}
	if got != "prompt text" {
		t.Fatalf("unexpected text: %q", got)
	}
}
