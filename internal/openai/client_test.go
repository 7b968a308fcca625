package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"testing"
)

const testSchemaJSON = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["score", "advice"],
  "properties": {
    "score": { "type": "integer" },
    "advice": { "type": "string" }
  }
}`

func TestCompleteUsesStrictSchema(t *testing.T) {
	t.Parallel()

	doer := &fakeHTTPDoer{
		statusCode: http.StatusOK,
		body:       `{"choices":[{"message":{"content":` + strconv.Quote(`{"score":2,"advice":"ok"}`) + `}}]}`,
	}
	client, err := NewClient(Config{APIKey: "test-api-key", Model: "gpt-test", Temperature: 0.2}, doer)
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}

	content, err := client.Complete(context.Background(), Request{
		System:     "system text",
		User:       "user text",
		SchemaName: "test_schema",
		Schema:     MustParseSchema(testSchemaJSON),
	})
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if got, want := content, `{"score":2,"advice":"ok"}`; got != want {
		t.Fatalf("content got %q want %q", got, want)
	}

	if got, want := doer.authorization, "Bearer test-api-key"; got != want {
		t.Fatalf("authorization got %q want %q", got, want)
	}
	if got, want := doer.url, DefaultBaseURL+"/chat/completions"; got != want {
		t.Fatalf("url got %q want %q", got, want)
	}

	var payload map[string]any
	if err := json.Unmarshal(doer.requestBody, &payload); err != nil {
		t.Fatalf("decode request payload: %v", err)
	}
	if got, want := payload["model"], "gpt-test"; got != want {
		t.Fatalf("model got %v want %v", got, want)
	}
	if got, want := payload["temperature"], 0.2; got != want {
		t.Fatalf("temperature got %v want %v", got, want)
	}

	messages, ok := payload["messages"].([]any)
	if !ok || len(messages) != 2 {
		t.Fatalf("messages got %v want 2 entries", payload["messages"])
	}

	responseFormat, ok := payload["response_format"].(map[string]any)
	if !ok {
		t.Fatalf("response_format missing in request")
	}
	if got, want := responseFormat["type"], "json_schema"; got != want {
		t.Fatalf("response_format.type got %v want %v", got, want)
	}
	jsonSchema, ok := responseFormat["json_schema"].(map[string]any)
	if !ok {
		t.Fatalf("response_format.json_schema missing in request")
	}
	if got, want := jsonSchema["name"], "test_schema"; got != want {
		t.Fatalf("json_schema.name got %v want %v", got, want)
	}
	if got, want := jsonSchema["strict"], true; got != want {
		t.Fatalf("json_schema.strict got %v want %v", got, want)
	}
}

func TestCompleteAcceptsContentParts(t *testing.T) {
	t.Parallel()

	doer := &fakeHTTPDoer{
		statusCode: http.StatusOK,
		body:       `{"choices":[{"message":{"content":[{"type":"text","text":"{\"score\":"},{"type":"text","text":"4,\"advice\":\"x\"}"}]}}]}`,
	}
	client, err := NewClient(Config{APIKey: "k"}, doer)
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}

	content, err := client.Complete(context.Background(), Request{User: "u", SchemaName: "s", Schema: MustParseSchema(testSchemaJSON)})
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if got, want := content, `{"score":4,"advice":"x"}`; got != want {
		t.Fatalf("content got %q want %q", got, want)
	}
}

func TestCompleteReportsFailures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		statusCode int
		body       string
		wantErr    string
	}{
		{name: "api error", statusCode: http.StatusUnauthorized, body: `{"error":{"message":"bad key"}}`, wantErr: "openai status 401: bad key"},
		{name: "no choices", statusCode: http.StatusOK, body: `{"choices":[]}`, wantErr: "no choices"},
		{name: "refusal", statusCode: http.StatusOK, body: `{"choices":[{"message":{"content":null,"refusal":"no"}}]}`, wantErr: "refusal"},
		{name: "not an object", statusCode: http.StatusOK, body: `{"choices":[{"message":{"content":"plain text"}}]}`, wantErr: "not valid json object"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			client, err := NewClient(Config{APIKey: "k"}, &fakeHTTPDoer{statusCode: tc.statusCode, body: tc.body})
			if err != nil {
				t.Fatalf("NewClient error: %v", err)
			}
			_, err = client.Complete(context.Background(), Request{User: "u", SchemaName: "s", Schema: MustParseSchema(testSchemaJSON)})
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error got %v want containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{APIKey: "  "}, nil)
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("error got %v want %v", err, ErrMissingAPIKey)
	}
}

func TestCheckStrictSchemaRejectsOptionalProperties(t *testing.T) {
	t.Parallel()

	var schema map[string]any
	if err := json.Unmarshal([]byte(`{
		"type":"object",
		"additionalProperties":false,
		"required":["a"],
		"properties":{"a":{"type":"string"},"b":{"type":"string"}}
	}`), &schema); err != nil {
		t.Fatalf("decode schema: %v", err)
	}
	if err := CheckStrictSchema(schema); err == nil {
		t.Fatalf("expected error for optional property")
	}
}

type fakeHTTPDoer struct {
	statusCode    int
	body          string
	requestBody   []byte
	authorization string
	url           string
}

func (f *fakeHTTPDoer) Do(req *http.Request) (*http.Response, error) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	f.requestBody = append([]byte(nil), body...)
	f.authorization = req.Header.Get("Authorization")
	f.url = req.URL.String()

	return &http.Response{
		StatusCode: f.statusCode,
		Body:       io.NopCloser(strings.NewReader(f.body)),
		Header:     make(http.Header),
	}, nil
}
