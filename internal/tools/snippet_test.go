package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"snipbridge/internal/llm/core"
	"snipbridge/internal/objectstore"
	"snipbridge/internal/snippet"
)

type fakeSnippetStore struct {
	mu       sync.Mutex
	data     map[string]string
	calls    int
	fetchErr error
	saveErr  error
}

func newFakeSnippetStore() *fakeSnippetStore {
	return &fakeSnippetStore{data: map[string]string{}}
}

func (f *fakeSnippetStore) Fetch(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fetchErr != nil {
		return "", f.fetchErr
	}
	content, ok := f.data[name]
	if !ok {
		return "Snippet not found", nil
	}
	return content, nil
}

func (f *fakeSnippetStore) Save(_ context.Context, name, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.saveErr != nil {
		return f.saveErr
	}
	f.data[name] = content
	return nil
}

func TestHelloTool(t *testing.T) {
	t.Parallel()

	got, err := HelloTool{}.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got.Content != "Hello I am MCPTool!" {
		t.Fatalf("Execute().Content = %q, want greeting", got.Content)
	}
}

func TestGetSnippetValidation(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"absent":         ``,
		"null":           `null`,
		"not an object":  `"snippet1"`,
		"missing key":    `{"snippet":"x"}`,
		"empty name":     `{"snippetname":""}`,
		"non-string":     `{"snippetname":42}`,
		"null name":      `{"snippetname":null}`,
		"unrelated keys": `{}`,
	}
	for name, raw := range cases {
		store := newFakeSnippetStore()
		_, err := NewGetSnippetTool(store).Execute(context.Background(), json.RawMessage(raw))

		var argErr *ArgumentError
		if !errors.As(err, &argErr) {
			t.Fatalf("%s: Execute() error = %v, want ArgumentError", name, err)
		}
		if argErr.Message != MsgNoSnippetName {
			t.Fatalf("%s: message = %q, want %q", name, argErr.Message, MsgNoSnippetName)
		}
		if store.calls != 0 {
			t.Fatalf("%s: store was called %d times, want 0", name, store.calls)
		}
	}
}

func TestGetSnippetReturnsContentVerbatim(t *testing.T) {
	t.Parallel()

	store := newFakeSnippetStore()
	store.data["snippet1"] = "print('Hello, World!')\n"
	tool := NewGetSnippetTool(store)

	got, err := tool.Execute(context.Background(), json.RawMessage(`{"snippetname":"snippet1"}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got.Content != "print('Hello, World!')\n" {
		t.Fatalf("Execute().Content = %q, want stored content", got.Content)
	}

	got, err = tool.Execute(context.Background(), json.RawMessage(`{"snippetname":"missing"}`))
	if err != nil {
		t.Fatalf("Execute(missing) error = %v", err)
	}
	if got.Content != "Snippet not found" {
		t.Fatalf("Execute(missing).Content = %q, want sentinel", got.Content)
	}
}

func TestGetSnippetPassesBackendError(t *testing.T) {
	t.Parallel()

	store := newFakeSnippetStore()
	store.fetchErr = errors.New("connection reset")

	_, err := NewGetSnippetTool(store).Execute(context.Background(), json.RawMessage(`{"snippetname":"a"}`))
	if err == nil || IsArgumentError(err) {
		t.Fatalf("Execute() error = %v, want backend error", err)
	}
	if !errors.Is(err, store.fetchErr) {
		t.Fatalf("Execute() error = %v, want wrapped backend error", err)
	}
}

func TestSaveSnippetValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
		want string
	}{
		{name: "absent", raw: ``, want: MsgNoArguments},
		{name: "null", raw: `null`, want: MsgNoArguments},
		{name: "array", raw: `[1]`, want: MsgNoArguments},
		{name: "both missing", raw: `{}`, want: MsgMissingArguments},
		{name: "name missing", raw: `{"snippet":"print(1)"}`, want: MsgNoSnippetName},
		{name: "content missing", raw: `{"snippetname":"a"}`, want: MsgNoSnippetContent},
		{name: "empty name", raw: `{"snippetname":"","snippet":"x"}`, want: MsgNoSnippetName},
		{name: "empty content", raw: `{"snippetname":"a","snippet":""}`, want: MsgNoSnippetContent},
		{name: "both empty", raw: `{"snippetname":"","snippet":""}`, want: MsgNoSnippetName},
		{name: "non-string content", raw: `{"snippetname":"a","snippet":{"x":1}}`, want: MsgNoSnippetContent},
	}
	for _, tc := range cases {
		store := newFakeSnippetStore()
		_, err := NewSaveSnippetTool(store).Execute(context.Background(), json.RawMessage(tc.raw))

		var argErr *ArgumentError
		if !errors.As(err, &argErr) {
			t.Fatalf("%s: Execute() error = %v, want ArgumentError", tc.name, err)
		}
		if argErr.Message != tc.want {
			t.Fatalf("%s: message = %q, want %q", tc.name, argErr.Message, tc.want)
		}
		if store.calls != 0 {
			t.Fatalf("%s: store was called %d times, want 0", tc.name, store.calls)
		}
	}
}

func TestSaveSnippetConfirmsAndStores(t *testing.T) {
	t.Parallel()

	store := newFakeSnippetStore()
	got, err := NewSaveSnippetTool(store).Execute(context.Background(),
		json.RawMessage(`{"snippetname":"snippet1","snippet":"print('Hello, World!')"}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if want := "Snippet 'print('Hello, World!')' saved successfully"; got.Content != want {
		t.Fatalf("Execute().Content = %q, want %q", got.Content, want)
	}
	if store.data["snippet1"] != "print('Hello, World!')" {
		t.Fatalf("stored content = %q", store.data["snippet1"])
	}
}

func TestMalformedArgumentsAreNotClientErrors(t *testing.T) {
	t.Parallel()

	_, err := NewSaveSnippetTool(newFakeSnippetStore()).Execute(context.Background(), json.RawMessage(`{"snippetname":`))
	if !errors.Is(err, ErrMalformedArguments) {
		t.Fatalf("Execute() error = %v, want ErrMalformedArguments", err)
	}
	if IsArgumentError(err) {
		t.Fatalf("malformed JSON must not be reported as an argument error")
	}
}

func TestSnippetRegistryAndAgentSpecs(t *testing.T) {
	t.Parallel()

	reg := NewSnippetRegistry(newFakeSnippetStore())
	names := reg.Names()
	want := []string{GetSnippetToolName, HelloToolName, SaveSnippetToolName}
	if len(names) != len(want) {
		t.Fatalf("Names() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("Names()[%d] = %q, want %q", i, names[i], want[i])
		}
	}

	specs := AgentToolSpecs()
	if len(specs) != 2 || specs[0].Name != GetSnippetToolName || specs[1].Name != SaveSnippetToolName {
		t.Fatalf("AgentToolSpecs() = %+v, want get_snippet and save_snippet only", specs)
	}
	schema, err := core.ParseToolSchema(specs[1].Schema)
	if err != nil {
		t.Fatalf("ParseToolSchema() error = %v", err)
	}
	for _, key := range []string{"snippetname", "snippet"} {
		if _, ok := schema.Properties[key]; !ok {
			t.Fatalf("save_snippet schema missing %q: %s", key, specs[1].Schema)
		}
	}
	if len(schema.Required) != 2 {
		t.Fatalf("save_snippet required = %v, want both fields", schema.Required)
	}
}

type brokenObjects struct {
	*objectstore.Memory
}

func (brokenObjects) Put(context.Context, string, string, []byte) error {
	return errors.New("disk full")
}

func TestSaveSnippetBackendErrorNamesSnippetOnce(t *testing.T) {
	t.Parallel()

	store, err := snippet.NewStore(brokenObjects{Memory: objectstore.NewMemory()}, "")
	if err != nil {
		t.Fatalf("snippet.NewStore() error = %v", err)
	}
	_, err = NewSaveSnippetTool(store).Execute(context.Background(), json.RawMessage(`{"snippetname":"snippet1","snippet":"x"}`))
	if err == nil {
		t.Fatalf("Execute() error = nil, want backend error")
	}
	if got := strings.Count(err.Error(), "save snippet"); got != 1 {
		t.Fatalf("error %q names the snippet %d times, want 1", err, got)
	}
}
