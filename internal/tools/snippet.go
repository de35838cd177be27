package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"snipbridge/internal/llm/core"
)

const (
	HelloToolName       = "hello_mcp"
	GetSnippetToolName  = "get_snippet"
	SaveSnippetToolName = "save_snippet"

	// HelloContent is the fixed greeting returned by the health tool.
	HelloContent = "Hello I am MCPTool!"

	MsgNoArguments       = "No arguments provided"
	MsgMissingArguments  = "Missing required arguments"
	MsgNoSnippetName     = "No snippet name provided"
	MsgNoSnippetContent  = "No snippet content provided"
	snippetNameArgument  = "snippetname"
	snippetValueArgument = "snippet"
)

// SnippetStore is the persistence the snippet tools delegate to.
type SnippetStore interface {
	Fetch(ctx context.Context, name string) (string, error)
	Save(ctx context.Context, name, content string) error
}

type getSnippetArgs struct {
	SnippetName string `json:"snippetname" jsonschema_description:"The name of the snippet to retrieve."`
}

type saveSnippetArgs struct {
	SnippetName string `json:"snippetname" jsonschema_description:"The name of the snippet."`
	Snippet     string `json:"snippet" jsonschema_description:"The content of the snippet."`
}

type helloArgs struct{}

var (
	getSnippetSpec = core.MustToolSpecFromStruct(
		GetSnippetToolName,
		"Retrieve a previously saved code snippet by name.",
		getSnippetArgs{},
	)
	saveSnippetSpec = core.MustToolSpecFromStruct(
		SaveSnippetToolName,
		"Save a code snippet under a name, overwriting any snippet with the same name.",
		saveSnippetArgs{},
	)
	helloSpec = core.MustToolSpecFromStruct(
		HelloToolName,
		"Health check that returns a fixed greeting.",
		helloArgs{},
	)
)

// AgentToolSpecs describes the tools an agent may call. The health tool is not among them.
func AgentToolSpecs() []core.ToolSpec {
	return []core.ToolSpec{getSnippetSpec, saveSnippetSpec}
}

// NewSnippetRegistry registers the health tool and both snippet tools.
func NewSnippetRegistry(store SnippetStore) *Registry {
	return NewRegistry(
		HelloTool{},
		NewGetSnippetTool(store),
		NewSaveSnippetTool(store),
	)
}

// HelloTool answers with a fixed greeting and has no side effects.
type HelloTool struct{}

func (HelloTool) Name() string            { return HelloToolName }
func (HelloTool) Description() string     { return helloSpec.Description }
func (HelloTool) Schema() json.RawMessage { return helloSpec.Schema }

func (HelloTool) Execute(context.Context, json.RawMessage) (Result, error) {
	return Result{Content: HelloContent}, nil
}

// GetSnippetTool fetches a snippet by name.
type GetSnippetTool struct {
	store SnippetStore
}

// NewGetSnippetTool constructs the fetch tool over store.
func NewGetSnippetTool(store SnippetStore) GetSnippetTool {
	return GetSnippetTool{store: store}
}

func (GetSnippetTool) Name() string            { return GetSnippetToolName }
func (GetSnippetTool) Description() string     { return getSnippetSpec.Description }
func (GetSnippetTool) Schema() json.RawMessage { return getSnippetSpec.Schema }

func (t GetSnippetTool) Execute(ctx context.Context, raw json.RawMessage) (Result, error) {
	args, ok, err := parseArguments(raw)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, argumentError(MsgNoSnippetName)
	}
	name, present := stringField(args, snippetNameArgument)
	if !present || name == "" {
		return Result{}, argumentError(MsgNoSnippetName)
	}

	content, err := t.store.Fetch(ctx, name)
	if err != nil {
		return Result{}, err
	}
	return Result{Content: content}, nil
}

// SaveSnippetTool stores a snippet, overwriting any previous content.
type SaveSnippetTool struct {
	store SnippetStore
}

// NewSaveSnippetTool constructs the store tool over store.
func NewSaveSnippetTool(store SnippetStore) SaveSnippetTool {
	return SaveSnippetTool{store: store}
}

func (SaveSnippetTool) Name() string            { return SaveSnippetToolName }
func (SaveSnippetTool) Description() string     { return saveSnippetSpec.Description }
func (SaveSnippetTool) Schema() json.RawMessage { return saveSnippetSpec.Schema }

func (t SaveSnippetTool) Execute(ctx context.Context, raw json.RawMessage) (Result, error) {
	args, ok, err := parseArguments(raw)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, argumentError(MsgNoArguments)
	}

	name, namePresent := stringField(args, snippetNameArgument)
	content, contentPresent := stringField(args, snippetValueArgument)
	switch {
	case !namePresent && !contentPresent:
		return Result{}, argumentError(MsgMissingArguments)
	case !namePresent || name == "":
		return Result{}, argumentError(MsgNoSnippetName)
	case !contentPresent || content == "":
		return Result{}, argumentError(MsgNoSnippetContent)
	}

	if err := t.store.Save(ctx, name, content); err != nil {
		return Result{}, err
	}
	return Result{Content: fmt.Sprintf("Snippet '%s' saved successfully", content)}, nil
}
