package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/edgerun/inferedge/internal/apperr"
	"github.com/edgerun/inferedge/internal/inference"
	"github.com/edgerun/inferedge/internal/plugin"
	"github.com/edgerun/inferedge/internal/store"
)

// Pipeline wires together the inference actor, plugin subsystem, and
// conversation store into the single request-handling path behind
// POST /v1/chat/completions.
type Pipeline struct {
	actor    *inference.Actor
	registry *plugin.Registry
	runner   *plugin.Runner
	store    *store.Store
	log      *slog.Logger
}

// New builds a pipeline from its collaborators. store may be nil, in
// which case persistence is skipped.
func New(actor *inference.Actor, registry *plugin.Registry, runner *plugin.Runner, st *store.Store, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{actor: actor, registry: registry, runner: runner, store: st, log: log}
}

// Handle validates, dispatches, persists, and formats one chat
// completion request.
func (p *Pipeline) Handle(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if len(req.Messages) == 0 {
		return ChatResponse{}, apperr.New(apperr.CodeInvalidRequest, "messages must not be empty")
	}
	if req.Stream {
		return ChatResponse{}, apperr.New(apperr.CodeInvalidRequest, "stream=true is not supported")
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	lastUser, ok := lastUserMessage(req.Messages)
	if !ok {
		return ChatResponse{}, apperr.New(apperr.CodeInvalidRequest, "no user message found")
	}

	command, arg, isCommand := extractCommand(lastUser)

	var content string
	switch {
	case isCommand && command == "help":
		content = p.helpText()
	case isCommand:
		content = p.dispatchCommand(ctx, command, arg)
	default:
		var err error
		content, err = p.runInference(ctx, req)
		if err != nil {
			return ChatResponse{}, err
		}
	}

	p.persist(ctx, sessionID, lastUser, content, req.Model)

	return p.buildResponse(req.Model, content), nil
}

// lastUserMessage walks the message list in reverse and returns the
// most recent role="user" message, trimmed.
func lastUserMessage(messages []Message) (string, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return strings.TrimSpace(messages[i].Content), true
		}
	}
	return "", false
}

// extractCommand recognizes a slash-command: the trimmed message must
// start with '/' and have at least one character after it. The head
// (lowercased) is the command; the tail (trimmed) is the argument
// string. A lone "/" is not a command.
func extractCommand(message string) (command, arg string, ok bool) {
	message = strings.TrimSpace(message)
	if !strings.HasPrefix(message, "/") {
		return "", "", false
	}
	rest := message[1:]
	if rest == "" {
		return "", "", false
	}
	head, tail, found := strings.Cut(rest, " ")
	if !found {
		head = rest
		tail = ""
	}
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), strings.TrimSpace(tail), true
}

func (p *Pipeline) helpText() string {
	cmds := p.registry.Commands()
	var b strings.Builder
	b.WriteString("**Available commands:**\n")
	for _, c := range cmds {
		fmt.Fprintf(&b, "- `/%s` — %s\n", c.Alias, c.Description)
	}
	return b.String()
}

// dispatchCommand resolves command against the registry and either
// invokes its plugin or returns an unknown-command message. Runner
// errors and plugin-reported failures are both turned into a
// user-visible warning rather than an HTTP error — a flaky plugin must
// never abort the chat.
func (p *Pipeline) dispatchCommand(ctx context.Context, command, arg string) string {
	manifest, ok := p.registry.Resolve(command)
	if !ok {
		return fmt.Sprintf(":warning: Unknown command: /%s. Type /help for a list of available commands.", command)
	}

	payload := buildPayload(manifest, command, arg)

	// Run enforces its own polled deadline (plugin.Timeout); passing
	// ctx through unwrapped lets that be the sole source of a timeout
	// error instead of racing an identical-duration wrapper here,
	// which would always win since it closes instantly at its
	// deadline instead of being polled.
	resp, err := p.runner.Run(ctx, manifest.Name, plugin.Request{Action: manifest.DefaultAction, Payload: payload})
	if err != nil {
		p.log.Warn("plugin invocation failed", "plugin", manifest.Name, "error", err)
		return fmt.Sprintf(":warning: Plugin %q failed: %v", manifest.Name, err)
	}
	if !resp.Success {
		msg := "unknown error"
		if resp.Error != nil {
			msg = *resp.Error
		}
		return fmt.Sprintf(":warning: Plugin %q reported an error: %s", manifest.Name, msg)
	}
	return formatResult(manifest.Name, resp.Result)
}

// buildPayload constructs the JSON payload sent to a plugin. When the
// manifest requests it and the argument string is non-empty, the
// argument is broadcast under several well-known keys simultaneously
// (args, city, expression, path) alongside command, so diverse plugins
// can consume the same forwarded text without per-command plumbing.
func buildPayload(manifest plugin.Manifest, command, arg string) map[string]interface{} {
	payload := map[string]interface{}{"command": command}
	if manifest.PayloadFromArgs && arg != "" {
		payload["args"] = arg
		payload["city"] = arg
		payload["expression"] = arg
		payload["path"] = arg
	}
	return payload
}

// runInference flattens the message history into a single prompt and
// submits it to the inference actor.
func (p *Pipeline) runInference(ctx context.Context, req ChatRequest) (string, error) {
	prompt := buildPrompt(req.Messages)
	inferCtx, cancel := context.WithTimeout(ctx, inferenceTimeout(ctx))
	defer cancel()
	return p.actor.Infer(inferCtx, prompt, req.maxTokens(), req.temperature())
}

// inferenceTimeout derives the actor call's deadline from ctx, falling
// back to a generous bound when ctx carries no deadline of its own so
// a misconfigured caller cannot hang forever. The HTTP handler
// normally sets ctx's deadline from the configured
// INFERENCE_TIMEOUT_SECS before calling Handle.
func inferenceTimeout(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 {
			return d
		}
	}
	return 300 * time.Second
}

// buildPrompt tags each message with a role marker and appends a
// trailing assistant marker to prime generation.
func buildPrompt(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		switch m.Role {
		case "system":
			b.WriteString("<|system|>\n")
		case "user":
			b.WriteString("<|user|>\n")
		case "assistant":
			b.WriteString("<|assistant|>\n")
		default:
			fmt.Fprintf(&b, "%s: ", m.Role)
		}
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString("<|assistant|>\n")
	return b.String()
}

func (p *Pipeline) persist(ctx context.Context, sessionID, userMsg, assistantMsg, model string) {
	if p.store == nil {
		return
	}
	err := p.store.SaveConversation(ctx, store.Turn{
		SessionID:        sessionID,
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
		Model:            model,
		CreatedAt:        time.Now(),
	})
	if err != nil {
		p.log.Error("failed to persist conversation turn", "session_id", sessionID, "error", err)
	}
}

func (p *Pipeline) buildResponse(model, content string) ChatResponse {
	tokens := estimateTokens(content)
	return ChatResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []Choice{{
			Index:        0,
			Message:      Message{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
		Usage: Usage{
			PromptTokens:     tokens,
			CompletionTokens: tokens,
			TotalTokens:      tokens * 2,
		},
	}
}
