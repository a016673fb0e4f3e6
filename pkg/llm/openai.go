package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/config"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/httpclient"
	"github.com/MSDLLCpapers/teal-agents-sub000/pkg/protocol"
)

const defaultAPIBase = "https://api.openai.com/v1"

// OpenAIProvider speaks the OpenAI-compatible chat-completion API.
// Any endpoint accepting the same wire format works through APIBase.
type OpenAIProvider struct {
	model       string
	apiBase     string
	apiKey      string
	temperature *float64
	httpClient  *httpclient.Client
}

// NewOpenAIProvider builds a provider from the agent configuration.
// The API key comes from OPENAI_API_KEY.
func NewOpenAIProvider(agent *config.Agent) *OpenAIProvider {
	apiBase := agent.APIBase
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	return &OpenAIProvider{
		model:       agent.Model,
		apiBase:     apiBase,
		apiKey:      os.Getenv("OPENAI_API_KEY"),
		temperature: agent.Temperature,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{
				Timeout: time.Duration(agent.LLMTimeout) * time.Second,
			}),
			httpclient.WithHeaderParser(httpclient.ParseOpenAIRateLimitHeaders),
		),
	}
}

type openAIRequest struct {
	Model         string               `json:"model"`
	Messages      []openAIMessage      `json:"messages"`
	Temperature   *float64             `json:"temperature,omitempty"`
	Stream        bool                 `json:"stream"`
	StreamOptions *openAIStreamOptions `json:"stream_options,omitempty"`
	Tools         []openAITool         `json:"tools,omitempty"`
	ToolChoice    string               `json:"tool_choice,omitempty"`
}

type openAIStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    interface{}      `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAITool struct {
	Type     string             `json:"type"`
	Function openAIToolFunction `json:"function"`
}

type openAIToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type openAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openAIFunctionCall `json:"function"`
}

type openAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

type openAIResponse struct {
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
	Error   *openAIError   `json:"error,omitempty"`
}

type openAIChoice struct {
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openAIStreamResponse struct {
	Choices []openAIStreamChoice `json:"choices"`
	Usage   *openAIUsage         `json:"usage,omitempty"`
	Error   *openAIError         `json:"error,omitempty"`
}

type openAIStreamChoice struct {
	Delta        openAIDelta `json:"delta"`
	FinishReason string      `json:"finish_reason"`
}

type openAIDelta struct {
	Content   string           `json:"content,omitempty"`
	ToolCalls []openAIToolCall `json:"tool_calls,omitempty"`
}

func (p *OpenAIProvider) ModelName() string {
	return p.model
}

func (p *OpenAIProvider) buildRequest(messages []Message, tools []ToolDefinition, stream bool) openAIRequest {
	wire := make([]openAIMessage, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == RoleTool {
			wire = append(wire, openAIMessage{
				Role:       "tool",
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})
			continue
		}

		var parts []openAIContentPart
		for _, item := range msg.Items {
			switch item.Type {
			case protocol.ItemTypeText:
				parts = append(parts, openAIContentPart{Type: "text", Text: item.Text})
			case protocol.ItemTypeImage:
				if item.Image == nil {
					continue
				}
				url := item.Image.URI
				if url == "" && item.Image.Data != "" {
					url = fmt.Sprintf("data:%s;base64,%s", item.Image.MimeType, item.Image.Data)
				}
				if url != "" {
					parts = append(parts, openAIContentPart{
						Type:     "image_url",
						ImageURL: &openAIImageURL{URL: url},
					})
				}
			}
		}

		// Content stays null when there are no parts; the API rejects
		// empty content arrays on tool-call-only assistant messages.
		var content interface{}
		if len(parts) > 0 {
			content = parts
		}

		m := openAIMessage{Role: string(msg.Role), Content: content}
		if len(msg.ToolCalls) > 0 {
			m.ToolCalls = make([]openAIToolCall, len(msg.ToolCalls))
			for i, call := range msg.ToolCalls {
				args, _ := json.Marshal(call.Arguments)
				m.ToolCalls[i] = openAIToolCall{
					ID:   call.ID,
					Type: "function",
					Function: openAIFunctionCall{
						Name:      call.ToolID(),
						Arguments: string(args),
					},
				}
			}
		}
		wire = append(wire, m)
	}

	req := openAIRequest{
		Model:       p.model,
		Messages:    wire,
		Temperature: p.temperature,
		Stream:      stream,
	}
	if stream {
		// Without this the API never emits the final usage chunk.
		req.StreamOptions = &openAIStreamOptions{IncludeUsage: true}
	}
	if len(tools) > 0 {
		req.Tools = make([]openAITool, len(tools))
		for i, tool := range tools {
			req.Tools[i] = openAITool{
				Type: "function",
				Function: openAIToolFunction{
					Name:        tool.Name,
					Description: tool.Description,
					Parameters:  tool.Parameters,
				},
			}
		}
		req.ToolChoice = "auto"
	}
	return req
}

func parseToolCalls(wire []openAIToolCall) ([]protocol.FunctionCall, error) {
	calls := make([]protocol.FunctionCall, len(wire))
	for i, tc := range wire {
		plugin, function, ok := protocol.SplitFunctionName(tc.Function.Name)
		if !ok {
			return nil, fmt.Errorf("malformed function name %q", tc.Function.Name)
		}

		var args map[string]any
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("failed to parse arguments for %s: %w", tc.Function.Name, err)
			}
		}

		calls[i] = protocol.FunctionCall{
			ID:           tc.ID,
			PluginName:   plugin,
			FunctionName: function,
			Arguments:    args,
		}
	}
	return calls, nil
}

func parseErrorResponse(body []byte) *openAIError {
	var resp struct {
		Error openAIError `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err == nil && resp.Error.Message != "" {
		return &resp.Error
	}
	return nil
}

func (p *OpenAIProvider) post(ctx context.Context, request openAIRequest) (*http.Response, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if resp != nil && resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if apiErr := parseErrorResponse(body); apiErr != nil {
			return nil, fmt.Errorf("chat completion failed with status %d: %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("chat completion failed with status %d: %s", resp.StatusCode, string(body))
	}
	if err != nil {
		return nil, fmt.Errorf("chat completion request failed: %w", err)
	}
	return resp, nil
}

// Complete runs one blocking chat-completion round.
func (p *OpenAIProvider) Complete(ctx context.Context, messages []Message, tools []ToolDefinition) (*Completion, error) {
	resp, err := p.post(ctx, p.buildRequest(messages, tools, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var parsed openAIResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("chat completion error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned")
	}

	choice := parsed.Choices[0]
	completion := &Completion{
		Usage: protocol.TokenUsage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}
	if text, ok := choice.Message.Content.(string); ok {
		completion.Text = text
	}
	if len(choice.Message.ToolCalls) > 0 {
		calls, err := parseToolCalls(choice.Message.ToolCalls)
		if err != nil {
			return nil, err
		}
		completion.ToolCalls = calls
	}
	return completion, nil
}

// Stream runs one chat-completion round over SSE, forwarding text
// fragments in arrival order and accumulating tool-call deltas until
// the finish event.
func (p *OpenAIProvider) Stream(ctx context.Context, messages []Message, tools []ToolDefinition) (<-chan StreamChunk, error) {
	out := make(chan StreamChunk, 100)

	go func() {
		defer close(out)
		if err := p.streamRounds(ctx, p.buildRequest(messages, tools, true), out); err != nil {
			select {
			case out <- StreamChunk{Type: ChunkError, Err: err}:
			case <-ctx.Done():
			}
		}
	}()

	return out, nil
}

func (p *OpenAIProvider) streamRounds(ctx context.Context, request openAIRequest, out chan<- StreamChunk) error {
	resp, err := p.post(ctx, request)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	pending := make([]*openAIToolCall, 0, 4)
	var usage protocol.TokenUsage

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("failed to read stream: %w", err)
		}

		line = bytes.TrimSpace(line)
		if !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		line = line[6:]
		if bytes.Equal(line, []byte("[DONE]")) {
			break
		}

		var event openAIStreamResponse
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}
		if event.Error != nil {
			return fmt.Errorf("chat completion error: %s", event.Error.Message)
		}
		if event.Usage != nil {
			usage = protocol.TokenUsage{
				PromptTokens:     event.Usage.PromptTokens,
				CompletionTokens: event.Usage.CompletionTokens,
				TotalTokens:      event.Usage.TotalTokens,
			}
		}
		if len(event.Choices) == 0 {
			continue
		}

		choice := event.Choices[0]
		if choice.Delta.Content != "" {
			select {
			case out <- StreamChunk{Type: ChunkText, Text: choice.Delta.Content}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		for _, delta := range choice.Delta.ToolCalls {
			if delta.ID != "" {
				call := delta
				pending = append(pending, &call)
			} else if len(pending) > 0 {
				pending[len(pending)-1].Function.Arguments += delta.Function.Arguments
			}
		}

		if choice.FinishReason == "stop" || choice.FinishReason == "tool_calls" {
			accumulated := make([]openAIToolCall, len(pending))
			for i, call := range pending {
				accumulated[i] = *call
			}
			if len(accumulated) > 0 {
				calls, err := parseToolCalls(accumulated)
				if err != nil {
					return err
				}
				for i := range calls {
					select {
					case out <- StreamChunk{Type: ChunkToolCall, ToolCall: &calls[i]}:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			}
		}
	}

	select {
	case out <- StreamChunk{Type: ChunkDone, Usage: usage}:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

var _ Provider = (*OpenAIProvider)(nil)
