package render

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"

	"latex-equations/internal/logger"
	"latex-equations/internal/types"
)

// Fixer repairs equations that fail with a syntax error using a ReAct agent
// backed by an OpenAI-compatible chat model. The agent verifies each
// candidate with the configured Renderer before reporting it.
type Fixer struct {
	apiKey   string
	baseURL  string
	model    string
	renderer Renderer
	maxSteps int
}

// NewFixer creates a Fixer. model defaults to gpt-4o.
func NewFixer(apiKey, baseURL, model string, renderer Renderer) *Fixer {
	if model == "" {
		model = "gpt-4o"
	}
	return &Fixer{
		apiKey:   apiKey,
		baseURL:  baseURL,
		model:    model,
		renderer: renderer,
		maxSteps: 12, // each tool round trip is two steps
	}
}

// RenderEquationParams parameters for render_equation tool
type RenderEquationParams struct {
	Latex string `json:"latex" jsonschema:"description=The complete equation body to typeset"`
}

// FixCompleteParams parameters for fix_complete tool
type FixCompleteParams struct {
	Latex   string `json:"latex" jsonschema:"description=The corrected equation body that rendered successfully"`
	Summary string `json:"summary" jsonschema:"description=One sentence describing what was wrong"`
}

// FixResult is the outcome of Fix.
type FixResult struct {
	Success  bool   `json:"success"`
	Latex    string `json:"latex"`
	Summary  string `json:"summary"`
	Attempts int    `json:"attempts"`
}

// fixSession tracks one Fix call across tool invocations.
type fixSession struct {
	mu           sync.Mutex
	renderer     Renderer
	opts         Options
	attempts     int
	lastGood     string
	final        string
	finalSummary string
}

func (s *fixSession) renderEquation(ctx context.Context, latex string) (string, error) {
	s.mu.Lock()
	s.attempts++
	s.mu.Unlock()

	if _, err := s.renderer.Render(ctx, latex, s.opts); err != nil {
		if KindOf(err) == KindUnavailable {
			return "", fmt.Errorf("renderer unavailable: %w", err)
		}
		return fmt.Sprintf("Render failed: %v", err), nil
	}

	s.mu.Lock()
	s.lastGood = latex
	s.mu.Unlock()
	return "Render successful. Call fix_complete with this latex.", nil
}

func (s *fixSession) complete(latex, summary string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.final = latex
	s.finalSummary = summary
	return "Fix recorded: " + summary
}

func (s *fixSession) createTools() ([]tool.BaseTool, error) {
	renderTool, err := utils.InferTool(
		"render_equation",
		"Typeset an equation body and report whether it renders. Use this to test every candidate fix.",
		func(ctx context.Context, params *RenderEquationParams) (string, error) {
			return s.renderEquation(ctx, params.Latex)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create render_equation tool: %w", err)
	}

	completeTool, err := utils.InferTool(
		"fix_complete",
		"Call this once a corrected equation has rendered successfully.",
		func(ctx context.Context, params *FixCompleteParams) (string, error) {
			return s.complete(params.Latex, params.Summary), nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create fix_complete tool: %w", err)
	}

	return []tool.BaseTool{renderTool, completeTool}, nil
}

// Fix asks the agent to repair latex, which failed with renderErr. The
// returned latex is verified with the renderer before Success is set.
func (f *Fixer) Fix(ctx context.Context, latex, renderErr string, opts Options) (*FixResult, error) {
	if f.apiKey == "" {
		return nil, types.NewAppError(types.ErrConfig, "OpenAI API key is not configured", nil)
	}
	if f.renderer == nil {
		return nil, types.NewAppError(types.ErrEngineUnavailable, "no renderer configured", nil)
	}

	logger.Info("starting equation fix",
		logger.String("model", f.model),
		logger.Int("latexLength", len(latex)))

	session := &fixSession{renderer: f.renderer, opts: opts}
	tools, err := session.createTools()
	if err != nil {
		return nil, err
	}

	chatModelConfig := &openai.ChatModelConfig{
		Model:  f.model,
		APIKey: f.apiKey,
	}
	if f.baseURL != "" {
		chatModelConfig.BaseURL = f.baseURL
	}
	chatModel, err := openai.NewChatModel(ctx, chatModelConfig)
	if err != nil {
		return nil, types.NewAppError(types.ErrAPICall, "failed to create chat model", err)
	}

	agent, err := react.NewAgent(ctx, &react.AgentConfig{
		ToolCallingModel: chatModel,
		ToolsConfig: compose.ToolsNodeConfig{
			Tools: tools,
		},
		MaxStep: f.maxSteps,
		MessageModifier: func(ctx context.Context, input []*schema.Message) []*schema.Message {
			return append([]*schema.Message{schema.SystemMessage(systemPrompt)}, input...)
		},
	})
	if err != nil {
		return nil, types.NewAppError(types.ErrAPICall, "failed to create ReAct agent", err)
	}

	response, err := agent.Generate(ctx, []*schema.Message{
		schema.UserMessage(buildUserMessage(latex, renderErr, opts)),
	})
	if err != nil {
		logger.Error("equation fix agent failed", err)
		return nil, types.NewAppError(types.ErrAPICall, "agent execution failed", err)
	}

	result := session.result()
	if result.Latex != "" {
		if _, err := f.renderer.Render(ctx, result.Latex, opts); err == nil {
			result.Success = true
		}
	}
	if result.Summary == "" && response != nil {
		result.Summary = strings.TrimSpace(response.Content)
	}

	logger.Info("equation fix finished",
		logger.Bool("success", result.Success),
		logger.Int("attempts", result.Attempts))
	return result, nil
}

// result prefers the latex reported through fix_complete and falls back to
// the last candidate that rendered.
func (s *fixSession) result() *FixResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	latex := s.final
	if latex == "" {
		latex = s.lastGood
	}
	return &FixResult{
		Latex:    latex,
		Summary:  s.finalSummary,
		Attempts: s.attempts,
	}
}

func buildUserMessage(latex, renderErr string, opts Options) string {
	var sb strings.Builder
	sb.WriteString("This equation fails to typeset.\n\n")
	sb.WriteString("Equation:\n```latex\n")
	sb.WriteString(latex)
	sb.WriteString("\n```\n\n")
	if renderErr != "" {
		sb.WriteString("Engine error: ")
		sb.WriteString(renderErr)
		sb.WriteString("\n\n")
	}
	if p := strings.TrimSpace(opts.Preamble); p != "" {
		sb.WriteString("These macros are defined before the equation:\n```latex\n")
		sb.WriteString(p)
		sb.WriteString("\n```\n\n")
	}
	sb.WriteString("Fix it with the smallest possible change.")
	return sb.String()
}

const systemPrompt = `You repair LaTeX math equations that fail to typeset.

TOOLS:
- render_equation(latex): typeset a candidate and report errors
- fix_complete(latex, summary): report the corrected equation

RULES:
1. Change as little as possible. Keep the meaning of the equation.
2. Keep every \label{...} line and a trailing "% color: ..." line exactly as they are.
3. The body is typeset in math mode. Do not add $ or \[ delimiters.
4. Always call render_equation on a candidate before fix_complete.
5. If a macro is missing, prefer an equivalent standard command over defining a new one.`
