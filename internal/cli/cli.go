// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - CLI parsing and command routing for gptsh.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/morganforge/gptsh/internal/cache"
	"github.com/morganforge/gptsh/internal/config"
	"github.com/morganforge/gptsh/internal/history"
	"github.com/morganforge/gptsh/internal/llm"
	"github.com/morganforge/gptsh/internal/roles"
	"github.com/morganforge/gptsh/internal/safety"
	"github.com/morganforge/gptsh/internal/store"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Exit codes. Blocked commands exit distinctly so scripts can tell a
// safety refusal from a failure.
const (
	ExitOK      = 0
	ExitError   = 1
	ExitBlocked = 2
)

// TempChatID is the ephemeral conversation: it starts empty on every
// use.
const TempChatID = "temp"

const usageText = `gptsh - AI assistant for the command line

Usage:
  gptsh "prompt"                 Ask a one-shot question
  gptsh -s "prompt"              Generate a shell command (gated, confirmed)
  gptsh -c "prompt"              Generate code
  gptsh -d "command"             Describe a shell command
  gptsh --chat ID "prompt"       One turn in a persistent conversation
  gptsh repl [ID]                Interactive session (default: temp)
    --shell                      Generate commands inside the session
  gptsh chat list|show ID|delete ID   Manage stored conversations
  gptsh history [search QUERY]   Browse recorded turns
    --limit N                    Number of turns to show (default 20)
  gptsh safety show              Show effective safety rules
  gptsh safety add --action allow|warn|block PATTERN...
  gptsh safety remove PATTERN...
  gptsh cache stats|clear        Response cache management
  gptsh role list|show NAME      Personas
  gptsh role create NAME --text "system text"
  gptsh config show|path|init    Configuration
  gptsh version                  Show version

Options:
  -s, --shell                    Use the shell-command persona
  -c, --code                     Use the code persona
  -d, --describe-shell           Use the command-describer persona
  --role NAME                    Use a named persona
  --chat ID                      Send the prompt within conversation ID
  --model NAME                   Override the model
  --temperature F, --top-p F     Override sampling options
  --no-cache                     Bypass the response cache
  --no-md                        Disable markdown rendering
  --no-stream                    Print the response only when complete

Input:
  A piped stdin is joined with the prompt arguments. In sessions,
  """ starts multiline entry, a trailing ?? asks a plain question
  without leaving the mode, and exit() ends the session.
`

// PrintUsage writes the usage text to stdout.
func PrintUsage() {
	fmt.Print(usageText)
}

// =============================================================================
// APP
// =============================================================================

// App holds the wired components behind every command.
type App struct {
	Config   *config.Config
	Client   llm.Client
	Store    *store.ContextStore
	Roles    *roles.Store
	Safety   *safety.Engine
	Renderer *Renderer

	// Caches are nil when caching is disabled.
	RequestCache *cache.Store
	ChatCache    *cache.Store

	// History is nil when the turn log cannot be opened; recording is
	// advisory.
	History *history.Log
}

// NewApp loads configuration and wires the application components.
func NewApp() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return newApp(cfg)
}

func newApp(cfg *config.Config) (*App, error) {
	if err := config.EnsureConfigDir(); err != nil {
		return nil, err
	}

	convDir, err := cfg.ConversationsDir()
	if err != nil {
		return nil, err
	}
	contextStore, err := store.NewWithDir(convDir, cfg.Chat.MaxContextMessages)
	if err != nil {
		return nil, err
	}

	rolesDir, err := cfg.RolesDir()
	if err != nil {
		return nil, err
	}

	rulesPath, err := cfg.SafetyRulesPath()
	if err != nil {
		return nil, err
	}
	engine, err := safety.Load(rulesPath, safety.Action(strings.ToLower(cfg.Safety.DefaultAction)))
	if err != nil {
		return nil, err
	}

	app := &App{
		Config:   cfg,
		Store:    contextStore,
		Roles:    roles.NewStore(rolesDir),
		Safety:   engine,
		Renderer: NewRenderer(cfg.UI.Markdown, cfg.UI.Theme),
		Client: llm.NewHTTPClient(&llm.Config{
			BaseURL:           cfg.API.BaseURL,
			APIKey:            cfg.API.APIKey,
			Timeout:           cfg.RequestTimeout(),
			RequestsPerSecond: cfg.API.RequestsPerSecond,
		}),
	}

	if cfg.Cache.Enabled {
		if dir, err := cfg.CacheDir("request"); err == nil {
			app.RequestCache = cache.NewStore(dir, cfg.Cache.MaxEntries)
		}
		if dir, err := cfg.CacheDir("chat"); err == nil {
			app.ChatCache = cache.NewStore(dir, cfg.Cache.MaxEntries)
		}
	}

	// The history log is advisory: if it cannot be opened the session
	// still works.
	if path, err := cfg.HistoryPath(); err == nil {
		if log, err := history.Open(path); err == nil {
			app.History = log
		}
	}

	return app, nil
}

// Close releases the app's resources.
func (a *App) Close() {
	if a.History != nil {
		a.History.Close()
	}
}

// =============================================================================
// COMMAND ROUTING
// =============================================================================

// commands that are reserved words rather than prompt text.
var commands = map[string]bool{
	"repl": true, "chat": true, "history": true, "safety": true,
	"cache": true, "role": true, "config": true,
	"version": true, "help": true,
}

// Run executes the CLI and returns the process exit code.
func Run(args []string) int {
	parser := NewArgParser(args)

	switch {
	case parser.AnyBool("help", "h") || parser.Subcommand() == "help":
		PrintUsage()
		return ExitOK
	case parser.Subcommand() == "version":
		fmt.Printf("gptsh %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
		return ExitOK
	}

	app, err := NewApp()
	if err != nil {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("error:"), err)
		return ExitError
	}
	defer app.Close()

	if cmd := parser.Subcommand(); commands[cmd] {
		switch cmd {
		case "repl":
			return app.runRepl(parser)
		case "chat":
			return app.runChatCmd(parser)
		case "history":
			return app.runHistoryCmd(parser)
		case "safety":
			return app.runSafetyCmd(parser)
		case "cache":
			return app.runCacheCmd(parser)
		case "role":
			return app.runRoleCmd(parser)
		case "config":
			return app.runConfigCmd(parser)
		}
	}

	prompt := gatherPrompt(parser, 0)
	if prompt == "" {
		PrintUsage()
		return ExitError
	}
	return app.runAsk(parser, prompt)
}

// gatherPrompt joins the positional prompt with piped stdin.
func gatherPrompt(parser *ArgParser, from int) string {
	prompt := parser.JoinPositionalFrom(from)
	if StdinIsPiped() {
		if data, err := io.ReadAll(os.Stdin); err == nil && len(data) > 0 {
			piped := strings.TrimRight(string(data), "\n")
			if prompt == "" {
				return piped
			}
			return prompt + "\n\n" + piped
		}
	}
	return prompt
}

// selectRole resolves the persona for a turn from the mode flags.
func (a *App) selectRole(parser *ArgParser) (roles.Role, error) {
	switch {
	case parser.AnyBool("shell", "s"):
		return roles.Shell(), nil
	case parser.AnyBool("code", "c"):
		return roles.Code(), nil
	case parser.AnyBool("describe-shell", "d"):
		return roles.DescribeShell(), nil
	}
	name := parser.FlagOrDefault("role", a.Config.Chat.DefaultRole)
	return a.Roles.Get(name)
}

// options resolves sampling options from config plus flag overrides.
func (a *App) options(parser *ArgParser) llm.Options {
	opts := llm.Options{
		Model:       parser.FlagOrDefault("model", a.Config.API.Model),
		Temperature: a.Config.API.Temperature,
		TopP:        a.Config.API.TopP,
	}
	if f, ok := parser.FlagFloat("temperature"); ok {
		opts.Temperature = f
	}
	if f, ok := parser.FlagFloat("top-p"); ok {
		opts.TopP = f
	}
	return opts
}

// requestCache returns the request-scope cache honoring --no-cache.
func (a *App) requestCache(parser *ArgParser) *cache.Store {
	if parser.BoolFlag("no-cache") {
		return nil
	}
	return a.RequestCache
}

// chatCache returns the chat-scope cache honoring --no-cache.
func (a *App) chatCache(parser *ArgParser) *cache.Store {
	if parser.BoolFlag("no-cache") {
		return nil
	}
	return a.ChatCache
}

// renderer honors --no-md per invocation.
func (a *App) renderer(parser *ArgParser) *Renderer {
	if parser.BoolFlag("no-md") {
		return NewRenderer(false, a.Config.UI.Theme)
	}
	return a.Renderer
}

func fail(err error) int {
	fmt.Fprintln(os.Stderr, ErrorStyle.Render("error:"), err)
	return ExitError
}
