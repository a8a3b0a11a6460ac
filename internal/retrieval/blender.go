// Package retrieval blends web-search snippets and local knowledge into a
// bounded context string for prompt construction.
package retrieval

import (
	"context"
	"log/slog"
	"strings"

	"github.com/kindpath/sfbtcoach/internal/models"
)

// Context budgets. Truncation is simple prefix truncation, no summarization.
const (
	// DefaultMaxContextChars bounds the final blended context.
	DefaultMaxContextChars = 1800
	// WebSnippetMaxChars bounds each web snippet before concatenation.
	WebSnippetMaxChars = 800
	// SourceSnippetMaxChars bounds the snippet tracked per web source.
	SourceSnippetMaxChars = 180
	// LocalContextMaxChars bounds the local knowledge snippet.
	LocalContextMaxChars = 1200
	// progressQueryPreview bounds the query echoed in progress messages.
	progressQueryPreview = 36
)

// ProgressFunc receives fire-and-forget progress messages at retrieval
// checkpoints. It may be nil; panics inside it are swallowed.
type ProgressFunc func(message string)

// Context is the outcome of one retrieval blend.
type Context struct {
	Text         string
	Sources      []models.WebSource
	WebAttempted bool
}

// Blender merges web and local retrieval into one bounded context string.
// Either collaborator may be nil; collaborator failures are logged and
// swallowed, never propagated: a failed retrieval must not break the turn.
type Blender struct {
	web             WebSearcher
	local           LocalRetriever
	maxContextChars int
}

// NewBlender creates a blender over the given collaborators.
// maxContextChars <= 0 selects the default budget.
func NewBlender(web WebSearcher, local LocalRetriever, maxContextChars int) *Blender {
	if maxContextChars <= 0 {
		maxContextChars = DefaultMaxContextChars
	}
	return &Blender{web: web, local: local, maxContextChars: maxContextChars}
}

// Blend runs web retrieval (when enabled) and local retrieval for the query
// and assembles the bounded context.
func (b *Blender) Blend(ctx context.Context, query string, enableWeb bool, progress ProgressFunc) Context {
	var out Context
	var parts []string

	if enableWeb && b.web != nil {
		out.WebAttempted = true
		report(progress, "正在搜索："+truncateRunes(query, progressQueryPreview)+"...")

		results, err := b.web.Search(ctx, query)
		if err != nil {
			slog.Warn("Blender.Blend: web retrieval failed, continuing without web context", "error", err)
		}
		for _, r := range results {
			content := truncateRunes(strings.TrimSpace(strings.ReplaceAll(r.Content, "\r", " ")), WebSnippetMaxChars)
			if content != "" {
				parts = append(parts, content)
			}
			title := r.Title
			if title == "" {
				title = r.URL
			}
			if title == "" {
				title = "来源"
			}
			out.Sources = append(out.Sources, models.WebSource{
				Title:   title,
				URL:     r.URL,
				Snippet: truncateRunes(content, SourceSnippetMaxChars),
			})
		}
		report(progress, "搜索完成")
	}

	if b.local != nil {
		localText, err := b.local.Retrieve(ctx, query)
		if err != nil {
			slog.Warn("Blender.Blend: local retrieval failed, continuing without local context", "error", err)
		}
		localText = truncateRunes(strings.TrimSpace(strings.ReplaceAll(localText, "\r", " ")), LocalContextMaxChars)
		if localText != "" {
			parts = append(parts, localText)
		}
	}

	out.Text = truncateRunes(strings.Join(parts, "\n\n"), b.maxContextChars)
	slog.Debug("Blender.Blend: context assembled", "web_attempted", out.WebAttempted, "sources", len(out.Sources), "context_len", len(out.Text))
	return out
}

// InvalidateLocal drops the local retriever's index, if it keeps one, so
// the next retrieval sees corpus rows added after the index was built.
func (b *Blender) InvalidateLocal() {
	if inv, ok := b.local.(interface{ Invalidate() }); ok {
		inv.Invalidate()
	}
}

// report invokes the progress callback, swallowing panics: progress is UI
// feedback only and must never abort retrieval.
func report(progress ProgressFunc, message string) {
	if progress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("retrieval.report: progress callback panicked", "panic", r)
		}
	}()
	progress(message)
}
