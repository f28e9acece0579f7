package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xonecas/seele/internal/errs"
	"github.com/xonecas/seele/internal/memory"
	"github.com/xonecas/seele/internal/profile"
	"github.com/xonecas/seele/internal/provider"
	"github.com/xonecas/seele/internal/timeutil"
)

// Curator condenses a slice of turns with one tool-model call that
// returns both the summary and a profile patch. A bad patch is
// discarded with a warning; the summary survives it.
type Curator struct {
	chat    provider.ChatProvider
	profile *profile.Manager
	tz      *time.Location
}

func NewCurator(chat provider.ChatProvider, prof *profile.Manager, tz *time.Location) *Curator {
	return &Curator{chat: chat, profile: prof, tz: tz}
}

type condenseData struct {
	BotName     string
	UserName    string
	TimeInfo    string
	LastSummary string
	Profile     string
	Transcript  string
}

type condenseEnvelope struct {
	Summary string          `json:"summary"`
	Patch   json.RawMessage `json:"patch"`
}

// Condense implements memory.Curator.
func (c *Curator) Condense(ctx context.Context, turns []memory.Turn, lastSummary string, firstTimestamp, lastTimestamp int64) (string, error) {
	botName, userName := c.profile.Names()

	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Text)
	}

	data := condenseData{
		BotName:     botName,
		UserName:    userName,
		LastSummary: lastSummary,
		Profile:     c.profile.Snapshot(),
		Transcript:  b.String(),
	}
	if firstTimestamp > 0 && lastTimestamp > 0 {
		data.TimeInfo = fmt.Sprintf("between %s and %s",
			timeutil.Format(firstTimestamp, c.tz), timeutil.Format(lastTimestamp, c.tz))
	}

	var prompt strings.Builder
	if err := condenseTmpl.Execute(&prompt, data); err != nil {
		return "", fmt.Errorf("render condense prompt: %w", err)
	}

	raw, err := c.chat.Chat(ctx, []provider.Message{
		{Role: "system", Content: "You are a conversation summarizer and profile curator. You output strict JSON."},
		{Role: "user", Content: prompt.String()},
	})
	if err != nil {
		return "", fmt.Errorf("condense call: %w", err)
	}

	env, err := parseCondenseResponse(raw)
	if err != nil {
		return "", err
	}

	if patch := string(env.Patch); patch != "" && patch != "null" && patch != "[]" {
		if err := c.profile.ApplyPatch(env.Patch); err != nil {
			log.Warn().Err(err).Msg("discarding profile patch from curator")
		}
	}
	return env.Summary, nil
}

// parseCondenseResponse decodes the summary/patch envelope, tolerating
// markdown fences and stray prose around the object.
func parseCondenseResponse(raw string) (*condenseEnvelope, error) {
	body := extractJSONObject(raw)
	if body == "" {
		return nil, errs.Newf(errs.UpstreamFailure, "condense response carries no JSON object: %.120q", raw)
	}
	var env condenseEnvelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return nil, errs.New(errs.UpstreamFailure, fmt.Errorf("decode condense response: %w", err))
	}
	if strings.TrimSpace(env.Summary) == "" {
		return nil, errs.Newf(errs.UpstreamFailure, "condense response carries no summary")
	}
	return &env, nil
}

// extractJSONObject returns the outermost {...} span of s, or "".
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
