package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"phai/internal/domain"
)

// Session is one Gemini chat. The SDK keeps the running history.
type Session struct {
	chat   chatAPI
	logger *slog.Logger
}

// Send posts prompt and returns the complete reply. Failures are turned
// into a reply that explains them.
func (s *Session) Send(ctx context.Context, prompt string) domain.Reply {
	resp, err := s.chat.SendMessage(ctx, genai.Part{Text: strings.TrimSpace(prompt)})
	if err != nil {
		s.logger.Error("gemini send failed", "err", err)
		return domain.Reply{Text: failureText(err)}
	}
	if resp == nil {
		return domain.Reply{Text: unknownErrorText}
	}
	return domain.Reply{Text: resp.Text(), Citations: citations(resp)}
}

// citations maps the first candidate's grounding chunks. Chunks with
// neither a web nor a retrieved-context source are dropped.
func citations(resp *genai.GenerateContentResponse) []domain.Citation {
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return nil
	}
	meta := resp.Candidates[0].GroundingMetadata
	if meta == nil || len(meta.GroundingChunks) == 0 {
		return nil
	}
	var out []domain.Citation
	for _, chunk := range meta.GroundingChunks {
		switch {
		case chunk == nil:
		case chunk.Web != nil:
			out = append(out, domain.Citation{Kind: domain.CitationWeb, SourceURI: chunk.Web.URI, Title: chunk.Web.Title})
		case chunk.RetrievedContext != nil:
			out = append(out, domain.Citation{Kind: domain.CitationRetrievedContext, SourceURI: chunk.RetrievedContext.URI, Title: chunk.RetrievedContext.Title})
		}
	}
	return out
}

func failureText(err error) string {
	if err == nil {
		return unknownErrorText
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TimeoutText
	}
	if code, msg, ok := apiError(err); ok {
		if strings.Contains(msg, "API key not valid") || code == http.StatusUnauthorized || code == http.StatusForbidden {
			return InvalidAPIKeyText
		}
	}
	if strings.Contains(err.Error(), "API key not valid") {
		return InvalidAPIKeyText
	}
	return fmt.Sprintf("Sorry, I encountered an error: %s. Please try again.", err.Error())
}

func apiError(err error) (int, string, bool) {
	var v genai.APIError
	if errors.As(err, &v) {
		return v.Code, v.Message, true
	}
	var p *genai.APIError
	if errors.As(err, &p) && p != nil {
		return p.Code, p.Message, true
	}
	return 0, "", false
}
