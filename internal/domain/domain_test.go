package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCitation_JSONUsesGroundingChunkLayout(t *testing.T) {
	raw, err := json.Marshal([]Citation{
		{Kind: CitationWeb, SourceURI: "https://example.com", Title: "Example"},
		{Kind: CitationRetrievedContext, SourceURI: "gs://bucket/doc", Title: "Doc"},
	})
	require.NoError(t, err)
	require.JSONEq(t, `[{"web":{"uri":"https://example.com","title":"Example"}},{"retrievedContext":{"uri":"gs://bucket/doc","title":"Doc"}}]`, string(raw))

	var back []Citation
	require.NoError(t, json.Unmarshal(raw, &back))
	require.Equal(t, CitationWeb, back[0].Kind)
	require.Equal(t, CitationRetrievedContext, back[1].Kind)
	require.Equal(t, "gs://bucket/doc", back[1].SourceURI)
}

func TestCitation_RejectsEmptyChunk(t *testing.T) {
	var c Citation
	require.Error(t, json.Unmarshal([]byte(`{}`), &c))
}

func TestToHistory_MapsRolesAndSkipsEmpty(t *testing.T) {
	turns := []Turn{
		{ID: "1", Text: "Hello", Sender: SenderUser},
		{ID: "2", Text: "Hi there", Sender: SenderAI},
		{ID: "3", Text: "  ", Sender: SenderAI},
	}
	require.Equal(t, []HistoryEntry{
		{Role: RoleUser, Text: "Hello"},
		{Role: RoleModel, Text: "Hi there"},
	}, ToHistory(turns))
}

func TestConversationClone_DoesNotShareCitations(t *testing.T) {
	c := Conversation{
		ID:        "c1",
		CreatedAt: time.Now(),
		Turns: []Turn{{ID: "t1", Sender: SenderAI, Citations: []Citation{{Kind: CitationWeb, SourceURI: "a"}}}},
	}
	cp := c.Clone()
	cp.Turns[0].Citations[0].SourceURI = "b"
	cp.Turns[0].Text = "changed"
	require.Equal(t, "a", c.Turns[0].Citations[0].SourceURI)
	require.Empty(t, c.Turns[0].Text)
}
