package domain

import (
	"encoding/json"
	"errors"
)

// CitationKind tags where a citation came from.
type CitationKind string

const (
	CitationWeb              CitationKind = "web"
	CitationRetrievedContext CitationKind = "retrievedContext"
)

// Citation is a source reference attached to an AI turn.
type Citation struct {
	Kind      CitationKind
	SourceURI string
	Title     string
}

type citationSource struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// citationJSON keeps the grounding-chunk layout used by stored chat blobs:
// exactly one of web / retrievedContext is set.
type citationJSON struct {
	Web              *citationSource `json:"web,omitempty"`
	RetrievedContext *citationSource `json:"retrievedContext,omitempty"`
}

func (c Citation) MarshalJSON() ([]byte, error) {
	src := &citationSource{URI: c.SourceURI, Title: c.Title}
	var out citationJSON
	switch c.Kind {
	case CitationRetrievedContext:
		out.RetrievedContext = src
	default:
		out.Web = src
	}
	return json.Marshal(out)
}

func (c *Citation) UnmarshalJSON(data []byte) error {
	var in citationJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch {
	case in.Web != nil:
		*c = Citation{Kind: CitationWeb, SourceURI: in.Web.URI, Title: in.Web.Title}
	case in.RetrievedContext != nil:
		*c = Citation{Kind: CitationRetrievedContext, SourceURI: in.RetrievedContext.URI, Title: in.RetrievedContext.Title}
	default:
		return errors.New("domain: citation has neither web nor retrievedContext source")
	}
	return nil
}
