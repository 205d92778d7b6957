package llm

import (
	"iter"
	"strings"
)

// Response is the reply of a model, either complete text or a sequence of
// chunks. Callers that do not care which can always range over Chunks.
type Response struct {
	text   string
	chunks iter.Seq2[string, error]
}

// TextResponse wraps a complete reply.
func TextResponse(text string) *Response {
	return &Response{text: text}
}

// StreamResponse wraps an incremental reply. The sequence may be consumed
// once.
func StreamResponse(chunks iter.Seq2[string, error]) *Response {
	return &Response{chunks: chunks}
}

// Streaming reports whether the reply is incremental.
func (r *Response) Streaming() bool {
	return r.chunks != nil
}

// Chunks yields the reply. A complete reply is yielded as a single chunk.
func (r *Response) Chunks() iter.Seq2[string, error] {
	if r.chunks != nil {
		return r.chunks
	}
	return func(yield func(string, error) bool) {
		yield(r.text, nil)
	}
}

// Text returns the whole reply, draining a stream if needed. On a stream
// error the text received so far is returned with the error.
func (r *Response) Text() (string, error) {
	if r.chunks == nil {
		return r.text, nil
	}
	var b strings.Builder
	for chunk, err := range r.chunks {
		if err != nil {
			return b.String(), err
		}
		b.WriteString(chunk)
	}
	return b.String(), nil
}
