package transform

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"

	"github.com/conneroisu/assetpipe/internal/pipe"
)

// GroupMedia merges top-level @media blocks with identical queries and moves
// them after the plain rules, keeping the order in which each query first
// appeared. Nested at-rules are copied unchanged. Comments are dropped.
func GroupMedia() pipe.Transform {
	return pipe.Each("group-media", func(_ context.Context, f *pipe.File) (*pipe.File, error) {
		if f.Ext() != ".css" {
			return f, nil
		}
		out, err := GroupMediaQueries(f.Contents)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Path, err)
		}
		f.Contents = out
		return f, nil
	})
}

type frame int

const (
	frameMedia frame = iota
	frameAtRule
	frameRuleset
)

// GroupMediaQueries rewrites a stylesheet with its media queries grouped.
func GroupMediaQueries(src []byte) ([]byte, error) {
	p := css.NewParser(parse.NewInputBytes(src), false)

	var root bytes.Buffer
	media := make(map[string]*bytes.Buffer)
	var order []string

	cur := &root
	var stack []frame

	for {
		gt, _, data := p.Next()
		switch gt {
		case css.ErrorGrammar:
			if p.Err() == io.EOF {
				if len(stack) != 0 {
					return nil, fmt.Errorf("unbalanced braces")
				}
				return assembleMedia(root.Bytes(), media, order), nil
			}
			return nil, p.Err()

		case css.CommentGrammar:

		case css.AtRuleGrammar:
			writeAtPrelude(cur, data, p.Values())
			cur.WriteString(";\n")

		case css.BeginAtRuleGrammar:
			if len(stack) == 0 && bytes.EqualFold(data, []byte("@media")) {
				query := joinTokens(p.Values())
				buf, ok := media[query]
				if !ok {
					buf = &bytes.Buffer{}
					media[query] = buf
					order = append(order, query)
				}
				cur = buf
				stack = append(stack, frameMedia)
				continue
			}
			writeAtPrelude(cur, data, p.Values())
			cur.WriteString("{\n")
			stack = append(stack, frameAtRule)

		case css.QualifiedRuleGrammar:
			cur.WriteString(joinTokens(p.Values()))
			cur.WriteString(",")

		case css.BeginRulesetGrammar:
			cur.WriteString(joinTokens(p.Values()))
			cur.WriteString("{")
			stack = append(stack, frameRuleset)

		case css.DeclarationGrammar:
			cur.Write(data)
			cur.WriteString(":")
			cur.WriteString(joinTokens(p.Values()))
			cur.WriteString(";")

		case css.CustomPropertyGrammar:
			cur.Write(data)
			cur.WriteString(":")
			for _, v := range p.Values() {
				cur.Write(v.Data)
			}
			cur.WriteString(";")

		case css.EndAtRuleGrammar, css.EndRulesetGrammar:
			if len(stack) == 0 {
				return nil, fmt.Errorf("unexpected closing brace")
			}
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if top == frameMedia {
				cur = &root
				continue
			}
			cur.WriteString("}\n")

		default:
			cur.Write(data)
		}
	}
}

func writeAtPrelude(w *bytes.Buffer, keyword []byte, values []css.Token) {
	w.Write(keyword)
	prelude := joinTokens(values)
	if prelude != "" {
		w.WriteString(" ")
		w.WriteString(prelude)
	}
}

// joinTokens concatenates tokens, collapsing whitespace runs to one space
// and trimming both ends.
func joinTokens(values []css.Token) string {
	var b strings.Builder
	pendingSpace := false
	for _, v := range values {
		if v.TokenType == css.WhitespaceToken {
			pendingSpace = b.Len() > 0
			continue
		}
		if pendingSpace {
			b.WriteByte(' ')
			pendingSpace = false
		}
		b.Write(v.Data)
	}
	return b.String()
}

func assembleMedia(root []byte, media map[string]*bytes.Buffer, order []string) []byte {
	var out bytes.Buffer
	out.Write(root)
	for _, query := range order {
		out.WriteString("@media ")
		out.WriteString(query)
		out.WriteString("{\n")
		out.Write(media[query].Bytes())
		out.WriteString("}\n")
	}
	return out.Bytes()
}
