/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package leases

import "strings"

type tokenKind int

const (
	tokWord tokenKind = iota
	tokString
	tokLBrace
	tokRBrace
	tokSemi
)

type token struct {
	kind tokenKind
	text string
	line int
}

// tokenize splits dhcpd.leases text into words, quoted strings, braces and
// semicolons. Comments run from '#' to end of line. An unterminated string
// swallows the rest of the input.
func tokenize(data []byte) []token {
	var (
		toks []token
		line = 1
	)

	for i := 0; i < len(data); {
		c := data[i]

		switch {
		case c == '\n':
			line++
			i++
		case c == ' ' || c == '\t' || c == '\r':
			i++
		case c == '#':
			for i < len(data) && data[i] != '\n' {
				i++
			}
		case c == '{':
			toks = append(toks, token{kind: tokLBrace, text: "{", line: line})
			i++
		case c == '}':
			toks = append(toks, token{kind: tokRBrace, text: "}", line: line})
			i++
		case c == ';':
			toks = append(toks, token{kind: tokSemi, text: ";", line: line})
			i++
		case c == '"':
			start := line

			var sb strings.Builder

			i++

			for i < len(data) && data[i] != '"' {
				switch {
				case data[i] == '\\' && i+1 < len(data) && (data[i+1] == '"' || data[i+1] == '\\'):
					sb.WriteByte(data[i+1])
					i += 2
				default:
					if data[i] == '\n' {
						line++
					}

					sb.WriteByte(data[i])
					i++
				}
			}

			i++ // closing quote

			toks = append(toks, token{kind: tokString, text: sb.String(), line: start})
		default:
			start := i

			for i < len(data) && !isDelimiter(data[i]) {
				i++
			}

			toks = append(toks, token{kind: tokWord, text: string(data[start:i]), line: line})
		}
	}

	return toks
}

func isDelimiter(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '{', '}', ';', '"', '#':
		return true
	}

	return false
}

// matchBrace returns the index of the brace closing toks[open], or -1.
func matchBrace(toks []token, open int) int {
	depth := 0

	for i := open; i < len(toks); i++ {
		switch toks[i].kind {
		case tokLBrace:
			depth++
		case tokRBrace:
			depth--
			if depth == 0 {
				return i
			}
		}
	}

	return -1
}

// nextStatement returns the tokens of the statement starting at toks[i],
// without its terminator, and the index after it. A statement ends at ';' or
// at the end of a nested block, and never extends past limit.
func nextStatement(toks []token, i, limit int) ([]token, int) {
	start := i

	for ; i < limit; i++ {
		switch toks[i].kind {
		case tokSemi:
			return toks[start:i], i + 1
		case tokLBrace:
			end := matchBrace(toks, i)
			if end < 0 || end >= limit {
				return toks[start:limit], limit
			}

			return toks[start : end+1], end + 1
		case tokRBrace:
			// stray closing brace
			return toks[start:i], i + 1
		}
	}

	return toks[start:limit], limit
}

// skipStatement skips a top-level statement or block that is not a lease.
func skipStatement(toks []token, i int) int {
	_, next := nextStatement(toks, i, len(toks))
	if next == i {
		return i + 1
	}

	return next
}
