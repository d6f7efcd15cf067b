package fakehost

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

type token struct {
	text   string
	op     bool
	quoted bool
	glob   bool
}

type command struct {
	tokens  []token
	heredoc *string
	line    string
}

// parse splits src into commands. It understands quoting, comments, `;`,
// `&&`, `||`, `>`, `2>` and quoted heredocs, which is all the adapters emit.
func parse(src string) ([]command, error) {
	var (
		cmds    []command
		tokens  []token
		word    strings.Builder
		inWord  bool
		quoted  bool
		glob    bool
		lineBeg int
	)

	flush := func() {
		if inWord {
			tokens = append(tokens, token{text: word.String(), quoted: quoted, glob: glob})
		}
		word.Reset()
		inWord, quoted, glob = false, false, false
	}
	op := func(text string) {
		flush()
		tokens = append(tokens, token{text: text, op: true})
	}

	i := 0
	end := func() error {
		flush()
		if len(tokens) == 0 {
			return nil
		}
		cmd := command{line: strings.TrimSpace(src[lineBeg:min(i, len(src))])}
		for j := 0; j < len(tokens); j++ {
			if tokens[j].op && tokens[j].text == "<<" {
				if j+1 >= len(tokens) {
					return fmt.Errorf("heredoc without marker")
				}
				marker := tokens[j+1].text
				tokens = append(tokens[:j], tokens[j+2:]...)
				body, next, ok := readHeredoc(src, i+1, marker)
				if !ok {
					return fmt.Errorf("unterminated heredoc %q", marker)
				}
				cmd.heredoc = &body
				i = next - 1
				break
			}
		}
		cmd.tokens = tokens
		cmds = append(cmds, cmd)
		tokens = nil
		return nil
	}

	for ; i < len(src); i++ {
		c := src[i]
		switch {
		case c == ' ' || c == '\t':
			flush()
		case c == '\n' || c == ';':
			if err := end(); err != nil {
				return nil, err
			}
			lineBeg = i + 1
		case c == '#' && !inWord:
			for i < len(src) && src[i] != '\n' {
				i++
			}
			i--
		case c == '\'':
			j := strings.IndexByte(src[i+1:], '\'')
			if j < 0 {
				return nil, fmt.Errorf("unterminated single quote")
			}
			word.WriteString(src[i+1 : i+1+j])
			inWord, quoted = true, true
			i += j + 1
		case c == '"':
			i++
			for ; i < len(src) && src[i] != '"'; i++ {
				if src[i] == '\\' && i+1 < len(src) && strings.IndexByte("\"\\$`", src[i+1]) >= 0 {
					i++
				}
				word.WriteByte(src[i])
			}
			if i >= len(src) {
				return nil, fmt.Errorf("unterminated double quote")
			}
			inWord, quoted = true, true
		case c == '\\':
			if i+1 < len(src) {
				i++
				if src[i] != '\n' {
					word.WriteByte(src[i])
					inWord, quoted = true, true
				}
			}
		case c == '&' && i+1 < len(src) && src[i+1] == '&':
			op("&&")
			i++
		case c == '|' && i+1 < len(src) && src[i+1] == '|':
			op("||")
			i++
		case c == '|':
			op("|")
		case c == '<' && i+1 < len(src) && src[i+1] == '<':
			op("<<")
			i++
		case c == '>':
			if inWord && !quoted && word.String() == "2" {
				word.Reset()
				inWord = false
				op("2>")
			} else {
				op(">")
			}
		default:
			if c == '*' || c == '?' {
				glob = true
			}
			word.WriteByte(c)
			inWord = true
		}
	}
	if err := end(); err != nil {
		return nil, err
	}
	return cmds, nil
}

// readHeredoc collects lines from start until a line equal to marker. It
// returns the body and the offset just past the marker line.
func readHeredoc(src string, start int, marker string) (string, int, bool) {
	var body strings.Builder
	pos := start
	for pos <= len(src) {
		nl := strings.IndexByte(src[pos:], '\n')
		var line string
		next := len(src) + 1
		if nl < 0 {
			line = src[pos:]
		} else {
			line = src[pos : pos+nl]
			next = pos + nl + 1
		}
		if line == marker {
			return body.String(), min(next, len(src)), true
		}
		if nl < 0 {
			return "", 0, false
		}
		body.WriteString(line)
		body.WriteByte('\n')
		pos = next
	}
	return "", 0, false
}

// runScript executes src with its own errexit state.
func (h *Host) runScript(src, stdin string) (string, string, int) {
	cmds, err := parse(src)
	if err != nil {
		return "", "sh: " + err.Error() + "\n", 2
	}
	var stdout, stderr strings.Builder
	errexit := false
	status := 0

	for _, cmd := range cmds {
		if words := cmd.tokens; len(words) == 2 && words[0].text == "set" && words[1].text == "-e" {
			errexit = true
			continue
		}
		in := stdin
		if cmd.heredoc != nil {
			in = *cmd.heredoc
		}
		var lastInList bool
		status, lastInList = h.runList(cmd, in, &stdout, &stderr)
		if errexit && status != 0 && lastInList {
			break
		}
	}
	return stdout.String(), stderr.String(), status
}

// runList evaluates an and-or list. The second result reports whether the
// final executed command was the last one of the list.
func (h *Host) runList(cmd command, stdin string, stdout, stderr *strings.Builder) (int, bool) {
	var segments [][]token
	var ops []string
	var cur []token
	for _, t := range cmd.tokens {
		if t.op && (t.text == "&&" || t.text == "||") {
			segments = append(segments, cur)
			ops = append(ops, t.text)
			cur = nil
			continue
		}
		cur = append(cur, t)
	}
	segments = append(segments, cur)

	status := h.runSimple(segments[0], stdin, stdout, stderr, cmd.line)
	last := 0
	for i, op := range ops {
		if (op == "&&" && status == 0) || (op == "||" && status != 0) {
			status = h.runSimple(segments[i+1], stdin, stdout, stderr, cmd.line)
			last = i + 1
		}
	}
	return status, last == len(segments)-1
}

func (h *Host) runSimple(tokens []token, stdin string, stdout, stderr *strings.Builder, line string) int {
	var argv []string
	outTarget, errTarget := "", ""
	for i := 0; i < len(tokens); i++ {
		t := tokens[i]
		if t.op {
			switch t.text {
			case ">", "2>":
				if i+1 >= len(tokens) {
					stderr.WriteString("sh: syntax error near redirection\n")
					return 2
				}
				i++
				if t.text == ">" {
					outTarget = tokens[i].text
				} else {
					errTarget = tokens[i].text
				}
			default:
				fmt.Fprintf(stderr, "sh: unsupported operator %q\n", t.text)
				return 2
			}
			continue
		}
		if t.glob && !t.quoted {
			argv = append(argv, h.expandGlob(t.text)...)
			continue
		}
		argv = append(argv, t.text)
	}
	if len(argv) == 0 {
		return 0
	}

	if f, ok := h.failureFor(strings.Join(argv, " ")); ok {
		stderr.WriteString(f.stderr)
		return f.code
	}

	var out, errOut strings.Builder
	code := h.exec(argv, stdin, &out, &errOut)

	switch outTarget {
	case "":
		if errTarget == "&1" {
			out.WriteString(errOut.String())
			errOut.Reset()
		}
		stdout.WriteString(out.String())
	case "/dev/null":
	default:
		h.files[outTarget] = out.String()
	}
	switch errTarget {
	case "", "&1":
		stderr.WriteString(errOut.String())
	case "/dev/null":
	default:
		h.files[errTarget] = errOut.String()
	}
	return code
}

func (h *Host) expandGlob(pattern string) []string {
	var matches []string
	for p := range h.files {
		if ok, _ := path.Match(pattern, p); ok {
			matches = append(matches, p)
		}
	}
	if len(matches) == 0 {
		return []string{pattern}
	}
	sort.Strings(matches)
	return matches
}
