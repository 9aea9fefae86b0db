package lexer

import (
	"os"
	"os/exec"
	"strings"
)

// FilenameEnv is exported to a pipe-lexer subprocess so it can reopen
// the document being lexed (some external lexers want the file, not a
// stream).
const FilenameEnv = "RAINBOW_LEX_FILENAME"

// Pipe shells out to an external tokenizer: the document text is
// written to the command's stdin and whitespace-separated tokens are
// read back from its stdout, one position per token. Command runs
// through the shell so users can write pipelines in place.
type Pipe struct {
	Command string

	// Filename, when set, is exported as RAINBOW_LEX_FILENAME before
	// the subprocess runs. Callers lexing from disk set it per file.
	Filename string
}

// Lex runs the external command over text. A failing or missing
// command yields no tokens, mirroring how an unreadable file is
// skipped rather than aborting the whole build.
func (p *Pipe) Lex(text string) []Token {
	if p.Command == "" {
		return nil
	}
	cmd := exec.Command("/bin/sh", "-c", p.Command)
	cmd.Stdin = strings.NewReader(text)
	cmd.Env = append(os.Environ(), FilenameEnv+"="+p.Filename)
	out, err := cmd.Output()
	if err != nil {
		return nil
	}
	fields := strings.Fields(string(out))
	tokens := make([]Token, len(fields))
	for i, f := range fields {
		tokens[i] = Token{Term: f, Position: i}
	}
	return tokens
}
