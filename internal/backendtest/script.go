package backendtest

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
	"unicode/utf8"

	"cardrec/internal/shared"

	"gopkg.in/yaml.v3"
)

// Frame is one scripted line. Raw, when set, is written verbatim instead of
// an encoded data frame.
type Frame struct {
	Chunk        *string       `yaml:"chunk,omitempty"`
	Done         bool          `yaml:"done,omitempty"`
	FullResponse *string       `yaml:"full_response,omitempty"`
	Error        *string       `yaml:"error,omitempty"`
	Raw          string        `yaml:"raw,omitempty"`
	Delay        time.Duration `yaml:"delay,omitempty"`
}

// Script is the response of one streaming endpoint. A non-zero Status other
// than 200 answers with Body instead of a stream.
type Script struct {
	Status int     `yaml:"status,omitempty"`
	Body   string  `yaml:"body,omitempty"`
	Frames []Frame `yaml:"frames"`
}

// Fixture groups the scripts of both endpoints as stored on disk.
type Fixture struct {
	Analyze *Script `yaml:"analyze"`
	Details *Script `yaml:"details"`
}

func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}
	return ParseFixture(data)
}

func ParseFixture(data []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fixture: %w", err)
	}
	return &f, nil
}

// Line renders the frame as it appears on the wire, without the trailing
// blank line.
func (f Frame) Line() (string, error) {
	if f.Raw != "" {
		return f.Raw, nil
	}
	data, err := json.Marshal(shared.Frame{
		Chunk:        f.Chunk,
		Done:         f.Done,
		FullResponse: f.FullResponse,
		Error:        f.Error,
	})
	if err != nil {
		return "", err
	}
	return shared.DataPrefix + string(data), nil
}

func ChunkFrame(text string) Frame { return Frame{Chunk: &text} }
func DoneFrame(full string) Frame { return Frame{Done: true, FullResponse: &full} }
func ErrorFrame(msg string) Frame { return Frame{Error: &msg} }

// Chunked splits doc into chunks of about size bytes, never inside a rune,
// followed by a done frame carrying the whole document.
func Chunked(doc string, size int) *Script {
	if size <= 0 {
		size = len(doc)
	}
	s := &Script{}
	for start := 0; start < len(doc); {
		end := min(start+size, len(doc))
		for end < len(doc) && !utf8.RuneStart(doc[end]) {
			end++
		}
		s.Frames = append(s.Frames, ChunkFrame(doc[start:end]))
		start = end
	}
	s.Frames = append(s.Frames, DoneFrame(doc))
	return s
}
