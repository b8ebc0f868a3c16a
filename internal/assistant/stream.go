package assistant

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	eventMessageDelta = "thread.message.delta"
	eventRunFailed    = "thread.run.failed"
	eventRunCancelled = "thread.run.cancelled"
	eventRunExpired   = "thread.run.expired"
	eventError        = "error"
	eventDone         = "done"
)

type runStreamRequest struct {
	AssistantID string `json:"assistant_id"`
	Stream      bool   `json:"stream"`
}

type messageDelta struct {
	Delta struct {
		Content []struct {
			Index int    `json:"index"`
			Type  string `json:"type"`
			Text  *struct {
				Value string `json:"value"`
			} `json:"text,omitempty"`
		} `json:"content"`
	} `json:"delta"`
}

type runSnapshot struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	LastError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_error"`
}

type streamError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

// RunStream yields the text fragments of a streaming run in the order the
// service emits them.
type RunStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	event   string
	done    bool
}

func newRunStream(body io.ReadCloser) *RunStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)
	return &RunStream{body: body, scanner: scanner}
}

// Recv returns the next text fragment. It returns io.EOF once the run has
// completed and an error if the run or the stream failed.
func (s *RunStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "event:") {
			s.event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		switch s.event {
		case eventMessageDelta:
			fragment, err := parseDelta(data)
			if err != nil {
				return "", err
			}
			if fragment == "" {
				continue
			}
			return fragment, nil
		case eventRunFailed, eventRunCancelled, eventRunExpired:
			return "", runError(s.event, data)
		case eventError:
			var se streamError
			if err := json.Unmarshal([]byte(data), &se); err != nil || se.Message == "" {
				return "", fmt.Errorf("stream error: %s", data)
			}
			return "", fmt.Errorf("stream error: %s", se.Message)
		case eventDone:
			s.done = true
			return "", io.EOF
		}
	}
	if err := s.scanner.Err(); err != nil {
		return "", fmt.Errorf("read run stream: %w", err)
	}
	s.done = true
	return "", io.EOF
}

func (s *RunStream) Close() error {
	return s.body.Close()
}

func parseDelta(data string) (string, error) {
	var delta messageDelta
	if err := json.Unmarshal([]byte(data), &delta); err != nil {
		return "", fmt.Errorf("decode message delta: %w", err)
	}
	var sb strings.Builder
	for _, part := range delta.Delta.Content {
		if part.Type == "text" && part.Text != nil {
			sb.WriteString(part.Text.Value)
		}
	}
	return sb.String(), nil
}

func runError(event, data string) error {
	var run runSnapshot
	if err := json.Unmarshal([]byte(data), &run); err == nil && run.LastError != nil {
		return fmt.Errorf("%s: %s: %s", event, run.LastError.Code, run.LastError.Message)
	}
	return fmt.Errorf("%s", event)
}

// streamRun starts a run on threadID and returns its event stream.
// go-openai has no streaming variant of CreateRun, so the request is issued
// with the same HTTP client and headers the SDK uses.
func (a *GPTAssistant) streamRun(ctx context.Context, threadID string) (*RunStream, error) {
	body, err := json.Marshal(runStreamRequest{AssistantID: a.assistantID, Stream: true})
	if err != nil {
		return nil, fmt.Errorf("marshal run request: %w", err)
	}

	endpoint := a.baseURL + "/threads/" + url.PathEscape(threadID) + "/runs"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build run request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")
	if a.orgID != "" {
		req.Header.Set("OpenAI-Organization", a.orgID)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("start run: status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))
	}

	return newRunStream(resp.Body), nil
}
