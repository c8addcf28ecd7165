package openai

import (
	"context"
	"io"
	"sync"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/gentcli/gent/internal/model"
)

// streamer adapts an OpenAI chat-completion chunk stream to model.Streamer.
// OpenAI deltas interleave text content and incremental tool-call argument
// fragments keyed by index; tool calls are buffered until the finish chunk
// arrives and then emitted whole, matching the anthropic adapter's contract
// that a tool_call chunk always carries complete input.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[sdk.ChatCompletionChunk]

	chunks chan model.Chunk

	errMu    sync.Mutex
	errSet   bool
	finalErr error
}

func newStreamer(ctx context.Context, stream *ssestream.Stream[sdk.ChatCompletionChunk]) model.Streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{
		ctx:    cctx,
		cancel: cancel,
		stream: stream,
		chunks: make(chan model.Chunk, 32),
	}
	go s.run()
	return s
}

func (s *streamer) Recv() (model.Chunk, error) {
	select {
	case chunk, ok := <-s.chunks:
		if ok {
			return chunk, nil
		}
		if err := s.err(); err != nil {
			return model.Chunk{}, err
		}
		return model.Chunk{}, io.EOF
	case <-s.ctx.Done():
		err := s.ctx.Err()
		s.setErr(err)
		return model.Chunk{}, err
	}
}

func (s *streamer) Close() error {
	s.cancel()
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}

func (s *streamer) run() {
	defer close(s.chunks)
	defer func() {
		if s.stream != nil {
			_ = s.stream.Close()
		}
	}()

	var (
		toolOrder    []int64
		toolBuffers  = map[int64]*toolCallBuffer{}
		finishReason string
		usage        model.TokenUsage
	)

	flushFinish := func() {
		for _, idx := range toolOrder {
			tb := toolBuffers[idx]
			if tb == nil || tb.id == "" {
				continue
			}
			if err := s.emit(model.Chunk{
				Type:       model.ChunkTypeToolCall,
				ToolCallID: tb.id,
				ToolName:   tb.name,
				Input:      normalizeArguments(tb.args),
			}); err != nil {
				return
			}
		}
		u := usage
		_ = s.emit(model.Chunk{Type: model.ChunkTypeFinish, Reason: translateFinishReason(finishReason), Usage: &u})
	}

	for {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		default:
		}
		if !s.stream.Next() {
			if err := s.stream.Err(); err != nil {
				s.setErr(classifyError("stream", err))
				return
			}
			if err := s.ctx.Err(); err != nil {
				s.setErr(err)
				return
			}
			// Usage-only trailer chunks arrive after the finish-reason
			// choice; emit the finish once the stream is fully drained.
			flushFinish()
			return
		}
		chunk := s.stream.Current()
		if chunk.Usage.PromptTokens != 0 || chunk.Usage.CompletionTokens != 0 {
			usage.InputTokens = int(chunk.Usage.PromptTokens)
			usage.OutputTokens = int(chunk.Usage.CompletionTokens)
			usage.Model = chunk.Model
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			if err := s.emit(model.Chunk{Type: model.ChunkTypeText, Text: choice.Delta.Content}); err != nil {
				return
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			tb := toolBuffers[tc.Index]
			if tb == nil {
				tb = &toolCallBuffer{}
				toolBuffers[tc.Index] = tb
				toolOrder = append(toolOrder, tc.Index)
			}
			if tc.ID != "" {
				tb.id = tc.ID
			}
			if tc.Function.Name != "" {
				tb.name = tc.Function.Name
			}
			tb.args += tc.Function.Arguments
		}
		if choice.FinishReason != "" {
			finishReason = choice.FinishReason
		}
	}
}

func (s *streamer) emit(chunk model.Chunk) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case s.chunks <- chunk:
		return nil
	}
}

func (s *streamer) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.errSet {
		return
	}
	s.errSet = true
	s.finalErr = err
}

func (s *streamer) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.finalErr
}

type toolCallBuffer struct {
	id   string
	name string
	args string
}
