package questionbank

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LLMLogger records every model interaction of one generation or translation run
type LLMLogger struct {
	mu     sync.Mutex
	runID  string
	out    *lumberjack.Logger
	log    *zap.SugaredLogger
	closed bool
}

// NewLLMLogger opens dir/<runID>.log and writes the run header
func NewLLMLogger(dir, runID string, req GenerationRequest) (*LLMLogger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	out := &lumberjack.Logger{
		Filename:   filepath.Join(dir, runID+".log"),
		MaxSize:    20,
		MaxBackups: 2,
	}
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:     "time",
		MessageKey:  "msg",
		LineEnding:  zapcore.DefaultLineEnding,
		EncodeTime:  zapcore.TimeEncoderOfLayout("15:04:05.000"),
		EncodeLevel: zapcore.CapitalLevelEncoder,
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(out), zap.DebugLevel)

	ll := &LLMLogger{
		runID: runID,
		out:   out,
		log:   zap.New(core).Sugar().With("run", runID),
	}

	ll.log.Infow("run started",
		"discipline", req.Discipline,
		"difficulty", req.Difficulty,
		"type", req.Type,
		"batch_size", req.BatchSize,
		"source_material_chars", len(req.SourceMaterial),
		"started", time.Now().Format(time.RFC3339),
	)
	return ll, nil
}

// RunID returns the identifier the log file is named after
func (ll *LLMLogger) RunID() string {
	if ll == nil {
		return ""
	}
	return ll.runID
}

// LogLLMRequest logs an LLM request
func (ll *LLMLogger) LogLLMRequest(module, systemPrompt, prompt string) {
	if ll == nil {
		return
	}
	ll.log.Infow("llm request", "module", module, "system", systemPrompt, "prompt", prompt)
}

// LogLLMResponse logs an LLM response
func (ll *LLMLogger) LogLLMResponse(module, response string) {
	if ll == nil {
		return
	}
	ll.log.Infow("llm response", "module", module, "response", response)
}

// LogSkippedRow logs a parsed row that did not become a question
func (ll *LLMLogger) LogSkippedRow(line int, reason SkipReason) {
	if ll == nil {
		return
	}
	ll.log.Infow("row skipped", "line", line, "reason", string(reason))
}

// LogDedupResult logs the result of deduplication
func (ll *LLMLogger) LogDedupResult(questionID string, result DedupResult) {
	if ll == nil {
		return
	}
	if result.IsDuplicate {
		ll.log.Infow("duplicate", "question", questionID, "duplicate_of", result.DuplicateID, "reason", result.Reason)
		return
	}
	ll.log.Debugw("unique", "question", questionID)
}

// Close writes the completion marker and closes the file
func (ll *LLMLogger) Close() error {
	if ll == nil {
		return nil
	}
	ll.mu.Lock()
	defer ll.mu.Unlock()

	if ll.closed {
		return nil
	}
	ll.closed = true
	ll.log.Infow("run complete", "completed", time.Now().Format(time.RFC3339))
	_ = ll.log.Sync()
	return ll.out.Close()
}
