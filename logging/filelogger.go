package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/acarl005/stripansi"
	"go.uber.org/multierr"

	"github.com/blendertools/infra/addon-acceptor/types"
)

const (
	RunDirectoryPrefix = "testrun-" // Standardized prefix for run directories
)

// ResultSink is an interface for different ways of consuming entry point results
type ResultSink interface {
	// Consume processes a single entry point result
	Consume(result *types.EntrypointResult, runID string) error
	// Complete is called when all results have been consumed
	Complete(runID string) error
}

// FileLogger handles writing entry point output to files
type FileLogger struct {
	baseDir      string                // Base directory for logs
	logDir       string                // Root log directory
	failedDir    string                // Directory for failed entry points
	summaryFile  string                // Path to the summary file
	allLogsFile  string                // Path to the combined log file
	mu           sync.Mutex            // Protects concurrent file operations
	sinks        []ResultSink          // Collection of result consumers
	asyncWriters map[string]*AsyncFile // Map of async file writers
	runID        string                // Current run ID
}

// AsyncFile provides non-blocking file writing capabilities
type AsyncFile struct {
	file    *os.File
	queue   chan []byte
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
}

// NewAsyncFile creates a new AsyncFile for non-blocking writes
func NewAsyncFile(filepath string) (*AsyncFile, error) {
	file, err := os.Create(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file %s: %w", filepath, err)
	}

	af := &AsyncFile{
		file:  file,
		queue: make(chan []byte, 100), // Buffer channel to reduce blocking
	}

	af.wg.Add(1)
	go af.processQueue()

	return af, nil
}

// Write queues data to be written asynchronously
func (af *AsyncFile) Write(data []byte) error {
	af.mu.Lock()
	defer af.mu.Unlock()

	if af.stopped {
		return fmt.Errorf("async file is closed")
	}

	// Make a copy of the data to avoid race conditions
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	af.queue <- dataCopy
	return nil
}

// processQueue processes the write queue in the background
func (af *AsyncFile) processQueue() {
	defer af.wg.Done()

	for data := range af.queue {
		_, err := af.file.Write(data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error writing to file: %v\n", err)
		}
	}
}

// Close stops the async writer and closes the file
func (af *AsyncFile) Close() error {
	af.mu.Lock()
	if !af.stopped {
		af.stopped = true
		close(af.queue)
	}
	af.mu.Unlock()

	// Wait for all writes to complete
	af.wg.Wait()
	return af.file.Close()
}

// NewFileLogger creates a new FileLogger with given configuration
func NewFileLogger(baseDir string, runID string) (*FileLogger, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}
	if baseDir == "" {
		return nil, fmt.Errorf("baseDir cannot be empty")
	}

	logDir := filepath.Join(baseDir, RunDirectoryPrefix+runID)
	failedDir := filepath.Join(logDir, "failed")
	summaryFile := filepath.Join(logDir, "summary.log")
	allLogsFile := filepath.Join(logDir, "all.log")

	dirs := []string{
		baseDir,
		logDir,
		failedDir,
		filepath.Join(logDir, "passed"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	logger := &FileLogger{
		baseDir:      baseDir,
		logDir:       logDir,
		failedDir:    failedDir,
		summaryFile:  summaryFile,
		allLogsFile:  allLogsFile,
		sinks:        make([]ResultSink, 0),
		asyncWriters: make(map[string]*AsyncFile),
		runID:        runID,
	}

	allLogsSink := &AllLogsFileSink{logger: logger}
	logger.sinks = append(logger.sinks, allLogsSink)

	perEntrypointSink := &PerEntrypointFileSink{
		logger:    logger,
		processed: make(map[string]bool),
	}
	logger.sinks = append(logger.sinks, perEntrypointSink)

	return logger, nil
}

// getAsyncWriter gets or creates an AsyncFile for the given path
func (l *FileLogger) getAsyncWriter(path string) (*AsyncFile, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if writer, exists := l.asyncWriters[path]; exists {
		return writer, nil
	}

	// Results may target a different run than the one this logger was
	// created for, so the run directory may not exist yet.
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", filepath.Dir(path), err)
	}

	writer, err := NewAsyncFile(path)
	if err != nil {
		return nil, err
	}
	l.asyncWriters[path] = writer
	return writer, nil
}

// closeAllWriters closes all async writers
func (l *FileLogger) closeAllWriters() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, writer := range l.asyncWriters {
		_ = writer.Close() // Ignore errors on close
	}
	l.asyncWriters = make(map[string]*AsyncFile)
}

// OpenWriters returns the number of async file writers currently open.
// After Complete it is zero.
func (l *FileLogger) OpenWriters() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.asyncWriters)
}

// GetDirectoryForRunID returns the path for a specific runID
// The runID must be provided, otherwise an error is returned
func (l *FileLogger) GetDirectoryForRunID(runID string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("runID cannot be empty")
	}
	if runID == l.runID {
		return l.logDir, nil
	}
	return filepath.Join(l.baseDir, RunDirectoryPrefix+runID), nil
}

// LogEntrypointResult processes an entry point result through all registered sinks
func (l *FileLogger) LogEntrypointResult(result *types.EntrypointResult, runID string) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}

	for _, sink := range l.sinks {
		if err := sink.Consume(result, runID); err != nil {
			return fmt.Errorf("error in sink: %w", err)
		}
	}
	return nil
}

// LogSummary writes a summary of the run to a file
// The runID must be provided, otherwise an error is returned
func (l *FileLogger) LogSummary(summary string, runID string) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}

	summaryFile, err := l.GetSummaryFileForRunID(runID)
	if err != nil {
		return err
	}

	writer, err := l.getAsyncWriter(summaryFile)
	if err != nil {
		return err
	}
	return writer.Write([]byte(stripansi.Strip(summary)))
}

// Complete finalizes all sinks and closes all file writers. Every sink gets
// its Complete call even when an earlier one fails.
func (l *FileLogger) Complete(runID string) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}

	var errs error
	for _, sink := range l.sinks {
		if err := sink.Complete(runID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("error completing sink: %w", err))
		}
	}
	l.closeAllWriters()
	return errs
}

// GetBaseDir returns the base directory for this run
func (l *FileLogger) GetBaseDir() string {
	return l.logDir
}

// GetFailedDir returns the directory containing logs for failed entry points
func (l *FileLogger) GetFailedDir() string {
	return l.failedDir
}

// GetSummaryFile returns the path to the summary file
func (l *FileLogger) GetSummaryFile() string {
	return l.summaryFile
}

// GetAllLogsFile returns the path to the all logs file
func (l *FileLogger) GetAllLogsFile() string {
	return l.allLogsFile
}

// GetFailedDirForRunID returns the failed directory for a specific runID
func (l *FileLogger) GetFailedDirForRunID(runID string) (string, error) {
	baseDir, err := l.GetDirectoryForRunID(runID)
	if err != nil {
		return "", err
	}
	return filepath.Join(baseDir, "failed"), nil
}

// GetSummaryFileForRunID returns the summary file for a specific runID
func (l *FileLogger) GetSummaryFileForRunID(runID string) (string, error) {
	baseDir, err := l.GetDirectoryForRunID(runID)
	if err != nil {
		return "", err
	}
	return filepath.Join(baseDir, "summary.log"), nil
}

// GetAllLogsFileForRunID returns the path to the all.log file for the given runID
func (l *FileLogger) GetAllLogsFileForRunID(runID string) (string, error) {
	baseDir, err := l.GetDirectoryForRunID(runID)
	if err != nil {
		return "", err
	}
	return filepath.Join(baseDir, "all.log"), nil
}

// GetRunID returns the current runID
func (l *FileLogger) GetRunID() string {
	return l.runID
}

// GetSinkByType returns a sink of the specified type if it exists
// The type is determined by the name of the sink's struct
func (l *FileLogger) GetSinkByType(sinkType string) (ResultSink, bool) {
	for _, sink := range l.sinks {
		typeName := fmt.Sprintf("%T", sink)
		if idx := strings.LastIndex(typeName, "."); idx >= 0 {
			typeName = typeName[idx+1:]
		}
		typeName = strings.TrimPrefix(typeName, "*")

		if typeName == sinkType {
			return sink, true
		}
	}
	return nil, false
}

// Helper functions

// safeFilename converts a string to a safe filename by replacing problematic characters
func safeFilename(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, ":", "_")
	s = strings.ReplaceAll(s, "*", "_")
	s = strings.ReplaceAll(s, "?", "_")
	s = strings.ReplaceAll(s, "\"", "_")
	s = strings.ReplaceAll(s, "<", "_")
	s = strings.ReplaceAll(s, ">", "_")
	s = strings.ReplaceAll(s, "|", "_")
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "...", "")
	return s
}

// getReadableEntrypointFilename generates a user-friendly filename for an
// entry point, prefixed with its gate and suite for context.
func getReadableEntrypointFilename(metadata types.EntrypointMetadata) string {
	fileName := metadata.ID
	if fileName == "" && metadata.Script != "" {
		fileName = strings.TrimSuffix(filepath.Base(metadata.Script), filepath.Ext(metadata.Script))
	}
	if fileName == "" {
		fileName = "entrypoint"
	}

	prefix := ""
	if metadata.Gate != "" && metadata.Suite != "" {
		prefix = fmt.Sprintf("%s-%s", metadata.Gate, metadata.Suite)
	} else if metadata.Gate != "" {
		prefix = metadata.Gate
	} else if metadata.Suite != "" {
		prefix = metadata.Suite
	}

	var nameBuilder strings.Builder
	if prefix != "" && prefix != fileName {
		nameBuilder.WriteString(prefix)
		nameBuilder.WriteString("_")
	}
	nameBuilder.WriteString(fileName)

	return safeFilename(nameBuilder.String())
}

// Sink implementations

// AllLogsFileSink writes all entry point results to a single "all.log" file
type AllLogsFileSink struct {
	logger *FileLogger
}

// Consume writes an entry point result to the all.log file
func (s *AllLogsFileSink) Consume(result *types.EntrypointResult, runID string) error {
	allLogsFile, err := s.logger.GetAllLogsFileForRunID(runID)
	if err != nil {
		return err
	}

	writer, err := s.logger.getAsyncWriter(allLogsFile)
	if err != nil {
		return err
	}

	passed, failed, skipped := result.CaseStats()

	var content strings.Builder
	fmt.Fprintf(&content, "\n")
	fmt.Fprintf(&content, "┌─────────────────────────────────────────────────────────────────────┐\n")
	fmt.Fprintf(&content, "│ ENTRYPOINT: %-58s │\n", truncateString(result.Metadata.GetName(), 58))
	fmt.Fprintf(&content, "├─────────────────────────────────────────────────────────────────────┤\n")
	fmt.Fprintf(&content, "│ Status:   %-62s │\n", result.Status)
	fmt.Fprintf(&content, "│ Script:   %-62s │\n", truncateString(result.Metadata.Script, 62))
	fmt.Fprintf(&content, "│ Gate:     %-62s │\n", truncateString(result.Metadata.Gate, 62))
	fmt.Fprintf(&content, "│ Suite:    %-62s │\n", truncateString(result.Metadata.Suite, 62))
	fmt.Fprintf(&content, "│ Cases:    %-62s │\n", fmt.Sprintf("%d ran, %d passed, %d failed, %d skipped", result.Ran, passed, failed, skipped))
	fmt.Fprintf(&content, "│ Duration: %-62s │\n", result.Duration)
	fmt.Fprintf(&content, "│ Time:     %-62s │\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&content, "└─────────────────────────────────────────────────────────────────────┘\n\n")

	if result.Error != nil {
		fmt.Fprintf(&content, "ERROR:\n")
		fmt.Fprintf(&content, "~~~~~~\n")
		fmt.Fprintf(&content, "%s\n\n", result.Error.Error())
	}

	// Blender and ffmpeg colorize their output; strip escape codes so the
	// log stays grep-able.
	if result.Stderr != "" {
		fmt.Fprintf(&content, "STDERR:\n")
		fmt.Fprintf(&content, "~~~~~~~\n")
		fmt.Fprintf(&content, "%s\n", indentText(stripansi.Strip(result.Stderr), "  "))
	}
	if result.Stdout != "" {
		fmt.Fprintf(&content, "STDOUT:\n")
		fmt.Fprintf(&content, "~~~~~~~\n")
		fmt.Fprintf(&content, "%s\n", indentText(stripansi.Strip(result.Stdout), "  "))
	}

	fmt.Fprintf(&content, "\n")
	return writer.Write([]byte(content.String()))
}

// Complete is a no-op for AllLogsFileSink
func (s *AllLogsFileSink) Complete(runID string) error {
	return nil
}

// indentText adds indentation to each line of text for better readability
func indentText(text, indent string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = indent + line
		}
	}
	return strings.Join(lines, "\n")
}

// truncateString truncates a string to the specified max length
// and adds an ellipsis if needed
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// PerEntrypointFileSink creates a dedicated log file for each entry point in
// the passed/failed directories with its full captured output
type PerEntrypointFileSink struct {
	logger    *FileLogger
	processed map[string]bool // Track which files we've already written
	mu        sync.Mutex      // Protect the processed map
}

// Consume writes a complete entry point result to a dedicated file
func (s *PerEntrypointFileSink) Consume(result *types.EntrypointResult, runID string) error {
	baseDir, err := s.logger.GetDirectoryForRunID(runID)
	if err != nil {
		return err
	}

	passedDir := filepath.Join(baseDir, "passed")
	failedDir := filepath.Join(baseDir, "failed")
	for _, dir := range []string{baseDir, passedDir, failedDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	filename := getReadableEntrypointFilename(result.Metadata)
	targetDir := passedDir
	if result.Status == types.StatusFail || result.Status == types.StatusError {
		targetDir = failedDir
	}
	path := filepath.Join(targetDir, filename+".log")

	s.mu.Lock()
	if s.processed[path] {
		s.mu.Unlock()
		return nil
	}
	s.processed[path] = true
	s.mu.Unlock()

	writer, err := s.logger.getAsyncWriter(path)
	if err != nil {
		return err
	}
	return writer.Write([]byte(renderEntrypointLog(result)))
}

// renderEntrypointLog builds the per-entry-point log file content
func renderEntrypointLog(result *types.EntrypointResult) string {
	var content strings.Builder

	if result.Status == types.StatusFail || result.Status == types.StatusError {
		fmt.Fprintf(&content, "\n%s\n", strings.Repeat("-", 80))
		if result.TimedOut {
			fmt.Fprintf(&content, "TIMEOUT ERROR SUMMARY:\n")
			fmt.Fprintf(&content, "======================\n\n")
			fmt.Fprintf(&content, "This entry point failed due to timeout!\n")
			fmt.Fprintf(&content, "Timeout Duration: %v\n", result.Metadata.Timeout)
			if result.Error != nil {
				fmt.Fprintf(&content, "Error: %s\n", result.Error.Error())
			}
			fmt.Fprintf(&content, "\n")
		} else {
			fmt.Fprintf(&content, "ERROR SUMMARY:\n")
			fmt.Fprintf(&content, "=============\n\n")
			if result.Error != nil {
				fmt.Fprintf(&content, "%s\n\n", result.Error.Error())
			}
			for _, c := range result.Cases {
				if c.Status != types.StatusFail && c.Status != types.StatusError {
					continue
				}
				fmt.Fprintf(&content, "Case:   %s [%s]\n", c.FullName(), c.Status)
				if c.Message != "" {
					fmt.Fprintf(&content, "%s\n\n", indentText(c.Message, "  "))
				}
			}
		}
	} else {
		fmt.Fprintf(&content, "RESULT SUMMARY:\n")
		fmt.Fprintf(&content, "===============\n\n")
		fmt.Fprintf(&content, "Entry point passed: %s\n", result.Metadata.GetName())
		fmt.Fprintf(&content, "Cases ran:          %d\n", result.Ran)
		fmt.Fprintf(&content, "Duration:           %s\n", formatDuration(result.Duration))
	}

	fmt.Fprintf(&content, "\n%s\n", strings.Repeat("-", 80))
	fmt.Fprintf(&content, "TEST OUTPUT (stderr):\n")
	fmt.Fprintf(&content, "=====================\n\n")
	if result.Stderr != "" {
		fmt.Fprintf(&content, "%s\n", stripansi.Strip(result.Stderr))
	} else {
		fmt.Fprintf(&content, "No output captured.\n")
	}

	if result.Stdout != "" {
		fmt.Fprintf(&content, "\n%s\n", strings.Repeat("-", 80))
		fmt.Fprintf(&content, "SUBPROCESS OUTPUT (stdout):\n")
		fmt.Fprintf(&content, "===========================\n\n")
		fmt.Fprintf(&content, "%s\n", stripansi.Strip(result.Stdout))
	}

	return content.String()
}

// Complete is a no-op for PerEntrypointFileSink
func (s *PerEntrypointFileSink) Complete(runID string) error {
	return nil
}

// formatDuration formats a duration for display
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Truncate(time.Millisecond).String()
}
