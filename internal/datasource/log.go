package datasource

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"

	"github.com/t77yq/alert-engine/internal/evaluator"
	"github.com/t77yq/alert-engine/internal/model"
)

const defaultLogTail = "1000"

// ContainerLogReader is the part of the Docker client the log source uses
type ContainerLogReader interface {
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
}

// LogSource reads container log lines through the Docker API. The endpoint
// names the container, the query is a regex filter and the window bounds
// how far back to read. Matching lines are returned as an array.
type LogSource struct {
	logger *zap.Logger
	docker ContainerLogReader
}

// NewDockerLogSource connects to the Docker daemon from the environment
func NewDockerLogSource(logger *zap.Logger) (*LogSource, error) {
	docker, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return NewLogSource(docker, logger), nil
}

// NewLogSource creates a log source over an existing reader
func NewLogSource(docker ContainerLogReader, logger *zap.Logger) *LogSource {
	return &LogSource{
		logger: logger.Named("log-source"),
		docker: docker,
	}
}

// Fetch implements Source
func (s *LogSource) Fetch(ctx context.Context, cond *model.Condition, tenantID string, evalCtx *evaluator.Context) (any, error) {
	containerID := cond.DataSource.Endpoint
	if containerID == "" {
		return nil, fmt.Errorf("log source needs a container endpoint")
	}

	var filter *regexp.Regexp
	if cond.DataSource.Query != "" {
		re, err := regexp.Compile(cond.DataSource.Query)
		if err != nil {
			return nil, fmt.Errorf("invalid log filter: %w", err)
		}
		filter = re
	}

	options := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       defaultLogTail,
	}
	if since, ok := windowStart(cond, now(evalCtx)); ok {
		options.Since = fmt.Sprintf("%d", since.Unix())
	}

	reader, err := s.docker.ContainerLogs(ctx, containerID, options)
	if err != nil {
		return nil, fmt.Errorf("failed to get container logs: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read container logs: %w", err)
	}

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, bytes.NewReader(raw)); err != nil {
		// containers started with a TTY do not multiplex their streams
		stdout.Reset()
		stderr.Reset()
		stdout.Write(raw)
	}

	var lines []any
	for _, buf := range []*bytes.Buffer{&stdout, &stderr} {
		scanner := bufio.NewScanner(buf)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if filter != nil && !filter.MatchString(line) {
				continue
			}
			lines = append(lines, line)
		}
	}

	if len(lines) == 0 {
		return nil, nil
	}
	return lines, nil
}
