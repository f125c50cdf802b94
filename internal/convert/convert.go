package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/andresuchdata/dwd-exporter/internal/domain"
	"github.com/andresuchdata/dwd-exporter/pkg/logger"
)

// Converter turns a downloaded payload into an artifact ready for upload.
type Converter interface {
	Convert(ctx context.Context, payload domain.LocalPayload) (domain.ExportedArtifact, error)
}

// OutputPath places the artifact next to the payload, named after the
// payload with its source suffix swapped for the target suffix. The output
// never coincides with the payload itself.
func OutputPath(names domain.KeyDeriver, payloadPath string) string {
	output := filepath.Join(filepath.Dir(payloadPath), names.TargetName(filepath.Base(payloadPath)))
	if output == filepath.Clean(payloadPath) {
		output += ".out"
	}
	return output
}

const (
	placeholderInput  = "{input}"
	placeholderOutput = "{output}"
)

// stderrLimit caps how much converter stderr ends up in an error message.
const stderrLimit = 4096

// CommandConverter runs an external program once per payload.
type CommandConverter struct {
	args    []string
	names   domain.KeyDeriver
	timeout time.Duration
	log     zerolog.Logger
}

// NewCommandConverter parses command into arguments. Arguments equal to or
// containing {input} and {output} are substituted per payload; when the
// command has no placeholders both paths are appended.
func NewCommandConverter(command string, names domain.KeyDeriver, timeout time.Duration) (*CommandConverter, error) {
	args := strings.Fields(command)
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: converter command is empty", domain.ErrConfig)
	}
	if !strings.Contains(command, placeholderInput) && !strings.Contains(command, placeholderOutput) {
		args = append(args, placeholderInput, placeholderOutput)
	}
	return &CommandConverter{
		args:    args,
		names:   names,
		timeout: timeout,
		log:     logger.Component("converter"),
	}, nil
}

func (c *CommandConverter) Convert(ctx context.Context, payload domain.LocalPayload) (domain.ExportedArtifact, error) {
	output := OutputPath(c.names, payload.Path)
	_ = os.Remove(output)

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	argv := make([]string, len(c.args))
	for i, a := range c.args {
		a = strings.ReplaceAll(a, placeholderInput, payload.Path)
		argv[i] = strings.ReplaceAll(a, placeholderOutput, output)
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr

	start := time.Now()
	c.log.Debug().Str("input", payload.Path).Str("output", output).Msg("running converter")

	if err := cmd.Run(); err != nil {
		_ = os.Remove(output)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.ExportedArtifact{}, fmt.Errorf("converter %s: %w", argv[0], ctxErr)
		}
		return domain.ExportedArtifact{}, fmt.Errorf("converter %s: %w%s", argv[0], err, stderrSuffix(stderr.Bytes()))
	}

	artifact, err := checkOutput(output)
	if err != nil {
		return domain.ExportedArtifact{}, err
	}

	c.log.Debug().
		Str("output", output).
		Int64("size", artifact.Size).
		Dur("duration", time.Since(start)).
		Msg("converter finished")
	return artifact, nil
}

func stderrSuffix(b []byte) string {
	s := strings.TrimSpace(string(b))
	if s == "" {
		return ""
	}
	if len(s) > stderrLimit {
		s = s[len(s)-stderrLimit:]
	}
	return ": " + s
}

func checkOutput(output string) (domain.ExportedArtifact, error) {
	info, err := os.Stat(output)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.ExportedArtifact{}, fmt.Errorf("converter produced no output at %s", output)
		}
		return domain.ExportedArtifact{}, fmt.Errorf("stat converter output: %w", err)
	}
	if info.Size() == 0 {
		_ = os.Remove(output)
		return domain.ExportedArtifact{}, fmt.Errorf("converter produced an empty file at %s", output)
	}
	return domain.ExportedArtifact{Path: output, Size: info.Size()}, nil
}

// PassthroughConverter copies the payload unchanged to the output path.
type PassthroughConverter struct {
	names domain.KeyDeriver
}

func NewPassthroughConverter(names domain.KeyDeriver) *PassthroughConverter {
	return &PassthroughConverter{names: names}
}

func (c *PassthroughConverter) Convert(ctx context.Context, payload domain.LocalPayload) (domain.ExportedArtifact, error) {
	if err := ctx.Err(); err != nil {
		return domain.ExportedArtifact{}, err
	}
	output := OutputPath(c.names, payload.Path)

	src, err := os.Open(payload.Path)
	if err != nil {
		return domain.ExportedArtifact{}, fmt.Errorf("open payload: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(output)
	if err != nil {
		return domain.ExportedArtifact{}, fmt.Errorf("create output: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = os.Remove(output)
		return domain.ExportedArtifact{}, fmt.Errorf("copy payload: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(output)
		return domain.ExportedArtifact{}, fmt.Errorf("close output: %w", err)
	}

	return checkOutput(output)
}

var (
	_ Converter = (*CommandConverter)(nil)
	_ Converter = (*PassthroughConverter)(nil)
)
