package images

import (
	"context"
	"strings"

	"github.com/onkernel/kimd/lib/process"
)

// BuildArgs returns the kim arguments that build contextDir with the given
// Dockerfile and tag the result taggedName.
func BuildArgs(contextDir, dockerfile, taggedName string) []string {
	return []string{"build", "--file", dockerfilePath(contextDir, dockerfile), "--tag", taggedName, contextDir}
}

// dockerfilePath joins the Dockerfile onto the build context without
// cleaning, so "." and "Dockerfile" give "./Dockerfile".
func dockerfilePath(contextDir, dockerfile string) string {
	if strings.HasPrefix(dockerfile, "/") || contextDir == "" {
		return dockerfile
	}
	return strings.TrimRight(contextDir, "/") + "/" + dockerfile
}

func (m *manager) BuildImage(ctx context.Context, contextDir, dockerfile, taggedName string) (*process.Result, error) {
	return m.runRefreshable(ctx, BuildArgs(contextDir, dockerfile, taggedName))
}

func (m *manager) DeleteImage(ctx context.Context, id string) (*process.Result, error) {
	return m.runRefreshable(ctx, []string{"rmi", id})
}

func (m *manager) PullImage(ctx context.Context, taggedName string) (*process.Result, error) {
	return m.runRefreshable(ctx, []string{"pull", taggedName, "--debug"})
}

func (m *manager) PushImage(ctx context.Context, taggedName string) (*process.Result, error) {
	return m.runRefreshable(ctx, []string{"push", taggedName, "--debug"})
}

// runRefreshable runs a mutating command, streams its output to subscribers
// and requests one listing refresh once it has finished, whatever the outcome.
func (m *manager) runRefreshable(ctx context.Context, args []string) (*process.Result, error) {
	defer m.Refresh()

	res, err := m.runner.Run(ctx, args, process.WithOutput(m.publishOutput))
	if err != nil {
		m.logger.WarnContext(ctx, "kim command failed", "args", strings.Join(args, " "), "error", err)
		return res, err
	}
	if res.Stderr != "" {
		m.logger.DebugContext(ctx, "kim command wrote to stderr", "args", strings.Join(args, " "), "stderr", strings.TrimSpace(res.Stderr))
	}
	return res, nil
}

func (m *manager) publishOutput(chunk string, isStderr bool) {
	m.events.Publish(Event{Type: EventProcessOutput, Chunk: chunk, IsStderr: isStderr})
}
