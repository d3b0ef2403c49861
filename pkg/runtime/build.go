package runtime

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types"
)

// BuildImage builds an image from a tar build context and returns the
// daemon's JSON progress stream. The caller is responsible for draining
// and closing the stream; the build is not complete until EOF.
func (r *DockerRuntime) BuildImage(ctx context.Context, buildContext io.Reader, tag, dockerfile string) (io.ReadCloser, error) {
	resp, err := r.client.ImageBuild(ctx, buildContext, types.ImageBuildOptions{
		Tags:       []string{tag},
		Dockerfile: dockerfile,
		Remove:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build image %s: %w", tag, err)
	}
	return resp.Body, nil
}
