package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sboxhq/sbox/pkg/config"
	"github.com/sboxhq/sbox/pkg/embedded"
	"github.com/sboxhq/sbox/pkg/runtime"
)

var imageCmd = &cobra.Command{
	Use:   "image",
	Short: "Manage the sandbox container image",
}

var imageBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the sandbox image from the embedded definition",
	Long: `Build the sandbox container image from the Dockerfile and REPL server
embedded in this binary, so a fresh host needs nothing beyond Docker and
this executable.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		tag, _ := cmd.Flags().GetString("tag")

		buildCtx, err := embedded.BuildContext()
		if err != nil {
			return fmt.Errorf("failed to assemble build context: %v", err)
		}

		rt, err := runtime.NewDockerRuntime()
		if err != nil {
			return fmt.Errorf("failed to create Docker runtime: %v", err)
		}
		defer rt.Close()

		fmt.Printf("Building %s...\n", tag)
		resp, err := rt.BuildImage(context.Background(), buildCtx, tag, embedded.DockerfileName)
		if err != nil {
			return fmt.Errorf("failed to start image build: %v", err)
		}
		defer resp.Close()

		if err := drainBuildOutput(resp); err != nil {
			return err
		}
		fmt.Printf("✓ Image %s built\n", tag)
		return nil
	},
}

// drainBuildOutput streams the Docker build progress to stdout and surfaces
// the first build error.
func drainBuildOutput(r io.Reader) error {
	dec := json.NewDecoder(r)
	for {
		var msg struct {
			Stream string `json:"stream"`
			Status string `json:"status"`
			Error  string `json:"error"`
		}
		if err := dec.Decode(&msg); err == io.EOF {
			return nil
		} else if err != nil {
			return fmt.Errorf("failed to read build output: %v", err)
		}
		if msg.Error != "" {
			return fmt.Errorf("build failed: %s", msg.Error)
		}
		if msg.Stream != "" {
			fmt.Print(msg.Stream)
		} else if msg.Status != "" {
			fmt.Println(msg.Status)
		}
	}
}

func init() {
	imageCmd.AddCommand(imageBuildCmd)

	imageBuildCmd.Flags().String("tag", config.DefaultSandboxImage, "Tag for the built image")
}
