// CLIP Image Encoder - turns uploaded images into 512-dimensional CLIP
// embeddings over HTTP.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Brownie44l1/clip-api/internal/config"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "clip-encoder",
	Short: "CLIP image embedding service",
	Long: `clip-encoder loads the CLIP ViT-B/32 visual encoder into ONNX Runtime and
serves L2-normalised 512-dimensional image embeddings.

Configuration comes from the environment (and an optional .env file):
PORT, MODEL_PATH, MODEL_METADATA_PATH, ONNXRUNTIME_LIB, DEVICE, LOG_LEVEL, ...

Examples:
  # Start the HTTP server (same as "clip-encoder serve")
  clip-encoder

  # Encode local files without starting a server
  clip-encoder encode cat.jpg dog.png`,
	Version:       config.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(encodeCmd)
}
