package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/triage/internal/domain/chunk"
)

var (
	chunkMode    string
	chunkTarget  int
	chunkOverlap int
)

var chunkCmd = &cobra.Command{
	Use:   "chunk [file]",
	Short: "Print the chunks of a file as JSON",
	Long: `Splits a file the way the indexer does and prints the chunks as JSON.
The strategy is picked from the file extension unless --mode is set.
Reads stdin when the file is "-".`,
	Args: cobra.ExactArgs(1),
	RunE: runChunk,
}

func init() {
	chunkCmd.Flags().StringVarP(&chunkMode, "mode", "m", "", "text, markdown or code (default: by extension)")
	chunkCmd.Flags().IntVar(&chunkTarget, "target-tokens", chunk.DefaultTargetTokens, "token budget per chunk")
	chunkCmd.Flags().IntVar(&chunkOverlap, "overlap-tokens", chunk.DefaultOverlapTokens, "tokens repeated between chunks")
	rootCmd.AddCommand(chunkCmd)
}

func runChunk(cmd *cobra.Command, args []string) error {
	if chunkOverlap >= chunkTarget {
		return fmt.Errorf("--overlap-tokens (%d) must be below --target-tokens (%d)", chunkOverlap, chunkTarget)
	}

	name := args[0]
	var (
		data []byte
		err  error
	)
	if name == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(filepath.Clean(name))
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}

	c := chunk.New(chunk.WithTargetTokens(chunkTarget), chunk.WithOverlapTokens(chunkOverlap))
	content := string(data)

	var chunks []chunk.Chunk
	switch chunk.Mode(chunkMode) {
	case "":
		chunks = c.Auto(content, name)
	case chunk.ModeText:
		chunks = c.Text(content)
	case chunk.ModeMarkdown:
		chunks = c.Markdown(content)
	case chunk.ModeCode:
		_, lang := chunk.DetectMode(name)
		chunks = c.Code(content, lang)
	default:
		return fmt.Errorf("unknown mode %q", chunkMode)
	}
	if chunks == nil {
		chunks = []chunk.Chunk{}
	}

	out, err := json.MarshalIndent(chunks, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal chunks: %w", err)
	}
	cmd.Println(string(out))
	return nil
}
