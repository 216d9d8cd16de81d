package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kailas-cloud/triage/internal/config"
	"github.com/kailas-cloud/triage/internal/domain/chunk"
	"github.com/kailas-cloud/triage/internal/version"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := rootCmd.Execute()
	return buf.String(), err
}

func TestVersionCmd(t *testing.T) {
	original := version.Version
	version.Version = "1.2.3-test"
	defer func() { version.Version = original }()

	out, err := execute(t, "", "version")

	require.NoError(t, err)
	assert.Contains(t, out, "triage version 1.2.3-test")
}

func TestChunkCmd_Markdown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.md")
	content := "# Pricing\n\nOffer for ACME.\n\n## Terms\n\nNet 30 days.\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	out, err := execute(t, "", "chunk", path, "--mode", "", "--target-tokens", "500", "--overlap-tokens", "50")
	require.NoError(t, err)

	var chunks []chunk.Chunk
	require.NoError(t, json.Unmarshal([]byte(out), &chunks))
	require.Len(t, chunks, 2)
	assert.Equal(t, "Pricing", chunks[0].Metadata.Section)
	assert.Equal(t, "Terms", chunks[1].Metadata.Section)
}

func TestChunkCmd_Stdin(t *testing.T) {
	out, err := execute(t, "short note", "chunk", "-", "--mode", "text", "--target-tokens", "500", "--overlap-tokens", "50")
	require.NoError(t, err)

	var chunks []chunk.Chunk
	require.NoError(t, json.Unmarshal([]byte(out), &chunks))
	require.Len(t, chunks, 1)
	assert.Equal(t, "short note", chunks[0].Content)
}

func TestChunkCmd_Errors(t *testing.T) {
	_, err := execute(t, "", "chunk", "-", "--mode", "pdf", "--target-tokens", "500", "--overlap-tokens", "50")
	assert.ErrorContains(t, err, "unknown mode")

	_, err = execute(t, "", "chunk", "-", "--mode", "", "--target-tokens", "10", "--overlap-tokens", "10")
	assert.ErrorContains(t, err, "--overlap-tokens")

	_, err = execute(t, "", "chunk", filepath.Join(t.TempDir(), "missing.txt"),
		"--mode", "", "--target-tokens", "500", "--overlap-tokens", "50")
	assert.ErrorContains(t, err, "read")
}

func TestChunkOptions(t *testing.T) {
	assert.Empty(t, chunkOptions(config.ChunkingConfig{}))
	assert.Len(t, chunkOptions(config.ChunkingConfig{TargetTokens: 200, OverlapTokens: 20, MinCodeUnit: 10, FallbackLines: 30}), 4)
}

func TestBuildEmbedder_Hash(t *testing.T) {
	cfg := config.Config{
		HTTP:     config.HTTPConfig{Port: 8080},
		Database: config.DatabaseConfig{Driver: config.DriverMemory},
		Metadata: config.MetadataConfig{Driver: config.DriverMemory},
	}
	cfg.ApplyDefaults()
	cfg.Embedding.Cache.Enabled = true

	vectors, err := buildVectorLayer(t.Context(), cfg, zap.NewNop())
	require.NoError(t, err)

	emb, checker := buildEmbedder(cfg, vectors.embStore, zap.NewNop())
	require.NotNil(t, checker)
	require.NoError(t, checker.HealthCheck(t.Context()))

	first, err := emb.Embed(t.Context(), "offer for acme")
	require.NoError(t, err)
	assert.Len(t, first.Embedding, cfg.Embedding.Dimensions)

	second, err := emb.Embed(t.Context(), "offer for acme")
	require.NoError(t, err)
	assert.Equal(t, first.Embedding, second.Embedding)
}

func TestBuildApp_Memory(t *testing.T) {
	cfg := config.Config{
		HTTP:     config.HTTPConfig{Port: 8080},
		Database: config.DatabaseConfig{Driver: config.DriverMemory},
		Metadata: config.MetadataConfig{Driver: config.DriverMemory},
	}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	a, err := buildApp(t.Context(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.close()

	assert.NotNil(t, a.server)
	assert.NotNil(t, a.pool)
}

func TestBuildApp_UnknownDriver(t *testing.T) {
	cfg := config.Config{Database: config.DatabaseConfig{Driver: "mongo"}}
	_, err := buildApp(t.Context(), cfg, zap.NewNop())
	assert.ErrorContains(t, err, "unknown database driver")
}
