package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func generateEnvExample(cmd *cobra.Command) error {
	fmt.Println("Generating .env.example file from current configuration...")

	content := generateEnvExampleContent(cmd)

	if err := os.WriteFile(".env.example", []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write .env.example: %w", err)
	}

	fmt.Println("✅ Successfully generated .env.example file")
	return nil
}

func generateEnvExampleContent(cmd *cobra.Command) string {
	var content strings.Builder

	content.WriteString("# =============================================================================\n")
	content.WriteString("# Setlistify Configuration\n")
	content.WriteString("# =============================================================================\n")
	content.WriteString("#\n")
	content.WriteString("# Copy this file to .env and update with your values\n")
	content.WriteString("# All environment variables have CLI flag equivalents (use --help to see them)\n")
	content.WriteString("#\n")
	content.WriteString("# Format: SETLISTIFY_<SECTION>_<SETTING>=value\n")
	content.WriteString("# CLI equivalent: --<section>-<setting>\n")
	content.WriteString("#\n\n")

	generateSpotifySection(&content, cmd)
	generateSetlistFMSection(&content, cmd)
	generateLLMSection(&content, cmd)
	generateAppSection(&content, cmd)
	generateServerSection(&content, cmd)
	generateLoggingSection(&content, cmd)
	generateSetupSteps(&content)

	return content.String()
}

func flagToEnvVar(flagName string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

func getDefaultValueString(cmd *cobra.Command, flagName string) string {
	if f := cmd.PersistentFlags().Lookup(flagName); f != nil {
		return f.DefValue
	}
	return ""
}

func sectionHeader(content *strings.Builder, title string) {
	content.WriteString("# -----------------------------------------------------------------------------\n")
	content.WriteString("# " + title + "\n")
	content.WriteString("# -----------------------------------------------------------------------------\n")
}

// writeSetting emits one variable with its current flag default and a comment.
func writeSetting(content *strings.Builder, cmd *cobra.Command, flagName, comment string) {
	def := getDefaultValueString(cmd, flagName)
	fmt.Fprintf(content, "%s=%s  # %s (default: %q)\n", flagToEnvVar(flagName), def, comment, def)
}

func generateSpotifySection(content *strings.Builder, cmd *cobra.Command) {
	sectionHeader(content, "Spotify Configuration - Required")
	content.WriteString("# Get these from https://developer.spotify.com/dashboard\n")

	fmt.Fprintf(content, "%s=your_spotify_client_id_here          # Spotify app client ID\n",
		flagToEnvVar("spotify-client-id"))
	fmt.Fprintf(content, "%s=your_spotify_client_secret_here  # Spotify app client secret\n",
		flagToEnvVar("spotify-client-secret"))
	fmt.Fprintf(content, "%s=http://127.0.0.1:8080/callback    # OAuth callback URL (default: auto-generated)\n",
		flagToEnvVar("spotify-redirect-url"))
	writeSetting(content, cmd, "spotify-token-path", "Token storage path, written by `setlistify auth`")
	content.WriteString("\n")
}

func generateSetlistFMSection(content *strings.Builder, cmd *cobra.Command) {
	sectionHeader(content, "setlist.fm Configuration - Required")
	content.WriteString("# Request a key at https://www.setlist.fm/settings/api\n")

	fmt.Fprintf(content, "%s=your_setlistfm_api_key_here     # setlist.fm API key\n",
		flagToEnvVar("setlistfm-api-key"))
	writeSetting(content, cmd, "setlistfm-base-url", "API base URL")
	writeSetting(content, cmd, "setlistfm-requests-per-sec", "Client-side rate limit, 0 disables")
	writeSetting(content, cmd, "setlistfm-max-retries", "Retries on 429 and 5xx")
	content.WriteString("\n")
}

func generateLLMSection(content *strings.Builder, cmd *cobra.Command) {
	sectionHeader(content, "LLM Configuration - Optional, enables setlist prediction")
	writeSetting(content, cmd, "llm-provider", "Provider: none, openai, anthropic, ollama")
	content.WriteString("\n")

	content.WriteString("# OpenAI: set SETLISTIFY_LLM_PROVIDER=openai\n")
	fmt.Fprintf(content, "# %s=sk-...                           # OpenAI API key\n", flagToEnvVar("llm-api-key"))
	fmt.Fprintf(content, "# %s=gpt-4o-mini                        # Model name\n", flagToEnvVar("llm-model"))
	content.WriteString("\n")

	content.WriteString("# Anthropic: set SETLISTIFY_LLM_PROVIDER=anthropic\n")
	fmt.Fprintf(content, "# %s=sk-ant-...                       # Anthropic API key\n", flagToEnvVar("llm-api-key"))
	fmt.Fprintf(content, "# %s=claude-3-5-haiku-latest           # Model name\n", flagToEnvVar("llm-model"))
	content.WriteString("\n")

	content.WriteString("# Ollama: set SETLISTIFY_LLM_PROVIDER=ollama\n")
	fmt.Fprintf(content, "# %s=http://localhost:11434          # Ollama server URL\n", flagToEnvVar("llm-base-url"))
	fmt.Fprintf(content, "# %s=llama3.2                          # Model name (must be installed in Ollama)\n", flagToEnvVar("llm-model"))
	content.WriteString("\n")
}

func generateAppSection(content *strings.Builder, cmd *cobra.Command) {
	sectionHeader(content, "Application Settings")
	writeSetting(content, cmd, "daily-quota", "Predictions per user per UTC day")
	writeSetting(content, cmd, "resolve-concurrency", "Concurrent Spotify lookups per setlist")
	writeSetting(content, cmd, "max-setlist-pages", "Pages of setlist history per artist")
	writeSetting(content, cmd, "track-cache-size", "Resolved tracks kept in memory")
	writeSetting(content, cmd, "flood-limit-per-minute", "API calls per user per minute, 0 disables")
	writeSetting(content, cmd, "public-playlists", "Create public playlists by default")
	content.WriteString("\n")
}

func generateServerSection(content *strings.Builder, cmd *cobra.Command) {
	sectionHeader(content, "HTTP Server and Storage")
	writeSetting(content, cmd, "server-host", "Server bind address")
	writeSetting(content, cmd, "server-port", "Server port")
	writeSetting(content, cmd, "database-path", "SQLite database for quotas and exported playlists")
	content.WriteString("\n")
}

func generateLoggingSection(content *strings.Builder, cmd *cobra.Command) {
	sectionHeader(content, "Logging Configuration")
	writeSetting(content, cmd, "log-level", "Log level: debug, info, warn, error")
	writeSetting(content, cmd, "log-format", "Log format: json, text")
	content.WriteString("\n")
}

func generateSetupSteps(content *strings.Builder) {
	content.WriteString("# =============================================================================\n")
	content.WriteString("# QUICK SETUP GUIDE\n")
	content.WriteString("# =============================================================================\n")
	content.WriteString("\n")
	content.WriteString("# 1. SPOTIFY SETUP (Required):\n")
	content.WriteString("#    - Go to https://developer.spotify.com/dashboard\n")
	content.WriteString("#    - Create new app with name \"Setlistify\"\n")
	content.WriteString("#    - Add redirect URI: http://127.0.0.1:8080/callback\n")
	content.WriteString("#    - Copy Client ID and Secret to config above\n")
	content.WriteString("#    - Run `setlistify auth` once and paste the code from the redirect URL\n")
	content.WriteString("\n")
	content.WriteString("# 2. SETLIST.FM SETUP (Required):\n")
	content.WriteString("#    - Apply for an API key at https://www.setlist.fm/settings/api\n")
	content.WriteString("\n")
	content.WriteString("# 3. LLM SETUP (Optional):\n")
	content.WriteString("#    - For OpenAI: Get API key from https://platform.openai.com/api-keys\n")
	content.WriteString("#    - For Anthropic: Get API key from https://console.anthropic.com/\n")
	content.WriteString("#    - For Ollama: Install locally and run `ollama pull llama3.2`\n")
	content.WriteString("\n")
	content.WriteString("# 4. TRY IT:\n")
	content.WriteString("#    go run ./cmd/setlistify export \"Radiohead\" --dry-run      # Resolve the latest setlist\n")
	content.WriteString("#    go run ./cmd/setlistify predict \"Radiohead\"              # Predict the next one\n")
	content.WriteString("#    go run ./cmd/setlistify serve                            # Run the HTTP API\n")
	content.WriteString("\n")
}
