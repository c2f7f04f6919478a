package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// RunSetupWizard guides the user through first-time configuration.
func RunSetupWizard(cfg *Config) error {
	return runSetupWizard(cfg, bufio.NewReader(os.Stdin), os.Stdout)
}

func runSetupWizard(cfg *Config, reader *bufio.Reader, out io.Writer) error {
	fmt.Fprintln(out, "╔══════════════════════════════════════════════╗")
	fmt.Fprintln(out, "║          RustPanel - First Run Setup         ║")
	fmt.Fprintln(out, "╠══════════════════════════════════════════════╣")
	fmt.Fprintln(out, "║  Point RustPanel at your WebControlPanel.    ║")
	fmt.Fprintln(out, "╚══════════════════════════════════════════════╝")
	fmt.Fprintln(out)

	cfg.mu.Lock()
	b := cfg.Bridge

	fmt.Fprintln(out, "── Bridge ──")
	b.Host = promptString(reader, out, "Bridge host (IP or hostname)", b.Host)
	b.Port = promptInt(reader, out, "Bridge port", b.Port)
	b.Password = promptPassword(reader, out, "Bridge password (blank for none)")
	if b.Password != "" {
		b.SavePassword = promptBool(reader, out, "Store the password in config.json", b.SavePassword)
	}
	b.AutoConnect = promptBool(reader, out, "Connect automatically on start", true)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── Local API ──")
	cfg.API.Enabled = promptBool(reader, out, "Enable REST API", cfg.API.Enabled)
	if cfg.API.Enabled {
		cfg.API.Port = promptInt(reader, out, "REST API port", cfg.API.Port)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "── MQTT Telemetry ──")
	cfg.MQTT.Enabled = promptBool(reader, out, "Enable MQTT telemetry", cfg.MQTT.Enabled)
	if cfg.MQTT.Enabled {
		cfg.MQTT.BrokerURL = promptString(reader, out, "MQTT broker host", cfg.MQTT.BrokerURL)
		cfg.MQTT.Port = promptInt(reader, out, "MQTT broker port", cfg.MQTT.Port)
	}

	cfg.Bridge = b
	cfg.mu.Unlock()

	result := Validate(cfg)
	if !result.IsValid() {
		fmt.Fprintln(out, "\n⚠ Configuration has errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  - [%s] %s\n", e.Field, e.Message)
		}
		retry := promptString(reader, out, "Would you like to try again? (yes/no)", "yes")
		if strings.ToLower(retry) == "yes" {
			return runSetupWizard(cfg, reader, out)
		}
		return fmt.Errorf("configuration validation failed")
	}

	for _, w := range result.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "✓ Configuration saved successfully!")
	fmt.Fprintln(out)

	return nil
}

func promptString(reader *bufio.Reader, out io.Writer, prompt string, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(out, "  %s: ", prompt)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func promptPassword(reader *bufio.Reader, out io.Writer, prompt string) string {
	fmt.Fprintf(out, "  %s: ", prompt)
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input)
}

func promptInt(reader *bufio.Reader, out io.Writer, prompt string, defaultVal int) int {
	fmt.Fprintf(out, "  %s [%d]: ", prompt, defaultVal)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Fprintf(out, "    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func promptBool(reader *bufio.Reader, out io.Writer, prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}

	fmt.Fprintf(out, "  %s [%s]: ", prompt, defaultStr)

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(strings.ToLower(input))

	if input == "" {
		return defaultVal
	}

	return input == "yes" || input == "y" || input == "true" || input == "1"
}
