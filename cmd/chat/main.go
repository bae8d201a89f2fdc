package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	appleai "github.com/gaodeng/apple-on-device-ai"
	"github.com/gaodeng/apple-on-device-ai/bridge"
	"github.com/gaodeng/apple-on-device-ai/engine"
)

func main() {
	var (
		prompt      = flag.String("p", "", "Prompt to send")
		schemaFile  = flag.String("schema", "", "Path to a response schema file")
		stream      = flag.Bool("stream", false, "Stream the response chunk by chunk")
		wasmFile    = flag.String("wasm", "", "Run a wasm build of the engine instead of the native dylib")
		check       = flag.Bool("check", false, "Print model availability and exit")
		langs       = flag.Bool("langs", false, "Print supported languages and exit")
		temperature = flag.Float64("t", 0, "Sampling temperature (0 = engine default)")
		maxTokens   = flag.Int("max-tokens", 0, "Token budget (0 = engine default)")
		verbose     = flag.Bool("v", false, "Verbose logging")
		interactive = flag.Bool("i", false, "Interactive chat TUI")
	)
	flag.Parse()

	if !*check && !*langs && !*interactive && *prompt == "" {
		fmt.Fprintln(os.Stderr, "Usage: chat -p <prompt> [-stream] [-schema file] [-t temp] [-max-tokens n]")
		fmt.Fprintln(os.Stderr, "       chat -check | -langs")
		fmt.Fprintln(os.Stderr, "       chat -i  (interactive mode)")
		os.Exit(1)
	}

	log := zap.NewNop()
	if *verbose {
		var err error
		if log, err = zap.NewDevelopment(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	eng, err := selectEngine(*wasmFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	b := bridge.New(eng, bridge.WithLogger(log))
	defer b.Close()

	if *interactive {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: interactive mode needs a terminal")
			os.Exit(1)
		}
		if err := runInteractive(b); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(b, *prompt, *schemaFile, *stream, *temperature, *maxTokens, *check, *langs); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func selectEngine(wasmFile string) (engine.Engine, error) {
	if wasmFile == "" {
		return engine.Default(), nil
	}
	wasmBytes, err := os.ReadFile(wasmFile)
	if err != nil {
		return nil, fmt.Errorf("read wasm engine: %w", err)
	}
	return engine.NewWasm(context.Background(), wasmBytes)
}

func run(b *bridge.Bridge, prompt, schemaFile string, stream bool, temperature float64, maxTokens int, check, langs bool) error {
	if check {
		avail := b.Availability()
		fmt.Printf("Available: %v\n", avail.Available)
		fmt.Printf("Reason: %s\n", avail.Reason)
		return nil
	}

	if langs {
		for _, lang := range b.SupportedLanguages() {
			fmt.Println(lang)
		}
		return nil
	}

	messages, err := encodeMessages(prompt)
	if err != nil {
		return err
	}

	req := appleai.GenerateRequest{
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
	if schemaFile != "" {
		schema, err := os.ReadFile(schemaFile)
		if err != nil {
			return fmt.Errorf("read schema: %w", err)
		}
		req.Schema = strings.TrimSpace(string(schema))
	}

	if stream {
		return runStream(b, req)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	text, err := b.Dispatch(req).Await(ctx)
	if err != nil {
		return err
	}
	fmt.Println(text)
	return nil
}

func runStream(b *bridge.Bridge, req appleai.GenerateRequest) error {
	done := make(chan error, 1)
	err := b.GenerateStream(appleai.StreamUnified, req, func(d appleai.Delivery) {
		switch {
		case d.End():
			fmt.Println()
			done <- nil
		case d.Err != nil:
			fmt.Fprintf(os.Stderr, "\n[stream error: %v]\n", d.Err)
		default:
			fmt.Print(d.Text)
		}
	})
	if err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Minute):
		return fmt.Errorf("stream timed out")
	}
}

// encodeMessages wraps a single user prompt into the message-history blob
// the engine expects.
func encodeMessages(prompt string) (string, error) {
	blob, err := json.Marshal([]map[string]string{
		{"role": "user", "content": prompt},
	})
	if err != nil {
		return "", fmt.Errorf("encode messages: %w", err)
	}
	return string(blob), nil
}
