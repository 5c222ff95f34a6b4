// Command mapper runs a mapping session from the command line: one template,
// one source file, the full layer sequence, and the resulting mapping
// document on stdout.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ignite/template-mapper/internal/ai"
	"github.com/ignite/template-mapper/internal/config"
	"github.com/ignite/template-mapper/internal/dataset"
	"github.com/ignite/template-mapper/internal/dictionary"
	"github.com/ignite/template-mapper/internal/mapping"
	"github.com/ignite/template-mapper/internal/pkg/logger"
	"github.com/ignite/template-mapper/internal/pkg/retry"
	"github.com/ignite/template-mapper/internal/schema"
)

func main() {
	templatePath := flag.String("template", "", "path to template JSON")
	dataPath := flag.String("data", "", "path to source CSV/XLSX file")
	sheet := flag.String("sheet", "", "sheet name for XLSX input")
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	validateOnly := flag.Bool("validate", false, "validate the template and exit")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if *debug {
		logger.SetLevel(logger.DEBUG)
	}
	if *templatePath == "" {
		fatal("missing -template")
	}

	raw, err := os.ReadFile(*templatePath)
	if err != nil {
		fatal("read template: %v", err)
	}
	tmpl, err := schema.Validate(raw)
	if err != nil {
		fatal("invalid template: %v", err)
	}
	if *validateOnly {
		fmt.Printf("template %q valid: %d layer(s)\n", tmpl.Name, len(tmpl.Layers))
		return
	}

	if *dataPath == "" {
		fatal("missing -data")
	}
	f, err := os.Open(*dataPath)
	if err != nil {
		fatal("open data: %v", err)
	}
	tbl, err := dataset.ReadAuto(f, filepath.Base(*dataPath), *sheet)
	f.Close()
	if err != nil {
		fatal("read data: %v", err)
	}

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		fatal("load config: %v", err)
	}

	ctx := context.Background()
	caps, err := buildCapabilities(ctx, cfg)
	if err != nil {
		fatal("ai provider: %v", err)
	}

	engineCfg := mapping.DefaultConfig()
	engineCfg.LookupThreshold = cfg.Engine.LookupThreshold
	engineCfg.GenerativeConfidence = cfg.Engine.GenerativeConfidence
	engineCfg.SampleRows = cfg.Engine.SampleRows
	engineCfg.Retry = retry.Policy{
		Attempts:  cfg.Engine.RetryAttempts,
		BaseDelay: time.Second,
		MaxDelay:  30 * time.Second,
	}

	dict := dictionary.Chain{dictionary.Static(cfg.Dictionaries)}
	if cfg.DictionaryWorkbook != "" {
		path := cfg.DictionaryWorkbook
		dict = append(dict, dictionary.NewSheetProvider(func(sheet string) (*dataset.Table, error) {
			wf, err := os.Open(path)
			if err != nil {
				return nil, err
			}
			defer wf.Close()
			return dataset.ReadXLSX(wf, sheet)
		}))
	}

	sess := mapping.NewSession(tmpl, tbl, caps, dict, engineCfg)
	doc, err := sess.Run(ctx)
	if err != nil {
		logger.Error("mapping incomplete", "error", err.Error())
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		fatal("encode document: %v", err)
	}
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func buildCapabilities(ctx context.Context, cfg *config.Config) (mapping.Capabilities, error) {
	var embedder ai.Embedder
	var completer ai.Completer

	switch cfg.AI.Provider {
	case "openai":
		if cfg.AI.OpenAIAPIKey == "" {
			return mapping.Capabilities{}, fmt.Errorf("OPENAI_API_KEY not set")
		}
		client := ai.NewOpenAIClient(cfg.AI.OpenAIAPIKey,
			ai.WithModels(cfg.AI.OpenAIChatModel, cfg.AI.OpenAIEmbedModel))
		embedder, completer = client, client
	case "bedrock":
		client, err := ai.NewBedrockClient(ctx, cfg.AI.BedrockRegion, cfg.AI.BedrockEmbedModel, cfg.AI.BedrockChatModel)
		if err != nil {
			return mapping.Capabilities{}, err
		}
		embedder, completer = client, client
	default:
		return mapping.Capabilities{}, fmt.Errorf("unknown ai provider %q", cfg.AI.Provider)
	}

	return mapping.Capabilities{
		Embedder:  ai.NewCachingEmbedder(embedder, ai.NewMemoryCache(), cfg.Engine.EmbedBatchSize, mapping.Normalize),
		Completer: completer,
	}, nil
}
