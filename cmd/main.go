package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"
	"github.com/xhad/sage/internal/logger"
	"github.com/xhad/sage/internal/models"
	"github.com/xhad/sage/internal/types"
	"github.com/xhad/sage/pkg/chat"
	"github.com/xhad/sage/pkg/chunker"
	cfgPkg "github.com/xhad/sage/pkg/config"
	"github.com/xhad/sage/pkg/embedder"
	"github.com/xhad/sage/pkg/extract"
	"github.com/xhad/sage/pkg/index"
	"github.com/xhad/sage/pkg/ingest"
	"github.com/xhad/sage/pkg/provider"
	"github.com/xhad/sage/pkg/retriever"
	"github.com/xhad/sage/pkg/store"
	"github.com/xhad/sage/pkg/webloader"
	"github.com/xhad/sage/server"
)

const localUser = "local"

type options struct {
	configPath string
	serve      bool
	ingestPath string
	ingestURL  string
	model      string
	provider   string
	apiKey     string
	baseURL    string
}

func main() {
	godotenv.Load()

	opts := parseFlags()
	if err := run(opts); err != nil {
		log.Fatal(err)
	}
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "Path to config file")
	flag.BoolVar(&opts.serve, "serve", false, "Run the HTTP/WebSocket server instead of the interactive chat")
	flag.StringVar(&opts.ingestPath, "ingest", "", "File or directory to ingest before chatting")
	flag.StringVar(&opts.ingestURL, "ingest-url", "", "Web page to ingest before chatting")
	flag.StringVar(&opts.model, "model", "mistral", "Chat model name")
	flag.StringVar(&opts.provider, "provider", "ollama", "Chat model provider (openai, anthropic, ollama, custom)")
	flag.StringVar(&opts.apiKey, "api-key", os.Getenv("OPENAI_API_KEY"), "API key for the chat provider")
	flag.StringVar(&opts.baseURL, "base-url", os.Getenv("OLLAMA_BASE_URL"), "Base URL for the chat provider")
	flag.Parse()
	return opts
}

func run(opts options) error {
	config, err := cfgPkg.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if errs := config.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Red("config: %s", e.Error())
		}
		return fmt.Errorf("invalid configuration")
	}

	appLog := logger.New(config.Debug)

	emb, err := embedder.NewWithConfig(embedder.EmbedderConfig{
		Provider:  config.Embedding.Provider,
		Model:     config.Embedding.Model,
		APIKey:    config.Embedding.APIKey,
		BaseURL:   config.Embedding.BaseURL,
		MaxChars:  config.Embedding.MaxChars,
		RateLimit: config.Embedding.RateLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %v", err)
	}

	var idx types.VectorIndex
	switch config.Index.Provider {
	case "pgvector":
		pg, err := index.NewPG(context.Background(), index.PGConfig{
			ConnString: config.Database.URL,
			TableName:  config.Index.TableName,
			VectorDim:  config.Index.VectorDim,
		}, emb)
		if err != nil {
			return fmt.Errorf("failed to initialize vector index: %v", err)
		}
		defer pg.Close()
		idx = pg
	default:
		idx = index.NewMemory(emb)
	}

	var convs types.ConversationStore
	var docs server.KnowledgeBaseStore
	if config.Database.URL != "" && config.Index.Provider == "pgvector" {
		pgStore, err := store.NewPostgres(store.PostgresConfig{ConnString: config.Database.URL})
		if err != nil {
			return fmt.Errorf("failed to initialize store: %v", err)
		}
		defer pgStore.Close()
		convs, docs = pgStore, pgStore
	} else {
		mem := store.NewMemoryStore()
		convs, docs = mem, mem
	}

	ingester := ingest.New(docs, idx, extract.NewRegistry(),
		chunker.New(config.Chunker.ChunkSize, config.Chunker.Overlap), appLog)
	loader := webloader.NewWithConfig(webloader.LoaderConfig{RateLimit: config.Loader.RateLimit})
	factory := provider.NewFactory()
	ret := retriever.New(idx)

	if opts.serve {
		srv := server.New(server.Config{
			Port:           config.Server.Port,
			HistoryLimit:   config.Chat.HistoryLimit,
			PerCollectionK: config.Chat.PerCollectionK,
			FinalK:         config.Chat.FinalK,
		}, convs, docs, ret, factory, ingester, loader, appLog)
		return srv.ListenAndServe()
	}

	return runInteractive(opts, config, convs, docs, ret, factory, ingester, loader, appLog)
}

func runInteractive(opts options, config *cfgPkg.Config, convs types.ConversationStore, docs server.KnowledgeBaseStore, ret types.Retriever, factory types.ModelFactory, ingester *ingest.Ingester, loader *webloader.Loader, appLog *logger.Logger) error {
	ctx := context.Background()

	// a local model config so the session has something to resolve
	if mem, ok := convs.(*store.MemoryStore); ok {
		if _, err := mem.SaveModelConfig(ctx, &models.ModelConfig{
			UserID:      localUser,
			Name:        "cli",
			Provider:    opts.provider,
			Model:       opts.model,
			APIKey:      opts.apiKey,
			BaseURL:     opts.baseURL,
			Temperature: 0.7,
			IsDefault:   true,
		}); err != nil {
			return err
		}
	}

	var kbIDs []string
	if opts.ingestPath != "" || opts.ingestURL != "" {
		kb, err := docs.CreateKnowledgeBase(ctx, localUser, "cli", "ingested at startup")
		if err != nil {
			return err
		}
		kbIDs = []string{kb.ID}

		if opts.ingestPath != "" {
			if err := ingestPath(ctx, ingester, kb.ID, opts.ingestPath); err != nil {
				return err
			}
		}
		if opts.ingestURL != "" {
			page, err := loader.Load(ctx, opts.ingestURL)
			if err != nil {
				return fmt.Errorf("failed to load %s: %v", opts.ingestURL, err)
			}
			_, n, err := ingester.IngestText(ctx, localUser, kb.ID, page.Title, page.Content, nil)
			if err != nil {
				return err
			}
			color.Green("✓ Ingested %s (%d chunks)", opts.ingestURL, n)
		}
	}

	session := chat.NewSession(convs, ret, factory, appLog, chat.Config{
		HistoryLimit:   config.Chat.HistoryLimit,
		PerCollectionK: config.Chat.PerCollectionK,
		FinalK:         config.Chat.FinalK,
	})

	color.Cyan("\nChat with your knowledge base (type 'exit' to quit, Ctrl-C to cancel a response)")

	var activeMu sync.Mutex
	var active *chat.Turn
	takeActive := func() *chat.Turn {
		activeMu.Lock()
		defer activeMu.Unlock()
		t := active
		active = nil
		return t
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)
	go cancelOnInterrupt(sigs, takeActive, func() {
		fmt.Println()
		os.Exit(0)
	})

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()
	conversationID := ""

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}
		query := strings.TrimSpace(scanner.Text())
		if strings.ToLower(query) == "exit" {
			break
		}
		if query == "" {
			continue
		}

		turn, err := session.Send(ctx, localUser, query, chat.SendOptions{
			ConversationID:   conversationID,
			KnowledgeBaseIDs: kbIDs,
		})
		if err != nil {
			color.Red("Error: %v", err)
			continue
		}
		conversationID = turn.ConversationID

		activeMu.Lock()
		active = turn
		activeMu.Unlock()

		assistantPrompt("\nAssistant: ")
		for chunk := range turn.Chunks() {
			fmt.Print(chunk)
		}
		fmt.Println()
		takeActive()

		if err := turn.Wait(); err != nil {
			if errors.Is(err, context.Canceled) {
				color.Yellow("(cancelled)")
				continue
			}
			color.Red("Error: %v", err)
			continue
		}
		if _, sources := turn.Result(); len(sources) > 0 {
			color.Yellow("Sources:")
			for i, src := range sources {
				color.Yellow("  [%d] %s (chunk %d, %.2f)", i+1, src.DocumentName, src.SequenceIndex, src.Similarity)
			}
		}
	}

	return nil
}

// cancelOnInterrupt aborts the in-flight turn on interrupt. An interrupt
// with no turn in flight exits instead, as does a second interrupt while
// the same turn is still winding down.
func cancelOnInterrupt(sigs <-chan os.Signal, take func() *chat.Turn, exit func()) {
	for range sigs {
		turn := take()
		if turn == nil {
			exit()
			return
		}
		turn.Cancel()
	}
}

// ingestPath ingests one file or every supported file in a directory.
func ingestPath(ctx context.Context, ingester *ingest.Ingester, kbID, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	var files []string
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				files = append(files, filepath.Join(path, entry.Name()))
			}
		}
	} else {
		files = []string{path}
	}

	bar := getProgressBar(len(files), "Ingesting documents...")
	total := 0
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		_, n, err := ingester.IngestFile(ctx, localUser, kbID, file, data, nil)
		if err != nil {
			color.Red("skipping %s: %v", file, err)
			bar.Add(1)
			continue
		}
		total += n
		bar.Add(1)
	}
	bar.Finish()
	color.Green("\n✓ Ingested %d chunks from %d files\n", total, len(files))
	return nil
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}
