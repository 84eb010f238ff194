package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

type Specification struct {
	Provider   string `yaml:"provider"`
	OllamaURL  string `yaml:"ollamaURL" envconfig:"OLLAMA_URL"`
	APIKey     string `yaml:"providerApiKey" envconfig:"PROVIDER_API_KEY"`
	EmbedModel string `yaml:"embedModel" split_words:"true"`
	GenModel   string `yaml:"genModel" split_words:"true"`
	ProjectID  string `yaml:"providerProjectID" envconfig:"PROVIDER_PROJECT_ID"`
	Location   string `yaml:"providerLocation" envconfig:"PROVIDER_LOCATION"`
	Dim        int    `yaml:"embedDim" envconfig:"EMBED_DIM"`

	KnowledgeDir string `yaml:"knowledgeDir" split_words:"true"`
	PersonaPath  string `yaml:"personaPath" split_words:"true"`
	IndexDir     string `yaml:"indexDir" split_words:"true"`
	IndexBackend string `yaml:"indexBackend" split_words:"true"`
	Database     string `yaml:"database" envconfig:"DB_URL"`
	HistoryPath  string `yaml:"historyPath" split_words:"true"`

	ChunkSize    int `yaml:"chunkSize" split_words:"true"`
	ChunkOverlap int `yaml:"chunkOverlap" split_words:"true"`
	TopK         int `yaml:"topK" envconfig:"TOP_K"`
	FetchK       int `yaml:"fetchK" envconfig:"FETCH_K"`
	MaxNewTokens int `yaml:"maxNewTokens" split_words:"true"`

	MinQuestionLen int `yaml:"minQuestionLen" split_words:"true"`
	MaxQuestionLen int `yaml:"maxQuestionLen" split_words:"true"`
	MaxAnswerLen   int `yaml:"maxAnswerLen" split_words:"true"`

	Workers  int    `yaml:"workers"`
	Port     int    `yaml:"port" split_words:"true"`
	LogLevel string `yaml:"logLevel" split_words:"true"`

	flags *pflag.FlagSet `ignored:"true"`
}

const envPrefix = "SALESBOT"

func (s *Specification) Usage() {
	fmt.Fprint(os.Stderr, s.flags.FlagUsages())
}

// Load => defaults < YAML < env < flags.
// configPath may be ""; if so we auto-discover.
func Load(configPath string, fs *pflag.FlagSet) (Specification, error) {
	var cfg Specification

	// set defaults (lowest precedence)
	setDefaults(&cfg)
	bindFlags(fs, &cfg)

	// config file
	path := configPath
	if path == "" {
		if v := os.Getenv(envPrefix + "_CONFIG"); v != "" {
			path = v
		} else {
			for _, cand := range []string{
				"config/salesbot.yaml",
				"config/config.yaml",
				"./salesbot.yaml",
				"./config.yaml",
			} {
				if fileExists(cand) {
					path = cand
					break
				}
			}
		}
	}

	if path != "" {
		if !fileExists(path) {
			return Specification{}, fmt.Errorf("config file not found: %s", path)
		}
		if err := loadYAML(path, &cfg); err != nil {
			return Specification{}, fmt.Errorf("load yaml %s: %w", path, err)
		}
	}

	// env overrides config file
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Specification{}, fmt.Errorf("env override: %w", err)
	}

	// flags override everything
	if err := fs.Parse(os.Args[1:]); err != nil {
		return Specification{}, err
	}
	applyChangedFlags(fs, &cfg)

	// Minimal sanity
	if strings.EqualFold(cfg.IndexBackend, "postgres") && strings.TrimSpace(cfg.Database) == "" {
		return Specification{}, fmt.Errorf("SALESBOT_DB_URL is required when index backend is postgres")
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		return Specification{}, fmt.Errorf("chunk overlap %d must be smaller than chunk size %d", cfg.ChunkOverlap, cfg.ChunkSize)
	}
	if cfg.FetchK < cfg.TopK {
		cfg.FetchK = cfg.TopK
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
	}
	return cfg, nil
}

// ---------- helpers ----------

func loadYAML(path string, into any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, into)
}

func fileExists(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && !fi.IsDir()
}

func bindFlags(fs *pflag.FlagSet, c *Specification) {
	fs.String("config", "", "Path to config file")

	// If --config is provided on the command line, capture it now so
	// config discovery (which runs before flags.Parse) can use it.
	for i, a := range os.Args {
		if a == "--config" {
			if i+1 < len(os.Args) && !strings.HasPrefix(os.Args[i+1], "-") {
				_ = os.Setenv(envPrefix+"_CONFIG", os.Args[i+1])
			}
		} else if strings.HasPrefix(a, "--config=") {
			parts := strings.SplitN(a, "=", 2)
			if len(parts) == 2 {
				_ = os.Setenv(envPrefix+"_CONFIG", parts[1])
			}
		}
	}

	fs.String("provider", c.Provider, "Model provider (ollama, google, stub)")
	fs.String("ollama-url", c.OllamaURL, "Ollama server base URL")
	fs.String("provider-api-key", c.APIKey, "Provider API key")
	fs.String("embed-model", c.EmbedModel, "Embedding model name")
	fs.String("gen-model", c.GenModel, "Generation model name")
	fs.String("provider-project-id", c.ProjectID, "Provider project ID")
	fs.String("provider-location", c.Location, "Provider location/region")
	fs.Int("embed-dim", c.Dim, "Embedding dimensionality")

	fs.String("knowledge-dir", c.KnowledgeDir, "Directory with corpus documents")
	fs.String("persona-path", c.PersonaPath, "Path to system persona prompt file")
	fs.String("index-dir", c.IndexDir, "Directory for the persisted index (disk backend)")
	fs.String("index-backend", c.IndexBackend, "Index persistence backend (disk|postgres)")
	fs.String("db-url", c.Database, "Database URL (postgres backend)")
	fs.String("history-path", c.HistoryPath, "SQLite file for the session audit log (empty disables)")

	fs.Int("chunk-size", c.ChunkSize, "Chunk size in characters")
	fs.Int("chunk-overlap", c.ChunkOverlap, "Chunk overlap in characters")
	fs.Int("top-k", c.TopK, "Number of chunks to retrieve")
	fs.Int("fetch-k", c.FetchK, "Candidate pool size for diversified retrieval")
	fs.Int("max-new-tokens", c.MaxNewTokens, "Generation token budget")

	fs.Int("workers", c.Workers, "Worker pool size for query processing")
	fs.Int("port", c.Port, "API server port")
	fs.String("log-level", c.LogLevel, "Log level (debug|info|warn|error)")

	// Used later for usage/help
	copied := pflag.NewFlagSet("temp", pflag.ContinueOnError)
	*copied = *fs
	c.flags = copied
}

func applyChangedFlags(fs *pflag.FlagSet, c *Specification) {
	setStr := func(name string, dst *string) {
		if fs.Changed(name) {
			v, _ := fs.GetString(name)
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if fs.Changed(name) {
			v, _ := fs.GetInt(name)
			*dst = v
		}
	}

	// (We ignore --config here; it's for discovery.)
	setStr("provider", &c.Provider)
	setStr("ollama-url", &c.OllamaURL)
	setStr("provider-api-key", &c.APIKey)
	setStr("embed-model", &c.EmbedModel)
	setStr("gen-model", &c.GenModel)
	setStr("provider-project-id", &c.ProjectID)
	setStr("provider-location", &c.Location)
	setInt("embed-dim", &c.Dim)

	setStr("knowledge-dir", &c.KnowledgeDir)
	setStr("persona-path", &c.PersonaPath)
	setStr("index-dir", &c.IndexDir)
	setStr("index-backend", &c.IndexBackend)
	setStr("db-url", &c.Database)
	setStr("history-path", &c.HistoryPath)

	setInt("chunk-size", &c.ChunkSize)
	setInt("chunk-overlap", &c.ChunkOverlap)
	setInt("top-k", &c.TopK)
	setInt("fetch-k", &c.FetchK)
	setInt("max-new-tokens", &c.MaxNewTokens)

	setInt("workers", &c.Workers)
	setInt("port", &c.Port)
	setStr("log-level", &c.LogLevel)
}

func setDefaults(c *Specification) {
	c.Provider = "ollama"
	c.OllamaURL = "http://localhost:11434"
	c.EmbedModel = ""
	c.GenModel = ""
	c.Location = "us-central1"
	c.Dim = 0

	c.KnowledgeDir = "knowledge_base"
	c.PersonaPath = "knowledge_base/system_prompt.txt"
	c.IndexDir = "./index_db"
	c.IndexBackend = "disk"
	c.HistoryPath = "./salesbot.db"

	c.ChunkSize = 1000
	c.ChunkOverlap = 200
	c.TopK = 3
	c.FetchK = 10
	c.MaxNewTokens = 512

	c.MinQuestionLen = 3
	c.MaxQuestionLen = 1000
	c.MaxAnswerLen = 4000

	c.Workers = 4
	c.Port = 8080
	c.LogLevel = "info"
}
