package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

const (
	BackendSupabase = "supabase"
	BackendLocal    = "local"
	BackendQdrant   = "qdrant"
)

type PicConfigServer struct {
	URL          string `yaml:"url"`
	Port         int    `yaml:"port"`
	MaxFileSize  int    `yaml:"max_file_size"`
	CookieSecure bool   `yaml:"cookie_secure"`
	IndexTimeout int    `yaml:"index_timeout"`
}

type PicConfigBackends struct {
	Auth    string `yaml:"auth"`
	Storage string `yaml:"storage"`
	Index   string `yaml:"index"`
}

type PicConfigSupabase struct {
	URL            string `yaml:"url"`
	Key            string `yaml:"key"`
	ServiceKey     string `yaml:"service_key"`
	Bucket         string `yaml:"bucket"`
	Table          string `yaml:"table"`
	SearchFunction string `yaml:"search_function"`
	CDNURL         string `yaml:"cdn_url"`
}

type PicConfigLocal struct {
	Database   string `yaml:"database"`
	Storage    string `yaml:"storage"`
	Vectors    string `yaml:"vectors"`
	SessionTTL int    `yaml:"session_ttl"`
}

type PicConfigQdrant struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Collection string `yaml:"collection"`
	Dimensions int    `yaml:"dimensions"`
}

type PicConfigRedis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TTL      int    `yaml:"ttl"`
}

type PicConfigPredictor struct {
	URL     string `yaml:"url"`
	Timeout int    `yaml:"timeout"`
}

type PicConfigImgproxy struct {
	URL    string `yaml:"url"`
	Width  int    `yaml:"width"`
	Format string `yaml:"format"`
	Key    string `yaml:"key"`
	Salt   string `yaml:"salt"`
}

type PicConfigSearch struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	MatchCount          int     `yaml:"match_count"`
}

type PicConfigGallery struct {
	PageSize int `yaml:"page_size"`
}

type PicConfigImages struct {
	Normalize bool `yaml:"normalize"`
	Quality   int  `yaml:"quality"`
}

type PicConfigBackup struct {
	Enabled    bool   `yaml:"enabled"`
	Directory  string `yaml:"directory"`
	Interval   int    `yaml:"interval"`
	KeepAmount int    `yaml:"keep_amount"`
}

type PicConfigUI struct {
	Suggestions []string `yaml:"suggestions"`
}

type PicConfig struct {
	Server    PicConfigServer    `yaml:"server"`
	Backends  PicConfigBackends  `yaml:"backends"`
	Supabase  PicConfigSupabase  `yaml:"supabase"`
	Local     PicConfigLocal     `yaml:"local"`
	Qdrant    PicConfigQdrant    `yaml:"qdrant"`
	Redis     PicConfigRedis     `yaml:"redis"`
	Predictor PicConfigPredictor `yaml:"predictor"`
	Imgproxy  PicConfigImgproxy  `yaml:"imgproxy"`
	Search    PicConfigSearch    `yaml:"search"`
	Gallery   PicConfigGallery   `yaml:"gallery"`
	Images    PicConfigImages    `yaml:"images"`
	Backup    PicConfigBackup    `yaml:"backup"`
	UI        PicConfigUI        `yaml:"ui"`
}

func NewDefaultConfig() PicConfig {
	return PicConfig{
		Server: PicConfigServer{
			URL:          "http://localhost:3000/",
			Port:         3000,
			MaxFileSize:  20,
			CookieSecure: false,
			IndexTimeout: 60,
		},
		Backends: PicConfigBackends{
			Auth:    BackendSupabase,
			Storage: BackendSupabase,
			Index:   BackendSupabase,
		},
		Supabase: PicConfigSupabase{
			Bucket:         "images",
			Table:          "images",
			SearchFunction: "search_db",
		},
		Local: PicConfigLocal{
			Database:   "picsearch.db",
			Storage:    "storage",
			Vectors:    "vectors",
			SessionTTL: 7 * 24,
		},
		Qdrant: PicConfigQdrant{
			Host:       "localhost",
			Port:       6334,
			Collection: "picsearch",
			Dimensions: 512,
		},
		Redis: PicConfigRedis{
			TTL: 24,
		},
		Predictor: PicConfigPredictor{
			URL:     "http://127.0.0.1:8000",
			Timeout: 30,
		},
		Imgproxy: PicConfigImgproxy{
			URL:    "http://localhost:8080",
			Width:  300,
			Format: "webp",
		},
		Search: PicConfigSearch{
			SimilarityThreshold: 0.24,
			MatchCount:          6,
		},
		Gallery: PicConfigGallery{
			PageSize: 100,
		},
		Images: PicConfigImages{
			Normalize: false,
			Quality:   90,
		},
		Backup: PicConfigBackup{
			Enabled:    false,
			Directory:  "backups",
			Interval:   24,
			KeepAmount: 4,
		},
		UI: PicConfigUI{
			Suggestions: []string{
				"dogs",
				"school",
				"birthday",
				"car",
				"graduation ceremony",
				"lake day",
				"school documents",
			},
		},
	}
}

// LoadConfig reads path (if it exists), applies environment overrides,
// validates and writes the normalized file back.
func LoadConfig(path string) (*PicConfig, error) {
	cfg := NewDefaultConfig()

	file, err := OpenFileForReading(path)
	if !os.IsNotExist(err) {
		if err != nil {
			return nil, err
		}

		defer file.Close()

		err = yaml.NewDecoder(file).Decode(&cfg)
		if err != nil {
			return nil, err
		}
	}

	decoded := cfg

	cfg.ApplyEnv()

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	// secrets taken from the environment never end up in the file
	stored := cfg

	stored.restoreSecrets(&decoded)

	return &cfg, stored.Store(path)
}

func (c *PicConfig) secrets() map[string]*string {
	return map[string]*string{
		"PICSEARCH_SUPABASE_KEY":         &c.Supabase.Key,
		"PICSEARCH_SUPABASE_SERVICE_KEY": &c.Supabase.ServiceKey,
		"PICSEARCH_IMGPROXY_KEY":         &c.Imgproxy.Key,
		"PICSEARCH_IMGPROXY_SALT":        &c.Imgproxy.Salt,
		"PICSEARCH_REDIS_PASSWORD":       &c.Redis.Password,
	}
}

func (c *PicConfig) ApplyEnv() {
	for name, target := range c.secrets() {
		if value, ok := os.LookupEnv(name); ok {
			*target = value
		}
	}
}

// restoreSecrets puts back the file values of every secret that was
// overridden from the environment.
func (c *PicConfig) restoreSecrets(from *PicConfig) {
	original := from.secrets()

	for name, target := range c.secrets() {
		if _, ok := os.LookupEnv(name); ok {
			*target = *original[name]
		}
	}
}

func (c *PicConfig) Validate() error {
	// server
	if err := validateURL("server.url", c.Server.URL); err != nil {
		return err
	}

	c.Server.URL = withSlash(c.Server.URL)

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}

	if c.Server.MaxFileSize < 1 {
		return fmt.Errorf("server.max_file_size must be >= 1, got %d", c.Server.MaxFileSize)
	}

	if c.Server.IndexTimeout < 1 {
		return fmt.Errorf("server.index_timeout must be >= 1, got %d", c.Server.IndexTimeout)
	}

	// backends
	if !isBackend(c.Backends.Auth, BackendSupabase, BackendLocal) {
		return fmt.Errorf("backends.auth must be one of (supabase, local), got %q", c.Backends.Auth)
	}

	if !isBackend(c.Backends.Storage, BackendSupabase, BackendLocal) {
		return fmt.Errorf("backends.storage must be one of (supabase, local), got %q", c.Backends.Storage)
	}

	if !isBackend(c.Backends.Index, BackendSupabase, BackendLocal, BackendQdrant) {
		return fmt.Errorf("backends.index must be one of (supabase, local, qdrant), got %q", c.Backends.Index)
	}

	// supabase
	if c.UsesSupabase() {
		if err := validateURL("supabase.url", c.Supabase.URL); err != nil {
			return err
		}

		c.Supabase.URL = strings.TrimSuffix(c.Supabase.URL, "/")

		if c.Supabase.Key == "" {
			return errors.New("supabase.key must be set")
		}

		if c.Supabase.Bucket == "" {
			return errors.New("supabase.bucket must be set")
		}

		if c.Supabase.Table == "" {
			return errors.New("supabase.table must be set")
		}

		if c.Supabase.SearchFunction == "" {
			return errors.New("supabase.search_function must be set")
		}

		if c.Backends.Auth != BackendSupabase && c.Supabase.ServiceKey == "" {
			return errors.New("supabase.service_key must be set when storage or index use supabase without supabase auth")
		}

		if c.Supabase.CDNURL != "" {
			c.Supabase.CDNURL = withSlash(c.Supabase.CDNURL)
		}
	}

	// local
	if c.UsesLocal() {
		if c.Local.Database == "" || c.Local.Storage == "" || c.Local.Vectors == "" {
			return errors.New("local.database, local.storage and local.vectors must be set")
		}

		if c.Local.SessionTTL < 1 {
			return fmt.Errorf("local.session_ttl must be >= 1, got %d", c.Local.SessionTTL)
		}
	}

	// qdrant
	if c.Backends.Index == BackendQdrant {
		if c.Qdrant.Host == "" {
			return errors.New("qdrant.host must be set")
		}

		if c.Qdrant.Port < 1 || c.Qdrant.Port > 65535 {
			return fmt.Errorf("qdrant.port must be 1-65535, got %d", c.Qdrant.Port)
		}

		if c.Qdrant.Collection == "" {
			return errors.New("qdrant.collection must be set")
		}

		if c.Qdrant.Dimensions < 1 {
			return fmt.Errorf("qdrant.dimensions must be >= 1, got %d", c.Qdrant.Dimensions)
		}
	}

	// redis
	if c.Redis.Addr != "" && c.Redis.TTL < 1 {
		return fmt.Errorf("redis.ttl must be >= 1, got %d", c.Redis.TTL)
	}

	// predictor
	if err := validateURL("predictor.url", c.Predictor.URL); err != nil {
		return err
	}

	c.Predictor.URL = strings.TrimSuffix(c.Predictor.URL, "/")

	if c.Predictor.Timeout < 1 {
		return fmt.Errorf("predictor.timeout must be >= 1, got %d", c.Predictor.Timeout)
	}

	// imgproxy
	if err := validateURL("imgproxy.url", c.Imgproxy.URL); err != nil {
		return err
	}

	c.Imgproxy.URL = strings.TrimSuffix(c.Imgproxy.URL, "/")

	if c.Imgproxy.Width < 1 {
		return fmt.Errorf("imgproxy.width must be >= 1, got %d", c.Imgproxy.Width)
	}

	if c.Imgproxy.Format == "" {
		return errors.New("imgproxy.format must be set")
	}

	if (c.Imgproxy.Key == "") != (c.Imgproxy.Salt == "") {
		return errors.New("imgproxy.key and imgproxy.salt must be set together")
	}

	if c.Imgproxy.Key != "" {
		if _, err := hex.DecodeString(c.Imgproxy.Key); err != nil {
			return fmt.Errorf("imgproxy.key must be hex encoded: %w", err)
		}

		if _, err := hex.DecodeString(c.Imgproxy.Salt); err != nil {
			return fmt.Errorf("imgproxy.salt must be hex encoded: %w", err)
		}
	}

	// search
	if c.Search.SimilarityThreshold < 0 || c.Search.SimilarityThreshold > 1 {
		return fmt.Errorf("search.similarity_threshold must be 0-1, got %v", c.Search.SimilarityThreshold)
	}

	if c.Search.MatchCount < 1 {
		return fmt.Errorf("search.match_count must be >= 1, got %d", c.Search.MatchCount)
	}

	// gallery
	if c.Gallery.PageSize < 1 {
		return fmt.Errorf("gallery.page_size must be >= 1, got %d", c.Gallery.PageSize)
	}

	// images
	if c.Images.Quality < 1 || c.Images.Quality > 100 {
		return fmt.Errorf("images.quality must be 1-100, got %d", c.Images.Quality)
	}

	// backup
	if c.Backup.Enabled {
		if c.UsesSupabase() || c.Backends.Index == BackendQdrant {
			return errors.New("backup.enabled requires all backends to be local")
		}

		if c.Backup.Directory == "" {
			return errors.New("backup.directory must be set")
		}

		if c.Backup.Interval < 1 {
			return fmt.Errorf("backup.interval must be >= 1, got %d", c.Backup.Interval)
		}

		if c.Backup.KeepAmount < 1 {
			return fmt.Errorf("backup.keep_amount must be >= 1, got %d", c.Backup.KeepAmount)
		}
	}

	return nil
}

func (c *PicConfig) UsesSupabase() bool {
	return c.Backends.Auth == BackendSupabase || c.Backends.Storage == BackendSupabase || c.Backends.Index == BackendSupabase
}

func (c *PicConfig) UsesLocal() bool {
	return c.Backends.Auth == BackendLocal || c.Backends.Storage == BackendLocal || c.Backends.Index == BackendLocal
}

func (c *PicConfig) MaxFileSizeBytes() int64 {
	return int64(c.Server.MaxFileSize) * 1024 * 1024
}

func (c *PicConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// CDNURL is the prefix public object URLs are built from; object paths are
// appended as "<user id>/<name>".
func (c *PicConfig) CDNURL() string {
	if c.Backends.Storage == BackendLocal {
		return c.Server.URL + "i/"
	}

	if c.Supabase.CDNURL != "" {
		return c.Supabase.CDNURL
	}

	return fmt.Sprintf("%s/storage/v1/object/public/%s/", c.Supabase.URL, c.Supabase.Bucket)
}

func (c *PicConfig) IndexTimeout() time.Duration {
	return time.Duration(c.Server.IndexTimeout) * time.Second
}

func (c *PicConfig) PredictorTimeout() time.Duration {
	return time.Duration(c.Predictor.Timeout) * time.Second
}

func (c *PicConfig) Store(path string) error {
	def := NewDefaultConfig()

	comments := yaml.CommentMap{
		"$.server.url":           {yaml.HeadComment(fmt.Sprintf(" base url of your instance (default: %v)", def.Server.URL))},
		"$.server.port":          {yaml.HeadComment(fmt.Sprintf(" port to run picsearch on (default: %v)", def.Server.Port))},
		"$.server.max_file_size": {yaml.HeadComment(fmt.Sprintf(" maximum upload file-size in MB (default: %vMB)", def.Server.MaxFileSize))},
		"$.server.cookie_secure": {yaml.HeadComment(fmt.Sprintf(" only send the session cookie over https (default: %v)", def.Server.CookieSecure))},
		"$.server.index_timeout": {yaml.HeadComment(fmt.Sprintf(" seconds a background embedding + insert may take after an upload (default: %v)", def.Server.IndexTimeout))},

		"$.backends.auth":    {yaml.HeadComment(fmt.Sprintf(" authentication backend (supabase or local; default: %v)", def.Backends.Auth))},
		"$.backends.storage": {yaml.HeadComment(fmt.Sprintf(" object storage backend (supabase or local; default: %v)", def.Backends.Storage))},
		"$.backends.index":   {yaml.HeadComment(fmt.Sprintf(" image records + similarity search (supabase, local or qdrant; default: %v)", def.Backends.Index))},

		"$.supabase.url":             {yaml.HeadComment(" project url, e.g. https://xyz.supabase.co")},
		"$.supabase.key":             {yaml.HeadComment(" anon api key (env: PICSEARCH_SUPABASE_KEY)")},
		"$.supabase.service_key":     {yaml.HeadComment(" service role key, only used by the reindex command (env: PICSEARCH_SUPABASE_SERVICE_KEY)")},
		"$.supabase.bucket":          {yaml.HeadComment(fmt.Sprintf(" storage bucket holding one folder per user (default: %v)", def.Supabase.Bucket))},
		"$.supabase.table":           {yaml.HeadComment(fmt.Sprintf(" table holding image records and embeddings (default: %v)", def.Supabase.Table))},
		"$.supabase.search_function": {yaml.HeadComment(fmt.Sprintf(" similarity search rpc (default: %v)", def.Supabase.SearchFunction))},
		"$.supabase.cdn_url":         {yaml.HeadComment(" public url prefix of the bucket (empty: <url>/storage/v1/object/public/<bucket>/)")},

		"$.local.database":    {yaml.HeadComment(fmt.Sprintf(" sqlite database for local backends (default: %v)", def.Local.Database))},
		"$.local.storage":     {yaml.HeadComment(fmt.Sprintf(" directory for locally stored images (default: %v)", def.Local.Storage))},
		"$.local.vectors":     {yaml.HeadComment(fmt.Sprintf(" directory for the local vector index (default: %v)", def.Local.Vectors))},
		"$.local.session_ttl": {yaml.HeadComment(fmt.Sprintf(" lifetime of local sessions in hours (default: %v)", def.Local.SessionTTL))},

		"$.qdrant.host":       {yaml.HeadComment(fmt.Sprintf(" qdrant grpc host (default: %v)", def.Qdrant.Host))},
		"$.qdrant.port":       {yaml.HeadComment(fmt.Sprintf(" qdrant grpc port (default: %v)", def.Qdrant.Port))},
		"$.qdrant.collection": {yaml.HeadComment(fmt.Sprintf(" qdrant collection (default: %v)", def.Qdrant.Collection))},
		"$.qdrant.dimensions": {yaml.HeadComment(fmt.Sprintf(" embedding dimensions of the prediction server (default: %v)", def.Qdrant.Dimensions))},

		"$.redis.addr":     {yaml.HeadComment(" redis address for caching prompt embeddings (empty disables the cache)")},
		"$.redis.password": {yaml.HeadComment(" redis password (env: PICSEARCH_REDIS_PASSWORD)")},
		"$.redis.db":       {yaml.HeadComment(fmt.Sprintf(" redis database (default: %v)", def.Redis.DB))},
		"$.redis.ttl":      {yaml.HeadComment(fmt.Sprintf(" hours a cached prompt embedding is kept (default: %v)", def.Redis.TTL))},

		"$.predictor.url":     {yaml.HeadComment(fmt.Sprintf(" prediction server producing embeddings (default: %v)", def.Predictor.URL))},
		"$.predictor.timeout": {yaml.HeadComment(fmt.Sprintf(" request timeout in seconds (default: %v)", def.Predictor.Timeout))},

		"$.imgproxy.url":    {yaml.HeadComment(fmt.Sprintf(" imgproxy base url (default: %v)", def.Imgproxy.URL))},
		"$.imgproxy.width":  {yaml.HeadComment(fmt.Sprintf(" thumbnail width, height follows the aspect ratio (default: %v)", def.Imgproxy.Width))},
		"$.imgproxy.format": {yaml.HeadComment(fmt.Sprintf(" thumbnail format (default: %v)", def.Imgproxy.Format))},
		"$.imgproxy.key":    {yaml.HeadComment(" hex signing key, leave key and salt empty for insecure urls (env: PICSEARCH_IMGPROXY_KEY)")},
		"$.imgproxy.salt":   {yaml.HeadComment(" hex signing salt (env: PICSEARCH_IMGPROXY_SALT)")},

		"$.search.similarity_threshold": {yaml.HeadComment(fmt.Sprintf(" minimum similarity (0-1) for results to be included (default: %v)", def.Search.SimilarityThreshold))},
		"$.search.match_count":          {yaml.HeadComment(fmt.Sprintf(" maximum number of search results (default: %v)", def.Search.MatchCount))},

		"$.gallery.page_size": {yaml.HeadComment(fmt.Sprintf(" images listed per gallery request (default: %v)", def.Gallery.PageSize))},

		"$.images.normalize": {yaml.HeadComment(fmt.Sprintf(" re-encode uploads as webp before storing them (default: %v)", def.Images.Normalize))},
		"$.images.quality":   {yaml.HeadComment(fmt.Sprintf(" webp quality (1-100, 100 = lossless; default: %v)", def.Images.Quality))},

		"$.backup.enabled":     {yaml.HeadComment(fmt.Sprintf(" if backups of the local backends should be created (default: %v)", def.Backup.Enabled))},
		"$.backup.directory":   {yaml.HeadComment(fmt.Sprintf(" where backups are written (default: %v)", def.Backup.Directory))},
		"$.backup.interval":    {yaml.HeadComment(fmt.Sprintf(" how often backups should be created (in hours; default: %v)", def.Backup.Interval))},
		"$.backup.keep_amount": {yaml.HeadComment(fmt.Sprintf(" how many backups to keep before deleting the oldest (default: %v)", def.Backup.KeepAmount))},

		"$.ui.suggestions": {yaml.HeadComment(" example prompts shown next to the search box")},
	}

	file, err := OpenFileForWriting(path)
	if err != nil {
		return err
	}

	defer file.Close()

	return yaml.NewEncoder(file, yaml.WithComment(comments)).Encode(c)
}

func isBackend(name string, allowed ...string) bool {
	for _, a := range allowed {
		if name == a {
			return true
		}
	}

	return false
}

func validateURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is empty", field)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is invalid: %w", field, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be an http(s) url, got %q", field, raw)
	}

	if u.Host == "" {
		return fmt.Errorf("%s has no host: %q", field, raw)
	}

	return nil
}

func withSlash(s string) string {
	if strings.HasSuffix(s, "/") {
		return s
	}

	return s + "/"
}
