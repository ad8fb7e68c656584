package main

import (
	"errors"
	"time"
)

const SupabaseTimeout = 30 * time.Second

type Backends struct {
	Auth     Authenticator
	Storage  ObjectStore
	Index    ImageIndex
	Embedder Embedder
	Proxy    *Imgproxy

	Database *Database
	Vectors  *VectorStore
	Files    *LocalStorage

	closers []func() error
}

// OpenBackends wires the configured implementations. With service set, the
// supabase data calls use the service key instead of user tokens.
func OpenBackends(cfg *PicConfig, service bool) (*Backends, error) {
	b := &Backends{}

	err := b.open(cfg, service)
	if err != nil {
		b.Close()

		return nil, err
	}

	return b, nil
}

func (b *Backends) open(cfg *PicConfig, service bool) error {
	var err error

	b.Proxy, err = NewImgproxy(cfg.Imgproxy)
	if err != nil {
		return err
	}

	var predictor Embedder = NewPredictor(cfg.Predictor.URL, cfg.PredictorTimeout())

	if cfg.Redis.Addr != "" {
		log.Info("Connecting to redis...")

		cache, err := NewRedisCache(cfg.Redis)
		if err != nil {
			return err
		}

		b.closers = append(b.closers, cache.Close)

		predictor = NewCachedEmbedder(predictor, cache, time.Duration(cfg.Redis.TTL)*time.Hour)
	}

	b.Embedder = predictor

	if cfg.UsesLocal() {
		log.Info("Opening local database...")

		b.Database, err = OpenDatabase(cfg.Local.Database)
		if err != nil {
			return err
		}

		b.closers = append(b.closers, b.Database.Close)
	}

	var anon, data *SupabaseClient

	userTokens := cfg.Backends.Auth == BackendSupabase && !service

	if cfg.UsesSupabase() {
		anon = NewSupabaseClient(cfg.Supabase.URL, cfg.Supabase.Key, SupabaseTimeout)
		data = anon

		remoteData := cfg.Backends.Storage == BackendSupabase || cfg.Backends.Index == BackendSupabase

		if remoteData && !userTokens {
			if cfg.Supabase.ServiceKey == "" {
				return errors.New("supabase.service_key is required for this operation")
			}

			data = NewSupabaseClient(cfg.Supabase.URL, cfg.Supabase.ServiceKey, SupabaseTimeout)
		}
	}

	switch cfg.Backends.Auth {
	case BackendLocal:
		b.Auth = NewLocalAuth(b.Database, time.Duration(cfg.Local.SessionTTL)*time.Hour)
	default:
		b.Auth = NewSupabaseAuth(anon)
	}

	switch cfg.Backends.Storage {
	case BackendLocal:
		b.Files, err = NewLocalStorage(cfg.Local.Storage, cfg.CDNURL())
		if err != nil {
			return err
		}

		b.Storage = b.Files
	default:
		b.Storage = NewSupabaseStorage(data, cfg.Supabase.Bucket, cfg.CDNURL(), userTokens)
	}

	switch cfg.Backends.Index {
	case BackendLocal:
		log.Info("Loading vector store...")

		b.Vectors, err = LoadVectorStore(cfg.Local.Vectors)
		if err != nil {
			return err
		}

		b.Index = NewLocalIndex(b.Database, b.Vectors)
	case BackendQdrant:
		log.Info("Connecting to qdrant...")

		index, err := NewQdrantIndex(cfg.Qdrant)
		if err != nil {
			return err
		}

		b.closers = append(b.closers, index.Close)

		b.Index = index
	default:
		b.Index = NewSupabaseIndex(data, cfg.Supabase.Table, cfg.Supabase.SearchFunction, userTokens)
	}

	return nil
}

func (b *Backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			log.WarningF("Failed to close backend: %v\n", err)
		}
	}

	b.closers = nil
}
