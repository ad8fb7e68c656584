package main

import (
	"context"
	"net/http"
	"net/url"
)

type SupabaseIndex struct {
	client   *SupabaseClient
	table    string
	function string

	userTokens bool
}

type supabaseImageRow struct {
	UserID    string    `json:"user_id"`
	ImageID   string    `json:"image_id"`
	ImageURL  string    `json:"image_url"`
	Embedding []float32 `json:"embedding"`
}

type supabaseSearchRequest struct {
	CurrUser            string    `json:"curr_user"`
	QueryEmb            []float32 `json:"query_emb"`
	SimilarityThreshold float64   `json:"similarity_threshold"`
	MatchCount          int       `json:"match_count"`
}

func NewSupabaseIndex(client *SupabaseClient, table, function string, userTokens bool) *SupabaseIndex {
	return &SupabaseIndex{
		client:     client,
		table:      table,
		function:   function,
		userTokens: userTokens,
	}
}

func (s *SupabaseIndex) Insert(ctx context.Context, user *User, record ImageRecord) error {
	if user == nil || record.UserID != user.ID {
		return ErrForbiddenPath
	}

	header := http.Header{}

	header.Set("Prefer", "return=representation,resolution=merge-duplicates")

	var inserted []supabaseImageRow

	return s.client.Do(ctx, supabaseRequest{
		Service: "database",
		Method:  http.MethodPost,
		Path:    "/rest/v1/" + s.table,
		Query:   url.Values{"on_conflict": {"image_id"}},
		Token:   s.token(user),
		Header:  header,
		Body: []supabaseImageRow{{
			UserID:    record.UserID,
			ImageID:   record.ImageID,
			ImageURL:  record.ImageURL,
			Embedding: record.Embedding,
		}},
	}, &inserted)
}

func (s *SupabaseIndex) Delete(ctx context.Context, user *User, imageID string) error {
	return s.client.Do(ctx, supabaseRequest{
		Service: "database",
		Method:  http.MethodDelete,
		Path:    "/rest/v1/" + s.table,
		Query: url.Values{
			"image_id": {"eq." + imageID},
			"user_id":  {"eq." + user.ID},
		},
		Token: s.token(user),
	}, nil)
}

func (s *SupabaseIndex) Search(ctx context.Context, user *User, query SearchQuery) ([]Match, error) {
	var matches []Match

	err := s.client.Do(ctx, supabaseRequest{
		Service: "database",
		Method:  http.MethodPost,
		Path:    "/rest/v1/rpc/" + s.function,
		Token:   s.token(user),
		Body: supabaseSearchRequest{
			CurrUser:            user.ID,
			QueryEmb:            query.Embedding,
			SimilarityThreshold: query.Threshold,
			MatchCount:          query.Count,
		},
	}, &matches)
	if err != nil {
		return nil, err
	}

	if matches == nil {
		matches = []Match{}
	}

	return matches, nil
}

func (s *SupabaseIndex) Has(ctx context.Context, user *User, imageID string) (bool, error) {
	var rows []struct {
		ImageID string `json:"image_id"`
	}

	err := s.client.Do(ctx, supabaseRequest{
		Service: "database",
		Method:  http.MethodGet,
		Path:    "/rest/v1/" + s.table,
		Query: url.Values{
			"select":   {"image_id"},
			"image_id": {"eq." + imageID},
			"user_id":  {"eq." + user.ID},
		},
		Token: s.token(user),
	}, &rows)
	if err != nil {
		return false, err
	}

	return len(rows) > 0, nil
}

func (s *SupabaseIndex) token(user *User) string {
	if s.userTokens && user != nil {
		return user.Token
	}

	return ""
}
