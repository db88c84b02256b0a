// Package search turns /search/all answers into the grouped result
// sections of the search page.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"cardauction/internal/apiclient"
)

const (
	GroupProfiles   = "Profiles"
	GroupInProgress = "In Progress"
	GroupOther      = "Other"
)

// Field is one labelled value of a hit, in display order.
type Field struct {
	Key   string
	Value string
}

// Hit is a single search result.
type Hit struct {
	Kind      string
	Fields    []Field
	AuctionID int64
	Username  string
	ImageURL  string
}

type Group struct {
	Name string
	Hits []Hit
}

// Result is what the search page renders. Performed is false for a blank
// query, which never reaches the API.
type Result struct {
	Query     string
	Performed bool
	Total     int
	Groups    []Group
}

// Empty reports a performed search with no hits.
func (r *Result) Empty() bool {
	return r.Performed && r.Total == 0
}

type Searcher interface {
	SearchAll(ctx context.Context, query string) (*apiclient.SearchResponse, error)
}

// Run performs a search unless the query is blank.
func Run(ctx context.Context, s Searcher, query string) (*Result, error) {
	query = strings.TrimSpace(query)
	res := &Result{Query: query}
	if query == "" {
		return res, nil
	}
	res.Performed = true

	resp, err := s.SearchAll(ctx, query)
	if err != nil {
		return res, err
	}
	groups, err := Categorize(resp.Results)
	if err != nil {
		return res, err
	}
	res.Groups = groups
	for _, g := range groups {
		res.Total += len(g.Hits)
	}
	return res, nil
}

// Categorize groups raw results. A flat list is split into profiles and
// card auctions keyed by their auction status tag; a table-keyed object
// keeps one group per table.
func Categorize(raw json.RawMessage) ([]Group, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}

	if strings.HasPrefix(trimmed, "{") {
		var tables map[string][]map[string]any
		if err := json.Unmarshal(raw, &tables); err != nil {
			return nil, fmt.Errorf("decode table results: %w", err)
		}
		return byTable(tables), nil
	}

	var items []map[string]any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode results: %w", err)
	}
	return byStatus(items), nil
}

func byStatus(items []map[string]any) []Group {
	buckets := map[string][]Hit{}
	for _, item := range items {
		kind, _ := item["result_type"].(string)
		switch kind {
		case "Profile":
			buckets[GroupProfiles] = append(buckets[GroupProfiles], profileHit(item))
		case "CardAuction":
			card, _ := item["card"].(map[string]any)
			auc, _ := item["auction"].(map[string]any)
			status := strings.TrimSpace(str(auc["Status"]))
			if status == "" {
				status = GroupOther
			}
			buckets[status] = append(buckets[status], cardAuctionHit(card, auc))
		default:
			buckets[GroupOther] = append(buckets[GroupOther], genericHit(kind, item))
		}
	}

	names := make([]string, 0, len(buckets))
	for name := range buckets {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		ri, rj := rank(names[i]), rank(names[j])
		if ri != rj {
			return ri < rj
		}
		return names[i] < names[j]
	})

	groups := make([]Group, 0, len(names))
	for _, name := range names {
		groups = append(groups, Group{Name: name, Hits: buckets[name]})
	}
	return groups
}

func rank(name string) int {
	switch name {
	case GroupProfiles:
		return 0
	case GroupInProgress:
		return 1
	case GroupOther:
		return 3
	}
	return 2
}

func byTable(tables map[string][]map[string]any) []Group {
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)

	var groups []Group
	for _, name := range names {
		rows := tables[name]
		if len(rows) == 0 {
			continue
		}
		g := Group{Name: name}
		for _, row := range rows {
			g.Hits = append(g.Hits, genericHit(name, row))
		}
		groups = append(groups, g)
	}
	return groups
}

func profileHit(item map[string]any) Hit {
	h := Hit{Kind: "Profile", Username: str(item["Username"])}
	for _, k := range []string{"Username", "Email", "NumberOfRating", "CurrentRating"} {
		if v, ok := item[k]; ok {
			h.Fields = append(h.Fields, Field{Key: k, Value: str(v)})
		}
	}
	return h
}

func cardAuctionHit(card, auc map[string]any) Hit {
	h := Hit{Kind: "CardAuction", ImageURL: str(card["ImageURL"])}
	if id, ok := auc["AuctionID"].(float64); ok {
		h.AuctionID = int64(id)
	}
	for _, k := range []string{"CardName", "CardQuality"} {
		if v, ok := card[k]; ok {
			h.Fields = append(h.Fields, Field{Key: k, Value: str(v)})
		}
	}
	for _, k := range []string{"Status", "HighestBid", "EndTime"} {
		if v, ok := auc[k]; ok {
			h.Fields = append(h.Fields, Field{Key: k, Value: str(v)})
		}
	}
	return h
}

// genericHit shows every property except internal markers, sorted by key.
func genericHit(kind string, item map[string]any) Hit {
	h := Hit{Kind: kind, Username: str(item["Username"]), ImageURL: str(item["ImageURL"])}
	if id, ok := item["AuctionID"].(float64); ok {
		h.AuctionID = int64(id)
	}
	keys := make([]string, 0, len(item))
	for k := range item {
		if k == "_table" || k == "result_type" || k == "id" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Fields = append(h.Fields, Field{Key: k, Value: str(item[k])})
	}
	return h
}

func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	b, _ := json.Marshal(v)
	return string(b)
}
