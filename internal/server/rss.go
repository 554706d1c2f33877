package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/feeds"
	"github.com/tkilaker/feedkiln/internal/config"
	"github.com/tkilaker/feedkiln/internal/database"
)

const rssDescriptionChars = 500

// GenerateRSSFeed creates an RSS feed from articles
func GenerateRSSFeed(articles []*database.Article, cfg *config.Config, now time.Time) (string, error) {
	feed := &feeds.Feed{
		Title:       cfg.FeedTitle,
		Link:        &feeds.Link{Href: cfg.FeedLink},
		Description: cfg.FeedDescription,
		Author:      &feeds.Author{Name: cfg.FeedAuthor},
		Created:     now,
	}

	// Convert articles to feed items
	feed.Items = make([]*feeds.Item, 0, len(articles))
	for _, article := range articles {
		item := &feeds.Item{
			Title:   article.Title,
			Link:    &feeds.Link{Href: article.URL},
			Id:      fmt.Sprintf("%s/news/%d", cfg.FeedLink, article.ID),
			Created: article.FetchedAt,
		}

		if article.Summary != nil {
			item.Description = *article.Summary
		} else if article.RawContent != nil {
			description := []rune(*article.RawContent)
			if len(description) > rssDescriptionChars {
				description = append(description[:rssDescriptionChars], []rune("...")...)
			}
			item.Description = string(description)
		}

		if article.Author != nil {
			item.Author = &feeds.Author{Name: *article.Author}
		}

		if article.PublishedAt != nil {
			item.Created = *article.PublishedAt
		}

		feed.Items = append(feed.Items, item)
	}

	// Generate RSS 2.0 format
	rss, err := feed.ToRss()
	if err != nil {
		return "", fmt.Errorf("failed to generate RSS: %w", err)
	}

	return rss, nil
}

// handleRSS serves the articles of the last 30 days as RSS
func (s *Server) handleRSS(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	since := now.AddDate(0, 0, -30)

	articles, err := s.deps.Store.ListArticles(r.Context(), database.ArticleFilter{From: &since, Limit: 50})
	if err != nil {
		internalError(w, r, "Failed to fetch articles", err)
		return
	}

	feed, err := GenerateRSSFeed(articles, s.config, now)
	if err != nil {
		internalError(w, r, "Failed to generate feed", err)
		return
	}

	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	w.Write([]byte(feed))
}
