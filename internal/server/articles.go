package server

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/ragchat/internal/chat"
	"github.com/mohammad-safakhou/ragchat/internal/helpers"
	"github.com/mohammad-safakhou/ragchat/internal/reindex"
)

const importFetchTimeout = 20 * time.Second

type ArticlesHandler struct {
	articles ArticleIndexer
}

func (h *ArticlesHandler) Register(g *echo.Group) {
	g.POST("", h.upload)
	g.POST("/import", h.importHTML)
	g.DELETE("/:id", h.remove)
}

type uploadRequest struct {
	ArticleID int64  `json:"articleId"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	// Format is "text" (default) or "html"; html content is reduced to plain text.
	Format string `json:"format"`
}

type importRequest struct {
	ArticleID int64  `json:"articleId"`
	URL       string `json:"url"`
	HTML      string `json:"html"`
	Title     string `json:"title"`
}

type indexResponse struct {
	ArticleID int64  `json:"articleId"`
	Title     string `json:"title"`
	Segments  int    `json:"segments"`
}

type removeResponse struct {
	ArticleID int64 `json:"articleId"`
	Removed   int64 `json:"removed"`
}

func (h *ArticlesHandler) upload(c echo.Context) error {
	var req uploadRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("%w: %v", chat.ErrValidation, err)
	}
	if req.ArticleID <= 0 {
		return fmt.Errorf("%w: articleId is required", chat.ErrValidation)
	}
	content := req.Content
	switch strings.ToLower(req.Format) {
	case "", "text":
	case "html":
		content = helpers.PlainText(content)
	default:
		return fmt.Errorf("%w: unknown format %q", chat.ErrValidation, req.Format)
	}
	n, err := h.articles.Reindex(c.Request().Context(), reindex.ArticleUpdated{
		ArticleID: req.ArticleID,
		Title:     req.Title,
		Content:   content,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, indexResponse{ArticleID: req.ArticleID, Title: req.Title, Segments: n})
}

// importHTML extracts the readable text of a page, given inline or by URL,
// and indexes it.
func (h *ArticlesHandler) importHTML(c echo.Context) error {
	var req importRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("%w: %v", chat.ErrValidation, err)
	}
	if req.ArticleID <= 0 {
		return fmt.Errorf("%w: articleId is required", chat.ErrValidation)
	}

	var (
		article readability.Article
		err     error
	)
	switch {
	case strings.TrimSpace(req.HTML) != "":
		article, err = readability.FromReader(strings.NewReader(req.HTML), parseURL(req.URL))
	case strings.TrimSpace(req.URL) != "":
		article, err = readability.FromURL(req.URL, importFetchTimeout)
	default:
		return fmt.Errorf("%w: html or url is required", chat.ErrValidation)
	}
	if err != nil {
		return fmt.Errorf("%w: extract article: %v", chat.ErrValidation, err)
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = strings.TrimSpace(article.Title)
	}
	n, err := h.articles.Reindex(c.Request().Context(), reindex.ArticleUpdated{
		ArticleID: req.ArticleID,
		Title:     title,
		Content:   strings.TrimSpace(article.TextContent),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, indexResponse{ArticleID: req.ArticleID, Title: title, Segments: n})
}

func (h *ArticlesHandler) remove(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("%w: invalid article id %q", chat.ErrValidation, c.Param("id"))
	}
	n, err := h.articles.Remove(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, removeResponse{ArticleID: id, Removed: n})
}

func parseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}
