package main

import (
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/ragchat/internal/queue/streams"
	"github.com/mohammad-safakhou/ragchat/internal/reindex"
)

// emitCMD publishes article events by hand, for backfills and debugging.
func emitCMD(load configLoader) *cobra.Command {
	var (
		articleID int64
		title     string
		file      string
	)
	emit := &cobra.Command{
		Use:       "emit {updated|deleted}",
		Short:     "Publish an article event to the reindex streams",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"updated", "deleted"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if articleID <= 0 {
				return fmt.Errorf("--id is required")
			}
			rdb := redis.NewClient(&redis.Options{Addr: cfg.Storage.Redis.Addr(), Password: cfg.Storage.Redis.Password, DB: cfg.Storage.Redis.DB})
			defer func() { _ = rdb.Close() }()

			registry := streams.NewSchemaRegistry()
			if err := streams.RegisterBaseSchemas(registry); err != nil {
				return err
			}
			pub := streams.NewPublisher(rdb, registry)

			var (
				stream, eventType string
				payload           interface{}
			)
			switch args[0] {
			case "updated":
				content, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("read --file: %w", err)
				}
				stream, eventType = cfg.Reindex.UpdatedStream, streams.EventArticleUpdated
				payload = reindex.ArticleUpdated{ArticleID: articleID, Title: title, Content: string(content)}
			case "deleted":
				stream, eventType = cfg.Reindex.DeletedStream, streams.EventArticleDeleted
				payload = reindex.ArticleDeleted{ArticleID: articleID}
			}
			id, err := pub.PublishRaw(cmd.Context(), stream, eventType, streams.PayloadV1, payload)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %s to %s as %s\n", eventType, stream, id)
			return nil
		},
	}
	emit.Flags().Int64Var(&articleID, "id", 0, "article id")
	emit.Flags().StringVar(&title, "title", "", "article title (updated only)")
	emit.Flags().StringVar(&file, "file", "", "file holding the article content (updated only)")
	return emit
}
