package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"comic-offline/internal/downloader"
	"comic-offline/internal/storage"
	"comic-offline/pkg/models"

	"github.com/spf13/cobra"
)

type downloadArgs struct {
	collection string
	episode    string
}

func newDownloadCmd(a *app) *cobra.Command {
	var args downloadArgs

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download one episode in the foreground",
		Long: "Download one episode in the foreground. Descriptors are JSON files or http(s) URLs. " +
			"Interrupting stops after the current page; running the command again resumes. " +
			"Do not run it for an episode the server is downloading.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.download(cmd.Context(), cmd.OutOrStdout(), args)
		},
	}

	cmd.Flags().StringVarP(&args.collection, "collection", "c", "", "collection descriptor (file or URL)")
	cmd.Flags().StringVarP(&args.episode, "episode", "e", "", "episode descriptor (file or URL)")
	_ = cmd.MarkFlagRequired("collection")
	_ = cmd.MarkFlagRequired("episode")

	return cmd
}

func (a *app) download(ctx context.Context, out io.Writer, args downloadArgs) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var collection models.CollectionDescriptor
	if err := a.readDescriptor(ctx, args.collection, &collection); err != nil {
		return fmt.Errorf("failed to read collection descriptor: %w", err)
	}
	var episode models.EpisodeDescriptor
	if err := a.readDescriptor(ctx, args.episode, &episode); err != nil {
		return fmt.Errorf("failed to read episode descriptor: %w", err)
	}
	if collection.CollectionID == "" || episode.EpisodeID == "" {
		return fmt.Errorf("collection_id and episode_id are required")
	}

	task := downloader.NewTask(a.fetcher, a.store, collection, episode,
		downloader.WithProgressHandler(func(ev downloader.ProgressEvent) {
			fmt.Fprintf(out, "\r%s: %d/%d pages", episode.EpisodeName, ev.Downloaded, ev.Total)
		}),
	)

	// First interrupt stops cooperatively after the page in flight
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("Received signal, stopping after current page", "signal", sig.String())
			task.Stop()
		case <-done:
		}
	}()

	err := task.Start(ctx)
	fmt.Fprintln(out)
	if err != nil {
		return fmt.Errorf("download failed after %d/%d pages: %w", task.Progress(), task.Total(), err)
	}

	switch task.State() {
	case models.StateStopped:
		fmt.Fprintf(out, "Stopped at %d/%d pages; run the same command to resume\n", task.Progress(), task.Total())
	default:
		fmt.Fprintf(out, "Downloaded %d pages\n", task.Total())
	}
	return nil
}

// readDescriptor decodes a JSON descriptor from a local file or an http(s) URL
func (a *app) readDescriptor(ctx context.Context, source string, v any) error {
	var data []byte
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		text, err := a.fetcher.FetchText(ctx, source)
		if err != nil {
			return err
		}
		data = []byte(text)
	} else {
		content, err := os.ReadFile(source)
		if err != nil {
			return err
		}
		data = content
	}

	return json.Unmarshal(data, v)
}

func newCollectionsCmd(a *app) *cobra.Command {
	var query string

	cmd := &cobra.Command{
		Use:   "collections",
		Short: "List downloaded collections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			collections, err := a.library.Search(query)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tEPISODES\tSOURCE")
			for _, c := range collections {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", c.CollectionID, c.DisplayName, c.EpisodeCount, c.SourceID)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVarP(&query, "query", "q", "", "filter by name")
	return cmd
}

func newEpisodesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "episodes <collection-id>",
		Short: "List downloaded episodes of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			episodes, err := a.library.ListEpisodes(storage.CollectionToken(args[0]))
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tPAGES\tSTATUS")
			for _, e := range episodes {
				status := "partial"
				if e.IsComplete() {
					status = "complete"
				}
				fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\n", e.EpisodeID, e.EpisodeName, e.Downloaded, len(e.Pages), status)
			}
			return tw.Flush()
		},
	}
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <collection-id> [episode-id]",
		Short: "Delete a collection or one of its episodes",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			collection := storage.CollectionToken(args[0])
			if len(args) == 2 {
				if err := a.library.DeleteEpisode(collection, args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted episode %s of collection %s\n", args[1], args[0])
				return nil
			}

			if err := a.library.DeleteCollection(collection); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted collection %s\n", args[0])
			return nil
		},
	}
}

func newPruneCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Remove leftovers of interrupted deletes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := a.library.Prune()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d empty collections, %d orphaned episodes, %d orphaned page directories, %d orphaned posters\n",
				stats.EmptyCollections, stats.OrphanedEpisodes, stats.OrphanedPages, stats.OrphanedPosters)
			return nil
		},
	}
}
