package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"go-press/internal/content"
	"go-press/internal/data"
	"go-press/internal/database"
)

func cmdMigrate(ctx context.Context, env *Env, _ []string) error {
	applied, err := database.ApplyMigrations(ctx, env.Pool, env.Log)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Fprintln(env.Out, "schema is up to date")
		return nil
	}
	for _, n := range applied {
		fmt.Fprintf(env.Out, "applied step %d\n", n)
	}
	return nil
}

func cmdStatus(ctx context.Context, env *Env, _ []string) error {
	m, err := database.NewEmbeddedMigrator(env.Pool, env.Log)
	if err != nil {
		return err
	}
	statuses, err := m.Status(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(env.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tNAME\tSTATE\tAPPLIED AT")
	for _, s := range statuses {
		at := "-"
		if !s.AppliedAt.IsZero() {
			at = s.AppliedAt.UTC().Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.Number, s.Name, s.State, at)
	}
	return w.Flush()
}

type statsOutput struct {
	Path       string                             `json:"path"`
	Counts     data.Counts                        `json:"counts"`
	Pool       database.Stats                     `json:"pool"`
	Operations map[string]database.OperationStats `json:"operations"`
}

func cmdStats(ctx context.Context, env *Env, _ []string) error {
	counts, err := env.Repo.Counts(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(env.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(statsOutput{
		Path:       env.Pool.Path(),
		Counts:     counts,
		Pool:       env.Pool.Stats(),
		Operations: env.Pool.OperationStats(),
	})
}

func cmdVerify(ctx context.Context, env *Env, _ []string) error {
	drift, err := env.Repo.VerifySearchIndex(ctx)
	if err != nil {
		return err
	}
	if len(drift) == 0 {
		fmt.Fprintln(env.Out, "search index is consistent")
		return nil
	}
	for _, d := range drift {
		fmt.Fprintf(env.Out, "post %d (%s): %s\n", d.PostID, d.Slug, d.Reason)
	}
	return fmt.Errorf("search index has %d inconsistencies; run pressctl reindex", len(drift))
}

func cmdReindex(ctx context.Context, env *Env, _ []string) error {
	n, err := env.Repo.RebuildSearchIndex(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(env.Out, "indexed %d posts\n", n)
	return nil
}

func cmdExport(ctx context.Context, env *Env, args []string) error {
	n, err := content.Export(ctx, env.Repo, args[0], env.Log)
	if err != nil {
		return err
	}
	fmt.Fprintf(env.Out, "exported %d posts to %s\n", n, args[0])
	return nil
}

func cmdImport(ctx context.Context, env *Env, args []string) error {
	result, err := content.Import(ctx, env.Service, args[0], env.Log)
	fmt.Fprintf(env.Out, "created: %s\nskipped: %s\n", joinSlugs(result.Created), joinSlugs(result.Skipped))
	return err
}
