package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"metismedia/internal/app/bootstrap"
	"metismedia/internal/contracts"
	"metismedia/internal/providers"
	"metismedia/internal/store"
)

// Pipeline demo driver.
// Data flow:
// 1) Build app wiring (db, redis, in-process worker).
// 2) Seed a demo influencer fleet and a finalized campaign brief.
// 3) Start a run, consume the event stream, await the dossier.
func main() {
	app, err := bootstrap.BuildPipeline()
	if err != nil {
		log.Fatalf("bootstrap pipeline failed: %v", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Printf("pipeline shutdown close failed: %v", err)
		}
	}()

	ctx := context.Background()
	tenantID := uuid.New()
	brief, err := seedDemoFleet(ctx, app, tenantID)
	if err != nil {
		log.Fatalf("seed demo fleet failed: %v", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return app.Worker.Run(gctx)
	})

	runID, err := app.Orchestrator.StartRun(ctx, tenantID, brief)
	if err != nil {
		log.Fatalf("start run failed: %v", err)
	}
	dossier, err := app.Orchestrator.AwaitCompletion(ctx, tenantID, runID, 60*time.Second)
	if err != nil {
		log.Fatalf("await completion failed: %v", err)
	}

	app.Worker.Stop()
	cancel()
	_ = g.Wait()

	out, err := json.MarshalIndent(dossier, "", "  ")
	if err != nil {
		log.Fatalf("encode dossier failed: %v", err)
	}
	fmt.Println(string(out))
}

const demoCampaignText = "Sustainable home goods brand seeking creators who cover " +
	"low-waste living, repairable products, and everyday environmentalism."

// seedDemoFleet writes a campaign query embedding and twenty fresh, aligned
// influencers, then returns the finalized brief pointing at them.
func seedDemoFleet(ctx context.Context, app *bootstrap.PipelineApp, tenantID uuid.UUID) (contracts.CampaignBrief, error) {
	vectors, err := app.Embedder.Embed(ctx, []string{demoCampaignText})
	if err != nil {
		return contracts.CampaignBrief{}, err
	}
	campaignVec := vectors[0]

	var queryEmbeddingID uuid.UUID
	now := time.Now().UTC()
	err = app.Sessions.WithTx(ctx, func(txCtx context.Context, s store.Stores) error {
		queryEmbeddingID, err = s.Embeddings.Create(txCtx, store.Embedding{
			TenantID: tenantID,
			Kind:     store.EmbeddingCampaign,
			Model:    app.Embedder.Model(),
			Vector:   campaignVec,
		})
		if err != nil {
			return err
		}

		for i := 0; i < 20; i++ {
			bioEmbeddingID, err := s.Embeddings.Create(txCtx, store.Embedding{
				TenantID: tenantID,
				Kind:     store.EmbeddingBio,
				Model:    app.Embedder.Model(),
				Vector:   campaignVec,
			})
			if err != nil {
				return err
			}

			url := fmt.Sprintf("https://example.com/creator-%02d", i)
			platform := "substack"
			polarity := 5
			bio := demoCampaignText
			scraped := now.Add(-time.Duration(i) * time.Hour)
			_, err = s.Influencers.Create(txCtx, store.Influencer{
				TenantID:       tenantID,
				CanonicalName:  fmt.Sprintf("Demo Creator %02d", i),
				PrimaryURL:     &url,
				Platform:       &platform,
				PolarityScore:  &polarity,
				BioEmbeddingID: &bioEmbeddingID,
				BioText:        &bio,
				LastScrapedAt:  &scraped,
			})
			if err != nil {
				return err
			}
			app.Pulse.SetSummaries(url, []providers.RecentSummary{
				{Text: demoCampaignText, URL: url, OccurredAt: now},
			})
		}
		return nil
	})
	if err != nil {
		return contracts.CampaignBrief{}, err
	}

	return contracts.CampaignBrief{
		CampaignID:     uuid.New(),
		TenantID:       tenantID,
		TraceID:        uuid.New(),
		Name:           "Everyday Environmentalism Launch",
		Description:    demoCampaignText,
		PolarityIntent: contracts.PolarityAllies,
		CommercialMode: contracts.CommercialEarned,
		SlotValues: map[string]any{
			"query_embedding_id": queryEmbeddingID.String(),
			"platform_vector":    []string{"substack", "newsletter"},
		},
		Finalized: true,
	}, nil
}
