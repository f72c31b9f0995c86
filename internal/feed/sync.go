package feed

import (
	"context"
	"fmt"
	"log"

	"bus-tracker/internal/route"
	"bus-tracker/internal/transit"
)

// CatalogWriter stores the stop and line catalogue.
type CatalogWriter interface {
	SaveStops(ctx context.Context, stops []transit.Stop) error
	// SaveLineVariant finds or creates both records and reports whether the
	// variant was new.
	SaveLineVariant(ctx context.Context, line transit.Line, v route.Variant) (bool, error)
}

type SyncResult struct {
	Stops       int
	Variants    int
	NewVariants int
}

// SyncCatalog refreshes stops, lines and line variants from the API.
// Variant stop sequences come from the static schedule import and are not
// touched.
func SyncCatalog(ctx context.Context, c *STMClient, dst CatalogWriter) (SyncResult, error) {
	var res SyncResult

	stops, err := c.FetchStops(ctx)
	if err != nil {
		return res, fmt.Errorf("fetch stops: %w", err)
	}
	if err := dst.SaveStops(ctx, stops); err != nil {
		return res, fmt.Errorf("save stops: %w", err)
	}
	res.Stops = len(stops)

	variants, err := c.FetchLineVariants(ctx)
	if err != nil {
		return res, fmt.Errorf("fetch line variants: %w", err)
	}
	for _, r := range variants {
		line := transit.Line{Number: r.Line, ExternalID: string(r.LineID), Name: r.Subline}
		v := route.Variant{
			ID:          string(r.LineVariantID),
			LineNumber:  r.Line,
			Origin:      r.Origin,
			Destination: r.Destination,
			Subline:     r.Subline,
			Special:     r.Special,
		}
		created, err := dst.SaveLineVariant(ctx, line, v)
		if err != nil {
			return res, fmt.Errorf("save variant %s: %w", v.ID, err)
		}
		res.Variants++
		if created {
			res.NewVariants++
		}
	}
	log.Printf("catalog synced: %d stops, %d variants (%d new)", res.Stops, res.Variants, res.NewVariants)
	return res, nil
}
